package grounding

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/RichardoC/persona-chat/internal/models"
	"gopkg.in/yaml.v3"
)

// manifestFile lists explicit tiers. Files it names skip the filename
// convention entirely.
//
//	files:
//	  - name: resume.txt
//	    tier: primary
type manifestFile struct {
	Files []struct {
		Name string `yaml:"name"`
		Tier string `yaml:"tier"`
	} `yaml:"files"`
}

func readManifest(dir, name string) (map[string]models.Tier, error) {
	tiers := make(map[string]models.Tier)
	if name == "" {
		return tiers, nil
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return tiers, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var mf manifestFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", name, err)
	}
	for _, f := range mf.Files {
		if f.Name == "" {
			return nil, fmt.Errorf("manifest %s: entry without name", name)
		}
		tier, err := models.ParseTier(f.Tier)
		if err != nil {
			return nil, fmt.Errorf("manifest %s: %s: %w", name, f.Name, err)
		}
		tiers[f.Name] = tier
	}
	return tiers, nil
}
