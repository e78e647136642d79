package grounding

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/RichardoC/persona-chat/internal/models"
	"go.uber.org/zap"
)

// Options controls which files are read and how they are tiered.
type Options struct {
	Extensions           []string
	PrimaryMarkers       []string
	SupplementaryMarkers []string
	// Manifest is the name of the optional tier manifest inside the directory.
	Manifest string
}

func DefaultOptions() Options {
	return Options{
		Extensions:           []string{".txt", ".md"},
		PrimaryMarkers:       []string{"2025"},
		SupplementaryMarkers: []string{"2022"},
		Manifest:             "manifest.yaml",
	}
}

// Result is the grounding material aggregated from one directory.
type Result struct {
	Documents     []models.Document
	Primary       string
	Supplementary string
}

// Count returns the number of documents per tier.
func (r *Result) Count() map[models.Tier]int {
	counts := make(map[models.Tier]int)
	for _, doc := range r.Documents {
		counts[doc.Tier]++
	}
	return counts
}

// Load reads every recognized file in dir and splits the bodies into the
// primary and supplementary blobs. A missing directory yields an empty
// result. Files that cannot be read are skipped.
func Load(dir string, opts Options, logger *zap.Logger) (*Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	res := &Result{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warn("grounding directory not found", zap.String("dir", dir))
			return res, nil
		}
		return nil, fmt.Errorf("failed to list grounding directory: %w", err)
	}

	manifest, err := readManifest(dir, opts.Manifest)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)

	var primary, supplementary strings.Builder
	for _, entry := range entries {
		if entry.IsDir() || !hasExtension(entry.Name(), opts.Extensions) {
			continue
		}
		name := entry.Name()

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("skipping unreadable grounding file",
				zap.String("file", name),
				zap.Error(err))
			continue
		}

		tier, ok := manifest[name]
		if ok {
			seen[name] = true
		} else {
			var ambiguous bool
			tier, ambiguous = Classify(name, opts.PrimaryMarkers, opts.SupplementaryMarkers)
			if ambiguous {
				logger.Warn("filename matches several tiers, treating as primary",
					zap.String("file", name))
			}
		}

		doc := models.Document{Filename: name, Tier: tier, Body: string(data)}
		res.Documents = append(res.Documents, doc)

		if tier == models.TierPrimary {
			writeDocument(&primary, doc)
		} else {
			writeDocument(&supplementary, doc)
		}
	}

	for name := range manifest {
		if !seen[name] {
			logger.Warn("manifest entry has no matching file", zap.String("file", name))
		}
	}

	res.Primary = primary.String()
	res.Supplementary = supplementary.String()

	logger.Info("grounding loaded",
		zap.String("dir", dir),
		zap.Int("documents", len(res.Documents)),
		zap.Int("primary_bytes", len(res.Primary)),
		zap.Int("supplementary_bytes", len(res.Supplementary)))
	return res, nil
}

// Classify tiers a file by filename substring. ambiguous is set when the
// name carries both a primary and a supplementary marker; primary wins.
func Classify(name string, primaryMarkers, supplementaryMarkers []string) (tier models.Tier, ambiguous bool) {
	isPrimary := containsAny(name, primaryMarkers)
	isSupplementary := containsAny(name, supplementaryMarkers)
	switch {
	case isPrimary:
		return models.TierPrimary, isSupplementary
	case isSupplementary:
		return models.TierSupplementary, false
	}
	return models.TierUncategorized, false
}

// SourceHeader is the line that precedes each document body in a blob.
func SourceHeader(doc models.Document) string {
	return fmt.Sprintf("--- SOURCE: %s [%s] ---", doc.Filename, doc.Tier.Marker())
}

func writeDocument(sb *strings.Builder, doc models.Document) {
	sb.WriteString(SourceHeader(doc))
	sb.WriteString("\n")
	sb.WriteString(doc.Body)
	sb.WriteString("\n\n")
}

func hasExtension(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
