package llm

import (
	"context"
	"fmt"
	"strings"
)

// DefaultPreferences lists models fastest and cheapest first.
var DefaultPreferences = []string{
	"gemini-2.5-flash",
	"gemini-2.0-flash",
	"gemini-1.5-flash",
	"gemini-1.5-pro",
	"gemini-pro",
}

// SelectModel picks the first generative model whose name contains the
// earliest matching preference, falling back to any generative model.
func SelectModel(ctx context.Context, p Provider, preferences []string) (string, error) {
	available, err := p.ListModels(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInitialization, err)
	}
	if name, ok := PickModel(available, preferences); ok {
		return name, nil
	}
	return "", ErrNoCompatibleModel
}

// PickModel applies the selection rule of SelectModel to a known listing.
func PickModel(available []ModelInfo, preferences []string) (string, bool) {
	var compatible []string
	for _, m := range available {
		if m.Generative && m.Name != "" {
			compatible = append(compatible, m.Name)
		}
	}

	for _, pref := range preferences {
		for _, name := range compatible {
			if strings.Contains(name, pref) {
				return name, true
			}
		}
	}

	if len(compatible) > 0 {
		return compatible[0], true
	}
	return "", false
}
