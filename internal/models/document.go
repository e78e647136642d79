package models

import (
	"fmt"
	"strings"
)

// Tier ranks a grounding document when sources disagree.
type Tier string

const (
	TierPrimary       Tier = "primary"
	TierSupplementary Tier = "supplementary"
	TierUncategorized Tier = "uncategorized"
)

// Marker is the tag written next to the filename in the source header.
func (t Tier) Marker() string {
	return strings.ToUpper(string(t))
}

func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierPrimary:
		return TierPrimary, nil
	case TierSupplementary:
		return TierSupplementary, nil
	case TierUncategorized, "":
		return TierUncategorized, nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

type Document struct {
	Filename string `json:"filename"`
	Tier     Tier   `json:"tier"`
	Body     string `json:"-"`
}
