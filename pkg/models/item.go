package models

import (
	"fmt"
	"strings"
)

// PracticeItem is one clip with its correct answer and canonical offsets.
// Offsets are in seconds.
type PracticeItem struct {
	ID          string  `json:"id" yaml:"id"`
	Answer      string  `json:"answer" yaml:"answer"`
	Start       float64 `json:"start" yaml:"start"`
	Stop        float64 `json:"stop" yaml:"stop"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
}

// Validate checks that the item can be played and scored
func (i PracticeItem) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("item id is required")
	}
	if strings.TrimSpace(i.Answer) == "" {
		return fmt.Errorf("item %s: answer is required", i.ID)
	}
	if i.Start < 0 {
		return fmt.Errorf("item %s: start offset %.2f is negative", i.ID, i.Start)
	}
	if i.Stop <= i.Start {
		return fmt.Errorf("item %s: stop offset %.2f must be after start %.2f", i.ID, i.Stop, i.Start)
	}
	return nil
}

// Matches reports whether candidate is the correct answer for the item.
// Comparison ignores case and surrounding whitespace.
func (i PracticeItem) Matches(candidate string) bool {
	return strings.EqualFold(strings.TrimSpace(candidate), strings.TrimSpace(i.Answer))
}

// ClampStop returns the stop offset bounded by a known media duration.
// A non-positive duration means unknown and leaves the stop unchanged.
func ClampStop(stop, duration float64) float64 {
	if duration > 0 && stop > duration {
		return duration
	}
	return stop
}

// Catalog is the full set of items a session draws from
type Catalog []PracticeItem

// Validate checks every item and rejects duplicate identifiers
func (c Catalog) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("catalog is empty")
	}
	seen := make(map[string]bool, len(c))
	for _, item := range c {
		if err := item.Validate(); err != nil {
			return err
		}
		if seen[item.ID] {
			return fmt.Errorf("duplicate item id: %s", item.ID)
		}
		seen[item.ID] = true
	}
	return nil
}

// Lookup finds an item by identifier
func (c Catalog) Lookup(id string) (PracticeItem, bool) {
	for _, item := range c {
		if item.ID == id {
			return item, true
		}
	}
	return PracticeItem{}, false
}

// IDs returns the item identifiers in catalog order
func (c Catalog) IDs() []string {
	ids := make([]string, len(c))
	for i, item := range c {
		ids[i] = item.ID
	}
	return ids
}

// Answers is the answer vocabulary offered to learners.
var Answers = []string{
	"Line",
	"Angle",
	"Cut",
	"Short",
	"Jumbo",
	"Hit",
	"Set Over",
	"Jump Set",
}

// DefaultCatalog returns the built-in clip set.
func DefaultCatalog() Catalog {
	return Catalog{
		{ID: "OoqS1pvUQbY", Answer: "Line", Start: 2.0, Stop: 3.35, Description: "Santa Monica Beach Volleyball Short"},
		{ID: "25p9Pjv49rg", Answer: "Line", Start: 4.0, Stop: 5.35, Description: "Santa Monica Beach Volleyball Short"},
		{ID: "j39vexlVjQHF08F5", Answer: "Line", Start: 1.0, Stop: 2.35, Description: "Santa Monica Beach Volleyball Short"},
	}
}

// Level selects the session difficulty
type Level string

const (
	LevelStandard Level = "standard"
	LevelAdvanced Level = "advanced" // blackout at the canonical stop
)

// ParseLevel converts a level name into a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard", "normal", "basic":
		return LevelStandard, nil
	case "advanced", "blackout":
		return LevelAdvanced, nil
	default:
		return "", fmt.Errorf("unknown level: %s", s)
	}
}

// Blackout reports whether the level hides the surface at the canonical stop
func (l Level) Blackout() bool {
	return l == LevelAdvanced
}
