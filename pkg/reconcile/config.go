package reconcile

import (
	"fmt"
	"time"
)

// LegacyMode controls the PTv1 tags public_transport and bus.
type LegacyMode int

const (
	// LegacyOff neither compares nor writes the legacy tags.
	LegacyOff LegacyMode = iota
	// LegacyOn compares the legacy tags and writes them on every edit.
	LegacyOn
	// LegacyModify writes the legacy tags on edits without letting a
	// difference trigger one.
	LegacyModify
)

func (m LegacyMode) String() string {
	switch m {
	case LegacyOn:
		return "on"
	case LegacyModify:
		return "modify"
	default:
		return "off"
	}
}

// ParseLegacyMode parses "off", "on" or "modify". Empty means off.
func ParseLegacyMode(s string) (LegacyMode, error) {
	switch s {
	case "", "off":
		return LegacyOff, nil
	case "on":
		return LegacyOn, nil
	case "modify":
		return LegacyModify, nil
	default:
		return LegacyOff, fmt.Errorf("unknown legacy mode %q", s)
	}
}

// Config holds the reconciliation policy.
type Config struct {
	// TrustedEditors may have their edits overwritten without review.
	TrustedEditors []string
	// Threshold is the distance in meters at which a stop counts as moved.
	Threshold float64
	// StationMargin and QuayMargin are added to Threshold when only the
	// center of a way or relation is known.
	StationMargin float64
	QuayMargin    float64
	Legacy        LegacyMode
	// ExcludedRegions are region codes neither fetched nor created in.
	ExcludedRegions []string
	// ExcludedQuays are never created, typically quays just across the border.
	ExcludedQuays []string
	// RetentionDays keeps quays without scheduled trips for this long after
	// they were last used.
	RetentionDays int
	// Parallel bounds concurrent region fetches.
	Parallel int
	// Today dates annotations and usage history. Zero means time.Now().
	Today time.Time
}

// DefaultConfig returns the standard policy.
func DefaultConfig() Config {
	return Config{
		TrustedEditors: []string{"nsr2osm"},
		Threshold:      1.0,
		StationMargin:  100,
		QuayMargin:     20,
		RetentionDays:  365,
		Parallel:       1,
	}
}

func (c Config) today() time.Time {
	if c.Today.IsZero() {
		return time.Now().UTC()
	}
	return c.Today.UTC()
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
