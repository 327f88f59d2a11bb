package model

import "fmt"

// Tier represents the lifetime bucket of a memory record.
type Tier string

const (
	TierShortTerm Tier = "short_term"
	TierMidTerm   Tier = "mid_term"
	TierLongTerm  Tier = "long_term"
)

// Tiers lists all tiers in lifecycle order.
func Tiers() []Tier {
	return []Tier{TierShortTerm, TierMidTerm, TierLongTerm}
}

// Rank returns the position of the tier in the lifecycle order.
// Records may only move to a tier with a higher rank.
func (t Tier) Rank() int {
	switch t {
	case TierShortTerm:
		return 1
	case TierMidTerm:
		return 2
	case TierLongTerm:
		return 3
	default:
		return 0
	}
}

// Valid returns true if the tier is one of the known lifecycle tiers.
func (t Tier) Valid() bool {
	return t.Rank() > 0
}

// Below returns the tiers with a strictly lower rank than t.
func (t Tier) Below() []Tier {
	var below []Tier
	for _, candidate := range Tiers() {
		if candidate.Rank() < t.Rank() {
			below = append(below, candidate)
		}
	}
	return below
}

// ParseTier converts a string into a Tier.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q; valid: %v", s, Tiers())
	}
	return t, nil
}
