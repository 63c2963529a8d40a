package domain

import (
	"fmt"
	"strings"
)

// RiskLevel classifies how likely enabling a domain is to be noticed by
// anti-automation code running in the page. Levels are totally ordered.
type RiskLevel int

const (
	RiskSafe RiskLevel = iota
	RiskLow
	RiskMedium
	RiskHigh
	RiskVeryHigh
)

var riskNames = [...]string{"SAFE", "LOW", "MEDIUM", "HIGH", "VERY_HIGH"}

func (r RiskLevel) String() string {
	if r < RiskSafe || r > RiskVeryHigh {
		return fmt.Sprintf("RiskLevel(%d)", int(r))
	}
	return riskNames[r]
}

// AtMost reports whether r is at or below max.
func (r RiskLevel) AtMost(max RiskLevel) bool { return r <= max }

// ParseRiskLevel accepts the level names case-insensitively ("medium", "VERY_HIGH", "very-high").
func ParseRiskLevel(s string) (RiskLevel, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for i, n := range riskNames {
		if n == norm {
			return RiskLevel(i), nil
		}
	}
	return RiskSafe, fmt.Errorf("unknown risk level %q", s)
}

func (r RiskLevel) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *RiskLevel) UnmarshalText(b []byte) error {
	v, err := ParseRiskLevel(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}
