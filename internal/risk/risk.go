// Package risk buckets a churn probability into a discrete risk tier.
package risk

import (
	"fmt"

	"churn-api/internal/common"
)

// Level is a risk tier. The zero value is not a valid tier.
type Level string

const (
	Low    Level = "Low"
	Medium Level = "Medium"
	High   Level = "High"
)

// Classify maps p onto a tier: [0, 0.3) Low, [0.3, 0.7) Medium, [0.7, 1] High.
func Classify(p float64) Level {
	switch {
	case p < common.MediumRiskThreshold:
		return Low
	case p < common.HighRiskThreshold:
		return Medium
	default:
		return High
	}
}

// IsChurn reports the binary decision for p. Exactly 0.5 is not churn.
func IsChurn(p float64) bool {
	return p > common.ChurnThreshold
}

// Prediction returns the 0/1 label for p.
func Prediction(p float64) int {
	if IsChurn(p) {
		return 1
	}
	return 0
}

// ParseLevel reconstructs a Level from its string form.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case Low, Medium, High:
		return Level(s), nil
	default:
		return "", fmt.Errorf("invalid risk level: %q", s)
	}
}

func (l Level) String() string {
	return string(l)
}
