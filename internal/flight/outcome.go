package flight

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidMultiplier marks outcomes that must be discarded.
var ErrInvalidMultiplier = errors.New("flight: multiplier must be finite and positive")

// Outcome is one observed round.
type Outcome struct {
	ID         string    `json:"id"`
	Multiplier float64   `json:"multiplier"`
	Timestamp  time.Time `json:"timestamp"`
	RoundLabel string    `json:"roundLabel,omitempty"`
}

// Category classifies the outcome.
func (o Outcome) Category() Category {
	return Classify(o.Multiplier)
}

// Validate rejects NaN, infinite and non-positive multipliers.
func (o Outcome) Validate() error {
	return ValidateMultiplier(o.Multiplier)
}

// ValidateMultiplier reports whether m can be stored.
func ValidateMultiplier(m float64) error {
	if math.IsNaN(m) || math.IsInf(m, 0) || m <= 0 {
		return ErrInvalidMultiplier
	}
	return nil
}
