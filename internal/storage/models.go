package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"pilot-tracker/internal/flight"
)

// FlightRecord is one archived live outcome.
type FlightRecord struct {
	ID         int64
	OutcomeID  string
	RoundLabel string
	Multiplier decimal.Decimal
	Category   string
	ObservedAt time.Time
	CreatedAt  time.Time
}

// NewFlightRecord converts an outcome for archiving.
func NewFlightRecord(o flight.Outcome) FlightRecord {
	return FlightRecord{
		OutcomeID:  o.ID,
		RoundLabel: o.RoundLabel,
		Multiplier: decimal.NewFromFloat(o.Multiplier).Round(2),
		Category:   o.Category().String(),
		ObservedAt: o.Timestamp.UTC(),
	}
}

// Outcome converts the record back into the domain type.
func (r FlightRecord) Outcome() flight.Outcome {
	m, _ := r.Multiplier.Float64()
	return flight.Outcome{
		ID:         r.OutcomeID,
		Multiplier: m,
		Timestamp:  r.ObservedAt,
		RoundLabel: r.RoundLabel,
	}
}

// AlertRecord captures an emitted notification for de-duplication/auditing.
type AlertRecord struct {
	ID         int64
	OutcomeID  string
	Kind       string
	Multiplier decimal.Decimal
	Channels   []string
	CreatedAt  time.Time
}
