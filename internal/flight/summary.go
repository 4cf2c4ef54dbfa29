package flight

import (
	"slices"

	"gonum.org/v1/gonum/stat"
)

// Summary holds statistics derived from a History Buffer snapshot.
type Summary struct {
	Count             int          `json:"count"`
	AverageMultiplier float64      `json:"averageMultiplier"`
	MedianMultiplier  float64      `json:"medianMultiplier"`
	StdDev            float64      `json:"stdDev"`
	HighestMultiplier float64      `json:"highestMultiplier"`
	LowestMultiplier  float64      `json:"lowestMultiplier"`
	EmergencyRate     float64      `json:"emergencyRate"`
	MoonRate          float64      `json:"moonRate"`
	Distribution      Distribution `json:"distribution"`
	CurrentStreak     *Streak      `json:"currentStreak,omitempty"`
}

// Summarize computes the derived statistics for outcomes (newest first). Rates
// are percentages in [0, 100].
func Summarize(outcomes []Outcome) Summary {
	if len(outcomes) == 0 {
		return Summary{}
	}

	values := make([]float64, len(outcomes))
	var dist Distribution
	for i, o := range outcomes {
		values[i] = o.Multiplier
		dist[o.Category()]++
	}

	sum := Summary{
		Count:             len(outcomes),
		HighestMultiplier: slices.Max(values),
		LowestMultiplier:  slices.Min(values),
		Distribution:      dist,
		CurrentStreak:     headStreak(outcomes),
	}
	sum.AverageMultiplier, sum.StdDev = stat.MeanStdDev(values, nil)
	if len(values) < 2 {
		sum.StdDev = 0
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)
	sum.MedianMultiplier = stat.Quantile(0.5, stat.Empirical, sorted, nil)

	total := float64(len(outcomes))
	sum.EmergencyRate = float64(dist[Emergency]) / total * 100
	sum.MoonRate = float64(dist[Moon]) / total * 100
	return sum
}

func headStreak(outcomes []Outcome) *Streak {
	head := outcomes[0].Category()
	count := 1
	for _, o := range outcomes[1:] {
		if o.Category() != head {
			break
		}
		count++
	}
	return &Streak{Category: head, Count: count}
}
