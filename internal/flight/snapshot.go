package flight

import (
	"encoding/json"
	"time"
)

// Streak describes a run of consecutive rounds in the same category.
type Streak struct {
	Category Category `json:"type"`
	Count    int      `json:"count"`
}

// Distribution counts rounds per category, indexed by Category.
type Distribution [NumCategories]int64

// Total sums every band.
func (d Distribution) Total() int64 {
	var total int64
	for _, v := range d {
		total += v
	}
	return total
}

// Map renders the distribution keyed by wire identifier.
func (d Distribution) Map() map[string]int64 {
	out := make(map[string]int64, NumCategories)
	for i, v := range d {
		out[Category(i).String()] = v
	}
	return out
}

// MarshalJSON encodes the distribution as an object keyed by wire identifier.
func (d Distribution) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Map())
}

// UnmarshalJSON accepts wire identifiers or camelCase aliases as keys.
func (d *Distribution) UnmarshalJSON(data []byte) error {
	var raw map[string]int64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Distribution
	for key, v := range raw {
		c, err := ParseCategory(key)
		if err != nil {
			continue
		}
		out[c] = v
	}
	*d = out
	return nil
}

// HourlyStat is one point of the hourly series.
type HourlyStat struct {
	Hour              int       `json:"hour"`
	Timestamp         time.Time `json:"timestamp"`
	Rounds            int64     `json:"rounds"`
	AverageMultiplier float64   `json:"averageMultiplier"`
	HighestMultiplier float64   `json:"highestMultiplier"`
}

// DailyStat is one point of the daily series.
type DailyStat struct {
	Date              string    `json:"date"`
	Timestamp         time.Time `json:"timestamp"`
	Rounds            int64     `json:"rounds"`
	AverageMultiplier float64   `json:"averageMultiplier"`
	HighestMultiplier float64   `json:"highestMultiplier"`
	EmergencyRate     float64   `json:"emergencyRate"`
	MoonRate          float64   `json:"moonRate"`
}

// Snapshot is a complete point-in-time set of aggregate statistics. A new
// snapshot always replaces the previous one wholesale.
type Snapshot struct {
	TotalRounds       int64        `json:"totalRounds"`
	AverageMultiplier float64      `json:"averageMultiplier"`
	HighestMultiplier float64      `json:"highestMultiplier"`
	LowestMultiplier  float64      `json:"lowestMultiplier"`
	LastHourRounds    int64        `json:"lastHourRounds"`
	Last24HoursRounds int64        `json:"last24HoursRounds"`
	Distribution      Distribution `json:"distribution"`
	CurrentStreak     *Streak      `json:"currentStreak,omitempty"`
	LongestStreak     *Streak      `json:"longestStreak,omitempty"`
	HourlyStats       []HourlyStat `json:"hourlyStats"`
	DailyStats        []DailyStat  `json:"dailyStats"`
	Synthetic         bool         `json:"synthetic"`
	FetchedAt         time.Time    `json:"fetchedAt"`
}
