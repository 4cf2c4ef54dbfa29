package stats

import (
	"encoding/json"
	"testing"
	"time"

	"pilot-tracker/internal/flight"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func decode(t *testing.T, body string) map[string]any {
	t.Helper()
	var raw map[string]any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return raw
}

func TestNormalizeSnakeCaseOnly(t *testing.T) {
	snap := Normalize(decode(t, `{
		"total_rounds": 4200,
		"average_multiplier": "2.31",
		"highest_multiplier": 812.5,
		"lowest_multiplier": 1.01,
		"last_hour_rounds": 180,
		"last_24_hours_rounds": 3900,
		"current_streak": {"type": "around_world", "count": 2},
		"hourly_stats": [{"hour": 11, "rounds": 150, "avgMultiplier": 2.2, "timestamp": "2025-03-01T11:00:00Z"}],
		"daily_stats": [{"timestamp": "2025-02-28T00:00:00Z", "rounds": 3100, "moon_rate": 0.02}]
	}`), fixedNow)

	if snap.TotalRounds != 4200 {
		t.Fatalf("期望 totalRounds 4200, 实际 %d", snap.TotalRounds)
	}
	if snap.AverageMultiplier != 2.31 || snap.HighestMultiplier != 812.5 || snap.LowestMultiplier != 1.01 {
		t.Fatalf("unexpected multipliers %+v", snap)
	}
	if snap.LastHourRounds != 180 || snap.Last24HoursRounds != 3900 {
		t.Fatalf("unexpected window counts %+v", snap)
	}
	if snap.CurrentStreak == nil || snap.CurrentStreak.Category != flight.AroundWorld || snap.CurrentStreak.Count != 2 {
		t.Fatalf("unexpected streak %+v", snap.CurrentStreak)
	}
	if snap.LongestStreak != nil {
		t.Fatal("absent streak should stay nil")
	}
	if len(snap.HourlyStats) != 1 || snap.HourlyStats[0].AverageMultiplier != 2.2 || snap.HourlyStats[0].Hour != 11 {
		t.Fatalf("unexpected hourly %+v", snap.HourlyStats)
	}
	if len(snap.DailyStats) != 1 || snap.DailyStats[0].Date != "2025-02-28" || snap.DailyStats[0].MoonRate != 0.02 {
		t.Fatalf("unexpected daily %+v", snap.DailyStats)
	}
	if snap.Synthetic || !snap.FetchedAt.Equal(fixedNow) {
		t.Fatalf("unexpected metadata %+v", snap)
	}
}

func TestNormalizeCamelCaseWins(t *testing.T) {
	snap := Normalize(decode(t, `{"totalRounds": 10, "total_rounds": 20, "totalFlights": 30, "avgMultiplier": 3, "average_multiplier": 2}`), fixedNow)
	if snap.TotalRounds != 10 {
		t.Fatalf("camelCase 应优先, 实际 %d", snap.TotalRounds)
	}
	if snap.AverageMultiplier != 2 {
		t.Fatalf("snake_case precedes the alternate name, got %v", snap.AverageMultiplier)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	snap := Normalize(decode(t, `{"totalFlights": 5, "lowestMultiplier": 0}`), fixedNow)
	if snap.TotalRounds != 5 {
		t.Fatalf("alternate name should resolve, got %d", snap.TotalRounds)
	}
	if snap.LowestMultiplier != 1 {
		t.Fatalf("lowest multiplier should default to 1, got %v", snap.LowestMultiplier)
	}
	if snap.HourlyStats == nil || snap.DailyStats == nil {
		t.Fatal("series should be empty, not nil")
	}
}

func TestNormalizeDistribution(t *testing.T) {
	nested := Normalize(decode(t, `{
		"distribution": {"emergency": 25, "short": 20, "aroundWorld": 4, "moon": 2},
		"moonCount": 99
	}`), fixedNow)
	if nested.Distribution[flight.AroundWorld] != 4 || nested.Distribution[flight.Moon] != 2 {
		t.Fatalf("nested distribution not honoured: %v", nested.Distribution)
	}

	flat := Normalize(decode(t, `{"emergencyCount": 7, "aroundWorldCount": "3", "moonCount": 1}`), fixedNow)
	want := flight.Distribution{7, 0, 0, 0, 0, 3, 1}
	if flat.Distribution != want {
		t.Fatalf("flat distribution = %v, want %v", flat.Distribution, want)
	}
}
