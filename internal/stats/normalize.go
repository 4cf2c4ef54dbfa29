package stats

import (
	"time"

	"pilot-tracker/internal/alias"
	"pilot-tracker/internal/flight"
)

var (
	totalField      = alias.Field{"totalRounds", "total_rounds", "totalFlights"}
	averageField    = alias.Field{"averageMultiplier", "average_multiplier", "avgMultiplier"}
	highestField    = alias.Field{"highestMultiplier", "highest_multiplier", "maxMultiplier"}
	lowestField     = alias.Field{"lowestMultiplier", "lowest_multiplier", "minMultiplier"}
	lastHourField   = alias.Field{"lastHourRounds", "last_hour_rounds"}
	lastDayField    = alias.Field{"last24HoursRounds", "last_24_hours_rounds"}
	distField       = alias.Field{"distribution"}
	currentField    = alias.Field{"currentStreak", "current_streak"}
	longestField    = alias.Field{"longestStreak", "longest_streak"}
	hourlyField     = alias.Field{"hourlyStats", "hourly_stats"}
	dailyField      = alias.Field{"dailyStats", "daily_stats"}
	streakTypeField = alias.Field{"type", "category"}
	countField      = alias.Field{"count"}

	pointTimeField     = alias.Field{"timestamp", "time"}
	pointHourField     = alias.Field{"hour"}
	pointDateField     = alias.Field{"date"}
	pointRoundsField   = alias.Field{"rounds", "totalRounds", "total_rounds"}
	pointAverageField  = alias.Field{"averageMultiplier", "average_multiplier", "avgMultiplier"}
	pointHighestField  = alias.Field{"highestMultiplier", "highest_multiplier", "maxMultiplier"}
	pointEmergencyRate = alias.Field{"emergencyRate", "emergency_rate"}
	pointMoonRate      = alias.Field{"moonRate", "moon_rate"}
)

// Normalize maps one upstream stats payload onto the canonical snapshot.
// Missing fields take zero values; the lowest multiplier defaults to 1.
func Normalize(raw map[string]any, fetchedAt time.Time) flight.Snapshot {
	snap := flight.Snapshot{
		LowestMultiplier: 1,
		FetchedAt:        fetchedAt,
		HourlyStats:      []flight.HourlyStat{},
		DailyStats:       []flight.DailyStat{},
	}

	snap.TotalRounds, _ = alias.Int(raw, totalField)
	snap.AverageMultiplier, _ = alias.Float(raw, averageField)
	snap.HighestMultiplier, _ = alias.Float(raw, highestField)
	if v, ok := alias.Float(raw, lowestField); ok {
		snap.LowestMultiplier = v
	}
	snap.LastHourRounds, _ = alias.Int(raw, lastHourField)
	snap.Last24HoursRounds, _ = alias.Int(raw, lastDayField)
	snap.Distribution = normalizeDistribution(raw)
	snap.CurrentStreak = normalizeStreak(raw, currentField)
	snap.LongestStreak = normalizeStreak(raw, longestField)

	if items, ok := alias.Slice(raw, hourlyField); ok {
		for _, item := range items {
			if obj, ok := item.(map[string]any); ok {
				snap.HourlyStats = append(snap.HourlyStats, normalizeHourly(obj))
			}
		}
	}
	if items, ok := alias.Slice(raw, dailyField); ok {
		for _, item := range items {
			if obj, ok := item.(map[string]any); ok {
				snap.DailyStats = append(snap.DailyStats, normalizeDaily(obj))
			}
		}
	}
	return snap
}

// normalizeDistribution prefers a nested object; without one it reads the
// flat <category>Count fields.
func normalizeDistribution(raw map[string]any) flight.Distribution {
	var dist flight.Distribution
	if nested, ok := alias.Object(raw, distField); ok {
		for _, c := range flight.Categories() {
			if v, ok := alias.Int(nested, alias.Field{c.Alias(), c.String()}); ok {
				dist[c] = v
			}
		}
		return dist
	}
	for _, c := range flight.Categories() {
		if v, ok := alias.Int(raw, alias.Field{c.Alias() + "Count", c.String() + "_count"}); ok {
			dist[c] = v
		}
	}
	return dist
}

func normalizeStreak(raw map[string]any, f alias.Field) *flight.Streak {
	obj, ok := alias.Object(raw, f)
	if !ok {
		return nil
	}
	name, ok := alias.String(obj, streakTypeField)
	if !ok {
		return nil
	}
	c, err := flight.ParseCategory(name)
	if err != nil {
		return nil
	}
	count, _ := alias.Int(obj, countField)
	return &flight.Streak{Category: c, Count: int(count)}
}

func normalizeHourly(obj map[string]any) flight.HourlyStat {
	p := flight.HourlyStat{}
	hour, _ := alias.Int(obj, pointHourField)
	p.Hour = int(hour)
	p.Timestamp = pointTime(obj)
	p.Rounds, _ = alias.Int(obj, pointRoundsField)
	p.AverageMultiplier, _ = alias.Float(obj, pointAverageField)
	p.HighestMultiplier, _ = alias.Float(obj, pointHighestField)
	return p
}

func normalizeDaily(obj map[string]any) flight.DailyStat {
	p := flight.DailyStat{}
	p.Date, _ = alias.String(obj, pointDateField)
	p.Timestamp = pointTime(obj)
	if p.Date == "" && !p.Timestamp.IsZero() {
		p.Date = p.Timestamp.Format(time.DateOnly)
	}
	p.Rounds, _ = alias.Int(obj, pointRoundsField)
	p.AverageMultiplier, _ = alias.Float(obj, pointAverageField)
	p.HighestMultiplier, _ = alias.Float(obj, pointHighestField)
	p.EmergencyRate, _ = alias.Float(obj, pointEmergencyRate)
	p.MoonRate, _ = alias.Float(obj, pointMoonRate)
	return p
}

func pointTime(obj map[string]any) time.Time {
	if s, ok := alias.String(obj, pointTimeField); ok {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts
		}
	}
	if ms, ok := alias.Int(obj, pointTimeField); ok && ms > 0 {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}
