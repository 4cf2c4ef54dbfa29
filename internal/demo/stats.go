package demo

import (
	"time"

	"pilot-tracker/internal/flight"
)

// Stats builds a synthetic aggregate snapshot whose counts are consistent
// with each other and with Profile.
func (g *Generator) Stats() flight.Snapshot {
	now := g.now()
	total := int64(100000 + g.intn(50000))

	var dist flight.Distribution
	for i, p := range Profile {
		dist[i] = int64(float64(total) * p)
	}

	hourly := g.hourlyStats(now)
	var lastHour, lastDay int64
	for _, h := range hourly {
		lastDay += h.Rounds
	}
	if len(hourly) > 0 {
		lastHour = hourly[len(hourly)-1].Rounds
	}

	return flight.Snapshot{
		TotalRounds:       total,
		AverageMultiplier: flight.RoundMultiplier(2.5 + g.src.Float64()*0.5),
		HighestMultiplier: flight.RoundMultiplier(5000 + g.src.Float64()*5000),
		LowestMultiplier:  1.0,
		LastHourRounds:    lastHour,
		Last24HoursRounds: lastDay,
		Distribution:      dist,
		CurrentStreak:     &flight.Streak{Category: flight.Domestic, Count: 1 + g.intn(5)},
		LongestStreak:     &flight.Streak{Category: flight.Emergency, Count: 5 + g.intn(10)},
		HourlyStats:       hourly,
		DailyStats:        g.dailyStats(now),
		Synthetic:         true,
		FetchedAt:         now,
	}
}

func (g *Generator) hourlyStats(now time.Time) []flight.HourlyStat {
	out := make([]flight.HourlyStat, 0, 24)
	for i := 23; i >= 0; i-- {
		ts := now.Add(-time.Duration(i) * time.Hour).Truncate(time.Hour)
		out = append(out, flight.HourlyStat{
			Hour:              ts.Hour(),
			Timestamp:         ts,
			Rounds:            int64(50 + g.intn(150)),
			AverageMultiplier: flight.RoundMultiplier(2 + g.src.Float64()*1.5),
			HighestMultiplier: flight.RoundMultiplier(10 + g.src.Float64()*100),
		})
	}
	return out
}

func (g *Generator) dailyStats(now time.Time) []flight.DailyStat {
	out := make([]flight.DailyStat, 0, 30)
	for i := 29; i >= 0; i-- {
		day := now.AddDate(0, 0, -i)
		day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
		out = append(out, flight.DailyStat{
			Date:              day.Format(time.DateOnly),
			Timestamp:         day,
			Rounds:            int64(2000 + g.intn(3000)),
			AverageMultiplier: flight.RoundMultiplier(2 + g.src.Float64()),
			HighestMultiplier: flight.RoundMultiplier(500 + g.src.Float64()*2000),
			EmergencyRate:     0.2 + g.src.Float64()*0.1,
			MoonRate:          0.01 + g.src.Float64()*0.02,
		})
	}
	return out
}

func (g *Generator) intn(n int) int {
	v := int(g.src.Float64() * float64(n))
	if v >= n {
		v = n - 1
	}
	return v
}
