package demo

import (
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"pilot-tracker/internal/flight"
)

type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

var fixedNow = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

func TestProfileSumsToOne(t *testing.T) {
	var total float64
	for _, p := range Profile {
		total += p
	}
	if math.Abs(total-1) > 1e-9 {
		t.Fatalf("profile sums to %v", total)
	}
}

func TestPickCumulativeIntervals(t *testing.T) {
	cases := map[float64]flight.Category{
		0:     flight.Emergency,
		0.249: flight.Emergency,
		0.25:  flight.Short,
		0.46:  flight.Domestic,
		0.71:  flight.International,
		0.86:  flight.Transatlantic,
		0.95:  flight.AroundWorld,
		0.99:  flight.Moon,
		0.999: flight.Moon,
	}
	for u, want := range cases {
		if got := Pick(u); got != want {
			t.Fatalf("Pick(%v) = %s, want %s", u, got, want)
		}
	}
}

func TestFixedSourceYieldsMoon(t *testing.T) {
	g := New(Options{Source: fixedSource(0.99), Now: fixedNow})
	for _, o := range g.Batch(20) {
		if o.Category() != flight.Moon {
			t.Fatalf("expected moon outcome, got %v (%s)", o.Multiplier, o.Category())
		}
		if o.Multiplier >= MoonCap {
			t.Fatalf("moon multiplier should be capped below %v, got %v", MoonCap, o.Multiplier)
		}
	}
}

func TestMultiplierStaysInBand(t *testing.T) {
	// 0.999999 pushes every draw to the top of its band, where rounding
	// would otherwise spill into the next category.
	for _, u := range []float64{0.1, 0.3, 0.5, 0.8, 0.9, 0.97} {
		g := New(Options{Source: &stepSource{first: u, rest: 0.999999}, Now: fixedNow})
		m := g.Multiplier()
		if got, want := flight.Classify(m), Pick(u); got != want {
			t.Fatalf("u=%v produced %v in %s, want %s", u, m, got, want)
		}
	}
}

type stepSource struct {
	first, rest float64
	calls       int
}

func (s *stepSource) Float64() float64 {
	s.calls++
	if s.calls == 1 {
		return s.first
	}
	return s.rest
}

func TestEmpiricalDistribution(t *testing.T) {
	const n = 100000
	g := NewSeeded(42, fixedNow)

	var counts [flight.NumCategories]float64
	for o := range g.Outcomes(n) {
		counts[o.Category()]++
	}

	var chi2 float64
	for i, p := range Profile {
		freq := counts[i] / n
		if math.Abs(freq-p) > 0.02 {
			t.Fatalf("%s frequency %.4f outside ±2pp of %.2f", flight.Category(i), freq, p)
		}
		expected := p * n
		chi2 += (counts[i] - expected) * (counts[i] - expected) / expected
	}

	limit := distuv.ChiSquared{K: flight.NumCategories - 1}.Quantile(0.9999)
	if chi2 > limit {
		t.Fatalf("chi-squared %.2f exceeds %.2f", chi2, limit)
	}
}

func TestOutcomesShape(t *testing.T) {
	g := NewSeeded(7, fixedNow)
	batch := g.Batch(50)
	if len(batch) != 50 {
		t.Fatalf("expected 50 outcomes, got %d", len(batch))
	}
	if batch[0].ID != "demo-0" || batch[0].RoundLabel != "FLIGHT-10000" || batch[49].RoundLabel != "FLIGHT-09951" {
		t.Fatalf("unexpected identifiers: %+v / %+v", batch[0], batch[49])
	}
	for i, o := range batch {
		if err := o.Validate(); err != nil {
			t.Fatalf("outcome %d invalid: %v", i, err)
		}
		if o.Multiplier != flight.RoundMultiplier(o.Multiplier) {
			t.Fatalf("outcome %d not rounded to two decimals: %v", i, o.Multiplier)
		}
		if o.Timestamp.After(fixedNow()) {
			t.Fatalf("outcome %d in the future", i)
		}
		if i > 0 && !o.Timestamp.Before(batch[i-1].Timestamp) {
			t.Fatalf("timestamps not strictly decreasing at %d", i)
		}
	}
}

func TestOutcomesRestartableAndStoppable(t *testing.T) {
	g := NewSeeded(1, fixedNow)
	seq := g.Outcomes(10)

	for pass := 0; pass < 2; pass++ {
		count := 0
		for range seq {
			count++
		}
		if count != 10 {
			t.Fatalf("pass %d yielded %d outcomes", pass, count)
		}
	}

	count := 0
	for range seq {
		count++
		if count == 3 {
			break
		}
	}
	if count != 3 {
		t.Fatalf("early break yielded %d", count)
	}

	if g.Batch(0) != nil {
		t.Fatal("zero batch should be nil")
	}
}

func TestStatsConsistency(t *testing.T) {
	snap := NewSeeded(9, fixedNow).Stats()

	if !snap.Synthetic {
		t.Fatal("synthetic snapshot must be flagged")
	}
	if snap.TotalRounds < 100000 || snap.TotalRounds >= 150000 {
		t.Fatalf("total rounds %d out of range", snap.TotalRounds)
	}
	if snap.Distribution.Total() > snap.TotalRounds {
		t.Fatalf("distribution %d exceeds total %d", snap.Distribution.Total(), snap.TotalRounds)
	}
	if len(snap.HourlyStats) != 24 || len(snap.DailyStats) != 30 {
		t.Fatalf("series lengths %d/%d", len(snap.HourlyStats), len(snap.DailyStats))
	}
	var day int64
	for _, h := range snap.HourlyStats {
		day += h.Rounds
	}
	if day != snap.Last24HoursRounds {
		t.Fatalf("last 24h %d != hourly sum %d", snap.Last24HoursRounds, day)
	}
	if snap.LastHourRounds != snap.HourlyStats[23].Rounds {
		t.Fatal("last hour should match the newest hourly point")
	}
	if snap.DailyStats[29].Date != "2025-03-01" {
		t.Fatalf("newest daily point = %s", snap.DailyStats[29].Date)
	}
}
