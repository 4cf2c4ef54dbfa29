// Package demo synthesises plausible flight outcomes and aggregate statistics
// for when no live source is available.
package demo

import (
	"fmt"
	"iter"
	"math/rand/v2"
	"time"

	"pilot-tracker/internal/flight"
)

// Profile lists the designed probability of each category, in band order.
var Profile = [flight.NumCategories]float64{0.25, 0.20, 0.25, 0.15, 0.09, 0.04, 0.02}

const (
	// MoonCap bounds the otherwise unbounded moon band for display purposes.
	MoonCap = 500.0

	defaultSpacing = 15 * time.Second
	defaultJitter  = 5 * time.Second
	firstLabel     = 10000
)

// Source yields uniform values in [0, 1).
type Source interface {
	Float64() float64
}

// Options tune the generator.
type Options struct {
	Source  Source
	Now     func() time.Time
	Spacing time.Duration
	Jitter  time.Duration
}

// Generator produces synthetic outcomes. It keeps no state between calls
// other than its random source, and is not safe for concurrent use.
type Generator struct {
	src     Source
	now     func() time.Time
	spacing time.Duration
	jitter  time.Duration
}

// New builds a generator; zero options fall back to a time-seeded source,
// time.Now, and 15s spacing with up to 5s jitter.
func New(opts Options) *Generator {
	g := &Generator{
		src:     opts.Source,
		now:     opts.Now,
		spacing: opts.Spacing,
		jitter:  opts.Jitter,
	}
	if g.src == nil {
		g.src = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.spacing <= 0 {
		g.spacing = defaultSpacing
	}
	if g.jitter <= 0 {
		g.jitter = defaultJitter
	}
	// timestamps must stay strictly decreasing
	if g.jitter >= g.spacing {
		g.jitter = g.spacing / 2
	}
	return g
}

// NewSeeded builds a deterministic generator.
func NewSeeded(seed uint64, now func() time.Time) *Generator {
	return New(Options{Source: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), Now: now})
}

// Outcomes yields exactly n outcomes, newest first. The sequence can be
// ranged over repeatedly; each pass draws fresh values.
func (g *Generator) Outcomes(n int) iter.Seq[flight.Outcome] {
	return func(yield func(flight.Outcome) bool) {
		now := g.now()
		for i := 0; i < n; i++ {
			if !yield(g.outcome(now, i)) {
				return
			}
		}
	}
}

// Batch collects Outcomes(n) into a slice.
func (g *Generator) Batch(n int) []flight.Outcome {
	if n <= 0 {
		return nil
	}
	out := make([]flight.Outcome, 0, n)
	for o := range g.Outcomes(n) {
		out = append(out, o)
	}
	return out
}

// Multiplier draws one multiplier following Profile.
func (g *Generator) Multiplier() float64 {
	c := Pick(g.src.Float64())
	lower, upper := c.Bounds()
	if c == flight.Moon {
		upper = MoonCap
	}
	m := lower + g.src.Float64()*(upper-lower)
	return clampToBand(flight.RoundMultiplier(m), c)
}

// Pick selects the category whose cumulative interval contains u.
func Pick(u float64) flight.Category {
	var cumulative float64
	for i, p := range Profile {
		cumulative += p
		if u < cumulative {
			return flight.Category(i)
		}
	}
	return flight.Moon
}

func (g *Generator) outcome(now time.Time, i int) flight.Outcome {
	m := g.Multiplier()
	offset := time.Duration(i)*g.spacing + time.Duration(g.src.Float64()*float64(g.jitter))
	return flight.Outcome{
		ID:         fmt.Sprintf("demo-%d", i),
		Multiplier: m,
		Timestamp:  now.Add(-offset),
		RoundLabel: fmt.Sprintf("FLIGHT-%05d", firstLabel-i),
	}
}

// clampToBand keeps a rounded value inside its band; rounding 1.4999 up to
// 1.5 would otherwise move it into the next category.
func clampToBand(m float64, c flight.Category) float64 {
	lower, upper := c.Bounds()
	if c == flight.Moon {
		upper = MoonCap
	}
	if m >= upper {
		m = flight.RoundMultiplier(upper - 0.01)
	}
	if m < lower {
		m = lower
	}
	return m
}
