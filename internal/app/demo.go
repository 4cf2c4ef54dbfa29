package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"pilot-tracker/internal/demo"
	"pilot-tracker/internal/flight"
)

// Demo prints a synthetic batch, its summary, and how closely the category
// split follows the generator profile.
func (a *App) Demo(ctx context.Context, out io.Writer, opts DemoOptions) error {
	if opts.Count <= 0 {
		return errors.New("count must be greater than zero")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var gen *demo.Generator
	if opts.Seed != 0 {
		gen = demo.NewSeeded(opts.Seed, time.Now)
	} else {
		gen = demo.New(demo.Options{})
	}

	if opts.Stats {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(gen.Stats())
	}

	batch := gen.Batch(opts.Count)
	now := time.Now()

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Round\tMultiplier\tCategory\tStatus\tAge")
	for _, o := range batch {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			flight.FormatRoundLabel(o.RoundLabel),
			flight.FormatMultiplier(o.Multiplier),
			o.Category().Name(),
			flight.Status(o.Multiplier),
			flight.TimeAgo(o.Timestamp, now),
		)
	}
	writer.Flush()

	sum := flight.Summarize(batch)
	fmt.Fprintf(out, "\n%d flights  avg %s  median %s  max %s  emergency %.1f%%  moon %.1f%%\n",
		sum.Count,
		flight.FormatMultiplier(sum.AverageMultiplier),
		flight.FormatMultiplier(sum.MedianMultiplier),
		flight.FormatMultiplier(sum.HighestMultiplier),
		sum.EmergencyRate,
		sum.MoonRate,
	)

	observed := make([]float64, flight.NumCategories)
	expected := make([]float64, flight.NumCategories)
	writer = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "\nCategory\tObserved\tExpected")
	for _, c := range flight.Categories() {
		observed[c] = float64(sum.Distribution[c])
		expected[c] = demo.Profile[c] * float64(sum.Count)
		fmt.Fprintf(writer, "%s\t%d\t%.1f\n", c.ShortName(), sum.Distribution[c], expected[c])
	}
	writer.Flush()

	chi := stat.ChiSquare(observed, expected)
	p := distuv.ChiSquared{K: float64(flight.NumCategories - 1)}.Survival(chi)
	fmt.Fprintf(out, "chi-square %.2f (p=%.3f)\n", chi, p)

	a.Logger.Debug().Int("count", sum.Count).Float64("chi_square", chi).Msg("demo batch generated")
	return nil
}
