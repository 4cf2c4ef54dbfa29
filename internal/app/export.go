package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"pilot-tracker/internal/flight"
	"pilot-tracker/internal/storage"
)

const defaultExportWindow = 24 * time.Hour

// Export renders archived outcomes as CSV and/or PNG. The PNG path receives
// the multiplier timeline; a sibling "-distribution" file gets the category bars.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	records, err := store.ListOutcomesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no outcomes found for export window")
		return nil
	}

	downsampled := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting outcomes")

	if opts.CSVPath != "" {
		if err := writeOutcomesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if len(downsampled) < 2 {
			a.Logger.Warn().Msg("need at least two outcomes to draw the timeline; skipping")
		} else if err := writeMultiplierPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
		// the distribution uses every record, not the downsampled view
		if err := writeDistributionPNG(distributionPath(opts.PNGPath), records); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRecords(records []storage.FlightRecord, max int) []storage.FlightRecord {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]storage.FlightRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeOutcomesCSV(path string, records []storage.FlightRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"observed_at", "outcome_id", "round", "multiplier", "category", "status"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		o := rec.Outcome()
		row := []string{
			rec.ObservedAt.UTC().Format(time.RFC3339),
			rec.OutcomeID,
			flight.FormatRoundLabel(rec.RoundLabel),
			rec.Multiplier.StringFixed(2),
			rec.Category,
			flight.Status(o.Multiplier),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeMultiplierPNG(path string, records []storage.FlightRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	y := make([]float64, len(records))
	for i, rec := range records {
		x[i] = rec.ObservedAt
		y[i] = rec.Multiplier.InexactFloat64()
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Multiplier (x)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.2f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Multiplier",
				XValues: x,
				YValues: y,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func writeDistributionPNG(path string, records []storage.FlightRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var dist flight.Distribution
	for _, rec := range records {
		dist[rec.Outcome().Category()]++
	}

	bars := make([]chart.Value, 0, flight.NumCategories)
	for _, c := range flight.Categories() {
		bars = append(bars, chart.Value{Label: c.ShortName(), Value: float64(dist[c])})
	}

	graph := chart.BarChart{
		Title:    "Flights by category",
		Width:    1024,
		Height:   512,
		BarWidth: 80,
		Bars:     bars,
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func distributionPath(pngPath string) string {
	ext := filepath.Ext(pngPath)
	return strings.TrimSuffix(pngPath, ext) + "-distribution" + ext
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
