package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"pilot-tracker/internal/flight"
)

// Show prints recently archived outcomes and the category split of the last day.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show outcomes")
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListRecentOutcomes(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no outcomes archived yet")
		return nil
	}

	now := time.Now().UTC()
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Observed (UTC)\tRound\tMultiplier\tCategory\tStatus\tAge")
	for _, rec := range records {
		o := rec.Outcome()
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ObservedAt.UTC().Format(time.RFC3339),
			flight.FormatRoundLabel(sanitizeInline(o.RoundLabel)),
			flight.FormatMultiplier(o.Multiplier),
			o.Category().Name(),
			flight.Status(o.Multiplier),
			flight.TimeAgo(rec.ObservedAt, now),
		)
	}
	writer.Flush()

	counts, err := store.CategoryCounts(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return err
	}
	total, err := store.CountOutcomes(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "\nlast 24h by category (%d archived in total)\n", total)
	writer = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, c := range flight.Categories() {
		fmt.Fprintf(writer, "%s\t%d\n", c.ShortName(), counts[c.String()])
	}
	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
