package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertOutcomeSQL = `INSERT INTO flight_outcomes (
        outcome_id,
        round_label,
        multiplier,
        category,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (outcome_id) DO NOTHING;`

	listOutcomesBetweenSQL = `SELECT
        id,
        outcome_id,
        round_label,
        multiplier,
        category,
        observed_at,
        created_at
    FROM flight_outcomes
    WHERE observed_at >= $1
      AND observed_at < $2
    ORDER BY observed_at;`

	listRecentOutcomesSQL = `SELECT
        id,
        outcome_id,
        round_label,
        multiplier,
        category,
        observed_at,
        created_at
    FROM flight_outcomes
    ORDER BY observed_at DESC
    LIMIT $1;`

	countOutcomesSQL = `SELECT COUNT(*) FROM flight_outcomes;`

	categoryCountsSQL = `SELECT category, COUNT(*)
    FROM flight_outcomes
    WHERE observed_at >= $1
    GROUP BY category;`

	deleteOutcomesBeforeSQL = `DELETE FROM flight_outcomes WHERE observed_at < $1;`

	insertAlertSQL = `INSERT INTO flight_alerts (
        outcome_id,
        kind,
        multiplier,
        channels
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (outcome_id, kind) DO NOTHING
    RETURNING id, outcome_id, kind, multiplier, channels, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        outcome_id,
        kind,
        multiplier,
        channels,
        created_at
    FROM flight_alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM flight_alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// OutcomeStore defines operations for the flight archive.
type OutcomeStore interface {
	InsertOutcomes(ctx context.Context, records []FlightRecord) (int64, error)
	ListOutcomesBetween(ctx context.Context, from, to time.Time) ([]FlightRecord, error)
	ListRecentOutcomes(ctx context.Context, limit int) ([]FlightRecord, error)
	CountOutcomes(ctx context.Context) (int64, error)
	CategoryCounts(ctx context.Context, since time.Time) (map[string]int64, error)
	DeleteOutcomesBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, bool, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to archived outcomes and alerts.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ OutcomeStore   = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. The lock is held on a dedicated connection until released.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session ends with the connection anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertOutcomes archives records in one batch, skipping ids already stored,
// and returns how many rows were new.
func (s *Store) InsertOutcomes(ctx context.Context, records []FlightRecord) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(insertOutcomeSQL,
			rec.OutcomeID,
			rec.RoundLabel,
			rec.Multiplier.String(),
			rec.Category,
			rec.ObservedAt,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for range records {
		tag, execErr := results.Exec()
		if execErr != nil {
			return inserted, fmt.Errorf("insert outcome: %w", execErr)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// ListOutcomesBetween returns outcomes observed within [from, to), oldest first.
func (s *Store) ListOutcomesBetween(ctx context.Context, from, to time.Time) ([]FlightRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOutcomesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list outcomes between: %w", queryErr)
	}
	defer rows.Close()

	var records []FlightRecord
	for rows.Next() {
		rec, scanErr := scanFlightRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// ListRecentOutcomes returns the newest outcomes first.
func (s *Store) ListRecentOutcomes(ctx context.Context, limit int) ([]FlightRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentOutcomesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent outcomes: %w", queryErr)
	}
	defer rows.Close()

	records := make([]FlightRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanFlightRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// CountOutcomes counts archived outcomes.
func (s *Store) CountOutcomes(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countOutcomesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count outcomes: %w", scanErr)
	}
	return count, nil
}

// CategoryCounts groups outcomes observed since the given time by category id.
func (s *Store) CategoryCounts(ctx context.Context, since time.Time) (map[string]int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, categoryCountsSQL, since)
	if queryErr != nil {
		return nil, fmt.Errorf("category counts: %w", queryErr)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			category string
			count    int64
		)
		if err := rows.Scan(&category, &count); err != nil {
			return nil, err
		}
		counts[category] = count
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return counts, nil
}

// DeleteOutcomesBefore prunes the archive and returns the rows removed.
func (s *Store) DeleteOutcomesBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteOutcomesBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete outcomes before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// InsertAlert records an emitted alert. The boolean is false when the same
// alert was already recorded, so callers can skip re-sending it.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, false, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.OutcomeID,
		alert.Kind,
		alert.Multiplier.String(),
		alert.Channels,
	)

	rec, scanErr := scanAlertRecord(row)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return AlertRecord{}, false, nil
	}
	if scanErr != nil {
		return AlertRecord{}, false, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, true, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlertRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete alerts before: %w", execErr)
	}
	return nil
}

func scanFlightRecord(row pgx.Row) (FlightRecord, error) {
	var (
		rec           FlightRecord
		multiplierStr string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.OutcomeID,
		&rec.RoundLabel,
		&multiplierStr,
		&rec.Category,
		&rec.ObservedAt,
		&rec.CreatedAt,
	); err != nil {
		return FlightRecord{}, err
	}

	multiplier, err := decimal.NewFromString(multiplierStr)
	if err != nil {
		return FlightRecord{}, fmt.Errorf("parse multiplier: %w", err)
	}
	rec.Multiplier = multiplier
	return rec, nil
}

func scanAlertRecord(row pgx.Row) (AlertRecord, error) {
	var (
		rec           AlertRecord
		multiplierStr string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.OutcomeID,
		&rec.Kind,
		&multiplierStr,
		&rec.Channels,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	multiplier, err := decimal.NewFromString(multiplierStr)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("parse multiplier: %w", err)
	}
	rec.Multiplier = multiplier
	return rec, nil
}
