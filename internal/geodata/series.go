package geodata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/paulmach/orb/geojson"
)

// ErrNoDates is returned when no time-series rows have been ingested.
var ErrNoDates = errors.New("no dates ingested")

const seriesSchema = `CREATE TABLE IF NOT EXISTS series (
	tier  VARCHAR NOT NULL,
	code  VARCHAR NOT NULL,
	date  VARCHAR NOT NULL,
	value DOUBLE
)`

// SeriesStore keeps each tier's per-feature dated values in DuckDB.
type SeriesStore struct {
	db *sql.DB
	mu sync.Mutex // serialises ingests
}

// NewSeriesStore creates the series table if needed.
func NewSeriesStore(ctx context.Context, db *sql.DB) (*SeriesStore, error) {
	if _, err := db.ExecContext(ctx, seriesSchema); err != nil {
		return nil, fmt.Errorf("creating series table: %w", err)
	}
	return &SeriesStore{db: db}, nil
}

// Ingest replaces the rows for tierID with the features of fc. Features
// without a code or date are skipped; a missing value is stored as NULL.
func (s *SeriesStore) Ingest(ctx context.Context, tierID string, fc *geojson.FeatureCollection) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM series WHERE tier = ?`, tierID); err != nil {
		return 0, fmt.Errorf("clearing %s: %w", tierID, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO series (tier, code, date, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	n := 0
	for _, f := range fc.Features {
		code := f.Properties.MustString("code", "")
		date := f.Properties.MustString("date", "")
		if code == "" || date == "" {
			continue
		}
		date, _, _ = strings.Cut(date, "T")
		var value sql.NullFloat64
		if v, ok := f.Properties["value"].(float64); ok {
			value = sql.NullFloat64{Float64: v, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, tierID, code, date, value); err != nil {
			return n, fmt.Errorf("inserting %s/%s: %w", code, date, err)
		}
		n++
	}
	return n, tx.Commit()
}

// Reset drops every ingested row.
func (s *SeriesStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM series`); err != nil {
		return fmt.Errorf("clearing series: %w", err)
	}
	return nil
}

// Dates lists the distinct dates for tierID in ascending order. An empty
// tierID lists dates across all tiers.
func (s *SeriesStore) Dates(ctx context.Context, tierID string) ([]string, error) {
	q := `SELECT DISTINCT date FROM series ORDER BY date`
	args := []any{}
	if tierID != "" {
		q = `SELECT DISTINCT date FROM series WHERE tier = ? ORDER BY date`
		args = append(args, tierID)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dates := []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// LatestDate returns the most recent ingested date.
func (s *SeriesStore) LatestDate(ctx context.Context) (string, error) {
	var d sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT max(date) FROM series`).Scan(&d); err != nil {
		return "", err
	}
	if !d.Valid {
		return "", ErrNoDates
	}
	return d.String, nil
}

// Value returns the value of one feature on one date.
func (s *SeriesStore) Value(ctx context.Context, tierID, code, date string) (float64, bool, error) {
	var v sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM series WHERE tier = ? AND code = ? AND date = ?`, tierID, code, date).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v.Float64, v.Valid, nil
}

// Count returns the number of rows held for tierID.
func (s *SeriesStore) Count(ctx context.Context, tierID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM series WHERE tier = ?`, tierID).Scan(&n)
	return n, err
}
