// Package catalog persists detection runs and their stars in SQLite.
package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"image"
	"time"

	_ "modernc.org/sqlite"

	"stardetect/pkg/stardetect"
)

// schema.sql creates the runs and stars tables.
//
//go:embed schema.sql
var schemaSQL string

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// Store is a star catalog backed by one SQLite file.
type Store struct {
	db *sql.DB
}

// Run describes one detection call on one image.
type Run struct {
	ID          int64
	Source      string
	CreatedAt   time.Time
	Width       int
	Height      int
	MinStarSize int
	StarCount   int
	Params      string
}

// StarRow is a stored star. FWHM and Eccentricity are zero for stars
// without a PSF fit.
type StarRow struct {
	RunID        int64
	Index        int
	X, Y         float64
	Rect         image.Rectangle
	Area         float64
	Flux         float64
	Signal       float64
	MAD          float64
	FWHM         float64
	Eccentricity float64
	HasPSF       bool
}

// Open opens or creates the catalog at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create catalog schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun stores run and its stars in one transaction and returns the run ID.
// The star count of run is taken from stars.
func (s *Store) SaveRun(ctx context.Context, run Run, stars []stardetect.Star) (int64, error) {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (source, created_unix_nanos, width, height, min_star_size, star_count, params)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.Source, run.CreatedAt.UnixNano(), run.Width, run.Height, run.MinStarSize, len(stars), run.Params)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run ID: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stars (run_id, idx, x, y, rect_x0, rect_y0, rect_x1, rect_y1, area, flux, signal, mad, fwhm, eccentricity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare star insert: %w", err)
	}
	defer stmt.Close()

	for i, star := range stars {
		var fwhm, ecc sql.NullFloat64
		if star.PSF != nil {
			fwhm = sql.NullFloat64{Float64: star.PSF.FWHM(), Valid: true}
			ecc = sql.NullFloat64{Float64: star.PSF.Eccentricity, Valid: true}
		}
		r := star.Rect
		if _, err := stmt.ExecContext(ctx, runID, i, star.Pos.X, star.Pos.Y,
			r.Min.X, r.Min.Y, r.Max.X, r.Max.Y,
			star.Area, star.Flux, star.Signal, star.MAD, fwhm, ecc); err != nil {
			return 0, fmt.Errorf("failed to insert star %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit run: %w", err)
	}
	return runID, nil
}

// Runs returns every stored run, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, created_unix_nanos, width, height, min_star_size, star_count, params
		FROM runs ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var nanos int64
		if err := rows.Scan(&r.ID, &r.Source, &nanos, &r.Width, &r.Height, &r.MinStarSize, &r.StarCount, &r.Params); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(0, nanos).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Stars returns the stars of a run in their stored order.
func (s *Store) Stars(ctx context.Context, runID int64) ([]StarRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, idx, x, y, rect_x0, rect_y0, rect_x1, rect_y1, area, flux, signal, mad, fwhm, eccentricity
		FROM stars WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stars []StarRow
	for rows.Next() {
		var sr StarRow
		var fwhm, ecc sql.NullFloat64
		if err := rows.Scan(&sr.RunID, &sr.Index, &sr.X, &sr.Y,
			&sr.Rect.Min.X, &sr.Rect.Min.Y, &sr.Rect.Max.X, &sr.Rect.Max.Y,
			&sr.Area, &sr.Flux, &sr.Signal, &sr.MAD, &fwhm, &ecc); err != nil {
			return nil, err
		}
		sr.FWHM, sr.Eccentricity, sr.HasPSF = fwhm.Float64, ecc.Float64, fwhm.Valid
		stars = append(stars, sr)
	}
	return stars, rows.Err()
}
