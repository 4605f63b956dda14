package analysis

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/rangefinder.sim/internal/httputil"
	"github.com/banshee-data/rangefinder.sim/internal/readinglog"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a SQLite database of loaded runs, used for ad-hoc queries over
// reading logs.
type Store struct {
	*sql.DB
	path string
}

// Run describes one loaded log.
type Run struct {
	ID     string `json:"run_id"`
	Source string `json:"source"`
	Rows   int    `json:"row_count"`
}

// QualityRow is one line of the quality_summary view.
type QualityRow struct {
	Quality  int     `json:"signal_quality"`
	Readings int     `json:"readings"`
	MinRfCm  int     `json:"min_rf_cm"`
	MaxRfCm  int     `json:"max_rf_cm"`
	MeanRfCm float64 `json:"mean_rf_cm"`
}

// OpenStore opens or creates the store at path and applies its schema.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// tailsql and the loader share the file; one connection avoids
	// SQLITE_BUSY on concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Store{DB: db, path: path}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	// m is not closed: that would close s.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// InsertRun loads recs under a new run ID and returns the ID.
func (s *Store) InsertRun(ctx context.Context, source string, recs []readinglog.Record) (string, error) {
	id := uuid.NewString()
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, source, row_count) VALUES (?, ?, ?)`,
		id, source, len(recs)); err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO readings
		(run_id, time_us, terrain_cm, sub_cm, rf_cm, signal_quality)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()
	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, id, r.TimeUS, r.TerrainCm, r.SubCm, r.RfCm, r.Quality); err != nil {
			return "", fmt.Errorf("failed to insert reading at %d: %w", r.TimeUS, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// Runs lists loaded runs in load order.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.QueryContext(ctx, `SELECT run_id, source, row_count FROM runs ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Source, &r.Rows); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Readings returns the records of a run in time order.
func (s *Store) Readings(ctx context.Context, runID string) ([]readinglog.Record, error) {
	rows, err := s.QueryContext(ctx, `SELECT time_us, terrain_cm, sub_cm, rf_cm, signal_quality
		FROM readings WHERE run_id = ? ORDER BY time_us`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []readinglog.Record
	for rows.Next() {
		var r readinglog.Record
		if err := rows.Scan(&r.TimeUS, &r.TerrainCm, &r.SubCm, &r.RfCm, &r.Quality); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// QualitySummary groups a run's readings by signal quality.
func (s *Store) QualitySummary(ctx context.Context, runID string) ([]QualityRow, error) {
	rows, err := s.QueryContext(ctx, `SELECT signal_quality, readings, min_rf_cm, max_rf_cm, mean_rf_cm
		FROM quality_summary WHERE run_id = ? ORDER BY signal_quality`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QualityRow
	for rows.Next() {
		var q QualityRow
		if err := rows.Scan(&q.Quality, &q.Readings, &q.MinRfCm, &q.MaxRfCm, &q.MeanRfCm); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// WindowStats summarises a run's distances strictly between start and stop
// seconds.
func (s *Store) WindowStats(ctx context.Context, runID string, start, stop float64) (Stats, error) {
	if stop <= start {
		return Stats{}, fmt.Errorf("analysis: stop %vs must be after start %vs", stop, start)
	}
	rows, err := s.QueryContext(ctx, `SELECT rf_cm FROM readings
		WHERE run_id = ? AND time_us > ? AND time_us < ? ORDER BY time_us`,
		runID, int64(start*1e6), int64(stop*1e6))
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return Stats{}, err
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	return Summarize(values, stop-start)
}

// AttachAdminRoutes mounts a tailsql console over the store and JSON views
// of runs and signal quality on the tsweb debug page.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.DB, &tailsql.DBOptions{
		Label: "Rangefinder runs",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("runs", "Loaded runs (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !httputil.AllowMethods(w, r, http.MethodGet) {
			return
		}
		runs, err := s.Runs(r.Context())
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, runs)
	}))
	debug.Handle("quality", "Signal quality per run (JSON, ?run=<id>)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !httputil.AllowMethods(w, r, http.MethodGet) {
			return
		}
		runID := r.URL.Query().Get("run")
		if runID == "" {
			httputil.BadRequest(w, "missing run parameter")
			return
		}
		rows, err := s.QualitySummary(r.Context(), runID)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		if len(rows) == 0 {
			httputil.NotFound(w, "no readings for run "+runID)
			return
		}
		httputil.WriteJSONOK(w, rows)
	}))
	return nil
}
