// Package runlog persists per-run diagnostics to a local SQLite database,
// feeding the report command.
package runlog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Record is one completed run's diagnostics row.
type Record struct {
	RunNumber     int
	StartedAt     time.Time
	FinishedAt    time.Time
	SubsSelected  int
	NodesParsed   int
	NodesUnique   int
	NodesValid    int
	SuccessRate   float64
	Cancelled     bool
	FailureCounts map[string]int // probe failure reason -> count
}

// DB wraps the diagnostics database.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("runlog: open %s: %w", path, err)
	}

	// Single-writer: only one connection needed.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("runlog: exec %q on %s: %w", p, path, err)
		}
	}

	if err := migrateDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

func migrateDB(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("runlog: init migration source: %w", err)
	}
	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("runlog: init migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("runlog: init migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("runlog: migrate up: %w", err)
	}
	return nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Append stores one run's record.
func (d *DB) Append(ctx context.Context, rec Record) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("runlog: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_number, started_at_ns, finished_at_ns, subs_selected,
			nodes_parsed, nodes_unique, nodes_valid, success_rate, cancelled
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunNumber,
		rec.StartedAt.UnixNano(),
		rec.FinishedAt.UnixNano(),
		rec.SubsSelected,
		rec.NodesParsed,
		rec.NodesUnique,
		rec.NodesValid,
		rec.SuccessRate,
		boolToInt(rec.Cancelled),
	)
	if err != nil {
		return fmt.Errorf("runlog: insert run %d: %w", rec.RunNumber, err)
	}

	for reason, count := range rec.FailureCounts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO probe_failures (run_number, reason, count)
			VALUES (?, ?, ?)`,
			rec.RunNumber, reason, count,
		); err != nil {
			return fmt.Errorf("runlog: insert failure %q: %w", reason, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("runlog: commit: %w", err)
	}
	return nil
}

// Recent returns up to limit most recent runs, newest first.
func (d *DB) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT run_number, started_at_ns, finished_at_ns, subs_selected,
		       nodes_parsed, nodes_unique, nodes_valid, success_rate, cancelled
		FROM runs ORDER BY run_number DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("runlog: query runs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec               Record
			startNS, finishNS int64
			cancelled         int
		)
		if err := rows.Scan(
			&rec.RunNumber, &startNS, &finishNS, &rec.SubsSelected,
			&rec.NodesParsed, &rec.NodesUnique, &rec.NodesValid,
			&rec.SuccessRate, &cancelled,
		); err != nil {
			return nil, fmt.Errorf("runlog: scan run: %w", err)
		}
		rec.StartedAt = time.Unix(0, startNS)
		rec.FinishedAt = time.Unix(0, finishNS)
		rec.Cancelled = cancelled != 0
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runlog: iterate runs: %w", err)
	}

	for i := range out {
		counts, err := d.failureCounts(ctx, out[i].RunNumber)
		if err != nil {
			return nil, err
		}
		out[i].FailureCounts = counts
	}
	return out, nil
}

func (d *DB) failureCounts(ctx context.Context, runNumber int) (map[string]int, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT reason, count FROM probe_failures WHERE run_number = ?`, runNumber)
	if err != nil {
		return nil, fmt.Errorf("runlog: query failures: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			reason string
			count  int
		)
		if err := rows.Scan(&reason, &count); err != nil {
			return nil, fmt.Errorf("runlog: scan failure: %w", err)
		}
		counts[reason] = count
	}
	return counts, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
