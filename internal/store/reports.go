package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var reportMigrations embed.FS

// Report is one sync session's outcome, filed under its config (spec.md
// §6 "Sync reports under per-config session directories; GetReports
// returns them newest-first").
type Report struct {
	SessionID    string
	ConfigName   string
	StartedAt    time.Time
	FinishedAt   time.Time
	Status       string
	SourceStatus map[string]string
}

// ReportStore persists Reports in a SQLite database (teacher-grounded:
// same DSN/pool/security posture as the alert-history storage layer,
// migrated with the same goose-driven schema management).
type ReportStore struct {
	db *sql.DB
}

func validateReportsDBPath(path string) error {
	if path == "" {
		return fmt.Errorf("reports db path cannot be empty")
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("invalid reports db path contains '..': %s", path)
	}
	for _, prefix := range []string{"/etc", "/sys", "/proc", "/dev"} {
		if strings.HasPrefix(path, prefix) {
			return fmt.Errorf("forbidden reports db path prefix %s: %s", prefix, path)
		}
	}
	return nil
}

func openReportsDB(ctx context.Context, path string) (*sql.DB, error) {
	if err := validateReportsDBPath(path); err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create reports db dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open reports db: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("reports db ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

func gooseDialect() error {
	goose.SetBaseFS(reportMigrations)
	return goose.SetDialect("sqlite3")
}

// OpenReportStore opens (creating if necessary) the SQLite database at
// path and applies any pending embedded migrations.
func OpenReportStore(ctx context.Context, path string, logger *slog.Logger) (*ReportStore, error) {
	db, err := openReportsDB(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := gooseDialect(); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply reports db migrations: %w", err)
	}

	if err := os.Chmod(path, 0o600); err != nil && logger != nil {
		logger.Warn("could not restrict reports db file permissions", "path", path, "error", err)
	}

	return &ReportStore{db: db}, nil
}

// MigrateStatus prints the applied/pending migration status for the
// reports database at path, for the standalone migrate CLI.
func MigrateStatus(ctx context.Context, path string) error {
	db, err := openReportsDB(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := gooseDialect(); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.Status(db, "migrations")
}

// MigrateDown rolls back the most recently applied migration for the
// reports database at path.
func MigrateDown(ctx context.Context, path string) error {
	db, err := openReportsDB(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := gooseDialect(); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.Down(db, "migrations")
}

// MigrateUp applies all pending migrations for the reports database at
// path, without constructing a full ReportStore.
func MigrateUp(ctx context.Context, path string) error {
	db, err := openReportsDB(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := gooseDialect(); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.Up(db, "migrations")
}

// Close releases the underlying database handle.
func (s *ReportStore) Close() error {
	return s.db.Close()
}

// SaveReport upserts r, keyed by session ID.
func (s *ReportStore) SaveReport(ctx context.Context, r Report) error {
	sourcesJSON, err := json.Marshal(r.SourceStatus)
	if err != nil {
		return fmt.Errorf("marshal source status: %w", err)
	}

	const q = `
INSERT INTO reports (session_id, config_name, started_at, finished_at, status, sources_json)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
	config_name  = excluded.config_name,
	started_at   = excluded.started_at,
	finished_at  = excluded.finished_at,
	status       = excluded.status,
	sources_json = excluded.sources_json`

	_, err = s.db.ExecContext(ctx, q,
		r.SessionID, r.ConfigName, r.StartedAt.Unix(), r.FinishedAt.Unix(), r.Status, string(sourcesJSON))
	if err != nil {
		return fmt.Errorf("save report %q: %w", r.SessionID, err)
	}
	return nil
}

// GetReports returns up to count reports for configName, newest-first
// (spec.md §6), starting after the first `offset` rows.
func (s *ReportStore) GetReports(ctx context.Context, configName string, offset, count int) ([]Report, error) {
	const q = `
SELECT session_id, config_name, started_at, finished_at, status, sources_json
FROM reports
WHERE config_name = ?
ORDER BY started_at DESC
LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, q, configName, count, offset)
	if err != nil {
		return nil, fmt.Errorf("query reports for %q: %w", configName, err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var (
			r                        Report
			startedAt, finishedAt    int64
			sourcesJSON              string
		)
		if err := rows.Scan(&r.SessionID, &r.ConfigName, &startedAt, &finishedAt, &r.Status, &sourcesJSON); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		r.StartedAt = time.Unix(startedAt, 0).UTC()
		r.FinishedAt = time.Unix(finishedAt, 0).UTC()
		if err := json.Unmarshal([]byte(sourcesJSON), &r.SourceStatus); err != nil {
			return nil, fmt.Errorf("unmarshal source status for %q: %w", r.SessionID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports for %q: %w", configName, err)
	}
	return out, nil
}
