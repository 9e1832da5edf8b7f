// Package sqlitebackend implements internal/backend.Backend over a
// SQLite database, for address-book-like local stores where an
// in-memory backend.MemoryBackend would not survive a daemon restart.
package sqlitebackend

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/syncevo/pimsyncd/internal/apperror"
	"github.com/syncevo/pimsyncd/internal/backend"
)

//go:embed migrations/*.sql
var itemMigrations embed.FS

// SQLiteBackend stores one (luid, revision, domain_key, payload) row
// per item, WAL-mode, bounded pool, 0600 file permissions — the same
// connection posture internal/store.OpenReportStore uses.
type SQLiteBackend struct {
	db   *sql.DB
	name string
}

var _ backend.Backend = (*SQLiteBackend)(nil)

// Open creates (or reopens) the SQLite-backed backend at path, applying
// embedded goose migrations.
func Open(ctx context.Context, path, name string) (*SQLiteBackend, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create backend db dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open backend db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("backend db ping: %w", err)
	}

	goose.SetBaseFS(itemMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate backend db: %w", err)
	}

	if err := os.Chmod(path, 0o600); err != nil {
		db.Close()
		return nil, fmt.Errorf("chmod backend db: %w", err)
	}

	return &SQLiteBackend{db: db, name: name}, nil
}

// Open implements backend.Backend; the pool is already live once
// sqlitebackend.Open returns, so this just confirms the connection.
func (b *SQLiteBackend) Open(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close implements backend.Backend.
func (b *SQLiteBackend) Close(ctx context.Context) error {
	return b.db.Close()
}

// ListAll implements backend.Backend.
func (b *SQLiteBackend) ListAll(ctx context.Context) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT luid, revision FROM items")
	if err != nil {
		return nil, apperror.Wrap(apperror.StatusDatastoreFailure, b.name, "list", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var luid, rev string
		if err := rows.Scan(&luid, &rev); err != nil {
			return nil, apperror.Wrap(apperror.StatusDatastoreFailure, b.name, "list", err)
		}
		out[luid] = rev
	}
	return out, rows.Err()
}

// Read implements backend.Backend.
func (b *SQLiteBackend) Read(ctx context.Context, luid string) ([]byte, error) {
	var payload []byte
	err := b.db.QueryRowContext(ctx, "SELECT payload FROM items WHERE luid = ?", luid).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, apperror.Wrap(apperror.StatusDatastoreFailure, b.name, "read", fmt.Errorf("no such item %q", luid))
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.StatusDatastoreFailure, b.name, "read", err)
	}
	return payload, nil
}

// Insert implements backend.Backend. A nil/empty luid is an add; a
// populated one is an update. An add whose bytes match an existing
// item's domain key (here, content revision, standing in for a real
// backend's UID-style key) is upgraded to Replaced against that item's
// luid rather than creating a duplicate row (spec.md §8 boundary
// behavior).
func (b *SQLiteBackend) Insert(ctx context.Context, luid string, data []byte) (backend.InsertResult, error) {
	rev := contentRevision(data)

	if luid == "" {
		var existing string
		err := b.db.QueryRowContext(ctx, "SELECT luid FROM items WHERE domain_key = ? LIMIT 1", rev).Scan(&existing)
		switch {
		case err == nil:
			return backend.InsertResult{LUID: existing, Revision: rev, Disposition: backend.Replaced}, nil
		case err != sql.ErrNoRows:
			return backend.InsertResult{}, apperror.Wrap(apperror.StatusDatastoreFailure, b.name, "insert", err)
		}
		luid = uuid.NewString()
	}

	_, err := b.db.ExecContext(ctx, `
		INSERT INTO items (luid, revision, domain_key, payload) VALUES (?, ?, ?, ?)
		ON CONFLICT(luid) DO UPDATE SET
			revision = excluded.revision,
			domain_key = excluded.domain_key,
			payload = excluded.payload
	`, luid, rev, rev, data)
	if err != nil {
		return backend.InsertResult{}, apperror.Wrap(apperror.StatusDatastoreFailure, b.name, "insert", err)
	}
	return backend.InsertResult{LUID: luid, Revision: rev, Disposition: backend.Ok}, nil
}

// Delete implements backend.Backend.
func (b *SQLiteBackend) Delete(ctx context.Context, luid string) error {
	res, err := b.db.ExecContext(ctx, "DELETE FROM items WHERE luid = ?", luid)
	if err != nil {
		return apperror.Wrap(apperror.StatusDatastoreFailure, b.name, "delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperror.Wrap(apperror.StatusDatastoreFailure, b.name, "delete", err)
	}
	if n == 0 {
		return apperror.Wrap(apperror.StatusDatastoreFailure, b.name, "delete", fmt.Errorf("no such item %q", luid))
	}
	return nil
}

// IsEmpty implements backend.Backend.
func (b *SQLiteBackend) IsEmpty(ctx context.Context) (bool, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM items LIMIT 1").Scan(&n); err != nil {
		return false, apperror.Wrap(apperror.StatusDatastoreFailure, b.name, "is-empty", err)
	}
	return n == 0, nil
}

// Databases implements backend.Backend.
func (b *SQLiteBackend) Databases(ctx context.Context) ([]backend.Database, error) {
	return []backend.Database{{Name: b.name, URI: "sqlite://" + b.name, IsDefault: true}}, nil
}

func contentRevision(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
