package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Register driver

	"github.com/menta2k/unified-cropper/pkg/client"
)

// Record is one row of the crop history.
type Record struct {
	ID        int64
	Name      string
	Path      string
	Size      int64
	CreatedAt time.Time
}

// Indexed wraps another Storage and records every successful save in a
// SQLite history table.
type Indexed struct {
	next client.Storage
	db   *sql.DB
	now  func() time.Time
}

var _ client.Storage = (*Indexed)(nil)

// OpenIndexed opens (creating if needed) the history database at path.
func OpenIndexed(path string, next client.Storage) (*Indexed, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	db.SetMaxOpenConns(1)

	idx := &Indexed{next: next, db: db, now: time.Now}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return idx, nil
}

func (i *Indexed) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS crops (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			path TEXT NOT NULL,
			size INTEGER,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_crops_created ON crops(created_at);`,
	}
	for _, q := range queries {
		if _, err := i.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// Save delegates to the wrapped store, then records the result. A failure to
// record is reported even though the payload was written.
func (i *Indexed) Save(ctx context.Context, data []byte, suggestedName string) (string, error) {
	path, err := i.next.Save(ctx, data, suggestedName)
	if err != nil {
		return "", err
	}
	_, err = i.db.ExecContext(ctx,
		"INSERT INTO crops (name, path, size, created_at) VALUES (?, ?, ?, ?)",
		suggestedName, path, len(data), i.now().UnixMilli())
	if err != nil {
		return path, fmt.Errorf("failed to record crop: %w", err)
	}
	return path, nil
}

// List returns the most recent crops, newest first.
func (i *Indexed) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := i.db.QueryContext(ctx,
		"SELECT id, name, path, size, created_at FROM crops ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var createdMs int64
		if err := rows.Scan(&r.ID, &r.Name, &r.Path, &r.Size, &createdMs); err != nil {
			return nil, err
		}
		r.CreatedAt = time.UnixMilli(createdMs)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (i *Indexed) Close() error {
	return i.db.Close()
}
