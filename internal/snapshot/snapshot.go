// Package snapshot persists cached collection nodes in sqlite so a restarted
// daemon can serve the last-known collection while it reconnects.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // cgo-free driver

	"github.com/micro-nova/medialink/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	key        TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// DB is a snapshot database.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the snapshot database at path. Use
// ":memory:" for a throwaway database.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open: %w", err)
	}
	// one connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("snapshot: pragma failed: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot: schema: %w", err)
	}
	return &DB{db: db, path: path}, nil
}

func (d *DB) Close() error { return d.db.Close() }
func (d *DB) Path() string { return d.path }

// Save replaces the stored snapshot with nodes in one transaction.
func (d *DB) Save(ctx context.Context, nodes []models.Node) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("snapshot: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes`); err != nil {
		return fmt.Errorf("snapshot: clear: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO nodes (key, data, updated_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("snapshot: prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, n := range nodes {
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("snapshot: encode %s: %w", n.Path.Key(), err)
		}
		if _, err := stmt.ExecContext(ctx, string(n.Path.Key()), string(data), now); err != nil {
			return fmt.Errorf("snapshot: insert %s: %w", n.Path.Key(), err)
		}
	}
	return tx.Commit()
}

// Load returns every stored node. Rows that no longer decode are skipped.
func (d *DB) Load(ctx context.Context) ([]models.Node, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT key, data FROM nodes ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: query: %w", err)
	}
	defer rows.Close()

	var nodes []models.Node
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("snapshot: scan: %w", err)
		}
		var n models.Node
		if err := json.Unmarshal([]byte(data), &n); err != nil {
			continue
		}
		path, err := models.ParseKey(models.Key(key))
		if err != nil {
			continue
		}
		n.Path = path
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// Count returns the number of stored nodes.
func (d *DB) Count(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&n)
	return n, err
}
