// Package searchbackend implements the default Memory Lifecycle & Scope
// Engine search backend: a SQLite FTS5 BM25 index, adapted from the
// teacher corpus's own chunk/FTS5 search pipeline but keyed by memory key
// and scope rather than file path and line range.
package searchbackend

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/thymos-ai/thymos/errs"
	"github.com/thymos-ai/thymos/lifecycle"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS memories (
    id    INTEGER PRIMARY KEY,
    key   TEXT    NOT NULL UNIQUE,
    scope TEXT    NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
    text
);
`

// SQLiteBackend is a pure-Go (no cgo), FTS5-BM25-ranked search backend.
type SQLiteBackend struct {
	db *sql.DB
}

// Open creates or re-opens a SQLite FTS5 index at path.
func Open(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errs.E("searchbackend.Open", errs.Resource, "create index dir", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.E("searchbackend.Open", errs.Resource, "open sqlite", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.E("searchbackend.Open", errs.Resource, "apply schema", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }

// Index inserts or replaces a memory's searchable text. Called by the
// lifecycle engine after every commit that adds or modifies a memory;
// deletions call Remove.
func (b *SQLiteBackend) Index(ctx context.Context, key, scope, text string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.E("searchbackend.Index", errs.Resource, "begin tx", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM memories WHERE key = ?`, key).Scan(&id)
	switch err {
	case sql.ErrNoRows:
		res, err := tx.ExecContext(ctx, `INSERT INTO memories (key, scope) VALUES (?, ?)`, key, scope)
		if err != nil {
			return errs.E("searchbackend.Index", errs.Resource, "insert memory row", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return errs.E("searchbackend.Index", errs.Resource, "read inserted id", err)
		}
	case nil:
		if _, err := tx.ExecContext(ctx, `UPDATE memories SET scope = ? WHERE id = ?`, scope, id); err != nil {
			return errs.E("searchbackend.Index", errs.Resource, "update memory scope", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories_fts WHERE rowid = ?`, id); err != nil {
			return errs.E("searchbackend.Index", errs.Resource, "clear stale fts row", err)
		}
	default:
		return errs.E("searchbackend.Index", errs.Resource, "lookup memory row", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO memories_fts (rowid, text) VALUES (?, ?)`, id, text); err != nil {
		return errs.E("searchbackend.Index", errs.Resource, "insert fts row", err)
	}
	if err := tx.Commit(); err != nil {
		return errs.E("searchbackend.Index", errs.Resource, "commit tx", err)
	}
	return nil
}

// Remove deletes a memory's index entry.
func (b *SQLiteBackend) Remove(ctx context.Context, key string) error {
	var id int64
	err := b.db.QueryRowContext(ctx, `SELECT id FROM memories WHERE key = ?`, key).Scan(&id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return errs.E("searchbackend.Remove", errs.Resource, "lookup memory row", err)
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM memories_fts WHERE rowid = ?`, id); err != nil {
		return errs.E("searchbackend.Remove", errs.Resource, "delete fts row", err)
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return errs.E("searchbackend.Remove", errs.Resource, "delete memory row", err)
	}
	return nil
}

// Search implements lifecycle.SearchBackend: BM25-ranked hits restricted
// to scope. bm25() returns negative values (lower is better); negated so
// higher is better, matching the convention MLSE's own scoring expects.
func (b *SQLiteBackend) Search(ctx context.Context, scope, query string, limit int) ([]lifecycle.BackendHit, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT m.key, -bm25(memories_fts) AS score
		FROM memories_fts
		JOIN memories m ON memories_fts.rowid = m.id
		WHERE memories_fts MATCH ? AND m.scope = ?
		ORDER BY score DESC
		LIMIT ?
	`, ftsQuery(query), scope, limit)
	if err != nil {
		return nil, errs.E("searchbackend.Search", errs.Resource, "query fts5", err)
	}
	defer rows.Close()

	var hits []lifecycle.BackendHit
	for rows.Next() {
		var h lifecycle.BackendHit
		if err := rows.Scan(&h.Key, &h.Score); err != nil {
			return nil, errs.E("searchbackend.Search", errs.Resource, "scan fts5 row", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.E("searchbackend.Search", errs.Resource, "iterate fts5 rows", err)
	}
	return hits, nil
}

func ftsQuery(q string) string {
	return fmt.Sprintf("%q", q)
}

var _ lifecycle.SearchBackend = (*SQLiteBackend)(nil)
