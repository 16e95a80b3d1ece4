package feed

import (
	"context"
	"database/sql"

	"github.com/westonnelson/Alpha-sub001/pkg/exception"
	"github.com/yanun0323/errors"
)

// SQLiteSource reads the document store from a SQLite database. It serves
// single-host deployments and local development.
type SQLiteSource struct {
	db *sql.DB
}

// NewSQLiteSource wraps an open SQLite handle.
func NewSQLiteSource(db *sql.DB) (*SQLiteSource, error) {
	if db == nil {
		return nil, exception.ErrNilSource
	}
	return &SQLiteSource{db: db}, nil
}

// Cursor implements Source.
func (s *SQLiteSource) Cursor(ctx context.Context, collection string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM `+changesTable+` WHERE collection = ?`,
		collection,
	).Scan(&seq)
	if err != nil {
		return 0, errors.Wrap(err, "query cursor").With("collection", collection)
	}
	return seq, nil
}

// Snapshot implements Source.
func (s *SQLiteSource) Snapshot(ctx context.Context, collection, afterID string, limit int) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, properties FROM `+documentsTable+`
		WHERE collection = ? AND entity_id > ?
		ORDER BY entity_id LIMIT ?`,
		collection, afterID, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query snapshot").With("collection", collection)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var row documentRow
		if err := rows.Scan(&row.EntityID, &row.Properties); err != nil {
			return nil, errors.Wrap(err, "scan snapshot").With("collection", collection)
		}
		out = append(out, row.document())
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate snapshot").With("collection", collection)
	}
	return out, nil
}

// Changes implements Source.
func (s *SQLiteSource) Changes(ctx context.Context, collection string, afterSeq int64, limit int) ([]Change, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, entity_id, kind, properties FROM `+changesTable+`
		WHERE collection = ? AND seq > ?
		ORDER BY seq LIMIT ?`,
		collection, afterSeq, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query changes").With("collection", collection)
	}
	defer rows.Close()

	var out []Change
	for rows.Next() {
		var (
			row   changeRow
			props sql.RawBytes
		)
		if err := rows.Scan(&row.Seq, &row.EntityID, &row.Kind, &props); err != nil {
			return nil, errors.Wrap(err, "scan changes").With("collection", collection)
		}
		row.Properties = append([]byte(nil), props...)
		out = append(out, row.change())
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate changes").With("collection", collection)
	}
	return out, nil
}

// SQLiteSchema creates the document store tables when missing.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	entity_id  TEXT NOT NULL,
	properties TEXT NOT NULL DEFAULT '{}',
	updated_at INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (collection, entity_id)
);
CREATE TABLE IF NOT EXISTS document_changes (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT NOT NULL,
	entity_id  TEXT NOT NULL,
	kind       TEXT NOT NULL,
	properties TEXT,
	created_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS document_changes_collection_seq ON document_changes (collection, seq);
`

// EnsureSQLiteSchema applies SQLiteSchema.
func EnsureSQLiteSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		return errors.Wrap(err, "create sqlite schema")
	}
	return nil
}
