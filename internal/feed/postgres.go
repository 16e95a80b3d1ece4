package feed

import (
	"context"

	"github.com/westonnelson/Alpha-sub001/pkg/conn"
	"github.com/westonnelson/Alpha-sub001/pkg/exception"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"
)

// PostgresSource reads the document store from PostgreSQL through gorm.
type PostgresSource struct {
	db *gorm.DB
}

// NewPostgresSource wraps an open PostgreSQL pool.
func NewPostgresSource(client *conn.Postgres) (*PostgresSource, error) {
	if client.DB() == nil {
		return nil, exception.ErrNilSource
	}
	return &PostgresSource{db: client.DB()}, nil
}

// Cursor implements Source.
func (s *PostgresSource) Cursor(ctx context.Context, collection string) (int64, error) {
	var seq int64
	err := s.db.WithContext(ctx).
		Table(changesTable).
		Select("COALESCE(MAX(seq), 0)").
		Where("collection = ?", collection).
		Row().
		Scan(&seq)
	if err != nil {
		return 0, errors.Wrap(err, "query cursor").With("collection", collection)
	}
	return seq, nil
}

// Snapshot implements Source.
func (s *PostgresSource) Snapshot(ctx context.Context, collection, afterID string, limit int) ([]Document, error) {
	var rows []documentRow
	err := s.db.WithContext(ctx).
		Table(documentsTable).
		Select("entity_id", "properties").
		Where("collection = ? AND entity_id > ?", collection, afterID).
		Order("entity_id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "query snapshot").With("collection", collection)
	}

	out := make([]Document, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.document())
	}
	return out, nil
}

// Changes implements Source.
func (s *PostgresSource) Changes(ctx context.Context, collection string, afterSeq int64, limit int) ([]Change, error) {
	var rows []changeRow
	err := s.db.WithContext(ctx).
		Table(changesTable).
		Select("seq", "entity_id", "kind", "properties").
		Where("collection = ? AND seq > ?", collection, afterSeq).
		Order("seq").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "query changes").With("collection", collection)
	}

	out := make([]Change, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.change())
	}
	return out, nil
}
