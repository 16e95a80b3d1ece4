package feed

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/westonnelson/Alpha-sub001/internal/mirror"
	"github.com/westonnelson/Alpha-sub001/pkg/exception"
	"github.com/yanun0323/errors"
)

// propertiesAPI keeps integer ids exact instead of rounding them through
// float64.
var propertiesAPI = sonic.Config{UseInt64: true}.Froze()

const (
	documentsTable = "documents"
	changesTable   = "document_changes"
)

// Document is one row of the external document store. Err is set when the
// row could not be decoded; the tailer skips such rows.
type Document struct {
	ID         string
	Properties map[string]any
	Err        error
}

// Change is one row of the external change log. Err is set when the row
// could not be decoded; the tailer skips it and moves past its sequence.
type Change struct {
	Seq        int64
	ID         string
	Kind       mirror.ChangeKind
	Properties map[string]any
	Err        error
}

// Source reads an externally owned document store. Implementations must
// return snapshot pages ordered by id and changes ordered by sequence.
type Source interface {
	// Cursor returns the latest change sequence of collection.
	Cursor(ctx context.Context, collection string) (int64, error)
	// Snapshot returns up to limit documents with id greater than afterID.
	Snapshot(ctx context.Context, collection, afterID string, limit int) ([]Document, error)
	// Changes returns up to limit changes with sequence greater than afterSeq.
	Changes(ctx context.Context, collection string, afterSeq int64, limit int) ([]Change, error)
}

// documentRow and changeRow are the storage shapes shared by every SQL source.
type documentRow struct {
	EntityID   string `gorm:"column:entity_id"`
	Properties []byte `gorm:"column:properties"`
}

type changeRow struct {
	Seq        int64  `gorm:"column:seq"`
	EntityID   string `gorm:"column:entity_id"`
	Kind       string `gorm:"column:kind"`
	Properties []byte `gorm:"column:properties"`
}

func (r documentRow) document() Document {
	doc := Document{ID: r.EntityID}
	props, err := decodeProperties(r.Properties)
	if err != nil {
		doc.Err = errors.Wrap(exception.ErrMalformedRow, err.Error()).With("id", r.EntityID)
		return doc
	}
	doc.Properties = props
	return doc
}

func (r changeRow) change() Change {
	ch := Change{Seq: r.Seq, ID: r.EntityID}
	kind, ok := mirror.ParseChangeKind(r.Kind)
	if !ok {
		ch.Err = errors.Wrap(exception.ErrUnknownChangeKind, "decode change").With("seq", r.Seq).With("kind", r.Kind)
		return ch
	}
	ch.Kind = kind
	if kind == mirror.ChangeRemoved {
		return ch
	}
	props, err := decodeProperties(r.Properties)
	if err != nil {
		ch.Err = errors.Wrap(exception.ErrMalformedRow, err.Error()).With("seq", r.Seq)
		return ch
	}
	ch.Properties = props
	return ch
}

func decodeProperties(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	props := make(map[string]any)
	if err := propertiesAPI.Unmarshal(raw, &props); err != nil {
		return nil, err
	}
	return props, nil
}
