package mirror

import (
	"context"
	"slices"

	"github.com/westonnelson/Alpha-sub001/internal/bus"
	"github.com/westonnelson/Alpha-sub001/pkg/exception"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Store groups the mirrored collections of one service. It never writes back
// to the external source.
type Store struct {
	collections map[string]*Collection
	names       []string
}

// NewStore creates a store with one collection per config.
func NewStore(cfgs ...CollectionConfig) *Store {
	s := &Store{collections: make(map[string]*Collection, len(cfgs))}
	for _, cfg := range cfgs {
		s.collections[cfg.Name] = NewCollection(cfg)
		s.names = append(s.names, cfg.Name)
	}
	slices.Sort(s.names)
	return s
}

// Collection returns the named collection.
func (s *Store) Collection(name string) (*Collection, bool) {
	c, ok := s.collections[name]
	return c, ok
}

// Names returns the collection names in sorted order.
func (s *Store) Names() []string {
	return slices.Clone(s.names)
}

// Get looks up id in the named collection.
func (s *Store) Get(collection, id string) (Record, bool) {
	c, ok := s.collections[collection]
	if !ok {
		return Record{}, false
	}
	return c.Get(id)
}

// IsReady reports whether every collection has applied its initial snapshot.
func (s *Store) IsReady() bool {
	for _, c := range s.collections {
		if !c.Ready() {
			return false
		}
	}
	return len(s.collections) != 0
}

// Pending lists the collections that are not ready yet.
func (s *Store) Pending() []string {
	var out []string
	for _, name := range s.names {
		if !s.collections[name].Ready() {
			out = append(out, name)
		}
	}
	return out
}

// Apply routes a batch to its collection.
func (s *Store) Apply(b Batch) error {
	c, ok := s.collections[b.Collection]
	if !ok {
		return errors.Wrap(exception.ErrUnknownCollection, "apply batch").With("collection", b.Collection)
	}
	wasReady := c.Ready()
	if err := c.Apply(b); err != nil {
		return errors.Wrap(err, "apply batch").With("collection", b.Collection)
	}
	if !wasReady && c.Ready() {
		logs.Infof("mirror %s: ready with %d records", b.Collection, c.Len())
	}
	return nil
}

// Consume applies batches from q until ctx is done or q is closed.
func (s *Store) Consume(ctx context.Context, q *bus.Queue[Batch]) {
	q.Run(ctx, func(b Batch) {
		if err := s.Apply(b); err != nil {
			logs.Errorf("mirror: %v", err)
		}
	})
}
