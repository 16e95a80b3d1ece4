package mirror

import (
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/westonnelson/Alpha-sub001/pkg/exception"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// ReadyPolicy decides when a collection becomes ready.
type ReadyPolicy uint8

const (
	// ReadyOnSnapshot waits for the batch that completes the initial snapshot.
	ReadyOnSnapshot ReadyPolicy = iota
	// ReadyOnFirstBatch flips ready after the first applied batch, whatever
	// it contained.
	ReadyOnFirstBatch
)

// CollectionConfig describes one mirrored collection.
type CollectionConfig struct {
	Name string
	// Link is a dot separated property path whose value feeds the secondary
	// index, e.g. "oauth.discord.userId". Empty disables the index.
	Link   string
	Policy ReadyPolicy
}

// Collection is an in-memory replica of one external collection. Mutation
// happens on the feed goroutine only; lookups are safe from any goroutine.
type Collection struct {
	cfg  CollectionConfig
	link []string

	mu      sync.RWMutex
	records map[string]Record
	// index maps a link value to every record holding it, in link order. The
	// last entry is the one Match resolves to. owners maps record id back to
	// its link value so removals and relinks can clean up.
	index  map[string][]string
	owners map[string]string
	ready  bool
}

// NewCollection creates an empty collection.
func NewCollection(cfg CollectionConfig) *Collection {
	c := &Collection{
		cfg:     cfg,
		records: make(map[string]Record),
		index:   make(map[string][]string),
		owners:  make(map[string]string),
	}
	if cfg.Link != "" {
		c.link = strings.Split(cfg.Link, ".")
	}
	return c
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.cfg.Name
}

// Get returns a copy of the record stored under id.
func (c *Collection) Get(id string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[id]
	if !ok {
		return Record{}, false
	}
	return r.Clone(), true
}

// Keys returns every record id in sorted order.
func (c *Collection) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.records))
	for id := range c.records {
		keys = append(keys, id)
	}
	c.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

// Len returns the number of records.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Match resolves a secondary index key to the owning record id.
func (c *Collection) Match(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.index[key]
	if len(ids) == 0 {
		return "", false
	}
	return ids[len(ids)-1], true
}

// Ready reports whether the initial snapshot has been applied.
func (c *Collection) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Apply applies a batch in order. A batch holding an unknown change kind is
// rejected as a whole.
func (c *Collection) Apply(b Batch) error {
	for i, ch := range b.Changes {
		switch ch.Kind {
		case ChangeAdded, ChangeModified, ChangeRemoved:
		default:
			return errors.Wrap(exception.ErrUnknownChangeKind, "validate batch").With("index", i).With("id", ch.ID)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range b.Changes {
		if ch.ID == "" {
			logs.Warnf("mirror %s: skip %s change without id", c.cfg.Name, ch.Kind)
			continue
		}
		switch ch.Kind {
		case ChangeAdded, ChangeModified:
			c.upsertLocked(Record{ID: ch.ID, Properties: ch.Properties})
		case ChangeRemoved:
			c.removeLocked(ch.ID)
		}
	}

	switch c.cfg.Policy {
	case ReadyOnFirstBatch:
		c.ready = true
	default:
		if b.Complete || !b.Snapshot {
			c.ready = true
		}
	}
	return nil
}

func (c *Collection) upsertLocked(r Record) {
	c.records[r.ID] = r
	if c.link == nil {
		return
	}

	next, hasNext := lookupPath(r.Properties, c.link)
	prev, hasPrev := c.owners[r.ID]
	if hasPrev && hasNext && prev == next {
		return
	}
	if hasPrev {
		c.unlinkLocked(r.ID, prev)
	}
	if hasNext {
		c.index[next] = append(c.index[next], r.ID)
		c.owners[r.ID] = next
	}
}

func (c *Collection) removeLocked(id string) {
	delete(c.records, id)
	if key, ok := c.owners[id]; ok {
		c.unlinkLocked(id, key)
	}
}

// unlinkLocked drops id from the owners of key. Any other record still
// linking key keeps it resolvable.
func (c *Collection) unlinkLocked(id, key string) {
	delete(c.owners, id)
	ids := slices.DeleteFunc(c.index[key], func(v string) bool { return v == id })
	if len(ids) == 0 {
		delete(c.index, key)
		return
	}
	c.index[key] = ids
}

func lookupPath(props map[string]any, path []string) (string, bool) {
	var cur any = props
	for _, part := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = m[part]
		if !ok {
			return "", false
		}
	}
	switch v := cur.(type) {
	case string:
		return v, v != ""
	case int64:
		return strconv.FormatInt(v, 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}
