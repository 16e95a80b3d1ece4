package feed

import (
	"context"
	"time"

	"github.com/westonnelson/Alpha-sub001/internal/bus"
	"github.com/westonnelson/Alpha-sub001/internal/mirror"
	"github.com/westonnelson/Alpha-sub001/internal/obs"
	"github.com/westonnelson/Alpha-sub001/pkg/exception"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

const (
	defaultPageSize     = 500
	defaultPollInterval = time.Second
)

// TailerConfig controls how one collection is followed.
type TailerConfig struct {
	Collection   string
	PageSize     int
	PollInterval time.Duration
	Backoff      Backoff
	Metrics      *obs.Metrics
}

func (c TailerConfig) withDefaults() TailerConfig {
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.Backoff == (Backoff{}) {
		c.Backoff = DefaultBackoff()
	}
	return c
}

// Tailer turns one collection of a Source into an ordered stream of mirror
// batches: the initial snapshot first, then every change after the cursor
// taken before the snapshot started.
type Tailer struct {
	cfg    TailerConfig
	source Source
	out    *bus.Queue[mirror.Batch]
	cursor int64
}

// NewTailer creates a tailer publishing into out.
func NewTailer(cfg TailerConfig, source Source, out *bus.Queue[mirror.Batch]) (*Tailer, error) {
	if source == nil {
		return nil, exception.ErrNilSource
	}
	if cfg.Collection == "" {
		return nil, exception.ErrEmptyCollection
	}
	if out == nil {
		return nil, exception.ErrNilInstance
	}
	return &Tailer{cfg: cfg.withDefaults(), source: source, out: out}, nil
}

// Cursor returns the last change sequence published.
func (t *Tailer) Cursor() int64 {
	return t.cursor
}

// Run publishes the snapshot and then follows changes until ctx is done.
func (t *Tailer) Run(ctx context.Context) error {
	if err := t.retry(ctx, "snapshot", t.snapshot); err != nil {
		return err
	}
	logs.Infof("feed %s: snapshot published, following changes after seq %d", t.cfg.Collection, t.cursor)

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := t.retry(ctx, "poll", t.poll); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-sys.Shutdown():
			return nil
		case <-ticker.C:
		}
	}
}

// retry runs step until it succeeds or ctx is done, backing off between
// failures. A cancelled context is not an error.
func (t *Tailer) retry(ctx context.Context, name string, step func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := step(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if err == bus.ErrQueueClosed {
			return err
		}

		wait := t.cfg.Backoff.Next(attempt)
		logs.Warnf("feed %s: %s failed (attempt %d, retry in %s): %v", t.cfg.Collection, name, attempt, wait, err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (t *Tailer) snapshot(ctx context.Context) error {
	cursor, err := t.source.Cursor(ctx, t.cfg.Collection)
	if err != nil {
		return err
	}

	afterID := ""
	for {
		docs, err := t.source.Snapshot(ctx, t.cfg.Collection, afterID, t.cfg.PageSize)
		if err != nil {
			return err
		}

		complete := len(docs) < t.cfg.PageSize
		batch := mirror.Batch{
			Collection: t.cfg.Collection,
			Changes:    make([]mirror.Change, 0, len(docs)),
			Snapshot:   true,
			Complete:   complete,
		}
		for _, d := range docs {
			if d.Err != nil {
				t.skip(d.Err)
				continue
			}
			batch.Changes = append(batch.Changes, mirror.Change{
				Kind:       mirror.ChangeAdded,
				ID:         d.ID,
				Properties: d.Properties,
			})
		}
		if err := t.out.Publish(ctx, batch); err != nil {
			return err
		}
		if complete {
			t.cursor = cursor
			return nil
		}
		afterID = docs[len(docs)-1].ID
	}
}

func (t *Tailer) poll(ctx context.Context) error {
	for {
		changes, err := t.source.Changes(ctx, t.cfg.Collection, t.cursor, t.cfg.PageSize)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			return nil
		}

		batch := mirror.Batch{
			Collection: t.cfg.Collection,
			Changes:    make([]mirror.Change, 0, len(changes)),
		}
		for _, c := range changes {
			if c.Err != nil {
				t.skip(c.Err)
				continue
			}
			batch.Changes = append(batch.Changes, mirror.Change{
				Kind:       c.Kind,
				ID:         c.ID,
				Properties: c.Properties,
			})
		}
		if len(batch.Changes) != 0 {
			if err := t.out.Publish(ctx, batch); err != nil {
				return err
			}
		}
		t.cursor = changes[len(changes)-1].Seq

		if len(changes) < t.cfg.PageSize {
			return nil
		}
	}
}

// skip drops a row that can never be decoded so the cursor moves past it.
func (t *Tailer) skip(err error) {
	t.cfg.Metrics.IncSkippedRow()
	logs.Errorf("feed %s: skip row: %v", t.cfg.Collection, err)
}
