package chaos

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Config controls fault injection on relayed requests.
type Config struct {
	Seed          int64
	DropRate      float64
	DuplicateRate float64
	MaxDelay      time.Duration
}

// Enabled reports whether any fault is configured.
func (c Config) Enabled() bool {
	return c.DropRate > 0 || c.DuplicateRate > 0 || c.MaxDelay > 0
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("dropRate must be between 0 and 1")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return fmt.Errorf("duplicateRate must be between 0 and 1")
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("maxDelay must be >= 0")
	}
	return nil
}

// Verdict is what the engine decided for one request.
type Verdict struct {
	Drop      bool
	Duplicate bool
	Delay     time.Duration
}

// Engine decides faults for requests passing through the broker. A nil
// *Engine passes everything through untouched.
type Engine struct {
	cfg Config
	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine creates a chaos engine with validation.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Decide draws the verdict for the next request.
func (e *Engine) Decide() Verdict {
	if e == nil {
		return Verdict{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.DropRate > 0 && e.rng.Float64() < e.cfg.DropRate {
		return Verdict{Drop: true}
	}
	var v Verdict
	if e.cfg.DuplicateRate > 0 && e.rng.Float64() < e.cfg.DuplicateRate {
		v.Duplicate = true
	}
	if maxDelay := e.cfg.MaxDelay.Nanoseconds(); maxDelay > 0 {
		v.Delay = time.Duration(e.rng.Int63n(maxDelay + 1))
	}
	return v
}
