package clock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrClockBackwards = errors.New("clock cannot move backwards")

// AdvanceHook runs synchronously after every forward move of the clock.
type AdvanceHook func(ctx context.Context, now time.Time) error

// Logical is the only time source used for scheduling. It moves exclusively through
// Advance / AdvanceTo, never on its own.
type Logical struct {
	mu  sync.RWMutex
	now time.Time

	// advanceMu serializes advances and their hooks without blocking Now.
	advanceMu sync.Mutex
	hooksMu   sync.Mutex
	hooks     []AdvanceHook
}

func NewLogical(start time.Time) *Logical {
	return &Logical{now: start.UTC()}
}

func (c *Logical) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// OnAdvance registers a hook. Hooks run in registration order.
func (c *Logical) OnAdvance(hook AdvanceHook) {
	if hook == nil {
		return
	}
	c.hooksMu.Lock()
	c.hooks = append(c.hooks, hook)
	c.hooksMu.Unlock()
}

// Advance moves the clock forward by d and runs every hook before returning.
// A zero duration still runs the hooks so a harness can force a sweep.
func (c *Logical) Advance(ctx context.Context, d time.Duration) error {
	if d < 0 {
		return ErrClockBackwards
	}

	c.advanceMu.Lock()
	defer c.advanceMu.Unlock()

	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	return c.runHooks(ctx, now)
}

// AdvanceTo moves the clock to t. It is a no-op when t is not after the current time.
func (c *Logical) AdvanceTo(ctx context.Context, t time.Time) error {
	c.advanceMu.Lock()
	defer c.advanceMu.Unlock()

	c.mu.Lock()
	if !t.After(c.now) {
		c.mu.Unlock()
		return nil
	}
	c.now = t.UTC()
	now := c.now
	c.mu.Unlock()

	return c.runHooks(ctx, now)
}

func (c *Logical) runHooks(ctx context.Context, now time.Time) error {
	c.hooksMu.Lock()
	hooks := make([]AdvanceHook, len(c.hooks))
	copy(hooks, c.hooks)
	c.hooksMu.Unlock()

	var errs []error
	for _, hook := range hooks {
		if err := hook(ctx, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
