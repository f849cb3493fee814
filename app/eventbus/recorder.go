package eventbus

import (
	"context"
	"errors"
	"sync"

	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
)

var ErrInjectedFailure = errors.New("injected delivery failure")

// Recorder is an in-process sink for simulation harnesses and tests. It keeps every
// acknowledged event and can be told to reject the next deliveries.
type Recorder struct {
	mu       sync.Mutex
	events   []entity.Event
	failures int
	changed  chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{changed: make(chan struct{})}
}

func (r *Recorder) Deliver(_ context.Context, event *entity.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failures > 0 {
		r.failures--
		return ErrInjectedFailure
	}
	r.events = append(r.events, *event)
	close(r.changed)
	r.changed = make(chan struct{})
	return nil
}

// FailNext makes the next n deliveries fail.
func (r *Recorder) FailNext(n int) {
	r.mu.Lock()
	r.failures = n
	r.mu.Unlock()
}

func (r *Recorder) Events() []entity.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entity.Event(nil), r.events...)
}

// WaitFor blocks until at least n events were recorded or ctx is done.
func (r *Recorder) WaitFor(ctx context.Context, n int) ([]entity.Event, error) {
	for {
		r.mu.Lock()
		if len(r.events) >= n {
			events := append([]entity.Event(nil), r.events...)
			r.mu.Unlock()
			return events, nil
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return r.Events(), ctx.Err()
		}
	}
}
