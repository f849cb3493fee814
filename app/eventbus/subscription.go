package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
)

// Sink receives events for one subscription. A nil error acknowledges the event.
type Sink interface {
	Deliver(ctx context.Context, event *entity.Event) error
}

type SubscriptionSpec struct {
	ID         string
	Name       string
	TenantID   string
	EventTypes []entity.EventType
	Sink       Sink
}

type SubscriptionInfo struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	TenantID     string             `json:"tenant,omitempty"`
	EventTypes   []entity.EventType `json:"eventTypes,omitempty"`
	Pending      int                `json:"pending"`
	BackoffUntil *time.Time         `json:"backoffUntil,omitempty"`
}

type delivery struct {
	event    *entity.Event
	attempts int
	result   chan error
}

// report sends the first attempt result. Later calls are ignored.
func (d *delivery) report(err error) {
	if d.result == nil {
		return
	}
	d.result <- err
	d.result = nil
}

// Subscription owns a FIFO queue drained by a single worker. A failed head blocks the
// queue until its redelivery deadline on the bus clock, so events are never reordered.
type Subscription struct {
	id       string
	name     string
	tenantID string
	types    []entity.EventType
	sink     Sink
	bus      *Bus
	limiter  *rate.Limiter
	logger   logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	queue        []*delivery
	backoffUntil time.Time
	closed       bool
	wake         chan struct{}
	stopped      chan struct{}
}

func newSubscription(b *Bus, spec SubscriptionSpec) *Subscription {
	limit := rate.Inf
	burst := 1
	if b.cfg.RatePerSecond > 0 {
		limit = rate.Limit(b.cfg.RatePerSecond)
		burst = max(1, int(b.cfg.RatePerSecond))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Subscription{
		id:       spec.ID,
		name:     spec.Name,
		tenantID: spec.TenantID,
		types:    lo.Uniq(spec.EventTypes),
		sink:     spec.Sink,
		bus:      b,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   b.logger.WithField("subscription_id", spec.ID),
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
}

func (s *Subscription) ID() string {
	return s.id
}

func (s *Subscription) Info() SubscriptionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := SubscriptionInfo{
		ID:         s.id,
		Name:       s.name,
		TenantID:   s.tenantID,
		EventTypes: s.types,
		Pending:    len(s.queue),
	}
	if !s.backoffUntil.IsZero() {
		until := s.backoffUntil
		info.BackoffUntil = &until
	}
	return info
}

// Done is closed once the worker has exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.stopped
}

func (s *Subscription) accepts(event *entity.Event) bool {
	if s.tenantID != "" && s.tenantID != event.TenantID {
		return false
	}
	return len(s.types) == 0 || lo.Contains(s.types, event.Type)
}

func (s *Subscription) enqueue(event *entity.Event) <-chan error {
	result := make(chan error, 1)
	d := &delivery{event: event, result: result}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		d.report(ErrSubscriptionClosed)
		return result
	}
	s.queue = append(s.queue, d)
	if s.backedOffLocked() {
		d.report(ErrSubscriberBackedOff)
	}
	s.signal()
	return result
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) backedOffLocked() bool {
	return !s.backoffUntil.IsZero() && s.bus.clock.Now().Before(s.backoffUntil)
}

func (s *Subscription) run() {
	defer close(s.stopped)

	for {
		d, ok := s.next()
		if !ok {
			return
		}
		if err := s.limiter.Wait(s.ctx); err != nil {
			return
		}
		s.complete(d, s.deliver(d.event))
	}
}

// next blocks until the queue head may be attempted.
func (s *Subscription) next() (*delivery, bool) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, false
		}
		if len(s.queue) > 0 && !s.backedOffLocked() {
			d := s.queue[0]
			s.mu.Unlock()
			return d, true
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-s.ctx.Done():
			return nil, false
		}
	}
}

func (s *Subscription) deliver(event *entity.Event) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.bus.cfg.DeliveryTimeout)
	defer cancel()
	return s.sink.Deliver(ctx, event)
}

func (s *Subscription) complete(d *delivery, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	d.attempts++
	now := s.bus.clock.Now()
	record := entity.DeliveryRecord{
		ID:             uuid.NewString(),
		EventID:        d.event.ID,
		EventType:      d.event.Type,
		SubscriptionID: s.id,
		Attempt:        d.attempts,
		Status:         entity.DeliverySucceeded,
		At:             now,
	}

	if err == nil {
		s.popLocked()
		s.addRecord(record)
		d.report(nil)
		return
	}

	record.Status = entity.DeliveryFailed
	record.Error = err.Error()
	s.bus.observer.RecordDeliveryFailure(s.id)
	d.report(err)

	schedule := s.bus.cfg.RetrySchedule
	if d.attempts > len(schedule) {
		record.Status = entity.DeliveryDropped
		s.addRecord(record)
		s.popLocked()
		s.bus.observer.RecordDeliveryDropped(s.id)
		s.logger.WithFields(logrus.Fields{
			"event_id": d.event.ID,
			"attempts": d.attempts,
		}).WithError(err).Warn("delivery_dropped")
		return
	}

	s.addRecord(record)
	s.backoffUntil = now.Add(schedule[d.attempts-1])
	for _, queued := range s.queue[1:] {
		queued.report(ErrSubscriberBackedOff)
	}
	s.logger.WithFields(logrus.Fields{
		"event_id":      d.event.ID,
		"attempt":       d.attempts,
		"backoff_until": s.backoffUntil,
	}).WithError(err).Warn("delivery_failed")
}

func (s *Subscription) popLocked() {
	s.queue[0] = nil
	s.queue = s.queue[1:]
	s.backoffUntil = time.Time{}
}

func (s *Subscription) addRecord(record entity.DeliveryRecord) {
	if s.bus.log != nil {
		s.bus.log.Add(record)
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, d := range s.queue {
		d.report(ErrSubscriptionClosed)
	}
	s.queue = nil
	s.mu.Unlock()

	s.cancel()
}
