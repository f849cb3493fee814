package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
	"github.com/vibast-solutions/ms-go-payment-retries/app/metrics"
)

// DefaultRetrySchedule is the redelivery spacing applied after a failed delivery.
var DefaultRetrySchedule = []time.Duration{
	15 * time.Minute,
	time.Hour,
	24 * time.Hour,
	48 * time.Hour,
}

type Clock interface {
	Now() time.Time
}

type Config struct {
	RetrySchedule   []time.Duration
	RatePerSecond   float64
	DeliveryTimeout time.Duration
}

// Bus fans events out to subscriptions. Publishing is serialized so every subscription
// sees events in journal order.
type Bus struct {
	cfg      Config
	clock    Clock
	journal  Journal
	log      *DeliveryLog
	observer metrics.BusObserver
	logger   logrus.FieldLogger

	publishMu sync.Mutex

	subsMu sync.RWMutex
	subs   map[string]*Subscription
}

func NewBus(cfg Config, clock Clock, journal Journal, log *DeliveryLog, observer metrics.BusObserver, logger logrus.FieldLogger) *Bus {
	if cfg.RetrySchedule == nil {
		cfg.RetrySchedule = DefaultRetrySchedule
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	if observer == nil {
		observer = metrics.Noop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bus{
		cfg:      cfg,
		clock:    clock,
		journal:  journal,
		log:      log,
		observer: observer,
		logger:   logger,
		subs:     make(map[string]*Subscription),
	}
}

// Publish enqueues events and waits for the first delivery attempt of each of them on
// every matching subscription.
func (b *Bus) Publish(ctx context.Context, events ...*entity.Event) error {
	receipt, err := b.Enqueue(ctx, events...)
	if waitErr := receipt.Wait(ctx); waitErr != nil {
		return errors.Join(err, waitErr)
	}
	return err
}

// Enqueue journals events and hands them to every matching subscription without
// waiting for delivery. The receipt covers every hand-off made, even when an error is
// returned for a later event.
func (b *Bus) Enqueue(ctx context.Context, events ...*entity.Event) (*Receipt, error) {
	receipt := &Receipt{}

	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	subs := b.snapshot()
	for _, event := range events {
		if event == nil || !event.Type.Valid() {
			return receipt, ErrInvalidEvent
		}
		if event.ID == "" {
			event.ID = uuid.NewString()
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = b.clock.Now()
		}
		if err := b.journal.Append(ctx, event); err != nil {
			return receipt, fmt.Errorf("append event %s to journal: %w", event.ID, err)
		}
		b.observer.RecordPublished(string(event.Type))

		for _, sub := range subs {
			if !sub.accepts(event) {
				continue
			}
			receipt.pending = append(receipt.pending, pendingDelivery{
				subscriptionID: sub.id,
				eventID:        event.ID,
				result:         sub.enqueue(event),
			})
		}
	}
	return receipt, nil
}

func (b *Bus) Subscribe(spec SubscriptionSpec) (*Subscription, error) {
	if spec.Sink == nil {
		return nil, fmt.Errorf("%w: sink is required", ErrInvalidSubscription)
	}
	for _, t := range spec.EventTypes {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidSubscription, t)
		}
	}
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}

	// Taking publishMu keeps a new subscription from seeing half of a publish batch.
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	if _, exists := b.subs[spec.ID]; exists {
		return nil, ErrSubscriptionExists
	}

	sub := newSubscription(b, spec)
	b.subs[spec.ID] = sub
	go sub.run()

	b.logger.WithFields(logrus.Fields{
		"subscription_id": sub.id,
		"name":            sub.name,
	}).Info("subscription_added")
	return sub, nil
}

func (b *Bus) Unsubscribe(id string) error {
	b.subsMu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.subsMu.Unlock()

	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.close()
	b.logger.WithField("subscription_id", id).Info("subscription_removed")
	return nil
}

func (b *Bus) Subscription(id string) (*Subscription, bool) {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	sub, ok := b.subs[id]
	return sub, ok
}

// Subscriptions lists the active subscriptions ordered by id.
func (b *Bus) Subscriptions() []SubscriptionInfo {
	subs := b.snapshot()
	items := make([]SubscriptionInfo, 0, len(subs))
	for _, sub := range subs {
		items = append(items, sub.Info())
	}
	return items
}

// Deliveries returns the retained delivery log of a subscription.
func (b *Bus) Deliveries(subscriptionID string) []entity.DeliveryRecord {
	if b.log == nil {
		return []entity.DeliveryRecord{}
	}
	return b.log.Records(subscriptionID)
}

func (b *Bus) Since(ctx context.Context, sequence uint64, limit int) ([]*entity.Event, error) {
	return b.journal.Since(ctx, sequence, limit)
}

// Wake lets backed-off subscriptions re-check their redelivery deadline. It is
// registered as a clock advance hook.
func (b *Bus) Wake(_ context.Context, _ time.Time) error {
	for _, sub := range b.snapshot() {
		sub.signal()
	}
	return nil
}

func (b *Bus) Close() {
	b.subsMu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.subsMu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (b *Bus) snapshot() []*Subscription {
	b.subsMu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subsMu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	return subs
}

// Receipt tracks the first delivery attempt of every hand-off made by Enqueue.
type Receipt struct {
	pending []pendingDelivery
}

type pendingDelivery struct {
	subscriptionID string
	eventID        string
	result         <-chan error
}

// Wait blocks until every first attempt has been reported or ctx is done. A receipt
// can be waited on once.
func (r *Receipt) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}

	var errs []error
	for _, p := range r.pending {
		select {
		case err := <-p.result:
			if err != nil {
				errs = append(errs, fmt.Errorf("subscription %s event %s: %w", p.subscriptionID, p.eventID, err))
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrDeliveryFailure, errors.Join(errs...))
}
