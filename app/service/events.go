package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
	"github.com/vibast-solutions/ms-go-payment-retries/app/eventbus"
)

type eventPublisher interface {
	Enqueue(ctx context.Context, events ...*entity.Event) (*eventbus.Receipt, error)
}

// awaitDelivery waits on the first delivery attempts of a receipt. Failures are logged
// and returned but never undo the state change that produced the events.
func awaitDelivery(ctx context.Context, logger logrus.FieldLogger, receipt *eventbus.Receipt, enqueueErr error) error {
	err := enqueueErr
	if waitErr := receipt.Wait(ctx); waitErr != nil {
		if err == nil {
			err = waitErr
		}
	}
	if err != nil {
		logger.WithError(err).Warn("event_delivery_failed")
	}
	return err
}

// enqueued holds events handed to the bus under a campaign lock, to be awaited after
// the lock is released.
type enqueued struct {
	receipt *eventbus.Receipt
	err     error
}

func (e enqueued) await(ctx context.Context, logger logrus.FieldLogger) error {
	return awaitDelivery(ctx, logger, e.receipt, e.err)
}
