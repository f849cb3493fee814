package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/vibast-solutions/ms-go-payment-retries/app/repository"
)

// Sweep attempts every campaign due at or before now, in ascending payment id order.
// It is registered as a clock advance hook. Event delivery failures are logged and
// counted by the bus; only ledger errors are returned.
func (o *RetryOrchestrator) Sweep(ctx context.Context, now time.Time) error {
	started := time.Now()
	seen := make(map[string]struct{})
	var firstErr error

	// Pages are keyed by payment id so that campaigns still due after their
	// attempt, or skipped while in flight, do not pin the sweep to the first page.
	after := ""
	for {
		ids, err := o.ledger.DueBefore(ctx, now, after, o.cfg.SweepBatchSize)
		if err != nil {
			return keepFirstErr(firstErr, err)
		}
		if len(ids) == 0 {
			break
		}
		after = ids[len(ids)-1]

		fresh := make([]string, 0, len(ids))
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			fresh = append(fresh, id)
		}

		firstErr = keepFirstErr(firstErr, o.sweepBatch(ctx, fresh, now))
		if o.cfg.SweepBatchSize <= 0 || len(ids) < o.cfg.SweepBatchSize {
			break
		}
	}

	o.observer.RecordSweep(time.Since(started), len(seen))
	if len(seen) > 0 {
		o.logger.WithFields(logrus.Fields{
			"now":        now,
			"due":        len(seen),
			"latency_ms": time.Since(started).Milliseconds(),
		}).Info("sweep_completed")
	}
	return firstErr
}

func (o *RetryOrchestrator) sweepBatch(ctx context.Context, ids []string, now time.Time) error {
	if o.cfg.SweepParallelism <= 1 {
		var firstErr error
		for _, id := range ids {
			firstErr = keepFirstErr(firstErr, o.processDue(ctx, id, now))
		}
		return firstErr
	}

	p := pool.New().WithMaxGoroutines(o.cfg.SweepParallelism).WithErrors()
	for _, id := range ids {
		p.Go(func() error {
			return o.processDue(ctx, id, now)
		})
	}
	return p.Wait()
}

// processDue attempts one due campaign, or moves its due time when the policy it was
// scheduled under has changed and the rederived time is still in the future.
func (o *RetryOrchestrator) processDue(ctx context.Context, paymentID string, now time.Time) error {
	unlock := o.locks.Lock(paymentID)
	campaign, err := o.ledger.Get(ctx, paymentID)
	if err != nil {
		unlock()
		return err
	}
	if campaign == nil || campaign.State.Terminal() || campaign.NextDueAt == nil || campaign.NextDueAt.After(now) {
		unlock()
		return nil
	}

	if o.cfg.DuePolicy == DueRederive && campaign.LastFailureAt != nil {
		current := o.resolver.ResolvePolicy(ctx, campaign.TenantID)
		version := current.Fingerprint()
		if version != campaign.PolicyVersion {
			due, ok := current.NextRetry(campaign.LastFailureKind, campaign.AttemptIndex-1, *campaign.LastFailureAt)
			if ok && due.After(now) {
				err := o.ledger.Reschedule(ctx, paymentID, repository.RescheduleRecord{
					AttemptIndex:  campaign.AttemptIndex,
					NextDueAt:     due,
					PolicyVersion: version,
					At:            now,
				})
				unlock()
				if err != nil {
					return err
				}
				o.campaignLogger(campaign).WithFields(logrus.Fields{
					"attempt_index":   campaign.AttemptIndex,
					"previous_due_at": *campaign.NextDueAt,
					"next_due_at":     due,
				}).Info("campaign_rescheduled")
				return nil
			}
		}
	}

	n := campaign.AttemptIndex
	unlock()

	if err := o.attempt(ctx, paymentID, n, true); err != nil && !errors.Is(err, ErrDeliveryFailure) {
		return err
	}
	return nil
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
