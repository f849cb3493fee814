package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
)

type ledgerUnderTest interface {
	Create(ctx context.Context, campaign *entity.Campaign) error
	Get(ctx context.Context, paymentID string) (*entity.Campaign, error)
	RecordFailure(ctx context.Context, paymentID string, rec FailureRecord) error
	Reschedule(ctx context.Context, paymentID string, rec RescheduleRecord) error
	RecordTerminal(ctx context.Context, paymentID string, rec TerminalRecord) (bool, error)
	DueBefore(ctx context.Context, before time.Time, afterID string, limit int) ([]string, error)
	ListActiveByAccount(ctx context.Context, accountID string) ([]string, error)
}

var ledgerEpoch = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func newTestCampaign(id, account string) *entity.Campaign {
	return &entity.Campaign{
		PaymentID: id,
		TenantID:  "tenant-1",
		AccountID: account,
		Amount:    decimal.NewFromInt(1999).Shift(-2),
		Currency:  "USD",
		Provider:  "stripe",
		State:     entity.CampaignActive,
		CreatedAt: ledgerEpoch,
		UpdatedAt: ledgerEpoch,
	}
}

func dueAt(d time.Duration) *time.Time {
	t := ledgerEpoch.Add(d)
	return &t
}

func runLedgerContract(t *testing.T, newLedger func(t *testing.T) ledgerUnderTest) {
	ctx := context.Background()

	t.Run("CreateRejectsDuplicate", func(t *testing.T) {
		l := newLedger(t)
		if err := l.Create(ctx, newTestCampaign("pay-1", "acc-1")); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if err := l.Create(ctx, newTestCampaign("pay-1", "acc-1")); !errors.Is(err, ErrCampaignAlreadyExists) {
			t.Fatalf("expected ErrCampaignAlreadyExists, got %v", err)
		}
	})

	t.Run("GetMissingReturnsNil", func(t *testing.T) {
		l := newLedger(t)
		item, err := l.Get(ctx, "missing")
		if err != nil || item != nil {
			t.Fatalf("expected nil, nil; got %v, %v", item, err)
		}
	})

	t.Run("RecordFailureAdvancesAttemptIndex", func(t *testing.T) {
		l := newLedger(t)
		_ = l.Create(ctx, newTestCampaign("pay-1", "acc-1"))

		err := l.RecordFailure(ctx, "pay-1", FailureRecord{
			AttemptIndex: 0, FailedAt: ledgerEpoch, Kind: entity.FailureDeclined,
			Reason: "card_declined", NextDueAt: dueAt(24 * time.Hour), PolicyVersion: "v1",
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		item, _ := l.Get(ctx, "pay-1")
		if item.AttemptIndex != 1 || item.State != entity.CampaignActive {
			t.Fatalf("unexpected campaign: %+v", item)
		}
		if item.NextDueAt == nil || !item.NextDueAt.Equal(ledgerEpoch.Add(24*time.Hour)) {
			t.Fatalf("unexpected due time: %v", item.NextDueAt)
		}
		if len(item.Attempts) != 1 || item.Attempts[0].Reason != "card_declined" {
			t.Fatalf("unexpected attempts: %+v", item.Attempts)
		}

		stale := l.RecordFailure(ctx, "pay-1", FailureRecord{AttemptIndex: 0, FailedAt: ledgerEpoch, NextDueAt: dueAt(time.Hour)})
		if !errors.Is(stale, ErrStaleAttempt) {
			t.Fatalf("expected ErrStaleAttempt, got %v", stale)
		}
	})

	t.Run("RecordFailureRejectsDueBeforeFailure", func(t *testing.T) {
		l := newLedger(t)
		_ = l.Create(ctx, newTestCampaign("pay-1", "acc-1"))

		err := l.RecordFailure(ctx, "pay-1", FailureRecord{AttemptIndex: 0, FailedAt: ledgerEpoch.Add(time.Hour), NextDueAt: dueAt(0)})
		if !errors.Is(err, ErrInvalidDueTime) {
			t.Fatalf("expected ErrInvalidDueTime, got %v", err)
		}
	})

	t.Run("NilDueExhausts", func(t *testing.T) {
		l := newLedger(t)
		_ = l.Create(ctx, newTestCampaign("pay-1", "acc-1"))

		if err := l.RecordFailure(ctx, "pay-1", FailureRecord{AttemptIndex: 0, FailedAt: ledgerEpoch}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		item, _ := l.Get(ctx, "pay-1")
		if item.State != entity.CampaignExhausted || item.NextDueAt != nil {
			t.Fatalf("expected exhausted campaign, got %+v", item)
		}
		err := l.RecordFailure(ctx, "pay-1", FailureRecord{AttemptIndex: 1, FailedAt: ledgerEpoch})
		if !errors.Is(err, ErrCampaignClosed) {
			t.Fatalf("expected ErrCampaignClosed, got %v", err)
		}
	})

	t.Run("RecordTerminalIsIdempotent", func(t *testing.T) {
		l := newLedger(t)
		_ = l.Create(ctx, newTestCampaign("pay-1", "acc-1"))
		_ = l.RecordFailure(ctx, "pay-1", FailureRecord{AttemptIndex: 0, FailedAt: ledgerEpoch, NextDueAt: dueAt(time.Hour)})

		rec := TerminalRecord{
			State:   entity.CampaignSucceeded,
			Attempt: &entity.Attempt{Index: 1, Outcome: entity.AttemptSucceeded, At: ledgerEpoch.Add(time.Hour)},
			At:      ledgerEpoch.Add(time.Hour),
		}
		changed, err := l.RecordTerminal(ctx, "pay-1", rec)
		if err != nil || !changed {
			t.Fatalf("expected first terminal to apply, got changed=%v err=%v", changed, err)
		}
		changed, err = l.RecordTerminal(ctx, "pay-1", rec)
		if err != nil || changed {
			t.Fatalf("expected second terminal to be a no-op, got changed=%v err=%v", changed, err)
		}

		item, _ := l.Get(ctx, "pay-1")
		if len(item.Attempts) != 2 {
			t.Fatalf("expected one failure and one success, got %+v", item.Attempts)
		}
		if _, err := l.RecordTerminal(ctx, "pay-1", TerminalRecord{State: entity.CampaignActive}); !errors.Is(err, ErrInvalidOutcome) {
			t.Fatalf("expected ErrInvalidOutcome, got %v", err)
		}
	})

	t.Run("DueBeforeSkipsTerminalAndSortsAscending", func(t *testing.T) {
		l := newLedger(t)
		for _, id := range []string{"pay-c", "pay-a", "pay-b", "pay-d"} {
			_ = l.Create(ctx, newTestCampaign(id, "acc-1"))
			_ = l.RecordFailure(ctx, id, FailureRecord{AttemptIndex: 0, FailedAt: ledgerEpoch, NextDueAt: dueAt(time.Hour)})
		}
		_, _ = l.RecordTerminal(ctx, "pay-b", TerminalRecord{State: entity.CampaignCancelled, Reason: "account closed", At: ledgerEpoch})
		_ = l.Reschedule(ctx, "pay-d", RescheduleRecord{AttemptIndex: 1, NextDueAt: ledgerEpoch.Add(48 * time.Hour), At: ledgerEpoch})

		ids, err := l.DueBefore(ctx, ledgerEpoch.Add(time.Hour), "", 0)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if fmt.Sprint(ids) != "[pay-a pay-c]" {
			t.Fatalf("unexpected due ids: %v", ids)
		}

		limited, _ := l.DueBefore(ctx, ledgerEpoch.Add(time.Hour), "", 1)
		if fmt.Sprint(limited) != "[pay-a]" {
			t.Fatalf("unexpected limited ids: %v", limited)
		}

		next, _ := l.DueBefore(ctx, ledgerEpoch.Add(time.Hour), "pay-a", 1)
		if fmt.Sprint(next) != "[pay-c]" {
			t.Fatalf("unexpected page after pay-a: %v", next)
		}

		last, _ := l.DueBefore(ctx, ledgerEpoch.Add(time.Hour), "pay-b", 0)
		if fmt.Sprint(last) != "[pay-c]" {
			t.Fatalf("unexpected page after a cursor that is not due: %v", last)
		}

		active, _ := l.ListActiveByAccount(ctx, "acc-1")
		if fmt.Sprint(active) != "[pay-a pay-c pay-d]" {
			t.Fatalf("unexpected active ids: %v", active)
		}
	})

	t.Run("ConcurrentFailuresOnDistinctCampaigns", func(t *testing.T) {
		l := newLedger(t)
		const n = 20
		for i := 0; i < n; i++ {
			_ = l.Create(ctx, newTestCampaign(fmt.Sprintf("pay-%02d", i), "acc-1"))
		}

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- l.RecordFailure(ctx, fmt.Sprintf("pay-%02d", i), FailureRecord{AttemptIndex: 0, FailedAt: ledgerEpoch, NextDueAt: dueAt(time.Hour)})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}

		ids, _ := l.DueBefore(ctx, ledgerEpoch.Add(time.Hour), "", 0)
		if len(ids) != n {
			t.Fatalf("expected %d due campaigns, got %d", n, len(ids))
		}
	})

	t.Run("ConcurrentFailuresOnSameCampaignSerialize", func(t *testing.T) {
		l := newLedger(t)
		_ = l.Create(ctx, newTestCampaign("pay-1", "acc-1"))

		var wg sync.WaitGroup
		results := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- l.RecordFailure(ctx, "pay-1", FailureRecord{AttemptIndex: 0, FailedAt: ledgerEpoch, NextDueAt: dueAt(time.Hour)})
			}()
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			if err == nil {
				wins++
			} else if !errors.Is(err, ErrStaleAttempt) {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if wins != 1 {
			t.Fatalf("expected exactly one winner, got %d", wins)
		}
	})
}
