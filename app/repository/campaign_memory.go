package repository

import (
	"context"
	"sync"
	"time"

	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
)

type campaignSlot struct {
	mu       sync.Mutex
	campaign *entity.Campaign
}

// MemoryCampaignLedger keeps campaigns in process. Each campaign has its own lock, so
// unrelated payments never wait on each other.
type MemoryCampaignLedger struct {
	slots sync.Map
}

func NewMemoryCampaignLedger() *MemoryCampaignLedger {
	return &MemoryCampaignLedger{}
}

func (l *MemoryCampaignLedger) Create(_ context.Context, campaign *entity.Campaign) error {
	slot := &campaignSlot{campaign: campaign.Clone()}
	if _, loaded := l.slots.LoadOrStore(campaign.PaymentID, slot); loaded {
		return ErrCampaignAlreadyExists
	}
	return nil
}

func (l *MemoryCampaignLedger) Get(_ context.Context, paymentID string) (*entity.Campaign, error) {
	slot, ok := l.slot(paymentID)
	if !ok {
		return nil, nil
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.campaign.Clone(), nil
}

func (l *MemoryCampaignLedger) RecordFailure(_ context.Context, paymentID string, rec FailureRecord) error {
	if err := rec.validate(); err != nil {
		return err
	}
	slot, ok := l.slot(paymentID)
	if !ok {
		return ErrCampaignNotFound
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()

	updated := slot.campaign.Clone()
	if err := applyFailure(updated, rec); err != nil {
		return err
	}
	slot.campaign = updated
	return nil
}

func (l *MemoryCampaignLedger) Reschedule(_ context.Context, paymentID string, rec RescheduleRecord) error {
	slot, ok := l.slot(paymentID)
	if !ok {
		return ErrCampaignNotFound
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()

	updated := slot.campaign.Clone()
	if err := applyReschedule(updated, rec); err != nil {
		return err
	}
	slot.campaign = updated
	return nil
}

func (l *MemoryCampaignLedger) RecordTerminal(_ context.Context, paymentID string, rec TerminalRecord) (bool, error) {
	if err := rec.validate(); err != nil {
		return false, err
	}
	slot, ok := l.slot(paymentID)
	if !ok {
		return false, ErrCampaignNotFound
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()

	updated := slot.campaign.Clone()
	if !applyTerminal(updated, rec) {
		return false, nil
	}
	slot.campaign = updated
	return true, nil
}

func (l *MemoryCampaignLedger) DueBefore(_ context.Context, before time.Time, afterID string, limit int) ([]string, error) {
	ids := make([]string, 0)
	l.slots.Range(func(key, value interface{}) bool {
		slot := value.(*campaignSlot)
		slot.mu.Lock()
		due := isDue(slot.campaign, before)
		slot.mu.Unlock()
		if due {
			ids = append(ids, key.(string))
		}
		return true
	})
	return pageIDs(ids, afterID, limit), nil
}

func (l *MemoryCampaignLedger) ListActiveByAccount(_ context.Context, accountID string) ([]string, error) {
	ids := make([]string, 0)
	l.slots.Range(func(key, value interface{}) bool {
		slot := value.(*campaignSlot)
		slot.mu.Lock()
		match := slot.campaign.AccountID == accountID && slot.campaign.State == entity.CampaignActive
		slot.mu.Unlock()
		if match {
			ids = append(ids, key.(string))
		}
		return true
	})
	return limitIDs(ids, 0), nil
}

func (l *MemoryCampaignLedger) slot(paymentID string) (*campaignSlot, bool) {
	value, ok := l.slots.Load(paymentID)
	if !ok {
		return nil, false
	}
	return value.(*campaignSlot), true
}
