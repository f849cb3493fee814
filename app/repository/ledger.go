package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
)

var (
	ErrCampaignNotFound      = errors.New("campaign not found")
	ErrCampaignAlreadyExists = errors.New("campaign already exists")
	ErrCampaignClosed        = errors.New("campaign is closed")
	ErrStaleAttempt          = errors.New("stale attempt index")
	ErrInvalidDueTime        = errors.New("next due time precedes the failure")
	ErrInvalidOutcome        = errors.New("invalid terminal outcome")
)

// CampaignLedger is the durable campaign store. Every backend applies the same
// transition rules.
type CampaignLedger interface {
	Create(ctx context.Context, campaign *entity.Campaign) error
	Get(ctx context.Context, paymentID string) (*entity.Campaign, error)
	RecordFailure(ctx context.Context, paymentID string, rec FailureRecord) error
	Reschedule(ctx context.Context, paymentID string, rec RescheduleRecord) error
	RecordTerminal(ctx context.Context, paymentID string, rec TerminalRecord) (bool, error)
	DueBefore(ctx context.Context, before time.Time, afterID string, limit int) ([]string, error)
	ListActiveByAccount(ctx context.Context, accountID string) ([]string, error)
}

type TenantConfigStore interface {
	List(ctx context.Context) ([]*entity.TenantConfig, error)
	Save(ctx context.Context, cfg *entity.TenantConfig, revision *entity.ConfigRevision) error
	Delete(ctx context.Context, tenantID string, revision *entity.ConfigRevision) error
	History(ctx context.Context, tenantID string, limit int) ([]*entity.ConfigRevision, error)
	LatestRevision(ctx context.Context) (int64, error)
}

var (
	_ CampaignLedger    = (*CampaignRepository)(nil)
	_ CampaignLedger    = (*MemoryCampaignLedger)(nil)
	_ CampaignLedger    = (*RedisCampaignLedger)(nil)
	_ TenantConfigStore = (*TenantConfigRepository)(nil)
	_ TenantConfigStore = (*MemoryTenantConfigStore)(nil)
)

// FailureRecord describes a failed attempt. A nil NextDueAt exhausts the campaign.
type FailureRecord struct {
	AttemptIndex  int
	FailedAt      time.Time
	Kind          entity.FailureKind
	Reason        string
	NextDueAt     *time.Time
	PolicyVersion string
}

type RescheduleRecord struct {
	AttemptIndex  int
	NextDueAt     time.Time
	PolicyVersion string
	At            time.Time
}

type TerminalRecord struct {
	State   entity.CampaignState
	Reason  string
	Attempt *entity.Attempt
	At      time.Time
}

func (r FailureRecord) validate() error {
	if r.NextDueAt != nil && r.NextDueAt.Before(r.FailedAt) {
		return ErrInvalidDueTime
	}
	return nil
}

func (r TerminalRecord) validate() error {
	if !r.State.Terminal() {
		return ErrInvalidOutcome
	}
	return nil
}

// applyFailure mutates c in place. Callers hold whatever serializes the campaign.
func applyFailure(c *entity.Campaign, rec FailureRecord) error {
	if c.State.Terminal() {
		return ErrCampaignClosed
	}
	if rec.AttemptIndex != c.AttemptIndex {
		return ErrStaleAttempt
	}
	if c.LastFailureAt != nil && rec.FailedAt.Before(*c.LastFailureAt) {
		return ErrInvalidDueTime
	}

	failedAt := rec.FailedAt
	c.Attempts = append(c.Attempts, entity.Attempt{
		Index:   rec.AttemptIndex,
		Outcome: entity.AttemptFailed,
		Kind:    rec.Kind,
		Reason:  rec.Reason,
		At:      failedAt,
	})
	c.AttemptIndex = rec.AttemptIndex + 1
	c.LastFailureAt = &failedAt
	c.LastFailureKind = rec.Kind
	c.PolicyVersion = rec.PolicyVersion
	c.UpdatedAt = failedAt
	if rec.NextDueAt == nil {
		c.State = entity.CampaignExhausted
		c.NextDueAt = nil
		return nil
	}
	due := *rec.NextDueAt
	c.NextDueAt = &due
	return nil
}

func applyReschedule(c *entity.Campaign, rec RescheduleRecord) error {
	if c.State.Terminal() {
		return ErrCampaignClosed
	}
	if rec.AttemptIndex != c.AttemptIndex {
		return ErrStaleAttempt
	}
	if c.LastFailureAt != nil && rec.NextDueAt.Before(*c.LastFailureAt) {
		return ErrInvalidDueTime
	}
	due := rec.NextDueAt
	c.NextDueAt = &due
	c.PolicyVersion = rec.PolicyVersion
	c.UpdatedAt = rec.At
	return nil
}

// applyTerminal reports false when the campaign was already terminal.
func applyTerminal(c *entity.Campaign, rec TerminalRecord) bool {
	if c.State.Terminal() {
		return false
	}
	c.State = rec.State
	c.NextDueAt = nil
	if rec.State == entity.CampaignCancelled {
		c.CancelReason = rec.Reason
	}
	if rec.Attempt != nil {
		c.Attempts = append(c.Attempts, *rec.Attempt)
	}
	c.UpdatedAt = rec.At
	return true
}

func isDue(c *entity.Campaign, before time.Time) bool {
	return c.State == entity.CampaignActive && c.NextDueAt != nil && !c.NextDueAt.After(before)
}

func limitIDs(ids []string, limit int) []string {
	return pageIDs(ids, "", limit)
}

// pageIDs sorts ids and returns at most limit of them strictly after afterID.
func pageIDs(ids []string, afterID string, limit int) []string {
	sort.Strings(ids)
	if afterID != "" {
		ids = ids[sort.SearchStrings(ids, afterID):]
		if len(ids) > 0 && ids[0] == afterID {
			ids = ids[1:]
		}
	}
	if limit > 0 && len(ids) > limit {
		return ids[:limit]
	}
	return ids
}
