package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type CampaignState string

const (
	CampaignActive    CampaignState = "active"
	CampaignSucceeded CampaignState = "succeeded"
	CampaignExhausted CampaignState = "exhausted"
	CampaignCancelled CampaignState = "cancelled"
)

func (s CampaignState) Terminal() bool {
	return s == CampaignSucceeded || s == CampaignExhausted || s == CampaignCancelled
}

type FailureKind string

const (
	// FailureDeclined is a payment the provider refused; timeouts are recorded the same way.
	FailureDeclined FailureKind = "declined"
	// FailurePlugin is an executor or provider error rather than a decision on the payment.
	FailurePlugin FailureKind = "plugin"
)

type AttemptOutcome string

const (
	AttemptFailed    AttemptOutcome = "failed"
	AttemptSucceeded AttemptOutcome = "succeeded"
)

type Attempt struct {
	Index   int
	Outcome AttemptOutcome
	Kind    FailureKind
	Reason  string
	At      time.Time
}

type Campaign struct {
	PaymentID string

	TenantID  string
	AccountID string
	InvoiceID string

	Amount   decimal.Decimal
	Currency string
	Provider string

	CustomerRef      string
	PaymentMethodRef string

	State        CampaignState
	AttemptIndex int

	NextDueAt       *time.Time
	LastFailureAt   *time.Time
	LastFailureKind FailureKind
	PolicyVersion   string

	CancelReason string

	Attempts []Attempt

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c *Campaign) InvoiceDriven() bool {
	return c.InvoiceID != ""
}

// Clone returns a deep copy so stores never share slices or pointers with callers.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	out := *c
	if c.NextDueAt != nil {
		t := *c.NextDueAt
		out.NextDueAt = &t
	}
	if c.LastFailureAt != nil {
		t := *c.LastFailureAt
		out.LastFailureAt = &t
	}
	out.Attempts = append([]Attempt(nil), c.Attempts...)
	return &out
}
