package provider

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeDeclined  Outcome = "declined"
)

// ErrDeclined may be wrapped by executors that report a decline as an error.
var ErrDeclined = errors.New("payment declined")

type AttemptInput struct {
	PaymentID    string
	TenantID     string
	AccountID    string
	InvoiceID    string
	AttemptIndex int

	Amount   decimal.Decimal
	Currency string

	CustomerRef      string
	PaymentMethodRef string
	Metadata         map[string]string
}

type AttemptOutput struct {
	Outcome           Outcome
	ProviderPaymentID string
	Reason            string
}

// Executor performs one payment attempt. A returned error means the attempt could not
// be carried out (plugin failure); a decline is reported through AttemptOutput.
type Executor interface {
	Code() string
	Attempt(ctx context.Context, input *AttemptInput) (*AttemptOutput, error)
}
