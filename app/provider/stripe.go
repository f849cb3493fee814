package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const CodeStripe = "stripe"

// Amounts in these currencies are already in minor units.
var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {}, "krw": {}, "mga": {},
	"pyg": {}, "rwf": {}, "ugx": {}, "vnd": {}, "vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
}

type StripeConfig struct {
	SecretKey   string
	BaseURL     string
	HTTPTimeout time.Duration
}

// StripeExecutor charges the stored payment method off-session through a confirmed
// PaymentIntent.
type StripeExecutor struct {
	cfg    StripeConfig
	client *http.Client
}

func NewStripeExecutor(cfg StripeConfig) *StripeExecutor {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.stripe.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &StripeExecutor{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *StripeExecutor) Code() string {
	return CodeStripe
}

type stripeError struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

type stripePaymentIntent struct {
	ID               string       `json:"id"`
	Status           string       `json:"status"`
	LastPaymentError *stripeError `json:"last_payment_error"`
}

func (p *StripeExecutor) Attempt(ctx context.Context, input *AttemptInput) (*AttemptOutput, error) {
	if strings.TrimSpace(p.cfg.SecretKey) == "" {
		return nil, errors.New("stripe secret key is not configured")
	}

	amount, err := minorUnits(input)
	if err != nil {
		return nil, err
	}

	values := url.Values{}
	values.Set("amount", strconv.FormatInt(amount, 10))
	values.Set("currency", strings.ToLower(input.Currency))
	values.Set("confirm", "true")
	values.Set("off_session", "true")
	if input.CustomerRef != "" {
		values.Set("customer", input.CustomerRef)
	}
	if input.PaymentMethodRef != "" {
		values.Set("payment_method", input.PaymentMethodRef)
	}
	for k, v := range input.Metadata {
		values.Set("metadata["+k+"]", v)
	}
	values.Set("metadata[payment_id]", input.PaymentID)
	values.Set("metadata[tenant_id]", input.TenantID)
	values.Set("metadata[attempt]", strconv.Itoa(input.AttemptIndex))
	if input.InvoiceID != "" {
		values.Set("metadata[invoice_id]", input.InvoiceID)
	}

	idempotencyKey := fmt.Sprintf("%s-%d", input.PaymentID, input.AttemptIndex)
	status, body, err := p.postForm(ctx, "/v1/payment_intents", values, idempotencyKey)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusPaymentRequired:
		var payload struct {
			Error stripeError `json:"error"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, err
		}
		return &AttemptOutput{Outcome: OutcomeDeclined, Reason: declineReason(&payload.Error)}, nil
	case status >= 400:
		return nil, fmt.Errorf("stripe request failed: status=%d body=%s", status, string(body))
	}

	var intent stripePaymentIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, err
	}

	output := &AttemptOutput{ProviderPaymentID: intent.ID}
	switch intent.Status {
	case "succeeded", "processing":
		output.Outcome = OutcomeSucceeded
	case "requires_payment_method":
		output.Outcome = OutcomeDeclined
		output.Reason = declineReason(intent.LastPaymentError)
	case "requires_action", "requires_confirmation":
		output.Outcome = OutcomeDeclined
		output.Reason = intent.Status
	default:
		return nil, fmt.Errorf("stripe payment intent %s in unexpected status %q", intent.ID, intent.Status)
	}
	return output, nil
}

func (p *StripeExecutor) postForm(ctx context.Context, path string, values url.Values, idempotencyKey string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, strings.NewReader(values.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func minorUnits(input *AttemptInput) (int64, error) {
	if !input.Amount.IsPositive() {
		return 0, fmt.Errorf("invalid amount %s", input.Amount.String())
	}
	if _, ok := zeroDecimalCurrencies[strings.ToLower(input.Currency)]; ok {
		return input.Amount.Round(0).IntPart(), nil
	}
	return input.Amount.Shift(2).Round(0).IntPart(), nil
}

func declineReason(e *stripeError) string {
	if e == nil {
		return "declined"
	}
	switch {
	case e.DeclineCode != "":
		return e.DeclineCode
	case e.Code != "":
		return e.Code
	default:
		return "declined"
	}
}
