package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
)

func newStripeTestServer(t *testing.T, status int, body string, captured chan<- *http.Request) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		r.Form, _ = url.ParseQuery(string(raw))
		if captured != nil {
			captured <- r
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func testAttemptInput() *AttemptInput {
	return &AttemptInput{
		PaymentID:    "pay-1",
		TenantID:     "tenant-1",
		InvoiceID:    "inv-1",
		AttemptIndex: 2,
		Amount:       decimal.RequireFromString("12.34"),
		Currency:     "EUR",
		CustomerRef:  "cus_1",
	}
}

func TestStripeAttemptSucceeded(t *testing.T) {
	captured := make(chan *http.Request, 1)
	server := newStripeTestServer(t, http.StatusOK, `{"id":"pi_1","status":"succeeded"}`, captured)
	executor := NewStripeExecutor(StripeConfig{SecretKey: "sk_test", BaseURL: server.URL})

	out, err := executor.Attempt(context.Background(), testAttemptInput())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Outcome != OutcomeSucceeded || out.ProviderPaymentID != "pi_1" {
		t.Fatalf("unexpected output: %+v", out)
	}

	req := <-captured
	if req.URL.Path != "/v1/payment_intents" {
		t.Fatalf("unexpected path %s", req.URL.Path)
	}
	if req.Header.Get("Authorization") != "Bearer sk_test" {
		t.Fatalf("unexpected auth header %q", req.Header.Get("Authorization"))
	}
	if req.Header.Get("Idempotency-Key") != "pay-1-2" {
		t.Fatalf("unexpected idempotency key %q", req.Header.Get("Idempotency-Key"))
	}
	if req.Form.Get("amount") != "1234" || req.Form.Get("currency") != "eur" {
		t.Fatalf("unexpected amount fields: %v", req.Form)
	}
	if req.Form.Get("metadata[invoice_id]") != "inv-1" {
		t.Fatalf("expected invoice metadata, got %v", req.Form)
	}
}

func TestStripeAttemptCardDeclined(t *testing.T) {
	server := newStripeTestServer(t, http.StatusPaymentRequired,
		`{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds"}}`, nil)
	executor := NewStripeExecutor(StripeConfig{SecretKey: "sk_test", BaseURL: server.URL})

	out, err := executor.Attempt(context.Background(), testAttemptInput())
	if err != nil {
		t.Fatalf("expected decline without error, got %v", err)
	}
	if out.Outcome != OutcomeDeclined || out.Reason != "insufficient_funds" {
		t.Fatalf("unexpected output: %+v", out)
	}
}

func TestStripeAttemptServerErrorIsExecutionFailure(t *testing.T) {
	server := newStripeTestServer(t, http.StatusInternalServerError, `{}`, nil)
	executor := NewStripeExecutor(StripeConfig{SecretKey: "sk_test", BaseURL: server.URL})

	if _, err := executor.Attempt(context.Background(), testAttemptInput()); err == nil {
		t.Fatal("expected error on 5xx")
	}
}

func TestStripeAttemptRequiresSecretKey(t *testing.T) {
	executor := NewStripeExecutor(StripeConfig{})
	if _, err := executor.Attempt(context.Background(), testAttemptInput()); err == nil {
		t.Fatal("expected error without secret key")
	}
}

func TestMinorUnits(t *testing.T) {
	input := testAttemptInput()
	input.Currency = "JPY"
	input.Amount = decimal.NewFromInt(500)
	amount, err := minorUnits(input)
	if err != nil || amount != 500 {
		t.Fatalf("expected 500, got %d (%v)", amount, err)
	}

	input.Amount = decimal.Zero
	if _, err := minorUnits(input); err == nil {
		t.Fatal("expected error for zero amount")
	}
}
