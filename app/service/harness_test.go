package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vibast-solutions/ms-go-payment-retries/app/clock"
	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
	"github.com/vibast-solutions/ms-go-payment-retries/app/eventbus"
	"github.com/vibast-solutions/ms-go-payment-retries/app/policy"
	"github.com/vibast-solutions/ms-go-payment-retries/app/provider"
	"github.com/vibast-solutions/ms-go-payment-retries/app/repository"
)

const day = 24 * time.Hour

var epoch = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	clock        *clock.Logical
	ledger       *repository.MemoryCampaignLedger
	store        *repository.MemoryTenantConfigStore
	bus          *eventbus.Bus
	recorder     *eventbus.Recorder
	scripted     *provider.ScriptedExecutor
	gate         *gateExecutor
	resolver     *ConfigResolver
	orchestrator *RetryOrchestrator
}

func newHarness(t *testing.T, cfg OrchestratorConfig) *harness {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	h := &harness{
		clock:    clock.NewLogical(epoch),
		ledger:   repository.NewMemoryCampaignLedger(),
		store:    repository.NewMemoryTenantConfigStore(),
		recorder: eventbus.NewRecorder(),
		scripted: provider.NewScriptedExecutor(provider.OutcomeSucceeded),
		gate:     newGateExecutor(),
	}

	deliveryLog, err := eventbus.NewDeliveryLog(100)
	require.NoError(t, err)
	h.bus = eventbus.NewBus(eventbus.Config{}, h.clock, eventbus.NewMemoryJournal(1000), deliveryLog, nil, logger)
	t.Cleanup(h.bus.Close)
	_, err = h.bus.Subscribe(eventbus.SubscriptionSpec{ID: "recorder", Sink: h.recorder})
	require.NoError(t, err)

	h.resolver = NewConfigResolver(h.store, h.bus, h.clock, policy.Default(), logger)
	require.NoError(t, h.resolver.Load(context.Background()))

	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = provider.CodeScripted
	}
	h.orchestrator = NewRetryOrchestrator(
		h.ledger,
		h.resolver,
		provider.NewRegistry(h.scripted, h.gate),
		h.bus,
		h.clock,
		nil,
		logger,
		cfg,
	)

	h.clock.OnAdvance(h.orchestrator.Sweep)
	h.clock.OnAdvance(h.bus.Wake)
	return h
}

func (h *harness) advance(t *testing.T, d time.Duration) {
	t.Helper()
	require.NoError(t, h.clock.Advance(context.Background(), d))
}

func (h *harness) eventTypes() []entity.EventType {
	events := h.recorder.Events()
	types := make([]entity.EventType, 0, len(events))
	for _, event := range events {
		types = append(types, event.Type)
	}
	return types
}

type campaignReq struct {
	PaymentID    string
	TenantID     string
	AccountID    string
	InvoiceID    string
	Amount       string
	Currency     string
	Provider     string
	NonRetryable bool
	FailureKind  string
	Reason       string
}

func newReq(paymentID string) *campaignReq {
	return &campaignReq{
		PaymentID: paymentID,
		TenantID:  "tenant-1",
		AccountID: "acc-1",
		Amount:    "49.90",
		Currency:  "eur",
	}
}

func (r *campaignReq) GetPaymentId() string        { return r.PaymentID }
func (r *campaignReq) GetTenantId() string         { return r.TenantID }
func (r *campaignReq) GetAccountId() string        { return r.AccountID }
func (r *campaignReq) GetInvoiceId() string        { return r.InvoiceID }
func (r *campaignReq) GetAmount() string           { return r.Amount }
func (r *campaignReq) GetCurrency() string         { return r.Currency }
func (r *campaignReq) GetProvider() string         { return r.Provider }
func (r *campaignReq) GetCustomerRef() string      { return "" }
func (r *campaignReq) GetPaymentMethodRef() string { return "" }
func (r *campaignReq) GetNonRetryable() bool       { return r.NonRetryable }
func (r *campaignReq) GetFailureKind() string      { return r.FailureKind }
func (r *campaignReq) GetReason() string           { return r.Reason }

const codeGate = "gate"

// gateExecutor blocks armed attempts until released, so tests can act while a call
// is in flight. Unarmed attempts decline immediately.
type gateExecutor struct {
	mu      sync.Mutex
	armed   bool
	calls   []string
	entered chan string
	release chan provider.Outcome
}

func newGateExecutor() *gateExecutor {
	return &gateExecutor{
		entered: make(chan string, 16),
		release: make(chan provider.Outcome, 16),
	}
}

func (g *gateExecutor) Code() string {
	return codeGate
}

func (g *gateExecutor) Arm() {
	g.mu.Lock()
	g.armed = true
	g.mu.Unlock()
}

func (g *gateExecutor) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *gateExecutor) Attempt(ctx context.Context, input *provider.AttemptInput) (*provider.AttemptOutput, error) {
	g.mu.Lock()
	g.calls = append(g.calls, input.PaymentID)
	armed := g.armed
	g.mu.Unlock()

	if !armed {
		return &provider.AttemptOutput{Outcome: provider.OutcomeDeclined, Reason: "do_not_honor"}, nil
	}

	g.entered <- input.PaymentID
	select {
	case outcome := <-g.release:
		return &provider.AttemptOutput{Outcome: outcome}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
