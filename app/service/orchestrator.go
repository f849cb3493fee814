package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
	"github.com/vibast-solutions/ms-go-payment-retries/app/metrics"
	"github.com/vibast-solutions/ms-go-payment-retries/app/policy"
	"github.com/vibast-solutions/ms-go-payment-retries/app/provider"
	"github.com/vibast-solutions/ms-go-payment-retries/app/repository"
)

type DuePolicy string

const (
	// DueRederive recomputes a due time from the policy in force when the campaign
	// was scheduled under a different one.
	DueRederive DuePolicy = "rederive"
	// DuePinned keeps the due time computed when the failure was recorded.
	DuePinned DuePolicy = "pinned"
)

const (
	defaultAttemptTimeout = 30 * time.Second
	defaultBatchSize      = 100

	reasonTimeout = "timeout"
)

var errAttemptTimeout = errors.New("payment attempt timed out")

type campaignLedger interface {
	Create(ctx context.Context, campaign *entity.Campaign) error
	Get(ctx context.Context, paymentID string) (*entity.Campaign, error)
	RecordFailure(ctx context.Context, paymentID string, rec repository.FailureRecord) error
	Reschedule(ctx context.Context, paymentID string, rec repository.RescheduleRecord) error
	RecordTerminal(ctx context.Context, paymentID string, rec repository.TerminalRecord) (bool, error)
	DueBefore(ctx context.Context, before time.Time, afterID string, limit int) ([]string, error)
	ListActiveByAccount(ctx context.Context, accountID string) ([]string, error)
}

type policyResolver interface {
	ResolvePolicy(ctx context.Context, tenantID string) policy.RetryPolicy
}

type executorRegistry interface {
	Get(code string) (provider.Executor, error)
}

type OrchestratorConfig struct {
	AttemptTimeout   time.Duration
	DuePolicy        DuePolicy
	SweepParallelism int
	SweepBatchSize   int
	DefaultProvider  string
}

// RetryOrchestrator drives every campaign through Active(n) until it succeeds, runs
// out of retries or is cancelled. Transitions of one campaign are serialized; the
// executor is always called without holding the campaign lock.
type RetryOrchestrator struct {
	ledger    campaignLedger
	resolver  policyResolver
	executors executorRegistry
	events    eventPublisher
	clock     Clock
	observer  metrics.RetryObserver
	tracer    trace.Tracer
	logger    logrus.FieldLogger
	cfg       OrchestratorConfig

	locks    *keyedMutex
	inFlight sync.Map
}

func NewRetryOrchestrator(
	ledger campaignLedger,
	resolver policyResolver,
	executors executorRegistry,
	events eventPublisher,
	clock Clock,
	observer metrics.RetryObserver,
	logger logrus.FieldLogger,
	cfg OrchestratorConfig,
) *RetryOrchestrator {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if cfg.DuePolicy == "" {
		cfg.DuePolicy = DueRederive
	}
	if cfg.SweepParallelism <= 0 {
		cfg.SweepParallelism = 1
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = defaultBatchSize
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = provider.CodeStripe
	}
	if observer == nil {
		observer = metrics.Noop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &RetryOrchestrator{
		ledger:    ledger,
		resolver:  resolver,
		executors: executors,
		events:    events,
		clock:     clock,
		observer:  observer,
		tracer:    otel.Tracer("github.com/vibast-solutions/ms-go-payment-retries/app/service"),
		logger:    logger,
		cfg:       cfg,
		locks:     newKeyedMutex(),
	}
}

// Start opens a campaign and performs its initial attempt. Any delivery error for
// the resulting events is returned alongside the campaign.
func (o *RetryOrchestrator) Start(ctx context.Context, req campaignRequest) (*entity.Campaign, error) {
	campaign, err := o.open(ctx, req)
	if err != nil {
		return nil, err
	}

	// The first outcome is recorded even if the caller goes away, otherwise the
	// campaign would stay Active(0) with no due time. The call itself is still
	// bounded by the attempt timeout.
	pending, logger, err := o.runAttempt(context.WithoutCancel(ctx), campaign.PaymentID, 0, !req.GetNonRetryable())
	if err != nil {
		return nil, err
	}
	deliveryErr := pending.await(ctx, logger)

	current, err := o.Get(ctx, campaign.PaymentID)
	if err != nil {
		return nil, err
	}
	return current, deliveryErr
}

// ReportFailure opens a campaign for a payment whose first attempt failed elsewhere.
func (o *RetryOrchestrator) ReportFailure(ctx context.Context, req reportFailureRequest) (*entity.Campaign, error) {
	kind := entity.FailureKind(strings.ToLower(strings.TrimSpace(req.GetFailureKind())))
	if kind == "" {
		kind = entity.FailureDeclined
	}
	if kind != entity.FailureDeclined && kind != entity.FailurePlugin {
		return nil, fmt.Errorf("%w: unknown failure kind %q", ErrInvalidRequest, kind)
	}

	campaign, err := o.open(ctx, req)
	if err != nil {
		return nil, err
	}

	unlock := o.locks.Lock(campaign.PaymentID)
	pending, err := o.recordFailure(context.WithoutCancel(ctx), campaign, kind, strings.TrimSpace(req.GetReason()), !req.GetNonRetryable())
	unlock()
	if err != nil {
		return nil, err
	}
	deliveryErr := pending.await(ctx, o.campaignLogger(campaign))

	current, err := o.Get(ctx, campaign.PaymentID)
	if err != nil {
		return nil, err
	}
	return current, deliveryErr
}

func (o *RetryOrchestrator) Get(ctx context.Context, paymentID string) (*entity.Campaign, error) {
	campaign, err := o.ledger.Get(ctx, strings.TrimSpace(paymentID))
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, ErrCampaignNotFound
	}
	return campaign, nil
}

// Cancel closes an active campaign without publishing events. An attempt already in
// flight completes but its result is discarded.
func (o *RetryOrchestrator) Cancel(ctx context.Context, paymentID, reason string) (*entity.Campaign, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, ErrInvalidRequest
	}

	unlock := o.locks.Lock(paymentID)
	defer unlock()

	campaign, err := o.ledger.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, ErrCampaignNotFound
	}
	if campaign.State.Terminal() {
		return nil, ErrCampaignClosed
	}

	changed, err := o.ledger.RecordTerminal(ctx, paymentID, repository.TerminalRecord{
		State:  entity.CampaignCancelled,
		Reason: strings.TrimSpace(reason),
		At:     o.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, ErrCampaignClosed
	}

	_, inFlight := o.inFlight.Load(paymentID)
	o.observer.RecordCampaignClosed(string(entity.CampaignCancelled))
	o.campaignLogger(campaign).WithFields(logrus.Fields{
		"reason":        reason,
		"attempt_index": campaign.AttemptIndex,
		"in_flight":     inFlight,
	}).Info("campaign_cancelled")

	return o.ledger.Get(ctx, paymentID)
}

// CancelAccount cancels every active campaign of the account and reports how many
// were closed.
func (o *RetryOrchestrator) CancelAccount(ctx context.Context, accountID, reason string) (int, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return 0, ErrInvalidRequest
	}

	ids, err := o.ledger.ListActiveByAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	var firstErr error
	for _, id := range ids {
		if _, err := o.Cancel(ctx, id, reason); err != nil {
			if errors.Is(err, ErrCampaignClosed) {
				continue
			}
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		cancelled++
	}
	return cancelled, firstErr
}

func (o *RetryOrchestrator) open(ctx context.Context, req campaignRequest) (*entity.Campaign, error) {
	campaign, err := o.buildCampaign(req)
	if err != nil {
		return nil, err
	}
	if _, err := o.executors.Get(campaign.Provider); err != nil {
		if errors.Is(err, provider.ErrProviderNotSupported) {
			return nil, ErrProviderUnsupported
		}
		return nil, err
	}

	if err := o.ledger.Create(ctx, campaign); err != nil {
		if !errors.Is(err, repository.ErrCampaignAlreadyExists) {
			return nil, err
		}
		existing, getErr := o.ledger.Get(ctx, campaign.PaymentID)
		if getErr != nil {
			return nil, getErr
		}
		if existing != nil && existing.State.Terminal() {
			return nil, ErrCampaignClosed
		}
		return nil, ErrCampaignAlreadyActive
	}

	o.campaignLogger(campaign).Info("campaign_opened")
	return campaign, nil
}

func (o *RetryOrchestrator) buildCampaign(req campaignRequest) (*entity.Campaign, error) {
	paymentID := strings.TrimSpace(req.GetPaymentId())
	tenantID := strings.TrimSpace(req.GetTenantId())
	accountID := strings.TrimSpace(req.GetAccountId())
	currency := strings.ToUpper(strings.TrimSpace(req.GetCurrency()))
	if paymentID == "" || tenantID == "" || accountID == "" || len(currency) != 3 {
		return nil, ErrInvalidRequest
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.GetAmount()))
	if err != nil || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be a positive decimal", ErrInvalidRequest)
	}

	providerCode := strings.ToLower(strings.TrimSpace(req.GetProvider()))
	if providerCode == "" {
		providerCode = o.cfg.DefaultProvider
	}

	now := o.clock.Now()
	return &entity.Campaign{
		PaymentID:        paymentID,
		TenantID:         tenantID,
		AccountID:        accountID,
		InvoiceID:        strings.TrimSpace(req.GetInvoiceId()),
		Amount:           amount,
		Currency:         currency,
		Provider:         providerCode,
		CustomerRef:      strings.TrimSpace(req.GetCustomerRef()),
		PaymentMethodRef: strings.TrimSpace(req.GetPaymentMethodRef()),
		State:            entity.CampaignActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// attempt runs attempt n of a campaign. It is a no-op when the campaign is no longer
// Active(n) or another attempt is in flight. Only event delivery errors and ledger
// errors are returned; attempt outcomes are recorded, not returned.
func (o *RetryOrchestrator) attempt(ctx context.Context, paymentID string, n int, retryable bool) error {
	pending, logger, err := o.runAttempt(ctx, paymentID, n, retryable)
	if err != nil {
		return err
	}
	return pending.await(ctx, logger)
}

// runAttempt performs and records attempt n, returning the enqueued events without
// waiting for their delivery.
func (o *RetryOrchestrator) runAttempt(ctx context.Context, paymentID string, n int, retryable bool) (enqueued, logrus.FieldLogger, error) {
	unlock := o.locks.Lock(paymentID)
	campaign, err := o.ledger.Get(ctx, paymentID)
	if err != nil {
		unlock()
		return enqueued{}, o.logger, err
	}
	if campaign == nil || campaign.State.Terminal() || campaign.AttemptIndex != n {
		unlock()
		return enqueued{}, o.logger, nil
	}
	if _, busy := o.inFlight.LoadOrStore(paymentID, n); busy {
		unlock()
		return enqueued{}, o.logger, nil
	}
	unlock()

	output, execErr := o.execute(ctx, campaign)

	unlock = o.locks.Lock(paymentID)
	o.inFlight.Delete(paymentID)
	pending, err := o.route(ctx, paymentID, n, output, execErr, retryable)
	unlock()
	return pending, o.campaignLogger(campaign), err
}

// route records the result of attempt n. The campaign lock is held by the caller.
func (o *RetryOrchestrator) route(ctx context.Context, paymentID string, n int, output *provider.AttemptOutput, execErr error, retryable bool) (enqueued, error) {
	if execErr != nil && ctx.Err() != nil {
		// Shutdown rather than an outcome; the campaign stays due.
		return enqueued{}, ctx.Err()
	}

	campaign, err := o.ledger.Get(ctx, paymentID)
	if err != nil {
		return enqueued{}, err
	}
	if campaign == nil || campaign.State.Terminal() || campaign.AttemptIndex != n {
		o.logger.WithFields(logrus.Fields{
			"payment_id":    paymentID,
			"attempt_index": n,
		}).Info("attempt_result_discarded")
		return enqueued{}, nil
	}

	switch {
	case errors.Is(execErr, errAttemptTimeout):
		o.observer.RecordAttempt("timeout")
		return o.recordFailure(ctx, campaign, entity.FailureDeclined, reasonTimeout, retryable)
	case execErr != nil:
		o.observer.RecordAttempt("plugin_failure")
		return o.recordFailure(ctx, campaign, entity.FailurePlugin, execErr.Error(), retryable)
	case output.Outcome == provider.OutcomeSucceeded:
		o.observer.RecordAttempt("succeeded")
		return o.recordSuccess(ctx, campaign, output)
	default:
		o.observer.RecordAttempt("declined")
		reason := output.Reason
		if reason == "" {
			reason = "declined"
		}
		return o.recordFailure(ctx, campaign, entity.FailureDeclined, reason, retryable)
	}
}

func (o *RetryOrchestrator) recordFailure(ctx context.Context, campaign *entity.Campaign, kind entity.FailureKind, reason string, retryable bool) (enqueued, error) {
	now := o.clock.Now()
	n := campaign.AttemptIndex
	retryPolicy := o.resolver.ResolvePolicy(ctx, campaign.TenantID)

	var nextDueAt *time.Time
	if retryable {
		if due, ok := retryPolicy.NextRetry(kind, n, now); ok {
			nextDueAt = &due
		}
	}

	err := o.ledger.RecordFailure(ctx, campaign.PaymentID, repository.FailureRecord{
		AttemptIndex:  n,
		FailedAt:      now,
		Kind:          kind,
		Reason:        reason,
		NextDueAt:     nextDueAt,
		PolicyVersion: retryPolicy.Fingerprint(),
	})
	if err != nil {
		return enqueued{}, fmt.Errorf("record failure of %s: %w", campaign.PaymentID, err)
	}

	metaData := map[string]string{
		"attemptIndex": strconv.Itoa(n),
		"failureKind":  string(kind),
		"reason":       reason,
	}
	logger := o.campaignLogger(campaign).WithFields(logrus.Fields{
		"attempt_index": n,
		"failure_kind":  kind,
		"reason":        reason,
	})
	if nextDueAt == nil {
		metaData["exhausted"] = "true"
		metaData["error"] = ErrExhaustedRetries.Error()
		o.observer.RecordCampaignClosed(string(entity.CampaignExhausted))
		logger.Info("campaign_exhausted")
	} else {
		metaData["nextRetryAt"] = nextDueAt.Format(time.RFC3339)
		logger.WithField("next_due_at", *nextDueAt).Info("attempt_failed")
	}

	receipt, err := o.events.Enqueue(ctx, o.campaignEvents(campaign, entity.EventPaymentFailed, entity.EventInvoicePaymentFailed, metaData, now)...)
	return enqueued{receipt: receipt, err: err}, nil
}

func (o *RetryOrchestrator) recordSuccess(ctx context.Context, campaign *entity.Campaign, output *provider.AttemptOutput) (enqueued, error) {
	now := o.clock.Now()
	n := campaign.AttemptIndex

	changed, err := o.ledger.RecordTerminal(ctx, campaign.PaymentID, repository.TerminalRecord{
		State: entity.CampaignSucceeded,
		Attempt: &entity.Attempt{
			Index:   n,
			Outcome: entity.AttemptSucceeded,
			At:      now,
		},
		At: now,
	})
	if err != nil {
		return enqueued{}, fmt.Errorf("record success of %s: %w", campaign.PaymentID, err)
	}
	if !changed {
		return enqueued{}, nil
	}

	o.observer.RecordCampaignClosed(string(entity.CampaignSucceeded))
	o.campaignLogger(campaign).WithField("attempt_index", n).Info("campaign_succeeded")

	metaData := map[string]string{"attemptIndex": strconv.Itoa(n)}
	if output != nil && output.ProviderPaymentID != "" {
		metaData["providerPaymentId"] = output.ProviderPaymentID
	}
	receipt, err := o.events.Enqueue(ctx, o.campaignEvents(campaign, entity.EventPaymentSucceeded, entity.EventInvoicePaymentSucceeded, metaData, now)...)
	return enqueued{receipt: receipt, err: err}, nil
}

// campaignEvents builds the payment event and, for invoice-driven campaigns, the
// matching invoice event.
func (o *RetryOrchestrator) campaignEvents(campaign *entity.Campaign, paymentType, invoiceType entity.EventType, metaData map[string]string, now time.Time) []*entity.Event {
	events := []*entity.Event{{
		Type:      paymentType,
		TenantID:  campaign.TenantID,
		EntityID:  campaign.PaymentID,
		Account:   campaign.AccountID,
		Object:    entity.ObjectPayment,
		MetaData:  metaData,
		Timestamp: now,
	}}
	if campaign.InvoiceDriven() {
		invoiceMeta := copyValues(metaData)
		invoiceMeta["paymentId"] = campaign.PaymentID
		events = append(events, &entity.Event{
			Type:      invoiceType,
			TenantID:  campaign.TenantID,
			EntityID:  campaign.InvoiceID,
			Account:   campaign.AccountID,
			Object:    entity.ObjectInvoice,
			MetaData:  invoiceMeta,
			Timestamp: now,
		})
	}
	return events
}

type attemptResult struct {
	output *provider.AttemptOutput
	err    error
}

// execute calls the executor under the attempt timeout. A timeout returns
// errAttemptTimeout; any other failure is wrapped in ErrExecutionFailure.
func (o *RetryOrchestrator) execute(ctx context.Context, campaign *entity.Campaign) (*provider.AttemptOutput, error) {
	ctx, span := o.tracer.Start(ctx, "payment_retry.attempt", trace.WithAttributes(
		attribute.String("payment.id", campaign.PaymentID),
		attribute.String("tenant.id", campaign.TenantID),
		attribute.String("payment.provider", campaign.Provider),
		attribute.Int("retry.attempt_index", campaign.AttemptIndex),
	))
	defer span.End()

	output, err := o.callExecutor(ctx, campaign)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	default:
		span.SetAttributes(attribute.String("payment.outcome", string(output.Outcome)))
	}
	return output, err
}

func (o *RetryOrchestrator) callExecutor(ctx context.Context, campaign *entity.Campaign) (*provider.AttemptOutput, error) {
	executor, err := o.executors.Get(campaign.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutionFailure, err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
	defer cancel()

	input := &provider.AttemptInput{
		PaymentID:        campaign.PaymentID,
		TenantID:         campaign.TenantID,
		AccountID:        campaign.AccountID,
		InvoiceID:        campaign.InvoiceID,
		AttemptIndex:     campaign.AttemptIndex,
		Amount:           campaign.Amount,
		Currency:         campaign.Currency,
		CustomerRef:      campaign.CustomerRef,
		PaymentMethodRef: campaign.PaymentMethodRef,
	}

	done := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- attemptResult{err: fmt.Errorf("executor panic: %v", r)}
			}
		}()
		output, err := executor.Attempt(attemptCtx, input)
		done <- attemptResult{output: output, err: err}
	}()

	select {
	case res := <-done:
		switch {
		case res.err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
			return nil, errAttemptTimeout
		case res.err != nil:
			return nil, fmt.Errorf("%w: %w", ErrExecutionFailure, res.err)
		case res.output == nil:
			return nil, fmt.Errorf("%w: executor returned no result", ErrExecutionFailure)
		}
		return res.output, nil
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errAttemptTimeout
	}
}

func (o *RetryOrchestrator) campaignLogger(campaign *entity.Campaign) logrus.FieldLogger {
	return o.logger.WithFields(logrus.Fields{
		"payment_id": campaign.PaymentID,
		"tenant_id":  campaign.TenantID,
		"account_id": campaign.AccountID,
	})
}
