package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
	"github.com/vibast-solutions/ms-go-payment-retries/app/policy"
)

const defaultHistoryLimit = 50

type Clock interface {
	Now() time.Time
}

type tenantConfigStore interface {
	List(ctx context.Context) ([]*entity.TenantConfig, error)
	Save(ctx context.Context, cfg *entity.TenantConfig, revision *entity.ConfigRevision) error
	Delete(ctx context.Context, tenantID string, revision *entity.ConfigRevision) error
	History(ctx context.Context, tenantID string, limit int) ([]*entity.ConfigRevision, error)
	LatestRevision(ctx context.Context) (int64, error)
}

type tenantEntry struct {
	config   *entity.TenantConfig
	override *policy.Override
}

// ConfigResolver holds the per-tenant retry overrides on top of the system defaults.
// Mutations are serialized and persisted before the in-memory snapshot is swapped, so
// readers only ever wait for a map assignment.
type ConfigResolver struct {
	store  tenantConfigStore
	events eventPublisher
	clock  Clock
	logger logrus.FieldLogger

	writeMu sync.Mutex

	mu       sync.RWMutex
	entries  map[string]*tenantEntry
	defaults policy.RetryPolicy
	revision int64
}

func NewConfigResolver(store tenantConfigStore, events eventPublisher, clock Clock, defaults policy.RetryPolicy, logger logrus.FieldLogger) *ConfigResolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ConfigResolver{
		store:    store,
		events:   events,
		clock:    clock,
		logger:   logger,
		entries:  make(map[string]*tenantEntry),
		defaults: defaults,
	}
}

// Load fills the snapshot from the store. Stored entries that no longer parse are
// skipped and logged; the tenant falls back to the defaults.
func (r *ConfigResolver) Load(ctx context.Context) error {
	items, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list tenant configs: %w", err)
	}
	revision, err := r.store.LatestRevision(ctx)
	if err != nil {
		return fmt.Errorf("load latest config revision: %w", err)
	}

	entries := make(map[string]*tenantEntry, len(items))
	for _, item := range items {
		override, err := policy.ParseOverride(item.Values)
		if err != nil {
			r.logger.WithField("tenant_id", item.TenantID).WithError(err).Warn("stored_tenant_config_invalid")
			continue
		}
		entries[item.TenantID] = &tenantEntry{config: item, override: override}
	}

	r.mu.Lock()
	r.entries = entries
	r.revision = revision
	r.mu.Unlock()
	return nil
}

// Upload replaces the tenant override. A delivery error for the configuration-changed
// event is returned together with the stored config.
func (r *ConfigResolver) Upload(ctx context.Context, tenantID string, values map[string]string, operator string) (*entity.TenantConfig, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrInvalidRequest
	}

	override, err := policy.ParseOverride(values)
	if err != nil {
		return nil, err
	}
	if err := override.Apply(r.Defaults()).Validate(); err != nil {
		return nil, err
	}

	r.writeMu.Lock()
	now := r.clock.Now()
	previous := r.entry(tenantID)
	revision := r.currentRevision() + 1

	cfg := &entity.TenantConfig{
		TenantID:  tenantID,
		Values:    copyValues(values),
		Revision:  revision,
		UpdatedAt: now,
	}
	audit := &entity.ConfigRevision{
		Revision:  revision,
		TenantID:  tenantID,
		Action:    entity.ConfigUploaded,
		NewValues: copyValues(values),
		Operator:  operator,
		CreatedAt: now,
	}
	if previous != nil {
		audit.OldValues = copyValues(previous.config.Values)
	}

	if err := r.store.Save(ctx, cfg, audit); err != nil {
		r.writeMu.Unlock()
		return nil, fmt.Errorf("save tenant config: %w", err)
	}

	r.mu.Lock()
	r.entries[tenantID] = &tenantEntry{config: cfg, override: override}
	r.revision = revision
	r.mu.Unlock()

	receipt, enqueueErr := r.events.Enqueue(ctx, r.configEvent(entity.EventConfigurationChanged, tenantID, revision, now))
	r.writeMu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"revision":  revision,
		"operator":  operator,
	}).Info("tenant_config_uploaded")

	return copyTenantConfig(cfg), awaitDelivery(ctx, r.logger, receipt, enqueueErr)
}

// Delete removes the tenant override. Deleting a tenant without an override reports
// false and publishes nothing.
func (r *ConfigResolver) Delete(ctx context.Context, tenantID string, operator string) (bool, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return false, ErrInvalidRequest
	}

	r.writeMu.Lock()
	previous := r.entry(tenantID)
	if previous == nil {
		r.writeMu.Unlock()
		return false, nil
	}

	now := r.clock.Now()
	revision := r.currentRevision() + 1
	audit := &entity.ConfigRevision{
		Revision:  revision,
		TenantID:  tenantID,
		Action:    entity.ConfigDeleted,
		OldValues: copyValues(previous.config.Values),
		Operator:  operator,
		CreatedAt: now,
	}
	if err := r.store.Delete(ctx, tenantID, audit); err != nil {
		r.writeMu.Unlock()
		return false, fmt.Errorf("delete tenant config: %w", err)
	}

	r.mu.Lock()
	delete(r.entries, tenantID)
	r.revision = revision
	r.mu.Unlock()

	receipt, enqueueErr := r.events.Enqueue(ctx, r.configEvent(entity.EventConfigurationDeleted, tenantID, revision, now))
	r.writeMu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"revision":  revision,
		"operator":  operator,
	}).Info("tenant_config_deleted")

	return true, awaitDelivery(ctx, r.logger, receipt, enqueueErr)
}

func (r *ConfigResolver) Get(_ context.Context, tenantID string) (*entity.TenantConfig, error) {
	entry := r.entry(strings.TrimSpace(tenantID))
	if entry == nil {
		return nil, ErrConfigNotFound
	}
	return copyTenantConfig(entry.config), nil
}

func (r *ConfigResolver) History(ctx context.Context, tenantID string, limit int) ([]*entity.ConfigRevision, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrInvalidRequest
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return r.store.History(ctx, tenantID, limit)
}

// ResolveSchedule returns the day schedule in force for the tenant.
func (r *ConfigResolver) ResolveSchedule(ctx context.Context, tenantID string) policy.Schedule {
	return r.ResolvePolicy(ctx, tenantID).Days
}

func (r *ConfigResolver) ResolvePolicy(_ context.Context, tenantID string) policy.RetryPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.entries[tenantID]; ok {
		return entry.override.Apply(r.defaults)
	}
	return r.defaults.Clone()
}

func (r *ConfigResolver) Defaults() policy.RetryPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults.Clone()
}

// SetDefaults swaps the system defaults. Tenants with an override keep the keys they
// set and inherit the rest from the new defaults.
func (r *ConfigResolver) SetDefaults(defaults policy.RetryPolicy) error {
	if err := defaults.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.defaults = defaults
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"retry_days":  defaults.Days.String(),
		"fingerprint": defaults.Fingerprint(),
	}).Info("retry_defaults_updated")
	return nil
}

func (r *ConfigResolver) entry(tenantID string) *tenantEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[tenantID]
}

func (r *ConfigResolver) currentRevision() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.revision
}

func (r *ConfigResolver) configEvent(eventType entity.EventType, tenantID string, revision int64, now time.Time) *entity.Event {
	return &entity.Event{
		Type:      eventType,
		TenantID:  tenantID,
		EntityID:  tenantID,
		Object:    entity.ObjectTenantConfig,
		MetaData:  map[string]string{"revision": strconv.FormatInt(revision, 10)},
		Timestamp: now,
	}
}

func copyValues(values map[string]string) map[string]string {
	if values == nil {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

func copyTenantConfig(cfg *entity.TenantConfig) *entity.TenantConfig {
	out := *cfg
	out.Values = copyValues(cfg.Values)
	return &out
}
