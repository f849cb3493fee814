package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
	"github.com/vibast-solutions/ms-go-payment-retries/app/policy"
)

func TestResolverDefaultOverrideDefault(t *testing.T) {
	h := newHarness(t, OrchestratorConfig{})
	ctx := context.Background()

	assert.Equal(t, policy.Schedule{8, 8, 8}, h.resolver.ResolveSchedule(ctx, "tenant-1"))

	_, err := h.resolver.Upload(ctx, "tenant-1", map[string]string{policy.KeyRetryDays: "1,2,3"}, "ops")
	require.NoError(t, err)
	assert.Equal(t, policy.Schedule{1, 2, 3}, h.resolver.ResolveSchedule(ctx, "tenant-1"))
	assert.Equal(t, policy.Schedule{8, 8, 8}, h.resolver.ResolveSchedule(ctx, "tenant-2"))

	deleted, err := h.resolver.Delete(ctx, "tenant-1", "ops")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, policy.Schedule{8, 8, 8}, h.resolver.ResolveSchedule(ctx, "tenant-1"))

	deleted, err = h.resolver.Delete(ctx, "tenant-1", "ops")
	require.NoError(t, err)
	assert.False(t, deleted)

	assert.Equal(t, []entity.EventType{entity.EventConfigurationChanged, entity.EventConfigurationDeleted}, h.eventTypes())
	events := h.recorder.Events()
	assert.Equal(t, "tenant-1", events[0].EntityID)
	assert.Equal(t, entity.ObjectTenantConfig, events[0].Object)
	assert.Equal(t, "1", events[0].MetaData["revision"])
	assert.Equal(t, "2", events[1].MetaData["revision"])
}

func TestResolverRejectsInvalidConfigWithoutChangingState(t *testing.T) {
	h := newHarness(t, OrchestratorConfig{})
	ctx := context.Background()

	cases := []map[string]string{
		{policy.KeyRetryDays: "2,1"},
		{policy.KeyRetryDays: "1,x"},
		{policy.KeyRetryDays: "-1"},
		{policy.KeyRetryDays: "1,200000"},
		{"payment.retry.weeks": "1"},
		{},
	}
	for _, values := range cases {
		_, err := h.resolver.Upload(ctx, "tenant-1", values, "ops")
		assert.ErrorIs(t, err, ErrInvalidConfig, "values %v", values)
	}

	_, err := h.resolver.Upload(ctx, " ", map[string]string{policy.KeyRetryDays: "1"}, "ops")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Equal(t, policy.Schedule{8, 8, 8}, h.resolver.ResolveSchedule(ctx, "tenant-1"))
	assert.Empty(t, h.recorder.Events())
}

func TestResolverRoundTripIsByteIdentical(t *testing.T) {
	h := newHarness(t, OrchestratorConfig{})
	ctx := context.Background()

	values := map[string]string{
		policy.KeyRetryDays:          " 1, 2 ,3",
		policy.KeyPluginStartSeconds: "60",
	}
	_, err := h.resolver.Upload(ctx, "tenant-1", values, "ops")
	require.NoError(t, err)

	got, err := h.resolver.Get(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, values, got.Values)
	assert.Equal(t, policy.Schedule{1, 2, 3}, h.resolver.ResolveSchedule(ctx, "tenant-1"))

	_, err = h.resolver.Get(ctx, "tenant-2")
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestResolverHistoryAndReload(t *testing.T) {
	h := newHarness(t, OrchestratorConfig{})
	ctx := context.Background()

	_, err := h.resolver.Upload(ctx, "tenant-1", map[string]string{policy.KeyRetryDays: "1"}, "alice")
	require.NoError(t, err)
	_, err = h.resolver.Upload(ctx, "tenant-1", map[string]string{policy.KeyRetryDays: "2"}, "bob")
	require.NoError(t, err)

	history, err := h.resolver.History(ctx, "tenant-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(2), history[0].Revision)
	assert.Equal(t, "bob", history[0].Operator)
	assert.Equal(t, "1", history[0].OldValues[policy.KeyRetryDays])
	assert.Equal(t, "2", history[0].NewValues[policy.KeyRetryDays])

	reloaded := NewConfigResolver(h.store, h.bus, h.clock, policy.Default(), nil)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, policy.Schedule{2}, reloaded.ResolveSchedule(ctx, "tenant-1"))

	_, err = reloaded.Upload(ctx, "tenant-2", map[string]string{policy.KeyRetryDays: "3"}, "carol")
	require.NoError(t, err)
	history, err = reloaded.History(ctx, "tenant-2", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), history[0].Revision)
}

func TestResolverSetDefaults(t *testing.T) {
	h := newHarness(t, OrchestratorConfig{})
	ctx := context.Background()

	_, err := h.resolver.Upload(ctx, "tenant-1", map[string]string{policy.KeyPluginStartSeconds: "30"}, "ops")
	require.NoError(t, err)

	next := policy.Default()
	next.Days = policy.Schedule{2, 4}
	require.NoError(t, h.resolver.SetDefaults(next))

	resolved := h.resolver.ResolvePolicy(ctx, "tenant-1")
	assert.Equal(t, policy.Schedule{2, 4}, resolved.Days)
	assert.Equal(t, int64(30), int64(resolved.Plugin.Start.Seconds()))

	bad := policy.Default()
	bad.Days = policy.Schedule{3, 1}
	assert.ErrorIs(t, h.resolver.SetDefaults(bad), ErrInvalidConfig)
}
