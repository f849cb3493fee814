package mapper

import (
	"time"

	"github.com/samber/lo"

	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
	"github.com/vibast-solutions/ms-go-payment-retries/app/eventbus"
	"github.com/vibast-solutions/ms-go-payment-retries/app/types"
)

func CampaignToView(item *entity.Campaign) *types.Campaign {
	if item == nil {
		return nil
	}

	attempts := make([]*types.Attempt, 0, len(item.Attempts))
	for _, attempt := range item.Attempts {
		attempts = append(attempts, &types.Attempt{
			Index:   attempt.Index,
			Outcome: string(attempt.Outcome),
			Kind:    string(attempt.Kind),
			Reason:  attempt.Reason,
			At:      formatTime(attempt.At),
		})
	}

	return &types.Campaign{
		PaymentId:        item.PaymentID,
		TenantId:         item.TenantID,
		AccountId:        item.AccountID,
		InvoiceId:        item.InvoiceID,
		Amount:           item.Amount.String(),
		Currency:         item.Currency,
		Provider:         item.Provider,
		CustomerRef:      item.CustomerRef,
		PaymentMethodRef: item.PaymentMethodRef,
		State:            string(item.State),
		AttemptIndex:     item.AttemptIndex,
		NextDueAt:        formatTimePtr(item.NextDueAt),
		LastFailureAt:    formatTimePtr(item.LastFailureAt),
		LastFailureKind:  string(item.LastFailureKind),
		CancelReason:     item.CancelReason,
		Attempts:         attempts,
		CreatedAt:        formatTime(item.CreatedAt),
		UpdatedAt:        formatTime(item.UpdatedAt),
	}
}

func TenantConfigToView(item *entity.TenantConfig) *types.TenantConfig {
	if item == nil {
		return nil
	}
	return &types.TenantConfig{
		TenantId:  item.TenantID,
		Values:    cloneValues(item.Values),
		Revision:  item.Revision,
		UpdatedAt: formatTime(item.UpdatedAt),
	}
}

func ConfigRevisionsToView(items []*entity.ConfigRevision) []*types.ConfigRevision {
	return lo.Map(items, func(item *entity.ConfigRevision, _ int) *types.ConfigRevision {
		return &types.ConfigRevision{
			Revision:  item.Revision,
			TenantId:  item.TenantID,
			Action:    string(item.Action),
			OldValues: cloneValues(item.OldValues),
			NewValues: cloneValues(item.NewValues),
			Operator:  item.Operator,
			CreatedAt: formatTime(item.CreatedAt),
		}
	})
}

func SubscriptionToView(info eventbus.SubscriptionInfo) *types.Subscription {
	return &types.Subscription{
		Id:       info.ID,
		Name:     info.Name,
		TenantId: info.TenantID,
		EventTypes: lo.Map(info.EventTypes, func(item entity.EventType, _ int) string {
			return string(item)
		}),
		Pending:      info.Pending,
		BackoffUntil: formatTimePtr(info.BackoffUntil),
	}
}

func SubscriptionsToView(items []eventbus.SubscriptionInfo) []*types.Subscription {
	return lo.Map(items, func(item eventbus.SubscriptionInfo, _ int) *types.Subscription {
		return SubscriptionToView(item)
	})
}

func DeliveriesToView(items []entity.DeliveryRecord) []*types.Delivery {
	return lo.Map(items, func(item entity.DeliveryRecord, _ int) *types.Delivery {
		return &types.Delivery{
			Id:        item.ID,
			EventId:   item.EventID,
			EventType: string(item.EventType),
			Attempt:   item.Attempt,
			Status:    string(item.Status),
			Error:     item.Error,
			At:        formatTime(item.At),
		}
	})
}

func EventsToView(items []*entity.Event) []*types.Event {
	return lo.Map(items, func(item *entity.Event, _ int) *types.Event {
		return &types.Event{
			Id:         item.ID,
			Sequence:   item.Sequence,
			Type:       string(item.Type),
			TenantId:   item.TenantID,
			EntityId:   item.EntityID,
			AccountId:  item.Account,
			ObjectType: item.Object,
			MetaData:   cloneValues(item.MetaData),
			Timestamp:  formatTime(item.Timestamp),
		}
	})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func cloneValues(src map[string]string) map[string]string {
	if len(src) == 0 {
		return map[string]string{}
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
