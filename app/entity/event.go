package entity

import "time"

type EventType string

const (
	EventConfigurationChanged    EventType = "configuration-changed"
	EventConfigurationDeleted    EventType = "configuration-deleted"
	EventPaymentFailed           EventType = "payment-failed"
	EventInvoicePaymentFailed    EventType = "invoice-payment-failed"
	EventPaymentSucceeded        EventType = "payment-succeeded"
	EventInvoicePaymentSucceeded EventType = "invoice-payment-succeeded"
)

var EventTypes = []EventType{
	EventConfigurationChanged,
	EventConfigurationDeleted,
	EventPaymentFailed,
	EventInvoicePaymentFailed,
	EventPaymentSucceeded,
	EventInvoicePaymentSucceeded,
}

func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

const (
	ObjectTenantConfig = "TENANT_CONFIG"
	ObjectPayment      = "PAYMENT"
	ObjectInvoice      = "INVOICE"
)

// Event is immutable once published. Sequence is assigned by the bus journal.
type Event struct {
	ID       string            `json:"id"`
	Sequence uint64            `json:"sequence"`
	Type     EventType         `json:"type"`
	TenantID string            `json:"tenant"`
	EntityID string            `json:"entityId"`
	Account  string            `json:"accountId,omitempty"`
	Object   string            `json:"objectType"`
	MetaData map[string]string `json:"metaData,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}
