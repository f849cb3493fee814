package entity

import "time"

type DeliveryStatus string

const (
	DeliverySucceeded DeliveryStatus = "succeeded"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryDropped   DeliveryStatus = "dropped"
)

type DeliveryRecord struct {
	ID             string
	EventID        string
	EventType      EventType
	SubscriptionID string

	Attempt int
	Status  DeliveryStatus
	Error   string

	At time.Time
}
