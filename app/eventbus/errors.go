package eventbus

import "errors"

var (
	ErrDeliveryFailure      = errors.New("event delivery failure")
	ErrSubscriberBackedOff  = errors.New("subscriber is backed off")
	ErrSubscriptionClosed   = errors.New("subscription closed")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionExists   = errors.New("subscription already exists")
	ErrInvalidSubscription  = errors.New("invalid subscription")
	ErrInvalidEvent         = errors.New("invalid event")
	ErrJournalTruncated     = errors.New("journal no longer holds the requested sequence")
	ErrUnexpectedStatus     = errors.New("unexpected webhook response status")
)
