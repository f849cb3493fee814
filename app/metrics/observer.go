package metrics

import "time"

type RetryObserver interface {
	RecordAttempt(outcome string)
	RecordCampaignClosed(state string)
	RecordSweep(duration time.Duration, due int)
}

type BusObserver interface {
	RecordPublished(eventType string)
	RecordDeliveryFailure(subscription string)
	RecordDeliveryDropped(subscription string)
}

// Noop satisfies every observer and records nothing.
type Noop struct{}

func (Noop) RecordAttempt(string) {}
func (Noop) RecordCampaignClosed(string) {}
func (Noop) RecordSweep(time.Duration, int) {}
func (Noop) RecordPublished(string) {}
func (Noop) RecordDeliveryFailure(string) {}
func (Noop) RecordDeliveryDropped(string) {}
