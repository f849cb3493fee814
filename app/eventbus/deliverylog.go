package eventbus

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
)

// DeliveryLog keeps the most recent delivery attempts across all subscriptions.
type DeliveryLog struct {
	cache *lru.Cache[string, entity.DeliveryRecord]
}

func NewDeliveryLog(size int) (*DeliveryLog, error) {
	if size <= 0 {
		size = 10000
	}
	cache, err := lru.New[string, entity.DeliveryRecord](size)
	if err != nil {
		return nil, err
	}
	return &DeliveryLog{cache: cache}, nil
}

func (l *DeliveryLog) Add(record entity.DeliveryRecord) {
	l.cache.Add(record.ID, record)
}

// Records returns the retained records of one subscription, oldest first.
func (l *DeliveryLog) Records(subscriptionID string) []entity.DeliveryRecord {
	items := make([]entity.DeliveryRecord, 0)
	for _, record := range l.cache.Values() {
		if record.SubscriptionID == subscriptionID {
			items = append(items, record)
		}
	}
	return items
}
