package eventbus

import (
	"context"
	"sort"
	"sync"

	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
)

// Journal keeps the ordered event stream. Append assigns the event sequence.
type Journal interface {
	Append(ctx context.Context, event *entity.Event) error
	Since(ctx context.Context, sequence uint64, limit int) ([]*entity.Event, error)
}

// MemoryJournal is a fixed-size ring of the most recent events.
type MemoryJournal struct {
	mu     sync.RWMutex
	events []*entity.Event
	size   int
	head   int
	isFull bool
	next   uint64
}

func NewMemoryJournal(size int) *MemoryJournal {
	if size <= 0 {
		size = 1000
	}
	return &MemoryJournal{
		events: make([]*entity.Event, size),
		size:   size,
		next:   1,
	}
}

func (j *MemoryJournal) Append(_ context.Context, event *entity.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	event.Sequence = j.next
	j.next++

	j.events[j.head] = event
	j.head = (j.head + 1) % j.size
	if j.head == 0 {
		j.isFull = true
	}
	return nil
}

// Since returns events with a sequence greater than sequence, oldest first. When the
// ring has already overwritten sequence+1 it returns ErrJournalTruncated.
func (j *MemoryJournal) Since(_ context.Context, sequence uint64, limit int) ([]*entity.Event, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	count := j.head
	start := 0
	if j.isFull {
		count = j.size
		start = j.head
	}
	if count == 0 {
		return []*entity.Event{}, nil
	}

	oldest := j.events[start].Sequence
	if sequence+1 < oldest {
		return nil, ErrJournalTruncated
	}

	idx := sort.Search(count, func(i int) bool {
		return j.events[(start+i)%j.size].Sequence > sequence
	})

	if limit <= 0 {
		limit = 100
	}
	result := make([]*entity.Event, 0)
	for i := idx; i < count && len(result) < limit; i++ {
		result = append(result, j.events[(start+i)%j.size])
	}
	return result, nil
}
