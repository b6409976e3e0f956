package scheduler

import (
	"sync"

	"github.com/placeforge/ingest-cli/internal/model"
)

// EventType identifies a scheduler lifecycle notification.
type EventType string

const (
	EventJobAdded     EventType = "job:added"
	EventJobStarted   EventType = "job:started"
	EventJobCompleted EventType = "job:completed"
	EventJobFailed    EventType = "job:failed"
	EventJobRetry     EventType = "job:retry"
	EventJobCancelled EventType = "job:cancelled"
	EventJobStale     EventType = "job:stale"
	EventQueuePaused  EventType = "queue:paused"
	EventQueueIdle    EventType = "queue:idle"
	EventQueueResumed EventType = "queue:resumed"
	EventQueueCleared EventType = "queue:cleared"
	EventQueueError   EventType = "queue:error"
)

// Event carries a scheduler notification. Job is a snapshot taken at emit time
// and safe to retain.
type Event struct {
	Type EventType
	Job  *model.Job
	Err  error
}

// broadcaster fans events out to subscribers. Sends never block: a subscriber
// that falls behind its buffer misses events rather than stalling dispatch.
type broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

// subscribe registers a listener with the given buffer size and returns the
// receive channel plus a cancel func that closes it.
func (b *broadcaster) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *broadcaster) emit(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// close shuts down every remaining subscription.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
