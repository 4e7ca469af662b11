package notify

import (
	"sync"
	"time"

	"github.com/temirov/caravan/internal/state"
)

const (
	defaultSubscriberBufferConstant = 16

	reasonDiscoveredStringConstant   = "discovered"
	reasonReconciledStringConstant   = "reconciled"
	reasonQueuedStringConstant       = "queued"
	reasonPhaseChangedStringConstant = "phase-changed"
	reasonLostStringConstant         = "lost"
	reasonFailedStringConstant       = "failed"
	reasonRetriedStringConstant      = "retried"
)

// Reason categorizes why an event was published.
type Reason string

// Exported reason constants covering every publisher in the coordinator.
const (
	ReasonDiscovered   Reason = Reason(reasonDiscoveredStringConstant)
	ReasonReconciled   Reason = Reason(reasonReconciledStringConstant)
	ReasonQueued       Reason = Reason(reasonQueuedStringConstant)
	ReasonPhaseChanged Reason = Reason(reasonPhaseChangedStringConstant)
	ReasonLost         Reason = Reason(reasonLostStringConstant)
	ReasonFailed       Reason = Reason(reasonFailedStringConstant)
	ReasonRetried      Reason = Reason(reasonRetriedStringConstant)
)

// Event describes one observable change to a tracked repository.
type Event struct {
	Repository string       `json:"repository"`
	Status     state.Status `json:"status"`
	Reason     Reason       `json:"reason"`
	OccurredAt time.Time    `json:"occurredAt"`
}

// Publisher accepts events from workers. Publishing is always fire-and-forget;
// implementations must never block the caller.
type Publisher interface {
	Publish(event Event)
}

// NoopPublisher discards every event.
type NoopPublisher struct{}

// Publish implements Publisher for the no-op publisher.
func (NoopPublisher) Publish(Event) {}

// Broker fans events out to subscribers over buffered channels. A subscriber
// that falls behind loses events rather than slowing publishers down.
type Broker struct {
	brokerMutex      sync.Mutex
	subscribers      map[int]chan Event
	nextSubscriberID int
	subscriberBuffer int
	closed           bool
}

// NewBroker constructs a broker whose subscriber channels hold the provided
// number of undelivered events; non-positive sizes fall back to the default.
func NewBroker(subscriberBuffer int) *Broker {
	if subscriberBuffer <= 0 {
		subscriberBuffer = defaultSubscriberBufferConstant
	}
	return &Broker{
		subscribers:      map[int]chan Event{},
		subscriberBuffer: subscriberBuffer,
	}
}

// Publish delivers the event to every subscriber without blocking.
func (broker *Broker) Publish(event Event) {
	broker.brokerMutex.Lock()
	defer broker.brokerMutex.Unlock()

	if broker.closed {
		return
	}
	for _, subscriberChannel := range broker.subscribers {
		select {
		case subscriberChannel <- event:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its channel together with a
// cancel function. Cancel is idempotent and closes the channel.
func (broker *Broker) Subscribe() (<-chan Event, func()) {
	broker.brokerMutex.Lock()
	defer broker.brokerMutex.Unlock()

	subscriberChannel := make(chan Event, broker.subscriberBuffer)
	if broker.closed {
		close(subscriberChannel)
		return subscriberChannel, func() {}
	}

	subscriberIdentifier := broker.nextSubscriberID
	broker.nextSubscriberID++
	broker.subscribers[subscriberIdentifier] = subscriberChannel

	var cancelOnce sync.Once
	cancelSubscription := func() {
		cancelOnce.Do(func() {
			broker.brokerMutex.Lock()
			defer broker.brokerMutex.Unlock()
			if _, subscriberPresent := broker.subscribers[subscriberIdentifier]; subscriberPresent {
				delete(broker.subscribers, subscriberIdentifier)
				close(subscriberChannel)
			}
		})
	}
	return subscriberChannel, cancelSubscription
}

// Close shuts the broker down, closing every subscriber channel. Later
// publishes are discarded.
func (broker *Broker) Close() {
	broker.brokerMutex.Lock()
	defer broker.brokerMutex.Unlock()

	if broker.closed {
		return
	}
	broker.closed = true
	for subscriberIdentifier, subscriberChannel := range broker.subscribers {
		delete(broker.subscribers, subscriberIdentifier)
		close(subscriberChannel)
	}
}
