package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/windrose-sh/windrose/pkg/types"
)

// EventType classifies an orchestration event.
type EventType string

const (
	EventRunSubmitted   EventType = "run.submitted"
	EventRunTerminating EventType = "run.terminating"
	EventRunFinished    EventType = "run.finished"

	EventJobStatusChanged EventType = "job.status_changed"

	EventInstanceCreated    EventType = "instance.created"
	EventInstanceTerminated EventType = "instance.terminated"

	EventDomainRegistered   EventType = "gateway.domain_registered"
	EventDomainUnregistered EventType = "gateway.domain_unregistered"
)

// Event is one orchestration state change.
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// NewRunEvent builds an event describing a run state change.
func NewRunEvent(eventType EventType, run *types.Run, message string) *Event {
	return &Event{
		Type:    eventType,
		Message: message,
		Metadata: map[string]string{
			"project_id": run.ProjectID,
			"run_id":     run.ID,
			"run_name":   run.Name,
			"status":     string(run.Status),
		},
	}
}

// NewJobEvent builds an event describing a job submission state change.
func NewJobEvent(eventType EventType, job *types.Job, message string) *Event {
	return &Event{
		Type:    eventType,
		Message: message,
		Metadata: map[string]string{
			"project_id": job.ProjectID,
			"run_id":     job.RunID,
			"job_id":     job.ID,
			"job_name":   job.Name,
			"status":     string(job.Status),
		},
	}
}

// NewInstanceEvent builds an event describing an instance state change.
func NewInstanceEvent(eventType EventType, instance *types.Instance, message string) *Event {
	return &Event{
		Type:    eventType,
		Message: message,
		Metadata: map[string]string{
			"project_id": instance.ProjectID,
			"pool_id":    instance.PoolID,
			"instance":   instance.Name,
			"backend":    string(instance.Backend),
			"status":     string(instance.Status),
		},
	}
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker fans orchestration events out to subscribers. Delivery is best
// effort: a subscriber that stops draining its channel misses events
// instead of stalling publishers.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates an event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns its channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish hands an event to the broker. Missing ids and timestamps are
// filled in.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
