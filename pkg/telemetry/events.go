package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a progress notification emitted by the orchestrators.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	RunID     string                 `json:"run_id,omitempty"`
	Message   string                 `json:"message"`
	Level     string                 `json:"level"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeRunStarted    = "run.started"
	EventTypeRunCompleted  = "run.completed"
	EventTypeRunFailed     = "run.failed"
	EventTypeStepCompleted = "step.completed"
	EventTypeCycleDone     = "cycle.completed"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher delivers events synchronously to its subscribers, in
// publication order.
type EventPublisher struct {
	enabled     bool
	mu          sync.RWMutex
	subscribers []subscriberEntry
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a publisher. A disabled publisher drops every
// event.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	return &EventPublisher{enabled: cfg.Enabled}
}

// Publish stamps event and hands it to every matching subscriber.
func (ep *EventPublisher) Publish(event Event) {
	if ep == nil || !ep.enabled {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// PublishStep announces a finished depletion step.
func (ep *EventPublisher) PublishStep(runID string, step int, days, keff float64) {
	ep.Publish(Event{
		Type:    EventTypeStepCompleted,
		RunID:   runID,
		Message: "depletion step completed",
		Data: map[string]interface{}{
			"step": step,
			"days": days,
			"keff": keff,
		},
	})
}

// PublishCycle announces a finished recycle cycle.
func (ep *EventPublisher) PublishCycle(runID string, cycle int, mode string, keff float64) {
	ep.Publish(Event{
		Type:    EventTypeCycleDone,
		RunID:   runID,
		Message: "recycle cycle completed",
		Data: map[string]interface{}{
			"cycle": cycle,
			"mode":  mode,
			"keff":  keff,
		},
	})
}

// PublishRunCompleted announces the end of a run; err marks it failed.
func (ep *EventPublisher) PublishRunCompleted(runID string, duration time.Duration, err error) {
	event := Event{
		Type:    EventTypeRunCompleted,
		RunID:   runID,
		Message: "run completed",
		Data:    map[string]interface{}{"duration": duration.String()},
	}
	if err != nil {
		event.Type = EventTypeRunFailed
		event.Level = EventLevelError
		event.Message = err.Error()
	}
	ep.Publish(event)
}

// Subscribe adds a subscriber. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}
