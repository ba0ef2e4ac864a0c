// Package hooks implements the typed event stream the Workflow Executor
// publishes (§6): workflow/step lifecycle, checkpoint creation, rollback,
// and human-input-required notifications. The bus is a synchronous fan-out
// publisher — subscribers are invoked in registration order on the
// publisher's goroutine, and delivery stops at the first subscriber error so
// a critical subscriber (e.g. durable persistence) can halt a publish.
package hooks

import (
	"context"
	"errors"
	"sync"
)

// EventType enumerates the event catalogue from §6.
type EventType string

const (
	WorkflowCreated   EventType = "workflow:created"
	WorkflowStarted   EventType = "workflow:started"
	WorkflowPaused    EventType = "workflow:paused"
	WorkflowResumed   EventType = "workflow:resumed"
	WorkflowCompleted EventType = "workflow:completed"
	WorkflowFailed    EventType = "workflow:failed"
	WorkflowCancelled EventType = "workflow:cancelled"

	StepStarted   EventType = "step:started"
	StepCompleted EventType = "step:completed"
	StepFailed    EventType = "step:failed"
	StepRetrying  EventType = "step:retrying"

	CheckpointCreated EventType = "checkpoint:created"

	RollbackStarted   EventType = "rollback:started"
	RollbackCompleted EventType = "rollback:completed"

	HumanInputRequired EventType = "human-input:required"
)

// Event is a single published occurrence. Payload holds the event-specific
// fields listed in §6 (e.g. {workflow}, {workflowId, stepId, result}).
type Event struct {
	Type       EventType
	WorkflowID string
	Payload    map[string]any
}

type (
	// Bus publishes events to registered subscribers.
	Bus interface {
		// Publish delivers the event to every currently registered subscriber
		// in registration order, stopping at the first subscriber error.
		Publish(ctx context.Context, event Event) error
		// Register adds a subscriber and returns a Subscription that can be
		// closed to unregister it.
		Register(sub Subscriber) (Subscription, error)
	}

	// Subscriber reacts to published events.
	Subscriber interface {
		HandleEvent(ctx context.Context, event Event) error
	}

	// SubscriberFunc adapts a plain function to the Subscriber interface.
	SubscriberFunc func(ctx context.Context, event Event) error

	// Subscription represents an active registration; Close is idempotent.
	Subscription interface {
		Close() error
	}

	bus struct {
		mu          sync.RWMutex
		subscribers []*subscription
	}

	subscription struct {
		bus     *bus
		sub     Subscriber
		once    sync.Once
		removed bool
	}
)

// HandleEvent calls f.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error { return f(ctx, event) }

// NewBus constructs a thread-safe in-memory event bus.
func NewBus() Bus {
	return &bus{}
}

func (b *bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		if !s.removed {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()
	for _, s := range subs {
		if err := s.sub.HandleEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (b *bus) Register(sub Subscriber) (Subscription, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	s := &subscription{bus: b, sub: sub}
	b.mu.Lock()
	b.subscribers = append(b.subscribers, s)
	b.mu.Unlock()
	return s, nil
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		s.removed = true
		for i, cur := range s.bus.subscribers {
			if cur == s {
				s.bus.subscribers = append(s.bus.subscribers[:i], s.bus.subscribers[i+1:]...)
				break
			}
		}
		s.bus.mu.Unlock()
	})
	return nil
}
