package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"m8flash/internal/logging"
	"m8flash/internal/session"
)

// Event is an outbound message with its encoded payload.
type Event struct {
	Kind    EventKind
	Payload json.RawMessage
}

// NewEvent encodes payload for kind.
func NewEvent(kind EventKind, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s: %w", kind, err)
	}
	return Event{Kind: kind, Payload: data}, nil
}

// Frame is the wire envelope for commands and events.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Frame wraps the event in its wire envelope.
func (e Event) Frame() Frame {
	return Frame{Event: e.Kind.String(), Payload: e.Payload}
}

// Subscription is one observer's bounded event queue.
type Subscription struct {
	events chan Event
	done   chan struct{}
}

// Events yields published events. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed when the subscription ends, by Close or by detachment.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Subscribe registers a new observer.
func (b *Bridge) Subscribe() *Subscription {
	sub := &Subscription{
		events: make(chan Event, b.observerBuffer),
		done:   make(chan struct{}),
	}
	b.observersMu.Lock()
	b.observers[sub] = struct{}{}
	b.observersMu.Unlock()
	return sub
}

// Unsubscribe removes an observer. Removing twice is a no-op.
func (b *Bridge) Unsubscribe(sub *Subscription) {
	b.observersMu.Lock()
	defer b.observersMu.Unlock()
	b.detachLocked(sub)
}

func (b *Bridge) detachLocked(sub *Subscription) bool {
	if _, ok := b.observers[sub]; !ok {
		return false
	}
	delete(b.observers, sub)
	close(sub.done)
	close(sub.events)
	return true
}

// ObserverCount reports the number of attached observers.
func (b *Bridge) ObserverCount() int {
	b.observersMu.Lock()
	defer b.observersMu.Unlock()
	return len(b.observers)
}

// Publish delivers ev to every observer without blocking. Observers whose
// queue is full are detached.
func (b *Bridge) Publish(ev Event) {
	b.observersMu.Lock()
	defer b.observersMu.Unlock()
	for sub := range b.observers {
		select {
		case sub.events <- ev:
		default:
			b.detachLocked(sub)
			b.logger.Warn("detaching slow observer",
				logging.String(logging.FieldEvent, ev.Kind.String()),
				logging.String(logging.FieldEventType, "observer_detached"),
				logging.String(logging.FieldErrorHint, "the shell stopped reading events"),
				logging.String(logging.FieldImpact, "observer must reconnect to resume updates"),
			)
		}
	}
}

// PublishValue encodes payload and publishes it. Encoding failures are logged.
func (b *Bridge) PublishValue(kind EventKind, payload any) {
	ev, err := NewEvent(kind, payload)
	if err != nil {
		b.logger.Error("event encoding failed",
			logging.Error(err),
			logging.String(logging.FieldEvent, kind.String()),
			logging.String(logging.FieldEventType, "event_encode_failed"),
		)
		return
	}
	b.Publish(ev)
}

// PublishStatus publishes a firmware-flashing-status event.
func (b *Bridge) PublishStatus(_ context.Context, status session.FlashingStatus) {
	b.PublishValue(EventFirmwareFlashingStatus, status)
}

// DevicesUpdated publishes a device-list-updated event from a snapshot.
func (b *Bridge) DevicesUpdated(_ context.Context, snapshot session.DeviceSnapshot) {
	b.Publish(Event{Kind: EventDeviceListUpdated, Payload: snapshot.Payload})
}

// Reject publishes a command-rejected event.
func (b *Bridge) Reject(kind CommandKind, reason string) {
	b.PublishValue(EventCommandRejected, CommandRejected{Command: kind.String(), Reason: reason})
}
