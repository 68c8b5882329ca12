package testsupport

import (
	"context"
	"sync"

	"cadence/internal/notifications"
)

// RecordedEvent is one notification captured by RecordingNotifier.
type RecordedEvent struct {
	Event   notifications.Event
	Payload notifications.Payload
}

// RecordingNotifier captures published events for assertions.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []RecordedEvent
}

func (n *RecordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, RecordedEvent{Event: event, Payload: payload})
	return nil
}

func (n *RecordingNotifier) TestNotification(ctx context.Context) error {
	return n.Publish(ctx, notifications.EventTest, nil)
}

// Events returns every captured event.
func (n *RecordingNotifier) Events() []RecordedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]RecordedEvent(nil), n.events...)
}

// Count returns how many events of the given kind were captured.
func (n *RecordingNotifier) Count(event notifications.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, e := range n.events {
		if e.Event == event {
			count++
		}
	}
	return count
}
