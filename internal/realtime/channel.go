package realtime

import (
	"log/slog"
	"sync"
)

// EventType classifies what a channel observed.
type EventType string

const (
	EventSubscribed     EventType = "SUBSCRIBED"
	EventChannelError   EventType = "CHANNEL_ERROR"
	EventClosed         EventType = "CLOSED"
	EventPostgresChange EventType = "POSTGRES_CHANGE"
)

// Event is one status change or delivered record on a channel.
type Event struct {
	Type   EventType
	Change *Change
	Err    error
}

// Channel is one joined topic on a Client.
type Channel struct {
	client  *Client
	topic   string
	joinRef string

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Topic returns the full channel topic, including the "realtime:" prefix.
func (ch *Channel) Topic() string { return ch.topic }

// Events streams status changes and records. The channel is never closed;
// stop reading after Close.
func (ch *Channel) Events() <-chan Event { return ch.events }

// Close leaves the topic. Other channels on the same connection are not
// affected. Safe to call more than once.
func (ch *Channel) Close() error {
	ch.closeOnce.Do(func() {
		close(ch.closed)
		ch.closeErr = ch.client.leave(ch)
		slog.Debug("realtime channel closed", "topic", ch.topic)
	})
	return ch.closeErr
}

func (ch *Channel) deliver(ev Event) {
	select {
	case <-ch.closed:
		return
	default:
	}

	select {
	case ch.events <- ev:
	default:
		slog.Warn("realtime channel buffer full, dropping event", "topic", ch.topic, "type", string(ev.Type))
	}
}
