package approval

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/MEKXH/letsping/internal/realtime"
	"github.com/google/uuid"
)

const (
	DefaultSchema = "public"
	DefaultTable  = "openclaw_requests"

	topicPrefix = "request:"
)

// FeedEventType classifies a change feed event.
type FeedEventType int

const (
	FeedSubscribed FeedEventType = iota + 1
	FeedUpdate
	FeedError
)

// FeedEvent is one status change or record update for a subscription.
type FeedEvent struct {
	Type   FeedEventType
	Record Record
	Err    error
}

// Subscription streams updates for one request.
type Subscription interface {
	Events() <-chan FeedEvent
	Close() error
}

// ChangeFeed opens subscriptions scoped to a single request id.
type ChangeFeed interface {
	Subscribe(ctx context.Context, requestID string) (Subscription, error)
}

// RealtimeFeed is a ChangeFeed over Supabase realtime postgres_changes.
type RealtimeFeed struct {
	client *realtime.Client
	schema string
	table  string
}

// NewRealtimeFeed watches UPDATEs on schema.table through client.
func NewRealtimeFeed(client *realtime.Client, schema, table string) *RealtimeFeed {
	if schema == "" {
		schema = DefaultSchema
	}
	if table == "" {
		table = DefaultTable
	}
	return &RealtimeFeed{client: client, schema: schema, table: table}
}

// Subscribe joins a topic private to this call, filtered to
// id=eq.<requestID>. Concurrent waits on one request id each get their own
// channel.
func (f *RealtimeFeed) Subscribe(ctx context.Context, requestID string) (Subscription, error) {
	ch, err := f.client.Subscribe(ctx, subscriptionTopic(requestID), realtime.PostgresChange{
		Event:  "UPDATE",
		Schema: f.schema,
		Table:  f.table,
		Filter: "id=eq." + requestID,
	})
	if err != nil {
		return nil, err
	}

	sub := &realtimeSubscription{
		channel: ch,
		events:  make(chan FeedEvent),
		done:    make(chan struct{}),
	}
	go sub.pump()
	return sub, nil
}

func subscriptionTopic(requestID string) string {
	return topicPrefix + requestID + ":" + uuid.NewString()
}

type realtimeSubscription struct {
	channel *realtime.Channel
	events  chan FeedEvent
	done    chan struct{}
	once    sync.Once
	err     error
}

func (s *realtimeSubscription) Events() <-chan FeedEvent { return s.events }

func (s *realtimeSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.channel.Close()
	})
	return s.err
}

func (s *realtimeSubscription) pump() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.channel.Events():
			out, ok := translate(s.channel.Topic(), ev)
			if !ok {
				continue
			}
			select {
			case s.events <- out:
			case <-s.done:
				return
			}
		}
	}
}

func translate(topic string, ev realtime.Event) (FeedEvent, bool) {
	switch ev.Type {
	case realtime.EventSubscribed:
		return FeedEvent{Type: FeedSubscribed}, true
	case realtime.EventChannelError:
		return FeedEvent{Type: FeedError, Err: ev.Err}, true
	case realtime.EventClosed:
		err := ev.Err
		if err == nil {
			err = errors.New("channel closed by server")
		}
		return FeedEvent{Type: FeedError, Err: err}, true
	case realtime.EventPostgresChange:
		if ev.Change == nil {
			return FeedEvent{}, false
		}
		var rec Record
		if err := json.Unmarshal(ev.Change.Record, &rec); err != nil {
			slog.Warn("ignoring undecodable request record", "topic", topic, "error", err)
			return FeedEvent{}, false
		}
		return FeedEvent{Type: FeedUpdate, Record: rec}, true
	default:
		return FeedEvent{}, false
	}
}
