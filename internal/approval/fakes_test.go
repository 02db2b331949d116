package approval

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/MEKXH/letsping/internal/audit"
)

type fakeSubscription struct {
	events     chan FeedEvent
	closed     chan struct{}
	closeCalls atomic.Int32
}

func newFakeSubscription(script ...FeedEvent) *fakeSubscription {
	s := &fakeSubscription{
		events: make(chan FeedEvent, 16),
		closed: make(chan struct{}),
	}
	for _, ev := range script {
		s.events <- ev
	}
	return s
}

func (s *fakeSubscription) Events() <-chan FeedEvent { return s.events }

func (s *fakeSubscription) Close() error {
	if s.closeCalls.Add(1) == 1 {
		close(s.closed)
	}
	return nil
}

func (s *fakeSubscription) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeFeed struct {
	mu         sync.Mutex
	script     []FeedEvent
	err        error
	block      bool
	requestIDs []string
	subs       []*fakeSubscription
}

func (f *fakeFeed) Subscribe(ctx context.Context, requestID string) (Subscription, error) {
	f.mu.Lock()
	f.requestIDs = append(f.requestIDs, requestID)
	block, err := f.block, f.err
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}

	sub := newFakeSubscription(f.script...)
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	return sub, nil
}

func (f *fakeFeed) lastSub() *fakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

type fakeCreator struct {
	mu    sync.Mutex
	calls []SubmitInput
	sub   Submission
	err   error
}

func (c *fakeCreator) Submit(_ context.Context, in SubmitInput) (Submission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, in)
	if c.err != nil {
		return Submission{}, c.err
	}
	return c.sub, nil
}

func (c *fakeCreator) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type fakeWaiter struct {
	mu        sync.Mutex
	calls     int
	requestID string
	original  json.RawMessage
	outcome   Outcome
}

func (w *fakeWaiter) Wait(_ context.Context, requestID string, original json.RawMessage) Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	w.requestID = requestID
	w.original = original
	return w.outcome
}

type memoryRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *memoryRecorder) Append(event audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *memoryRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func update(id string, status Status, patched string) FeedEvent {
	rec := Record{ID: id, Status: status}
	if patched != "" {
		rec.PatchedPayload = json.RawMessage(patched)
	}
	return FeedEvent{Type: FeedUpdate, Record: rec}
}

func subscribed() FeedEvent { return FeedEvent{Type: FeedSubscribed} }
