package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// phoenixServer is a scripted realtime endpoint. onMessage runs for every
// frame the client sends and may write replies on conn.
type phoenixServer struct {
	t        *testing.T
	srv      *httptest.Server
	received chan Message
	query    chan url.Values

	mu    sync.Mutex
	conns []*websocket.Conn

	onMessage func(conn *websocket.Conn, msg Message)
}

func newPhoenixServer(t *testing.T, onMessage func(conn *websocket.Conn, msg Message)) *phoenixServer {
	t.Helper()
	ps := &phoenixServer{
		t:         t,
		received:  make(chan Message, 64),
		query:     make(chan url.Values, 4),
		onMessage: onMessage,
	}
	upgrader := websocket.Upgrader{}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/v1/websocket" {
			http.NotFound(w, r)
			return
		}
		ps.query <- r.URL.Query()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.mu.Lock()
		ps.conns = append(ps.conns, conn)
		ps.mu.Unlock()
		defer conn.Close()
		for {
			var msg Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			ps.received <- msg
			if ps.onMessage != nil {
				ps.onMessage(conn, msg)
			}
		}
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *phoenixServer) closeConnections() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, conn := range ps.conns {
		_ = conn.Close()
	}
}

func (ps *phoenixServer) waitFor(event string) Message {
	ps.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-ps.received:
			if msg.Event == event {
				return msg
			}
		case <-timeout:
			ps.t.Fatalf("timed out waiting for %s", event)
		}
	}
}

func sendJSON(conn *websocket.Conn, msg Message) {
	_ = conn.WriteJSON(msg)
}

func replyOK(conn *websocket.Conn, msg Message) {
	sendJSON(conn, Message{
		Topic:   msg.Topic,
		Event:   eventReply,
		Ref:     msg.Ref,
		Payload: json.RawMessage(`{"status":"ok","response":{"postgres_changes":[{"id":1}]}}`),
	})
}

func nextEvent(t *testing.T, ch *Channel) Event {
	t.Helper()
	select {
	case ev := <-ch.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel event")
	}
	return Event{}
}

func TestEndpointURL(t *testing.T) {
	got, err := EndpointURL("https://abc.supabase.co", "anon", 10)
	if err != nil {
		t.Fatalf("EndpointURL: %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Scheme != "wss" || u.Host != "abc.supabase.co" || u.Path != "/realtime/v1/websocket" {
		t.Fatalf("unexpected endpoint: %s", got)
	}
	q := u.Query()
	if q.Get("apikey") != "anon" || q.Get("vsn") != "1.0.0" || q.Get("eventsPerSecond") != "10" {
		t.Fatalf("unexpected query: %s", u.RawQuery)
	}

	got, err = EndpointURL("ws://localhost:4000/realtime/v1/websocket/", "", 0)
	if err != nil {
		t.Fatalf("EndpointURL ws: %v", err)
	}
	if !strings.HasPrefix(got, "ws://localhost:4000/realtime/v1/websocket?") {
		t.Fatalf("unexpected endpoint: %s", got)
	}
	if strings.Contains(got, "eventsPerSecond") {
		t.Fatalf("expected no rate param, got %s", got)
	}

	for _, bad := range []string{"", "ftp://x", "https://"} {
		if _, err := EndpointURL(bad, "k", 0); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestSubscribe_JoinAndReceiveChanges(t *testing.T) {
	ps := newPhoenixServer(t, func(conn *websocket.Conn, msg Message) {
		if msg.Event != eventJoin {
			return
		}
		replyOK(conn, msg)
		sendJSON(conn, Message{
			Topic: msg.Topic,
			Event: eventPostgresChanges,
			Payload: json.RawMessage(`{"ids":[7],"data":{"type":"UPDATE","schema":"public","table":"openclaw_requests",` +
				`"commit_timestamp":"2026-10-16T10:00:00Z","record":{"id":"r1","status":"APPROVED"},"old_record":{"id":"r1"}}}`),
		})
	})

	client, err := NewClient(ps.srv.URL, "anon-key", Options{EventsPerSecond: 10})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	ch, err := client.Subscribe(context.Background(), "request:r1", PostgresChange{
		Event: "UPDATE", Schema: "public", Table: "openclaw_requests", Filter: "id=eq.r1",
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if ch.Topic() != "realtime:request:r1" {
		t.Fatalf("unexpected topic %q", ch.Topic())
	}

	query := <-ps.query
	if query.Get("apikey") != "anon-key" {
		t.Fatalf("expected apikey in query, got %v", query)
	}

	join := ps.waitFor(eventJoin)
	var jp joinPayload
	if err := json.Unmarshal(join.Payload, &jp); err != nil {
		t.Fatalf("decode join payload: %v", err)
	}
	if jp.AccessToken != "anon-key" {
		t.Fatalf("expected access token, got %q", jp.AccessToken)
	}
	if len(jp.Config.PostgresChanges) != 1 || jp.Config.PostgresChanges[0].Filter != "id=eq.r1" {
		t.Fatalf("unexpected postgres_changes config: %+v", jp.Config.PostgresChanges)
	}
	if join.Ref == "" || join.Ref != join.JoinRef {
		t.Fatalf("expected matching ref/join_ref, got %q/%q", join.Ref, join.JoinRef)
	}

	if ev := nextEvent(t, ch); ev.Type != EventSubscribed {
		t.Fatalf("expected SUBSCRIBED, got %+v", ev)
	}
	ev := nextEvent(t, ch)
	if ev.Type != EventPostgresChange || ev.Change == nil {
		t.Fatalf("expected change event, got %+v", ev)
	}
	if ev.Change.Type != "UPDATE" || ev.Change.Table != "openclaw_requests" {
		t.Fatalf("unexpected change: %+v", ev.Change)
	}
	var record struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(ev.Change.Record, &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.ID != "r1" || record.Status != "APPROVED" {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestSubscribe_JoinRejected(t *testing.T) {
	ps := newPhoenixServer(t, func(conn *websocket.Conn, msg Message) {
		if msg.Event != eventJoin {
			return
		}
		sendJSON(conn, Message{
			Topic:   msg.Topic,
			Event:   eventReply,
			Ref:     msg.Ref,
			Payload: json.RawMessage(`{"status":"error","response":{"reason":"unauthorized"}}`),
		})
	})

	client, err := NewClient(ps.srv.URL, "k", Options{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	ch, err := client.Subscribe(context.Background(), "request:r2")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	ev := nextEvent(t, ch)
	if ev.Type != EventChannelError {
		t.Fatalf("expected CHANNEL_ERROR, got %+v", ev)
	}
	if ev.Err == nil || !strings.Contains(ev.Err.Error(), "unauthorized") {
		t.Fatalf("expected reason in error, got %v", ev.Err)
	}
}

func TestSubscribe_SystemErrorReported(t *testing.T) {
	ps := newPhoenixServer(t, func(conn *websocket.Conn, msg Message) {
		if msg.Event != eventJoin {
			return
		}
		replyOK(conn, msg)
		sendJSON(conn, Message{
			Topic:   msg.Topic,
			Event:   eventSystem,
			Payload: json.RawMessage(`{"status":"error","extension":"postgres_changes","message":"invalid filter"}`),
		})
	})

	client, err := NewClient(ps.srv.URL, "k", Options{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	ch, err := client.Subscribe(context.Background(), "request:r3")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if ev := nextEvent(t, ch); ev.Type != EventSubscribed {
		t.Fatalf("expected SUBSCRIBED, got %+v", ev)
	}
	ev := nextEvent(t, ch)
	if ev.Type != EventChannelError || !strings.Contains(ev.Err.Error(), "invalid filter") {
		t.Fatalf("expected system error, got %+v", ev)
	}
}

func TestChannelClose_LeavesOnlyItsTopic(t *testing.T) {
	ps := newPhoenixServer(t, func(conn *websocket.Conn, msg Message) {
		if msg.Event == eventJoin {
			replyOK(conn, msg)
		}
	})

	client, err := NewClient(ps.srv.URL, "k", Options{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	first, err := client.Subscribe(context.Background(), "request:a")
	if err != nil {
		t.Fatalf("Subscribe a: %v", err)
	}
	second, err := client.Subscribe(context.Background(), "request:b")
	if err != nil {
		t.Fatalf("Subscribe b: %v", err)
	}
	nextEvent(t, first)
	nextEvent(t, second)

	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	leave := ps.waitFor(eventLeave)
	if leave.Topic != "realtime:request:a" {
		t.Fatalf("expected leave for request:a, got %q", leave.Topic)
	}
	if !client.Connected() {
		t.Fatal("expected shared connection to stay open")
	}

	client.mu.Lock()
	_, stillA := client.channels["realtime:request:a"]
	_, stillB := client.channels["realtime:request:b"]
	client.mu.Unlock()
	if stillA || !stillB {
		t.Fatalf("unexpected registrations: a=%v b=%v", stillA, stillB)
	}
}

func TestSubscribe_DuplicateTopicRejected(t *testing.T) {
	ps := newPhoenixServer(t, nil)
	client, err := NewClient(ps.srv.URL, "k", Options{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	if _, err := client.Subscribe(context.Background(), "request:dup"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if _, err := client.Subscribe(context.Background(), "request:dup"); err == nil {
		t.Fatal("expected duplicate topic to fail")
	}
}

func TestConnectionLoss_FailsOpenChannels(t *testing.T) {
	ps := newPhoenixServer(t, func(conn *websocket.Conn, msg Message) {
		if msg.Event == eventJoin {
			replyOK(conn, msg)
		}
	})

	client, err := NewClient(ps.srv.URL, "k", Options{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	ch, err := client.Subscribe(context.Background(), "request:drop")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if ev := nextEvent(t, ch); ev.Type != EventSubscribed {
		t.Fatalf("expected SUBSCRIBED, got %+v", ev)
	}

	ps.closeConnections()

	ev := nextEvent(t, ch)
	if ev.Type != EventChannelError || ev.Err == nil {
		t.Fatalf("expected CHANNEL_ERROR after drop, got %+v", ev)
	}

	deadline := time.Now().Add(2 * time.Second)
	for client.Connected() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if client.Connected() {
		t.Fatal("expected connection to be reset")
	}

	if _, err := client.Subscribe(context.Background(), "request:again"); err != nil {
		t.Fatalf("expected resubscribe to redial, got %v", err)
	}
}

func TestHeartbeatSent(t *testing.T) {
	ps := newPhoenixServer(t, nil)
	client, err := NewClient(ps.srv.URL, "k", Options{HeartbeatInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	if _, err := client.Subscribe(context.Background(), "request:hb"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	hb := ps.waitFor(eventHeartbeat)
	if hb.Topic != phoenixTopic {
		t.Fatalf("expected phoenix topic, got %q", hb.Topic)
	}
}

func TestSubscribe_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client, err := NewClient(srv.URL, "k", Options{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := client.Subscribe(ctx, "request:x"); err == nil {
		t.Fatal("expected dial failure")
	}
}

func TestClose_NotifiesChannelsAndRejectsSubscribe(t *testing.T) {
	ps := newPhoenixServer(t, nil)
	client, err := NewClient(ps.srv.URL, "k", Options{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ch, err := client.Subscribe(context.Background(), "request:c")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ev := nextEvent(t, ch)
	if ev.Type != EventClosed || !errors.Is(ev.Err, ErrClientClosed) {
		t.Fatalf("expected CLOSED, got %+v", ev)
	}
	if _, err := client.Subscribe(context.Background(), "request:d"); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
}
