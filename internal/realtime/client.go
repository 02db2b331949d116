// Package realtime is a minimal Supabase Realtime client: one shared
// websocket connection speaking the Phoenix channel protocol, with one
// channel per subscribed topic.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHeartbeatInterval = 25 * time.Second
	defaultHandshakeTimeout  = 10 * time.Second
	writeTimeout             = 10 * time.Second
	channelBufferSize        = 32
	handshakeBodyMaxLength   = 256
)

// ErrClientClosed is returned by Subscribe after Close.
var ErrClientClosed = errors.New("realtime client closed")

// Options tunes a Client.
type Options struct {
	EventsPerSecond   int
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
}

// Client multiplexes channels over a lazily dialed websocket connection.
// A dropped connection fails every open channel; the next Subscribe dials
// again.
type Client struct {
	endpoint  string
	apiKey    string
	dialer    *websocket.Dialer
	heartbeat time.Duration

	ref atomic.Uint64

	mu       sync.Mutex
	conn     *websocket.Conn
	done     chan struct{}
	channels map[string]*Channel
	closed   bool

	writeMu sync.Mutex
}

// NewClient creates a client for the Supabase project at baseURL.
func NewClient(baseURL, apiKey string, opts Options) (*Client, error) {
	endpoint, err := EndpointURL(baseURL, apiKey, opts.EventsPerSecond)
	if err != nil {
		return nil, err
	}

	heartbeat := opts.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	handshake := opts.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}

	return &Client{
		endpoint:  endpoint,
		apiKey:    apiKey,
		dialer:    &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: handshake},
		heartbeat: heartbeat,
		channels:  make(map[string]*Channel),
	}, nil
}

// Connected reports whether a websocket connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Subscribe joins topic with the given postgres_changes filters. The join
// result arrives asynchronously on the channel's Events as EventSubscribed
// or EventChannelError.
func (c *Client) Subscribe(ctx context.Context, topic string, changes ...PostgresChange) (*Channel, error) {
	if topic == "" {
		return nil, fmt.Errorf("realtime topic is required")
	}
	conn, err := c.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	ch := &Channel{
		client:  c,
		topic:   topicPrefix + topic,
		joinRef: c.nextRef(),
		events:  make(chan Event, channelBufferSize),
		closed:  make(chan struct{}),
	}

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return nil, fmt.Errorf("realtime connection lost while subscribing to %s", ch.topic)
	}
	if _, exists := c.channels[ch.topic]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("realtime topic already subscribed: %s", ch.topic)
	}
	c.channels[ch.topic] = ch
	c.mu.Unlock()

	payload, err := json.Marshal(joinPayload{
		Config: joinConfig{
			PostgresChanges: changes,
		},
		AccessToken: c.apiKey,
	})
	if err != nil {
		c.unregister(ch)
		return nil, fmt.Errorf("encode join payload: %w", err)
	}

	err = c.write(conn, Message{
		Topic:   ch.topic,
		Event:   eventJoin,
		Payload: payload,
		Ref:     ch.joinRef,
		JoinRef: ch.joinRef,
	})
	if err != nil {
		c.unregister(ch)
		c.dropConn(conn, err)
		return nil, fmt.Errorf("join %s: %w", ch.topic, err)
	}

	slog.Debug("realtime join sent", "topic", ch.topic, "ref", ch.joinRef)
	return ch, nil
}

// Close fails every open channel with EventClosed and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn, channels := c.detachLocked()
	c.mu.Unlock()

	notify(channels, Event{Type: EventClosed, Err: ErrClientClosed})
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *Client) nextRef() string {
	return strconv.FormatUint(c.ref.Add(1), 10)
}

func (c *Client) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if c.conn != nil {
		return c.conn, nil
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, handshakeBodyMaxLength))
			return nil, fmt.Errorf("realtime handshake rejected (status=%d): %s", resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	done := make(chan struct{})
	c.conn = conn
	c.done = done
	go c.readLoop(conn)
	go c.heartbeatLoop(conn, done)

	slog.Debug("realtime connected")
	return conn, nil
}

func (c *Client) write(conn *websocket.Conn, msg Message) error {
	if msg.Payload == nil {
		msg.Payload = json.RawMessage(`{}`)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.dropConn(conn, err)
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("realtime invalid message", "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) heartbeatLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := c.write(conn, Message{Topic: phoenixTopic, Event: eventHeartbeat, Ref: c.nextRef()})
			if err != nil {
				slog.Warn("realtime heartbeat failed", "error", err)
				c.dropConn(conn, fmt.Errorf("heartbeat: %w", err))
				return
			}
		}
	}
}

func (c *Client) dispatch(msg Message) {
	if msg.Topic == phoenixTopic {
		return
	}

	c.mu.Lock()
	ch := c.channels[msg.Topic]
	c.mu.Unlock()
	if ch == nil {
		return
	}

	switch msg.Event {
	case eventReply:
		if msg.Ref != ch.joinRef {
			return
		}
		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			ch.deliver(Event{Type: EventChannelError, Err: fmt.Errorf("decode join reply: %w", err)})
			return
		}
		if reply.Status == "ok" {
			ch.deliver(Event{Type: EventSubscribed})
			return
		}
		ch.deliver(Event{Type: EventChannelError, Err: fmt.Errorf("join %s rejected: %s", ch.topic, replyError(reply))})
	case eventSystem:
		var sys systemPayload
		if err := json.Unmarshal(msg.Payload, &sys); err != nil {
			return
		}
		if sys.Status != "" && sys.Status != "ok" {
			ch.deliver(Event{Type: EventChannelError, Err: fmt.Errorf("%s: %s", sys.Extension, sys.Message)})
		}
	case eventError:
		ch.deliver(Event{Type: EventChannelError, Err: fmt.Errorf("channel %s errored", ch.topic)})
	case eventClose:
		ch.deliver(Event{Type: EventClosed})
	case eventPostgresChanges:
		var body changesPayload
		if err := json.Unmarshal(msg.Payload, &body); err != nil {
			slog.Warn("realtime invalid postgres_changes payload", "topic", msg.Topic, "error", err)
			return
		}
		change := body.Data
		ch.deliver(Event{Type: EventPostgresChange, Change: &change})
	}
}

// dropConn tears down conn after a transport failure. It is a no-op when
// conn has already been replaced or shut down.
func (c *Client) dropConn(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	_, channels := c.detachLocked()
	c.mu.Unlock()

	_ = conn.Close()
	notify(channels, Event{Type: EventChannelError, Err: fmt.Errorf("realtime connection lost: %w", cause)})
}

func (c *Client) detachLocked() (*websocket.Conn, map[string]*Channel) {
	conn := c.conn
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	c.conn = nil
	channels := c.channels
	c.channels = make(map[string]*Channel)
	return conn, channels
}

func notify(channels map[string]*Channel, ev Event) {
	for _, ch := range channels {
		ch.deliver(ev)
	}
}

func (c *Client) unregister(ch *Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channels[ch.topic] != ch {
		return false
	}
	delete(c.channels, ch.topic)
	return true
}

func (c *Client) leave(ch *Channel) error {
	if !c.unregister(ch) {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return c.write(conn, Message{Topic: ch.topic, Event: eventLeave, Ref: c.nextRef(), JoinRef: ch.joinRef})
}
