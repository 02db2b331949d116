package realtime

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Phoenix channel events used by the Supabase realtime server.
const (
	eventJoin            = "phx_join"
	eventLeave           = "phx_leave"
	eventReply           = "phx_reply"
	eventError           = "phx_error"
	eventClose           = "phx_close"
	eventHeartbeat       = "heartbeat"
	eventSystem          = "system"
	eventPostgresChanges = "postgres_changes"

	phoenixTopic  = "phoenix"
	topicPrefix   = "realtime:"
	protocolVsn   = "1.0.0"
	websocketPath = "/realtime/v1/websocket"
)

// Message is one Phoenix frame in the JSON serializer format.
type Message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

// PostgresChange describes a database change filter for a channel join.
type PostgresChange struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

// Change is a delivered postgres_changes record.
type Change struct {
	Type            string          `json:"type"`
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	CommitTimestamp string          `json:"commit_timestamp"`
	Record          json.RawMessage `json:"record"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type joinConfig struct {
	Broadcast       broadcastConfig  `json:"broadcast"`
	Presence        presenceConfig   `json:"presence"`
	PostgresChanges []PostgresChange `json:"postgres_changes"`
}

type broadcastConfig struct {
	Ack  bool `json:"ack"`
	Self bool `json:"self"`
}

type presenceConfig struct {
	Key string `json:"key"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type systemPayload struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Extension string `json:"extension"`
}

type changesPayload struct {
	IDs  []int64 `json:"ids"`
	Data Change  `json:"data"`
}

// EndpointURL builds the realtime websocket URL for a Supabase project URL.
// http(s) schemes map to ws(s); a URL already pointing at the websocket path
// is kept as is.
func EndpointURL(baseURL, apiKey string, eventsPerSecond int) (string, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		return "", fmt.Errorf("realtime url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid realtime url %q: %w", raw, err)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported realtime url scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("realtime url %q has no host", raw)
	}

	path := strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(path, "/websocket") {
		path += websocketPath
	}
	u.Path = path

	q := u.Query()
	if apiKey != "" {
		q.Set("apikey", apiKey)
	}
	q.Set("vsn", protocolVsn)
	if eventsPerSecond > 0 {
		q.Set("eventsPerSecond", strconv.Itoa(eventsPerSecond))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func replyError(reply replyPayload) string {
	detail := strings.TrimSpace(string(reply.Response))
	if detail == "" || detail == "{}" || detail == "null" {
		return reply.Status
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(reply.Response, &body); err == nil && body.Reason != "" {
		return body.Reason
	}
	return detail
}
