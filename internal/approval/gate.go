package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/MEKXH/letsping/internal/audit"
	"github.com/MEKXH/letsping/internal/metrics"
	"github.com/MEKXH/letsping/internal/payload"
)

// DecisionWaiter blocks for a reviewer decision on a created request.
type DecisionWaiter interface {
	Wait(ctx context.Context, requestID string, original json.RawMessage) Outcome
}

// Encrypter seals outbound payloads.
type Encrypter interface {
	Encrypt(v any) (string, error)
}

// Recorder receives audit events.
type Recorder interface {
	Append(event audit.Event) error
}

// Gate asks a human reviewer to authorize a tool call and blocks until the
// decision arrives.
type Gate struct {
	creator   Creator
	waiter    DecisionWaiter
	encrypter Encrypter
	recorder  Recorder
	now       func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithEncrypter seals outbound payloads with e. Without it payloads are
// sent as plain JSON.
func WithEncrypter(e Encrypter) Option {
	return func(g *Gate) { g.encrypter = e }
}

// WithRecorder writes audit events to r.
func WithRecorder(r Recorder) Option {
	return func(g *Gate) { g.recorder = r }
}

// NewGate creates a gate from its submitter and waiter.
func NewGate(creator Creator, waiter DecisionWaiter, opts ...Option) *Gate {
	g := &Gate{
		creator: creator,
		waiter:  waiter,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Ask requests authorization for toolName with argsJSON. It returns the
// authorized payload only on approval; every other path is an error and the
// caller must not perform the action.
func (g *Gate) Ask(ctx context.Context, in AskInput) (*Result, error) {
	toolName := strings.TrimSpace(in.ToolName)
	original, err := validateInput(toolName, in.ArgsJSON)
	if err != nil {
		metrics.RecordAsk(toolName, metrics.OutcomeInvalid, 0)
		return nil, err
	}

	var body any = original
	if g.encrypter != nil {
		sealed, err := g.encrypter.Encrypt(original)
		if err != nil {
			metrics.RecordAsk(toolName, metrics.OutcomeSubmitFailed, 0)
			return nil, fmt.Errorf("encrypt payload: %w", err)
		}
		body = sealed
	}

	key := IdempotencyKey(toolName, in.ArgsJSON, in.RiskReason)
	started := g.now()

	slog.Info("requesting authorization", "tool", toolName, "encrypted", g.encrypter != nil)
	sub, err := g.creator.Submit(ctx, SubmitInput{
		ToolName:       toolName,
		Payload:        body,
		RiskReason:     in.RiskReason,
		IdempotencyKey: key,
	})
	if err != nil {
		metrics.RecordSubmitError(submitErrorCode(err))
		metrics.RecordAsk(toolName, metrics.OutcomeSubmitFailed, 0)
		g.record(ctx, audit.Event{
			Type:           audit.TypeFailed,
			Tool:           toolName,
			IdempotencyKey: key,
			Result:         metrics.OutcomeSubmitFailed,
			Detail:         err.Error(),
		})
		return nil, fmt.Errorf("create approval request: %w", err)
	}

	g.record(ctx, audit.Event{
		Type:           audit.TypeRequested,
		RequestID:      sub.ID,
		Tool:           toolName,
		IdempotencyKey: key,
		Result:         strings.ToLower(string(sub.Status)),
	})

	var outcome Outcome
	switch sub.Status {
	case StatusApproved:
		slog.Info("request approved on creation", "request_id", sub.ID, "tool", toolName)
		outcome = Outcome{Kind: OutcomeApproved, Payload: original}
	case StatusRejected:
		slog.Info("request rejected on creation", "request_id", sub.ID, "tool", toolName)
		outcome = Outcome{Kind: OutcomeRejected}
	default:
		done := metrics.TrackWait()
		outcome = g.waiter.Wait(ctx, sub.ID, original)
		done()
	}

	return g.resolve(ctx, toolName, sub.ID, key, started, outcome)
}

func (g *Gate) resolve(ctx context.Context, toolName, requestID, key string, started time.Time, outcome Outcome) (*Result, error) {
	elapsed := g.now().Sub(started)
	label := outcome.Kind.String()
	if outcome.Kind == OutcomeApproved && outcome.Patched {
		label = metrics.OutcomePatched
	}
	metrics.RecordAsk(toolName, label, elapsed)

	event := audit.Event{
		Type:           audit.TypeResolved,
		RequestID:      requestID,
		Tool:           toolName,
		IdempotencyKey: key,
		Result:         outcome.Kind.String(),
		Patched:        outcome.Patched,
		ElapsedMs:      elapsed.Milliseconds(),
	}

	var err error
	switch outcome.Kind {
	case OutcomeApproved:
		slog.Info("authorization granted", "request_id", requestID, "tool", toolName, "patched", outcome.Patched)
		g.record(ctx, event)
		return &Result{
			Status:            StatusApproved,
			AuthorizedPayload: outcome.Payload,
			RequestID:         requestID,
			Patched:           outcome.Patched,
		}, nil
	case OutcomeRejected:
		slog.Warn("authorization denied", "request_id", requestID, "tool", toolName)
		g.record(ctx, event)
		return nil, &AuthorizationDeniedError{ToolName: toolName, RequestID: requestID}
	case OutcomeTimedOut:
		err = &TimeoutError{RequestID: requestID, Timeout: waitTimeout(g.waiter)}
	case OutcomeConnectionFailed:
		err = &TransportError{Detail: outcome.Detail, Err: outcome.Err}
	case OutcomeDecryptionFailed:
		var decErr *payload.DecryptionError
		if !errors.As(outcome.Err, &decErr) {
			decErr = &payload.DecryptionError{Reason: "could not read patched payload", Err: outcome.Err}
		}
		err = fmt.Errorf("read reviewer's patched payload: %w", decErr)
	case OutcomeCanceled:
		err = fmt.Errorf("wait for decision on %s: %w", requestID, outcome.Err)
	default:
		err = fmt.Errorf("unexpected wait outcome %d", outcome.Kind)
	}

	slog.Warn("authorization failed", "request_id", requestID, "tool", toolName, "outcome", outcome.Kind.String(), "error", err)
	event.Type = audit.TypeFailed
	event.Detail = err.Error()
	g.record(ctx, event)
	return nil, err
}

func (g *Gate) record(ctx context.Context, event audit.Event) {
	if g.recorder == nil {
		return
	}
	if err := g.recorder.Append(audit.Stamp(ctx, event)); err != nil {
		slog.Warn("append audit event", "type", event.Type, "error", err)
	}
}

func validateInput(toolName, argsJSON string) (json.RawMessage, error) {
	if toolName == "" {
		return nil, &InvalidArgumentError{Field: "tool_name", Reason: "is required"}
	}
	raw := strings.TrimSpace(argsJSON)
	if raw == "" {
		return nil, &InvalidArgumentError{Field: "args_json", Reason: "is required"}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return nil, &InvalidArgumentError{Field: "args_json", Reason: "must be a valid JSON string", Err: err}
	}
	return json.RawMessage(buf.Bytes()), nil
}

func submitErrorCode(err error) string {
	var remote *RemoteServiceError
	if errors.As(err, &remote) {
		return strconv.Itoa(remote.StatusCode)
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return "transport"
	}
	return "other"
}

func waitTimeout(w DecisionWaiter) time.Duration {
	if t, ok := w.(interface{ Timeout() time.Duration }); ok {
		return t.Timeout()
	}
	return 0
}

