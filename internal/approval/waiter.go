package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MEKXH/letsping/internal/payload"
)

const (
	DefaultDecisionTimeout = 10 * time.Minute
	DefaultConnectTimeout  = 5 * time.Second
)

// Decrypter opens reviewer-patched payloads.
type Decrypter interface {
	Decrypt(blob string) (json.RawMessage, error)
}

// Waiter blocks until a reviewer decides on a request, the decision timer
// fires, the subscription fails, or the caller gives up.
type Waiter struct {
	feed           ChangeFeed
	decrypter      Decrypter
	timeout        time.Duration
	connectTimeout time.Duration
}

// NewWaiter creates a waiter. Non-positive durations use the defaults.
func NewWaiter(feed ChangeFeed, decrypter Decrypter, timeout, connectTimeout time.Duration) *Waiter {
	if timeout <= 0 {
		timeout = DefaultDecisionTimeout
	}
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	return &Waiter{
		feed:           feed,
		decrypter:      decrypter,
		timeout:        timeout,
		connectTimeout: connectTimeout,
	}
}

// Timeout returns the decision timeout.
func (w *Waiter) Timeout() time.Duration { return w.timeout }

// Wait resolves exactly once. original is returned as the authorized
// payload when the reviewer approves without patching.
func (w *Waiter) Wait(ctx context.Context, requestID string, original json.RawMessage) Outcome {
	decisionTimer := time.NewTimer(w.timeout)
	connectTimer := time.NewTimer(w.connectTimeout)

	var (
		sub         Subscription
		cleanupOnce sync.Once
	)
	cleanup := func() {
		cleanupOnce.Do(func() {
			decisionTimer.Stop()
			connectTimer.Stop()
			if sub != nil {
				if err := sub.Close(); err != nil {
					slog.Debug("close approval subscription", "request_id", requestID, "error", err)
				}
			}
		})
	}
	defer cleanup()

	budget := w.connectTimeout
	if w.timeout < budget {
		budget = w.timeout
	}
	subscribeCtx, cancelSubscribe := context.WithTimeout(ctx, budget)
	s, err := w.feed.Subscribe(subscribeCtx, requestID)
	cancelSubscribe()
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return canceled(ctx)
		case fired(decisionTimer):
			return w.timedOut()
		default:
			return Outcome{Kind: OutcomeConnectionFailed, Detail: "subscribe", Err: err}
		}
	}
	sub = s

	connectC := connectTimer.C
	for {
		select {
		case <-ctx.Done():
			return canceled(ctx)
		case <-decisionTimer.C:
			return w.timedOut()
		case <-connectC:
			return Outcome{
				Kind:   OutcomeConnectionFailed,
				Detail: fmt.Sprintf("subscription not confirmed within %s", w.connectTimeout),
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return Outcome{Kind: OutcomeConnectionFailed, Detail: "subscription closed"}
			}
			switch ev.Type {
			case FeedSubscribed:
				if connectC != nil {
					connectTimer.Stop()
					connectC = nil
					slog.Debug("waiting for reviewer decision", "request_id", requestID)
				}
			case FeedError:
				return Outcome{Kind: OutcomeConnectionFailed, Detail: "subscription failed", Err: ev.Err}
			case FeedUpdate:
				if outcome, done := w.interpret(requestID, ev.Record, original); done {
					return outcome
				}
			}
		}
	}
}

func (w *Waiter) interpret(requestID string, rec Record, original json.RawMessage) (Outcome, bool) {
	if rec.ID != "" && rec.ID != requestID {
		return Outcome{}, false
	}

	switch rec.Status {
	case StatusPending:
		return Outcome{}, false
	case StatusApproved:
		blob, patched := rec.patchedBlob()
		if !patched {
			return Outcome{Kind: OutcomeApproved, Payload: original}, true
		}
		if w.decrypter == nil {
			return Outcome{
				Kind: OutcomeDecryptionFailed,
				Err:  &payload.DecryptionError{Reason: "no cipher configured for patched payload"},
			}, true
		}
		value, err := w.decrypter.Decrypt(blob)
		if err != nil {
			return Outcome{Kind: OutcomeDecryptionFailed, Err: err}, true
		}
		return Outcome{Kind: OutcomeApproved, Payload: value, Patched: true}, true
	case StatusRejected:
		return Outcome{Kind: OutcomeRejected}, true
	default:
		slog.Warn("ignoring unknown approval status", "request_id", requestID, "status", string(rec.Status))
		return Outcome{}, false
	}
}

func (w *Waiter) timedOut() Outcome {
	return Outcome{Kind: OutcomeTimedOut, Detail: fmt.Sprintf("no decision within %s", w.timeout)}
}

func canceled(ctx context.Context) Outcome {
	err := context.Cause(ctx)
	if err == nil {
		err = errors.New("wait canceled")
	}
	return Outcome{Kind: OutcomeCanceled, Err: err}
}

func fired(t *time.Timer) bool {
	select {
	case <-t.C:
		return true
	default:
		return false
	}
}
