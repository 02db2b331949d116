package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultAPIURL         = "https://letsping.co"
	DefaultAskPath        = "/api/openclaw/ask"
	defaultRequestTimeout = 30 * time.Second
	maxResponseBodyBytes  = 64 * 1024
)

// SubmitInput is the outbound request body.
type SubmitInput struct {
	ToolName       string
	Payload        any
	RiskReason     string
	IdempotencyKey string
}

// Submission is the service's answer to a create request.
type Submission struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

// Creator creates remote approval requests.
type Creator interface {
	Submit(ctx context.Context, in SubmitInput) (Submission, error)
}

type submitBody struct {
	Tool           string `json:"tool"`
	Payload        any    `json:"payload"`
	RiskReason     string `json:"risk_reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Submitter posts approval requests to the LetsPing service.
type Submitter struct {
	endpoint string
	secret   string
	client   *http.Client
}

// NewSubmitter creates a submitter for apiURL+askPath authenticated with
// secret. A non-positive timeout uses the default.
func NewSubmitter(apiURL, askPath, secret string, timeout time.Duration) (*Submitter, error) {
	base := strings.TrimSpace(apiURL)
	if base == "" {
		base = DefaultAPIURL
	}
	path := strings.TrimSpace(askPath)
	if path == "" {
		path = DefaultAskPath
	}
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("letsping secret is required")
	}

	endpoint, err := url.JoinPath(base, path)
	if err != nil {
		return nil, fmt.Errorf("invalid letsping api url %q: %w", base, err)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid letsping api url %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported letsping api url scheme: %q", u.Scheme)
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Submitter{
		endpoint: endpoint,
		secret:   secret,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Endpoint returns the full ask URL.
func (s *Submitter) Endpoint() string { return s.endpoint }

// Submit sends one create request. There is no retry: a repeated call with
// the same idempotency key is deduplicated by the service.
func (s *Submitter) Submit(ctx context.Context, in SubmitInput) (Submission, error) {
	body, err := json.Marshal(submitBody{
		Tool:           in.ToolName,
		Payload:        in.Payload,
		RiskReason:     in.RiskReason,
		IdempotencyKey: in.IdempotencyKey,
	})
	if err != nil {
		return Submission{}, fmt.Errorf("encode approval request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Submission{}, fmt.Errorf("build approval request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.secret)

	resp, err := s.client.Do(req)
	if err != nil {
		return Submission{}, &TransportError{Detail: "reach letsping api", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return Submission{}, &TransportError{Detail: "read letsping api response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Submission{}, &RemoteServiceError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var sub Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return Submission{}, fmt.Errorf("decode letsping api response: %w", err)
	}
	sub.ID = strings.TrimSpace(sub.ID)
	if sub.ID == "" {
		return Submission{}, fmt.Errorf("letsping api response missing request id")
	}
	sub.Status = ParseStatus(string(sub.Status))
	if sub.Status == "" {
		sub.Status = StatusPending
	}

	slog.Debug("approval request created", "request_id", sub.ID, "status", string(sub.Status))
	return sub, nil
}
