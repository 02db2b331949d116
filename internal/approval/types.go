package approval

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Status is the lifecycle state of a remote approval request.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// ParseStatus normalizes a status string from the service. Unknown values
// are returned upper-cased and are not terminal.
func ParseStatus(s string) Status {
	return Status(strings.ToUpper(strings.TrimSpace(s)))
}

// Terminal reports whether s ends a decision wait.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// AskInput is one authorization request from a caller.
type AskInput struct {
	ToolName   string `json:"tool_name"`
	ArgsJSON   string `json:"args_json"`
	RiskReason string `json:"risk_reason"`
}

// Result is returned to the caller when a request is approved.
type Result struct {
	Status            Status          `json:"status"`
	AuthorizedPayload json.RawMessage `json:"authorized_payload"`
	RequestID         string          `json:"request_id,omitempty"`
	Patched           bool            `json:"patched"`
}

// Record is the remote request row as delivered by the change feed.
type Record struct {
	ID             string          `json:"id"`
	Tool           string          `json:"tool,omitempty"`
	Status         Status          `json:"status"`
	PatchedPayload json.RawMessage `json:"patched_payload,omitempty"`
}

// UnmarshalJSON normalizes the status on decode.
func (r *Record) UnmarshalJSON(data []byte) error {
	type rawRecord Record
	var raw rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Record(raw)
	r.Status = ParseStatus(string(raw.Status))
	return nil
}

// patchedBlob returns the reviewer's patched payload as text for the
// cipher. A JSON string is unquoted; any other JSON value is returned
// verbatim so it decodes as legacy plaintext. Null and empty values mean
// the reviewer did not patch.
func (r Record) patchedBlob() (string, bool) {
	raw := bytes.TrimSpace(r.PatchedPayload)
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	if raw[0] != '"' {
		return string(raw), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw), true
	}
	if strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// OutcomeKind classifies how a decision wait ended.
type OutcomeKind int

const (
	OutcomeApproved OutcomeKind = iota + 1
	OutcomeRejected
	OutcomeTimedOut
	OutcomeConnectionFailed
	OutcomeDecryptionFailed
	OutcomeCanceled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeApproved:
		return "approved"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeConnectionFailed:
		return "connection_failed"
	case OutcomeDecryptionFailed:
		return "decryption_failed"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Outcome is the single terminal result of a decision wait.
type Outcome struct {
	Kind    OutcomeKind
	Payload json.RawMessage
	Patched bool
	Detail  string
	Err     error
}
