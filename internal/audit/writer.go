package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	auditFileMode = 0600
	auditDirMode  = 0700
)

// Event types written by the approval gate.
const (
	TypeRequested = "approval.requested"
	TypeResolved  = "approval.resolved"
	TypeFailed    = "approval.failed"
)

// Event is one audit record written as a single JSON line. Payloads are
// never recorded.
type Event struct {
	Time           time.Time `json:"time"`
	Type           string    `json:"type"`
	RequestID      string    `json:"request_id,omitempty"`
	Tool           string    `json:"tool,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Result         string    `json:"result,omitempty"`
	Patched        bool      `json:"patched,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	ElapsedMs      int64     `json:"elapsed_ms,omitempty"`
	Source         string    `json:"source,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	CallerID       string    `json:"caller_id,omitempty"`
}

// Writer appends audit events to a JSONL file.
type Writer struct {
	path string
	mu   sync.Mutex
}

// NewWriter creates an append-only audit writer for path.
func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Path returns the file the writer appends to.
func (w *Writer) Path() string { return w.path }

// Append writes one event as one JSONL line.
func (w *Writer) Append(event Event) error {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), auditDirMode); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, auditFileMode)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	encoded = append(encoded, '\n')

	if _, err := file.Write(encoded); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync audit file: %w", err)
	}
	return nil
}
