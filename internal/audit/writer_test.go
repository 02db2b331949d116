package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open audit file error: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan audit file error: %v", err)
	}
	return lines
}

func TestWriter_AppendEvent(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "state", "audit.jsonl")
	writer := NewWriter(auditPath)

	firstTime := time.Date(2026, 2, 15, 8, 0, 0, 0, time.UTC)
	secondTime := firstTime.Add(5 * time.Second)

	if err := writer.Append(Event{
		Time:           firstTime,
		Type:           TypeRequested,
		RequestID:      "req-1",
		Tool:           "transfer_funds",
		IdempotencyKey: "req_abc",
	}); err != nil {
		t.Fatalf("Append first event error: %v", err)
	}

	if err := writer.Append(Event{
		Time:      secondTime,
		Type:      TypeResolved,
		RequestID: "req-1",
		Tool:      "transfer_funds",
		Result:    "approved",
		Patched:   true,
	}); err != nil {
		t.Fatalf("Append second event error: %v", err)
	}

	lines := readLines(t, auditPath)
	if len(lines) != 2 {
		t.Fatalf("expected 2 jsonl lines, got %d", len(lines))
	}

	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal first line error: %v", err)
	}
	if !first.Time.Equal(firstTime) {
		t.Fatalf("expected first time %s, got %s", firstTime, first.Time)
	}
	if first.Type != TypeRequested {
		t.Fatalf("expected first type %s, got %q", TypeRequested, first.Type)
	}
	if first.IdempotencyKey != "req_abc" {
		t.Fatalf("expected idempotency key req_abc, got %q", first.IdempotencyKey)
	}

	var second Event
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("unmarshal second line error: %v", err)
	}
	if second.Type != TypeResolved || second.Result != "approved" || !second.Patched {
		t.Fatalf("unexpected second event: %+v", second)
	}
}

func TestWriter_AppendStampsMissingTime(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	writer := NewWriter(auditPath)

	before := time.Now().UTC().Add(-time.Second)
	if err := writer.Append(Event{Type: TypeFailed}); err != nil {
		t.Fatalf("Append error: %v", err)
	}

	var event Event
	if err := json.Unmarshal([]byte(readLines(t, auditPath)[0]), &event); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if event.Time.Before(before) {
		t.Fatalf("expected time to be stamped, got %s", event.Time)
	}
}

func TestWriter_AppendEvent_MkdirAllFailure(t *testing.T) {
	workspace := t.TempDir()
	statePath := filepath.Join(workspace, "state")
	if err := os.WriteFile(statePath, []byte("not-a-dir"), 0644); err != nil {
		t.Fatalf("WriteFile state blocker error: %v", err)
	}

	writer := NewWriter(filepath.Join(statePath, "audit.jsonl"))
	err := writer.Append(Event{Time: time.Now().UTC(), Type: TypeRequested})
	if err == nil {
		t.Fatal("expected append error when state path is a file")
	}
}

func TestWriter_AppendEvent_Concurrent(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	writer := NewWriter(auditPath)

	const total = 20
	var wg sync.WaitGroup
	errCh := make(chan error, total)
	wg.Add(total)
	for i := 0; i < total; i++ {
		go func() {
			defer wg.Done()
			if err := writer.Append(Event{
				Time:      time.Date(2026, 2, 15, 9, 0, i, 0, time.UTC),
				Type:      TypeResolved,
				RequestID: fmt.Sprintf("req-%d", i),
				Tool:      "exec",
				Result:    "approved",
			}); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("append failed in concurrent path: %v", err)
	}

	if count := len(readLines(t, auditPath)); count != total {
		t.Fatalf("expected %d lines, got %d", total, count)
	}
}

func TestStamp_CopiesCaller(t *testing.T) {
	ctx := WithCaller(context.Background(), Caller{Source: " gateway ", SessionID: "s-1", CallerID: "r-9"})
	event := Stamp(ctx, Event{Type: TypeRequested})
	if event.Source != "gateway" || event.SessionID != "s-1" || event.CallerID != "r-9" {
		t.Fatalf("unexpected stamped event: %+v", event)
	}

	if empty := Stamp(context.Background(), Event{}); empty.Source != "" {
		t.Fatalf("expected no caller, got %+v", empty)
	}
}
