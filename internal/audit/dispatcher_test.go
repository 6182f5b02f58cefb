package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
)

func TestLogSinkDeliver(t *testing.T) {
	var buf bytes.Buffer
	sink := LogSink{Logger: log.New(&buf, "", 0)}

	err := sink.Deliver(context.Background(), "license.granted", map[string]any{"tenant_id": "t1"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" || entry["event"] != "license.granted" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["tenant_id"] != "t1" {
		t.Fatalf("fields missing: %v", entry["fields"])
	}

	if err := sink.Deliver(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
	done   chan struct{}
	fail   bool
}

func (s *recordingSink) Deliver(ctx context.Context, event string, fields map[string]any) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	if s.done != nil {
		s.done <- struct{}{}
	}
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func TestDispatcherDelivers(t *testing.T) {
	sink := &recordingSink{done: make(chan struct{}, 4)}
	d := NewDispatcher(sink)

	d.Emit("license.granted", map[string]any{"user_id": "u1"})
	d.Emit("license.revoked", map[string]any{"user_id": "u1"})
	d.Close()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 2 || sink.events[0] != "license.granted" || sink.events[1] != "license.revoked" {
		t.Fatalf("unexpected deliveries: %v", sink.events)
	}
}

// Delivery failures are logged and swallowed; Emit callers never see them.
func TestDispatcherSwallowsSinkFailures(t *testing.T) {
	var buf bytes.Buffer
	sink := &recordingSink{fail: true}
	d := NewDispatcher(sink, WithLogger(log.New(&buf, "", 0)))

	d.Emit("license.changed", nil)
	d.Close()

	if !strings.Contains(buf.String(), "audit delivery failed") {
		t.Fatalf("expected failure log, got %q", buf.String())
	}
}

// Emit must not block when the queue is saturated.
func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	var buf bytes.Buffer
	block := make(chan struct{})
	sink := blockingSink{release: block}
	d := NewDispatcher(sink, WithQueueSize(1), WithLogger(log.New(&buf, "", 0)))

	for i := 0; i < 10; i++ {
		d.Emit("license.granted", nil)
	}
	close(block)
	d.Close()

	if !strings.Contains(buf.String(), "event dropped") {
		t.Fatalf("expected drop log, got %q", buf.String())
	}
}

// Emit after Close drops the event instead of panicking on the closed queue.
func TestDispatcherEmitAfterCloseIsSafe(t *testing.T) {
	var buf bytes.Buffer
	sink := &recordingSink{}
	d := NewDispatcher(sink, WithLogger(log.New(&buf, "", 0)))
	d.Close()

	d.Emit("license.granted", map[string]any{"user_id": "u1"})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 0 {
		t.Fatalf("no delivery expected after close, got %v", sink.events)
	}
	if !strings.Contains(buf.String(), "event dropped") {
		t.Fatalf("expected drop log, got %q", buf.String())
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s blockingSink) Deliver(ctx context.Context, event string, fields map[string]any) error {
	<-s.release
	return nil
}
