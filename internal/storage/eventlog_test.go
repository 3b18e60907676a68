package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dohr-michael/decoded/internal/events"
)

func TestEventLogger_WriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	bus.Publish(events.Event{
		ID:        "evt-1",
		Type:      events.EventSessionCreated,
		Timestamp: time.Now(),
		Source:    events.SourceGateway,
		Payload:   map[string]any{"provider": "local"},
	})

	// Give the async subscriber time to process.
	time.Sleep(100 * time.Millisecond)

	data, err := os.ReadFile(filepath.Join(dir, "_global.jsonl"))
	if err != nil {
		t.Fatalf("read JSONL: %v", err)
	}

	var got events.Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "evt-1" {
		t.Errorf("got ID %q, want %q", got.ID, "evt-1")
	}
	if got.Type != events.EventSessionCreated {
		t.Errorf("got type %q, want %q", got.Type, events.EventSessionCreated)
	}
}

func TestEventLogger_SessionRouting(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	bus.Publish(events.NewTypedEventWithSession(events.SourceGateway, events.SessionClosedPayload{Reason: "idle"}, ""))
	bus.Publish(events.NewTypedEventWithSession(events.SourceEngine,
		events.TokenPayload{Token: " sunny", Step: 1, Mode: "manual"}, "sess_abc123"))

	time.Sleep(100 * time.Millisecond)

	if _, err := os.Stat(filepath.Join(dir, "_global.jsonl")); err != nil {
		t.Fatalf("_global.jsonl missing: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "sess_abc123.jsonl"))
	if err != nil {
		t.Fatalf("session file missing: %v", err)
	}
	var got events.Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != events.EventGenerationToken || got.Payload["token"] != " sunny" {
		t.Errorf("unexpected event %+v", got)
	}
}

func TestEventLogger_CandidatesFiltered(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	bus.Publish(events.NewTypedEventWithSession(events.SourceEngine, events.CandidatesPayload{
		Candidates: []events.Candidate{{Token: " a", Probability: 0.9}},
		Step:       0,
	}, "sess_abc123"))

	time.Sleep(100 * time.Millisecond)

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected no files, got %d", len(entries))
	}
}

func TestEventLogger_GenerationEventsPersisted(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	payloads := []events.EventPayload{
		events.ModePayload{Mode: "simulating", Previous: "idle"},
		events.TokenPayload{Token: " is", Step: 1, Mode: "simulating"},
		events.GenerationErrorPayload{Mode: "simulating", Error: "boom"},
		events.DonePayload{Reason: "sim", Steps: 1, Text: "The sky is"},
	}
	for _, p := range payloads {
		bus.Publish(events.NewTypedEventWithSession(events.SourceEngine, p, "sess_1"))
	}

	time.Sleep(100 * time.Millisecond)

	f, err := os.Open(filepath.Join(dir, "sess_1.jsonl"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var count int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e events.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal line %d: %v", count, err)
		}
		if e.Type != payloads[count].EventType() {
			t.Errorf("line %d: expected %q, got %q", count, payloads[count].EventType(), e.Type)
		}
		count++
	}
	if count != len(payloads) {
		t.Errorf("got %d events, want %d", count, len(payloads))
	}
}

func TestEventLogger_DirectoryAutoCreation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus)
	defer el.Close()

	bus.Publish(events.Event{
		ID:        "evt-auto",
		Type:      events.EventSessionCreated,
		Timestamp: time.Now(),
		Source:    events.SourceWS,
	})

	time.Sleep(100 * time.Millisecond)

	if _, err := os.Stat(filepath.Join(dir, "_global.jsonl")); err != nil {
		t.Fatalf("directory not auto-created: %v", err)
	}
}
