package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"portfoliochat/internal/models"
)

type memorySink struct {
	mu      sync.Mutex
	records []Record
	block   chan struct{}
	err     error
}

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) Write(ctx context.Context, rec Record) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return m.err
}

func (m *memorySink) snapshot() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

func TestDispatcherFansOutToAllSinks(t *testing.T) {
	first := &memorySink{}
	second := &memorySink{err: errors.New("sink down")}
	d := NewDispatcher(8, 2, first, second)

	for i := 0; i < 5; i++ {
		d.Record(Record{RequestID: string(rune('a' + i)), Status: StatusCompleted})
	}
	d.Close()

	if got := len(first.snapshot()); got != 5 {
		t.Fatalf("first sink got %d records", got)
	}
	if got := len(second.snapshot()); got != 5 {
		t.Fatalf("failing sink should still receive every record, got %d", got)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sink := &memorySink{block: make(chan struct{})}
	d := NewDispatcher(1, 1, sink)

	// first record occupies the worker, second fills the queue
	if err := d.TryRecord(Record{RequestID: "1"}); err != nil {
		t.Fatalf("first record: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for len(d.queue) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := d.TryRecord(Record{RequestID: "2"}); err != nil {
		t.Fatalf("second record: %v", err)
	}

	start := time.Now()
	if err := d.TryRecord(Record{RequestID: "3"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("TryRecord blocked")
	}
	if d.Dropped() != 1 {
		t.Fatalf("dropped = %d", d.Dropped())
	}

	close(sink.block)
	d.Close()
	if got := len(sink.snapshot()); got != 2 {
		t.Fatalf("expected 2 delivered records, got %d", got)
	}
	if err := d.TryRecord(Record{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestLogSinkFormatsCompletion(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(log.New(&buf, "", 0))
	err := sink.Write(context.Background(), Record{
		RequestID:    "req-1",
		Provider:     "claude-cli",
		Model:        "sonnet",
		Status:       StatusCompleted,
		TextLength:   5,
		Chunks:       2,
		FinishReason: models.FinishStop,
		Usage:        &models.Usage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	line := buf.String()
	for _, want := range []string{"finishReason=stop", "textLength=5", "total=5", "status=completed"} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %q missing %q", line, want)
		}
	}

	buf.Reset()
	_ = sink.Write(context.Background(), Record{RequestID: "req-2", Status: StatusFailed, Error: "stream reset"})
	if !strings.Contains(buf.String(), "status=failed") || !strings.Contains(buf.String(), "stream reset") {
		t.Fatalf("failure line = %q", buf.String())
	}
}

func TestRecordJSONUsesMilliseconds(t *testing.T) {
	data, err := json.Marshal(Record{RequestID: "r", Status: StatusCompleted, Duration: 1500 * time.Millisecond})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["durationMs"] != float64(1500) || decoded["status"] != "completed" {
		t.Fatalf("unexpected json %s", data)
	}
}
