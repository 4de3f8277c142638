package chat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"portfoliochat/internal/chaterr"
	"portfoliochat/internal/config"
	"portfoliochat/internal/models"
	"portfoliochat/internal/service/ai"
	"portfoliochat/internal/telemetry"
)

type scriptedModel struct {
	chunks    []*schema.Message
	failAfter error
	openErr   error
}

func (s *scriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return schema.ConcatMessages(s.chunks)
}

func (s *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	sr, sw := schema.Pipe[*schema.Message](len(s.chunks) + 1)
	go func() {
		defer sw.Close()
		for _, chunk := range s.chunks {
			if closed := sw.Send(chunk, nil); closed {
				return
			}
		}
		if s.failAfter != nil {
			sw.Send(nil, s.failAfter)
		}
	}()
	return sr, nil
}

type fakeSelector struct {
	handle *ai.ModelHandle
	err    error
	calls  int
}

func (f *fakeSelector) Select(ctx context.Context, env ai.Environment) (*ai.ModelHandle, error) {
	f.calls++
	return f.handle, f.err
}

type captureRecorder struct {
	mu      sync.Mutex
	records []telemetry.Record
}

func (c *captureRecorder) Record(rec telemetry.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

func (c *captureRecorder) all() []telemetry.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]telemetry.Record(nil), c.records...)
}

func newBridge(m *scriptedModel) (*Bridge, *fakeSelector, *captureRecorder) {
	sel := &fakeSelector{handle: ai.NewModelHandle(ai.ProviderClaudeCLI, "sonnet", m)}
	rec := &captureRecorder{}
	return NewBridge(sel, rec), sel, rec
}

func hiConversation() models.Conversation {
	return models.Conversation{{Role: models.RoleUser, Content: "Hi"}}
}

func TestStreamForwardsChunksInOrder(t *testing.T) {
	m := &scriptedModel{chunks: []*schema.Message{
		{Role: schema.Assistant, Content: "Hel"},
		{Role: schema.Assistant, Content: ""},
		{Role: schema.Assistant, Content: "lo"},
		{Role: schema.Assistant, ResponseMeta: &schema.ResponseMeta{
			FinishReason: "end_turn",
			Usage:        &schema.TokenUsage{PromptTokens: 3, CompletionTokens: 2},
		}},
	}}
	bridge, _, rec := newBridge(m)

	var got []string
	result, err := bridge.Stream(context.Background(), Request{ID: "req-1", Conversation: hiConversation()}, func(chunk string) error {
		got = append(got, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(got) != 2 || got[0] != "Hel" || got[1] != "lo" {
		t.Fatalf("unexpected chunks %q", got)
	}
	if result.Text != "Hello" || result.FinishReason != models.FinishStop || result.Chunks != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Usage == nil || result.Usage.InputTokens != 3 || result.Usage.OutputTokens != 2 || result.Usage.TotalTokens != 5 {
		t.Fatalf("unexpected usage %+v", result.Usage)
	}

	records := rec.all()
	if len(records) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(records))
	}
	r := records[0]
	if r.Status != telemetry.StatusCompleted || r.TextLength != len("Hello") || r.RequestID != "req-1" {
		t.Fatalf("unexpected record %+v", r)
	}
	if r.Provider != ai.ProviderClaudeCLI || r.Model != "sonnet" || r.FinishReason != models.FinishStop {
		t.Fatalf("unexpected record identity %+v", r)
	}
}

func TestStreamRejectsInvalidConversation(t *testing.T) {
	cases := map[string]models.Conversation{
		"nil":   nil,
		"empty": {},
		"blank": {{Role: models.RoleUser, Content: "   "}},
		"role":  {{Role: "tool", Content: "hi"}},
	}
	for name, conv := range cases {
		t.Run(name, func(t *testing.T) {
			bridge, sel, rec := newBridge(&scriptedModel{})
			_, err := bridge.Stream(context.Background(), Request{Conversation: conv}, nil)
			if chaterr.KindOf(err) != chaterr.KindInvalidRequest {
				t.Fatalf("expected invalid request, got %v", err)
			}
			if sel.calls != 0 {
				t.Fatalf("selector must not be consulted for invalid input")
			}
			if len(rec.all()) != 0 {
				t.Fatalf("no telemetry expected for rejected input")
			}
		})
	}
}

func TestStreamMidStreamFailure(t *testing.T) {
	m := &scriptedModel{
		chunks:    []*schema.Message{{Role: schema.Assistant, Content: "Hel"}},
		failAfter: errors.New("connection reset by peer"),
	}
	bridge, _, rec := newBridge(m)

	var got []string
	result, err := bridge.Stream(context.Background(), Request{Conversation: hiConversation()}, func(chunk string) error {
		got = append(got, chunk)
		return nil
	})
	if err == nil || result != nil {
		t.Fatalf("expected failure, got result %+v", result)
	}
	if chaterr.KindOf(err) != chaterr.KindProvider {
		t.Fatalf("expected provider error, got %v", err)
	}
	if len(got) != 1 || got[0] != "Hel" {
		t.Fatalf("unexpected chunks %q", got)
	}
	records := rec.all()
	if len(records) != 1 || records[0].Status != telemetry.StatusFailed {
		t.Fatalf("expected one failed record, got %+v", records)
	}
	if records[0].TextLength != 3 || records[0].Error == "" {
		t.Fatalf("failed record should carry partial length and error: %+v", records[0])
	}
}

func TestStreamOpenFailure(t *testing.T) {
	bridge, _, rec := newBridge(&scriptedModel{openErr: errors.New("overloaded")})
	_, err := bridge.Stream(context.Background(), Request{Conversation: hiConversation()}, nil)
	if chaterr.KindOf(err) != chaterr.KindProvider {
		t.Fatalf("expected provider error, got %v", err)
	}
	if records := rec.all(); len(records) != 1 || records[0].Status != telemetry.StatusFailed {
		t.Fatalf("expected one failed record, got %+v", records)
	}
}

func TestStreamSelectionFailure(t *testing.T) {
	sel := &fakeSelector{err: chaterr.Configuration("ANTHROPIC_API_KEY environment variable is not set", nil)}
	rec := &captureRecorder{}
	bridge := NewBridge(sel, rec)

	_, err := bridge.Stream(context.Background(), Request{Conversation: hiConversation(), Env: ai.Environment{Production: true}}, nil)
	if chaterr.KindOf(err) != chaterr.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
	records := rec.all()
	if len(records) != 1 || records[0].Status != telemetry.StatusFailed || records[0].Provider != "" {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestStreamClientGone(t *testing.T) {
	m := &scriptedModel{chunks: []*schema.Message{
		{Role: schema.Assistant, Content: "Hel"},
		{Role: schema.Assistant, Content: "lo"},
	}}
	bridge, _, rec := newBridge(m)

	calls := 0
	_, err := bridge.Stream(context.Background(), Request{Conversation: hiConversation()}, func(string) error {
		calls++
		return errors.New("broken pipe")
	})
	if err == nil {
		t.Fatalf("expected write failure")
	}
	if calls != 1 {
		t.Fatalf("streaming should stop after the first failed write, got %d writes", calls)
	}
	if records := rec.all(); len(records) != 1 || records[0].Status != telemetry.StatusCancelled {
		t.Fatalf("expected one cancelled record, got %+v", records)
	}
}

func TestStreamContextCancelled(t *testing.T) {
	m := &scriptedModel{chunks: []*schema.Message{{Role: schema.Assistant, Content: "Hel"}}}
	bridge, _, rec := newBridge(m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := bridge.Stream(ctx, Request{Conversation: hiConversation()}, func(string) error {
		t.Fatalf("no chunk should be forwarded after cancellation")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if records := rec.all(); len(records) != 1 || records[0].Status != telemetry.StatusCancelled {
		t.Fatalf("expected one cancelled record, got %+v", records)
	}
}

func TestAccumulatorMergesSplitUsage(t *testing.T) {
	acc := &accumulator{}
	acc.observeMeta(&schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 10}})
	acc.append("abc")
	acc.observeMeta(&schema.ResponseMeta{FinishReason: "max_tokens", Usage: &schema.TokenUsage{CompletionTokens: 4}})

	res := acc.result(0)
	if res.FinishReason != models.FinishLength {
		t.Fatalf("finish reason = %s", res.FinishReason)
	}
	if res.Usage.InputTokens != 10 || res.Usage.OutputTokens != 4 || res.Usage.TotalTokens != 14 {
		t.Fatalf("usage = %+v", res.Usage)
	}

	acc.observeMeta(&schema.ResponseMeta{Usage: &schema.TokenUsage{TotalTokens: 20}})
	if got := acc.result(0).Usage.TotalTokens; got != 20 {
		t.Fatalf("provider total should pass through, got %d", got)
	}
}

func TestAccumulatorWithoutUsage(t *testing.T) {
	acc := &accumulator{}
	acc.append("x")
	res := acc.result(0)
	if res.Usage != nil {
		t.Fatalf("usage should be absent when the provider sends none")
	}
	if res.FinishReason != models.FinishStop {
		t.Fatalf("finish reason = %s", res.FinishReason)
	}
}

func TestStreamLoggedOutCLIIsAuthenticationError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake CLI script requires a POSIX shell")
	}
	bin := filepath.Join(t.TempDir(), "claude")
	script := `#!/bin/sh
cat >/dev/null
echo '{"type":"result","subtype":"success","is_error":true,"result":"Invalid API key · Please run /login"}'
exit 1
`
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake cli: %v", err)
	}
	cfg := config.Default()
	cfg.Models.CLIPath = bin
	rec := &captureRecorder{}
	bridge := NewBridge(ai.NewSelector(cfg.Models, cfg.Environment), rec)

	_, err := bridge.Stream(context.Background(), Request{Conversation: hiConversation()}, func(string) error {
		t.Fatalf("no output expected from a logged-out CLI")
		return nil
	})
	if chaterr.KindOf(err) != chaterr.KindAuthentication {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if details := chaterr.DetailsOf(err); !strings.Contains(details, "claude login") {
		t.Fatalf("details should name the login command: %q", details)
	}
	if records := rec.all(); len(records) != 1 || records[0].Status != telemetry.StatusFailed {
		t.Fatalf("expected one failed record, got %+v", records)
	}
}
