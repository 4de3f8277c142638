package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const maxCLILine = 4 << 20

// ErrNotAuthenticated is reported when the CLI runs but has no usable login.
var ErrNotAuthenticated = errors.New("claude cli is not authenticated")

var loginMarkers = []string{
	"/login",
	"claude login",
	"invalid api key",
	"not logged in",
	"authentication_error",
	"oauth token has expired",
}

// looksLoggedOut reports whether CLI output describes a missing or rejected login.
func looksLoggedOut(text string) bool {
	text = strings.ToLower(text)
	for _, marker := range loginMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

var _ model.BaseChatModel = (*CLIChatModel)(nil)

// CLIChatModel drives the claude CLI in print mode, relying on the login
// session of the user running the server.
type CLIChatModel struct {
	binary string
	model  string
}

// NewCLIChatModel resolves the CLI binary. It fails when the binary cannot be found.
func NewCLIChatModel(binary, modelName string) (*CLIChatModel, error) {
	if binary == "" {
		binary = "claude"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("locate %s: %w", binary, err)
	}
	return &CLIChatModel{binary: path, model: modelName}, nil
}

// Generate runs the CLI and returns the concatenated response.
func (m *CLIChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	sr, err := m.Stream(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	defer sr.Close()
	return schema.ConcatMessageStream(sr)
}

// Stream starts one CLI process per call and forwards text deltas as they are printed.
func (m *CLIChatModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	system, prompt := renderPrompt(input)
	if prompt == "" {
		return nil, errors.New("prompt is empty")
	}

	cmd := newCommand(ctx, m.binary, m.buildArgs(system)...)
	cmd.Stdin = strings.NewReader(prompt)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", m.binary, err)
	}
	debugLog("[claude-cli] started pid=%d model=%s", cmd.Process.Pid, m.model)

	sr, sw := schema.Pipe[*schema.Message](16)
	go pumpCLI(cmd, stdout, &stderr, sw)
	return sr, nil
}

func (m *CLIChatModel) buildArgs(system string) []string {
	args := []string{
		"-p",
		"--output-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
		"--max-turns", "1",
	}
	if m.model != "" {
		args = append(args, "--model", m.model)
	}
	if system != "" {
		args = append(args, "--append-system-prompt", system)
	}
	return args
}

// pumpCLI reads stream-json lines until the process exits. The writer is
// closed exactly once; a closed reader stops the process.
func pumpCLI(cmd *exec.Cmd, stdout io.Reader, stderr *bytes.Buffer, sw *schema.StreamWriter[*schema.Message]) {
	defer sw.Close()

	var parser cliStreamParser
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxCLILine)
	for scanner.Scan() {
		msgs, err := parser.parseLine(scanner.Bytes())
		if err == nil {
			for _, msg := range msgs {
				if closed := sw.Send(msg, nil); closed {
					_ = killProcessGroup(cmd)
					_ = cmd.Wait()
					return
				}
			}
			continue
		}
		_ = killProcessGroup(cmd)
		_ = cmd.Wait()
		sw.Send(nil, err)
		return
	}
	scanErr := scanner.Err()
	waitErr := cmd.Wait()

	switch {
	case waitErr != nil:
		msg := strings.TrimSpace(stderr.String())
		if !parser.sawDelta && looksLoggedOut(msg) {
			sw.Send(nil, fmt.Errorf("%w: %s", ErrNotAuthenticated, msg))
			return
		}
		if msg != "" {
			sw.Send(nil, fmt.Errorf("claude cli failed: %w (stderr: %s)", waitErr, msg))
		} else {
			sw.Send(nil, fmt.Errorf("claude cli failed: %w", waitErr))
		}
	case scanErr != nil:
		sw.Send(nil, fmt.Errorf("read claude cli output: %w", scanErr))
	case !parser.finished:
		sw.Send(nil, errors.New("claude cli output ended without a result"))
	}
}

// renderPrompt splits system instructions from the dialogue and flattens the
// dialogue into a single prompt for print mode.
func renderPrompt(input []*schema.Message) (string, string) {
	var system []string
	var turns []*schema.Message
	for _, msg := range input {
		if msg == nil {
			continue
		}
		if msg.Role == schema.System {
			system = append(system, msg.Content)
			continue
		}
		turns = append(turns, msg)
	}
	if len(turns) == 0 {
		return strings.Join(system, "\n\n"), ""
	}
	if len(turns) == 1 {
		return strings.Join(system, "\n\n"), turns[0].Content
	}

	var b strings.Builder
	b.WriteString("Continue the conversation below as the assistant. Reply only to the last user message.\n\n")
	for _, msg := range turns {
		if msg.Role == schema.Assistant {
			fmt.Fprintf(&b, "Assistant: %s\n\n", msg.Content)
		} else {
			fmt.Fprintf(&b, "User: %s\n\n", msg.Content)
		}
	}
	return strings.Join(system, "\n\n"), strings.TrimSpace(b.String())
}

// cliLine is the subset of the CLI's stream-json events the parser reads.
type cliLine struct {
	Type    string          `json:"type"`
	Subtype string          `json:"subtype"`
	IsError bool            `json:"is_error"`
	Result  string          `json:"result"`
	Event   *cliEvent       `json:"event"`
	Message *cliMessage     `json:"message"`
	Usage   *cliUsage       `json:"usage"`
	Errors  json.RawMessage `json:"errors"`
}

type cliEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
}

type cliMessage struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type cliUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type cliStreamParser struct {
	sawDelta   bool
	stopReason string
	finished   bool
}

func (p *cliStreamParser) parseLine(line []byte) ([]*schema.Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || p.finished {
		return nil, nil
	}
	var ev cliLine
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("decode claude cli event: %w", err)
	}

	switch ev.Type {
	case "stream_event":
		if ev.Event == nil {
			return nil, nil
		}
		switch ev.Event.Type {
		case "content_block_delta":
			if ev.Event.Delta.Type == "text_delta" && ev.Event.Delta.Text != "" {
				p.sawDelta = true
				return []*schema.Message{{Role: schema.Assistant, Content: ev.Event.Delta.Text}}, nil
			}
		case "message_delta":
			if ev.Event.Delta.StopReason != "" {
				p.stopReason = ev.Event.Delta.StopReason
			}
		}
	case "assistant":
		if ev.Message == nil {
			return nil, nil
		}
		if ev.Message.StopReason != "" {
			p.stopReason = ev.Message.StopReason
		}
		if p.sawDelta {
			return nil, nil
		}
		var text strings.Builder
		for _, block := range ev.Message.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		if text.Len() > 0 {
			return []*schema.Message{{Role: schema.Assistant, Content: text.String()}}, nil
		}
	case "result":
		p.finished = true
		if ev.IsError || (ev.Subtype != "" && ev.Subtype != "success") {
			detail := strings.TrimSpace(ev.Result)
			if detail == "" {
				detail = strings.TrimSpace(string(ev.Errors))
			}
			if detail == "" {
				detail = ev.Subtype
			}
			if !p.sawDelta && looksLoggedOut(detail) {
				return nil, fmt.Errorf("%w: %s", ErrNotAuthenticated, detail)
			}
			return nil, fmt.Errorf("claude cli reported an error: %s", detail)
		}
		reason := p.stopReason
		if reason == "" {
			reason = ev.Subtype
		}
		meta := &schema.ResponseMeta{FinishReason: reason}
		if ev.Usage != nil {
			meta.Usage = &schema.TokenUsage{
				PromptTokens:     ev.Usage.InputTokens,
				CompletionTokens: ev.Usage.OutputTokens,
				TotalTokens:      ev.Usage.InputTokens + ev.Usage.OutputTokens,
			}
		}
		return []*schema.Message{{Role: schema.Assistant, ResponseMeta: meta}}, nil
	}
	return nil, nil
}
