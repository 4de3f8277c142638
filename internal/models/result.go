package models

import "time"

// FinishReason describes why generation stopped.
type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishError  FinishReason = "error"
	FinishOther  FinishReason = "other"
)

// ParseFinishReason maps a provider stop reason onto the known set.
func ParseFinishReason(raw string) FinishReason {
	switch raw {
	case "stop", "end_turn", "stop_sequence", "success":
		return FinishStop
	case "length", "max_tokens", "model_context_window_exceeded":
		return FinishLength
	case "error":
		return FinishError
	default:
		return FinishOther
	}
}

// Usage holds provider-reported token counts.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// StreamResult is the aggregated outcome of one generation call.
type StreamResult struct {
	Text         string        `json:"text"`
	FinishReason FinishReason  `json:"finishReason"`
	Usage        *Usage        `json:"usage,omitempty"`
	Chunks       int           `json:"chunks"`
	Duration     time.Duration `json:"duration"`
}

// TextLength is the byte length of the streamed text.
func (r *StreamResult) TextLength() int {
	if r == nil {
		return 0
	}
	return len(r.Text)
}
