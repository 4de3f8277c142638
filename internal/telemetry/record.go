// Package telemetry records the outcome of chat requests without holding up
// the response that produced them.
package telemetry

import (
	"encoding/json"
	"time"

	"portfoliochat/internal/models"
)

// Status is the terminal state a request reached.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Record is one immutable telemetry entry, emitted once per request.
type Record struct {
	RequestID    string              `json:"requestId"`
	Provider     string              `json:"provider"`
	Model        string              `json:"model"`
	Status       Status              `json:"status"`
	TextLength   int                 `json:"textLength"`
	Chunks       int                 `json:"chunks"`
	FinishReason models.FinishReason `json:"finishReason,omitempty"`
	Usage        *models.Usage       `json:"usage,omitempty"`
	Duration     time.Duration       `json:"-"`
	Error        string              `json:"error,omitempty"`
	At           time.Time           `json:"at"`
}

// MarshalJSON reports the duration in milliseconds.
func (r Record) MarshalJSON() ([]byte, error) {
	type alias Record
	return json.Marshal(struct {
		alias
		DurationMs int64 `json:"durationMs"`
	}{alias(r), r.Duration.Milliseconds()})
}

// Recorder accepts records. Implementations must not block the caller.
type Recorder interface {
	Record(rec Record)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Record)

func (f RecorderFunc) Record(rec Record) { f(rec) }
