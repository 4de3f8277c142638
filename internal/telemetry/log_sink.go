package telemetry

import (
	"context"
	"fmt"
	"log"
)

// LogSink writes one line per record through a standard logger.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink logs through logger, or the default logger when nil.
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, rec Record) error {
	usage := "n/a"
	if rec.Usage != nil {
		usage = fmt.Sprintf("in=%d out=%d total=%d", rec.Usage.InputTokens, rec.Usage.OutputTokens, rec.Usage.TotalTokens)
	}
	if rec.Status == StatusCompleted {
		s.logger.Printf("[chat] request=%s status=%s provider=%s model=%s finishReason=%s textLength=%d chunks=%d usage=(%s) duration=%s",
			rec.RequestID, rec.Status, rec.Provider, rec.Model, rec.FinishReason, rec.TextLength, rec.Chunks, usage, rec.Duration)
		return nil
	}
	s.logger.Printf("[chat] request=%s status=%s provider=%s model=%s textLength=%d chunks=%d duration=%s error=%q",
		rec.RequestID, rec.Status, rec.Provider, rec.Model, rec.TextLength, rec.Chunks, rec.Duration, rec.Error)
	return nil
}
