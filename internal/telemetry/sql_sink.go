package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLSink appends records to the chat_usage table.
type SQLSink struct {
	db *sql.DB
}

func NewSQLSink(db *sql.DB) *SQLSink {
	return &SQLSink{db: db}
}

func (s *SQLSink) Name() string { return "sql" }

func (s *SQLSink) Write(ctx context.Context, rec Record) error {
	var in, out, total int
	if rec.Usage != nil {
		in, out, total = rec.Usage.InputTokens, rec.Usage.OutputTokens, rec.Usage.TotalTokens
	}
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_usage (request_id, provider, model, status, finish_reason, text_length, chunks,
			input_tokens, output_tokens, total_tokens, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Provider, rec.Model, string(rec.Status), string(rec.FinishReason), rec.TextLength, rec.Chunks,
		in, out, total, rec.Duration.Milliseconds(), rec.Error, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert chat usage: %w", err)
	}
	return nil
}
