// Package chat drives one conversation through the selected model and
// forwards the generated text to the caller as it arrives.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"portfoliochat/internal/chaterr"
	"portfoliochat/internal/models"
	"portfoliochat/internal/service/ai"
	"portfoliochat/internal/telemetry"
)

// ModelSelector picks the model that serves a request.
type ModelSelector interface {
	Select(ctx context.Context, env ai.Environment) (*ai.ModelHandle, error)
}

// ChunkFunc receives each non-empty chunk in provider order.
type ChunkFunc func(chunk string) error

// Request is one chat turn submitted by the UI.
type Request struct {
	ID           string
	Conversation models.Conversation
	Env          ai.Environment
}

// Bridge validates, selects and streams. It holds no per-request state.
type Bridge struct {
	selector ModelSelector
	recorder telemetry.Recorder
	now      func() time.Time
}

// NewBridge builds a bridge. A nil recorder discards telemetry.
func NewBridge(selector ModelSelector, recorder telemetry.Recorder) *Bridge {
	if recorder == nil {
		recorder = telemetry.RecorderFunc(func(telemetry.Record) {})
	}
	return &Bridge{selector: selector, recorder: recorder, now: time.Now}
}

// NewRequestID returns a fresh identifier for correlating logs and records.
func NewRequestID() string {
	return uuid.NewString()
}

// Stream runs req to completion, calling emit for every chunk. On success the
// aggregated result is returned after exactly one completed record was handed
// to the recorder. Errors are *chaterr.Error values.
func (b *Bridge) Stream(ctx context.Context, req Request, emit ChunkFunc) (*models.StreamResult, error) {
	if err := req.Conversation.Validate(); err != nil {
		return nil, chaterr.InvalidRequest(err.Error())
	}
	if req.ID == "" {
		req.ID = NewRequestID()
	}
	started := b.now()

	handle, err := b.selector.Select(ctx, req.Env)
	if err != nil {
		b.finish(req.ID, nil, &accumulator{}, started, err)
		return nil, err
	}
	debugLog("request %s served by %s", req.ID, handle)

	sr, err := handle.Stream(ctx, req.Conversation)
	if err != nil {
		err = handle.ClassifyError(err)
		b.finish(req.ID, handle, &accumulator{}, started, err)
		return nil, err
	}
	defer sr.Close()

	acc := &accumulator{}
	if err := consume(ctx, handle, sr, acc, emit); err != nil {
		b.finish(req.ID, handle, acc, started, err)
		return nil, err
	}

	result := acc.result(b.now().Sub(started))
	b.finish(req.ID, handle, acc, started, nil)
	return result, nil
}

func consume(ctx context.Context, handle *ai.ModelHandle, sr *schema.StreamReader[*schema.Message], acc *accumulator, emit ChunkFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return handle.ClassifyError(err)
		}
		if msg == nil {
			continue
		}
		acc.observeMeta(msg.ResponseMeta)
		if msg.Content == "" {
			continue
		}
		acc.append(msg.Content)
		if emit != nil {
			if err := emit(msg.Content); err != nil {
				return &writeError{err: err}
			}
		}
	}
}

// writeError marks a failure to deliver a chunk to the caller.
type writeError struct{ err error }

func (e *writeError) Error() string { return fmt.Sprintf("write chunk: %v", e.err) }
func (e *writeError) Unwrap() error { return e.err }

func (b *Bridge) finish(id string, handle *ai.ModelHandle, acc *accumulator, started time.Time, err error) {
	now := b.now()
	rec := telemetry.Record{
		RequestID:  id,
		TextLength: acc.text.Len(),
		Chunks:     acc.chunks,
		Duration:   now.Sub(started),
		At:         now,
	}
	if handle != nil {
		rec.Provider = handle.Provider
		rec.Model = handle.Model
	}
	var we *writeError
	switch {
	case err == nil:
		res := acc.result(rec.Duration)
		rec.Status = telemetry.StatusCompleted
		rec.FinishReason = res.FinishReason
		rec.Usage = res.Usage
	case errors.Is(err, context.Canceled) || errors.As(err, &we):
		rec.Status = telemetry.StatusCancelled
		rec.Error = err.Error()
	default:
		rec.Status = telemetry.StatusFailed
		rec.Error = err.Error()
	}
	b.recorder.Record(rec)
}
