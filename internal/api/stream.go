package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"portfoliochat/internal/chaterr"
	"portfoliochat/internal/models"
)

// streamWriter delivers bridge output. Headers are committed on the first
// chunk so that failures before any output can still be answered with JSON.
type streamWriter interface {
	chunk(text string) error
	done(result *models.StreamResult)
	fail(err error)
	started() bool
}

type plainWriter struct {
	c       *gin.Context
	flusher http.Flusher
	begun   bool
}

func newPlainWriter(c *gin.Context) *plainWriter {
	flusher, _ := c.Writer.(http.Flusher)
	return &plainWriter{c: c, flusher: flusher}
}

func (w *plainWriter) begin() {
	if w.begun {
		return
	}
	w.begun = true
	header := w.c.Writer.Header()
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Cache-Control", "no-cache")
	header.Set("X-Accel-Buffering", "no")
	w.c.Status(http.StatusOK)
	w.c.Writer.WriteHeaderNow()
}

func (w *plainWriter) chunk(text string) error {
	w.begin()
	if _, err := w.c.Writer.WriteString(text); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

func (w *plainWriter) done(*models.StreamResult) {
	w.begin()
	if w.flusher != nil {
		w.flusher.Flush()
	}
}

// fail drops the connection so the client sees a truncated body rather
// than a clean end of stream.
func (w *plainWriter) fail(error) {
	panic(http.ErrAbortHandler)
}

func (w *plainWriter) started() bool { return w.begun }

type sseWriter struct {
	c       *gin.Context
	flusher http.Flusher
	begun   bool
}

func newSSEWriter(c *gin.Context) *sseWriter {
	flusher, _ := c.Writer.(http.Flusher)
	return &sseWriter{c: c, flusher: flusher}
}

func (w *sseWriter) begin() {
	if w.begun {
		return
	}
	w.begun = true
	header := w.c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.c.Status(http.StatusOK)
	w.c.Writer.WriteHeaderNow()
}

func (w *sseWriter) sendEvent(event string, payload interface{}) error {
	w.begin()
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w.c.Writer, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w.c.Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

func (w *sseWriter) chunk(text string) error {
	return w.sendEvent("chunk", gin.H{"content": text})
}

func (w *sseWriter) done(result *models.StreamResult) {
	payload := gin.H{
		"finishReason": result.FinishReason,
		"textLength":   result.TextLength(),
	}
	if result.Usage != nil {
		payload["usage"] = result.Usage
	}
	_ = w.sendEvent("done", payload)
}

// fail reports the error in-band and ends the stream without a done event.
func (w *sseWriter) fail(err error) {
	kind := chaterr.KindOf(err)
	_ = w.sendEvent("error", gin.H{
		"error":   kind.Title(),
		"details": chaterr.DetailsOf(err),
	})
}

func (w *sseWriter) started() bool { return w.begun }
