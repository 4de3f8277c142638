package chat

import (
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"portfoliochat/internal/models"
)

// accumulator collects streamed text and response metadata for one request.
type accumulator struct {
	text         strings.Builder
	chunks       int
	finishReason string
	usage        *models.Usage
}

func (a *accumulator) append(chunk string) {
	a.text.WriteString(chunk)
	a.chunks++
}

// observeMeta merges metadata that may be split across chunks. A later
// non-zero field replaces an earlier one.
func (a *accumulator) observeMeta(meta *schema.ResponseMeta) {
	if meta == nil {
		return
	}
	if meta.FinishReason != "" {
		a.finishReason = meta.FinishReason
	}
	if meta.Usage == nil {
		return
	}
	if a.usage == nil {
		a.usage = &models.Usage{}
	}
	if meta.Usage.PromptTokens > 0 {
		a.usage.InputTokens = meta.Usage.PromptTokens
	}
	if meta.Usage.CompletionTokens > 0 {
		a.usage.OutputTokens = meta.Usage.CompletionTokens
	}
	if meta.Usage.TotalTokens > 0 {
		a.usage.TotalTokens = meta.Usage.TotalTokens
	}
}

func (a *accumulator) result(elapsed time.Duration) *models.StreamResult {
	res := &models.StreamResult{
		Text:     a.text.String(),
		Chunks:   a.chunks,
		Duration: elapsed,
	}
	if a.finishReason == "" {
		res.FinishReason = models.FinishStop
	} else {
		res.FinishReason = models.ParseFinishReason(a.finishReason)
	}
	if a.usage != nil {
		u := *a.usage
		if u.TotalTokens == 0 {
			u.TotalTokens = u.InputTokens + u.OutputTokens
		}
		res.Usage = &u
	}
	return res
}
