package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"portfoliochat/internal/chaterr"
	"portfoliochat/internal/config"
	"portfoliochat/internal/models"
	"portfoliochat/internal/service/ai"
	"portfoliochat/internal/service/chat"
)

const requestIDHeader = "X-Request-ID"

// Handler wires HTTP routes to the chat bridge.
type Handler struct {
	bridge  *chat.Bridge
	env     config.EnvironmentConfig
	timeout time.Duration
	getenv  func(string) string
}

// NewHandler constructs a Handler instance.
func NewHandler(bridge *chat.Bridge, cfg *config.Config) *Handler {
	return &Handler{
		bridge:  bridge,
		env:     cfg.Environment,
		timeout: cfg.RequestTimeout(),
		getenv:  os.Getenv,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/health", h.health)
	api.POST("/chat", h.chat)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type chatRequest struct {
	Messages json.RawMessage `json:"messages"`
}

func (h *Handler) chat(c *gin.Context) {
	requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
	if requestID == "" {
		requestID = chat.NewRequestID()
	}
	c.Header(requestIDHeader, requestID)

	conv, err := decodeConversation(c)
	if err != nil {
		respondError(c, err)
		return
	}

	env := ai.LookupEnvironment(h.env, h.getenv)

	streamCtx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	var out streamWriter
	if wantsEventStream(c) {
		out = newSSEWriter(c)
	} else {
		out = newPlainWriter(c)
	}

	result, err := h.bridge.Stream(streamCtx, chat.Request{
		ID:           requestID,
		Conversation: conv,
		Env:          env,
	}, out.chunk)
	if err != nil {
		log.Printf("[api] chat %s failed: %v", requestID, err)
		if !out.started() {
			respondError(c, err)
			return
		}
		out.fail(err)
		return
	}
	out.done(result)
}

func decodeConversation(c *gin.Context) (models.Conversation, error) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, chaterr.InvalidRequest("request body must be a JSON object with a messages array")
	}
	raw := bytes.TrimSpace(req.Messages)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, chaterr.InvalidRequest("messages is required")
	}
	if raw[0] != '[' {
		return nil, chaterr.InvalidRequest("messages must be an array")
	}
	var conv models.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return nil, chaterr.InvalidRequest("messages must be an array of {role, content} objects")
	}
	if err := conv.Validate(); err != nil {
		return nil, chaterr.InvalidRequest(err.Error())
	}
	return conv, nil
}

func respondError(c *gin.Context, err error) {
	kind := chaterr.KindOf(err)
	c.AbortWithStatusJSON(kind.Status(), gin.H{
		"error":   kind.Title(),
		"details": chaterr.DetailsOf(err),
	})
}

func wantsEventStream(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}
