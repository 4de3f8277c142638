package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"portfoliochat/internal/chaterr"
	"portfoliochat/internal/models"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderClaudeCLI = "claude-cli"
)

// ModelHandle binds a provider and model for the lifetime of one request.
type ModelHandle struct {
	Provider string
	Model    string

	chatModel model.BaseChatModel
	loginHint string
}

// NewModelHandle wraps an already constructed chat model.
func NewModelHandle(provider, modelName string, chatModel model.BaseChatModel) *ModelHandle {
	return &ModelHandle{Provider: provider, Model: modelName, chatModel: chatModel}
}

// Stream opens a streaming generation call for the conversation.
func (h *ModelHandle) Stream(ctx context.Context, conv models.Conversation) (*schema.StreamReader[*schema.Message], error) {
	if h == nil || h.chatModel == nil {
		return nil, errors.New("model handle is not initialized")
	}
	sr, err := h.chatModel.Stream(ctx, convertMessages(conv))
	if err != nil {
		return nil, fmt.Errorf("open %s stream: %w", h.Provider, err)
	}
	return sr, nil
}

// ClassifyError maps a failure from this handle's stream onto the chat error
// kinds. A CLI that reports it is logged out becomes an authentication error.
func (h *ModelHandle) ClassifyError(err error) error {
	var ce *chaterr.Error
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, ErrNotAuthenticated) {
		details := "the model provider rejected the stored credentials"
		if h != nil && h.loginHint != "" {
			details = h.loginHint
		}
		return chaterr.Authentication(details, err)
	}
	return chaterr.Provider(err)
}

func (h *ModelHandle) String() string {
	if h == nil {
		return "<nil>"
	}
	return h.Provider + "/" + h.Model
}

func convertMessages(conv models.Conversation) []*schema.Message {
	messages := make([]*schema.Message, 0, len(conv))
	for _, msg := range conv {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		messages = append(messages, &schema.Message{
			Role:    role,
			Content: msg.Content,
		})
	}
	return messages
}
