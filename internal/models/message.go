package models

import (
	"errors"
	"fmt"
	"strings"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one turn in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is the ordered dialogue submitted on every turn.
type Conversation []Message

// Validate checks the conversation is non-empty and every message is usable.
func (c Conversation) Validate() error {
	if len(c) == 0 {
		return errors.New("messages must be a non-empty array")
	}
	for i, msg := range c {
		if !msg.Role.Valid() {
			return fmt.Errorf("messages[%d]: invalid role %q", i, msg.Role)
		}
		if strings.TrimSpace(msg.Content) == "" {
			return fmt.Errorf("messages[%d]: content is required", i)
		}
	}
	return nil
}
