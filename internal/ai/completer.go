// Package ai forwards prompts to the generative model and serves the chat,
// study-guide and research endpoints.
package ai

import (
	"context"
	"errors"
)

var (
	ErrProviderUnavailable = errors.New("ai provider is not configured")
	ErrProvider            = errors.New("ai provider call failed")
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

func (r Role) Valid() bool { return r == RoleUser || r == RoleModel }

// Message is one turn of a conversation.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Completer produces a model reply for a system instruction and a
// conversation ending in the user's turn. Provider errors wrap ErrProvider.
type Completer interface {
	Complete(ctx context.Context, system string, history []Message) (string, error)
	Available() bool
}

// Unavailable is used when no API key is configured.
type Unavailable struct{}

func (Unavailable) Complete(context.Context, string, []Message) (string, error) {
	return "", ErrProviderUnavailable
}

func (Unavailable) Available() bool { return false }
