// Package chat is the boundary to the external chat service. Everything the
// rest of the system knows about the chat UI goes through Transport; the
// concrete implementation is the websocket gateway client in this package.
package chat

import (
	"context"
	"errors"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrGatewayDown  = errors.New("gateway unavailable")
	ErrSendRejected = errors.New("send rejected")
)

// MessageRef addresses a message the bot has sent: the chat session it lives
// in plus the transport's message id.
type MessageRef struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
}

func (r MessageRef) Zero() bool {
	return r.SessionID == "" && r.MessageID == ""
}

// Button is one inline affordance. Data carries the callback payload; URL
// buttons deep-link instead of calling back.
type Button struct {
	Label string `json:"label"`
	Data  string `json:"data,omitempty"`
	URL   string `json:"url,omitempty"`
}

type Keyboard [][]Button

// Transport is the minimal chat surface the dispatcher and handlers need.
// Calls are fire-and-forget from the caller's point of view: failures are
// returned but never surfaced to the end user.
type Transport interface {
	SendMessage(ctx context.Context, sessionID, text string, kb Keyboard) (MessageRef, error)
	SendMedia(ctx context.Context, sessionID, mediaKind, mediaRef, caption string, kb Keyboard, replyTo string) (MessageRef, error)
	EditMessage(ctx context.Context, ref MessageRef, text string, kb Keyboard) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
	AnswerCallback(ctx context.Context, callbackID, notice string) error
}

// Update is one inbound interaction from the chat service: either a command
// ("/start", possibly with a deep-link argument) or a callback from an
// inline button.
type Update struct {
	Type        string     `json:"type"` // "command" or "callback"
	SubjectID   string     `json:"subject_id"`
	SessionID   string     `json:"session_id"`
	DisplayName string     `json:"display_name,omitempty"`
	Command     string     `json:"command,omitempty"`
	Args        []string   `json:"args,omitempty"`
	CallbackID  string     `json:"callback_id,omitempty"`
	Data        string     `json:"data,omitempty"`
	Message     MessageRef `json:"message,omitempty"`
}

const (
	UpdateCommand  = "command"
	UpdateCallback = "callback"
)
