// Package responder defines the external reply generator consulted after a
// user message, plus a local canned implementation.
package responder

import (
	"context"
	"fmt"
	"strings"

	"zenj-service/internal/models"
)

// Request carries everything a responder may use to produce a reply.
type Request struct {
	ConversationID string
	Content        string
	History        []models.Message
	Persona        string
	MediaRef       string
	MediaType      models.MessageType
}

// Reply is the generated answer.
type Reply struct {
	Content string
}

// Responder produces a reply for a conversation turn. Implementations must
// honor ctx cancellation.
type Responder interface {
	Respond(ctx context.Context, req Request) (Reply, error)
}

// Func adapts a function to Responder.
type Func func(ctx context.Context, req Request) (Reply, error)

func (f Func) Respond(ctx context.Context, req Request) (Reply, error) {
	return f(ctx, req)
}

// Canned answers locally without any model. It is used when no remote
// responder is configured.
type Canned struct{}

func (Canned) Respond(ctx context.Context, req Request) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	switch req.MediaType {
	case models.MessageImage:
		return Reply{Content: "Thanks for the picture."}, nil
	case models.MessageAudio:
		return Reply{Content: "I listened to your voice note."}, nil
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return Reply{Content: "I'm here."}, nil
	}
	return Reply{Content: fmt.Sprintf("You said: %s", models.Snippet(content))}, nil
}
