package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"zenj-service/internal/apperr"
	"zenj-service/internal/conversation"
	"zenj-service/internal/models"
	"zenj-service/internal/notifier"
	"zenj-service/internal/observability"
	"zenj-service/internal/responder"
)

// failureNotice is the content of the record appended when no reply could
// be produced.
const failureNotice = "The reply could not be generated. Please try again."

var tracer = otel.Tracer("zenj-service/engine")

type turn struct {
	actor   string
	contact models.Contact
	message models.Message
}

// Send appends actor's message to the conversation and runs the responder
// turn to completion. A responder failure leaves a failure record in the log
// and is reported as a Responder error together with the result.
func (e *Engine) Send(ctx context.Context, actor, conversationID string, out models.OutgoingMessage) (Result, error) {
	ctx, span := tracer.Start(ctx, "engine.send")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	t, dup, err := e.accept(ctx, actor, conversationID, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	if dup != nil {
		span.SetAttributes(attribute.Bool("send.duplicate", true))
		return *dup, nil
	}
	defer e.finish(t)

	res, err := e.respond(ctx, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

// SendAsync appends actor's message and returns it at once. The responder
// turn continues in the background and its outcome is delivered on the
// returned channel, which is buffered and receives exactly one value.
func (e *Engine) SendAsync(ctx context.Context, actor, conversationID string, out models.OutgoingMessage) (models.Message, <-chan TurnResult, error) {
	t, dup, err := e.accept(ctx, actor, conversationID, out)
	if err != nil {
		return models.Message{}, nil, err
	}
	ch := make(chan TurnResult, 1)
	if dup != nil {
		ch <- TurnResult{Result: *dup}
		return dup.Message, ch, nil
	}

	bg := context.WithoutCancel(ctx)
	e.turns.Add(1)
	go func() {
		defer e.turns.Done()
		defer e.finish(t)
		ctx, span := tracer.Start(bg, "engine.send_async")
		defer span.End()
		res, err := e.respond(ctx, t)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		ch <- TurnResult{Result: res, Err: err}
	}()
	return t.message, ch, nil
}

// accept validates the outgoing message, enters the awaiting-reply state and
// appends the user's message. A resubmitted client message id yields the
// stored message as a duplicate result instead.
func (e *Engine) accept(ctx context.Context, actor, conversationID string, out models.OutgoingMessage) (turn, *Result, error) {
	c, err := e.dir.Contact(ctx, actor, conversationID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return turn{}, nil, apperr.InvalidState("conversation %s is not available", conversationID)
		}
		return turn{}, nil, err
	}
	if c.Blocked {
		return turn{}, nil, apperr.InvalidState("conversation %s is blocked", conversationID)
	}

	msgType := out.Type
	if msgType == "" {
		msgType = models.MessageText
	}
	if !msgType.Valid() {
		return turn{}, nil, apperr.Validation("unknown message type %q", out.Type)
	}
	content := strings.TrimSpace(out.Content)
	if msgType == models.MessageText && content == "" {
		return turn{}, nil, apperr.Validation("message content is required")
	}
	if msgType != models.MessageText && out.MediaRef == "" {
		return turn{}, nil, apperr.Validation("%s messages need a media reference", msgType)
	}
	if content == "" {
		content = msgType.Placeholder()
	}

	if dup, err := e.duplicate(ctx, conversationID, out.ClientMessageID); dup != nil || err != nil {
		return turn{}, dup, err
	}

	if !e.begin(conversationID) {
		// The first submission of this client id may be the turn in flight.
		if dup, err := e.duplicate(ctx, conversationID, out.ClientMessageID); dup != nil || err != nil {
			return turn{}, dup, err
		}
		return turn{}, nil, apperr.InvalidState("conversation %s is awaiting a reply", conversationID)
	}

	msg, err := e.log.Append(ctx, conversationID, models.Message{
		SenderID:        actor,
		SenderName:      e.dir.DisplayName(ctx, actor),
		Content:         content,
		Type:            msgType,
		MediaRef:        out.MediaRef,
		ClientMessageID: out.ClientMessageID,
	})
	if err != nil {
		e.end(conversationID)
		return turn{}, nil, err
	}

	e.presence.Broadcast(conversationID, models.Event{Type: models.EventMessageNew, Payload: msg})
	e.presence.PublishTyping(conversationID, responderActor(c), true)
	return turn{actor: actor, contact: c, message: msg}, nil, nil
}

func (e *Engine) duplicate(ctx context.Context, conversationID, clientID string) (*Result, error) {
	if clientID == "" {
		return nil, nil
	}
	m, ok, err := e.log.FindByClientID(ctx, conversationID, clientID)
	if err != nil || !ok {
		return nil, err
	}
	return &Result{Message: m, Duplicate: true}, nil
}

// finish leaves the awaiting-reply state and stops the typing indicator.
func (e *Engine) finish(t turn) {
	e.presence.PublishTyping(t.contact.ID, responderActor(t.contact), false)
	e.end(t.contact.ID)
}

// respond produces and records the reply for an accepted turn.
func (e *Engine) respond(ctx context.Context, t turn) (Result, error) {
	res := Result{Message: t.message}
	conversationID := t.contact.ID

	// The turn outlives the caller's request. Only the responder call is
	// bounded by the timeout; recording its outcome must still succeed after
	// the deadline has passed.
	wctx := context.WithoutCancel(ctx)
	rctx, cancel := context.WithTimeout(wctx, e.cfg.ResponderTimeout)
	start := time.Now()
	reply, err := e.generate(rctx, t)
	cancel()
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		observability.ObserveResponder(outcome, time.Since(start))
		e.logger.Warn("responder failed",
			zap.String("conversation_id", conversationID),
			zap.String("message_id", t.message.ID),
			zap.Error(err),
		)

		failure, aerr := e.log.Append(wctx, conversationID, models.Message{
			SenderID:   models.SenderSystem,
			SenderName: models.SenderSystem,
			Content:    failureNotice,
			Type:       models.MessageText,
			Subtype:    models.SubtypeResponderFailure,
		})
		if aerr != nil {
			e.logger.Error("failure record append failed",
				zap.String("conversation_id", conversationID),
				zap.Error(aerr),
			)
			return res, apperr.Responder(err)
		}
		res.Failure = &failure
		e.presence.Broadcast(conversationID, models.Event{Type: models.EventMessageNew, Payload: failure})
		return res, apperr.Responder(err)
	}
	observability.ObserveResponder("ok", time.Since(start))

	focused := e.isFocused(t.actor, conversationID)
	stored, err := e.log.Append(wctx, conversationID, reply, conversation.WithUnreadBump(!focused))
	if err != nil {
		return res, fmt.Errorf("append reply: %w", err)
	}
	res.Reply = &stored
	e.presence.Broadcast(conversationID, models.Event{Type: models.EventMessageNew, Payload: stored})

	if !focused && !t.contact.Muted {
		e.notify(wctx, t, stored)
	}
	return res, nil
}

// generate returns the reply message for the turn. Groups are answered by
// the guardian without consulting the responder.
func (e *Engine) generate(ctx context.Context, t turn) (models.Message, error) {
	if t.contact.IsGroup {
		return models.Message{
			SenderID:   models.SenderGuardian,
			SenderName: models.GuardianName,
			Content:    fmt.Sprintf("%s: Acknowledged. I am watching over \"%s\".", models.GuardianName, t.contact.Name),
			Type:       models.MessageText,
		}, nil
	}

	history, err := e.log.History(ctx, t.contact.ID, e.cfg.HistoryLimit+1)
	if err != nil {
		return models.Message{}, err
	}
	// The message being answered travels as Content, not as history.
	if n := len(history); n > 0 && history[n-1].ID == t.message.ID {
		history = history[:n-1]
	}

	persona := t.contact.Persona
	if persona == "" {
		persona = models.DefaultPersona
	}
	req := responder.Request{
		ConversationID: t.contact.ID,
		Content:        t.message.Content,
		History:        history,
		Persona:        persona,
	}
	if t.message.Type != models.MessageText {
		req.MediaRef = t.message.MediaRef
		req.MediaType = t.message.Type
	}

	reply, err := e.responder.Respond(ctx, req)
	if err != nil {
		return models.Message{}, err
	}
	content := strings.TrimSpace(reply.Content)
	if content == "" {
		return models.Message{}, errors.New("responder returned an empty reply")
	}
	return models.Message{
		SenderID:   models.SenderAssistant,
		SenderName: t.contact.Name,
		Content:    content,
		Type:       models.MessageText,
	}, nil
}

func (e *Engine) notify(ctx context.Context, t turn, m models.Message) {
	settings := models.DefaultSettings()
	if u, err := e.dir.User(ctx, t.actor); err == nil {
		settings = u.Settings
	}
	if !settings.NotificationsEnabled {
		return
	}
	title := t.contact.Name
	if t.contact.HideDetails {
		title = "New message"
	}
	body := models.Snippet(m.Content)
	if t.contact.HideDetails {
		body = ""
	}
	e.notifier.Notify(ctx, notifier.Notification{
		Recipient:      t.actor,
		ConversationID: t.contact.ID,
		Title:          title,
		Body:           body,
		MessageID:      m.ID,
		Vibrate:        settings.VibrationsEnabled,
		OccurredAt:     m.CreatedAt,
	})
}

func responderActor(c models.Contact) string {
	if c.IsGroup {
		return models.SenderGuardian
	}
	return models.SenderAssistant
}
