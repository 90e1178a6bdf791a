// Package engine orchestrates conversation turns: it appends the user's
// message, consults the responder, records the outcome and keeps unread
// counters, focus and the awaiting-reply state consistent.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"zenj-service/internal/apperr"
	"zenj-service/internal/conversation"
	"zenj-service/internal/models"
	"zenj-service/internal/notifier"
	"zenj-service/internal/observability"
	"zenj-service/internal/responder"
)

const (
	DefaultResponderTimeout = 30 * time.Second
	DefaultHistoryLimit     = 20
)

// Directory is the slice of the directory store the engine uses.
type Directory interface {
	Contact(ctx context.Context, actor, id string) (models.Contact, error)
	User(ctx context.Context, id string) (models.User, error)
	DisplayName(ctx context.Context, actor string) string
	Block(ctx context.Context, actor, id string) (models.Contact, error)
	Unblock(ctx context.Context, actor, id string) (models.Contact, error)
	DeleteGroup(ctx context.Context, actor, id string) error
	ResetUnread(ctx context.Context, id string) error
}

// Log is the conversation log.
type Log interface {
	Append(ctx context.Context, conversationID string, msg models.Message, opts ...conversation.AppendOption) (models.Message, error)
	Read(ctx context.Context, conversationID string, req models.PageRequest) (models.Page, error)
	History(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	Get(ctx context.Context, messageID string) (models.Message, error)
	FindByClientID(ctx context.Context, conversationID, clientID string) (models.Message, bool, error)
	React(ctx context.Context, messageID, emoji, actorName string) (models.Message, error)
	MarkDelivered(ctx context.Context, messageID string) (models.Message, error)
	MarkRead(ctx context.Context, messageID string) (models.Message, error)
}

// Presence is the realtime room channel.
type Presence interface {
	PublishTyping(conversationID, actorID string, started bool)
	Broadcast(conversationID string, event models.Event)
	CloseRoom(conversationID string)
	Members(conversationID string) []string
}

// Notifier receives fire-and-forget new-message notifications.
type Notifier interface {
	Notify(ctx context.Context, note notifier.Notification)
}

// Config tunes the engine.
type Config struct {
	ResponderTimeout time.Duration
	HistoryLimit     int
}

// Result is the outcome of one send.
type Result struct {
	Message   models.Message  `json:"message"`
	Reply     *models.Message `json:"reply,omitempty"`
	Failure   *models.Message `json:"failure,omitempty"`
	Duplicate bool            `json:"duplicate,omitempty"`
}

// TurnResult is delivered on the channel returned by SendAsync.
type TurnResult struct {
	Result Result
	Err    error
}

// State describes a conversation as seen by one actor.
type State struct {
	ConversationID string   `json:"conversation_id"`
	AwaitingReply  bool     `json:"awaiting_reply"`
	Focused        bool     `json:"focused"`
	UnreadCount    int      `json:"unread_count"`
	Blocked        bool     `json:"blocked"`
	Present        []string `json:"present"`
}

// Engine is safe for concurrent use.
type Engine struct {
	dir       Directory
	log       Log
	presence  Presence
	responder responder.Responder
	notifier  Notifier
	logger    *zap.Logger
	cfg       Config

	mu       sync.Mutex
	awaiting map[string]struct{}
	focus    map[string]string

	turns sync.WaitGroup
}

// New constructs an Engine.
func New(dir Directory, log Log, presence Presence, r responder.Responder, n Notifier, cfg Config, logger *zap.Logger) *Engine {
	if cfg.ResponderTimeout <= 0 {
		cfg.ResponderTimeout = DefaultResponderTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	return &Engine{
		dir:       dir,
		log:       log,
		presence:  presence,
		responder: r,
		notifier:  n,
		logger:    logger,
		cfg:       cfg,
		awaiting:  make(map[string]struct{}),
		focus:     make(map[string]string),
	}
}

// CanAccess reports whether actor may use the conversation right now.
func (e *Engine) CanAccess(ctx context.Context, actor, conversationID string) error {
	c, err := e.dir.Contact(ctx, actor, conversationID)
	if err != nil {
		return err
	}
	if c.Blocked {
		return apperr.InvalidState("conversation %s is blocked", conversationID)
	}
	return nil
}

// Select makes conversationID actor's focused conversation and clears its
// unread counter.
func (e *Engine) Select(ctx context.Context, actor, conversationID string) (models.Contact, error) {
	c, err := e.dir.Contact(ctx, actor, conversationID)
	if err != nil {
		return models.Contact{}, err
	}
	if c.Blocked {
		return models.Contact{}, apperr.InvalidState("conversation %s is blocked", conversationID)
	}

	e.mu.Lock()
	e.focus[actor] = conversationID
	e.mu.Unlock()

	if err := e.dir.ResetUnread(ctx, conversationID); err != nil {
		return models.Contact{}, err
	}
	c.UnreadCount = 0
	return c, nil
}

// Unfocus clears actor's focused conversation.
func (e *Engine) Unfocus(actor string) {
	e.mu.Lock()
	delete(e.focus, actor)
	e.mu.Unlock()
}

// Focused returns actor's focused conversation, if any.
func (e *Engine) Focused(actor string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.focus[actor]
	return id, ok
}

// Block blocks the contact and drops it as anyone's focused conversation.
func (e *Engine) Block(ctx context.Context, actor, conversationID string) (models.Contact, error) {
	c, err := e.dir.Block(ctx, actor, conversationID)
	if err != nil {
		return models.Contact{}, err
	}
	e.clearFocus(conversationID)
	return c, nil
}

// Unblock restores the contact with its full history.
func (e *Engine) Unblock(ctx context.Context, actor, conversationID string) (models.Contact, error) {
	return e.dir.Unblock(ctx, actor, conversationID)
}

// DeleteGroup deletes the group and its log, then closes its room.
func (e *Engine) DeleteGroup(ctx context.Context, actor, groupID string) error {
	if err := e.dir.DeleteGroup(ctx, actor, groupID); err != nil {
		return err
	}
	e.clearFocus(groupID)
	e.presence.CloseRoom(groupID)
	return nil
}

// Read returns a page of the conversation's log.
func (e *Engine) Read(ctx context.Context, actor, conversationID string, req models.PageRequest) (models.Page, error) {
	if _, err := e.dir.Contact(ctx, actor, conversationID); err != nil {
		return models.Page{}, err
	}
	return e.log.Read(ctx, conversationID, req)
}

// React adds actor's reaction to a message and tells the room.
func (e *Engine) React(ctx context.Context, actor, messageID, emoji string) (models.Message, error) {
	m, err := e.accessibleMessage(ctx, actor, messageID)
	if err != nil {
		return models.Message{}, err
	}
	m, err = e.log.React(ctx, messageID, emoji, e.dir.DisplayName(ctx, actor))
	if err != nil {
		return models.Message{}, err
	}
	e.presence.Broadcast(m.ConversationID, models.Event{Type: models.EventMessageUpdated, Payload: m})
	return m, nil
}

// MarkStatus advances a message to delivered or read.
func (e *Engine) MarkStatus(ctx context.Context, actor, messageID string, status models.DeliveryStatus) (models.Message, error) {
	if status != models.StatusDelivered && status != models.StatusRead {
		return models.Message{}, apperr.Validation("status must be delivered or read")
	}
	before, err := e.accessibleMessage(ctx, actor, messageID)
	if err != nil {
		return models.Message{}, err
	}
	var m models.Message
	if status == models.StatusRead {
		m, err = e.log.MarkRead(ctx, messageID)
	} else {
		m, err = e.log.MarkDelivered(ctx, messageID)
	}
	if err != nil {
		return models.Message{}, err
	}
	if m.Status != before.Status {
		e.presence.Broadcast(m.ConversationID, models.Event{Type: models.EventMessageUpdated, Payload: m})
	}
	return m, nil
}

// State reports the conversation's state as seen by actor.
func (e *Engine) State(ctx context.Context, actor, conversationID string) (State, error) {
	c, err := e.dir.Contact(ctx, actor, conversationID)
	if err != nil {
		return State{}, err
	}
	e.mu.Lock()
	_, awaiting := e.awaiting[conversationID]
	focused := e.focus[actor] == conversationID
	e.mu.Unlock()

	return State{
		ConversationID: conversationID,
		AwaitingReply:  awaiting,
		Focused:        focused,
		UnreadCount:    c.UnreadCount,
		Blocked:        c.Blocked,
		Present:        e.presence.Members(conversationID),
	}, nil
}

// Wait blocks until background turns started by SendAsync finish or ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.turns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) accessibleMessage(ctx context.Context, actor, messageID string) (models.Message, error) {
	m, err := e.log.Get(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}
	if _, err := e.dir.Contact(ctx, actor, m.ConversationID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return models.Message{}, apperr.NotFound("message %s", messageID)
		}
		return models.Message{}, err
	}
	return m, nil
}

// begin enters the awaiting-reply state for one conversation.
func (e *Engine) begin(conversationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.awaiting[conversationID]; busy {
		return false
	}
	e.awaiting[conversationID] = struct{}{}
	observability.IncAwaiting()
	return true
}

func (e *Engine) end(conversationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.awaiting[conversationID]; ok {
		delete(e.awaiting, conversationID)
		observability.DecAwaiting()
	}
}

func (e *Engine) isFocused(actor, conversationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.focus[actor] == conversationID
}

func (e *Engine) clearFocus(conversationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for actor, id := range e.focus {
		if id == conversationID {
			delete(e.focus, actor)
		}
	}
}
