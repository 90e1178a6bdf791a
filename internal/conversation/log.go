// Package conversation implements the append-only per-conversation message
// log, including the reaction set and the forward-only delivery status.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"zenj-service/internal/apperr"
	"zenj-service/internal/lock"
	"zenj-service/internal/models"
	"zenj-service/internal/observability"
	"zenj-service/internal/repositories"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Directory is the part of the directory store the log depends on.
type Directory interface {
	Lookup(ctx context.Context, id string) (models.Contact, error)
	RecordLastMessage(ctx context.Context, id, snippet string, at time.Time, bumpUnread bool) error
}

// Log serializes every mutation of one conversation behind that
// conversation's exclusive section.
type Log struct {
	repo   repositories.MessageRepository
	dir    Directory
	locks  *lock.Keyed
	logger *zap.Logger
	now    func() time.Time
}

// New constructs a Log.
func New(repo repositories.MessageRepository, dir Directory, logger *zap.Logger) *Log {
	return &Log{
		repo:   repo,
		dir:    dir,
		locks:  lock.NewKeyed(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the wall clock used to stamp messages.
func (l *Log) SetClock(now func() time.Time) {
	l.now = now
}

type appendOptions struct {
	bumpUnread bool
}

// AppendOption tunes a single Append call.
type AppendOption func(*appendOptions)

// WithUnreadBump increments the contact's unread counter together with the
// cache update.
func WithUnreadBump(bump bool) AppendOption {
	return func(o *appendOptions) { o.bumpUnread = bump }
}

// Append adds msg to the end of the conversation. Id, timestamp and status
// are filled in when absent. The timestamp never goes below the tail's, and
// the contact's snippet cache is refreshed before the section is released.
func (l *Log) Append(ctx context.Context, conversationID string, msg models.Message, opts ...AppendOption) (models.Message, error) {
	var o appendOptions
	for _, opt := range opts {
		opt(&o)
	}

	unlock := l.locks.Lock(conversationID)
	defer unlock()

	c, err := l.dir.Lookup(ctx, conversationID)
	if err != nil {
		return models.Message{}, err
	}
	if c.Blocked {
		return models.Message{}, apperr.NotFound("conversation %s is blocked", conversationID)
	}

	if msg.Type == "" {
		msg.Type = models.MessageText
	}
	if !msg.Type.Valid() {
		return models.Message{}, apperr.Validation("unknown message type %q", msg.Type)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Status == "" {
		msg.Status = models.StatusSent
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = l.now()
	}
	msg.ConversationID = conversationID
	msg.Seq = 1

	tail, err := l.repo.TailMessage(ctx, conversationID)
	switch {
	case err == nil:
		msg.Seq = tail.Seq + 1
		if msg.CreatedAt.Before(tail.CreatedAt) {
			msg.CreatedAt = tail.CreatedAt
		}
	case !errors.Is(err, repositories.ErrMessageNotFound):
		return models.Message{}, fmt.Errorf("load tail: %w", err)
	}

	if err := l.repo.InsertMessage(ctx, msg); err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	observability.IncMessageAppended(string(msg.Type), msg.Subtype)

	if err := l.dir.RecordLastMessage(ctx, conversationID, models.Snippet(msg.Content), msg.CreatedAt, o.bumpUnread); err != nil {
		l.logger.Warn("snippet cache update failed",
			zap.String("conversation_id", conversationID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
	return msg, nil
}

// Read returns one page of the log in ascending position order.
func (l *Log) Read(ctx context.Context, conversationID string, req models.PageRequest) (models.Page, error) {
	if req.After < 0 {
		return models.Page{}, apperr.Validation("cursor must not be negative")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if _, err := l.dir.Lookup(ctx, conversationID); err != nil {
		return models.Page{}, err
	}

	msgs, err := l.repo.ListMessages(ctx, conversationID, req.After, limit)
	if err != nil {
		return models.Page{}, fmt.Errorf("list messages: %w", err)
	}
	page := models.Page{Messages: msgs}
	if page.Messages == nil {
		page.Messages = []models.Message{}
	}
	if len(msgs) == limit {
		page.Next = msgs[len(msgs)-1].Seq
	}
	return page, nil
}

// History returns up to limit of the newest messages, oldest first.
func (l *Log) History(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	msgs, err := l.repo.RecentMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	return msgs, nil
}

// Get returns a single message.
func (l *Log) Get(ctx context.Context, messageID string) (models.Message, error) {
	m, err := l.repo.GetMessage(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, apperr.NotFound("message %s", messageID)
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// FindByClientID returns the message a client submitted under clientID.
func (l *Log) FindByClientID(ctx context.Context, conversationID, clientID string) (models.Message, bool, error) {
	m, err := l.repo.FindByClientID(ctx, conversationID, clientID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, false, nil
	}
	if err != nil {
		return models.Message{}, false, fmt.Errorf("find by client id: %w", err)
	}
	return m, true, nil
}

// React adds actorName to the emoji's reactor set. Repeating a reaction
// succeeds without changing anything.
func (l *Log) React(ctx context.Context, messageID, emoji, actorName string) (models.Message, error) {
	emoji = strings.TrimSpace(emoji)
	actorName = strings.TrimSpace(actorName)
	if emoji == "" || actorName == "" {
		return models.Message{}, apperr.Validation("emoji and actor name are required")
	}
	return l.mutate(ctx, messageID, func(m models.Message) error {
		return l.repo.AddReaction(ctx, m.ID, emoji, actorName)
	})
}

// MarkDelivered advances the message to delivered.
func (l *Log) MarkDelivered(ctx context.Context, messageID string) (models.Message, error) {
	return l.markStatus(ctx, messageID, models.StatusDelivered)
}

// MarkRead advances the message to read.
func (l *Log) MarkRead(ctx context.Context, messageID string) (models.Message, error) {
	return l.markStatus(ctx, messageID, models.StatusRead)
}

// markStatus never moves a status backwards; a regressing call is a no-op.
func (l *Log) markStatus(ctx context.Context, messageID string, status models.DeliveryStatus) (models.Message, error) {
	return l.mutate(ctx, messageID, func(m models.Message) error {
		if status.Rank() <= m.Status.Rank() {
			return nil
		}
		return l.repo.UpdateStatus(ctx, m.ID, status)
	})
}

func (l *Log) mutate(ctx context.Context, messageID string, fn func(models.Message) error) (models.Message, error) {
	m, err := l.Get(ctx, messageID)
	if err != nil {
		return models.Message{}, err
	}

	unlock := l.locks.Lock(m.ConversationID)
	defer unlock()

	// re-read inside the section so the decision sees the latest state
	if m, err = l.Get(ctx, messageID); err != nil {
		return models.Message{}, err
	}
	if err := fn(m); err != nil {
		return models.Message{}, fmt.Errorf("update message: %w", err)
	}
	return l.Get(ctx, messageID)
}

// Purge deletes the whole conversation log and runs finalize in the same
// exclusive section.
func (l *Log) Purge(ctx context.Context, conversationID string, finalize func(ctx context.Context) error) error {
	return l.locks.Do(conversationID, func() error {
		if err := l.repo.DeleteConversation(ctx, conversationID); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		if finalize != nil {
			return finalize(ctx)
		}
		return nil
	})
}
