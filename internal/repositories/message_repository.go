package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"zenj-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines persistence for conversation logs. Logs are
// partitioned by conversation id and ordered by seq.
type MessageRepository interface {
	InsertMessage(ctx context.Context, msg models.Message) error
	GetMessage(ctx context.Context, id string) (models.Message, error)
	// TailMessage returns the newest message of a conversation, or
	// ErrMessageNotFound when the log is empty.
	TailMessage(ctx context.Context, conversationID string) (models.Message, error)
	ListMessages(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]models.Message, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	FindByClientID(ctx context.Context, conversationID string, clientID string) (models.Message, error)
	// UpdateStatus advances the delivery status; it never moves backwards.
	UpdateStatus(ctx context.Context, id string, status models.DeliveryStatus) error
	AddReaction(ctx context.Context, id string, emoji string, actorName string) error
	DeleteConversation(ctx context.Context, conversationID string) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, conversation_id, seq, sender_id, sender_name, content, type, subtype,
	media_ref, status, client_message_id, created_at`

const statusRank = `CASE status WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END`

// InsertMessage stores a message. The (conversation_id, seq) pair is unique.
func (r *MessageRepo) InsertMessage(ctx context.Context, msg models.Message) error {
	_, err := r.db.NamedExecContext(ctx, `INSERT INTO messages (`+messageColumns+`) VALUES
		(:id, :conversation_id, :seq, :sender_id, :sender_name, :content, :type, :subtype,
		:media_ref, :status, :client_message_id, :created_at)`, msg)
	return err
}

// GetMessage retrieves a single message with its reactions.
func (r *MessageRepo) GetMessage(ctx context.Context, id string) (models.Message, error) {
	return r.getOne(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
}

// TailMessage returns the highest-seq message of the conversation.
func (r *MessageRepo) TailMessage(ctx context.Context, conversationID string) (models.Message, error) {
	return r.getOne(ctx, `SELECT `+messageColumns+` FROM messages WHERE conversation_id = ?
		ORDER BY seq DESC LIMIT 1`, conversationID)
}

// FindByClientID looks up a message by the id the client assigned to it.
func (r *MessageRepo) FindByClientID(ctx context.Context, conversationID string, clientID string) (models.Message, error) {
	if clientID == "" {
		return models.Message{}, ErrMessageNotFound
	}
	return r.getOne(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND client_message_id = ? ORDER BY seq LIMIT 1`, conversationID, clientID)
}

// ListMessages returns up to limit messages with seq > afterSeq, ascending.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, r.db.Rebind(`SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`), conversationID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	if err := r.loadReactions(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// RecentMessages returns the newest limit messages in ascending order.
func (r *MessageRepo) RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, r.db.Rebind(`SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? ORDER BY seq DESC LIMIT ?`), conversationID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if err := r.loadReactions(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// UpdateStatus moves a message forward in the delivery lattice. A call that
// would regress the status matches no row and succeeds silently.
func (r *MessageRepo) UpdateStatus(ctx context.Context, id string, status models.DeliveryStatus) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE messages SET status = ?
		WHERE id = ? AND `+statusRank+` < ?`), status, id, status.Rank())
	return err
}

// AddReaction records actorName under emoji. Repeats are ignored.
func (r *MessageRepo) AddReaction(ctx context.Context, id string, emoji string, actorName string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO message_reactions (message_id, emoji, actor_name)
		VALUES (?, ?, ?) ON CONFLICT (message_id, emoji, actor_name) DO NOTHING`), id, emoji, actorName)
	return err
}

// DeleteConversation removes the whole log of a conversation.
func (r *MessageRepo) DeleteConversation(ctx context.Context, conversationID string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM message_reactions
		WHERE message_id IN (SELECT id FROM messages WHERE conversation_id = ?)`), conversationID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM messages WHERE conversation_id = ?`), conversationID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *MessageRepo) getOne(ctx context.Context, query string, args ...any) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, r.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	list := []models.Message{msg}
	if err := r.loadReactions(ctx, list); err != nil {
		return models.Message{}, err
	}
	return list[0], nil
}

type reactionRow struct {
	MessageID string `db:"message_id"`
	Emoji     string `db:"emoji"`
	ActorName string `db:"actor_name"`
}

func (r *MessageRepo) loadReactions(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	index := make(map[string]int, len(msgs))
	ids := make([]string, 0, len(msgs))
	for i, m := range msgs {
		index[m.ID] = i
		ids = append(ids, m.ID)
	}

	query, args, err := sqlx.In(`SELECT message_id, emoji, actor_name FROM message_reactions
		WHERE message_id IN (?) ORDER BY created_at, actor_name`, ids)
	if err != nil {
		return err
	}
	var rows []reactionRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return err
	}
	for _, row := range rows {
		m := &msgs[index[row.MessageID]]
		if m.Reactions == nil {
			m.Reactions = make(map[string][]string)
		}
		m.Reactions[row.Emoji] = append(m.Reactions[row.Emoji], row.ActorName)
	}
	return nil
}
