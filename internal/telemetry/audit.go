package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Audit actions recorded for group administration.
const (
	ActionGroupCreated         = "group.created"
	ActionGroupDeleted         = "group.deleted"
	ActionMemberAdded          = "group.member_added"
	ActionMemberRemoved        = "group.member_removed"
	ActionOwnershipTransferred = "group.owner_changed"
	ActionAdminGranted         = "group.admin_granted"
	ActionAdminRevoked         = "group.admin_revoked"
	ActionDebugProbe           = "debug.probe"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// AuditEntry describes one administrative change. Subject is the member the
// change applied to, if any.
type AuditEntry struct {
	Level          string
	Action         string
	ConversationID string
	Subject        string
	RequestID      string
	ActorID        *string
}

// Text renders the entry for humans, e.g. "group.member_added g1 u2".
func (a AuditEntry) Text() string {
	text := a.Action
	if a.ConversationID != "" {
		text += " " + a.ConversationID
	}
	if a.Subject != "" {
		text += " " + a.Subject
	}
	return text
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level          string `json:"level"`
	Action         string `json:"action"`
	ConversationID string `json:"conversation_id,omitempty"`
	Subject        string `json:"subject,omitempty"`
	Text           string `json:"text"`
}

// AuditEmitter publishes audit envelopes to the event exchange.
type AuditEmitter struct {
	publisher Publisher
	key       string
	source    string
	env       string
	logger    *zap.Logger
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger *zap.Logger) *AuditEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditEmitter{publisher: publisher, key: routingKey, source: service, env: environment, logger: logger}
}

// Emit publishes one audit record. Publish failures are logged, never returned.
func (e *AuditEmitter) Emit(ctx context.Context, entry AuditEntry) {
	if e == nil || e.publisher == nil {
		return
	}
	if entry.Level == "" {
		entry.Level = LevelInfo
	}

	e.logger.Debug("audit emit",
		zap.String("action", entry.Action),
		zap.String("conversation_id", entry.ConversationID),
		zap.String("request_id", entry.RequestID),
		zap.Stringp("user_id", entry.ActorID),
	)

	env := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.source,
		Environment:   e.env,
		RequestID:     entry.RequestID,
		UserID:        entry.ActorID,
		Payload: AuditPayload{
			Level:          entry.Level,
			Action:         entry.Action,
			ConversationID: entry.ConversationID,
			Subject:        entry.Subject,
			Text:           entry.Text(),
		},
	}
	if err := e.publisher.Publish(ctx, e.key, env); err != nil {
		e.logger.Warn("audit publish failed", zap.String("action", entry.Action), zap.Error(err))
	}
}

// String implements fmt.Stringer for log lines.
func (a AuditEntry) String() string {
	return fmt.Sprintf("%s [%s]", a.Text(), a.Level)
}
