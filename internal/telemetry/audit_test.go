package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *publisherMock) Close() error {
	return m.Called().Error(0)
}

func TestAuditEmitterPublishesEnvelope(t *testing.T) {
	pub := &publisherMock{}
	user := "alice"
	pub.On("Publish", mock.Anything, "audit.zenj", mock.MatchedBy(func(env AuditEnvelope) bool {
		return env.EventType == "audit_log" && env.Service == "zenj-service" && env.RequestID == "req-1" &&
			env.UserID != nil && *env.UserID == "alice" && env.Payload.Action == ActionGroupDeleted &&
			env.Payload.Level == LevelInfo && env.Payload.Text == "group.deleted g1"
	})).Return(errors.New("broker down")).Once()

	e := NewAuditEmitter(pub, "audit.zenj", "zenj-service", "test", zap.NewNop())
	e.Emit(context.Background(), AuditEntry{Action: ActionGroupDeleted, ConversationID: "g1", RequestID: "req-1", ActorID: &user})

	pub.AssertExpectations(t)
}

func TestNilEmitterIsSafe(t *testing.T) {
	var e *AuditEmitter
	assert.NotPanics(t, func() { e.Emit(context.Background(), AuditEntry{Action: ActionDebugProbe}) })
}

func TestAuditEntryText(t *testing.T) {
	entry := AuditEntry{Action: ActionMemberAdded, ConversationID: "g1", Subject: "u2", Level: LevelWarn}
	assert.Equal(t, "group.member_added g1 u2", entry.Text())
	assert.Equal(t, "group.member_added g1 u2 [WARN]", entry.String())
	assert.Equal(t, ActionDebugProbe, AuditEntry{Action: ActionDebugProbe}.Text())
}

func TestInitTracerWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "zenj-service", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
