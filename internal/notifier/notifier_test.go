package notifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	return m.Called(ctx, routingKey, event).Error(0)
}

func TestNotifyPublishesUnderRoutingKey(t *testing.T) {
	pub := &publisherMock{}
	note := Notification{Recipient: "alice", ConversationID: "c1", Title: "Zed", Body: "hi"}
	pub.On("Publish", mock.Anything, RoutingKey, note).Return(nil).Once()

	New(pub, zap.NewNop()).Notify(context.Background(), note)
	pub.AssertExpectations(t)
}

func TestNotifySwallowsErrors(t *testing.T) {
	pub := &publisherMock{}
	pub.On("Publish", mock.Anything, RoutingKey, mock.Anything).Return(errors.New("closed")).Once()

	assert.NotPanics(t, func() {
		New(pub, zap.NewNop()).Notify(context.Background(), Notification{ConversationID: "c1"})
	})
	pub.AssertExpectations(t)

	var nilNotifier *Notifier
	assert.NotPanics(t, func() { nilNotifier.Notify(context.Background(), Notification{}) })
}
