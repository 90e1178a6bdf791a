package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"zenj-service/internal/models"
)

func recv(t *testing.T, sub *Subscription) models.Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	return models.Event{}
}

func TestHubJoinAndLeaveRoom(t *testing.T) {
	hub := NewHub(zap.NewNop())

	alice := hub.Join("c1", "alice")
	bob := hub.Join("c1", "bob")
	assert.Equal(t, []string{"alice", "bob"}, hub.Members("c1"))

	ev := recv(t, alice)
	assert.Equal(t, models.EventPresence, ev.Type)
	assert.Equal(t, models.PresenceJoined, ev.Payload.(models.PresenceEvent).Kind)

	hub.Leave("c1", "bob")
	select {
	case <-bob.Done():
	default:
		t.Fatal("leave should close the subscription")
	}
	ev = recv(t, alice)
	assert.Equal(t, models.PresenceLeft, ev.Payload.(models.PresenceEvent).Kind)

	hub.Unsubscribe(alice)
	assert.Empty(t, hub.Members("c1"))
	assert.Empty(t, hub.rooms)
}

func TestHubLeaveNonMemberIsNoop(t *testing.T) {
	hub := NewHub(zap.NewNop())
	alice := hub.Join("c1", "alice")

	assert.NotPanics(t, func() { hub.Leave("c1", "stranger") })
	assert.NotPanics(t, func() { hub.Leave("nowhere", "alice") })
	assert.Empty(t, alice.Events())
}

func TestTypingLastWriteWins(t *testing.T) {
	hub := NewHub(zap.NewNop())
	alice := hub.Join("c1", "alice")

	for i := 0; i < 100; i++ {
		hub.PublishTyping("c1", "bob", i%2 == 0)
	}
	hub.PublishTyping("c1", "bob", true)
	hub.PublishTyping("c1", "alice", true)

	select {
	case <-alice.Notify():
	case <-time.After(time.Second):
		t.Fatal("no typing notification")
	}
	state := alice.TakeTyping()
	assert.Equal(t, map[string]bool{"bob": true}, state, "own typing is not echoed and toggles collapse")
	assert.Nil(t, alice.TakeTyping())
}

func TestTypingNotReplayedToLateJoiner(t *testing.T) {
	hub := NewHub(zap.NewNop())
	_ = hub.Join("c1", "alice")
	hub.PublishTyping("c1", "alice", true)

	bob := hub.Join("c1", "bob")
	assert.Nil(t, bob.TakeTyping())
	select {
	case <-bob.Notify():
		t.Fatal("late joiner must not be notified of earlier typing")
	default:
	}
}

func TestBroadcastNeverBlocks(t *testing.T) {
	hub := NewHub(zap.NewNop())
	hub.SetQueueSize(2)
	hub.SetQueueSize(0)
	slow := hub.Join("c1", "slow")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Broadcast("c1", models.Event{Type: models.EventMessageNew})
		}
		hub.Broadcast("empty-room", models.Event{Type: models.EventMessageNew})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}
	assert.Len(t, slow.Events(), 2)
}

func TestCloseRoom(t *testing.T) {
	hub := NewHub(zap.NewNop())
	alice := hub.Join("g1", "alice")

	hub.CloseRoom("g1")

	ev := recv(t, alice)
	assert.Equal(t, models.EventRoomClosed, ev.Type)
	<-alice.Done()
	assert.Empty(t, hub.Members("g1"))

	hub.Broadcast("g1", models.Event{Type: models.EventMessageNew})
	hub.PublishTyping("g1", "bob", true)
	assert.Nil(t, alice.TakeTyping())
}
