package ws

import (
	"sync"

	"zenj-service/internal/models"
)

// Subscription is one listener in a presence room. Message and presence
// events arrive on Events. Typing changes are coalesced per actor and
// signalled on Notify, to be collected with TakeTyping.
type Subscription struct {
	ConversationID string
	ActorID        string

	events chan models.Event
	notify chan struct{}
	done   chan struct{}

	mu     sync.Mutex
	typing map[string]bool
	closed bool
}

func newSubscription(conversationID, actorID string, queueSize int) *Subscription {
	return &Subscription{
		ConversationID: conversationID,
		ActorID:        actorID,
		events:         make(chan models.Event, queueSize),
		notify:         make(chan struct{}, 1),
		done:           make(chan struct{}),
		typing:         make(map[string]bool),
	}
}

// Events delivers queued room events.
func (s *Subscription) Events() <-chan models.Event {
	return s.events
}

// Notify fires when typing state changed since the last TakeTyping.
func (s *Subscription) Notify() <-chan struct{} {
	return s.notify
}

// Done is closed when the subscription is removed or the room is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// TakeTyping returns and clears the pending typing state per actor.
func (s *Subscription) TakeTyping() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.typing) == 0 {
		return nil
	}
	out := s.typing
	s.typing = make(map[string]bool)
	return out
}

func (s *Subscription) setTyping(actorID string, started bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.typing[actorID] = started
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// offer queues event without blocking and reports whether it was accepted.
func (s *Subscription) offer(event models.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.events <- event:
		return true
	default:
		return false
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}
