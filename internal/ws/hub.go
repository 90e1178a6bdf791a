package ws

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"zenj-service/internal/models"
	"zenj-service/internal/observability"
)

// DefaultQueueSize bounds the per-subscriber message event queue.
const DefaultQueueSize = 64

// Hub maintains presence rooms keyed by conversation id. No Hub method
// waits on a subscriber: full queues drop, typing state overwrites.
type Hub struct {
	rooms     map[string]map[*Subscription]struct{}
	queueSize int
	logger    *zap.Logger
	mu        sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		rooms:     make(map[string]map[*Subscription]struct{}),
		queueSize: DefaultQueueSize,
		logger:    logger,
	}
}

// SetQueueSize changes the event queue bound for later subscriptions.
// Non-positive sizes are ignored. Call it before the hub is in use.
func (h *Hub) SetQueueSize(n int) {
	if n > 0 {
		h.queueSize = n
	}
}

// Join registers actor in the room and announces it to the others.
func (h *Hub) Join(conversationID, actorID string) *Subscription {
	sub := newSubscription(conversationID, actorID, h.queueSize)

	h.mu.Lock()
	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[*Subscription]struct{})
		h.rooms[conversationID] = room
	}
	room[sub] = struct{}{}
	others := h.othersLocked(conversationID, actorID)
	h.mu.Unlock()

	h.fanOut(others, presenceEvent(conversationID, actorID, models.PresenceJoined))
	return sub
}

// Leave removes every subscription actor holds in the room. Leaving a room
// one is not in does nothing.
func (h *Hub) Leave(conversationID, actorID string) {
	h.mu.Lock()
	room := h.rooms[conversationID]
	var removed []*Subscription
	for sub := range room {
		if sub.ActorID == actorID {
			delete(room, sub)
			removed = append(removed, sub)
		}
	}
	if len(room) == 0 {
		delete(h.rooms, conversationID)
	}
	others := h.othersLocked(conversationID, actorID)
	h.mu.Unlock()

	if len(removed) == 0 {
		return
	}
	for _, sub := range removed {
		sub.close()
	}
	h.fanOut(others, presenceEvent(conversationID, actorID, models.PresenceLeft))
}

// Unsubscribe removes one subscription. The actor is announced as left once
// its last subscription in the room is gone.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	room := h.rooms[sub.ConversationID]
	_, present := room[sub]
	delete(room, sub)
	if len(room) == 0 {
		delete(h.rooms, sub.ConversationID)
	}
	stillHere := false
	for other := range room {
		if other.ActorID == sub.ActorID {
			stillHere = true
			break
		}
	}
	others := h.othersLocked(sub.ConversationID, sub.ActorID)
	h.mu.Unlock()

	sub.close()
	if present && !stillHere {
		h.fanOut(others, presenceEvent(sub.ConversationID, sub.ActorID, models.PresenceLeft))
	}
}

// PublishTyping records actor's typing state in every other subscriber's
// latest-state slot. Rapid toggles collapse to the last value.
func (h *Hub) PublishTyping(conversationID, actorID string, started bool) {
	h.mu.RLock()
	others := h.othersLocked(conversationID, actorID)
	h.mu.RUnlock()

	kind := string(models.PresenceTypingStopped)
	if started {
		kind = string(models.PresenceTypingStarted)
	}
	for _, sub := range others {
		sub.setTyping(actorID, started)
		observability.IncPresence(kind, "delivered")
	}
}

// Broadcast queues event for every subscriber of the room. A subscriber
// whose queue is full misses the event.
func (h *Hub) Broadcast(conversationID string, event models.Event) {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.rooms[conversationID]))
	for sub := range h.rooms[conversationID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	h.fanOut(subs, event)
}

// CloseRoom tells every subscriber the room is gone and drops the room.
func (h *Hub) CloseRoom(conversationID string) {
	h.mu.Lock()
	room := h.rooms[conversationID]
	delete(h.rooms, conversationID)
	h.mu.Unlock()

	event := models.Event{Type: models.EventRoomClosed, Payload: map[string]string{"conversation_id": conversationID}}
	for sub := range room {
		sub.offer(event)
		sub.close()
	}
	if len(room) > 0 {
		h.logger.Info("presence room closed",
			zap.String("conversation_id", conversationID),
			zap.Int("subscribers", len(room)),
		)
	}
}

// Members lists the distinct actors present in the room.
func (h *Hub) Members(conversationID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]struct{})
	for sub := range h.rooms[conversationID] {
		seen[sub.ActorID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (h *Hub) othersLocked(conversationID, actorID string) []*Subscription {
	room := h.rooms[conversationID]
	out := make([]*Subscription, 0, len(room))
	for sub := range room {
		if sub.ActorID != actorID {
			out = append(out, sub)
		}
	}
	return out
}

func (h *Hub) fanOut(subs []*Subscription, event models.Event) {
	for _, sub := range subs {
		if sub.offer(event) {
			observability.IncPresence(event.Type, "delivered")
		} else {
			observability.IncPresence(event.Type, "dropped")
		}
	}
}

func presenceEvent(conversationID, actorID string, kind models.PresenceKind) models.Event {
	return models.Event{
		Type:    models.EventPresence,
		Payload: models.PresenceEvent{ConversationID: conversationID, ActorID: actorID, Kind: kind},
	}
}
