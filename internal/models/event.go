package models

// Envelope types pushed to realtime subscribers.
const (
	EventMessageNew     = "message.new"
	EventMessageUpdated = "message.updated"
	EventPresence       = "presence"
	EventTyping         = "typing"
	EventRoomClosed     = "room.closed"
)

// PresenceKind enumerates presence transitions.
type PresenceKind string

const (
	PresenceJoined        PresenceKind = "joined"
	PresenceLeft          PresenceKind = "left"
	PresenceTypingStarted PresenceKind = "typingStarted"
	PresenceTypingStopped PresenceKind = "typingStopped"
)

// PresenceEvent is ephemeral and never persisted.
type PresenceEvent struct {
	ConversationID string       `json:"conversation_id"`
	ActorID        string       `json:"actor_id"`
	Kind           PresenceKind `json:"kind"`
}

// Event is the realtime envelope sent to subscribers.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}
