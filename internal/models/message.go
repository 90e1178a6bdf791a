package models

import (
	"slices"
	"sort"
	"time"
)

// MessageType is the kind of payload a message carries.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageAudio MessageType = "audio"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == MessageText || t == MessageImage || t == MessageAudio
}

// Placeholder is the content stored for non-text messages sent without text.
func (t MessageType) Placeholder() string {
	switch t {
	case MessageImage:
		return "Image"
	case MessageAudio:
		return "Voice note"
	}
	return ""
}

// DeliveryStatus moves forward only: sent, delivered, read.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

// Rank orders delivery states. Unknown states rank below sent.
func (s DeliveryStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// SubtypeResponderFailure marks the record appended when a reply could not be produced.
const SubtypeResponderFailure = "responder_failure"

// Well-known sender ids.
const (
	SenderAssistant = "assistant"
	SenderGuardian  = "guardian"
	SenderSystem    = "system"
	GuardianName    = "Zen Guardian"
)

// Message is one entry in a conversation log.
type Message struct {
	ID              string              `db:"id" json:"id"`
	ConversationID  string              `db:"conversation_id" json:"conversation_id"`
	Seq             int64               `db:"seq" json:"seq"`
	SenderID        string              `db:"sender_id" json:"sender_id"`
	SenderName      string              `db:"sender_name" json:"sender_name"`
	Content         string              `db:"content" json:"content"`
	Type            MessageType         `db:"type" json:"type"`
	Subtype         string              `db:"subtype" json:"subtype,omitempty"`
	MediaRef        string              `db:"media_ref" json:"media_ref,omitempty"`
	Status          DeliveryStatus      `db:"status" json:"status"`
	Reactions       map[string][]string `db:"-" json:"reactions,omitempty"`
	ClientMessageID string              `db:"client_message_id" json:"client_message_id,omitempty"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
}

// Clone returns a deep copy including the reaction sets.
func (m Message) Clone() Message {
	out := m
	if m.Reactions != nil {
		out.Reactions = make(map[string][]string, len(m.Reactions))
		for emoji, names := range m.Reactions {
			out.Reactions[emoji] = slices.Clone(names)
		}
	}
	return out
}

// Emojis returns the reaction keys in a stable order.
func (m Message) Emojis() []string {
	keys := make([]string, 0, len(m.Reactions))
	for emoji := range m.Reactions {
		keys = append(keys, emoji)
	}
	sort.Strings(keys)
	return keys
}

// Snippet returns the first SnippetLength characters of content.
func Snippet(content string) string {
	r := []rune(content)
	if len(r) > SnippetLength {
		r = r[:SnippetLength]
	}
	return string(r)
}

// Page is a slice of a conversation log. Next is the cursor to pass as
// After to continue, zero when the log is exhausted.
type Page struct {
	Messages []Message `json:"messages"`
	Next     int64     `json:"next"`
}

// PageRequest selects messages with Seq > After, at most Limit of them.
type PageRequest struct {
	After int64
	Limit int
}

// OutgoingMessage is what a user submits to a conversation.
type OutgoingMessage struct {
	Content         string      `json:"content"`
	Type            MessageType `json:"type"`
	MediaRef        string      `json:"media_ref"`
	ClientMessageID string      `json:"client_message_id"`
}
