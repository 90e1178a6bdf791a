package models

import (
	"slices"
	"time"
)

// PresenceStatus is the coarse status shown next to a contact.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
	StatusTyping  PresenceStatus = "typing"
)

// Valid reports whether s is a known presence status.
func (s PresenceStatus) Valid() bool {
	return s == StatusOnline || s == StatusOffline || s == StatusTyping
}

const (
	DefaultPersona = "You are a helpful assistant."
	GroupPersona   = "Guardian."
	// SnippetLength is how many characters of the newest message the
	// contact list keeps.
	SnippetLength = 40
)

// Contact is a directory entry: an individual contact or a group. The
// conversation with a contact is keyed by the contact id.
type Contact struct {
	ID                string         `db:"id" json:"id"`
	UserID            string         `db:"user_id" json:"user_id"`
	Name              string         `db:"name" json:"name"`
	Phone             string         `db:"phone" json:"phone"`
	Avatar            string         `db:"avatar" json:"avatar"`
	Status            PresenceStatus `db:"status" json:"status"`
	LastMessage       string         `db:"last_message" json:"last_message"`
	LastMessageAt     *time.Time     `db:"last_message_at" json:"last_message_at,omitempty"`
	Persona           string         `db:"persona" json:"persona"`
	UnreadCount       int            `db:"unread_count" json:"unread_count"`
	Blocked           bool           `db:"blocked" json:"blocked"`
	Muted             bool           `db:"muted" json:"muted"`
	HideDetails       bool           `db:"hide_details" json:"hide_details"`
	InvitePlaceholder bool           `db:"invite_placeholder" json:"invite_placeholder"`
	IsGroup           bool           `db:"is_group" json:"is_group"`
	OwnerID           string         `db:"owner_id" json:"owner_id,omitempty"`
	Members           []string       `db:"-" json:"members,omitempty"`
	Admins            []string       `db:"-" json:"admins,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
}

// Clone returns a deep copy so callers never share slices with the store.
func (c Contact) Clone() Contact {
	out := c
	out.Members = slices.Clone(c.Members)
	out.Admins = slices.Clone(c.Admins)
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		out.LastMessageAt = &t
	}
	return out
}

// HasMember reports whether id is listed in the group's members.
func (c Contact) HasMember(id string) bool {
	return slices.Contains(c.Members, id)
}

// IsAdmin reports whether id holds admin rights, explicit or as owner.
func (c Contact) IsAdmin(id string) bool {
	return id == c.OwnerID || slices.Contains(c.Admins, id)
}

// AccessibleBy reports whether actor may see the contact: it owns the
// directory entry or is a member of the group.
func (c Contact) AccessibleBy(actor string) bool {
	return c.UserID == actor || (c.IsGroup && c.HasMember(actor))
}

// SortTime is the key used to order the contact list.
func (c Contact) SortTime() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

// ContactSpec describes a contact or group to create.
type ContactSpec struct {
	Name              string   `json:"name"`
	Phone             string   `json:"phone"`
	Avatar            string   `json:"avatar"`
	Persona           string   `json:"persona"`
	IsGroup           bool     `json:"is_group"`
	Members           []string `json:"members"`
	InvitePlaceholder bool     `json:"invite_placeholder"`
}

// ContactPatch carries optional contact changes. Nil fields are untouched.
type ContactPatch struct {
	Name        *string         `json:"name,omitempty"`
	Phone       *string         `json:"phone,omitempty"`
	Avatar      *string         `json:"avatar,omitempty"`
	Persona     *string         `json:"persona,omitempty"`
	Status      *PresenceStatus `json:"status,omitempty"`
	Muted       *bool           `json:"muted,omitempty"`
	HideDetails *bool           `json:"hide_details,omitempty"`
	Members     *[]string       `json:"members,omitempty"`
	OwnerID     *string         `json:"owner_id,omitempty"`
	Admins      *[]string       `json:"admins,omitempty"`
}

// TouchesRoles reports whether the patch changes group role fields.
func (p ContactPatch) TouchesRoles() bool {
	return p.Members != nil || p.OwnerID != nil || p.Admins != nil
}
