// Package memory provides in-process implementations of the repository
// interfaces, used when no database is configured and in tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"zenj-service/internal/models"
	"zenj-service/internal/repositories"
)

// Store keeps users, contacts and conversation logs in maps guarded by one
// mutex. Values are copied on the way in and out.
type Store struct {
	mu       sync.RWMutex
	users    map[string]models.User
	contacts map[string]models.Contact
	messages map[string]models.Message
	logs     map[string][]string
}

var (
	_ repositories.UserRepository    = (*Store)(nil)
	_ repositories.ContactRepository = (*Store)(nil)
	_ repositories.MessageRepository = (*Store)(nil)
)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:    make(map[string]models.User),
		contacts: make(map[string]models.Contact),
		messages: make(map[string]models.Message),
		logs:     make(map[string][]string),
	}
}

func (s *Store) CreateUser(_ context.Context, u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, repositories.ErrUserNotFound
	}
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.users[u.ID]
	if !ok {
		return repositories.ErrUserNotFound
	}
	u.CreatedAt = cur.CreatedAt
	s.users[u.ID] = u
	return nil
}

func (s *Store) CreateContact(_ context.Context, c models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.ID] = c.Clone()
	return nil
}

func (s *Store) GetContact(_ context.Context, id string) (models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return models.Contact{}, repositories.ErrContactNotFound
	}
	return c.Clone(), nil
}

func (s *Store) ListAccessible(_ context.Context, actor string) ([]models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Contact
	for _, c := range s.contacts {
		if c.AccessibleBy(actor) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpdateContact(_ context.Context, c models.Contact, withRoles bool) error {
	return s.mutateContact(c.ID, func(cur *models.Contact) {
		cur.Name = c.Name
		cur.Phone = c.Phone
		cur.Avatar = c.Avatar
		cur.Persona = c.Persona
		cur.Status = c.Status
		cur.Muted = c.Muted
		cur.HideDetails = c.HideDetails
		if withRoles {
			cur.Members = slices.Clone(c.Members)
			cur.OwnerID = c.OwnerID
			cur.Admins = slices.Clone(c.Admins)
		}
	})
}

func (s *Store) UpdateRoles(_ context.Context, id string, members []string, ownerID string, admins []string) error {
	return s.mutateContact(id, func(cur *models.Contact) {
		cur.Members = slices.Clone(members)
		cur.OwnerID = ownerID
		cur.Admins = slices.Clone(admins)
	})
}

func (s *Store) SetBlocked(_ context.Context, id string, blocked bool) error {
	return s.mutateContact(id, func(cur *models.Contact) { cur.Blocked = blocked })
}

func (s *Store) RecordLastMessage(_ context.Context, id string, snippet string, at time.Time, bumpUnread bool) error {
	return s.mutateContact(id, func(cur *models.Contact) {
		cur.LastMessage = snippet
		cur.LastMessageAt = &at
		if bumpUnread {
			cur.UnreadCount++
		}
	})
}

func (s *Store) ResetUnread(_ context.Context, id string) error {
	return s.mutateContact(id, func(cur *models.Contact) { cur.UnreadCount = 0 })
}

func (s *Store) DeleteContact(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contacts[id]; !ok {
		return repositories.ErrContactNotFound
	}
	delete(s.contacts, id)
	return nil
}

func (s *Store) mutateContact(id string, fn func(*models.Contact)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return repositories.ErrContactNotFound
	}
	fn(&c)
	s.contacts[id] = c
	return nil
}
