// Package directory owns users, contacts and groups and enforces the
// owner/admin/member invariants of groups.
package directory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"zenj-service/internal/apperr"
	"zenj-service/internal/lock"
	"zenj-service/internal/models"
	"zenj-service/internal/repositories"
)

// Purger removes a conversation log. finalize runs inside the same
// exclusive section as the deletion.
type Purger interface {
	Purge(ctx context.Context, conversationID string, finalize func(ctx context.Context) error) error
}

// Service is the identity and directory store.
type Service struct {
	users    repositories.UserRepository
	contacts repositories.ContactRepository
	purger   Purger
	groups   *lock.Keyed
	logger   *zap.Logger
	now      func() time.Time
}

// New constructs a directory Service.
func New(users repositories.UserRepository, contacts repositories.ContactRepository, logger *zap.Logger) *Service {
	return &Service{
		users:    users,
		contacts: contacts,
		groups:   lock.NewKeyed(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetPurger attaches the conversation log used to cascade group deletion.
func (s *Service) SetPurger(p Purger) {
	s.purger = p
}

// CreateContact adds an individual contact or a group to actor's directory.
func (s *Service) CreateContact(ctx context.Context, actor string, spec models.ContactSpec) (models.Contact, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return models.Contact{}, apperr.Validation("contact name is required")
	}
	c := models.Contact{
		ID:                uuid.NewString(),
		UserID:            actor,
		Name:              name,
		Phone:             spec.Phone,
		Avatar:            spec.Avatar,
		Status:            models.StatusOffline,
		Persona:           spec.Persona,
		InvitePlaceholder: spec.InvitePlaceholder,
		CreatedAt:         s.now(),
	}
	if c.Persona == "" {
		c.Persona = models.DefaultPersona
	}
	if spec.IsGroup {
		if err := validateMemberSet(spec.Members); err != nil {
			return models.Contact{}, err
		}
		if !slices.Contains(spec.Members, actor) {
			return models.Contact{}, apperr.Validation("group members must include the creator")
		}
		c.IsGroup = true
		c.Status = models.StatusOnline
		c.OwnerID = actor
		c.Members = slices.Clone(spec.Members)
		c.Admins = []string{actor}
		if spec.Persona == "" {
			c.Persona = models.GroupPersona
		}
	} else if len(spec.Members) > 0 {
		return models.Contact{}, apperr.Invariant("only groups carry members")
	}

	if err := s.contacts.CreateContact(ctx, c); err != nil {
		return models.Contact{}, fmt.Errorf("create contact: %w", err)
	}
	s.logger.Info("contact created",
		zap.String("contact_id", c.ID),
		zap.String("actor", actor),
		zap.Bool("group", c.IsGroup),
	)
	return c, nil
}

// Contact returns the contact if actor may see it.
func (s *Service) Contact(ctx context.Context, actor, id string) (models.Contact, error) {
	c, err := s.Lookup(ctx, id)
	if err != nil {
		return models.Contact{}, err
	}
	if !c.AccessibleBy(actor) {
		return models.Contact{}, apperr.NotFound("contact %s", id)
	}
	return c, nil
}

// Lookup returns a contact by id without an access check.
func (s *Service) Lookup(ctx context.Context, id string) (models.Contact, error) {
	c, err := s.contacts.GetContact(ctx, id)
	if errors.Is(err, repositories.ErrContactNotFound) {
		return models.Contact{}, apperr.NotFound("contact %s", id)
	}
	if err != nil {
		return models.Contact{}, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// UpdateContact applies a partial update. Role fields may only be changed
// by the group owner, and the result must keep owner and admins inside the
// member set.
func (s *Service) UpdateContact(ctx context.Context, actor, id string, patch models.ContactPatch) (models.Contact, error) {
	if patch.TouchesRoles() {
		unlock := s.groups.Lock(id)
		defer unlock()
	}

	c, err := s.Contact(ctx, actor, id)
	if err != nil {
		return models.Contact{}, err
	}

	next := c.Clone()
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return models.Contact{}, apperr.Validation("contact name is required")
		}
		next.Name = name
	}
	if patch.Phone != nil {
		next.Phone = *patch.Phone
	}
	if patch.Avatar != nil {
		next.Avatar = *patch.Avatar
	}
	if patch.Persona != nil {
		next.Persona = *patch.Persona
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return models.Contact{}, apperr.Validation("unknown status %q", *patch.Status)
		}
		next.Status = *patch.Status
	}
	if patch.Muted != nil {
		next.Muted = *patch.Muted
	}
	if patch.HideDetails != nil {
		next.HideDetails = *patch.HideDetails
	}

	if patch.TouchesRoles() {
		if !c.IsGroup {
			return models.Contact{}, apperr.Invariant("contact %s is not a group", id)
		}
		if actor != c.OwnerID {
			return models.Contact{}, apperr.Permission("only the owner may change group roles")
		}
		if patch.Members != nil {
			if err := validateMemberSet(*patch.Members); err != nil {
				return models.Contact{}, err
			}
			next.Members = slices.Clone(*patch.Members)
		}
		if patch.OwnerID != nil {
			next.OwnerID = *patch.OwnerID
		}
		if patch.Admins != nil {
			next.Admins = dedupe(*patch.Admins)
		}
		if err := checkRoles(next); err != nil {
			return models.Contact{}, err
		}
	}

	if err := s.contacts.UpdateContact(ctx, next, patch.TouchesRoles()); err != nil {
		return models.Contact{}, fmt.Errorf("update contact: %w", err)
	}
	return next, nil
}

// Block hides a contact from the visible listing. The log is kept.
func (s *Service) Block(ctx context.Context, actor, id string) (models.Contact, error) {
	return s.setBlocked(ctx, actor, id, true)
}

// Unblock restores a blocked contact.
func (s *Service) Unblock(ctx context.Context, actor, id string) (models.Contact, error) {
	return s.setBlocked(ctx, actor, id, false)
}

// setBlocked toggles the blocked flag. A group's flag is shared by every
// member, so only its owner or an admin may change it.
func (s *Service) setBlocked(ctx context.Context, actor, id string, blocked bool) (models.Contact, error) {
	c, err := s.Contact(ctx, actor, id)
	if err != nil {
		return models.Contact{}, err
	}
	if c.IsGroup && !c.IsAdmin(actor) {
		return models.Contact{}, apperr.Permission("only the owner or an admin may block the group")
	}
	if c.Blocked == blocked {
		return c, nil
	}
	if err := s.contacts.SetBlocked(ctx, id, blocked); err != nil {
		return models.Contact{}, fmt.Errorf("set blocked: %w", err)
	}
	c.Blocked = blocked
	return c, nil
}

// ListVisible returns actor's non-blocked contacts, most recent activity first.
func (s *Service) ListVisible(ctx context.Context, actor string) ([]models.Contact, error) {
	all, err := s.contacts.ListAccessible(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	visible := make([]models.Contact, 0, len(all))
	for _, c := range all {
		if !c.Blocked {
			visible = append(visible, c)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		ti, tj := visible[i].SortTime(), visible[j].SortTime()
		if ti.Equal(tj) {
			return visible[i].ID < visible[j].ID
		}
		return ti.After(tj)
	})
	return visible, nil
}

// RecordLastMessage refreshes the cached snippet and time of a contact.
func (s *Service) RecordLastMessage(ctx context.Context, id, snippet string, at time.Time, bumpUnread bool) error {
	if err := s.contacts.RecordLastMessage(ctx, id, snippet, at, bumpUnread); err != nil {
		if errors.Is(err, repositories.ErrContactNotFound) {
			return apperr.NotFound("contact %s", id)
		}
		return fmt.Errorf("record last message: %w", err)
	}
	return nil
}

// ResetUnread zeroes the unread counter of a contact.
func (s *Service) ResetUnread(ctx context.Context, id string) error {
	if err := s.contacts.ResetUnread(ctx, id); err != nil {
		if errors.Is(err, repositories.ErrContactNotFound) {
			return apperr.NotFound("contact %s", id)
		}
		return fmt.Errorf("reset unread: %w", err)
	}
	return nil
}

func validateMemberSet(members []string) error {
	seen := make(map[string]struct{}, len(members))
	for _, id := range members {
		if strings.TrimSpace(id) == "" {
			return apperr.Validation("member ids must not be empty")
		}
		if _, ok := seen[id]; ok {
			return apperr.Validation("duplicate member %s", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func checkRoles(c models.Contact) error {
	if !c.HasMember(c.OwnerID) {
		return apperr.Invariant("owner %s is not a member", c.OwnerID)
	}
	for _, id := range c.Admins {
		if !c.HasMember(id) {
			return apperr.Invariant("admin %s is not a member", id)
		}
	}
	return nil
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
