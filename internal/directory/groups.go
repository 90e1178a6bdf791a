package directory

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"zenj-service/internal/apperr"
	"zenj-service/internal/models"
)

// roleChange mutates a copy of the group. It runs under the group's lock.
type roleChange func(g *models.Contact) error

func (s *Service) mutateGroup(ctx context.Context, actor, groupID string, change roleChange) (models.Contact, error) {
	unlock := s.groups.Lock(groupID)
	defer unlock()

	g, err := s.group(ctx, actor, groupID)
	if err != nil {
		return models.Contact{}, err
	}
	next := g.Clone()
	if err := change(&next); err != nil {
		return models.Contact{}, err
	}
	if err := checkRoles(next); err != nil {
		return models.Contact{}, err
	}
	if err := s.contacts.UpdateRoles(ctx, groupID, next.Members, next.OwnerID, next.Admins); err != nil {
		return models.Contact{}, fmt.Errorf("update roles: %w", err)
	}
	return next, nil
}

func (s *Service) group(ctx context.Context, actor, groupID string) (models.Contact, error) {
	g, err := s.Contact(ctx, actor, groupID)
	if err != nil {
		return models.Contact{}, err
	}
	if !g.IsGroup {
		return models.Contact{}, apperr.NotFound("group %s", groupID)
	}
	return g, nil
}

// TransferOwnership hands the group to another member. The former owner
// keeps an explicit admin grant if it had one.
func (s *Service) TransferOwnership(ctx context.Context, actor, groupID, newOwnerID string) (models.Contact, error) {
	g, err := s.mutateGroup(ctx, actor, groupID, func(g *models.Contact) error {
		if actor != g.OwnerID {
			return apperr.Permission("only the owner may transfer ownership")
		}
		if !g.HasMember(newOwnerID) {
			return apperr.Invariant("new owner %s is not a member", newOwnerID)
		}
		g.OwnerID = newOwnerID
		return nil
	})
	if err == nil {
		s.logger.Info("group ownership transferred",
			zap.String("group_id", groupID),
			zap.String("from", actor),
			zap.String("to", newOwnerID),
		)
	}
	return g, err
}

// AddMember appends a member. Adding an existing member is a no-op.
func (s *Service) AddMember(ctx context.Context, actor, groupID, memberID string) (models.Contact, error) {
	if memberID == "" {
		return models.Contact{}, apperr.Validation("member id is required")
	}
	return s.mutateGroup(ctx, actor, groupID, func(g *models.Contact) error {
		if !g.IsAdmin(actor) {
			return apperr.Permission("only the owner or an admin may add members")
		}
		if !g.HasMember(memberID) {
			g.Members = append(g.Members, memberID)
		}
		return nil
	})
}

// RemoveMember drops a member and any admin grant it held. The owner cannot
// be removed until ownership is transferred.
func (s *Service) RemoveMember(ctx context.Context, actor, groupID, memberID string) (models.Contact, error) {
	return s.mutateGroup(ctx, actor, groupID, func(g *models.Contact) error {
		if !g.IsAdmin(actor) {
			return apperr.Permission("only the owner or an admin may remove members")
		}
		if memberID == g.OwnerID {
			return apperr.Invariant("the owner cannot be removed; transfer ownership first")
		}
		if !g.HasMember(memberID) {
			return apperr.NotFound("member %s", memberID)
		}
		g.Members = slices.DeleteFunc(g.Members, func(id string) bool { return id == memberID })
		g.Admins = slices.DeleteFunc(g.Admins, func(id string) bool { return id == memberID })
		return nil
	})
}

// GrantAdmin gives a member explicit admin rights.
func (s *Service) GrantAdmin(ctx context.Context, actor, groupID, memberID string) (models.Contact, error) {
	return s.mutateGroup(ctx, actor, groupID, func(g *models.Contact) error {
		if actor != g.OwnerID {
			return apperr.Permission("only the owner may grant admin rights")
		}
		if !g.HasMember(memberID) {
			return apperr.Invariant("admin %s is not a member", memberID)
		}
		if !slices.Contains(g.Admins, memberID) {
			g.Admins = append(g.Admins, memberID)
		}
		return nil
	})
}

// RevokeAdmin removes an explicit admin grant. The owner's rights are
// implicit and survive revoking its own grant.
func (s *Service) RevokeAdmin(ctx context.Context, actor, groupID, memberID string) (models.Contact, error) {
	return s.mutateGroup(ctx, actor, groupID, func(g *models.Contact) error {
		if actor != g.OwnerID {
			return apperr.Permission("only the owner may revoke admin rights")
		}
		if !g.HasMember(memberID) {
			return apperr.NotFound("member %s", memberID)
		}
		g.Admins = slices.DeleteFunc(g.Admins, func(id string) bool { return id == memberID })
		return nil
	})
}

// DeleteGroup removes the group and cascades to its conversation log. The
// log is purged inside the conversation's exclusive section, taken after
// the group lock.
func (s *Service) DeleteGroup(ctx context.Context, actor, groupID string) error {
	unlock := s.groups.Lock(groupID)
	defer unlock()

	g, err := s.group(ctx, actor, groupID)
	if err != nil {
		return err
	}
	if actor != g.OwnerID {
		return apperr.Permission("only the owner may delete the group")
	}

	deleteRow := func(ctx context.Context) error {
		if err := s.contacts.DeleteContact(ctx, groupID); err != nil {
			return fmt.Errorf("delete group: %w", err)
		}
		return nil
	}
	if s.purger != nil {
		err = s.purger.Purge(ctx, groupID, deleteRow)
	} else {
		err = deleteRow(ctx)
	}
	if err != nil {
		return err
	}
	s.logger.Info("group deleted", zap.String("group_id", groupID), zap.String("actor", actor))
	return nil
}
