package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"zenj-service/internal/apperr"
	"zenj-service/internal/models"
	"zenj-service/internal/repositories"
)

// RegisterUser creates the account for id with default settings.
func (s *Service) RegisterUser(ctx context.Context, id, name, phone string) (models.User, error) {
	if strings.TrimSpace(id) == "" {
		return models.User{}, apperr.Validation("user id is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return models.User{}, apperr.Validation("user name is required")
	}
	if _, err := s.users.GetUser(ctx, id); err == nil {
		return models.User{}, apperr.InvalidState("user %s already registered", id)
	} else if !errors.Is(err, repositories.ErrUserNotFound) {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}

	u := models.User{
		ID:        id,
		Name:      name,
		Phone:     phone,
		Settings:  models.DefaultSettings(),
		CreatedAt: s.now(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// User returns a registered user.
func (s *Service) User(ctx context.Context, id string) (models.User, error) {
	u, err := s.users.GetUser(ctx, id)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return models.User{}, apperr.NotFound("user %s", id)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// DisplayName returns the name stamped on messages actor sends. Unregistered
// actors are shown by id.
func (s *Service) DisplayName(ctx context.Context, actor string) string {
	u, err := s.users.GetUser(ctx, actor)
	if err != nil || u.Name == "" {
		return actor
	}
	return u.Name
}

// UpdateProfile applies a partial update to actor's own profile.
func (s *Service) UpdateProfile(ctx context.Context, actor string, patch models.ProfilePatch) (models.User, error) {
	u, err := s.User(ctx, actor)
	if err != nil {
		return models.User{}, err
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return models.User{}, apperr.Validation("user name is required")
		}
		u.Name = name
	}
	if patch.Phone != nil {
		u.Phone = *patch.Phone
	}
	if patch.Bio != nil {
		u.Bio = *patch.Bio
	}
	if patch.Avatar != nil {
		u.Avatar = *patch.Avatar
	}
	if sp := patch.Settings; sp != nil {
		if sp.Theme != nil {
			if !sp.Theme.Valid() {
				return models.User{}, apperr.Validation("unknown theme %q", *sp.Theme)
			}
			u.Settings.Theme = *sp.Theme
		}
		if sp.Wallpaper != nil {
			u.Settings.Wallpaper = *sp.Wallpaper
		}
		if sp.NotificationsEnabled != nil {
			u.Settings.NotificationsEnabled = *sp.NotificationsEnabled
		}
		if sp.VibrationsEnabled != nil {
			u.Settings.VibrationsEnabled = *sp.VibrationsEnabled
		}
	}
	if err := s.users.UpdateUser(ctx, u); err != nil {
		return models.User{}, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}
