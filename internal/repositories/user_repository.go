package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"zenj-service/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository abstracts user persistence. Users are never deleted.
type UserRepository interface {
	CreateUser(ctx context.Context, user models.User) error
	GetUser(ctx context.Context, id string) (models.User, error)
	UpdateUser(ctx context.Context, user models.User) error
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, name, phone, bio, avatar,
	theme AS "settings.theme", wallpaper AS "settings.wallpaper",
	notifications_enabled AS "settings.notifications_enabled",
	vibrations_enabled AS "settings.vibrations_enabled", created_at`

// CreateUser inserts a new user row.
func (r *UserRepo) CreateUser(ctx context.Context, u models.User) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO users
		(id, name, phone, bio, avatar, theme, wallpaper, notifications_enabled, vibrations_enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		u.ID, u.Name, u.Phone, u.Bio, u.Avatar,
		u.Settings.Theme, u.Settings.Wallpaper, u.Settings.NotificationsEnabled, u.Settings.VibrationsEnabled,
		u.CreatedAt)
	return err
}

// GetUser fetches a user by id.
func (r *UserRepo) GetUser(ctx context.Context, id string) (models.User, error) {
	var u models.User
	err := r.db.GetContext(ctx, &u, r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return u, err
}

// UpdateUser overwrites the mutable profile fields.
func (r *UserRepo) UpdateUser(ctx context.Context, u models.User) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE users SET
		name = ?, phone = ?, bio = ?, avatar = ?, theme = ?, wallpaper = ?,
		notifications_enabled = ?, vibrations_enabled = ?
		WHERE id = ?`),
		u.Name, u.Phone, u.Bio, u.Avatar, u.Settings.Theme, u.Settings.Wallpaper,
		u.Settings.NotificationsEnabled, u.Settings.VibrationsEnabled, u.ID)
	if err != nil {
		return err
	}
	return expectOne(res, ErrUserNotFound)
}

func expectOne(res sql.Result, notFound error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
