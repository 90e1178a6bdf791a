package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"zenj-service/internal/models"
)

var ErrContactNotFound = errors.New("contact not found")

// ContactRepository abstracts contact and group persistence. Group member
// and admin lists are stored in group_members and loaded with the row.
type ContactRepository interface {
	CreateContact(ctx context.Context, c models.Contact) error
	GetContact(ctx context.Context, id string) (models.Contact, error)
	// ListAccessible returns every contact actor owns plus the groups that
	// list actor as a member, blocked ones included.
	ListAccessible(ctx context.Context, actor string) ([]models.Contact, error)
	// UpdateContact writes the profile fields of c and, when withRoles is set,
	// its member list, owner and admins in the same write.
	UpdateContact(ctx context.Context, c models.Contact, withRoles bool) error
	UpdateRoles(ctx context.Context, id string, members []string, ownerID string, admins []string) error
	SetBlocked(ctx context.Context, id string, blocked bool) error
	RecordLastMessage(ctx context.Context, id string, snippet string, at time.Time, bumpUnread bool) error
	ResetUnread(ctx context.Context, id string) error
	DeleteContact(ctx context.Context, id string) error
}

// ContactRepo is a sqlx implementation of ContactRepository.
type ContactRepo struct {
	db *sqlx.DB
}

// NewContactRepo constructs a ContactRepo.
func NewContactRepo(db *sqlx.DB) *ContactRepo {
	return &ContactRepo{db: db}
}

const contactColumns = `id, user_id, name, phone, avatar, status, last_message, last_message_at,
	persona, unread_count, blocked, muted, hide_details, invite_placeholder, is_group, owner_id, created_at`

// CreateContact stores a contact and, for groups, its member list atomically.
func (r *ContactRepo) CreateContact(ctx context.Context, c models.Contact) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.NamedExecContext(ctx, `INSERT INTO contacts (`+contactColumns+`) VALUES
		(:id, :user_id, :name, :phone, :avatar, :status, :last_message, :last_message_at,
		:persona, :unread_count, :blocked, :muted, :hide_details, :invite_placeholder, :is_group, :owner_id, :created_at)`, c); err != nil {
		return err
	}
	if c.IsGroup {
		if err = insertMembers(ctx, tx, c.ID, c.Members, c.Admins); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetContact fetches a contact by id with its group fields.
func (r *ContactRepo) GetContact(ctx context.Context, id string) (models.Contact, error) {
	var c models.Contact
	err := r.db.GetContext(ctx, &c, r.db.Rebind(`SELECT `+contactColumns+` FROM contacts WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Contact{}, ErrContactNotFound
	}
	if err != nil {
		return models.Contact{}, err
	}
	list := []models.Contact{c}
	if err := r.loadMembers(ctx, list); err != nil {
		return models.Contact{}, err
	}
	return list[0], nil
}

// ListAccessible returns contacts visible to actor.
func (r *ContactRepo) ListAccessible(ctx context.Context, actor string) ([]models.Contact, error) {
	query := r.db.Rebind(`SELECT ` + contactColumns + ` FROM contacts c
		WHERE c.user_id = ?
		OR (c.is_group = ? AND EXISTS (SELECT 1 FROM group_members gm WHERE gm.group_id = c.id AND gm.member_id = ?))`)
	var contacts []models.Contact
	if err := r.db.SelectContext(ctx, &contacts, query, actor, true, actor); err != nil {
		return nil, err
	}
	if err := r.loadMembers(ctx, contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

// UpdateContact writes the profile fields and optionally the roles in one
// transaction.
func (r *ContactRepo) UpdateContact(ctx context.Context, c models.Contact, withRoles bool) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE contacts SET
		name = ?, phone = ?, avatar = ?, persona = ?, status = ?, muted = ?, hide_details = ?
		WHERE id = ?`),
		c.Name, c.Phone, c.Avatar, c.Persona, c.Status, c.Muted, c.HideDetails, c.ID)
	if err != nil {
		return err
	}
	if err = expectOne(res, ErrContactNotFound); err != nil {
		return err
	}
	if withRoles {
		if err = writeRoles(ctx, tx, c.ID, c.Members, c.OwnerID, c.Admins); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdateRoles replaces the group's member list, owner and admin set.
func (r *ContactRepo) UpdateRoles(ctx context.Context, id string, members []string, ownerID string, admins []string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = writeRoles(ctx, tx, id, members, ownerID, admins); err != nil {
		return err
	}
	return tx.Commit()
}

func writeRoles(ctx context.Context, tx *sqlx.Tx, id string, members []string, ownerID string, admins []string) error {
	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE contacts SET owner_id = ? WHERE id = ?`), ownerID, id)
	if err != nil {
		return err
	}
	if err := expectOne(res, ErrContactNotFound); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM group_members WHERE group_id = ?`), id); err != nil {
		return err
	}
	return insertMembers(ctx, tx, id, members, admins)
}

// SetBlocked toggles the blocked flag.
func (r *ContactRepo) SetBlocked(ctx context.Context, id string, blocked bool) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE contacts SET blocked = ? WHERE id = ?`), blocked, id)
	if err != nil {
		return err
	}
	return expectOne(res, ErrContactNotFound)
}

// RecordLastMessage refreshes the snippet cache and optionally bumps unread.
func (r *ContactRepo) RecordLastMessage(ctx context.Context, id string, snippet string, at time.Time, bumpUnread bool) error {
	bump := 0
	if bumpUnread {
		bump = 1
	}
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE contacts SET
		last_message = ?, last_message_at = ?, unread_count = unread_count + ?
		WHERE id = ?`), snippet, at, bump, id)
	if err != nil {
		return err
	}
	return expectOne(res, ErrContactNotFound)
}

// ResetUnread zeroes the unread counter.
func (r *ContactRepo) ResetUnread(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE contacts SET unread_count = 0 WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return expectOne(res, ErrContactNotFound)
}

// DeleteContact removes a contact and its member rows.
func (r *ContactRepo) DeleteContact(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM group_members WHERE group_id = ?`), id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM contacts WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if err = expectOne(res, ErrContactNotFound); err != nil {
		return err
	}
	return tx.Commit()
}

type memberRow struct {
	GroupID  string `db:"group_id"`
	MemberID string `db:"member_id"`
	IsAdmin  bool   `db:"is_admin"`
}

func (r *ContactRepo) loadMembers(ctx context.Context, contacts []models.Contact) error {
	index := make(map[string]int)
	var ids []string
	for i, c := range contacts {
		if c.IsGroup {
			index[c.ID] = i
			ids = append(ids, c.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`SELECT group_id, member_id, is_admin FROM group_members
		WHERE group_id IN (?) ORDER BY group_id, position`, ids)
	if err != nil {
		return err
	}
	var rows []memberRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return err
	}
	for _, row := range rows {
		c := &contacts[index[row.GroupID]]
		c.Members = append(c.Members, row.MemberID)
		if row.IsAdmin {
			c.Admins = append(c.Admins, row.MemberID)
		}
	}
	return nil
}

func insertMembers(ctx context.Context, tx *sqlx.Tx, groupID string, members []string, admins []string) error {
	adminSet := make(map[string]struct{}, len(admins))
	for _, id := range admins {
		adminSet[id] = struct{}{}
	}
	for pos, id := range members {
		_, isAdmin := adminSet[id]
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO group_members (group_id, member_id, position, is_admin)
			VALUES (?, ?, ?, ?)`), groupID, id, pos, isAdmin); err != nil {
			return err
		}
	}
	return nil
}
