package handlers

import (
	"context"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"zenj-service/internal/models"
	"zenj-service/internal/telemetry"
)

type groupDirectory interface {
	CreateContact(ctx context.Context, actor string, spec models.ContactSpec) (models.Contact, error)
	AddMember(ctx context.Context, actor, groupID, memberID string) (models.Contact, error)
	RemoveMember(ctx context.Context, actor, groupID, memberID string) (models.Contact, error)
	TransferOwnership(ctx context.Context, actor, groupID, newOwnerID string) (models.Contact, error)
	GrantAdmin(ctx context.Context, actor, groupID, memberID string) (models.Contact, error)
	RevokeAdmin(ctx context.Context, actor, groupID, memberID string) (models.Contact, error)
}

type groupEngine interface {
	DeleteGroup(ctx context.Context, actor, groupID string) error
}

// Auditor records role and membership changes.
type Auditor interface {
	Emit(ctx context.Context, entry telemetry.AuditEntry)
}

// GroupHandler manages group endpoints.
type GroupHandler struct {
	directory groupDirectory
	engine    groupEngine
	auditor   Auditor
}

// NewGroupHandler builds a GroupHandler. auditor may be nil.
func NewGroupHandler(directory groupDirectory, engine groupEngine, auditor Auditor) *GroupHandler {
	return &GroupHandler{directory: directory, engine: engine, auditor: auditor}
}

// CreateGroup creates a group owned and administered by the actor.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name    string   `json:"name" binding:"required"`
		Members []string `json:"members"`
		Avatar  string   `json:"avatar"`
		Persona string   `json:"persona"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor := actorFromContext(c)
	members := req.Members
	if !slices.Contains(members, actor) {
		members = append([]string{actor}, members...)
	}

	group, err := h.directory.CreateContact(c.Request.Context(), actor, models.ContactSpec{
		Name:    req.Name,
		Avatar:  req.Avatar,
		Persona: req.Persona,
		IsGroup: true,
		Members: members,
	})
	if err != nil {
		respondError(c, err, "could not create group")
		return
	}
	h.audit(c, telemetry.ActionGroupCreated, group.ID, "")
	c.JSON(http.StatusCreated, group)
}

func (h *GroupHandler) AddMember(c *gin.Context) {
	var req struct {
		MemberID string `json:"member_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.mutate(c, telemetry.ActionMemberAdded, req.MemberID, func(ctx context.Context, actor, groupID string) (models.Contact, error) {
		return h.directory.AddMember(ctx, actor, groupID, req.MemberID)
	})
}

func (h *GroupHandler) RemoveMember(c *gin.Context) {
	memberID := c.Param("member_id")
	h.mutate(c, telemetry.ActionMemberRemoved, memberID, func(ctx context.Context, actor, groupID string) (models.Contact, error) {
		return h.directory.RemoveMember(ctx, actor, groupID, memberID)
	})
}

// TransferOwnership hands the group to another member.
func (h *GroupHandler) TransferOwnership(c *gin.Context) {
	var req struct {
		OwnerID string `json:"owner_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.mutate(c, telemetry.ActionOwnershipTransferred, req.OwnerID, func(ctx context.Context, actor, groupID string) (models.Contact, error) {
		return h.directory.TransferOwnership(ctx, actor, groupID, req.OwnerID)
	})
}

func (h *GroupHandler) GrantAdmin(c *gin.Context) {
	var req struct {
		MemberID string `json:"member_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.mutate(c, telemetry.ActionAdminGranted, req.MemberID, func(ctx context.Context, actor, groupID string) (models.Contact, error) {
		return h.directory.GrantAdmin(ctx, actor, groupID, req.MemberID)
	})
}

func (h *GroupHandler) RevokeAdmin(c *gin.Context) {
	memberID := c.Param("member_id")
	h.mutate(c, telemetry.ActionAdminRevoked, memberID, func(ctx context.Context, actor, groupID string) (models.Contact, error) {
		return h.directory.RevokeAdmin(ctx, actor, groupID, memberID)
	})
}

// DeleteGroup removes the group with its conversation log. Owner only.
func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	groupID := c.Param("group_id")
	if err := h.engine.DeleteGroup(c.Request.Context(), actorFromContext(c), groupID); err != nil {
		respondError(c, err, "could not delete group")
		return
	}
	h.audit(c, telemetry.ActionGroupDeleted, groupID, "")
	c.Status(http.StatusNoContent)
}

func (h *GroupHandler) mutate(c *gin.Context, action, subject string, fn func(ctx context.Context, actor, groupID string) (models.Contact, error)) {
	groupID := c.Param("group_id")
	group, err := fn(c.Request.Context(), actorFromContext(c), groupID)
	if err != nil {
		respondError(c, err, "could not update group")
		return
	}
	h.audit(c, action, groupID, subject)
	c.JSON(http.StatusOK, group)
}

func (h *GroupHandler) audit(c *gin.Context, action, groupID, subject string) {
	if h.auditor == nil {
		return
	}
	h.auditor.Emit(c.Request.Context(), telemetry.AuditEntry{
		Action:         action,
		ConversationID: groupID,
		Subject:        subject,
		RequestID:      requestIDFromContext(c),
		ActorID:        userIDFromContext(c),
	})
}
