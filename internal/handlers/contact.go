package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"zenj-service/internal/models"
)

type contactDirectory interface {
	CreateContact(ctx context.Context, actor string, spec models.ContactSpec) (models.Contact, error)
	Contact(ctx context.Context, actor, id string) (models.Contact, error)
	ListVisible(ctx context.Context, actor string) ([]models.Contact, error)
	UpdateContact(ctx context.Context, actor, id string, patch models.ContactPatch) (models.Contact, error)
}

type focusEngine interface {
	Select(ctx context.Context, actor, id string) (models.Contact, error)
	Unfocus(actor string)
	Block(ctx context.Context, actor, id string) (models.Contact, error)
	Unblock(ctx context.Context, actor, id string) (models.Contact, error)
}

// ContactHandler manages contact endpoints.
type ContactHandler struct {
	directory contactDirectory
	engine    focusEngine
}

// NewContactHandler builds a ContactHandler.
func NewContactHandler(directory contactDirectory, engine focusEngine) *ContactHandler {
	return &ContactHandler{directory: directory, engine: engine}
}

// ListContacts returns the contacts and groups visible to the actor, most
// recent activity first.
func (h *ContactHandler) ListContacts(c *gin.Context) {
	contacts, err := h.directory.ListVisible(c.Request.Context(), actorFromContext(c))
	if err != nil {
		respondError(c, err, "failed to load contacts")
		return
	}
	if contacts == nil {
		contacts = []models.Contact{}
	}
	c.JSON(http.StatusOK, gin.H{"contacts": contacts})
}

// CreateContact adds an individual contact to the actor's directory.
func (h *ContactHandler) CreateContact(c *gin.Context) {
	var req models.ContactSpec
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.IsGroup = false
	req.Members = nil

	contact, err := h.directory.CreateContact(c.Request.Context(), actorFromContext(c), req)
	if err != nil {
		respondError(c, err, "could not create contact")
		return
	}
	c.JSON(http.StatusCreated, contact)
}

func (h *ContactHandler) GetContact(c *gin.Context) {
	contact, err := h.directory.Contact(c.Request.Context(), actorFromContext(c), c.Param("contact_id"))
	if err != nil {
		respondError(c, err, "failed to load contact")
		return
	}
	c.JSON(http.StatusOK, contact)
}

// UpdateContact applies a partial update. Group role fields go through the
// same invariant checks as the dedicated group endpoints.
func (h *ContactHandler) UpdateContact(c *gin.Context) {
	var patch models.ContactPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	contact, err := h.directory.UpdateContact(c.Request.Context(), actorFromContext(c), c.Param("contact_id"), patch)
	if err != nil {
		respondError(c, err, "could not update contact")
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (h *ContactHandler) BlockContact(c *gin.Context) {
	contact, err := h.engine.Block(c.Request.Context(), actorFromContext(c), c.Param("contact_id"))
	if err != nil {
		respondError(c, err, "could not block contact")
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (h *ContactHandler) UnblockContact(c *gin.Context) {
	contact, err := h.engine.Unblock(c.Request.Context(), actorFromContext(c), c.Param("contact_id"))
	if err != nil {
		respondError(c, err, "could not unblock contact")
		return
	}
	c.JSON(http.StatusOK, contact)
}

// SelectContact focuses the conversation and clears its unread counter.
func (h *ContactHandler) SelectContact(c *gin.Context) {
	contact, err := h.engine.Select(c.Request.Context(), actorFromContext(c), c.Param("contact_id"))
	if err != nil {
		respondError(c, err, "could not select contact")
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (h *ContactHandler) ClearFocus(c *gin.Context) {
	h.engine.Unfocus(actorFromContext(c))
	c.Status(http.StatusNoContent)
}
