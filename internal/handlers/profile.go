package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"zenj-service/internal/models"
)

type profileDirectory interface {
	RegisterUser(ctx context.Context, id, name, phone string) (models.User, error)
	User(ctx context.Context, id string) (models.User, error)
	UpdateProfile(ctx context.Context, actor string, patch models.ProfilePatch) (models.User, error)
}

// ProfileHandler manages the actor's own user record.
type ProfileHandler struct {
	directory profileDirectory
}

func NewProfileHandler(directory profileDirectory) *ProfileHandler {
	return &ProfileHandler{directory: directory}
}

// Register creates the user record for the calling actor.
func (h *ProfileHandler) Register(c *gin.Context) {
	var req struct {
		Name  string `json:"name" binding:"required"`
		Phone string `json:"phone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := h.directory.RegisterUser(c.Request.Context(), actorFromContext(c), req.Name, req.Phone)
	if err != nil {
		respondError(c, err, "could not register user")
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *ProfileHandler) GetProfile(c *gin.Context) {
	user, err := h.directory.User(c.Request.Context(), actorFromContext(c))
	if err != nil {
		respondError(c, err, "failed to load profile")
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	var patch models.ProfilePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := h.directory.UpdateProfile(c.Request.Context(), actorFromContext(c), patch)
	if err != nil {
		respondError(c, err, "could not update profile")
		return
	}
	c.JSON(http.StatusOK, user)
}
