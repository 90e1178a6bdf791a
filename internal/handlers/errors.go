package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"zenj-service/internal/apperr"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch apperr.Kind(err) {
	case apperr.ErrValidation:
		return http.StatusBadRequest
	case apperr.ErrPermission:
		return http.StatusForbidden
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrInvariant, apperr.ErrInvalidState:
		return http.StatusConflict
	case apperr.ErrResponder:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes err with its mapped status. Internal errors are not
// echoed to the client.
func respondError(c *gin.Context, err error, fallback string) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = fallback
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": msg})
}

func isResponderError(err error) bool {
	return errors.Is(err, apperr.ErrResponder)
}
