package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tag_tracker/internal/backend"
	"tag_tracker/internal/gateway"
	"tag_tracker/internal/middleware"
	"tag_tracker/internal/models"
	"tag_tracker/internal/telemetry"
)

// actorFrom builds the backend actor from the authenticated request.
func actorFrom(c *gin.Context) backend.Actor {
	id, role := middleware.CurrentUser(c)
	return backend.Actor{UserID: id, Admin: role == models.RoleAdmin}
}

// abortWithError maps domain errors to HTTP statuses.
func abortWithError(c *gin.Context, err error) {
	var (
		ve *gateway.ValidationError
		wf *gateway.WriteFailure
	)
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Error(), "field": ve.Field})
	case errors.As(err, &wf):
		c.JSON(http.StatusBadGateway, gin.H{"error": "alert configuration was not saved, try again"})
	case errors.Is(err, backend.ErrDeviceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
	case errors.Is(err, backend.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
	case errors.Is(err, backend.ErrSerialInUse), errors.Is(err, backend.ErrEmailInUse):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, telemetry.ErrInvalidReport):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Request failed.")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
