package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tag_tracker/internal/backend"
	"tag_tracker/internal/gateway"
	"tag_tracker/internal/models"
)

// AlertController arms and disarms alert rules. Each request is one write
// attempt through the gateway; a failed write surfaces as 502 and the
// client decides whether to retry.
type AlertController struct {
	svc     *backend.Service
	gateway *gateway.AlertConfigGateway
}

func NewAlertController(svc *backend.Service, gw *gateway.AlertConfigGateway) *AlertController {
	return &AlertController{svc: svc, gateway: gw}
}

func (ac *AlertController) SetFence(c *gin.Context) {
	var input struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	d, err := ac.svc.DeviceFor(ctx, actorFrom(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	var patch models.AlertPatch
	if *input.Enabled {
		patch, err = ac.gateway.EnableFence(ctx, d.ID, d.Position)
	} else {
		patch, err = ac.gateway.DisableFence(ctx, d.ID)
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device_id": d.ID, "fence_alert": patch.Fence})
}

func (ac *AlertController) SetMovement(c *gin.Context) {
	var input struct {
		Enabled     *bool  `json:"enabled" binding:"required"`
		WindowStart string `json:"window_start"`
		WindowEnd   string `json:"window_end"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	d, err := ac.svc.DeviceFor(ctx, actorFrom(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	var patch models.AlertPatch
	if *input.Enabled {
		patch, err = ac.gateway.EnableMovementWindow(ctx, d.ID, d.Position, input.WindowStart, input.WindowEnd)
	} else {
		patch, err = ac.gateway.DisableMovementWindow(ctx, d.ID)
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device_id": d.ID, "movement_alert": patch.Movement})
}
