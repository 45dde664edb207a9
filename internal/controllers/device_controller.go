package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tag_tracker/internal/backend"
	"tag_tracker/internal/geo"
)

type DeviceController struct {
	svc *backend.Service
}

func NewDeviceController(svc *backend.Service) *DeviceController {
	return &DeviceController{svc: svc}
}

// ListDevices returns the caller's fleet; admins see every device.
func (dc *DeviceController) ListDevices(c *gin.Context) {
	devices, err := dc.svc.DevicesFor(c.Request.Context(), actorFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": devices})
}

// LinkDevice attaches a tag to the caller's account.
func (dc *DeviceController) LinkDevice(c *gin.Context) {
	var input struct {
		Name      string `json:"name" binding:"required"`
		TagSerial string `json:"tag_serial" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid device input: " + err.Error()})
		return
	}

	d, err := dc.svc.LinkDevice(c.Request.Context(), actorFrom(c).UserID, input.Name, input.TagSerial)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"device": d})
}

func (dc *DeviceController) GetDevice(c *gin.Context) {
	d, err := dc.svc.DeviceFor(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device": d})
}

func (dc *DeviceController) UnlinkDevice(c *gin.Context) {
	if err := dc.svc.UnlinkDevice(c.Request.Context(), actorFrom(c), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Device unlinked"})
}

// FenceGeoJSON renders the armed fence as a GeoJSON polygon for map
// overlays.
func (dc *DeviceController) FenceGeoJSON(c *gin.Context) {
	d, err := dc.svc.DeviceFor(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if !d.FenceAlert.Enabled || d.FenceAlert.Center == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No fence armed for this device"})
		return
	}

	body, err := geo.PolygonGeoJSON(d.FenceAlert.Center, d.FenceAlert.RadiusMeters, geo.DefaultPolygonPoints)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/geo+json", body)
}

// History lists position samples in [from, to). Samples without a device
// timestamp come back separately under "untimed".
func (dc *DeviceController) History(c *gin.Context) {
	from, err := parseTimeQuery(c, "from")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from: " + err.Error()})
		return
	}
	to, err := parseTimeQuery(c, "to")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to: " + err.Error()})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
	}

	h, err := dc.svc.History(c.Request.Context(), actorFrom(c), c.Param("id"), from, to, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

func parseTimeQuery(c *gin.Context, key string) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
