package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"tag_tracker/internal/telemetry"
)

// TelemetryController accepts position reports from gateways that do not
// speak MQTT.
type TelemetryController struct {
	ingestor *telemetry.Ingestor
}

func NewTelemetryController(in *telemetry.Ingestor) *TelemetryController {
	return &TelemetryController{ingestor: in}
}

func (tc *TelemetryController) Report(c *gin.Context) {
	var r telemetry.Report
	if err := c.ShouldBindJSON(&r); err != nil {
		logrus.WithError(err).Warn("Error unmarshaling telemetry report.")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid report format: " + err.Error()})
		return
	}

	res, err := tc.ingestor.Record(c.Request.Context(), telemetry.SourceHTTP, r)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}
