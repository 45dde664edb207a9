package routes

import (
	"github.com/gin-gonic/gin"

	"tag_tracker/internal/models"
)

func TelemetryRoutes(r *gin.Engine, d Deps) {
	r.POST("/telemetry", d.Auth.RequireAnyRole(models.RoleAdmin, models.RoleIngest), d.Telemetry.Report)
}
