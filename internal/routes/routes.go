package routes

import (
	"github.com/gin-gonic/gin"

	"tag_tracker/internal/controllers"
	"tag_tracker/internal/metrics"
	"tag_tracker/internal/middleware"
)

// Deps are the handlers the router mounts.
type Deps struct {
	Auth      *middleware.Auth
	Users     *controllers.AuthController
	Devices   *controllers.DeviceController
	Alerts    *controllers.AlertController
	Telemetry *controllers.TelemetryController
	Watch     *controllers.WatchController
	AccessLog gin.HandlerFunc
}

func SetupRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if d.AccessLog != nil {
		r.Use(d.AccessLog)
	}
	r.Use(middleware.CORS(), metrics.Instrument())

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	AuthRoutes(r, d)
	DeviceRoutes(r, d)
	TelemetryRoutes(r, d)
	WebSocketRoutes(r, d)

	return r
}
