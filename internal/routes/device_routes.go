package routes

import "github.com/gin-gonic/gin"

func DeviceRoutes(r *gin.Engine, d Deps) {
	devices := r.Group("/devices")
	devices.Use(d.Auth.RequireAuth())
	{
		devices.GET("", d.Devices.ListDevices)
		devices.POST("", d.Devices.LinkDevice)
		devices.GET("/:id", d.Devices.GetDevice)
		devices.DELETE("/:id", d.Devices.UnlinkDevice)
		devices.GET("/:id/fence.geojson", d.Devices.FenceGeoJSON)
		devices.GET("/:id/history", d.Devices.History)

		devices.PUT("/:id/alerts/fence", d.Alerts.SetFence)
		devices.PUT("/:id/alerts/movement", d.Alerts.SetMovement)
	}
}
