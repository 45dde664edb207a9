package routes

import "github.com/gin-gonic/gin"

// The watch socket authenticates from the query string itself.
func WebSocketRoutes(r *gin.Engine, d Deps) {
	r.GET("/ws/watch", d.Watch.Watch)
}
