package handlers

import (
	"github.com/gin-gonic/gin"

	"clipworks/api_orchestrator/pkg/middleware"
)

// RegisterRoutes mounts the control-plane surface and the webhook
// receiver. Control endpoints require the service token; the webhook
// endpoint stays open for platform callbacks.
func RegisterRoutes(router *gin.Engine, serviceToken string) {
	orch := router.Group("/orchestrator")
	orch.Use(middleware.ServiceAuthMiddleware(serviceToken))
	{
		orch.GET("/snapshot", GetSnapshot)
		orch.POST("/cycle", RunCycle)
		orch.POST("/loop/enable", EnableLoop)
		orch.POST("/loop/disable", DisableLoop)
		orch.GET("/loop/status", LoopStatus)
		orch.POST("/reconcile", Reconcile)
	}

	router.POST("/webhooks/publish/:platform", PublishWebhook)
}
