package router

import (
	"github.com/gin-gonic/gin"

	"payflow.app/resolver/internal/http/handler"
)

func IssueRouter(rg *gin.RouterGroup, h *handler.IssueHandler) {
	rg.POST("", h.Create)
	rg.GET("/stale", h.Stale)
	rg.GET("/:id", h.Get)
	rg.GET("/:id/history", h.History)
	rg.POST("/:id/review", h.Review)
	rg.POST("/:id/requeue", h.Requeue)
}
