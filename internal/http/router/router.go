package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"payflow.app/resolver/internal/http/handler"
	"payflow.app/resolver/internal/service"
)

type RouterConfig struct {
	// ExposeMetrics serves /metrics on the API port. Off when a separate
	// metrics listener is configured.
	ExposeMetrics bool
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.ExposeMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := router.Group("/api/v1")
	{
		issueHandler := handler.NewIssueHandler(services.Issues())
		IssueRouter(v1.Group("/issues"), issueHandler)
	}
}
