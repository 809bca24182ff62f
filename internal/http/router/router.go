package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/categorizer/internal/http/handler"
)

type RouterConfig struct {
	Runs       handler.RunTrigger
	RunHistory handler.RunLister
	Taxonomy   handler.TaxonomyLister
}

func SetupRoutes(router *gin.Engine, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		taxonomyHandler := handler.NewTaxonomyHandler(cfg.Taxonomy)
		v1.GET("/taxonomy", taxonomyHandler.List)

		runHandler := handler.NewRunHandler(cfg.Runs, cfg.RunHistory)
		RunRouter(v1.Group("/runs"), runHandler)
	}
}

func RunRouter(group *gin.RouterGroup, h *handler.RunHandler) {
	group.GET("", h.List)
	group.POST("", h.Create)
	group.GET("/last", h.Last)
}
