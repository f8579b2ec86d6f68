package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, h *Handler) {
	api := r.Group("/api")
	{
		// Health check
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		// Email routes
		emails := api.Group("/emails")
		{
			emails.POST("/fetch-and-summarize", h.FetchAndSummarize)
			emails.POST("/:id/draft-reply", h.DraftReply)
		}

		// Automation routes
		automation := api.Group("/automation")
		{
			automation.PUT("", h.SetAutomation)
			automation.GET("/analytics", h.GetAnalytics)
		}

		// Knowledge base routes
		knowledge := api.Group("/knowledge")
		{
			knowledge.POST("", h.CreateKnowledgeItem)
			knowledge.GET("", h.ListKnowledgeItems)
			knowledge.DELETE("/:id", h.DeleteKnowledgeItem)
		}

		// Operator routes
		queues := api.Group("/queues")
		{
			queues.GET("/:queue/dead-letters", h.GetDeadLetters)
		}
	}
}
