package api

import (
	"context"
	"net/http"

	"replypilot-backend/internal/automation"
	knowledgedomain "replypilot-backend/internal/knowledge/domain"
	knowledgeUsecase "replypilot-backend/internal/knowledge/usecase"
	"replypilot-backend/internal/queue"
	userRepo "replypilot-backend/internal/user/repository"
	"replypilot-backend/pkg/config"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *automation.Service
	engine  *knowledgeUsecase.Engine
	users   userRepo.UserRepository
	queues  map[string]QueueInspector
	config  *config.Config
}

// QueueInspector is the read-only queue surface exposed to operators.
type QueueInspector interface {
	DeadJobs(ctx context.Context) ([]*queue.Job, error)
	PendingCount(ctx context.Context) (int64, error)
}

func NewHandler(service *automation.Service, engine *knowledgeUsecase.Engine, users userRepo.UserRepository, queues map[string]QueueInspector, cfg *config.Config) *Handler {
	return &Handler{
		service: service,
		engine:  engine,
		users:   users,
		queues:  queues,
		config:  cfg,
	}
}

func (h *Handler) Start(addr string) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	// CORS middleware
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-User-ID, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	SetupRoutes(r, h)

	return r.Run(addr)
}

// userID extracts the caller's user ID from the X-User-ID header. Requests
// without it are rejected before reaching any handler logic.
func userID(c *gin.Context) (string, bool) {
	id := c.GetHeader("X-User-ID")
	if id == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "X-User-ID header is required"})
		return "", false
	}
	return id, true
}

func (h *Handler) FetchAndSummarize(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}

	emails, err := h.service.FetchAndSummarize(c.Request.Context(), id)
	if err != nil {
		if err == automation.ErrUserNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"emails": emails})
}

func (h *Handler) DraftReply(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	emailID := c.Param("id")

	draft, err := h.service.DraftReply(c.Request.Context(), emailID, id)
	if err != nil {
		if err == automation.ErrEmailNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "email not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"draft": draft})
}

func (h *Handler) SetAutomation(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.service.SetAutomationEnabled(id, req.Enabled); err != nil {
		if err == automation.ErrUserNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"enabled": req.Enabled})
}

func (h *Handler) GetAnalytics(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}

	stats, err := h.service.Stats(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) CreateKnowledgeItem(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}

	var req struct {
		Topic   string `json:"topic" binding:"required"`
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "topic and content are required"})
		return
	}

	user, err := h.users.FindByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	item := &knowledgedomain.KnowledgeItem{
		UserID:   user.ID,
		TenantID: user.TenantID,
		Topic:    req.Topic,
		Content:  req.Content,
	}
	if err := h.engine.AddKnowledgeItem(c.Request.Context(), item); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, item)
}

func (h *Handler) ListKnowledgeItems(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}

	user, err := h.users.FindByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	items, err := h.engine.ListKnowledge(user.TenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) DeleteKnowledgeItem(c *gin.Context) {
	id, ok := userID(c)
	if !ok {
		return
	}
	itemID := c.Param("id")

	user, err := h.users.FindByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	item, err := h.engine.FindKnowledgeItem(itemID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if item == nil || item.TenantID != user.TenantID {
		c.JSON(http.StatusNotFound, gin.H{"error": "knowledge item not found"})
		return
	}

	if err := h.engine.DeleteKnowledgeItem(c.Request.Context(), itemID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": itemID})
}

func (h *Handler) GetDeadLetters(c *gin.Context) {
	name := c.Param("queue")
	q, ok := h.queues[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown queue"})
		return
	}

	jobs, err := q.DeadJobs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	pending, err := q.PendingCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"queue":   name,
		"pending": pending,
		"dead":    jobs,
	})
}
