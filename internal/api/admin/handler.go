package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/liliang-cn/ragsession/internal/api/apierr"
	"github.com/liliang-cn/ragsession/internal/domain"
	"github.com/liliang-cn/ragsession/internal/service"
)

// Handler handles admin API requests
type Handler struct {
	adminService  *service.AdminService
	ingestService *service.IngestService
}

// NewHandler creates a new admin handler
func NewHandler(adminService *service.AdminService, ingestService *service.IngestService) *Handler {
	return &Handler{
		adminService:  adminService,
		ingestService: ingestService,
	}
}

// RegisterRoutes registers admin routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	sessions := r.Group("/sessions")
	{
		sessions.POST("", h.CreateSession)
		sessions.GET("", h.ListSessions)
		sessions.GET("/:id", h.GetSession)
	}

	templates := r.Group("/templates")
	{
		templates.POST("", h.CreateTemplate)
		templates.GET("", h.ListTemplates)
		templates.GET("/:id", h.GetTemplate)
	}

	r.POST("/corpora/:corpus_id/chunks", h.IngestText)
	r.GET("/stats", h.GetStats)
}

// Session handlers

func (h *Handler) CreateSession(c *gin.Context) {
	var req domain.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.adminService.CreateSession(c.Request.Context(), &req)
	if err != nil {
		apierr.Write(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.adminService.ListSessions(c.Request.Context())
	if err != nil {
		apierr.Write(c, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.TrainingSession{}
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) GetSession(c *gin.Context) {
	session, err := h.adminService.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Write(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// Template handlers

func (h *Handler) CreateTemplate(c *gin.Context) {
	var req domain.CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tmpl, err := h.adminService.CreateTemplate(c.Request.Context(), &req)
	if err != nil {
		apierr.Write(c, err)
		return
	}

	c.JSON(http.StatusCreated, tmpl)
}

func (h *Handler) ListTemplates(c *gin.Context) {
	templates, err := h.adminService.ListTemplates(c.Request.Context())
	if err != nil {
		apierr.Write(c, err)
		return
	}
	if templates == nil {
		templates = []*domain.PromptTemplate{}
	}

	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

func (h *Handler) GetTemplate(c *gin.Context) {
	tmpl, err := h.adminService.GetTemplate(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Write(c, err)
		return
	}

	c.JSON(http.StatusOK, tmpl)
}

// Corpus handlers

func (h *Handler) IngestText(c *gin.Context) {
	var req domain.IngestTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.ingestService.IngestText(c.Request.Context(), c.Param("corpus_id"), &req)
	if err != nil {
		apierr.Write(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// Stats

func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.adminService.GetStats(c.Request.Context())
	if err != nil {
		apierr.Write(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
