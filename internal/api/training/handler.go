// Package training serves pipeline runs and the documents they produce.
package training

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/liliang-cn/ragsession/internal/api/apierr"
	"github.com/liliang-cn/ragsession/internal/domain"
	"github.com/liliang-cn/ragsession/internal/service"
)

// Handler handles training API requests
type Handler struct {
	trainingService *service.TrainingService
	adminService    *service.AdminService
}

// NewHandler creates a new training handler
func NewHandler(trainingService *service.TrainingService, adminService *service.AdminService) *Handler {
	return &Handler{
		trainingService: trainingService,
		adminService:    adminService,
	}
}

// RegisterRoutes registers training routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/sessions/:id/runs", h.Run)
	r.GET("/sessions/:id/runs", h.ListRuns)
	r.GET("/documents/:id", h.GetDocument)
	r.GET("/documents/:id/citations/rendered", h.RenderCitations)
}

// Run executes the pipeline for a session
func (h *Handler) Run(c *gin.Context) {
	var req domain.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.SessionID = c.Param("id")

	result, err := h.trainingService.Run(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		apierr.Write(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ListRuns lists the recorded runs of a session
func (h *Handler) ListRuns(c *gin.Context) {
	runs, err := h.adminService.ListRuns(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Write(c, err)
		return
	}
	if runs == nil {
		runs = []*domain.SessionRun{}
	}

	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// GetDocument returns a generated document and its citations
func (h *Handler) GetDocument(c *gin.Context) {
	doc, err := h.adminService.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Write(c, err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

// RenderCitations returns the document's sources as labeled plain text
func (h *Handler) RenderCitations(c *gin.Context) {
	text, err := h.adminService.RenderCitations(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Write(c, err)
		return
	}

	c.String(http.StatusOK, text)
}
