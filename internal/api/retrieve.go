package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Zachkp/zach-dev-api/internal/records"
)

// GET /api/get-issues
func (s *Server) getIssues(c *gin.Context) {
	messages, err := s.repo.ListMessages(c.Request.Context())
	if err != nil {
		slog.Error("Failed to list messages", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": messages})
}

// GET /api/get-blocked
func (s *Server) getBlocked(c *gin.Context) {
	logs, err := s.repo.ListBlocked(c.Request.Context())
	if err != nil {
		slog.Error("Failed to list blocked content", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "logs": logs})
}

type visitsResponse struct {
	Success  bool   `json:"success"`
	Degraded bool   `json:"degraded,omitempty"`
	Error    string `json:"error,omitempty"`
	records.VisitStats
}

// GET /api/get-visits
func (s *Server) getVisits(c *gin.Context) {
	visits, err := s.repo.ListVisits(c.Request.Context())
	if err != nil {
		slog.Warn("Failed to list visits, returning empty stats", "error", err)
		c.JSON(http.StatusOK, visitsResponse{
			Success:    true,
			Degraded:   true,
			Error:      err.Error(),
			VisitStats: records.EmptyVisitStats(),
		})
		return
	}

	stats := records.AggregateVisits(visits, s.now(), s.repo.Location(), s.subpath)
	c.JSON(http.StatusOK, visitsResponse{Success: true, VisitStats: stats})
}

// GET /api/get-config
func (s *Server) getConfig(c *gin.Context) {
	cfg, err := s.repo.LoadConfig(c.Request.Context())
	if err != nil {
		slog.Warn("Failed to load config, returning defaults", "error", err)
		cfg = records.DefaultConfig()
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "config": cfg})
}
