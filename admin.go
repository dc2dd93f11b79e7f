// admin.go - privacy-conscious admin area over the local analytics cache
package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Zachkp/zach-dev-api/internal/api"
	"github.com/Zachkp/zach-dev-api/internal/filter"
	"github.com/Zachkp/zach-dev-api/internal/localstore"
)

const (
	adminCookieAge = 3600 * 24
	topPagesLimit  = 10
	chartDays      = 30
)

type AdminStats struct {
	Visitors    localstore.Stats       `json:"visitors"`
	TopPages    []localstore.PageCount `json:"topPages"`
	DailyChart  []localstore.DayCount  `json:"dailyChart"`
	Filter      filter.Stats           `json:"filter"`
	BlockedLog  []filter.LogEntry      `json:"blockedLog"`
	Sessions    int                    `json:"activeSessions"`
	GeneratedAt string                 `json:"generatedAt"`
}

func (a *app) adminStats(now time.Time) AdminStats {
	return AdminStats{
		Visitors:    a.analytics.Stats(now),
		TopPages:    a.analytics.TopPages(topPagesLimit),
		DailyChart:  a.analytics.DailyViewsForChart(now, chartDays),
		Filter:      a.filter.Stats(),
		BlockedLog:  a.filter.BlockedLog(),
		Sessions:    a.sessions.Len(),
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}
}

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// Setup all admin routes
func setupAdminRoutes(r *gin.Engine, a *app) {
	if !a.auth.Enabled() {
		slog.Warn("ADMIN_PASSWORD not set; admin login disabled")
	}
	if gin.Mode() == gin.DebugMode {
		slog.Info("Admin token (dev only)", "token", a.auth.Token())
	}

	r.POST("/admin/login", func(c *gin.Context) {
		var req loginRequest
		_ = c.ShouldBind(&req)

		client := api.HashIP(api.ClientIP(c.Request))
		if !a.auth.Check(req.Username, req.Password) {
			slog.Warn("Failed admin login attempt", "client", client)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}

		// Set secure cookie (24 hours)
		c.SetSameSite(http.SameSiteStrictMode)
		c.SetCookie(api.AdminCookie, a.auth.Token(), adminCookieAge, "/", "", c.Request.TLS != nil, true)
		slog.Info("Admin login successful", "client", client)
		c.JSON(http.StatusOK, gin.H{"success": true, "token": a.auth.Token()})
	})

	r.GET("/admin/logout", func(c *gin.Context) {
		c.SetCookie(api.AdminCookie, "", -1, "/", "", c.Request.TLS != nil, true)
		slog.Info("Admin logout", "client", api.HashIP(api.ClientIP(c.Request)))
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	// Protected admin routes group
	adminGroup := r.Group("/admin")
	adminGroup.Use(a.auth.Middleware())
	setupFilterRoutes(adminGroup, a)

	adminGroup.GET("/api/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.adminStats(time.Now()))
	})

	adminGroup.POST("/api/cleanup", func(c *gin.Context) {
		a.analytics.CleanupOldRecords(time.Now())
		pruned := a.sessions.Prune()
		slog.Info("Admin cleanup", "client", api.HashIP(api.ClientIP(c.Request)), "sessions", pruned)
		c.JSON(http.StatusOK, gin.H{"success": true, "prunedSessions": pruned})
	})

	adminGroup.POST("/api/reset", func(c *gin.Context) {
		a.analytics.Reset()
		a.filter.ResetStats()
		slog.Info("Local analytics reset", "client", api.HashIP(api.ClientIP(c.Request)))
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	// Admin statistics export (for backups or analysis)
	adminGroup.GET("/export/stats", func(c *gin.Context) {
		data, err := a.analytics.ExportJSON()
		if err != nil {
			slog.Error("Failed to export stats", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		slog.Info("Admin stats exported", "client", api.HashIP(api.ClientIP(c.Request)))
		c.Header("Content-Disposition", "attachment; filename=admin-stats.json")
		c.Data(http.StatusOK, "application/json", data)
	})

	adminGroup.GET("/export/visits.csv", func(c *gin.Context) {
		data, err := a.analytics.ExportCSV()
		if err != nil {
			slog.Error("Failed to export visits", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.Header("Content-Disposition", "attachment; filename=analytics-"+time.Now().Format("2006-01-02")+".csv")
		c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(data))
	})
}
