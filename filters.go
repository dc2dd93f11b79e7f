package main

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Zachkp/zach-dev-api/internal/filter"
	"github.com/Zachkp/zach-dev-api/internal/records"
)

type addFilterRequest struct {
	Word     string `json:"word"`
	Category string `json:"category"`
}

type filterSwitchRequest struct {
	Enabled *bool `json:"enabled"`
}

// persistFilters writes the local rules and switch over base and stores
// the result. base must be read before the local edit, since a stale cache
// refresh would overwrite the edited rules. Without a writable store the
// edit only lives in the local cache.
func (a *app) persistFilters(ctx context.Context, base records.SystemConfig) (bool, error) {
	cfg := base
	cfg.Filters = a.filter.Filters()
	cfg.FilterEnabled = a.filter.IsEnabled()

	if !a.cfg.CanWrite() {
		a.filter.Apply(cfg)
		return false, nil
	}
	if _, _, err := a.repo.SaveConfig(ctx, cfg); err != nil {
		// Next read refetches the stored rules
		a.filter.Invalidate()
		return false, err
	}
	a.filter.Apply(cfg)
	return true, nil
}

func (a *app) respondPersisted(c *gin.Context, base records.SystemConfig, extra gin.H) {
	persisted, err := a.persistFilters(c.Request.Context(), base)
	if err != nil {
		slog.Error("Failed to store filter rules", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := gin.H{"success": true, "persisted": persisted, "filters": a.filter.Filters()}
	for k, v := range extra {
		out[k] = v
	}
	c.JSON(http.StatusOK, out)
}

func filterID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filter id"})
		return 0, false
	}
	return id, true
}

// setupFilterRoutes lets the admin edit the content filter rules.
func setupFilterRoutes(g *gin.RouterGroup, a *app) {
	g.GET("/api/filters", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"enabled": a.filter.IsEnabled(),
			"filters": a.filter.Filters(),
			"stats":   a.filter.Stats(),
		})
	})

	g.POST("/api/filters", func(c *gin.Context) {
		var req addFilterRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Word) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing word"})
			return
		}
		base := a.filter.Config(c.Request.Context())
		id := a.filter.AddFilter(req.Word, req.Category)
		a.respondPersisted(c, base, gin.H{"id": id})
	})

	g.PATCH("/api/filters/:id", func(c *gin.Context) {
		id, ok := filterID(c)
		if !ok {
			return
		}
		var u filter.RuleUpdate
		if err := c.ShouldBindJSON(&u); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid rule update"})
			return
		}
		if u.Word != nil && strings.TrimSpace(*u.Word) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing word"})
			return
		}
		base := a.filter.Config(c.Request.Context())
		if !a.filter.UpdateFilter(id, u) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Filter not found"})
			return
		}
		a.respondPersisted(c, base, gin.H{"id": id})
	})

	g.DELETE("/api/filters/:id", func(c *gin.Context) {
		id, ok := filterID(c)
		if !ok {
			return
		}
		base := a.filter.Config(c.Request.Context())
		if !a.filter.RemoveFilter(id) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Filter not found"})
			return
		}
		a.respondPersisted(c, base, gin.H{"id": id})
	})

	g.PUT("/api/filters/enabled", func(c *gin.Context) {
		var req filterSwitchRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing enabled"})
			return
		}
		base := a.filter.Config(c.Request.Context())
		a.filter.SetEnabled(*req.Enabled)
		a.respondPersisted(c, base, gin.H{"enabled": *req.Enabled})
	})

	g.POST("/api/config/refresh", func(c *gin.Context) {
		a.filter.Invalidate()
		cfg, err := a.filter.Refresh(c.Request.Context())
		if err != nil {
			slog.Warn("Config refresh failed", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "config": cfg})
	})
}
