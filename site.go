package main

import (
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Zachkp/zach-dev-api/internal/api"
	"github.com/Zachkp/zach-dev-api/internal/records"
	"github.com/Zachkp/zach-dev-api/internal/tracker"
)

const sessionCookie = "sid"

var skippedPrefixes = []string{"/api/", "/admin", "/static/", "/images/", "/favicon", "/assets/"}

var skippedExts = map[string]bool{
	".css": true, ".js": true, ".map": true, ".png": true, ".jpg": true, ".jpeg": true,
	".gif": true, ".svg": true, ".ico": true, ".webp": true, ".woff": true, ".woff2": true,
	".ttf": true, ".json": true, ".txt": true, ".xml": true,
}

// shouldTrack reports whether the request is a page view worth counting.
func shouldTrack(c *gin.Context) bool {
	if c.Request.Method != http.MethodGet {
		return false
	}
	// Respect Do Not Track header
	if c.GetHeader("DNT") == "1" {
		return false
	}
	p := c.Request.URL.Path
	for _, prefix := range skippedPrefixes {
		if strings.HasPrefix(p, prefix) {
			return false
		}
	}
	if skippedExts[strings.ToLower(path.Ext(p))] {
		return false
	}
	return !records.IsBot(c.GetHeader("User-Agent"))
}

// visitorTrackingMiddleware counts successful page loads per session.
func visitorTrackingMiddleware(tr *tracker.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !shouldTrack(c) {
			c.Next()
			return
		}

		sid, err := c.Cookie(sessionCookie)
		if err != nil || sid == "" {
			sid = uuid.NewString()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(sessionCookie, sid, 0, "/", "", false, true)
		}

		c.Next()

		if c.Writer.Status() != http.StatusOK {
			return
		}
		tr.TrackPageView(sid, tracker.PageView{
			Path:      c.Request.URL.Path,
			Referrer:  c.GetHeader("Referer"),
			UserAgent: c.GetHeader("User-Agent"),
			ClientIP:  api.ClientIP(c.Request),
		})
	}
}

// siteHandler serves the static site for unmatched GET requests.
func siteHandler(dir string) gin.HandlerFunc {
	files := http.FileServer(http.Dir(dir))
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		if strings.HasPrefix(c.Request.URL.Path, "/static/") {
			c.Header("Cache-Control", "public, max-age=86400")
		}
		files.ServeHTTP(c.Writer, c.Request)
	}
}
