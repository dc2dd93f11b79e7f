package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Zachkp/zach-dev-api/internal/filter"
	"github.com/Zachkp/zach-dev-api/internal/geo"
	"github.com/Zachkp/zach-dev-api/internal/notify"
	"github.com/Zachkp/zach-dev-api/internal/records"
)

func (s *Server) locate(c *gin.Context, ip string) geo.Location {
	if s.geo == nil {
		return geo.UnknownLocation()
	}
	return s.geo.Lookup(c.Request.Context(), ip)
}

type trackVisitRequest struct {
	Path     string `json:"path"`
	Referrer string `json:"referrer"`
}

// POST /api/track-visit
func (s *Server) trackVisit(c *gin.Context) {
	var req trackVisitRequest
	_ = c.ShouldBindJSON(&req)

	if !s.canWrite {
		c.JSON(http.StatusOK, gin.H{"success": true, "tracked": false, "message": errNoToken})
		return
	}

	ip := ClientIP(c.Request)
	loc := s.locate(c, ip)
	now := s.now()

	v := records.VisitRecord{
		Timestamp: records.ISOTime(now),
		Date:      records.DateKey(now, time.UTC),
		Path:      orDefault(req.Path, "/"),
		Referrer:  orDefault(req.Referrer, records.DirectReferrer),
		IP:        ip,
		Country:   loc.Country,
		Region:    loc.Region,
		City:      loc.City,
		UserAgent: userAgent(c),
	}

	issue, err := s.repo.CreateVisit(c.Request.Context(), v, now)
	if err != nil {
		slog.Warn("Failed to track visit", "client", HashIP(ip), "error", err)
		c.JSON(http.StatusOK, gin.H{"success": true, "tracked": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"tracked":     true,
		"issueNumber": issue.Number,
		"country":     loc.Country,
		"region":      loc.Region,
		"city":        loc.City,
	})
}

type logBlockedRequest struct {
	Path    string `json:"path"`
	Name    string `json:"name"`
	Message string `json:"message"`
	Matches any    `json:"matches"`
}

// matchWords extracts the non-empty "word" of every match object and
// ignores anything else.
func matchWords(matches any) []string {
	list, ok := matches.([]any)
	if !ok {
		return nil
	}
	var words []string
	for _, m := range list {
		obj, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if w, ok := obj["word"].(string); ok && w != "" {
			words = append(words, w)
		}
	}
	return words
}

// POST /api/log-blocked
func (s *Server) logBlocked(c *gin.Context) {
	var req logBlockedRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing message"})
		return
	}

	if !s.canWrite {
		c.JSON(http.StatusOK, gin.H{"success": true, "logged": false, "message": errNoToken})
		return
	}

	ip := ClientIP(c.Request)
	loc := s.locate(c, ip)
	now := s.now()

	rec := records.BlockedContentRecord{
		Timestamp:    records.ISOTime(now),
		Page:         orDefault(req.Path, "/"),
		Name:         orDefault(req.Name, records.NotProvided),
		MatchedWords: matchWords(req.Matches),
		IP:           ip,
		Country:      loc.Country,
		Region:       loc.Region,
		City:         loc.City,
		UserAgent:    userAgent(c),
		Message:      req.Message,
	}

	issue, err := s.repo.CreateBlocked(c.Request.Context(), rec, now)
	if err != nil {
		slog.Warn("Failed to log blocked content", "client", HashIP(ip), "error", err)
		c.JSON(http.StatusOK, gin.H{"success": true, "logged": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"logged":      true,
		"issueNumber": issue.Number,
		"issueUrl":    issue.HTMLURL,
	})
}

type createIssueRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// POST /api/create-issue
func (s *Server) createIssue(c *gin.Context) {
	var req createIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" || req.Email == "" || req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}

	if !s.canWrite {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errNoToken})
		return
	}

	ctx := c.Request.Context()
	if s.filter != nil {
		cfg := s.filter.Config(ctx)
		if !cfg.WhisperEnabled {
			c.JSON(http.StatusForbidden, gin.H{"error": "Whisper box is disabled"})
			return
		}
		if result := s.filter.Detect(req.Message); result.Detected {
			s.rejectMessage(c, req, result)
			return
		}
	}

	now := s.now()
	issue, err := s.repo.CreateMessage(ctx, records.MessageRecord{
		Name:      req.Name,
		Email:     req.Email,
		Message:   req.Message,
		Timestamp: s.repo.MessageTime(now),
	})
	if err != nil {
		slog.Error("Failed to create message", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if s.notifier != nil {
		go s.notify(notify.Message{Name: req.Name, Email: req.Email, Body: req.Message, IssueURL: issue.HTMLURL})
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"issueNumber": issue.Number,
		"issueUrl":    issue.HTMLURL,
	})
}

// rejectMessage answers a filtered submission and records it locally and
// in the store. Recording failures only get logged.
func (s *Server) rejectMessage(c *gin.Context, req createIssueRequest, result filter.Result) {
	ip := ClientIP(c.Request)
	page := orDefault(c.GetHeader("Referer"), "/")

	s.filter.RecordBlock(result.Matches[0].Category)
	s.filter.LogBlocked(filter.LogEntry{Page: page, Name: req.Name, Message: req.Message, Matches: result.Matches})

	loc := s.locate(c, ip)
	now := s.now()
	_, err := s.repo.CreateBlocked(c.Request.Context(), records.BlockedContentRecord{
		Timestamp:    records.ISOTime(now),
		Page:         page,
		Name:         req.Name,
		MatchedWords: result.Words(),
		IP:           ip,
		Country:      loc.Country,
		Region:       loc.Region,
		City:         loc.City,
		UserAgent:    userAgent(c),
		Message:      req.Message,
	}, now)
	if err != nil {
		slog.Warn("Failed to record blocked message", "error", err)
	}

	slog.Info("Message blocked by content filter", "client", HashIP(ip), "words", strings.Join(result.Words(), ","))
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Message contains blocked content",
		"blocked": true,
		"matches": result.Matches,
	})
}

func (s *Server) notify(m notify.Message) {
	if err := s.notifier.NotifyMessage(m); err != nil {
		slog.Warn("Failed to send notification", "error", err)
	}
}

type issueNumberRequest struct {
	IssueNumber any `json:"issueNumber"`
}

// issueNumber accepts a JSON number or a numeric string.
func issueNumber(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n >= 1 && n == float64(int(n)) {
			return int(n), true
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil && i >= 1 {
			return i, true
		}
	}
	return 0, false
}

func (s *Server) bindIssueNumber(c *gin.Context) (int, bool) {
	var req issueNumberRequest
	_ = c.ShouldBindJSON(&req)
	n, ok := issueNumber(req.IssueNumber)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing issueNumber"})
		return 0, false
	}
	if !s.canWrite {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errNoToken})
		return 0, false
	}
	return n, true
}

// POST /api/close-issue
func (s *Server) closeIssue(c *gin.Context) {
	n, ok := s.bindIssueNumber(c)
	if !ok {
		return
	}

	issue, err := s.repo.CloseMessage(c.Request.Context(), n)
	if err != nil {
		slog.Error("Failed to close message", "issue", n, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "issueNumber": issue.Number, "state": issue.State})
}

// POST /api/delete-issue
func (s *Server) deleteIssue(c *gin.Context) {
	n, ok := s.bindIssueNumber(c)
	if !ok {
		return
	}

	issue, err := s.repo.DeleteMessage(c.Request.Context(), n)
	if err != nil {
		slog.Error("Failed to delete message", "issue", n, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"issueNumber": issue.Number,
		"state":       issue.State,
		"message":     "Issue 已成功刪除",
	})
}

type updateConfigRequest struct {
	WhisperEnabled *bool                `json:"whisperEnabled"`
	FilterEnabled  *bool                `json:"filterEnabled"`
	Filters        []records.FilterRule `json:"filters"`
}

// POST /api/update-config
func (s *Server) updateConfig(c *gin.Context) {
	var req updateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid config: " + err.Error()})
		return
	}

	if !s.canWrite {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errNoToken})
		return
	}

	cfg := records.SystemConfig{
		WhisperEnabled: req.WhisperEnabled == nil || *req.WhisperEnabled,
		FilterEnabled:  req.FilterEnabled == nil || *req.FilterEnabled,
		Filters:        req.Filters,
	}
	if cfg.Filters == nil {
		cfg.Filters = []records.FilterRule{}
	}

	number, created, err := s.repo.SaveConfig(c.Request.Context(), cfg)
	if err != nil {
		slog.Error("Failed to update config", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s.filter != nil {
		s.filter.Apply(cfg)
	}

	if created {
		c.JSON(http.StatusOK, gin.H{"success": true, "created": true, "issueNumber": number})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "updated": true, "issueNumber": number})
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
