// Package api implements the record endpoints under /api. Every endpoint
// answers CORS preflights, rejects other methods with 405 and replies with
// a JSON envelope.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Zachkp/zach-dev-api/internal/filter"
	"github.com/Zachkp/zach-dev-api/internal/geo"
	"github.com/Zachkp/zach-dev-api/internal/notify"
	"github.com/Zachkp/zach-dev-api/internal/records"
)

const errNoToken = "GitHub token not configured"

// Options wires a Server.
type Options struct {
	Repo     *records.Repository
	Filter   *filter.Engine
	Geo      *geo.Resolver
	Notifier notify.Notifier
	Auth     *Auth // Nil locks the admin-only routes

	// CanWrite is false when the store has no credential.
	CanWrite      bool
	DeploySubpath string

	RateLimitRPS   float64
	RateLimitBurst int
}

// Server holds the endpoint dependencies.
type Server struct {
	repo     *records.Repository
	filter   *filter.Engine
	geo      *geo.Resolver
	notifier notify.Notifier
	auth     *Auth
	canWrite bool
	subpath  string
	limit    gin.HandlerFunc
	now      func() time.Time
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.Auth == nil {
		opts.Auth = NewAuth("", "")
	}
	return &Server{
		repo:     opts.Repo,
		filter:   opts.Filter,
		geo:      opts.Geo,
		notifier: opts.Notifier,
		auth:     opts.Auth,
		canWrite: opts.CanWrite,
		subpath:  opts.DeploySubpath,
		limit:    RateLimit(opts.RateLimitRPS, opts.RateLimitBurst),
		now:      time.Now,
	}
}

type access int

const (
	public access = iota
	limited
	adminOnly
)

// Register mounts the endpoints on r.
func (s *Server) Register(r gin.IRouter) {
	api := r.Group("/api")

	s.route(api, "/track-visit", http.MethodPost, limited, s.trackVisit)
	s.route(api, "/log-blocked", http.MethodPost, limited, s.logBlocked)
	s.route(api, "/create-issue", http.MethodPost, limited, s.createIssue)
	s.route(api, "/close-issue", http.MethodPost, adminOnly, s.closeIssue)
	s.route(api, "/delete-issue", http.MethodPost, adminOnly, s.deleteIssue)
	s.route(api, "/update-config", http.MethodPost, adminOnly, s.updateConfig)

	s.route(api, "/get-issues", http.MethodGet, adminOnly, s.getIssues)
	s.route(api, "/get-blocked", http.MethodGet, adminOnly, s.getBlocked)
	s.route(api, "/get-visits", http.MethodGet, adminOnly, s.getVisits)
	s.route(api, "/get-config", http.MethodGet, public, s.getConfig)
}

func (s *Server) route(g *gin.RouterGroup, path, method string, a access, h gin.HandlerFunc) {
	chain := []gin.HandlerFunc{cors(method)}
	switch a {
	case limited:
		if s.limit != nil {
			chain = append(chain, s.limit)
		}
	case adminOnly:
		chain = append(chain, s.auth.Middleware())
	}
	g.Any(path, append(chain, h)...)
}

// cors sets the CORS headers, answers preflights and rejects any method
// other than allowed.
func cors(allowed string) gin.HandlerFunc {
	methods := allowed + ", OPTIONS"
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", methods)
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		switch c.Request.Method {
		case http.MethodOptions:
			c.AbortWithStatus(http.StatusOK)
		case allowed:
			c.Next()
		default:
			c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
		}
	}
}

func userAgent(c *gin.Context) string {
	if ua := c.GetHeader("User-Agent"); ua != "" {
		return ua
	}
	return records.UnknownAddress
}
