package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Zachkp/zach-dev-api/internal/api"
	"github.com/Zachkp/zach-dev-api/internal/config"
	"github.com/Zachkp/zach-dev-api/internal/filter"
	"github.com/Zachkp/zach-dev-api/internal/geo"
	"github.com/Zachkp/zach-dev-api/internal/issues"
	"github.com/Zachkp/zach-dev-api/internal/localstore"
	"github.com/Zachkp/zach-dev-api/internal/notify"
	"github.com/Zachkp/zach-dev-api/internal/records"
	"github.com/Zachkp/zach-dev-api/internal/tracker"
)

// app holds everything the routes need.
type app struct {
	cfg *config.Config

	repo      *records.Repository
	kv        *localstore.SQLiteKV
	analytics *localstore.AnalyticsStore
	sessions  *localstore.Sessions
	filter    *filter.Engine
	tracker   *tracker.Tracker
	auth      *api.Auth
	api       *api.Server

	closers []io.Closer
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	a.repo = records.NewRepository(store, loc)

	a.kv, err = localstore.OpenSQLiteKV(cfg.LocalDBPath, cfg.LocalQuotaBytes)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.kv)

	a.analytics = localstore.NewAnalyticsStore(a.kv, loc)
	a.sessions = localstore.NewSessions(cfg.SessionTTL)

	var source filter.ConfigSource = a.repo
	if cfg.ConfigEndpoint != "" {
		source = filter.NewRemoteSource(cfg.ConfigEndpoint, nil)
	}
	a.filter = filter.NewEngine(a.kv, source, filter.Options{})

	var reporter tracker.Reporter
	if cfg.TrackEndpoint != "" {
		reporter = tracker.NewHTTPReporter(cfg.TrackEndpoint, nil)
	}
	a.tracker = tracker.New(a.analytics, a.sessions, reporter)

	var notifier notify.Notifier
	if cfg.NotifyEnabled() {
		notifier = notify.NewMailer(notify.SMTPConfig{
			Host: cfg.SMTPHost,
			Port: cfg.SMTPPort,
			User: cfg.SMTPUser,
			Pass: cfg.SMTPPass,
			To:   cfg.ToEmail,
		})
	}

	a.auth = api.NewAuth(cfg.AdminUsername, cfg.AdminPassword)
	a.api = api.New(api.Options{
		Repo:           a.repo,
		Filter:         a.filter,
		Geo:            a.openGeo(),
		Notifier:       notifier,
		Auth:           a.auth,
		CanWrite:       cfg.CanWrite(),
		DeploySubpath:  cfg.DeploySubpath,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	return a, nil
}

func openStore(cfg *config.Config) (issues.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		slog.Info("Using sqlite issue store", "path", cfg.StoreDBPath)
		return issues.OpenSQLiteStore(cfg.StoreDBPath, "")
	default:
		slog.Info("Using GitHub issue store", "owner", cfg.GitHubOwner, "repo", cfg.GitHubRepo)
		return issues.NewGitHubStore(issues.GitHubOptions{
			Token:   cfg.GitHubToken,
			Owner:   cfg.GitHubOwner,
			Repo:    cfg.GitHubRepo,
			BaseURL: cfg.GitHubAPIURL,
		})
	}
}

// openGeo tries the offline database first and falls back to ip-api.
func (a *app) openGeo() *geo.Resolver {
	var chain geo.Chain
	if a.cfg.GeoIPDBPath != "" {
		mm, err := geo.OpenMaxMind(a.cfg.GeoIPDBPath, a.cfg.GeoIPLocale)
		if err != nil {
			slog.Warn("GeoIP database unavailable, using ip-api only", "error", err)
		} else {
			chain = append(chain, mm)
			a.closers = append(a.closers, mm)
		}
	}
	if a.cfg.GeoIPAPIURL != "" {
		chain = append(chain, geo.NewIPAPI(a.cfg.GeoIPAPIURL, &http.Client{Timeout: a.cfg.GeoIPTimeout}))
	}
	return geo.NewResolver(chain, a.cfg.GeoIPTimeout)
}

func (a *app) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.TrustedPlatform = a.cfg.TrustedPlatform
	if err := r.SetTrustedProxies(a.cfg.TrustedProxies); err != nil {
		slog.Warn("Invalid TRUSTED_PROXIES, trusting none", "error", err)
		_ = r.SetTrustedProxies(nil)
	}

	a.api.Register(r)
	setupAdminRoutes(r, a)

	r.NoRoute(visitorTrackingMiddleware(a.tracker), siteHandler(a.cfg.SiteDir))
	return r
}

// maintain prunes expired sessions and old local records until stop closes.
func (a *app) maintain(stop <-chan struct{}, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			if n := a.sessions.Prune(); n > 0 {
				slog.Debug("Pruned expired sessions", "count", n)
			}
			if a.analytics.CleanupIfNeeded(now) {
				slog.Info("Local analytics cleanup ran")
			}
		}
	}
}

// Close waits for pending forwards and releases the stores.
func (a *app) Close() error {
	if a.tracker != nil {
		a.tracker.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing app: %w", err)
	}
	return nil
}
