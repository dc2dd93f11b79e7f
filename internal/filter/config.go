package filter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Zachkp/zach-dev-api/internal/localstore"
	"github.com/Zachkp/zach-dev-api/internal/records"
)

const refreshTimeout = 10 * time.Second

// ConfigSource provides the current system configuration.
type ConfigSource interface {
	FetchConfig(ctx context.Context) (records.SystemConfig, error)
}

// Config returns the system configuration. A cached value younger than
// the TTL is returned as is. Otherwise the source is asked; when that
// fails the stale cache is used, and without one the defaults.
func (e *Engine) Config(ctx context.Context) records.SystemConfig {
	cached, at, ok := e.cached()
	if ok && e.now().Sub(at) < e.ttl {
		return cached
	}

	cfg, err := e.Refresh(ctx)
	if err == nil {
		return cfg
	}
	slog.Warn("Failed to refresh system config", "error", err)
	if ok {
		return cached
	}
	return records.DefaultConfig()
}

// Refresh fetches the configuration from the source and stores it.
// Concurrent refreshes share a single fetch.
func (e *Engine) Refresh(ctx context.Context) (records.SystemConfig, error) {
	if e.source == nil {
		return records.SystemConfig{}, errors.New("no config source")
	}
	v, err, _ := e.group.Do("config", func() (any, error) {
		cfg, err := e.source.FetchConfig(ctx)
		if err != nil {
			return nil, err
		}
		e.Apply(cfg)
		return cfg, nil
	})
	if err != nil {
		return records.SystemConfig{}, err
	}
	return v.(records.SystemConfig), nil
}

// RefreshAsync refreshes the configuration in the background.
func (e *Engine) RefreshAsync() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if _, err := e.Refresh(ctx); err != nil {
			slog.Debug("Background config refresh failed", "error", err)
		}
	}()
}

// Apply caches cfg as freshly fetched and syncs the rules and the switch.
func (e *Engine) Apply(cfg records.SystemConfig) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	if err := e.kv.Set(localstore.KeyConfigCache, string(data)); err != nil {
		slog.Error("Failed to cache system config", "error", err)
		return
	}
	stamp := strconv.FormatInt(e.now().UnixMilli(), 10)
	if err := e.kv.Set(localstore.KeyConfigCacheTime, stamp); err != nil {
		slog.Error("Failed to cache system config", "error", err)
	}

	e.mu.Lock()
	e.SaveFilters(cfg.Filters)
	e.SetEnabled(cfg.FilterEnabled)
	e.mu.Unlock()
}

// Invalidate marks the cached configuration stale.
func (e *Engine) Invalidate() {
	if err := e.kv.Remove(localstore.KeyConfigCacheTime); err != nil {
		slog.Error("Failed to invalidate config cache", "error", err)
	}
}

func (e *Engine) cached() (records.SystemConfig, time.Time, bool) {
	raw, ok, err := e.kv.Get(localstore.KeyConfigCache)
	if err != nil || !ok {
		return records.SystemConfig{}, time.Time{}, false
	}
	var cfg records.SystemConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return records.SystemConfig{}, time.Time{}, false
	}

	var at time.Time
	if stamp, ok, err := e.kv.Get(localstore.KeyConfigCacheTime); err == nil && ok {
		if ms, err := strconv.ParseInt(stamp, 10, 64); err == nil {
			at = time.UnixMilli(ms)
		}
	}
	return cfg, at, true
}

// RemoteSource reads the configuration from a get-config endpoint.
type RemoteSource struct {
	url    string
	client *http.Client
}

// NewRemoteSource creates a source for the endpoint at url.
func NewRemoteSource(url string, client *http.Client) *RemoteSource {
	if client == nil {
		client = &http.Client{Timeout: refreshTimeout}
	}
	return &RemoteSource{url: url, client: client}
}

type configResponse struct {
	Success bool                  `json:"success"`
	Config  *records.SystemConfig `json:"config"`
	Error   string                `json:"error"`
}

// FetchConfig implements ConfigSource.
func (s *RemoteSource) FetchConfig(ctx context.Context) (records.SystemConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return records.SystemConfig{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return records.SystemConfig{}, fmt.Errorf("fetching config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return records.SystemConfig{}, fmt.Errorf("config endpoint returned status %d", resp.StatusCode)
	}

	var body configResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return records.SystemConfig{}, fmt.Errorf("decoding config: %w", err)
	}
	if !body.Success || body.Config == nil {
		return records.SystemConfig{}, fmt.Errorf("config endpoint failed: %s", body.Error)
	}
	return *body.Config, nil
}
