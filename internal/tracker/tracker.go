// Package tracker records page views locally and forwards them to the
// track-visit endpoint.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Zachkp/zach-dev-api/internal/localstore"
	"github.com/Zachkp/zach-dev-api/internal/records"
)

const reportTimeout = 10 * time.Second

// PageView is one page load by a visitor.
type PageView struct {
	Path      string `json:"path"`
	Referrer  string `json:"referrer"`
	UserAgent string `json:"-"`
	ClientIP  string `json:"-"`
}

// Reporter forwards a page view somewhere else.
type Reporter interface {
	Report(ctx context.Context, v PageView) error
}

// Tracker deduplicates views per session and keeps the local aggregate.
type Tracker struct {
	analytics *localstore.AnalyticsStore
	sessions  *localstore.Sessions
	reporter  Reporter
	now       func() time.Time

	mu sync.Mutex
	wg sync.WaitGroup
}

// New creates a tracker. reporter may be nil to disable forwarding.
func New(analytics *localstore.AnalyticsStore, sessions *localstore.Sessions, reporter Reporter) *Tracker {
	return &Tracker{analytics: analytics, sessions: sessions, reporter: reporter, now: time.Now}
}

// TrackPageView records v for the session unless the session's last view
// was the same path. It reports whether the view was counted.
func (t *Tracker) TrackPageView(sessionID string, v PageView) bool {
	if v.Path == "" {
		v.Path = "/"
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.sessions.Get(sessionID, localstore.SessionLastPageView); ok && last == v.Path {
		return false
	}

	state := t.analytics.Read()
	if state == nil {
		return false
	}

	now := t.now()
	loc := t.analytics.Location()
	referrer := v.Referrer
	if referrer == "" {
		referrer = localstore.DirectReferrer
	}
	ts := records.ISOTime(now)

	state.Add(localstore.PageRecord{
		Timestamp: ts,
		Date:      records.DateKey(now, loc),
		Path:      v.Path,
		Referrer:  referrer,
		UserAgent: v.UserAgent,
		Hour:      now.In(loc).Hour(),
	})
	t.analytics.Write(state)

	t.sessions.Set(sessionID, localstore.SessionLastPageView, v.Path)
	t.sessions.Set(sessionID, localstore.SessionLastViewTime, ts)

	t.analytics.CleanupIfNeeded(now)

	if t.reporter != nil {
		t.wg.Add(1)
		go t.report(v)
	}
	return true
}

func (t *Tracker) report(v PageView) {
	defer t.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	if err := t.reporter.Report(ctx, v); err != nil {
		slog.Debug("Visit forward failed", "path", v.Path, "error", err)
	}
}

// Wait blocks until pending forwards finish.
func (t *Tracker) Wait() {
	t.wg.Wait()
}
