package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zachkp/zach-dev-api/internal/localstore"
)

type recordingReporter struct {
	mu    sync.Mutex
	views []PageView
	err   error
}

func (r *recordingReporter) Report(_ context.Context, v PageView) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
	return r.err
}

func newTestTracker(t *testing.T, reporter Reporter) (*Tracker, *localstore.AnalyticsStore) {
	t.Helper()
	kv, err := localstore.OpenSQLiteKV(":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	analytics := localstore.NewAnalyticsStore(kv, time.UTC)
	tr := New(analytics, localstore.NewSessions(time.Hour), reporter)
	tr.now = func() time.Time { return time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC) }
	return tr, analytics
}

func TestTrackPageView_Records(t *testing.T) {
	rep := &recordingReporter{}
	tr, analytics := newTestTracker(t, rep)

	assert.True(t, tr.TrackPageView("s1", PageView{Path: "/about", UserAgent: "ua", ClientIP: "8.8.8.8"}))
	tr.Wait()

	state := analytics.Read()
	require.Len(t, state.Records, 1)
	rec := state.Records[0]
	assert.Equal(t, "/about", rec.Path)
	assert.Equal(t, localstore.DirectReferrer, rec.Referrer)
	assert.Equal(t, "2026-10-16", rec.Date)
	assert.Equal(t, 14, rec.Hour)
	assert.Equal(t, 1, state.TotalViews)
	assert.Equal(t, 1, state.DailyViews["2026-10-16"])
	assert.Equal(t, 1, state.PageViews["/about"])

	require.Len(t, rep.views, 1)
	assert.Equal(t, "8.8.8.8", rep.views[0].ClientIP)
}

func TestTrackPageView_SamePathIsSkipped(t *testing.T) {
	rep := &recordingReporter{}
	tr, analytics := newTestTracker(t, rep)

	assert.True(t, tr.TrackPageView("s1", PageView{Path: "/"}))
	assert.False(t, tr.TrackPageView("s1", PageView{Path: "/"}))
	assert.True(t, tr.TrackPageView("s2", PageView{Path: "/"}), "other sessions count")
	assert.True(t, tr.TrackPageView("s1", PageView{Path: "/blog"}))
	assert.True(t, tr.TrackPageView("s1", PageView{Path: "/"}), "only the immediately previous path dedups")
	tr.Wait()

	assert.Equal(t, 4, analytics.Read().TotalViews)
	assert.Len(t, rep.views, 4, "skipped views are not forwarded")
}

func TestTrackPageView_ForwardErrorsAreSwallowed(t *testing.T) {
	tr, analytics := newTestTracker(t, &recordingReporter{err: errors.New("down")})

	assert.True(t, tr.TrackPageView("s1", PageView{Path: "/"}))
	tr.Wait()
	assert.Equal(t, 1, analytics.Read().TotalViews)
}

func TestTrackPageView_NoReporter(t *testing.T) {
	tr, analytics := newTestTracker(t, nil)
	assert.True(t, tr.TrackPageView("s1", PageView{Path: "/"}))
	assert.Equal(t, 1, analytics.Read().TotalViews)
}

func TestHTTPReporter(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "1.2.3.4", r.Header.Get("X-Forwarded-For"))
		assert.Equal(t, "Mozilla/5.0", r.Header.Get("User-Agent"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	err := NewHTTPReporter(srv.URL, srv.Client()).Report(context.Background(),
		PageView{Path: "/x", Referrer: "https://example.com", UserAgent: "Mozilla/5.0", ClientIP: "1.2.3.4"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"path": "/x", "referrer": "https://example.com"}, got)
}

func TestHTTPReporter_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPReporter(srv.URL, srv.Client()).Report(context.Background(), PageView{Path: "/"})
	assert.Error(t, err)
}
