package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zachkp/zach-dev-api/internal/filter"
	"github.com/Zachkp/zach-dev-api/internal/geo"
	"github.com/Zachkp/zach-dev-api/internal/issues"
	"github.com/Zachkp/zach-dev-api/internal/localstore"
	"github.com/Zachkp/zach-dev-api/internal/records"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixedLocator struct{ loc geo.Location }

func (f fixedLocator) Locate(context.Context, string) (geo.Location, error) { return f.loc, nil }

// failingStore fails every call.
type failingStore struct{}

var errStoreDown = &issues.APIError{Status: 401, Message: "Bad credentials"}

func (failingStore) Create(context.Context, issues.NewIssue) (*issues.Issue, error) {
	return nil, errStoreDown
}
func (failingStore) Get(context.Context, int) (*issues.Issue, error) { return nil, errStoreDown }
func (failingStore) Update(context.Context, int, issues.Patch) (*issues.Issue, error) {
	return nil, errStoreDown
}
func (failingStore) List(context.Context, issues.ListOptions) ([]*issues.Issue, error) {
	return nil, errStoreDown
}

type testEnv struct {
	router *gin.Engine
	server *Server
	filter *filter.Engine
	store  issues.Store
	token  string
}

type envOption func(*Options)

func withStore(st issues.Store) envOption {
	return func(o *Options) { o.Repo = records.NewRepository(st, time.UTC) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	store, err := issues.OpenSQLiteStore(":memory:", "https://example.test/repo")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	kv, err := localstore.OpenSQLiteKV(":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	o := Options{
		Repo:     records.NewRepository(store, time.UTC),
		Geo:      geo.NewResolver(fixedLocator{geo.Location{Country: "Taiwan", Region: "Taipei", City: "Taipei"}}, time.Second),
		Auth:     NewAuth("admin", "secret"),
		CanWrite: true,
	}
	for _, fn := range opts {
		fn(&o)
	}
	o.Filter = filter.NewEngine(kv, o.Repo, filter.Options{})

	srv := New(o)
	r := gin.New()
	require.NoError(t, r.SetTrustedProxies(nil))
	srv.Register(r)
	return &testEnv{router: r, server: srv, filter: o.Filter, store: store, token: srv.auth.Token()}
}

// do sends an admin-authenticated request; explicit headers override the
// bearer token.
func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	return e.send(t, e.request(t, method, path, body, append([]string{"Authorization", "Bearer " + e.token}, headers...)...))
}

// anon sends a request without credentials.
func (e *testEnv) anon(t *testing.T, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	return e.send(t, e.request(t, method, path, body, headers...))
}

func (e *testEnv) request(t *testing.T, method, path string, body any, headers ...string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return req
}

func (e *testEnv) send(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func TestCORSAndMethods(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodOptions, "/api/track-visit", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))

	w, body := env.do(t, http.MethodGet, "/api/track-visit", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "Method not allowed", body["error"])

	w, _ = env.do(t, http.MethodPost, "/api/get-config", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestTrackVisitThenGetVisits(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/api/track-visit",
		map[string]string{"path": "/index.html"},
		"X-Forwarded-For", "8.8.8.8, 10.0.0.1",
		"User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["tracked"])
	assert.Equal(t, float64(1), body["issueNumber"])
	assert.Equal(t, "Taiwan", body["country"])

	w, body = env.do(t, http.MethodGet, "/api/get-visits", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["totalViews"])
	assert.Equal(t, float64(1), body["todayViews"])
	assert.Equal(t, map[string]any{"/": float64(1)}, body["pageViews"])
	assert.Equal(t, map[string]any{"Taiwan": float64(1)}, body["countryStats"])
	assert.Equal(t, map[string]any{"Chrome": float64(1)}, body["browserStats"])
	assert.Len(t, body["hourDistribution"], 24)

	visits := body["visits"].([]any)
	require.Len(t, visits, 1)
	visit := visits[0].(map[string]any)
	assert.Equal(t, "8.8.8.8", visit["ip"])
	assert.Equal(t, records.DirectReferrer, visit["referrer"])
}

func TestTrackVisit_NoCredential(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.CanWrite = false })

	w, body := env.do(t, http.MethodPost, "/api/track-visit", map[string]string{"path": "/"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["tracked"])
	assert.Equal(t, errNoToken, body["message"])
}

func TestStoreFailures(t *testing.T) {
	env := newTestEnv(t, withStore(failingStore{}))

	w, body := env.do(t, http.MethodPost, "/api/track-visit", map[string]string{"path": "/"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["tracked"])
	assert.Equal(t, "Bad credentials", body["error"])

	w, body = env.do(t, http.MethodPost, "/api/log-blocked", map[string]string{"message": "x"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["logged"])

	w, body = env.do(t, http.MethodGet, "/api/get-visits", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["degraded"])
	assert.Equal(t, float64(0), body["totalViews"])

	w, body = env.do(t, http.MethodGet, "/api/get-config", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["config"].(map[string]any)["whisperEnabled"])

	w, body = env.do(t, http.MethodGet, "/api/get-issues", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Bad credentials", body["error"])

	w, _ = env.do(t, http.MethodGet, "/api/get-blocked", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/close-issue", map[string]int{"issueNumber": 1})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestLogBlocked(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/api/log-blocked", map[string]string{"path": "/"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing message", body["error"])

	w, body = env.do(t, http.MethodPost, "/api/log-blocked", map[string]any{
		"path":    "/whisper",
		"message": "這是垃圾廣告",
		"matches": []any{map[string]any{"word": "垃圾"}, map[string]any{"word": "廣告"}, "junk", map[string]any{}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["logged"])
	assert.Equal(t, "https://example.test/repo/issues/1", body["issueUrl"])

	issue, err := env.store.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Contains(t, issue.Title, "（垃圾、廣告）")

	w, body = env.do(t, http.MethodGet, "/api/get-blocked", nil)
	require.Equal(t, http.StatusOK, w.Code)
	logs := body["logs"].([]any)
	require.Len(t, logs, 1)
	entry := logs[0].(map[string]any)
	assert.Equal(t, "垃圾、廣告", entry["words"])
	assert.Equal(t, records.NotProvided, entry["name"])
	assert.Equal(t, "這是垃圾廣告", entry["message"])
}

func TestLogBlocked_NoCredential(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.CanWrite = false })

	w, body := env.do(t, http.MethodPost, "/api/log-blocked", map[string]string{"message": "x"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["logged"])
}

func TestMessageLifecycle(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/api/create-issue", map[string]string{"name": "Ann"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing required fields", body["error"])

	w, body = env.do(t, http.MethodPost, "/api/create-issue",
		map[string]string{"name": "Ann", "email": "ann@example.com", "message": "hello\nthere"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["issueNumber"])

	w, body = env.do(t, http.MethodGet, "/api/get-issues", nil)
	require.Equal(t, http.StatusOK, w.Code)
	messages := body["messages"].([]any)
	require.Len(t, messages, 1)
	msg := messages[0].(map[string]any)
	assert.Equal(t, "Ann", msg["name"])
	assert.Equal(t, "hello\nthere", msg["message"])
	assert.Equal(t, false, msg["read"])

	w, body = env.do(t, http.MethodPost, "/api/close-issue", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing issueNumber", body["error"])

	w, body = env.do(t, http.MethodPost, "/api/close-issue", map[string]string{"issueNumber": "1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, issues.StateClosed, body["state"])

	_, body = env.do(t, http.MethodGet, "/api/get-issues", nil)
	assert.Equal(t, true, body["messages"].([]any)[0].(map[string]any)["read"])

	w, body = env.do(t, http.MethodPost, "/api/delete-issue", map[string]int{"issueNumber": 1})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Issue 已成功刪除", body["message"])

	issue, err := env.store.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, records.DeletedTitle, issue.Title)
	assert.Equal(t, records.DeletedBody, issue.Body)

	w, _ = env.do(t, http.MethodPost, "/api/delete-issue", map[string]int{"issueNumber": 42})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCreateIssue_NoCredential(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.CanWrite = false })

	w, body := env.do(t, http.MethodPost, "/api/create-issue",
		map[string]string{"name": "a", "email": "b", "message": "c"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, errNoToken, body["error"])

	w, _ = env.do(t, http.MethodPost, "/api/update-config", map[string]any{})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCreateIssue_Blocked(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/api/create-issue",
		map[string]string{"name": "Spammer", "email": "s@example.com", "message": "免費垃圾廣告"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, true, body["blocked"])
	assert.Len(t, body["matches"], 2)

	assert.Equal(t, 1, env.filter.Stats().TotalBlocked)
	require.Len(t, env.filter.BlockedLog(), 1)

	blocked, err := env.server.repo.ListBlocked(context.Background())
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, []string{"垃圾", "廣告"}, blocked[0].MatchedWords)

	msgs, err := env.server.repo.ListMessages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, msgs, "blocked messages are not stored")
}

func TestUpdateConfigThenGetConfig(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/api/get-config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cfg := body["config"].(map[string]any)
	assert.Equal(t, true, cfg["whisperEnabled"])
	assert.Len(t, cfg["filters"], 3)

	w, body = env.do(t, http.MethodPost, "/api/update-config", map[string]any{
		"whisperEnabled": false,
		"filters":        []map[string]any{{"id": 1, "word": "casino", "category": "spam", "enabled": true}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["created"])
	number := body["issueNumber"]

	w, body = env.do(t, http.MethodPost, "/api/update-config", map[string]any{"whisperEnabled": false, "filterEnabled": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["updated"])
	assert.Equal(t, number, body["issueNumber"])

	_, body = env.do(t, http.MethodGet, "/api/get-config", nil)
	cfg = body["config"].(map[string]any)
	assert.Equal(t, false, cfg["whisperEnabled"])
	assert.Equal(t, false, cfg["filterEnabled"])
	assert.Equal(t, []any{}, cfg["filters"])

	w, body = env.do(t, http.MethodPost, "/api/create-issue",
		map[string]string{"name": "a", "email": "b", "message": "c"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NotEmpty(t, body["error"])
}

func TestUpdateConfig_InvalidBody(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.do(t, http.MethodPost, "/api/update-config", map[string]any{"filters": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminAuth(t *testing.T) {
	auth := NewAuth("admin", "secret")
	env := newTestEnv(t, func(o *Options) { o.Auth = auth })

	w, body := env.anon(t, http.MethodGet, "/api/get-issues", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, body["error"])

	w, _ = env.do(t, http.MethodGet, "/api/get-issues", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = env.anon(t, http.MethodGet, "/api/get-issues", nil, "Authorization", "Bearer "+auth.Token())
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.anon(t, http.MethodGet, "/api/get-issues", nil, "Cookie", AdminCookie+"="+auth.Token())
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.anon(t, http.MethodGet, "/api/get-config", nil)
	assert.Equal(t, http.StatusOK, w.Code, "config stays public")

	w, _ = env.anon(t, http.MethodOptions, "/api/get-issues", nil)
	assert.Equal(t, http.StatusOK, w.Code, "preflights skip auth")

	assert.True(t, auth.Check("admin", "secret"))
	assert.False(t, auth.Check("admin", "nope"))
}

func TestAdminAuth_NoPasswordStaysLocked(t *testing.T) {
	tests := []struct {
		name string
		auth *Auth
	}{
		{"empty password", NewAuth("admin", "")},
		{"no guard configured", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(o *Options) { o.Auth = tt.auth })

			for _, r := range []struct{ method, path string }{
				{http.MethodGet, "/api/get-issues"},
				{http.MethodGet, "/api/get-blocked"},
				{http.MethodGet, "/api/get-visits"},
				{http.MethodPost, "/api/close-issue"},
				{http.MethodPost, "/api/delete-issue"},
				{http.MethodPost, "/api/update-config"},
			} {
				w, _ := env.anon(t, r.method, r.path, map[string]any{"issueNumber": 1})
				assert.Equal(t, http.StatusUnauthorized, w.Code, r.path)
			}

			w, _ := env.anon(t, http.MethodGet, "/api/get-issues", nil, "Authorization", "Bearer ")
			assert.Equal(t, http.StatusUnauthorized, w.Code)

			w, _ = env.do(t, http.MethodGet, "/api/get-issues", nil)
			assert.Equal(t, http.StatusOK, w.Code, "the generated token still works")
		})
	}

	assert.False(t, NewAuth("admin", "").Enabled())
	assert.False(t, NewAuth("admin", "").Check("admin", ""))
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.RateLimitRPS = 0.001
		o.RateLimitBurst = 1
	})

	post := func(remote, forwarded string) int {
		req := env.request(t, http.MethodPost, "/api/track-visit", map[string]string{}, "X-Forwarded-For", forwarded)
		req.RemoteAddr = remote
		w, _ := env.send(t, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, post("203.0.113.7:4000", "8.8.8.8"))
	for _, forged := range []string{"9.9.9.9", "1.1.1.1", "8.8.8.8, 10.0.0.1"} {
		assert.Equal(t, http.StatusTooManyRequests, post("203.0.113.7:4001", forged),
			"rotating the forwarded header does not reset the limit")
	}
	assert.Equal(t, http.StatusOK, post("203.0.113.8:4000", "8.8.8.8"), "limits are per peer")

	w, _ := env.anon(t, http.MethodGet, "/api/get-config", nil)
	assert.Equal(t, http.StatusOK, w.Code, "reads are not limited")
}

func TestRateLimit_TrustedProxy(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.RateLimitRPS = 0.001
		o.RateLimitBurst = 1
	})
	r := gin.New()
	require.NoError(t, r.SetTrustedProxies([]string{"10.0.0.0/8"}))
	env.server.Register(r)
	env.router = r

	post := func(forwarded string) int {
		req := env.request(t, http.MethodPost, "/api/create-issue", map[string]string{}, "X-Forwarded-For", forwarded)
		req.RemoteAddr = "10.1.2.3:5000"
		w, _ := env.send(t, req)
		return w.Code
	}

	assert.Equal(t, http.StatusBadRequest, post("8.8.8.8"))
	assert.Equal(t, http.StatusTooManyRequests, post("8.8.8.8"))
	assert.Equal(t, http.StatusBadRequest, post("9.9.9.9"), "visitors behind a trusted proxy are limited separately")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"vercel first", map[string]string{"X-Vercel-Forwarded-For": "1.1.1.1", "X-Forwarded-For": "2.2.2.2"}, "", "1.1.1.1"},
		{"first forwarded hop", map[string]string{"X-Forwarded-For": " 2.2.2.2 , 10.0.0.1"}, "", "2.2.2.2"},
		{"real ip", map[string]string{"X-Real-IP": "3.3.3.3"}, "", "3.3.3.3"},
		{"socket", nil, "4.4.4.4:5555", "4.4.4.4"},
		{"mapped v6", nil, "[::ffff:5.5.5.5]:80", "5.5.5.5"},
		{"empty", nil, "", records.UnknownAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

func TestHashIP(t *testing.T) {
	assert.Len(t, HashIP("8.8.8.8"), 16)
	assert.Equal(t, HashIP("8.8.8.8"), HashIP("8.8.8.8"))
	assert.NotEqual(t, HashIP("8.8.8.8"), HashIP("8.8.4.4"))
}

func TestIssueNumber(t *testing.T) {
	for _, v := range []any{nil, "", "abc", float64(0), float64(1.5), "-2", true} {
		_, ok := issueNumber(v)
		assert.False(t, ok, "%v", v)
	}
	n, ok := issueNumber(float64(7))
	assert.True(t, ok)
	assert.Equal(t, 7, n)
}
