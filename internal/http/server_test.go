package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mockdash/internal/clock"
	"mockdash/internal/core"
	"mockdash/internal/identity"
	applog "mockdash/internal/log"
	"mockdash/internal/middleware/ratelimit"
	"mockdash/internal/services"
	"mockdash/internal/store/memory"
)

var codePattern = regexp.MustCompile(`data-code="(T[A-Z0-9]{9})"`)

type testEnv struct {
	srv   *Server
	clock *clock.Fake
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 5, 2, 0, 10, 0, 0, time.UTC))
	dash := services.NewDashboard(memory.New(), services.Options{
		Clock:     clk,
		Generator: services.NewSeededGenerator(11, clk),
	})
	opts := Options{
		Addr:               ":0",
		Dashboard:          dash,
		Tokens:             identity.NewTokenService("test-secret", time.Hour, 0),
		Logger:             applog.New(applog.Config{Level: applog.ParseLevel("error")}),
		AmountPushInterval: 20 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&opts)
	}
	srv, err := NewServer(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testEnv{srv: srv, clock: clk}
}

// browser keeps the cookies its tabs share.
type browser struct {
	t       *testing.T
	handler http.Handler
	cookies map[string]*http.Cookie
}

// tab keeps its own session token, as sessionStorage does.
type tab struct {
	*browser
	session string
}

func (e *testEnv) browser(t *testing.T) *browser {
	return &browser{t: t, handler: e.srv.Handler, cookies: map[string]*http.Cookie{}}
}

// tab opens a fresh tab in a new browser.
func (e *testEnv) tab(t *testing.T) *tab {
	return e.browser(t).newTab()
}

func (b *browser) newTab() *tab {
	return &tab{browser: b}
}

func (tb *tab) do(method, path string) *httptest.ResponseRecorder {
	tb.t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for _, c := range tb.cookies {
		req.AddCookie(c)
	}
	if tb.session != "" {
		req.Header.Set(identity.SessionHeader, tb.session)
	}
	rr := httptest.NewRecorder()
	tb.handler.ServeHTTP(rr, req)
	for _, c := range rr.Result().Cookies() {
		tb.cookies[c.Name] = c
	}
	if token := rr.Header().Get(identity.SessionHeader); token != "" {
		tb.session = token
	}
	return rr
}

// load is what the page shell requests once it is in the tab.
func (tb *tab) load() *httptest.ResponseRecorder {
	tb.t.Helper()
	return tb.do(http.MethodGet, "/ui/load")
}

func codes(body string) []string {
	var out []string
	for _, m := range codePattern.FindAllStringSubmatch(body, -1) {
		out = append(out, m[1])
	}
	return out
}

func TestIndexServesShell(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.tab(t).do(http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, `hx-get="/ui/load" hx-trigger="load"`)
	assert.Less(t, strings.Index(body, "/static/dash.js"), strings.Index(body, "htmx.org"),
		"the session header hook must be registered before htmx issues the load request")
	assert.Empty(t, rr.Result().Cookies())
	assert.Empty(t, rr.Header().Get(identity.SessionHeader))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
}

func TestLoadFreshTab(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.tab(t)

	rr := b.load()
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()

	assert.Contains(t, body, `id="airtimeAmount" class="value">2,568<`)
	assert.Contains(t, body, `id="commissionAmount" class="value">4,667<`)
	assert.Contains(t, body, `id="allCount" class="value">347<`)
	assert.Contains(t, body, `id="successCount" class="value">347<`)
	assert.Contains(t, body, "Good evening 🌙")
	assert.Len(t, codes(body), 10)
	assert.Contains(t, body, `hx-trigger="every 60s"`)
	assert.Contains(t, body, `hx-trigger="every 180000ms"`)
	assert.Contains(t, body, `data-ws="/ws/amounts"`)

	require.Contains(t, b.cookies, identity.ProfileCookie)
	assert.Positive(t, b.cookies[identity.ProfileCookie].MaxAge)
	assert.Len(t, b.cookies, 1)
	assert.NotEmpty(t, b.session)
}

func TestLoadIncrementsOncePerTab(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.browser(t)
	first := b.newTab()

	assert.Contains(t, first.load().Body.String(), ">2,568<")
	assert.Contains(t, first.load().Body.String(), ">2,568<", "a reload keeps the tab's session")

	second := b.newTab()
	rr := second.load()
	assert.Contains(t, rr.Body.String(), ">2,668<")
	assert.Contains(t, rr.Body.String(), ">4,767<")
	assert.Contains(t, second.load().Body.String(), ">2,668<")

	assert.Contains(t, first.load().Body.String(), ">2,668<")
	assert.NotEqual(t, first.session, second.session)
}

func TestLoadSessionOutlivesIdleTimeAndOtherTabs(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Presence = identity.NewPresence(2, time.Minute)
	})
	b := env.browser(t)
	first := b.newTab()
	first.load()

	for i := 0; i < 3; i++ {
		b.newTab().load()
	}
	env.clock.Advance(13 * time.Hour)

	assert.Contains(t, first.load().Body.String(), ">2,868<")
	assert.LessOrEqual(t, env.srv.opts.Presence.Active(), 2)
}

func TestProfilesAreIsolated(t *testing.T) {
	env := newTestEnv(t, nil)
	first := env.tab(t)
	second := env.tab(t)

	first.load()
	first.do(http.MethodPost, "/amounts/refresh")

	rr := second.load()
	assert.Contains(t, rr.Body.String(), ">2,568<")
}

func TestForceIncrementAndToggle(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.tab(t)
	b.load()

	for i := 0; i < 2; i++ {
		rr := b.do(http.MethodPost, "/amounts/refresh")
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := b.do(http.MethodGet, "/ui/amounts")
	assert.Contains(t, rr.Body.String(), ">2,768<")
	assert.Contains(t, rr.Body.String(), ">4,867<")
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	rr = b.do(http.MethodPost, "/amounts/toggle")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 2, strings.Count(rr.Body.String(), ">••••<"))
	assert.NotContains(t, rr.Body.String(), "2,768")

	rr = b.do(http.MethodPost, "/amounts/toggle")
	assert.Contains(t, rr.Body.String(), ">2,768<")
}

func TestFeedPartial(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.tab(t)

	first := codes(b.do(http.MethodGet, "/ui/feed").Body.String())
	require.Len(t, first, 10)

	env.clock.Advance(2 * time.Minute)
	again := codes(b.do(http.MethodGet, "/ui/feed").Body.String())
	assert.Equal(t, first, again)

	forced := codes(b.do(http.MethodGet, "/ui/feed?force=1").Body.String())
	require.Len(t, forced, 10)
	assert.NotEqual(t, first, forced)

	env.clock.Advance(3 * time.Minute)
	stale := codes(b.do(http.MethodGet, "/ui/feed").Body.String())
	require.Len(t, stale, 10)
	assert.NotEqual(t, forced, stale)
}

func TestFeedRowsShowAmountAndPhone(t *testing.T) {
	env := newTestEnv(t, nil)
	body := env.tab(t).do(http.MethodGet, "/ui/feed").Body.String()
	assert.Regexp(t, `KSh \d+ • \+2547\d{3}\.\.\.`, body)
}

func TestCountsPartial(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.tab(t)

	rr := b.do(http.MethodGet, "/ui/counts")
	assert.Contains(t, rr.Body.String(), ">347<")

	env.clock.Advance(61 * time.Minute)
	rr = b.do(http.MethodGet, "/ui/counts")
	assert.Contains(t, rr.Body.String(), ">387<")
}

func TestAPIDashboard(t *testing.T) {
	env := newTestEnv(t, nil)
	b := env.tab(t)

	rr := b.do(http.MethodGet, "/api/dashboard")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var snap services.Snapshot
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&snap))
	assert.False(t, snap.Incremented)
	assert.Equal(t, int64(2468), snap.Amounts.Balances.Airtime)
	assert.Equal(t, int64(347), snap.Counts.Count)
	assert.Len(t, snap.Feed.Items, 10)
}

type fakeEvents struct {
	events  []core.DashboardEvent
	err     error
	profile string
	limit   int
}

func (f *fakeEvents) ListEvents(_ context.Context, profileID string, limit int) ([]core.DashboardEvent, error) {
	f.profile, f.limit = profileID, limit
	return f.events, f.err
}

func TestAPIDashboardRecentEvents(t *testing.T) {
	events := &fakeEvents{events: []core.DashboardEvent{
		{ID: "ev-2", Type: core.EventForceIncrement, Airtime: 2568},
		{ID: "ev-1", Type: core.EventSessionIncrement, Airtime: 2468},
	}}
	env := newTestEnv(t, func(o *Options) {
		o.Events = events
		o.EventLimit = 5
	})
	b := env.tab(t)
	b.load()

	rr := b.do(http.MethodGet, "/api/dashboard")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		RecentEvents []core.DashboardEvent `json:"recent_events"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	require.Len(t, body.RecentEvents, 2)
	assert.Equal(t, "ev-2", body.RecentEvents[0].ID)
	assert.Equal(t, 5, events.limit)
	assert.NotEmpty(t, events.profile)
}

func TestAPIDashboardSurvivesEventStoreFailure(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Events = &fakeEvents{err: errors.New("database is locked")}
	})
	rr := env.tab(t).do(http.MethodGet, "/api/dashboard")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "recent_events")
}

func TestHandlerLogsCarryRequestIDAndComponent(t *testing.T) {
	var buf bytes.Buffer
	env := newTestEnv(t, func(o *Options) {
		o.Logger = applog.New(applog.Config{Handler: slog.NewTextHandler(&buf, nil)})
	})
	rr := env.tab(t).load()
	require.Equal(t, http.StatusOK, rr.Code)

	id := rr.Header().Get("X-Request-ID")
	require.NotEmpty(t, id)
	var line string
	for _, l := range strings.Split(buf.String(), "\n") {
		if strings.Contains(l, "Balances incremented") {
			line = l
		}
	}
	require.NotEmpty(t, line)
	assert.Contains(t, line, "request_id="+id)
	assert.Contains(t, line, "component=http")
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.tab(t).do(http.MethodGet, "/amounts/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHealthAndReady(t *testing.T) {
	healthy := newTestEnv(t, func(o *Options) {
		o.ReadyChecks = []ReadyCheck{{Name: "backend", Check: func(context.Context) error { return nil }}}
	})
	for _, path := range []string{"/healthz", "/readyz"} {
		rr := healthy.tab(t).do(http.MethodGet, path)
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}

	failing := newTestEnv(t, func(o *Options) {
		o.ReadyChecks = []ReadyCheck{{Name: "amqp", Check: func(context.Context) error { return errors.New("not connected") }}}
	})
	rr := failing.tab(t).do(http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "not_ready", body.Status)
	assert.Contains(t, body.Checks["amqp"], "not connected")
}

func TestProbesDoNotMintCookies(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.tab(t).do(http.MethodGet, "/healthz")
	assert.Empty(t, rr.Result().Cookies())
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.tab(t).do(http.MethodGet, "/")

	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Contains(t, rr.Header().Get("Content-Security-Policy"), "https://unpkg.com")
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestSuspiciousRequestBlocked(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.tab(t).do(http.MethodGet, "/wp-admin/setup.php")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStaticAssets(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.tab(t).do(http.MethodGet, "/static/dash.js")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Cache-Control"), "max-age=3600")
	assert.Contains(t, rr.Body.String(), "clipboard")
}

func TestRateLimitOnActions(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.RateLimit = ratelimit.Config{RequestsPerMinute: 2, CleanupInterval: time.Minute}
	})
	b := env.tab(t)
	b.load()

	assert.Equal(t, http.StatusOK, b.do(http.MethodPost, "/amounts/refresh").Code)
	assert.Equal(t, http.StatusOK, b.do(http.MethodPost, "/amounts/refresh").Code)
	rr := b.do(http.MethodPost, "/amounts/refresh")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	// Reads are never limited.
	assert.Equal(t, http.StatusOK, b.do(http.MethodGet, "/ui/amounts").Code)
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Presence = identity.NewPresence(10, time.Hour)
	})
	b := env.browser(t)
	first := b.newTab()
	first.load()
	b.newTab().load()

	rr := first.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "page_loads_total 2")
	assert.Contains(t, rr.Body.String(), "sessions 2")
}

func TestNewServerRequiresDashboard(t *testing.T) {
	_, err := NewServer(Options{Tokens: identity.NewTokenService("s", 0, 0)})
	assert.Error(t, err)
}
