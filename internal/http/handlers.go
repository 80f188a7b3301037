package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"mockdash/internal/core"
	"mockdash/internal/identity"
	applog "mockdash/internal/log"
	"mockdash/internal/services"
)

const requestTimeout = 7 * time.Second

type appMetrics struct {
	uptime        time.Time
	pageLoads     int64
	increments    int64
	toggles       int64
	feedRenders   int64
	socketClients int64
}

func newAppMetrics() *appMetrics {
	return &appMetrics{uptime: time.Now()}
}

type (
	countsData struct {
		services.CountsView
		RefreshSeconds int64
	}

	feedData struct {
		Items         []core.TransactionRecord
		RefreshMillis int64
	}

	indexData struct {
		Locale string
	}

	dashboardData struct {
		Amounts services.AmountsView
		Counts  countsData
		Feed    feedData
	}

	apiDashboard struct {
		services.Snapshot
		RecentEvents []core.DashboardEvent `json:"recent_events,omitempty"`
	}
)

func (s *Server) countsData(v services.CountsView) countsData {
	return countsData{CountsView: v, RefreshSeconds: int64(s.opts.CountRefreshInterval / time.Second)}
}

// feedData polls one buffer past the TTL so a forced refresh never races the
// server-side staleness check.
func (s *Server) feedData(b core.TransactionBatch) feedData {
	every := s.dashboard.FeedTTL() + s.opts.FeedRefreshBuffer
	return feedData{Items: b.Items, RefreshMillis: every.Milliseconds()}
}

func (s *Server) scope(w http.ResponseWriter, r *http.Request) (core.Scope, bool) {
	scope, ok := identity.ScopeFromContext(r.Context())
	if !ok {
		s.logger.ErrorContext(r.Context(), "Request reached handler without scope", applog.FieldPath, r.URL.Path)
		http.Error(w, "missing session", http.StatusInternalServerError)
		return core.Scope{}, false
	}
	return scope, true
}

// render executes name into a buffer first so a template failure still
// produces a clean error response.
func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		applog.NewStructuredLogger(applog.FromContext(r.Context())).LogError(r.Context(),
			"Template execution failed", err, applog.ComponentTemplate, applog.OpRender,
			applog.NewFields().WithHTTPRequest(r.Method, r.URL.Path, "", "", ""))
		s.renderError(w, r, http.StatusInternalServerError, "Something went wrong")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, "error", msg); err != nil {
		s.logger.ErrorContext(r.Context(), "Error template failed", applog.FieldError, err)
	}
}

// fail logs err for op and answers with an HTML error fragment.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, scope core.Scope, err error) {
	fields := applog.NewFields().WithScope(scope.ProfileID, scope.SessionID)
	applog.NewStructuredLogger(applog.FromContext(r.Context())).LogError(r.Context(),
		"Dashboard operation failed", err, applog.ComponentDashboard, op, fields)

	status := http.StatusInternalServerError
	msg := "Could not load dashboard data"
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
		msg = "Storage timed out"
	}
	s.renderError(w, r, status, msg)
}

// handleIndex renders the page shell. The shell loads the dashboard through
// /ui/load once the tab's session token is attached to requests.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "index.html", indexData{Locale: s.opts.Locale})
}

// handleLoad runs the page-load sequence and renders the dashboard body.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	snap, err := s.dashboard.Load(ctx, scope)
	if err != nil {
		s.fail(w, r, applog.OpLoad, scope, err)
		return
	}
	atomic.AddInt64(&s.metrics.pageLoads, 1)
	if snap.Incremented {
		applog.NewStructuredLogger(applog.FromContext(r.Context())).LogBalancesChanged(r.Context(),
			applog.OpLoad, scope.ProfileID, snap.Amounts.Balances.Airtime, snap.Amounts.Balances.Commission)
	}

	s.render(w, r, "dashboard", dashboardData{
		Amounts: snap.Amounts,
		Counts:  s.countsData(snap.Counts),
		Feed:    s.feedData(snap.Feed),
	})
}

func (s *Server) handleAmounts(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	view, err := s.dashboard.Amounts(ctx, scope)
	if err != nil {
		s.fail(w, r, applog.OpLoad, scope, err)
		return
	}
	s.render(w, r, "amounts", view)
}

// handleForceIncrement is the manual refresh action: both balances grow by
// one step regardless of the session guard.
func (s *Server) handleForceIncrement(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	view, err := s.dashboard.ForceIncrement(ctx, scope)
	if err != nil {
		s.fail(w, r, applog.OpIncrement, scope, err)
		return
	}
	atomic.AddInt64(&s.metrics.increments, 1)
	applog.NewStructuredLogger(applog.FromContext(r.Context())).LogBalancesChanged(r.Context(),
		applog.OpIncrement, scope.ProfileID, view.Balances.Airtime, view.Balances.Commission)
	s.render(w, r, "amounts", view)
}

func (s *Server) handleToggleMask(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	view, err := s.dashboard.ToggleMask(ctx, scope)
	if err != nil {
		s.fail(w, r, applog.OpToggle, scope, err)
		return
	}
	atomic.AddInt64(&s.metrics.toggles, 1)
	applog.FromContext(r.Context()).DebugContext(r.Context(), "Mask toggled",
		applog.FieldProfileID, scope.ProfileID,
		applog.FieldMasked, view.Masked)
	s.render(w, r, "amounts", view)
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	view, err := s.dashboard.Counts(ctx, scope)
	if err != nil {
		s.fail(w, r, applog.OpCount, scope, err)
		return
	}
	s.render(w, r, "counts", s.countsData(view))
}

// handleFeed renders the transaction list; force=1 regenerates it.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	force := r.URL.Query().Get("force") == "1"
	batch, err := s.dashboard.Feed(ctx, scope, force)
	if err != nil {
		s.fail(w, r, applog.OpFeed, scope, err)
		return
	}
	atomic.AddInt64(&s.metrics.feedRenders, 1)
	s.render(w, r, "feed", s.feedData(batch))
}

// handleAPIDashboard returns the current state as JSON without running the
// page-load increment. When an event store is configured the profile's most
// recent events are included; failing to read them only drops the field.
func (s *Server) handleAPIDashboard(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var (
		snap services.Snapshot
		err  error
	)
	if snap.Amounts, err = s.dashboard.Amounts(ctx, scope); err == nil {
		if snap.Counts, err = s.dashboard.Counts(ctx, scope); err == nil {
			snap.Feed, err = s.dashboard.Feed(ctx, scope, false)
		}
	}
	if err != nil {
		applog.NewStructuredLogger(applog.FromContext(r.Context())).LogError(r.Context(),
			"Dashboard snapshot failed", err, applog.ComponentDashboard, applog.OpLoad,
			applog.NewFields().WithScope(scope.ProfileID, scope.SessionID))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "snapshot unavailable"})
		return
	}

	resp := apiDashboard{Snapshot: snap}
	if s.opts.Events != nil {
		events, err := s.opts.Events.ListEvents(ctx, scope.ProfileID, s.opts.EventLimit)
		if err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Failed to list recent events",
				applog.FieldProfileID, scope.ProfileID,
				applog.FieldError, err)
		}
		resp.RecentEvents = events
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.metrics.uptime).String(),
	})
}

// handleReady performs readiness check with dependency verification
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]string, len(s.opts.ReadyChecks))

	for _, c := range s.opts.ReadyChecks {
		if err := c.Check(ctx); err != nil {
			checks[c.Name] = fmt.Sprintf("failed: %v", err)
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
			continue
		}
		checks[c.Name] = "ok"
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	traceMetrics := s.tracer.GetMetrics()
	securityMetrics := s.detector.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	sessions := 0
	if s.opts.Presence != nil {
		sessions = s.opts.Presence.Active()
	}

	w.WriteHeader(http.StatusOK)
	counter := func(name, help string, v int64) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n\n", name, help, name, name, v)
	}
	gauge := func(name, help string, v float64) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n\n", name, help, name, name, v)
	}

	counter("http_requests_total", "Total number of HTTP requests", traceMetrics.TotalRequests)
	counter("http_errors_total", "Total number of 5xx responses", traceMetrics.TotalErrors)
	gauge("http_average_response_seconds", "Mean response time", traceMetrics.AverageResponseTime().Seconds())
	counter("page_loads_total", "Total dashboard page loads", atomic.LoadInt64(&s.metrics.pageLoads))
	counter("balance_increments_total", "Total manual balance increments", atomic.LoadInt64(&s.metrics.increments))
	counter("mask_toggles_total", "Total mask toggles", atomic.LoadInt64(&s.metrics.toggles))
	counter("feed_renders_total", "Total feed partial renders", atomic.LoadInt64(&s.metrics.feedRenders))
	gauge("websocket_clients", "Connected live amount clients", float64(atomic.LoadInt64(&s.metrics.socketClients)))
	gauge("sessions", "Browser tabs active within the session idle window", float64(sessions))
	counter("rate_limit_hits_total", "Total rate limit hits", rateLimitMetrics.TotalHits)
	gauge("active_rate_limit_clients", "Currently tracked rate limit clients", float64(rateLimitMetrics.ClientCount))
	counter("suspicious_requests_total", "Total suspicious requests detected", securityMetrics.SuspiciousRequests)
	gauge("uptime_seconds", "Application uptime in seconds", time.Since(s.metrics.uptime).Seconds())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
