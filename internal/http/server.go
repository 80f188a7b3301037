package http

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mockdash/internal/core"
	"mockdash/internal/identity"
	applog "mockdash/internal/log"
	"mockdash/internal/middleware/ratelimit"
	"mockdash/internal/middleware/security"
	"mockdash/internal/middleware/trace"
	"mockdash/internal/services"
	appweb "mockdash/web"
)

// ReadyCheck is one dependency probed by /readyz.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options configures the dashboard HTTP server.
type Options struct {
	Addr          string
	Dashboard     *services.Dashboard
	Tokens        *identity.TokenService
	Logger        *applog.Logger
	SecureCookies bool
	Locale        string

	CountRefreshInterval time.Duration
	FeedRefreshBuffer    time.Duration
	AmountPushInterval   time.Duration

	ReadyChecks []ReadyCheck
	RateLimit   ratelimit.Config

	// Presence tracks active tabs for /metrics. Optional.
	Presence *identity.Presence
	// Events adds a profile's recent events to /api/dashboard. Optional.
	Events     EventLister
	EventLimit int
}

// EventLister reads a profile's recorded dashboard events, newest first.
type EventLister interface {
	ListEvents(ctx context.Context, profileID string, limit int) ([]core.DashboardEvent, error)
}

type Server struct {
	http.Server
	templates *template.Template
	dashboard *services.Dashboard
	logger    *applog.Logger
	opts      Options

	detector    *security.Detector
	rateLimiter *ratelimit.Limiter
	tracer      *trace.Middleware
	upgrader    websocket.Upgrader

	metrics *appMetrics

	// closing ends websocket push loops, which Shutdown does not track.
	closing      chan struct{}
	shutdownOnce sync.Once
}

// NewServer parses the embedded templates and wires routes and middleware.
func NewServer(opts Options) (*Server, error) {
	if opts.Dashboard == nil {
		return nil, fmt.Errorf("dashboard is required")
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("token service is required")
	}
	if opts.Logger == nil {
		opts.Logger = applog.New(applog.DefaultConfig())
	}
	if opts.Locale == "" {
		opts.Locale = "en"
	}
	if opts.CountRefreshInterval <= 0 {
		opts.CountRefreshInterval = time.Minute
	}
	if opts.FeedRefreshBuffer < 0 {
		opts.FeedRefreshBuffer = 0
	}
	if opts.AmountPushInterval <= 0 {
		opts.AmountPushInterval = 2 * time.Second
	}
	if opts.EventLimit <= 0 {
		opts.EventLimit = 20
	}

	t, err := template.ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	logger := opts.Logger.WithComponent(applog.ComponentHTTP)
	detector := security.NewDetector()

	s := &Server{
		templates:   t,
		dashboard:   opts.Dashboard,
		logger:      logger,
		opts:        opts,
		detector:    detector,
		rateLimiter: ratelimit.NewLimiter(opts.RateLimit),
		tracer:      trace.NewMiddleware(opts.Logger, detector.ExtractClientIP),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		metrics: newAppMetrics(),
		closing: make(chan struct{}),
	}
	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	app := http.NewServeMux()
	app.HandleFunc("GET /ui/load", s.handleLoad)
	app.HandleFunc("GET /ui/amounts", s.handleAmounts)
	app.HandleFunc("POST /amounts/refresh", s.handleForceIncrement)
	app.HandleFunc("POST /amounts/toggle", s.handleToggleMask)
	app.HandleFunc("GET /ui/counts", s.handleCounts)
	app.HandleFunc("GET /ui/feed", s.handleFeed)
	app.HandleFunc("GET /api/dashboard", s.handleAPIDashboard)
	app.Handle("GET /ws/amounts", applog.ComponentMiddleware(applog.ComponentWebsocket)(http.HandlerFunc(s.handleAmountsSocket)))

	var dashboard http.Handler = app
	dashboard = s.trackPresence(dashboard)
	dashboard = security.NoStore(dashboard)
	dashboard = s.rateLimiter.Middleware(s.rateLimitKey, http.MethodPost)(dashboard)
	dashboard = identity.Middleware(s.opts.Tokens, s.opts.SecureCookies)(dashboard)

	mux := http.NewServeMux()
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", applog.FieldError, err)
	}
	mux.Handle("GET /{$}", security.NoStore(http.HandlerFunc(s.handleIndex)))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.Handle("/", dashboard)

	var h http.Handler = mux
	h = s.detector.Middleware(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = applog.ComponentMiddleware(applog.ComponentHTTP)(h)
	h = applog.RequestIDMiddleware(trace.RequestIDFromRequest)(h)
	h = applog.Middleware(s.opts.Logger)(h)
	h = s.tracer.Middleware(h)
	return h
}

func (s *Server) trackPresence(next http.Handler) http.Handler {
	if s.opts.Presence == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if scope, ok := identity.ScopeFromContext(r.Context()); ok {
			s.opts.Presence.Touch(scope.SessionID)
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitKey limits per profile, falling back to the client address for
// requests that somehow reach the limiter without one.
func (s *Server) rateLimitKey(r *http.Request) string {
	if scope, ok := identity.ScopeFromContext(r.Context()); ok {
		return "profile:" + scope.ProfileID
	}
	return "ip:" + s.detector.ExtractClientIP(r)
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		close(s.closing)
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}
