// Package http serves the cointraq pages and JSON API.
package http

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"cointraq/internal/auth"
	"cointraq/internal/core"
	"cointraq/internal/log"
	"cointraq/internal/middleware/ratelimit"
	"cointraq/internal/middleware/security"
	"cointraq/internal/middleware/trace"
	"cointraq/internal/ports"
	"cointraq/internal/services"
	appweb "cointraq/web"
)

// Deps are the collaborators the server is built from.
type Deps struct {
	Auth         ports.Authenticator
	Transactions *services.TransactionService
	Dashboard    *services.DashboardService
	Sessions     *auth.Sessions
	Logger       *log.Logger
	// RateLimit overrides the default write throttling.
	RateLimit *ratelimit.Config
}

type Server struct {
	http.Server
	templates    *template.Template
	auth         ports.Authenticator
	transactions *services.TransactionService
	dashboard    *services.DashboardService
	sessions     *auth.Sessions
	logger       *log.Logger

	detector        *security.Detector
	rateLimiter     *ratelimit.Limiter
	traceMiddleware *trace.Middleware
	started         time.Time
	shutdownOnce    sync.Once
}

// NewServer configures routes, middleware and templates, returning a
// ready-to-run server.
func NewServer(addr string, deps Deps) (*Server, error) {
	if deps.Auth == nil || deps.Transactions == nil || deps.Dashboard == nil || deps.Sessions == nil {
		return nil, fmt.Errorf("http server: missing dependency")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}

	t, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	rlConfig := ratelimit.DefaultConfig()
	if deps.RateLimit != nil {
		rlConfig = *deps.RateLimit
	}

	s := &Server{
		templates:    t,
		auth:         deps.Auth,
		transactions: deps.Transactions,
		dashboard:    deps.Dashboard,
		sessions:     deps.Sessions,
		logger:       logger.WithComponent(log.ComponentHTTP),
		detector:     security.NewDetector(logger),
		rateLimiter:  ratelimit.NewLimiter(rlConfig),
		started:      time.Now(),
	}
	s.traceMiddleware = trace.NewMiddleware(logger, s.detector.ExtractClientIP)

	mux := http.NewServeMux()
	if err := s.routes(mux); err != nil {
		s.rateLimiter.Stop()
		return nil, err
	}

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limit := s.rateLimiter.Middleware(s.detector.ExtractClientIP, s.handleRateLimited)

	var handler http.Handler = mux
	handler = limit(handler)
	handler = headers.Middleware(handler)
	handler = s.detector.Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}
	return s, nil
}

func (s *Server) routes(mux *http.ServeMux) error {
	sub, err := fs.Sub(appweb.StaticFS, "static")
	if err != nil {
		return fmt.Errorf("mount static assets: %w", err)
	}
	static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
	mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))

	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Pages
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("POST /login", s.handleLoginForm)
	mux.HandleFunc("GET /register", s.handleRegisterPage)
	mux.HandleFunc("POST /register", s.handleRegisterForm)
	mux.HandleFunc("POST /logout", s.handleLogoutForm)
	mux.Handle("GET /dashboard", s.requirePage(s.handleDashboard))
	for _, kind := range core.Kinds() {
		mux.Handle("GET /"+kind.String(), s.requirePage(s.handleListPage(kind)))
		mux.Handle("POST /"+kind.String(), s.requirePage(s.handleCreateForm(kind)))
	}
	mux.Handle("GET /transaction/{id}/edit", s.requirePage(s.handleEditPage))
	mux.Handle("POST /transaction/{id}/edit", s.requirePage(s.handleEditForm))
	mux.Handle("POST /transaction/{id}/delete", s.requirePage(s.handleDeleteForm))

	// JSON API, mirroring the remote TransactionStore routes.
	mux.HandleFunc("POST /api/register", s.handleAPIRegister)
	mux.HandleFunc("POST /api/login", s.handleAPILogin)
	mux.HandleFunc("POST /api/logout", s.handleAPILogout)
	mux.HandleFunc("GET /api/authStatus", s.handleAPIAuthStatus)
	mux.Handle("GET /api/getUser", s.requireAPI(s.handleAPIGetUser))
	mux.Handle("GET /api/dashboard", s.requireAPI(s.handleAPIDashboard))
	mux.Handle("GET /api/transaction/{kind}", s.requireAPI(s.handleAPIList))
	mux.Handle("POST /api/transaction/{kind}", s.requireAPI(s.handleAPICreate))
	mux.Handle("PUT /api/transaction/edit/{id}", s.requireAPI(s.handleAPIUpdate))
	mux.Handle("DELETE /api/transaction/delete/{id}", s.requireAPI(s.handleAPIDelete))
	return nil
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldComponent, log.ComponentRateLimit,
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	if isAPI(r) {
		writeJSON(w, http.StatusTooManyRequests, message{Msg: "Rate limit exceeded. Please try again later."})
		return
	}
	http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
}

// handleHealth performs a liveness check and reports request counters.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	tm := s.traceMiddleware.GetMetrics()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
		"uptime":              time.Since(s.started).Round(time.Second).String(),
		"requests_total":      tm.TotalRequests,
		"server_errors_total": tm.ServerErrors,
		"rate_limit":          s.rateLimiter.GetMetrics(),
		"suspicious_requests": s.detector.SuspiciousRequests(),
	})
}
