// Package arenastub is an in-process sandbox of the arena competition API.
//
// It serves the six /v1 endpoints the agent consumes, computes NAV from a fixed
// price table, validates decisions with the arena's routing rules and absorbs
// repeated submissions that carry the same Idempotency-Key. It backs local
// runs (cmd/arena-stub) and end-to-end pipeline tests.
package arenastub

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/arena-agent/internal/domain"
)

// Asset is a tradeable asset with its sandbox USD price
type Asset struct {
	Info     domain.AssetInfo
	PriceUSD float64
}

// Config holds sandbox settings. Zero values fall back to defaults.
type Config struct {
	Port            int
	Token           string
	SchemaVersion   int
	IntervalSeconds int
	RelaxedRoutes   bool
	Assets          []Asset
	StartBalances   []domain.Balance
	Now             func() time.Time
	Log             zerolog.Logger
}

// ValidateHook overrides validation. Returning nil falls through to the built-in rules.
type ValidateHook func(agentID string, decision *domain.Decision) *domain.ValidationResult

// Submission is one accepted decision as recorded by the sandbox
type Submission struct {
	Key      string
	AgentID  string
	Decision domain.Decision
	Result   domain.SubmissionResult
}

// Server is the sandbox arena
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    Config
	log    zerolog.Logger

	mu          sync.Mutex
	portfolios  map[string][]domain.Balance
	submissions map[string]*Submission
	order       []string
	calls       []string
	hook        ValidateHook
	seq         int
}

// DefaultAssets returns the base currencies plus three subnet tokens
func DefaultAssets() []Asset {
	subnet := func(id int) *int { return &id }
	return []Asset{
		{Info: domain.AssetInfo{AssetID: domain.AssetUSD, Name: "US Dollar"}, PriceUSD: 1},
		{Info: domain.AssetInfo{AssetID: domain.AssetTAO, Name: "Bittensor"}, PriceUSD: 400},
		{Info: domain.AssetInfo{AssetID: "ALPHA_1", Name: "Apex", SubnetID: subnet(1)}, PriceUSD: 4},
		{Info: domain.AssetInfo{AssetID: "ALPHA_8", Name: "Proprietary Trading Network", SubnetID: subnet(8)}, PriceUSD: 12},
		{Info: domain.AssetInfo{AssetID: "ALPHA_64", Name: "Chutes", SubnetID: subnet(64)}, PriceUSD: 30},
	}
}

// New creates a sandbox server
func New(cfg Config) *Server {
	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = domain.SchemaVersion
	}
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = 900
	}
	if len(cfg.Assets) == 0 {
		cfg.Assets = DefaultAssets()
	}
	if len(cfg.StartBalances) == 0 {
		cfg.StartBalances = []domain.Balance{{Asset: domain.AssetUSD, Amount: 1000}}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{
		router:      chi.NewRouter(),
		cfg:         cfg,
		log:         cfg.Log.With().Str("component", "arena_stub").Logger(),
		portfolios:  make(map[string][]domain.Balance),
		submissions: make(map[string]*Submission),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/version", s.handleVersion)
		r.Get("/game/clock", s.handleClock)
		r.Get("/game/assets", s.handleAssets)
		r.Route("/agents/{agentID}", func(r chi.Router) {
			r.Get("/portfolio", s.handlePortfolio)
			r.Post("/validate", s.handleValidate)
			r.Post("/submissions", s.handleSubmit)
		})
	})
}

// Handler exposes the router, e.g. for httptest servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on the configured port until Shutdown
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting arena sandbox")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down arena sandbox")
	return s.server.Shutdown(ctx)
}

// SetValidateHook installs a validation override
func (s *Server) SetValidateHook(hook ValidateHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// SetBalances replaces an agent's portfolio
func (s *Server) SetBalances(agentID string, balances []domain.Balance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.portfolios[agentID] = append([]domain.Balance(nil), balances...)
}

// Calls returns "METHOD /path" for every authenticated API request, in order.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Submissions returns accepted submissions in arrival order
func (s *Server) Submissions() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Submission, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, *s.submissions[key])
	}
	return out
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, r.Method+" "+r.URL.Path)
		s.mu.Unlock()

		if s.cfg.Token != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token != s.cfg.Token {
				s.writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
