package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/prreview/internal/activity"
	"github.com/dshills/prreview/internal/broadcast"
	"github.com/dshills/prreview/internal/github"
	"github.com/dshills/prreview/internal/pipeline"
	"github.com/dshills/prreview/internal/pulls"
	"github.com/dshills/prreview/internal/settings"
)

// Analyzer starts analyses and reports their results.
type Analyzer interface {
	RequestFor(owner, repo string, number int) pipeline.Request
	Submit(req pipeline.Request) error
	Result(ref pipeline.PRRef) (pipeline.Result, bool)
	Stats() pipeline.Stats
}

// PullSource serves the pull request listing.
type PullSource interface {
	Sync(ctx context.Context, force bool) ([]pulls.PullRequest, error)
	List(ctx context.Context, q pulls.Query) (pulls.Page, error)
	Find(ctx context.Context, id int64) (pulls.PullRequest, bool, error)
	Counts(ctx context.Context) (pulls.Counts, error)
}

// EventLog lists activity events.
type EventLog interface {
	List(typ string, limit int) []activity.Event
	Recent(n int) []activity.Event
}

// Account is the GitHub identity the dashboard manages.
type Account interface {
	SetToken(token string)
	ListRepositories(ctx context.Context) ([]github.Repository, error)
}

// Deps are the components the HTTP surface reads and drives.
type Deps struct {
	Pipeline Analyzer
	Pulls    PullSource
	Events   EventLog
	Settings *settings.Store
	GitHub   Account
	// Webhook and Push serve /webhook and /ws.
	Webhook http.Handler
	Push    http.Handler
	// BroadcastStats is optional.
	BroadcastStats func() broadcast.Stats
}

// Options configure a Server.
type Options struct {
	Addr            string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
	Logger          *zap.Logger
}

// DefaultAddr is used when Options.Addr is empty.
const DefaultAddr = ":3000"

const defaultShutdownTimeout = 15 * time.Second

// Server is the dashboard and webhook HTTP server.
type Server struct {
	deps Deps
	opts Options
	log  *zap.Logger
}

// New creates a server.
func New(deps Deps, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{deps: deps, opts: opts, log: log}
}

// Handler returns the routed handler with CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.deps.Webhook != nil {
		mux.Handle("POST /webhook", s.deps.Webhook)
	}
	if s.deps.Push != nil {
		mux.Handle("GET /ws", s.deps.Push)
	}

	mux.HandleFunc("GET /api", s.handleIndex)
	mux.HandleFunc("GET /api/{$}", s.handleIndex)
	mux.HandleFunc("GET /api/prs", s.handleListPulls)
	mux.HandleFunc("GET /api/prs/{id}", s.handleGetPull)
	mux.HandleFunc("POST /api/prs/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/prs/{owner}/{repo}/{number}/analysis", s.handleGetAnalysis)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", s.handlePutSettings)
	mux.HandleFunc("GET /api/repositories", s.handleRepositories)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	return s.logRequests(enableCORS(s.opts.AllowedOrigins, mux))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("server listening", zap.String("addr", ln.Addr().String()))
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errc
	return nil
}

// enableCORS answers preflight requests and sets the CORS headers for
// allowed dashboard origins. An empty list allows any origin.
func enableCORS(allowed []string, next http.Handler) http.Handler {
	allowAll := len(allowed) == 0
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
		if o == "*" {
			allowAll = true
		}
		set[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && set[strings.ToLower(origin)]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
