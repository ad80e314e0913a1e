// ABOUTME: Gateway wires config into the orchestrator and serves the HTTP and WebSocket API
// ABOUTME: Owns component construction, route registration, and the server lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/2389/xeno-gateway/internal/auth"
	"github.com/2389/xeno-gateway/internal/config"
	"github.com/2389/xeno-gateway/internal/conversation"
	"github.com/2389/xeno-gateway/internal/dedupe"
	"github.com/2389/xeno-gateway/internal/generation"
	"github.com/2389/xeno-gateway/internal/profiles"
	"github.com/2389/xeno-gateway/internal/store"
	"github.com/2389/xeno-gateway/internal/tasks"
)

const shutdownTimeout = 5 * time.Second

// Gateway orchestrates the xeno-gateway server components.
type Gateway struct {
	config       *config.Config
	store        store.ConversationStore // nil when persistence is disabled
	knowledge    store.KnowledgeStore    // nil when the store has no knowledge graph
	recorder     *conversation.Recorder
	tasks        tasks.Store
	profiles     *profiles.Registry
	generator    *generation.Gateway
	conversation *conversation.Service
	broadcaster  *conversation.Broadcaster
	dedupe       *dedupe.Cache
	verifier     *auth.JWTVerifier // nil in anonymous mode
	upgrader     websocket.Upgrader
	httpServer   *http.Server
	logger       *slog.Logger

	wsMu      sync.Mutex
	wsClients map[*wsClient]struct{}
	wsClosed  bool

	startedAt time.Time
	closeOnce sync.Once
	closeErr  error
}

// Option customizes New.
type Option func(*options)

type options struct {
	provider    generation.Provider
	providerSet bool
	store       store.ConversationStore
}

// WithProvider replaces the provider named in config.
func WithProvider(p generation.Provider) Option {
	return func(o *options) {
		o.provider = p
		o.providerSet = true
	}
}

// WithStore replaces the SQLite store opened from config.
func WithStore(s store.ConversationStore) Option {
	return func(o *options) { o.store = s }
}

// initStore opens the configured database, or returns nil when
// persistence is disabled.
func initStore(cfg *config.Config, logger *slog.Logger) (store.ConversationStore, error) {
	if cfg.Database.Path == "" {
		logger.Warn("database.path is empty - conversations will not be persisted")
		return nil, nil
	}
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	opts := []store.Option{store.WithLogger(logger)}
	if cfg.Database.Driver != "" {
		opts = append(opts, store.WithDriver(cfg.Database.Driver))
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	registry, err := profiles.Default().WithOverrides(cfg.ProfileOverrides())
	if err != nil {
		return nil, fmt.Errorf("applying profile overrides: %w", err)
	}

	provider := o.provider
	if !o.providerSet {
		provider, err = generation.NewProvider(ctx, cfg.Generation.Provider, cfg.ProviderConfig())
		if err != nil {
			return nil, fmt.Errorf("creating generation provider: %w", err)
		}
	}
	generator := generation.New(provider, generation.Options{
		ForceFallback: cfg.Generation.ForceFallback,
		Timeout:       cfg.Generation.Timeout,
		Logger:        logger,
	})

	var verifier *auth.JWTVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier, err = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
	}

	st := o.store
	if st == nil {
		st, err = initStore(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	gw := &Gateway{
		config:      cfg,
		store:       st,
		profiles:    registry,
		generator:   generator,
		broadcaster: conversation.NewBroadcaster(logger),
		dedupe:      dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize),
		verifier:    verifier,
		logger:      logger.With("component", "gateway"),
		startedAt:   time.Now(),
		wsClients:   make(map[*wsClient]struct{}),
		tasks: tasks.NewMemoryStore(tasks.StoreOptions{
			Capacity: cfg.Tasks.Capacity,
			TTL:      cfg.Tasks.TTL,
			Logger:   logger,
		}),
	}
	if ks, ok := st.(store.KnowledgeStore); ok {
		gw.knowledge = ks
	}
	gw.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     gw.checkOrigin,
	}

	// Interface fields stay nil rather than holding typed nils.
	svcOpts := conversation.Options{
		Tasks:       gw.tasks,
		Profiles:    registry,
		Generator:   generator,
		Broadcaster: gw.broadcaster,
		Logger:      logger,
	}
	if st != nil {
		gw.recorder, err = conversation.NewRecorder(st, logger)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("creating recorder: %w", err)
		}
		svcOpts.Recorder = gw.recorder
		svcOpts.Store = st
	}
	gw.conversation = conversation.New(svcOpts)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	gw.logger.Info("gateway configured",
		"provider", generator.ProviderName(),
		"force_fallback", generator.FallbackForced(),
		"persistence", st != nil,
		"auth", verifier != nil,
		"profiles", registry.Len(),
	)
	return gw, nil
}

// Handler returns the gateway's HTTP handler with all routes registered.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	g.registerHTTPAPIRoutes(mux)

	return g.corsMiddleware(g.logRequests(mux))
}

// registerHTTPAPIRoutes registers API routes on the mux with or without auth middleware.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux) {
	protect := func(h http.Handler) http.Handler { return h }
	ownOnly := func(h http.Handler) http.Handler { return h }
	if g.verifier != nil {
		protect = auth.HTTPAuthMiddleware(g.verifier, g.logger)
		ownOnly = auth.RequireSelf("userId", g.logger)
		g.logger.Info("HTTP auth middleware enabled")
	} else {
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}

	mux.Handle("POST /api/chat", protect(http.HandlerFunc(g.handleChat)))
	mux.Handle("GET /api/chat/history/{sessionId}", protect(http.HandlerFunc(g.handleHistory)))
	mux.Handle("POST /api/chat/conversation", protect(http.HandlerFunc(g.handleCreateConversation)))
	mux.Handle("GET /api/chat/conversations/{userId}", protect(ownOnly(http.HandlerFunc(g.handleListConversations))))
	mux.Handle("GET /api/chat/tasks/{taskId}", protect(http.HandlerFunc(g.handleGetTask)))
	mux.Handle("GET /api/agents", protect(http.HandlerFunc(g.handleListAgents)))
	mux.Handle("GET /api/system/status", protect(http.HandlerFunc(g.handleSystemStatus)))
	mux.Handle("GET /api/knowledge-graph", protect(http.HandlerFunc(g.handleKnowledgeGraph)))
	mux.Handle("GET /api/knowledge-graph/node/{id}", protect(http.HandlerFunc(g.handleKnowledgeNode)))
	mux.Handle("GET /api/knowledge-graph/search", protect(http.HandlerFunc(g.handleKnowledgeSearch)))
	mux.Handle("POST /api/knowledge-graph/node", protect(http.HandlerFunc(g.handleCreateKnowledgeNode)))
	mux.Handle("POST /api/knowledge-graph/edge", protect(http.HandlerFunc(g.handleCreateKnowledgeEdge)))
	mux.Handle("GET /ws", protect(http.HandlerFunc(g.handleWebSocket)))

	mux.HandleFunc("/api/", g.handleAPINotFound)
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is canceled or the server fails,
// then shuts the gateway down.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		return g.gracefulShutdown()
	})

	return eg.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout, since
// the serving context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases every component. Calls after
// the first return the first call's result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.closeOnce.Do(func() {
		g.logger.Info("shutting down gateway")

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

		// Hijacked connections are not closed by the HTTP server.
		g.closeWebSockets()
		g.broadcaster.Close()
		g.dedupe.Close()
		if g.recorder != nil {
			g.recorder.Close()
		}
		if g.store != nil {
			errs = appendCloseError(errs, "store close", g.store.Close())
		}

		g.closeErr = errors.Join(errs...)
	})
	return g.closeErr
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady returns 200 OK when the database answers; without persistence
// the gateway is always ready.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := g.store.Ping(ctx); err != nil {
			g.logger.Warn("readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"reason": "database unreachable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"provider":    g.generator.ProviderName(),
		"persistence": g.store != nil,
	})
}
