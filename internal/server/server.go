// Package server wires the Signal Hub components together: it owns the
// metrics registry, cost ledger, semantic cache, routing engine, and rate
// limiter, dispatches JSON-RPC methods through the middleware chain, and
// manages startup and shutdown order.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"signalhub/internal/backend"
	"signalhub/internal/cache"
	"signalhub/internal/config"
	"signalhub/internal/ledger"
	"signalhub/internal/metrics"
	"signalhub/internal/middleware"
	"signalhub/internal/protocol"
	"signalhub/internal/ratelimit"
	"signalhub/internal/routing"
	"signalhub/internal/version"
)

// ServerName is the name advertised in initialize results.
const ServerName = "signal-hub"

// Server composes the routing-and-caching pipeline behind the protocol
// boundary. Construct with New, serve via a transport's Handler interface,
// and stop with Shutdown.
type Server struct {
	cfg      *config.Config
	registry *metrics.Registry
	ledger   *ledger.Ledger
	cache    *cache.SemanticCache
	engine   *routing.Engine
	limiter  *ratelimit.Limiter
	rlClose  func()
	model    backend.ModelBackend
	handler  middleware.Handler
	health   *healthServer

	// callMeta carries token accounting from the coordinator to the cache
	// middleware's Save, keyed by request id.
	callMeta sync.Map

	toolsOnce sync.Once
	toolset   map[string]tool

	startTime    time.Time
	shutdownOnce sync.Once
	done         chan struct{}
}

// Option customizes server construction.
type Option func(*options)

type options struct {
	model    backend.ModelBackend
	embedder cache.Embedder
	store    ledger.Store
}

// WithModelBackend supplies the model backend. Defaults to the deterministic
// mock backend.
func WithModelBackend(m backend.ModelBackend) Option {
	return func(o *options) { o.model = m }
}

// WithEmbedder supplies the fingerprint embedder. Defaults to the built-in
// hashing embedder.
func WithEmbedder(e cache.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithLedgerStore supplies the durable ledger store. Defaults to the SQLite
// store when ledger.path is configured, in-memory otherwise.
func WithLedgerStore(s ledger.Store) Option {
	return func(o *options) { o.store = s }
}

// New builds a server. Components initialize in dependency order: metrics,
// ledger, cache store, cache, routing, rate limiting, middleware chain.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.model == nil {
		o.model = backend.NewMockBackend()
	}
	if o.embedder == nil {
		o.embedder = cache.NewHashingEmbedder(cache.DefaultDimensions)
	}

	s := &Server{
		cfg:       cfg,
		registry:  metrics.NewRegistry(),
		model:     o.model,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}

	calc := ledger.NewCalculator(cfg.Tiers)
	store := o.store
	if store == nil && cfg.Ledger.Path != "" {
		var err error
		store, err = ledger.OpenSQLite(cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger store: %w", err)
		}
	}
	s.ledger = ledger.New(calc, store, cfg.Ledger.BufferSize, s.registry)

	cacheStore := cache.NewStore(cache.NewFlatIndex(), cfg.Cache.MaxEntries)
	s.cache = cache.New(cacheStore, o.embedder, cache.Options{
		Enabled:      cfg.Cache.Enabled,
		Threshold:    cfg.Cache.SimilarityThreshold,
		TTL:          cfg.Cache.TTL(),
		EmbedTimeout: cfg.Backend.EmbedTimeout(),
	}, s.registry)

	engine, err := routing.NewEngine(cfg, s.registry, func(t routing.Tier) bool {
		return s.model.Available(t)
	})
	if err != nil {
		s.ledger.Close()
		return nil, fmt.Errorf("failed to build routing engine: %w", err)
	}
	s.engine = engine

	rlBackend := ratelimit.NewMemoryBackend(cfg.RateLimit.Window(), time.Minute)
	s.rlClose = rlBackend.Close
	s.limiter = ratelimit.NewLimiter(rlBackend, cfg.RateLimit, s.registry)

	chain := middleware.NewChain(
		middleware.Logging(cfg.Debug.VerboseLogging),
		middleware.Metrics(s.registry),
		middleware.RateLimit(s.limiter),
		middleware.ResponseCache(&responseCacher{s: s}),
	)
	s.handler = chain.Then(middleware.HandlerFunc(s.dispatch))

	if cfg.Server.HealthAddr != "" {
		s.health = newHealthServer(cfg.Server.HealthAddr, s)
		if err := s.health.start(); err != nil {
			s.close()
			return nil, fmt.Errorf("failed to start health listener: %w", err)
		}
	}

	log.Printf("[Server] Initialized %s v%s (default tier %s, cache %v, rate limit %v)",
		ServerName, version.Short(), cfg.DefaultTier, cfg.Cache.Enabled, cfg.RateLimit.Enabled)
	return s, nil
}

// Registry exposes the metrics registry.
func (s *Server) Registry() *metrics.Registry {
	return s.registry
}

// Ledger exposes the cost ledger.
func (s *Server) Ledger() *ledger.Ledger {
	return s.ledger
}

// Cache exposes the semantic cache.
func (s *Server) Cache() *cache.SemanticCache {
	return s.cache
}

// Engine exposes the routing engine.
func (s *Server) Engine() *routing.Engine {
	return s.engine
}

// Reload swaps routing rules, overrides, and the default tier from new
// configuration. Takes effect on the next request.
func (s *Server) Reload(cfg *config.Config) error {
	return s.engine.Reload(cfg)
}

// Done is closed when a shutdown request has been processed.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Uptime reports how long the server has been running.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// HandleMessage implements the transport handler: it validates the envelope,
// builds the immutable request, runs it through the middleware chain, and
// frames the response. Notifications yield nil.
func (s *Server) HandleMessage(ctx context.Context, msg *protocol.Message) *protocol.Message {
	if msg.IsNotification() {
		// Fire-and-forget; only shutdown is meaningful without an id.
		if msg.Method == "shutdown" {
			s.Shutdown(context.Background())
		}
		return nil
	}
	if !msg.IsRequest() || msg.JSONRPC != protocol.Version {
		return &protocol.Message{
			JSONRPC: protocol.Version,
			ID:      msg.ID,
			Error:   protocol.NewError(protocol.CodeInvalidRequest, "not a valid JSON-RPC 2.0 request"),
		}
	}

	req := s.buildRequest(msg)
	resp, err := s.handler.Handle(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			resp = protocol.NewErrorResponse(req.ID,
				protocol.NewError(protocol.CodeInternalError, "request cancelled"))
		} else {
			resp = protocol.NewErrorResponse(req.ID,
				protocol.NewError(protocol.CodeInternalError, err.Error()))
		}
	}
	return s.frame(msg, resp)
}

// buildRequest decodes the request envelope into the immutable Request,
// lifting client identity fields out of tool call arguments.
func (s *Server) buildRequest(msg *protocol.Message) *protocol.Request {
	req := &protocol.Request{
		ID:        protocol.IDString(msg.ID),
		Method:    msg.Method,
		Params:    msg.Params,
		Timestamp: time.Now(),
	}
	if msg.Method == "tools/call" {
		var params protocol.ToolCallParams
		if err := json.Unmarshal(msg.Params, &params); err == nil {
			req.ClientID = stringArg(params.Arguments, "client_id")
			req.SessionID = stringArg(params.Arguments, "session_id")
			req.PreferredTier = stringArg(params.Arguments, "preferred_tier")
		}
	}
	return req
}

// frame wraps a Response back into the wire envelope.
func (s *Server) frame(msg *protocol.Message, resp *protocol.Response) *protocol.Message {
	out := &protocol.Message{JSONRPC: protocol.Version, ID: msg.ID}
	if resp == nil {
		out.Error = protocol.NewError(protocol.CodeInternalError, "no response produced")
		return out
	}
	if resp.Error != nil {
		out.Error = resp.Error
		return out
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		out.Error = protocol.NewError(protocol.CodeInternalError, "failed to encode result")
		return out
	}
	out.Result = data
	return out
}

// Shutdown tears components down in reverse initialization order, draining
// inflight work within the configured grace period. Calling it again is a
// no-op.
func (s *Server) Shutdown(ctx context.Context) {
	s.shutdownOnce.Do(func() {
		grace := time.Duration(s.cfg.Server.ShutdownGraceSeconds) * time.Second
		if grace <= 0 {
			grace = 10 * time.Second
		}
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, grace)
			defer cancel()
		}

		log.Printf("[Server] Shutting down (grace %s)", grace)
		s.close()
		close(s.done)
		log.Printf("[Server] Shutdown complete")
	})
}

// close releases resources in reverse initialization order.
func (s *Server) close() {
	if s.health != nil {
		s.health.stop()
	}
	if s.rlClose != nil {
		s.rlClose()
	}
	if s.ledger != nil {
		s.ledger.Close()
	}
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
