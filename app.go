// Package stepstream serves an agent's tool-calling steps as a live stream
// of text fragments over HTTP and websockets.
package stepstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"stepstream/agent"
	"stepstream/handlers"
	"stepstream/llm"
	"stepstream/logger"
	"stepstream/metrics"
	"stepstream/stream"
	"stepstream/tracing"
)

// Version is reported by the root and health endpoints.
const Version = "0.1.0"

// Server is the main stepstream instance. Create one with New, then call
// Run to serve HTTP until the context is cancelled.
type Server struct {
	cfg        *AppConfig
	engine     agent.Engine
	log        zerolog.Logger
	traces     *tracing.Store
	translator *stream.Translator
	handler    http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithEngine replaces the engine built from configuration.
func WithEngine(e agent.Engine) Option {
	return func(s *Server) { s.engine = e }
}

// WithLogger sets the server logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New builds the engine, translator and routes. Engine availability is
// decided here, once: a failure leaves the server running with an
// unavailable engine rather than returning an error.
func New(cfg *AppConfig, opts ...Option) (*Server, error) {
	s := &Server{cfg: cfg, log: logger.Get()}
	for _, o := range opts {
		o(s)
	}

	origins, err := handlers.ParseAllowedOrigins(cfg.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	s.traces = tracing.NewStore(cfg.TraceCapacity)
	tOpts := []stream.Option{
		stream.WithLogger(s.log.With().Str("component", "stream").Logger()),
		stream.WithTraceStore(s.traces),
	}

	engine, initErr := s.buildEngine()
	if initErr != nil {
		s.log.Error().Err(initErr).Msg("engine unavailable")
		s.translator = stream.Unavailable(initErr, tOpts...)
	} else {
		s.translator = stream.New(engine, tOpts...)
	}

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, &handlers.Deps{
		Translator:  s.translator,
		Traces:      s.traces,
		Origins:     origins,
		Log:         s.log.With().Str("component", "handlers").Logger(),
		Version:     Version,
		Environment: cfg.Environment(),
	})
	mux.Handle("/metrics", metrics.Handler())
	s.handler = handlers.CORSMiddleware(origins, metrics.Middleware(mux))

	return s, nil
}

func (s *Server) buildEngine() (agent.Engine, error) {
	if s.engine != nil {
		return s.engine, nil
	}

	engCfg, err := LoadEngineConfig(s.cfg.ConfigFile, s.cfg.DefaultModel)
	if err != nil {
		return nil, err
	}
	agentLog := s.log.With().Str("component", "agent").Logger()
	return agent.Build(engCfg, agent.BuildDeps{
		Resolver: &llm.ResolverConfig{
			OpenAIAPIKey:  s.cfg.OpenAIAPIKey,
			OpenAIBaseURL: s.cfg.OpenAIBaseURL,
			OllamaBaseURL: s.cfg.OllamaBaseURL,
		},
		Builtins: agent.BuiltinOptions{SerpAPIKey: s.cfg.SerpAPIKey},
		Options: []agent.Option{
			agent.WithLogger(agentLog),
			agent.WithHooks(tracing.NewHook(), agent.NewLoggingHook(agentLog)),
			agent.WithToolObserver(metrics.RecordToolCall),
		},
	})
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Translator returns the translator serving executions.
func (s *Server) Translator() *stream.Translator { return s.translator }

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // disable for streaming
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().
			Str("addr", srv.Addr).
			Bool("agent_available", s.translator.Available()).
			Msg("stepstream starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
