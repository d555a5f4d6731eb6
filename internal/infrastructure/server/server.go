// Package server assembles the engine, its capability backends and the
// HTTP and gRPC surfaces into one process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	apihttp "github.com/GriffinCanCode/uiblocks/internal/api/http"
	"github.com/GriffinCanCode/uiblocks/internal/api/middleware"
	"github.com/GriffinCanCode/uiblocks/internal/api/ws"
	"github.com/GriffinCanCode/uiblocks/internal/capability"
	"github.com/GriffinCanCode/uiblocks/internal/capability/assets"
	"github.com/GriffinCanCode/uiblocks/internal/capability/browser"
	"github.com/GriffinCanCode/uiblocks/internal/engine"
	"github.com/GriffinCanCode/uiblocks/internal/history"
	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/config"
	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/logging"
	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/uiblocks/internal/terminal"
)

// HealthService is the name reported by the gRPC health service.
const HealthService = "uiblocks"

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	config  *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer

	directory *engine.Directory
	views     *browser.Manager
	history   *history.Store
	terminals *terminal.Manager
	hub       *ws.Hub

	router *gin.Engine
	health *health.Server

	closeOnce sync.Once
	closeErr  error
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Info("Initializing uiblocks server",
		zap.String("port", cfg.Server.Port),
		zap.String("marker", cfg.Engine.Marker),
		zap.Duration("tick", cfg.Engine.Tick),
	)

	s := &Server{
		config:  cfg,
		logger:  logger,
		metrics: monitoring.NewMetrics(),
		tracer:  tracing.New("uiblocks", logger.Logger),
		health:  health.NewServer(),
	}
	s.hub = ws.NewHub(logger, s.metrics)

	registry, err := capability.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to build intrinsic registry: %w", err)
	}

	resolver, err := assets.New(cfg.Assets.Root, cfg.Assets.Allow)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset resolver: %w", err)
	}

	s.views = browser.NewManager(browser.Options{
		Router: browser.NewRouter(s.browserKinds(), s.browserCommands()),
		Logger: logger,
	})

	var recorder engine.Recorder
	if cfg.History.Path != "" {
		s.history, err = history.Open(context.Background(), cfg.History.Path)
		if err != nil {
			_ = s.views.Close()
			return nil, err
		}
		recorder = s.history
		logger.Info("Fragment history enabled", zap.String("path", cfg.History.Path))
	}

	s.directory, err = engine.NewDirectory(registry, engine.Options{
		Marker:       cfg.Engine.Marker,
		Tick:         cfg.Engine.Tick,
		ReadyTimeout: cfg.Engine.ReadyTimeout,
		MaxCarry:     cfg.Engine.MaxCarry,
		StepBudget:   cfg.Engine.StepBudget,
		Parallelism:  cfg.Engine.Parallelism,
		Capabilities: capability.Factory(capability.Providers{Assets: resolver, Browser: s.views}),
		Recorder:     recorder,
		Logger:       logger,
		Metrics:      s.metrics,
		Tracer:       s.tracer,
		OnEvent:      s.hub.PublishEngine,
		OnFragmentError: func(sessionID, message string) {
			logger.Session(sessionID).Warn("fragment failed", zap.String("error", message))
		},
	})
	if err != nil {
		_ = s.views.Close()
		if s.history != nil {
			_ = s.history.Close()
		}
		return nil, err
	}

	s.terminals = terminal.NewManager(terminal.Options{
		Sink:   s.directory,
		Logger: logger,
		OnExit: s.terminalExited,
	})

	s.router = s.newRouter()
	s.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)

	logger.Info("Server initialized successfully", zap.Strings("globals", registry.Globals()))
	return s, nil
}

func (s *Server) newRouter() *gin.Engine {
	if !s.config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(s.tracer))
	router.Use(monitoring.Middleware(s.metrics, "/stream"))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if s.config.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", s.config.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.config.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: s.config.RateLimit.RequestsPerSecond,
			Burst:             s.config.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(apihttp.Options{
		Directory: s.directory,
		Browser:   s.views,
		History:   s.history,
		Terminals: s.terminals,
		Metrics:   s.metrics,
		Logger:    s.logger,
	})
	handlers.Routes(router)
	router.GET("/stream", s.hub.HandleConnection)
	return router
}

// browserKinds forwards every view event to stream clients.
func (s *Server) browserKinds() map[browser.EventKind]browser.Handler {
	kinds := make(map[browser.EventKind]browser.Handler)
	for k := browser.EventCommand; k <= browser.EventViewCreated; k++ {
		kinds[k] = s.hub.PublishBrowser
	}
	return kinds
}

// browserCommands are the names scripts may pass to bridge.send.
func (s *Server) browserCommands() map[string]browser.Handler {
	log := s.logger.Component("bridge")
	return map[string]browser.Handler{
		"log": func(_ context.Context, ev browser.Event) error {
			log.Info("view message",
				zap.String("session_id", ev.SessionID),
				zap.String("view_id", ev.ViewID),
				zap.ByteString("payload", ev.Payload))
			return nil
		},
		"ping": func(context.Context, browser.Event) error {
			return nil
		},
	}
}

// terminalExited drops the session a finished shell was feeding.
func (s *Server) terminalExited(terminalID string, exitCode int) {
	s.logger.Info("Terminal exited", logging.TerminalID(terminalID), zap.Int("exit_code", exitCode))
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.directory.Destroy(ctx, terminalID); err != nil && !errors.Is(err, engine.ErrSessionNotFound) {
		s.logger.Warn("Failed to destroy terminal session", logging.TerminalID(terminalID), zap.Error(err))
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Directory returns the session directory.
func (s *Server) Directory() *engine.Directory {
	return s.directory
}

// Run serves HTTP and gRPC and drives the tick loops until ctx is done
// or a listener fails. It shuts everything down before returning.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.directory.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		err := s.views.Run(gctx, s.directory.Interval())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	var grpcServer *grpc.Server
	if s.config.GRPC.Enabled {
		lis, err := net.Listen("tcp", s.config.GRPC.Address)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.config.GRPC.Address, err)
		}
		grpcServer = s.newGRPCServer()
		g.Go(func() error {
			s.logger.Info("Starting gRPC health server", zap.String("addr", lis.Addr().String()))
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.health.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		s.hub.Close()
		return httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if cerr := s.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

func (s *Server) newGRPCServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    20 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.UnaryInterceptor(tracing.GRPCUnaryInterceptor(s.tracer)),
		grpc.StreamInterceptor(tracing.GRPCStreamInterceptor(s.tracer)),
	)
	healthpb.RegisterHealthServer(srv, s.health)
	return srv
}

// Close gracefully shuts down the server. It is safe to call more
// than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.shutdown()
	})
	return s.closeErr
}

func (s *Server) shutdown() error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.terminals.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close terminals: %w", err))
	}
	if err := s.directory.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to close sessions: %w", err))
	}
	if err := s.views.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close browser views: %w", err))
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close history: %w", err))
		}
	}
	s.hub.Close()
	s.tracer.Close()

	_ = s.logger.Sync()
	return errors.Join(errs...)
}
