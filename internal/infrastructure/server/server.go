package server

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/api/http"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/api/ws"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/manifest"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/tracing"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	kernel  *kernel.Kernel
	hub     *ws.Hub
	tracer  *tracing.Tracer
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer loads the bundle named by the configuration and builds a
// server around it.
func NewServer(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	bundle, err := manifest.Load(cfg.Manifest.Path, cfg.Manifest.Pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to load bundle: %w", err)
	}
	logger.Info("Bundle loaded",
		zap.String("path", cfg.Manifest.Path),
		zap.Int("apps", len(bundle.Apps)),
	)
	return New(cfg, bundle, logger)
}

// New creates a server for bundle and boots its kernel.
func New(cfg *config.Config, bundle *manifest.Bundle, logger *logging.Logger) (*Server, error) {
	logger.Info("Initializing isolation kernel server",
		zap.String("port", cfg.Server.Port),
		zap.Int("process_max", cfg.Kernel.ProcessMax),
		zap.Int("window_count", cfg.Kernel.WindowCount),
		zap.String("reset_policy", string(cfg.Kernel.ResetPolicy)),
	)

	// Initialize metrics first (needed by other components)
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(reg)

	tracer := tracing.New("isolation", logger)
	hub := ws.NewHub(logger, metrics)

	k, err := kernel.New(cfg.Kernel, bundle)
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("failed to create kernel: %w", err)
	}
	k.WithLogger(logger).WithRecorder(metrics).WithEvents(hub.Publish)
	if err := k.Boot(); err != nil {
		k.Shutdown()
		tracer.Close()
		return nil, fmt.Errorf("failed to boot kernel: %w", err)
	}

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
	}
	limit := middleware.RateLimit(cfg.RateLimit)

	handlers := http.NewHandlers(k, metrics, logger)
	aggregator := http.NewMetricsAggregator(metrics, k)
	wsHandler := ws.NewHandler(hub, k.Session().String())

	// Register routes
	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(monitoring.Handler(reg)))
	router.GET("/stats", aggregator.GetStats)
	router.GET("/snapshot", handlers.Snapshot)
	router.GET("/ws", wsHandler.HandleConnection)

	// Host operations
	host := router.Group("/", limit)
	host.GET("/apps", handlers.ListApps)
	host.GET("/apps/:app/pid", handlers.HostPIDFromApp)
	host.POST("/apps/:app/instantiate", handlers.HostInstantiate)
	host.POST("/irq/:source/trigger", handlers.TriggerIRQ)
	host.POST("/procs/:pid/abort", handlers.Abort)
	host.POST("/procs/:pid/interrupt", handlers.Interrupt)
	host.POST("/procs/:pid/end-interrupt", handlers.EndInterrupt)

	// Calls made on behalf of a process
	proc := router.Group("/procs/:pid", limit)

	proc.GET("/labels/:label", handlers.ResolveLabel)
	proc.GET("/regions/:rid", handlers.AddressBlockInfo)
	proc.GET("/regions/:rid/bundle-id", handlers.BundleID)

	proc.GET("/windows/:slot", handlers.GetMapped)
	proc.PUT("/windows/:slot", handlers.Map)
	proc.DELETE("/windows/:slot", handlers.Unmap)
	proc.GET("/windows/:slot/data", handlers.Read)
	proc.PUT("/windows/:slot/data", handlers.Write)

	proc.POST("/buffers/:rid/reset", handlers.ResetCredentials)
	proc.POST("/buffers/:rid/credentials", handlers.AddCredentials)
	proc.POST("/buffers/:rid/transfer", handlers.Transfer)

	proc.POST("/notify/:target", handlers.SendNotification)
	proc.POST("/send/:target", handlers.SendData)
	proc.POST("/receive", handlers.Receive)
	proc.POST("/call/:target", handlers.SendReceive)

	proc.POST("/irqs", handlers.RegisterIRQ)
	proc.GET("/irqs/:reg", handlers.IRQInfo)
	proc.DELETE("/irqs/:reg", handlers.UnregisterIRQ)
	proc.POST("/irqs/:reg/:action", handlers.IRQAction)

	proc.POST("/instantiate/:app", handlers.Instantiate)
	proc.GET("/apps/:app/pid", handlers.PIDFromApp)
	proc.GET("/apps/:app/index", handlers.AppIndex)
	proc.GET("/apps/:app/attributes/:tag", handlers.AppAttribute)
	proc.GET("/attributes/:target/:tag", handlers.Attribute)
	proc.POST("/yield", handlers.Yield)
	proc.POST("/exit", handlers.Exit)

	logger.Info("Server initialized successfully", zap.Stringer("session", k.Session()))

	return &Server{
		router:  router,
		kernel:  k,
		hub:     hub,
		tracer:  tracer,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() nethttp.Handler { return s.router }

// Kernel returns the kernel served.
func (s *Server) Kernel() *kernel.Kernel { return s.kernel }

// Run serves HTTP and the background workers until ctx ends or one of them
// fails, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	srv := &nethttp.Server{Addr: addr, Handler: s.router}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.hub.Run(gctx) })
	g.Go(func() error { return s.metrics.RunUptime(gctx) })
	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Ending the session releases requests blocked in the kernel.
		s.kernel.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.Close()
	return err
}

// Close ends the kernel session and flushes the tracer and logger.
func (s *Server) Close() {
	s.logger.Info("Shutting down server...")
	s.kernel.Shutdown()
	s.tracer.Close()
	_ = s.logger.Sync()
}
