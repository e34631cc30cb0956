package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/dualarb/types"
)

// Detector is the arbitrage surface exposed over HTTP
type Detector interface {
	Pairs() []types.Pair
	Scan(ctx context.Context, pairID string) (types.ArbitrageOpportunity, error)
	ExecuteArbitrage(ctx context.Context, pairID string, execType types.ExecutionType) (types.ExecutionRecord, error)
}

// WalletLister reads the ledger's wallets
type WalletLister interface {
	Wallets(ctx context.Context) ([]types.WalletState, error)
}

// Config controls the HTTP listener
type Config struct {
	Enabled         bool          `yaml:"enabled"`
	ListenAddr      string        `yaml:"listenAddr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// DefaultConfig listens on localhost:8080
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		ListenAddr:      "127.0.0.1:8080",
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server serves the scan/execute API
type Server struct {
	cfg        Config
	detector   Detector
	wallets    WalletLister
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer builds the gin engine; metrics are served from gatherer
func NewServer(cfg Config, detector Detector, wallets WalletLister, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:      cfg,
		detector: detector,
		wallets:  wallets,
		gatherer: gatherer,
		logger:   logger.With(zap.String("component", "api")),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.accessLog())

	router.GET("/healthz", s.health)
	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	g := router.Group("/api")
	g.GET("/pairs", s.listPairs)
	g.GET("/pairs/:id/scan", s.scanPair)
	g.POST("/pairs/:id/execute", s.executePair)
	g.GET("/wallets", s.listWallets)
	return router
}

// Handler exposes the router for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens in the background
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("Starting API server", zap.String("addr", s.cfg.ListenAddr))
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped", zap.Error(err))
		}
	}()
}

// Stop shuts the listener down, waiting up to the configured timeout
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
