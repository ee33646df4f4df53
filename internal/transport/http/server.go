package transporthttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"algotrader/internal/backtest"
	"algotrader/internal/fanout"
	"algotrader/internal/logger"
	"algotrader/internal/report"
	"algotrader/internal/stats"
	"algotrader/internal/store/ledger"
	"algotrader/internal/strategy"
	"algotrader/internal/types"
)

// Server exposes the state tracker over HTTP and websocket.
type Server struct {
	addr    string
	version string

	ctrl       *backtest.Controller
	store      *ledger.Store
	stats      *stats.Engine
	strategies *strategy.Service
	hub        *fanout.Hub
	reports    *report.Builder
	events     types.Publisher

	router *gin.Engine
}

// Config wires the server's collaborators.
type Config struct {
	Addr           string
	Version        string
	AllowedOrigins []string

	Controller *backtest.Controller
	Ledger     *ledger.Store
	Stats      *stats.Engine
	Strategies *strategy.Service
	Hub        *fanout.Hub
	Reports    *report.Builder
	Events     types.Publisher
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Controller == nil || cfg.Ledger == nil {
		return nil, errors.New("http server requires controller and ledger")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	events := cfg.Events
	if events == nil {
		events = types.PublisherFunc(func(types.Event) {})
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), corsAllowlist(cfg.AllowedOrigins))

	s := &Server{
		addr:       cfg.Addr,
		version:    cfg.Version,
		ctrl:       cfg.Controller,
		store:      cfg.Ledger,
		stats:      cfg.Stats,
		strategies: cfg.Strategies,
		hub:        cfg.Hub,
		reports:    cfg.Reports,
		events:     events,
		router:     router,
	}
	s.registerRoutes()
	return s, nil
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/healthz", s.handleHealth)

	props := s.router.Group("/backtest_properties")
	props.PUT("/initialise", s.handleInitialise)
	props.GET("", s.handleProperties)
	props.PATCH("", s.handleUpdateBalances)
	props.PATCH("/date", s.handleAdvanceDate)
	props.GET("/date", s.handleGetDate)
	props.PATCH("/available_balance", s.handleAvailableBalance)
	props.PATCH("/is_paused", s.handlePause)
	props.PATCH("/availability", s.handleAvailability)
	props.POST("/finalise", s.handleFinalise)
	props.GET("/report", s.handleReport)

	trades := s.router.Group("/trades")
	trades.POST("", s.handleOpenTrade)
	trades.PATCH("", s.handleTickTrades)
	trades.PUT("/close", s.handleCloseTrades)
	trades.GET("", s.handleListTrades)

	s.router.GET("/stats", s.handleStats)

	strategies := s.router.Group("/strategies")
	strategies.GET("", s.handleListStrategies)
	strategies.POST("", s.handleCreateStrategy)
	strategies.GET("/:id", s.handleGetStrategy)
	strategies.PATCH("/:id", s.handleUpdateStrategy)
	strategies.DELETE("/:id", s.handleDeleteStrategy)

	if s.hub != nil {
		s.router.GET("/ws", s.handleObserverWS)
	}
	s.router.GET("/ws/driver", s.handleDriverWS)
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"service": "algotrader", "version": s.version})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("http server listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}

func corsAllowlist(origins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(origins))
	allowAll := false
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if _, ok := allowed[origin]; ok || allowAll {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
