// Package api serves the operator surface: run history, the live event
// stream, latency stats, and admin controls for mode and kill switch.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/config"
	"github.com/nadpilot/nadpilot/internal/events"
	"github.com/nadpilot/nadpilot/internal/guard"
	"github.com/nadpilot/nadpilot/internal/metrics"
	"github.com/nadpilot/nadpilot/internal/orchestrator"
	"github.com/nadpilot/nadpilot/internal/runrecord"
	"github.com/nadpilot/nadpilot/internal/submit"
)

// RunTrigger starts evaluation runs on behalf of API clients
type RunTrigger interface {
	Run(ctx context.Context, trig orchestrator.Trigger) (*runrecord.RunRecord, error)
}

// recordStore is the slice of the run record store the API reads
type recordStore interface {
	List(ctx context.Context) ([]runrecord.IndexEntry, error)
	Fetch(id string) (*runrecord.RunRecord, error)
}

// Options wires the server's collaborators
type Options struct {
	Config    config.APIConfig
	Records   recordStore
	Bus       *events.Bus
	Guard     *guard.Guard
	Approvals *submit.ApprovalRegistry
	Trigger   RunTrigger
	Tracker   *metrics.LatencyTracker

	// ReplayMaxDelay caps inter-event gaps during websocket replay
	ReplayMaxDelay time.Duration
}

// Server is the REST and websocket API server
type Server struct {
	router    *gin.Engine
	records   recordStore
	bus       *events.Bus
	guard     *guard.Guard
	approvals *submit.ApprovalRegistry
	trigger   RunTrigger
	tracker   *metrics.LatencyTracker

	adminKey       string
	replayMaxDelay time.Duration
	addr           string
	server         *http.Server
}

// NewServer creates the API server and registers its routes
func NewServer(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-API-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	tracker := opts.Tracker
	if tracker == nil {
		tracker = metrics.DefaultTracker()
	}

	s := &Server{
		router:         router,
		records:        opts.Records,
		bus:            opts.Bus,
		guard:          opts.Guard,
		approvals:      opts.Approvals,
		trigger:        opts.Trigger,
		tracker:        tracker,
		adminKey:       opts.Config.AdminKey,
		replayMaxDelay: opts.ReplayMaxDelay,
		addr:           opts.Config.GetAPIAddr(),
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server until Stop or a listener error
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}
	return nil
}

// LoggerMiddleware logs every request and feeds the API metrics
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		metrics.RecordAPIRequest(c.Request.Method, c.FullPath(), strconv.Itoa(statusCode), float64(latency.Milliseconds()))

		logEvent := log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP())

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}
		logEvent.Msg("API request")
	}
}
