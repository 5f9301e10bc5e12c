// API server binary: serves run history, the live event stream, and
// admin controls. Runs are triggered by republishing onto the NATS
// trigger subject consumed by the orchestrator binary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nadpilot/nadpilot/internal/api"
	"github.com/nadpilot/nadpilot/internal/config"
	"github.com/nadpilot/nadpilot/internal/db"
	"github.com/nadpilot/nadpilot/internal/events"
	"github.com/nadpilot/nadpilot/internal/guard"
	"github.com/nadpilot/nadpilot/internal/metrics"
	"github.com/nadpilot/nadpilot/internal/orchestrator"
	"github.com/nadpilot/nadpilot/internal/runrecord"
	"github.com/nadpilot/nadpilot/internal/submit"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	logger := config.NewLogger("api-main")

	logger.Info().
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Environment).
		Msg("Starting API server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database backs the run index; without it the API still serves
	// individual records by id but listings come back empty.
	var index runrecord.Index
	database, err := db.New(ctx, cfg.Database)
	if err != nil {
		logger.Warn().Err(err).Msg("Database unavailable, run listing falls back to the record directory")
	} else {
		defer database.Close()
		index = runrecord.NewPgIndex(database.Pool())
	}

	records, err := runrecord.NewStore(cfg.Records, index)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open run record store")
	}

	var nc *nats.Conn
	if cfg.NATS.Enabled {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			logger.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, run triggering disabled")
		} else {
			defer nc.Close()
		}
	}

	bus := events.NewBus(events.Options{
		Conn:              nc,
		BufferSize:        cfg.Events.BufferSize,
		HeartbeatInterval: time.Duration(cfg.Events.HeartbeatSeconds) * time.Second,
	})
	defer bus.Close()

	g, err := guard.FromConfig(cfg.Mode, guard.Options{Conn: nc, Notifier: bus})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize environment guard")
	}

	var trigger api.RunTrigger
	if nc != nil {
		trigger = &natsTrigger{nc: nc, subject: triggerSubject(cfg.NATS.SubjectPrefix)}
	}

	// Approvals resolved here must reach the orchestrator's router.
	approvals := submit.NewApprovalRegistry()
	if nc != nil {
		approvalSub, err := approvals.Attach(nc)
		if err != nil {
			logger.Warn().Err(err).Msg("Approval sync unavailable")
		} else {
			defer approvalSub.Unsubscribe()
		}
	}

	server := api.NewServer(api.Options{
		Config:         cfg.API,
		Records:        records,
		Bus:            bus,
		Guard:          g,
		Approvals:      approvals,
		Trigger:        trigger,
		ReplayMaxDelay: time.Duration(cfg.Events.ReplayMaxDelayMS) * time.Millisecond,
	})

	var metricsServer *metrics.Server
	if cfg.Monitoring.EnableMetrics {
		metrics.SetBuildVersion(cfg.App.Version)
		metricsServer = metrics.NewServer(cfg.Monitoring.PrometheusPort, logger)
		if err := metricsServer.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start metrics server")
		}
	}

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("api server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-errChan:
		logger.Error().Err(err).Msg("API server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error during API server shutdown")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error during metrics server shutdown")
		}
	}

	logger.Info().Msg("API server shutdown complete")
}

func triggerSubject(prefix string) string {
	if prefix == "" {
		prefix = "nadpilot"
	}
	return prefix + ".triggers.run"
}

// natsTrigger hands run requests to the orchestrator binary over NATS.
// The API process never runs the evaluation pipeline itself.
type natsTrigger struct {
	nc      *nats.Conn
	subject string
}

func (t *natsTrigger) Run(ctx context.Context, trig orchestrator.Trigger) (*runrecord.RunRecord, error) {
	payload, err := json.Marshal(map[string]string{
		"query":        trig.Query,
		"tokenAddress": trig.TokenAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode trigger: %w", err)
	}
	if err := t.nc.Publish(t.subject, payload); err != nil {
		return nil, fmt.Errorf("failed to publish trigger: %w", err)
	}
	return nil, nil
}
