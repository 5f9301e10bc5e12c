// Orchestrator binary: wires the evaluation pipeline end to end and
// serves sweep, NATS, and metadata-milestone triggers until shutdown.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nadpilot/nadpilot/internal/adversarial"
	"github.com/nadpilot/nadpilot/internal/agents"
	"github.com/nadpilot/nadpilot/internal/alerts"
	"github.com/nadpilot/nadpilot/internal/bundle"
	"github.com/nadpilot/nadpilot/internal/chain"
	"github.com/nadpilot/nadpilot/internal/config"
	"github.com/nadpilot/nadpilot/internal/consensus"
	"github.com/nadpilot/nadpilot/internal/db"
	"github.com/nadpilot/nadpilot/internal/events"
	"github.com/nadpilot/nadpilot/internal/guard"
	"github.com/nadpilot/nadpilot/internal/llm"
	"github.com/nadpilot/nadpilot/internal/memory"
	"github.com/nadpilot/nadpilot/internal/metadata"
	"github.com/nadpilot/nadpilot/internal/metrics"
	"github.com/nadpilot/nadpilot/internal/orchestrator"
	"github.com/nadpilot/nadpilot/internal/resilience"
	"github.com/nadpilot/nadpilot/internal/reward"
	"github.com/nadpilot/nadpilot/internal/runrecord"
	"github.com/nadpilot/nadpilot/internal/session"
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
	logger := config.NewLogger("orchestrator-main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Secrets land in the config before anything downstream reads them
	if vaultCfg := config.GetVaultConfigFromEnv(); vaultCfg.Enabled {
		if err := config.LoadSecretsFromVault(ctx, cfg, vaultCfg); err != nil {
			logger.Fatal().Err(err).Msg("Failed to load secrets from Vault")
		}
	}

	logger.Info().
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Environment).
		Str("network", cfg.Chain.Network).
		Msg("Starting orchestrator")

	var metricsServer *metrics.Server
	if cfg.Monitoring.EnableMetrics {
		metrics.SetBuildVersion(cfg.App.Version)
		metricsServer = metrics.NewServer(cfg.Monitoring.PrometheusPort, logger)
		if err := metricsServer.Start(); err != nil {
			logger.Warn().Err(err).Msg("Failed to start metrics server")
		}
	}

	var nc *nats.Conn
	if cfg.NATS.Enabled {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			logger.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, continuing without messaging")
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

	channels := []alerts.Channel{&alerts.LogChannel{}}
	if cfg.Alerts.TelegramEnabled {
		telegram, err := alerts.NewTelegramChannel(cfg.Alerts)
		if err != nil {
			logger.Warn().Err(err).Msg("Telegram alerts unavailable")
		} else {
			channels = append(channels, telegram)
		}
	}
	alerter := alerts.NewManager(channels...)

	g, err := guard.FromConfig(cfg.Mode, guard.Options{Conn: nc, Notifier: bus, Alerter: alerter})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize environment guard")
	}
	logger.Info().Str("mode", string(g.Mode())).Bool("kill_switch", g.KillSwitchActive()).Msg("Environment guard ready")

	database, err := db.New(ctx, cfg.Database)
	if err != nil {
		logger.Warn().Err(err).Msg("Database unavailable, memory and indexes degrade to in-process state")
		database = nil
	} else {
		defer database.Close()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetRedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable, caching and sweep checkpoints disabled")
		rdb = nil
	}
	pingCancel()

	breakers := resilience.NewBreakerManager()

	rpc := chain.NewRPCClient(cfg.Chain, breakers.RPC())
	launchpad, err := chain.NewLaunchpadClient(cfg.Launchpad, breakers.Launchpad())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create launchpad client")
	}
	provider := chain.NewCachedProvider(chain.NewRPCProvider(rpc, launchpad, cfg.Chain), rdb, cfg.Chain.CacheEntryCap)

	// Memory needs pgvector; without the database runs proceed without recall
	var mem *memory.Memory
	if database != nil {
		embedder := buildEmbedder(cfg)
		mem = memory.New(memory.NewStore(database.Pool()), embedder, cfg.Memory)
		defer mem.Close()
	}

	runner := buildRunner(cfg, logger)
	engine := consensus.New(cfg.Consensus)

	var index runrecord.Index
	if database != nil {
		index = runrecord.NewPgIndex(database.Pool())
	}
	records, err := runrecord.NewStore(cfg.Records, index)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open run record store")
	}

	// Submission stack: router, audit trail, nonce reservations
	audit, err := submit.NewAuditWriter(cfg.Submission.AuditDir, time.Duration(cfg.Submission.AuditFlushSeconds)*time.Second)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open submission audit log")
	}
	defer audit.Close()

	// The API process resolves approvals; the router here must see them.
	approvals := submit.NewApprovalRegistry()
	if nc != nil {
		approvalSub, err := approvals.Attach(nc)
		if err != nil {
			logger.Warn().Err(err).Msg("Approval sync unavailable")
		} else {
			defer approvalSub.Unsubscribe()
		}
	}
	router := buildRouter(cfg, rpc, g, bus, approvals, audit, logger)

	var executor orchestrator.Executor
	if cfg.Execution.Enabled {
		executor, err = buildExecutor(cfg, bus, rpc, router, launchpad)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to build trade executor")
		}
	}

	orchOpts := orchestrator.Options{
		Guard:       g,
		Bus:         bus,
		Scanner:     adversarial.NewScanner(),
		Provider:    provider,
		Tokens:      launchpad,
		Runner:      runner,
		Engine:      engine,
		Records:     records,
		Executor:    executor,
		RunDeadline: cfg.Agents.GetRunDeadline(),
	}
	if mem != nil {
		orchOpts.Memory = mem
	}
	orch := orchestrator.New(orchOpts)

	// Metadata pipeline: milestone watcher publishes descriptor versions
	if database != nil {
		pipeline := buildMetadataPipeline(cfg, database, bus, breakers, logger)
		if pipeline != nil {
			watcher := metadata.NewWatcher(cfg.Metadata, cfg.Chain.ChainID, pipeline, launchpad, provider)
			go watcher.Start(ctx)
		}
	}

	// Reward ledger verifies submissions through the oracle
	if database != nil && cfg.Reward.OracleURL != "" {
		ledger := reward.NewLedger(cfg.Reward, reward.NewHTTPOracle(cfg.Reward.OracleURL, nil), reward.NewStore(database.Pool()), bus)
		ledger.Start(ctx)
		defer ledger.Close()
	}

	sweeper := orchestrator.NewSweeper(cfg.Sweep, launchpad, orch, rdb)
	go sweeper.Start(ctx)

	if nc != nil {
		sub, err := orchestrator.SubscribeTriggers(nc, cfg.NATS.SubjectPrefix+".triggers.run", orch)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to subscribe to trigger subject")
		} else {
			defer sub.Unsubscribe()
		}
	}

	logger.Info().Msg("Orchestrator ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error during metrics server shutdown")
		}
	}

	logger.Info().Msg("Orchestrator shutdown complete")
}

// buildEmbedder assembles the embedding chain, with the fallback
// provider wrapped in circuit-tracking when one is configured.
func buildEmbedder(cfg *config.Config) memory.Embedder {
	timeout := cfg.Embedding.GetTimeout()
	primary := memory.NewHTTPEmbedder(cfg.Embedding.Endpoint, cfg.Embedding.APIKey,
		cfg.Embedding.Model, cfg.Embedding.Dimensions, timeout)
	if cfg.Embedding.FallbackEndpoint == "" {
		return primary
	}
	fallback := memory.NewHTTPEmbedder(cfg.Embedding.FallbackEndpoint, cfg.Embedding.APIKey,
		cfg.Embedding.FallbackModel, cfg.Embedding.Dimensions, timeout)
	return memory.NewResilientEmbedder(primary, fallback, cfg.Embedding)
}

// buildRunner picks LLM-backed analyzers when a gateway is configured
// and heuristic analyzers otherwise.
func buildRunner(cfg *config.Config, logger zerolog.Logger) *agents.Runner {
	timeout := cfg.Agents.GetAgentTimeout()
	if cfg.LLM.Endpoint == "" {
		logger.Info().Msg("No LLM gateway configured, using heuristic analyzers")
		return agents.NewHeuristicRunner(timeout)
	}

	clientCfg := llm.ClientConfig{
		Endpoint:    cfg.LLM.Endpoint,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.PrimaryModel,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.GetTimeout(),
	}
	fallback := llm.FallbackConfig{Primary: clientCfg, PrimaryName: cfg.LLM.PrimaryModel}
	if cfg.LLM.FallbackModel != "" {
		secondary := clientCfg
		secondary.Model = cfg.LLM.FallbackModel
		fallback.Fallbacks = []llm.ClientConfig{secondary}
		fallback.FallbackNames = []string{cfg.LLM.FallbackModel}
	}
	return agents.NewLLMRunner(llm.NewFallbackClient(fallback), timeout)
}

// buildRouter assembles the submission router from the configured
// routes. Fail-closed behavior lives in the router itself; this only
// declares which routes exist.
func buildRouter(cfg *config.Config, rpc *chain.RPCClient, g *guard.Guard, bus *events.Bus,
	approvals *submit.ApprovalRegistry, audit *submit.AuditWriter, logger zerolog.Logger) *submit.Router {

	httpClient := &http.Client{Timeout: time.Duration(cfg.Submission.TimeoutSeconds) * time.Second}

	var private submit.Route
	if cfg.Submission.PrivateRelayURL != "" {
		private = submit.NewPrivateRelayRoute(cfg.Submission.PrivateRelayURL, httpClient)
	}
	var deferred *submit.DeferredRoute
	if cfg.Submission.DeferredExecutorURL != "" {
		deferred = submit.NewDeferredRoute(cfg.Submission.DeferredExecutorURL, httpClient)
	}

	policy := submit.Policy{
		submit.RoutePrivateRelay: {Enabled: private != nil},
		submit.RouteDeferred:     {Enabled: deferred != nil},
		submit.RoutePublicRPC: {
			Enabled:     cfg.Submission.PublicRPCAllowed,
			MaxValueWei: etherToWei(cfg.Submission.PublicMaxValueEther),
		},
	}

	nonces := submit.NewNonceManager(
		func(ctx context.Context, account common.Address) (uint64, error) {
			return rpc.GetTransactionCount(ctx, account, "pending")
		},
		time.Duration(cfg.Submission.NonceReserveMS)*time.Millisecond,
	)

	logger.Info().
		Bool("private_relay", private != nil).
		Bool("deferred", deferred != nil).
		Bool("public_rpc", cfg.Submission.PublicRPCAllowed).
		Msg("Submission routes configured")

	return submit.NewRouter(submit.RouterOptions{
		Private:   private,
		Deferred:  deferred,
		Public:    submit.NewPublicRPCRoute(rpc),
		Policy:    policy,
		Enforcer:  bundle.NewEnforcer(cfg.Bundle),
		Nonces:    nonces,
		Audit:     audit,
		Guard:     g,
		Approvals: approvals,
		HeadBlock: rpc.BlockNumber,
		Bus:       bus,
	})
}

// buildExecutor grants a session key scoped to the curve router's buy
// entrypoint and wires the trade pipeline behind EXECUTE decisions.
func buildExecutor(cfg *config.Config, bus *events.Bus, rpc *chain.RPCClient,
	router *submit.Router, launchpad *chain.LaunchpadClient) (orchestrator.Executor, error) {

	if cfg.Session.MasterKeyHex == "" {
		return nil, fmt.Errorf("execution requires a session master key")
	}
	sessions, err := session.NewManager(cfg.Session, cfg.Session.MasterKeyHex, bus)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	budget, ok := new(big.Int).SetString(cfg.Execution.SessionBudgetWei, 10)
	if !ok {
		return nil, fmt.Errorf("invalid session budget: %q", cfg.Execution.SessionBudgetWei)
	}
	tradeValue, ok := new(big.Int).SetString(cfg.Execution.TradeValueWei, 10)
	if !ok {
		return nil, fmt.Errorf("invalid trade value: %q", cfg.Execution.TradeValueWei)
	}
	maxFee, ok := new(big.Int).SetString(cfg.Execution.MaxFeePerGasWei, 10)
	if !ok {
		return nil, fmt.Errorf("invalid max fee: %q", cfg.Execution.MaxFeePerGasWei)
	}
	priorityFee, ok := new(big.Int).SetString(cfg.Execution.PriorityFeeWei, 10)
	if !ok {
		return nil, fmt.Errorf("invalid priority fee: %q", cfg.Execution.PriorityFeeWei)
	}

	curveRouter := common.HexToAddress(cfg.Execution.CurveRouter)
	buySelector := "0x" + hex.EncodeToString(crypto.Keccak256([]byte("buy(address,uint256)"))[:4])

	ttl := time.Duration(cfg.Execution.SessionTTLHours) * time.Hour
	sess, err := sessions.Create(session.CreateOptions{
		Owner:            cfg.Execution.SessionOwner,
		BudgetWei:        budget,
		ExpiresAt:        time.Now().Add(ttl),
		AllowedSelectors: []string{buySelector},
		AllowedTargets:   []common.Address{curveRouter},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to grant execution session: %w", err)
	}

	return orchestrator.NewPipelineExecutor(orchestrator.ExecutorOptions{
		SessionID:       sess.ID,
		Account:         sess.Address,
		CurveRouter:     curveRouter,
		ChainID:         big.NewInt(cfg.Chain.ChainID),
		TradeValueWei:   tradeValue,
		MaxFeePerGasWei: maxFee,
		PriorityFeeWei:  priorityFee,
	}, sessions, bundle.NewSimulator(rpc), router, launchpad)
}

// buildMetadataPipeline assembles the pinning providers. Without any
// provider the pipeline is skipped entirely.
func buildMetadataPipeline(cfg *config.Config, database *db.DB, bus *events.Bus,
	breakers *resilience.BreakerManager, logger zerolog.Logger) *metadata.Pipeline {

	httpClient := &http.Client{Timeout: 30 * time.Second}
	var pinners []metadata.Pinner
	if cfg.Metadata.PinataJWT != "" {
		pinners = append(pinners, metadata.NewPinataPinner(cfg.Metadata.PinataBaseURL, cfg.Metadata.PinataJWT, httpClient, breakers.IPFS()))
	}
	if cfg.Metadata.NodeAPIURL != "" {
		pinners = append(pinners, metadata.NewNodePinner(cfg.Metadata.NodeAPIURL, httpClient, breakers.IPFS()))
	}
	if len(pinners) == 0 {
		logger.Info().Msg("No pinning providers configured, metadata pipeline disabled")
		return nil
	}

	pinner := metadata.NewMultiPinner(pinners, cfg.Metadata.MinPinSuccess)
	return metadata.NewPipeline(cfg.Metadata, pinner, metadata.NewVersionStore(database.Pool()), bus)
}

// etherToWei converts a whole-ether limit to wei. Zero or negative
// means no limit.
func etherToWei(ether float64) *big.Int {
	if ether <= 0 {
		return nil
	}
	wei, _ := new(big.Float).Mul(big.NewFloat(ether), big.NewFloat(1e18)).Int(nil)
	return wei
}
