package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/chain"
	"github.com/nadpilot/nadpilot/internal/config"
	"github.com/nadpilot/nadpilot/internal/metrics"
	"github.com/nadpilot/nadpilot/internal/runrecord"
)

// seenTTL keeps a swept token out of rotation for a day
const seenTTL = 24 * time.Hour

const sweepCheckpointKey = "sweep:last_run"

type sweepLister interface {
	Trending(ctx context.Context, limit int) ([]chain.TokenData, error)
	NewTokens(ctx context.Context, limit int) ([]chain.TokenData, error)
}

type runStarter interface {
	Run(ctx context.Context, trig Trigger) (*runrecord.RunRecord, error)
}

// Sweeper periodically evaluates trending and newly launched tokens.
// A Redis checkpoint keeps already-swept tokens from re-triggering
// across restarts; without Redis the seen set is process-local.
type Sweeper struct {
	cfg    config.SweepConfig
	tokens sweepLister
	runner runStarter
	redis  *redis.Client
	log    zerolog.Logger

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewSweeper creates a sweeper. redis may be nil.
func NewSweeper(cfg config.SweepConfig, tokens sweepLister, runner runStarter, rdb *redis.Client) *Sweeper {
	if cfg.IntervalSeconds <= 0 {
		cfg.IntervalSeconds = 300
	}
	if cfg.TrendingLimit <= 0 {
		cfg.TrendingLimit = 10
	}
	if cfg.NewLimit <= 0 {
		cfg.NewLimit = 10
	}
	return &Sweeper{
		cfg:    cfg,
		tokens: tokens,
		runner: runner,
		redis:  rdb,
		log:    log.With().Str("component", "sweeper").Logger(),
		seen:   make(map[string]time.Time),
	}
}

// Start blocks, sweeping on the configured interval until ctx ends
func (s *Sweeper) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.log.Info().Msg("Sweep trigger disabled")
		return
	}
	interval := time.Duration(s.cfg.IntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", interval).Msg("Sweep trigger started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Error().Err(err).Msg("Sweep failed")
			}
		}
	}
}

// Sweep runs one pass over trending and new tokens
func (s *Sweeper) Sweep(ctx context.Context) error {
	trending, err := s.tokens.Trending(ctx, s.cfg.TrendingLimit)
	if err != nil {
		return fmt.Errorf("failed to list trending tokens: %w", err)
	}
	fresh, err := s.tokens.NewTokens(ctx, s.cfg.NewLimit)
	if err != nil {
		return fmt.Errorf("failed to list new tokens: %w", err)
	}

	candidates := make([]chain.TokenData, 0, len(trending)+len(fresh))
	addresses := make(map[string]bool)
	for _, t := range append(trending, fresh...) {
		if t.Address == "" || addresses[t.Address] {
			continue
		}
		addresses[t.Address] = true
		candidates = append(candidates, t)
	}

	triggered := 0
	for _, token := range candidates {
		first, err := s.claim(ctx, token.Address)
		if err != nil {
			s.log.Warn().Err(err).Str("token", token.Address).Msg("Sweep checkpoint unavailable")
			continue
		}
		if !first {
			continue
		}
		triggered++
		if _, err := s.runner.Run(ctx, Trigger{
			Source:       "sweep",
			Query:        token.Symbol,
			TokenAddress: token.Address,
		}); err != nil {
			s.log.Warn().Err(err).Str("token", token.Address).Msg("Sweep run failed")
		}
	}

	s.checkpoint(ctx)
	s.log.Info().
		Int("candidates", len(candidates)).
		Int("triggered", triggered).
		Msg("Sweep pass complete")
	return nil
}

// claim marks a token as swept, returning true on first sight
func (s *Sweeper) claim(ctx context.Context, address string) (bool, error) {
	if s.redis != nil {
		key := "sweep:seen:" + address
		ok, err := s.redis.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), seenTTL).Result()
		if err != nil {
			return false, err
		}
		metrics.RecordRedisOperation("setnx")
		return ok, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.seen[address]; ok && time.Since(last) < seenTTL {
		return false, nil
	}
	s.seen[address] = time.Now()
	return true, nil
}

// checkpoint records the last completed pass for operators
func (s *Sweeper) checkpoint(ctx context.Context) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, sweepCheckpointKey, time.Now().UTC().Format(time.RFC3339), 0).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to write sweep checkpoint")
	}
}

// triggerMessage is the payload on the external trigger subject
type triggerMessage struct {
	Query        string `json:"query,omitempty"`
	TokenAddress string `json:"tokenAddress,omitempty"`
}

// SubscribeTriggers starts runs for external trigger messages on a NATS
// subject. Each message starts its run on a fresh goroutine.
func SubscribeTriggers(nc *nats.Conn, subject string, runner runStarter) (*nats.Subscription, error) {
	if subject == "" {
		subject = "nadpilot.triggers.run"
	}
	logger := log.With().Str("component", "trigger-listener").Logger()
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var tm triggerMessage
		if err := json.Unmarshal(msg.Data, &tm); err != nil {
			logger.Warn().Err(err).Msg("Invalid trigger message")
			return
		}
		if tm.Query == "" && tm.TokenAddress == "" {
			logger.Warn().Msg("Trigger message names no query or token")
			return
		}
		go func() {
			if _, err := runner.Run(context.Background(), Trigger{
				Source:       "event",
				Query:        tm.Query,
				TokenAddress: tm.TokenAddress,
			}); err != nil {
				logger.Warn().Err(err).Msg("Event-triggered run failed")
			}
		}()
	})
}
