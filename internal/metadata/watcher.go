package metadata

import (
	"context"
	"math/big"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/chain"
	"github.com/nadpilot/nadpilot/internal/config"
)

// tokenLister supplies the tokens worth watching for milestones
type tokenLister interface {
	Trending(ctx context.Context, limit int) ([]chain.TokenData, error)
}

// chainReader supplies the per-token depth the descriptor embeds
type chainReader interface {
	PoolLiquidity(ctx context.Context, token string) (*chain.PoolLiquidity, error)
	HolderAnalysis(ctx context.Context, token string) (*chain.HolderAnalysis, error)
}

// Watcher polls trending tokens and feeds their on-chain state to the
// metadata pipeline so milestone crossings publish new descriptor
// versions without a run in flight.
type Watcher struct {
	pipeline *Pipeline
	tokens   tokenLister
	reader   chainReader
	chainID  int64
	interval time.Duration
	limit    int
	log      zerolog.Logger
}

// NewWatcher creates a milestone watcher
func NewWatcher(cfg config.MetadataConfig, chainID int64, pipeline *Pipeline, tokens tokenLister, reader chainReader) *Watcher {
	interval := time.Duration(cfg.WatchIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	limit := cfg.WatchLimit
	if limit <= 0 {
		limit = 25
	}
	return &Watcher{
		pipeline: pipeline,
		tokens:   tokens,
		reader:   reader,
		chainID:  chainID,
		interval: interval,
		limit:    limit,
		log:      log.With().Str("component", "metadata-watcher").Logger(),
	}
}

// Start blocks, polling on the configured interval until ctx ends
func (w *Watcher) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info().Dur("interval", w.interval).Int("limit", w.limit).Msg("Metadata watcher started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Poll(ctx); err != nil {
				w.log.Warn().Err(err).Msg("Metadata poll failed")
			}
		}
	}
}

// Poll runs one pass over the trending set. Per-token fetch failures
// degrade that token's observation rather than aborting the pass.
func (w *Watcher) Poll(ctx context.Context) error {
	tokens, err := w.tokens.Trending(ctx, w.limit)
	if err != nil {
		return err
	}

	for _, token := range tokens {
		in := BuildInput{
			Token:     token.Address,
			ChainID:   w.chainID,
			Name:      token.Name,
			Symbol:    token.Symbol,
			Graduated: token.IsGraduated,
		}
		if token.IsGraduated {
			in.CurvePct = 100
			in.Status = "graduated"
		} else {
			in.CurvePct = reserveFillPct(token.ReserveNative, token.VirtualNative)
			in.Status = "bonding"
		}

		if w.reader != nil {
			if pool, err := w.reader.PoolLiquidity(ctx, token.Address); err == nil {
				in.Pool = pool
			}
			if holders, err := w.reader.HolderAnalysis(ctx, token.Address); err == nil {
				in.Holders = holders
			}
		}

		if _, err := w.pipeline.Observe(ctx, in); err != nil {
			w.log.Warn().Err(err).Str("token", token.Address).Msg("Milestone observation failed")
		}
	}
	return nil
}

// reserveFillPct estimates bonding-curve fill from the real and
// virtual native reserves. Unparseable reserves yield zero.
func reserveFillPct(reserveNative, virtualNative string) float64 {
	reserve, okR := new(big.Float).SetString(reserveNative)
	virtual, okV := new(big.Float).SetString(virtualNative)
	if !okR || !okV || reserve.Sign() <= 0 || virtual.Sign() <= 0 {
		return 0
	}
	total := new(big.Float).Add(reserve, virtual)
	pct, _ := new(big.Float).Quo(reserve, total).Float64()
	return pct * 100
}
