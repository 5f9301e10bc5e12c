package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/nadpilot/nadpilot/internal/config"
	"github.com/nadpilot/nadpilot/internal/events"
	"github.com/nadpilot/nadpilot/internal/metrics"
)

// versionStore is the persistence surface the pipeline needs
type versionStore interface {
	Insert(ctx context.Context, v *TokenMetadataVersion) error
	Latest(ctx context.Context, token string, chainID int64) (*TokenMetadataVersion, error)
}

// tokenLimiter enforces both per-token rate lines
type tokenLimiter struct {
	cooldown *rate.Limiter // 1 update per cooldown window
	hourly   *rate.Limiter // updates per hour
}

func (l *tokenLimiter) allow() bool {
	if !l.cooldown.Allow() {
		return false
	}
	if !l.hourly.Allow() {
		return false
	}
	return true
}

// Pipeline publishes descriptor versions when milestones trip. One
// instance serves every tracked token.
type Pipeline struct {
	tracker *Tracker
	builder *Builder
	pinner  *MultiPinner
	store   versionStore
	bus     *events.Bus
	log     zerolog.Logger

	cooldown       time.Duration
	updatesPerHour int

	mu       sync.Mutex
	limiters map[tokenKey]*tokenLimiter
}

// NewPipeline creates the metadata pipeline
func NewPipeline(cfg config.MetadataConfig, pinner *MultiPinner, store versionStore, bus *events.Bus) *Pipeline {
	cooldown := time.Duration(cfg.UpdateCooldownMS) * time.Millisecond
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	perHour := cfg.UpdatesPerHour
	if perHour <= 0 {
		perHour = 10
	}
	return &Pipeline{
		tracker:        NewTracker(),
		builder:        NewBuilder(),
		pinner:         pinner,
		store:          store,
		bus:            bus,
		log:            log.With().Str("component", "metadata-pipeline").Logger(),
		cooldown:       cooldown,
		updatesPerHour: perHour,
		limiters:       make(map[tokenKey]*tokenLimiter),
	}
}

// Observe evaluates an on-chain observation and publishes one new
// descriptor version per newly crossed milestone, subject to the
// per-token rate limits.
func (p *Pipeline) Observe(ctx context.Context, in BuildInput) ([]*TokenMetadataVersion, error) {
	crossed := p.tracker.Evaluate(Observation{
		Token:       in.Token,
		ChainID:     in.ChainID,
		CurvePct:    in.CurvePct,
		HolderCount: holderCount(in),
		Graduated:   in.Graduated,
		Status:      in.Status,
	})
	if len(crossed) == 0 {
		return nil, nil
	}

	var published []*TokenMetadataVersion
	for _, milestone := range crossed {
		if !p.limiter(in.Token, in.ChainID).allow() {
			p.log.Warn().
				Str("token", in.Token).
				Str("milestone", milestone.key()).
				Msg("Metadata update rate-limited")
			continue
		}

		in.Milestone = milestone
		v, err := p.publish(ctx, in)
		if err != nil {
			return published, err
		}
		published = append(published, v)
	}
	return published, nil
}

// publish builds, pins, and persists one descriptor version
func (p *Pipeline) publish(ctx context.Context, in BuildInput) (*TokenMetadataVersion, error) {
	body, err := p.builder.Build(in)
	if err != nil {
		return nil, fmt.Errorf("failed to build descriptor for %s: %w", in.Token, err)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal descriptor for %s: %w", in.Token, err)
	}

	name := fmt.Sprintf("%s-%s-%s", in.Token, in.Milestone.Kind, in.Milestone.Threshold)
	cid, pinResults, err := p.pinner.Pin(ctx, name, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to pin descriptor for %s: %w", in.Token, err)
	}

	version := &TokenMetadataVersion{
		Token:      in.Token,
		ChainID:    in.ChainID,
		CID:        cid,
		Body:       body,
		Integrity:  body["integrity"].(string),
		Milestone:  in.Milestone,
		PinResults: pinResults,
	}

	previous, err := p.store.Latest(ctx, in.Token, in.ChainID)
	switch {
	case err == nil:
		version.PreviousCID = previous.CID
		version.Patch = Diff(previous.Body, body)
	case errors.Is(err, ErrVersionNotFound):
		// first version
	default:
		return nil, fmt.Errorf("failed to load previous descriptor for %s: %w", in.Token, err)
	}

	if err := p.store.Insert(ctx, version); err != nil {
		return nil, fmt.Errorf("failed to persist descriptor version for %s: %w", in.Token, err)
	}

	metrics.RecordMetadataVersion()
	p.log.Info().
		Str("token", in.Token).
		Int("version", version.Version).
		Str("cid", cid).
		Str("milestone", in.Milestone.key()).
		Msg("Metadata version published")

	if p.bus != nil {
		p.bus.Publish(events.Event{
			Type:     events.TypeMetadataVersion,
			Agent:    events.AgentSystem,
			Severity: events.SeverityInfo,
			Message:  fmt.Sprintf("metadata v%d published for %s", version.Version, in.Token),
			Data: map[string]interface{}{
				"token":     in.Token,
				"version":   version.Version,
				"cid":       cid,
				"milestone": in.Milestone.key(),
			},
		})
	}
	return version, nil
}

func (p *Pipeline) limiter(token string, chainID int64) *tokenLimiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := tokenKey{token: token, chainID: chainID}
	l, ok := p.limiters[key]
	if !ok {
		l = &tokenLimiter{
			cooldown: rate.NewLimiter(rate.Every(p.cooldown), 1),
			hourly:   rate.NewLimiter(rate.Limit(float64(p.updatesPerHour)/3600.0), p.updatesPerHour),
		}
		p.limiters[key] = l
	}
	return l
}

func holderCount(in BuildInput) uint64 {
	if in.Holders == nil {
		return 0
	}
	return in.Holders.HolderCount
}
