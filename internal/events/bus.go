package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/metrics"
)

const (
	// DefaultBufferSize is the per-subscription channel capacity. A
	// subscription whose buffer fills is dropped as a slow consumer.
	DefaultBufferSize = 256

	// DefaultHeartbeatInterval is how often every subscription receives a
	// heartbeat event regardless of its filters.
	DefaultHeartbeatInterval = 15 * time.Second
)

// Filter selects which events a subscription receives. Zero fields match
// everything. Heartbeats bypass filtering so transports stay alive.
type Filter struct {
	RunID      string
	Agents     []string
	Severities []Severity
	Types      []string
}

// Match reports whether e passes the filter
func (f Filter) Match(e Event) bool {
	if e.Type == TypeHeartbeat {
		return true
	}
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	if len(f.Agents) > 0 && !containsString(f.Agents, e.Agent) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, e.Severity) {
		return false
	}
	if len(f.Types) > 0 && !containsString(f.Types, e.Type) {
		return false
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsSeverity(list []Severity, v Severity) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Subscription is one consumer's view of the bus. Events arrive on a
// buffered channel in emission order; the channel closes after Close or
// after a slow-consumer drop.
type Subscription struct {
	id     string
	filter Filter
	bus    *Bus

	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// ID returns the subscription identifier
func (s *Subscription) ID() string {
	return s.id
}

// Events returns the receive channel
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscription from the bus and closes its channel
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
	s.shutdown()
}

// deliver enqueues an event without blocking. Returns false when the
// buffer is full, which marks the consumer as too slow to keep.
func (s *Subscription) deliver(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

// terminate pushes a final event and closes the channel. One pending
// event is evicted if needed so the terminal marker always fits.
func (s *Subscription) terminate(terminal Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- terminal:
	default:
	}
	close(s.ch)
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Options configures a Bus
type Options struct {
	// Conn enables the NATS mirror when set. Every non-heartbeat event is
	// republished on the per-run mirror subject for external consumers.
	Conn *nats.Conn

	// BufferSize is the per-subscription channel capacity (default 256)
	BufferSize int

	// HeartbeatInterval overrides the heartbeat period. Zero means the
	// default; a negative value disables heartbeats (tests).
	HeartbeatInterval time.Duration
}

// Bus is the in-process live event hub. Publishers never block: a
// subscription that cannot keep up receives a terminal SLOW_CONSUMER
// event and is dropped.
type Bus struct {
	nc         *nats.Conn
	bufferSize int

	mu   sync.RWMutex
	subs map[string]*Subscription

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewBus creates the hub and starts its heartbeat ticker
func NewBus(opts Options) *Bus {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	heartbeat := opts.HeartbeatInterval
	if heartbeat == 0 {
		heartbeat = DefaultHeartbeatInterval
	}

	b := &Bus{
		nc:         opts.Conn,
		bufferSize: opts.BufferSize,
		subs:       make(map[string]*Subscription),
		stopCh:     make(chan struct{}),
	}

	if heartbeat > 0 {
		b.wg.Add(1)
		go b.heartbeatLoop(heartbeat)
	}

	return b
}

// Subscribe registers a new consumer with the given filter
func (b *Bus) Subscribe(filter Filter) *Subscription {
	sub := &Subscription{
		id:     uuid.NewString(),
		filter: filter,
		bus:    b,
		ch:     make(chan Event, b.bufferSize),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	count := len(b.subs)
	b.mu.Unlock()

	metrics.UpdateEventBusClients(count)
	log.Debug().
		Str("subscription_id", sub.id).
		Str("run_id", filter.RunID).
		Int("clients", count).
		Msg("Event bus subscription added")

	return sub
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	_, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	count := len(b.subs)
	b.mu.Unlock()

	if ok {
		metrics.UpdateEventBusClients(count)
		log.Debug().Str("subscription_id", id).Int("clients", count).Msg("Event bus subscription removed")
	}
}

// ClientCount returns the number of active subscriptions
func (b *Bus) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish fans an event out to every matching subscription and mirrors
// it to NATS when a connection is configured. Missing fields are filled
// with defaults: id, UTC timestamp, info severity, system agent.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if e.Agent == "" {
		e.Agent = AgentSystem
	}

	metrics.RecordEventPublished(e.Type)

	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.filter.Match(e) {
			continue
		}
		if !sub.deliver(e) {
			b.dropSlowConsumer(sub)
		}
	}

	b.mirror(e)
}

// PublishSecurityEvent raises a security alert on the bus and the NATS
// security subject. A "runId" entry in details scopes the event to that
// run's stream.
func (b *Bus) PublishSecurityEvent(eventType, component, message string, details map[string]interface{}) {
	metrics.RecordSecurityEvent(eventType)

	data := map[string]interface{}{
		"eventType": eventType,
		"component": component,
	}
	runID := ""
	for k, v := range details {
		if k == "runId" {
			if id, ok := v.(string); ok {
				runID = id
			}
		}
		data[k] = v
	}

	b.Publish(Event{
		RunID:    runID,
		Type:     TypeSecurityAlert,
		Severity: securitySeverity(eventType),
		Message:  message,
		Data:     data,
	})
}

func securitySeverity(eventType string) Severity {
	switch eventType {
	case SecurityKillSwitchActivated, SecurityAdversarialBlocked, SecurityRouteFallbackDenied:
		return SeverityCritical
	default:
		return SeverityWarn
	}
}

func (b *Bus) dropSlowConsumer(sub *Subscription) {
	b.unsubscribe(sub.id)
	metrics.RecordEventDropped("slow_consumer")

	terminal := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      TypeSlowConsumer,
		Agent:     AgentSystem,
		Severity:  SeverityError,
		Message:   "subscription dropped: consumer not keeping up",
	}
	sub.terminate(terminal)

	log.Warn().
		Str("subscription_id", sub.id).
		Int("buffer_size", b.bufferSize).
		Msg("Dropped slow event bus consumer")
}

// mirror republishes an event to NATS for external consumers. Heartbeats
// stay in-process; NATS has its own keepalive.
func (b *Bus) mirror(e Event) {
	if b.nc == nil || e.Type == TypeHeartbeat {
		return
	}

	data, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Str("event_type", e.Type).Msg("Failed to marshal event for NATS mirror")
		return
	}

	subject := RunEventSubject(e.RunID)
	if err := b.nc.Publish(subject, data); err != nil {
		metrics.RecordError("nats_publish", "events")
		log.Warn().Err(err).Str("subject", subject).Msg("Failed to mirror event to NATS")
		return
	}

	if e.Type == TypeSecurityAlert {
		if err := b.nc.Publish(SubjectSecurityEvents, data); err != nil {
			metrics.RecordError("nats_publish", "events")
			log.Warn().Err(err).Str("subject", SubjectSecurityEvents).Msg("Failed to mirror security event to NATS")
		}
	}
}

func (b *Bus) heartbeatLoop(interval time.Duration) {
	defer b.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.Publish(Event{
				Type:     TypeHeartbeat,
				Severity: SeverityDebug,
				Message:  "heartbeat",
			})
		}
	}
}

// Close stops the heartbeat ticker and closes every subscription
func (b *Bus) Close() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	b.wg.Wait()

	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
	metrics.UpdateEventBusClients(0)

	log.Info().Int("closed_subscriptions", len(subs)).Msg("Event bus closed")
}
