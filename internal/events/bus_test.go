package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupNATS starts an embedded NATS server for mirror tests
func setupNATS(t *testing.T) (*nats.Conn, func()) {
	opts := &server.Options{
		Host: "127.0.0.1",
		Port: -1, // Random port
	}
	ns, err := server.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)

	cleanup := func() {
		nc.Close()
		ns.Shutdown()
	}
	return nc, cleanup
}

func receive(t *testing.T, sub *Subscription, timeout time.Duration) Event {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		require.True(t, ok, "subscription channel closed unexpectedly")
		return e
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBus_PublishAndReceive(t *testing.T) {
	bus := NewBus(Options{HeartbeatInterval: -1})
	defer bus.Close()

	sub := bus.Subscribe(Filter{})

	bus.Publish(Event{
		RunID:   "run-1",
		Type:    TypeRunStarted,
		Message: "evaluating token MCAT",
	})

	e := receive(t, sub, 2*time.Second)
	assert.Equal(t, "run-1", e.RunID)
	assert.Equal(t, TypeRunStarted, e.Type)
	assert.Equal(t, "evaluating token MCAT", e.Message)

	// Defaults filled on publish
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, SeverityInfo, e.Severity)
	assert.Equal(t, AgentSystem, e.Agent)
}

func TestFilter_Match(t *testing.T) {
	base := Event{
		RunID:    "run-1",
		Type:     TypeAgentOpinion,
		Agent:    "scout",
		Severity: SeverityInfo,
	}

	tests := []struct {
		name   string
		filter Filter
		event  Event
		want   bool
	}{
		{
			name:   "empty filter matches everything",
			filter: Filter{},
			event:  base,
			want:   true,
		},
		{
			name:   "run id match",
			filter: Filter{RunID: "run-1"},
			event:  base,
			want:   true,
		},
		{
			name:   "run id mismatch",
			filter: Filter{RunID: "run-2"},
			event:  base,
			want:   false,
		},
		{
			name:   "agent match",
			filter: Filter{Agents: []string{"scout", "macro"}},
			event:  base,
			want:   true,
		},
		{
			name:   "agent mismatch",
			filter: Filter{Agents: []string{"risk"}},
			event:  base,
			want:   false,
		},
		{
			name:   "severity mismatch",
			filter: Filter{Severities: []Severity{SeverityError, SeverityCritical}},
			event:  base,
			want:   false,
		},
		{
			name:   "type match",
			filter: Filter{Types: []string{TypeAgentOpinion}},
			event:  base,
			want:   true,
		},
		{
			name:   "type mismatch",
			filter: Filter{Types: []string{TypeConsensusDecision}},
			event:  base,
			want:   false,
		},
		{
			name:   "heartbeat bypasses all filters",
			filter: Filter{RunID: "run-9", Agents: []string{"risk"}, Types: []string{TypeRunError}},
			event:  Event{Type: TypeHeartbeat},
			want:   true,
		},
		{
			name:   "combined filter all pass",
			filter: Filter{RunID: "run-1", Agents: []string{"scout"}, Severities: []Severity{SeverityInfo}},
			event:  base,
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(tt.event))
		})
	}
}

func TestBus_SubscriptionFiltering(t *testing.T) {
	bus := NewBus(Options{HeartbeatInterval: -1})
	defer bus.Close()

	run1 := bus.Subscribe(Filter{RunID: "run-1"})
	run2 := bus.Subscribe(Filter{RunID: "run-2"})

	bus.Publish(Event{RunID: "run-1", Type: TypeRunStarted, Message: "first"})

	e := receive(t, run1, 2*time.Second)
	assert.Equal(t, "run-1", e.RunID)

	select {
	case e := <-run2.Events():
		t.Fatalf("run-2 subscription should not receive run-1 events, got %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_OrderPreserved(t *testing.T) {
	bus := NewBus(Options{HeartbeatInterval: -1})
	defer bus.Close()

	sub := bus.Subscribe(Filter{RunID: "run-1"})

	const n = 100
	for i := 0; i < n; i++ {
		bus.Publish(Event{
			RunID: "run-1",
			Type:  TypeAgentOpinion,
			Data:  map[string]interface{}{"seq": i},
		})
	}

	for i := 0; i < n; i++ {
		e := receive(t, sub, 2*time.Second)
		assert.Equal(t, i, e.Data["seq"], "events must arrive in emission order")
	}
}

func TestBus_SlowConsumerDropped(t *testing.T) {
	bus := NewBus(Options{HeartbeatInterval: -1, BufferSize: 2})
	defer bus.Close()

	sub := bus.Subscribe(Filter{})
	require.Equal(t, 1, bus.ClientCount())

	for i := 0; i < 4; i++ {
		bus.Publish(Event{RunID: "run-1", Type: TypeAgentOpinion, Data: map[string]interface{}{"seq": i}})
	}

	var got []Event
	for e := range sub.Events() {
		got = append(got, e)
	}

	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, TypeSlowConsumer, last.Type)
	assert.Equal(t, SeverityError, last.Severity)
	assert.Equal(t, 0, bus.ClientCount(), "slow consumer should be removed from the bus")
}

func TestBus_Heartbeat(t *testing.T) {
	bus := NewBus(Options{HeartbeatInterval: 30 * time.Millisecond})
	defer bus.Close()

	// Heartbeats must reach subscriptions whose filters match nothing else
	sub := bus.Subscribe(Filter{RunID: "no-such-run"})

	e := receive(t, sub, 2*time.Second)
	assert.Equal(t, TypeHeartbeat, e.Type)
	assert.Equal(t, SeverityDebug, e.Severity)
}

func TestBus_SecurityEvent(t *testing.T) {
	bus := NewBus(Options{HeartbeatInterval: -1})
	defer bus.Close()

	sub := bus.Subscribe(Filter{})

	bus.PublishSecurityEvent(SecurityWriteBlocked, "guard", "write operation blocked in READONLY mode", map[string]interface{}{
		"runId":     "run-1",
		"operation": "submit_bundle",
	})

	e := receive(t, sub, 2*time.Second)
	assert.Equal(t, TypeSecurityAlert, e.Type)
	assert.Equal(t, "run-1", e.RunID, "runId detail should scope the event to the run stream")
	assert.Equal(t, SeverityWarn, e.Severity)
	assert.Equal(t, SecurityWriteBlocked, e.Data["eventType"])
	assert.Equal(t, "guard", e.Data["component"])
	assert.Equal(t, "submit_bundle", e.Data["operation"])
}

func TestBus_SecurityEventSeverities(t *testing.T) {
	bus := NewBus(Options{HeartbeatInterval: -1})
	defer bus.Close()

	sub := bus.Subscribe(Filter{})

	bus.PublishSecurityEvent(SecurityKillSwitchActivated, "guard", "kill switch activated", nil)

	e := receive(t, sub, 2*time.Second)
	assert.Equal(t, SeverityCritical, e.Severity)
}

func TestBus_NATSMirror(t *testing.T) {
	nc, cleanup := setupNATS(t)
	defer cleanup()

	bus := NewBus(Options{HeartbeatInterval: -1, Conn: nc})
	defer bus.Close()

	mirror, err := nc.SubscribeSync(RunEventSubject("run-7"))
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	bus.Publish(Event{
		RunID:   "run-7",
		Type:    TypeConsensusDecision,
		Message: "decision reached",
		Data:    map[string]interface{}{"status": "EXECUTE"},
	})

	msg, err := mirror.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var e Event
	require.NoError(t, json.Unmarshal(msg.Data, &e))
	assert.Equal(t, "run-7", e.RunID)
	assert.Equal(t, TypeConsensusDecision, e.Type)
	assert.Equal(t, "EXECUTE", e.Data["status"])
	assert.NotEmpty(t, e.ID)
}

func TestBus_NATSSecuritySubject(t *testing.T) {
	nc, cleanup := setupNATS(t)
	defer cleanup()

	bus := NewBus(Options{HeartbeatInterval: -1, Conn: nc})
	defer bus.Close()

	security, err := nc.SubscribeSync(SubjectSecurityEvents)
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	bus.PublishSecurityEvent(SecurityRouteFallbackDenied, "submit", "public_rpc fallback refused", map[string]interface{}{
		"runId": "run-3",
	})

	msg, err := security.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var e Event
	require.NoError(t, json.Unmarshal(msg.Data, &e))
	assert.Equal(t, TypeSecurityAlert, e.Type)
	assert.Equal(t, SecurityRouteFallbackDenied, e.Data["eventType"])
	assert.Equal(t, SeverityCritical, e.Severity)
}

func TestBus_Close(t *testing.T) {
	bus := NewBus(Options{HeartbeatInterval: -1})

	sub := bus.Subscribe(Filter{})
	bus.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok, "subscription channel should close with the bus")

	// Publishing after close must not panic
	assert.NotPanics(t, func() {
		bus.Publish(Event{Type: TypeRunStarted})
	})
}

func TestSubscription_Close(t *testing.T) {
	bus := NewBus(Options{HeartbeatInterval: -1})
	defer bus.Close()

	sub := bus.Subscribe(Filter{})
	require.Equal(t, 1, bus.ClientCount())

	sub.Close()
	assert.Equal(t, 0, bus.ClientCount())

	_, ok := <-sub.Events()
	assert.False(t, ok)

	// Double close is safe
	assert.NotPanics(t, sub.Close)
}
