package guard

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadpilot/nadpilot/internal/config"
	"github.com/nadpilot/nadpilot/internal/events"
)

type notifiedEvent struct {
	eventType string
	component string
	message   string
	details   map[string]interface{}
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notifiedEvent
}

func (f *fakeNotifier) PublishSecurityEvent(eventType, component, message string, details map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, notifiedEvent{eventType, component, message, details})
}

func (f *fakeNotifier) all() []notifiedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]notifiedEvent, len(f.events))
	copy(out, f.events)
	return out
}

type fakeAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (f *fakeAlerter) SendSecurityAlert(title, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
}

func (f *fakeAlerter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.titles)
}

func setupNATS(t *testing.T) (*nats.Conn, func()) {
	t.Helper()

	opts := &server.Options{
		Host: "127.0.0.1",
		Port: -1,
	}
	ns, err := server.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server failed to start")
	}

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)

	return nc, func() {
		nc.Close()
		ns.Shutdown()
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{"AUTONOMOUS", ModeAutonomous, false},
		{"autonomous", ModeAutonomous, false},
		{"  readonly  ", ModeReadonly, false},
		{"Demo", ModeDemo, false},
		{"manual_approval", ModeManualApproval, false},
		{"", "", true},
		{"YOLO", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.ModeConfig
		want     Mode
		wantKill bool
		wantErr  bool
	}{
		{
			name: "explicit mode wins over flags",
			cfg:  config.ModeConfig{Mode: "autonomous", MainnetReadonly: true, ManualApproval: true},
			want: ModeAutonomous,
		},
		{
			name: "demo flag",
			cfg:  config.ModeConfig{DemoMode: true, MainnetReadonly: true},
			want: ModeDemo,
		},
		{
			name: "default flags resolve to readonly",
			cfg:  config.ModeConfig{MainnetReadonly: true, ManualApproval: true},
			want: ModeReadonly,
		},
		{
			name: "manual approval only",
			cfg:  config.ModeConfig{ManualApproval: true},
			want: ModeManualApproval,
		},
		{
			name: "all flags off",
			cfg:  config.ModeConfig{},
			want: ModeAutonomous,
		},
		{
			name:     "kill switch carried from config",
			cfg:      config.ModeConfig{MainnetReadonly: true, KillSwitchActive: true},
			want:     ModeReadonly,
			wantKill: true,
		},
		{
			name:    "invalid explicit mode",
			cfg:     config.ModeConfig{Mode: "FULL_SEND"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := FromConfig(tt.cfg, Options{Log: zerolog.Nop()})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.Mode())
			assert.Equal(t, tt.wantKill, g.KillSwitchActive())
		})
	}
}

func TestValidate_RuleMatrix(t *testing.T) {
	tests := []struct {
		name         string
		mode         Mode
		kill         bool
		kind         OperationKind
		wantAllowed  bool
		wantApproval bool
		wantSim      bool
	}{
		{name: "autonomous write", mode: ModeAutonomous, kind: KindWrite, wantAllowed: true},
		{name: "demo write simulated", mode: ModeDemo, kind: KindWrite, wantAllowed: true, wantSim: true},
		{name: "readonly write denied", mode: ModeReadonly, kind: KindWrite, wantAllowed: false},
		{name: "manual approval write", mode: ModeManualApproval, kind: KindWrite, wantAllowed: true, wantApproval: true},
		{name: "kill switch denies autonomous write", mode: ModeAutonomous, kill: true, kind: KindWrite, wantAllowed: false},
		{name: "kill switch denies demo write", mode: ModeDemo, kill: true, kind: KindWrite, wantAllowed: false},
		{name: "read allowed in readonly", mode: ModeReadonly, kind: KindRead, wantAllowed: true},
		{name: "read allowed under kill switch", mode: ModeAutonomous, kill: true, kind: KindRead, wantAllowed: true},
		{name: "admin allowed under kill switch", mode: ModeReadonly, kill: true, kind: KindAdmin, wantAllowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.mode, tt.kill, Options{Log: zerolog.Nop()})
			require.NoError(t, err)

			d := g.Validate(tt.kind, "submit_bundle")
			assert.Equal(t, tt.wantAllowed, d.Allowed)
			assert.Equal(t, tt.wantApproval, d.RequiresApproval)
			assert.Equal(t, tt.wantSim, d.Simulated)
			assert.NotEmpty(t, d.Reason)
		})
	}
}

func TestValidate_KillSwitchReason(t *testing.T) {
	g, err := New(ModeAutonomous, true, Options{Log: zerolog.Nop()})
	require.NoError(t, err)

	d := g.Validate(KindWrite, "submit_bundle")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "kill switch")
}

func TestValidate_DeniedWriteRaisesSecurityEvent(t *testing.T) {
	notifier := &fakeNotifier{}
	alerter := &fakeAlerter{}
	g, err := New(ModeReadonly, false, Options{Log: zerolog.Nop(), Notifier: notifier, Alerter: alerter})
	require.NoError(t, err)

	d := g.Validate(KindWrite, "pin_metadata")
	require.False(t, d.Allowed)

	evts := notifier.all()
	require.Len(t, evts, 1)
	assert.Equal(t, events.SecurityWriteBlocked, evts[0].eventType)
	assert.Equal(t, "guard", evts[0].component)
	assert.Equal(t, "pin_metadata", evts[0].details["operation"])
	assert.Equal(t, "READONLY", evts[0].details["mode"])
	assert.Equal(t, 1, alerter.count())
}

func TestValidate_AllowedWriteIsQuiet(t *testing.T) {
	notifier := &fakeNotifier{}
	g, err := New(ModeAutonomous, false, Options{Log: zerolog.Nop(), Notifier: notifier})
	require.NoError(t, err)

	d := g.Validate(KindWrite, "submit_bundle")
	require.True(t, d.Allowed)
	assert.Empty(t, notifier.all())
}

func TestSetMode(t *testing.T) {
	notifier := &fakeNotifier{}
	g, err := New(ModeReadonly, false, Options{Log: zerolog.Nop(), Notifier: notifier})
	require.NoError(t, err)

	require.NoError(t, g.SetMode(ModeAutonomous, "operator-1"))
	assert.Equal(t, ModeAutonomous, g.Mode())

	evts := notifier.all()
	require.Len(t, evts, 1)
	assert.Equal(t, events.SecurityModeChanged, evts[0].eventType)
	assert.Equal(t, "READONLY", evts[0].details["previous"])
	assert.Equal(t, "AUTONOMOUS", evts[0].details["mode"])
	assert.Equal(t, "operator-1", evts[0].details["actor"])

	err = g.SetMode(ModeAutonomous, "operator-1")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already")

	err = g.SetMode(Mode("BOGUS"), "operator-1")
	assert.Error(t, err)
}

func TestKillSwitchLifecycle(t *testing.T) {
	notifier := &fakeNotifier{}
	g, err := New(ModeAutonomous, false, Options{Log: zerolog.Nop(), Notifier: notifier})
	require.NoError(t, err)

	var hookReason string
	g.OnKillSwitch(func(reason string) { hookReason = reason })

	require.NoError(t, g.ActivateKillSwitch("anomalous submissions", "operator-1"))
	assert.True(t, g.KillSwitchActive())
	assert.Equal(t, "anomalous submissions", hookReason)
	assert.False(t, g.Validate(KindWrite, "submit_bundle").Allowed)

	err = g.ActivateKillSwitch("again", "operator-1")
	assert.Error(t, err)

	require.NoError(t, g.DeactivateKillSwitch("operator-2"))
	assert.False(t, g.KillSwitchActive())
	assert.True(t, g.Validate(KindWrite, "submit_bundle").Allowed)

	err = g.DeactivateKillSwitch("operator-2")
	assert.Error(t, err)

	var types []string
	for _, e := range notifier.all() {
		if e.eventType == events.SecurityKillSwitchActivated || e.eventType == events.SecurityKillSwitchDeactivated {
			types = append(types, e.eventType)
		}
	}
	assert.Equal(t, []string{events.SecurityKillSwitchActivated, events.SecurityKillSwitchDeactivated}, types)
}

func TestOnKillSwitch_HookOrder(t *testing.T) {
	g, err := New(ModeAutonomous, false, Options{Log: zerolog.Nop()})
	require.NoError(t, err)

	var order []string
	g.OnKillSwitch(func(string) { order = append(order, "sessions") })
	g.OnKillSwitch(func(string) { order = append(order, "submissions") })

	require.NoError(t, g.ActivateKillSwitch("drill", "operator-1"))
	assert.Equal(t, []string{"sessions", "submissions"}, order)
}

func TestSnapshot(t *testing.T) {
	g, err := New(ModeManualApproval, true, Options{Log: zerolog.Nop()})
	require.NoError(t, err)

	s := g.Snapshot()
	assert.Equal(t, ModeManualApproval, s.Mode)
	assert.True(t, s.KillSwitchActive)
}

func TestGuard_ControlBroadcast(t *testing.T) {
	nc, cleanup := setupNATS(t)
	defer cleanup()

	sub, err := nc.SubscribeSync(events.SubjectControl)
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	g, err := New(ModeReadonly, false, Options{Log: zerolog.Nop(), Conn: nc})
	require.NoError(t, err)

	require.NoError(t, g.SetMode(ModeAutonomous, "operator-1"))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "mode_changed", payload["event"])
	assert.Equal(t, "AUTONOMOUS", payload["mode"])
	assert.Equal(t, "READONLY", payload["previous"])
	assert.Equal(t, "operator-1", payload["actor"])
	assert.NotEmpty(t, payload["timestamp"])

	require.NoError(t, g.ActivateKillSwitch("suspected exploit", "operator-1"))

	msg, err = sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "kill_switch_activated", payload["event"])
	assert.Equal(t, "suspected exploit", payload["reason"])
}
