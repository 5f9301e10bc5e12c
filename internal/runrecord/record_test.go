package runrecord

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadpilot/nadpilot/internal/agents"
	"github.com/nadpilot/nadpilot/internal/config"
	"github.com/nadpilot/nadpilot/internal/consensus"
	"github.com/nadpilot/nadpilot/internal/events"
	"github.com/nadpilot/nadpilot/internal/llm"
)

func sampleRecord(t *testing.T) *RunRecord {
	t.Helper()
	rec := New("run-1", "corr-1", "evaluate EXM launch")
	require.NoError(t, rec.SetToken("0x1234", "EXM"))
	require.NoError(t, rec.AppendOpinion(agents.Opinion{Role: llm.RoleMacro, Recommendation: agents.RecommendExecute, Confidence: 0.9}))
	require.NoError(t, rec.AppendOpinion(agents.Opinion{Role: llm.RoleScout, Recommendation: agents.RecommendHold, Confidence: 0.7}))
	require.NoError(t, rec.SetDecision(consensus.Decision{Status: consensus.StatusHold, Reason: "split opinions"}))
	require.NoError(t, rec.AppendEvent(events.Event{ID: "e1", RunID: "run-1", Type: events.TypeRunStarted, Timestamp: time.Now().UTC()}))
	require.NoError(t, rec.AppendEvent(events.Event{ID: "e2", RunID: "run-1", Type: events.TypeRunCompleted, Timestamp: time.Now().UTC()}))
	return rec
}

func TestRecordLifecycle(t *testing.T) {
	rec := sampleRecord(t)
	assert.Equal(t, StatusRunning, rec.Status)
	assert.False(t, rec.Frozen())

	require.NoError(t, rec.Complete())
	assert.Equal(t, StatusComplete, rec.Status)
	assert.True(t, rec.Frozen())
	assert.NotEmpty(t, rec.ContentHash)
	require.NotNil(t, rec.CompletedAt)

	// Frozen records refuse every write.
	assert.ErrorIs(t, rec.AppendOpinion(agents.Opinion{}), ErrFrozen)
	assert.ErrorIs(t, rec.AppendEvent(events.Event{}), ErrFrozen)
	assert.ErrorIs(t, rec.SetDecision(consensus.Decision{}), ErrFrozen)
	assert.ErrorIs(t, rec.Complete(), ErrFrozen)
}

func TestRecordPreservesOpinionOrder(t *testing.T) {
	rec := sampleRecord(t)
	require.Len(t, rec.Opinions, 2)
	assert.Equal(t, llm.RoleMacro, rec.Opinions[0].Role)
	assert.Equal(t, llm.RoleScout, rec.Opinions[1].Role)
}

func TestRecordFailPreservesPartialOpinions(t *testing.T) {
	rec := sampleRecord(t)
	require.NoError(t, rec.Fail("deadline exceeded"))
	assert.Equal(t, StatusError, rec.Status)
	assert.Equal(t, "deadline exceeded", rec.Error)
	assert.Len(t, rec.Opinions, 2)
}

func TestContentAddressDeterministic(t *testing.T) {
	rec := sampleRecord(t)
	a, err := rec.ContentAddress()
	require.NoError(t, err)
	b, err := rec.ContentAddress()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	require.NoError(t, rec.AppendEvent(events.Event{ID: "e3", Type: events.TypeHeartbeat}))
	c, err := rec.ContentAddress()
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

// fakeIndex records upserts in memory
type fakeIndex struct {
	mu      sync.Mutex
	entries map[string]IndexEntry
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{entries: make(map[string]IndexEntry)}
}

func (f *fakeIndex) Upsert(ctx context.Context, entry IndexEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[entry.ID] = entry
	return nil
}

func (f *fakeIndex) List(ctx context.Context, limit int) ([]IndexEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []IndexEntry
	for _, e := range f.entries {
		out = append(out, e)
	}
	return out, nil
}

func TestStoreSaveFetchRoundTrip(t *testing.T) {
	dir := t.TempDir()
	index := newFakeIndex()
	store, err := NewStore(config.RecordsConfig{Dir: dir}, index)
	require.NoError(t, err)

	rec := sampleRecord(t)
	require.NoError(t, rec.Complete())
	require.NoError(t, store.Save(context.Background(), rec))

	got, err := store.Fetch("run-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.ContentHash, got.ContentHash)
	assert.Len(t, got.Opinions, 2)
	assert.Len(t, got.Events, 2)
	assert.True(t, got.Frozen(), "fetched completed records stay frozen")

	entry := index.entries["run-1"]
	assert.Equal(t, StatusComplete, entry.Status)
	assert.Equal(t, "HOLD", entry.Decision)
	assert.Equal(t, "EXM", entry.TokenSymbol)
	assert.Equal(t, 2, entry.EventCount)
}

func TestStoreFetchVerifiesDigest(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(config.RecordsConfig{Dir: dir}, nil)
	require.NoError(t, err)

	rec := sampleRecord(t)
	require.NoError(t, rec.Complete())
	require.NoError(t, store.Save(context.Background(), rec))

	path := filepath.Join(dir, "run-1.json")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(raw), digestHeaderPrefix))

	tampered := strings.Replace(string(raw), "EXM", "XME", 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	_, err = store.Fetch("run-1")
	assert.ErrorIs(t, err, ErrDigestMismatch)
}

func TestStoreFetchUnknownID(t *testing.T) {
	store, err := NewStore(config.RecordsConfig{Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	_, err = store.Fetch("missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestCheckCompatible(t *testing.T) {
	assert.NoError(t, CheckCompatible("1.0.0"))
	assert.NoError(t, CheckCompatible("1.9.3"))
	assert.Error(t, CheckCompatible("2.0.0"))
	assert.Error(t, CheckCompatible("not-a-version"))
}

func replayRecord(t *testing.T, gaps ...time.Duration) *RunRecord {
	t.Helper()
	rec := New("run-1", "corr-1", "")
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, gap := range append([]time.Duration{0}, gaps...) {
		ts = ts.Add(gap)
		require.NoError(t, rec.AppendEvent(events.Event{
			ID: "e" + string(rune('1'+i)), RunID: "run-1",
			Type: events.TypePhaseChanged, Timestamp: ts,
		}))
	}
	require.NoError(t, rec.Complete())
	return rec
}

func TestPlayerEmitsInOrderWithCappedPacing(t *testing.T) {
	// Ten-second original gaps replay within the per-event cap.
	rec := replayRecord(t, 10*time.Second, 10*time.Second)

	var got []events.Event
	player, err := NewPlayer(rec, 20*time.Millisecond, func(e events.Event) { got = append(got, e) })
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, player.Run(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, got, 5, "start marker, three events, end marker")
	assert.Equal(t, events.TypeReplayStarted, got[0].Type)
	assert.Equal(t, "e1", got[1].ID)
	assert.Equal(t, "e2", got[2].ID)
	assert.Equal(t, "e3", got[3].ID)
	assert.Equal(t, events.TypeReplayCompleted, got[4].Type)
}

func TestPlayerRefusesRunningRecord(t *testing.T) {
	rec := New("run-1", "corr-1", "")
	_, err := NewPlayer(rec, time.Millisecond, func(events.Event) {})
	assert.Error(t, err)
}

func TestPlayerRefusesIncompatibleSchema(t *testing.T) {
	rec := replayRecord(t, time.Second)
	rec.SchemaVersion = "2.0.0"
	_, err := NewPlayer(rec, time.Millisecond, func(events.Event) {})
	assert.Error(t, err)
}

func TestPlayerStepWhilePaused(t *testing.T) {
	rec := replayRecord(t, time.Second, time.Second)

	ch := make(chan events.Event, 16)
	player, err := NewPlayer(rec, time.Millisecond, func(e events.Event) { ch <- e })
	require.NoError(t, err)
	player.state = statePaused

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- player.Run(ctx) }()

	start := <-ch
	assert.Equal(t, events.TypeReplayStarted, start.Type)

	player.Step()
	first := <-ch
	assert.Equal(t, "e1", first.ID)

	player.Step()
	second := <-ch
	assert.Equal(t, "e2", second.ID)

	player.Play()
	third := <-ch
	assert.Equal(t, "e3", third.ID)
	end := <-ch
	assert.Equal(t, events.TypeReplayCompleted, end.Type)
	require.NoError(t, <-done)
}

func TestPlayerSeekSkipsEvents(t *testing.T) {
	rec := replayRecord(t, time.Second, time.Second)

	ch := make(chan events.Event, 16)
	player, err := NewPlayer(rec, time.Millisecond, func(e events.Event) { ch <- e })
	require.NoError(t, err)
	player.state = statePaused
	player.Seek(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- player.Run(ctx) }()

	start := <-ch
	assert.Equal(t, events.TypeReplayStarted, start.Type)

	player.Play()
	only := <-ch
	assert.Equal(t, "e3", only.ID)
	end := <-ch
	assert.Equal(t, events.TypeReplayCompleted, end.Type)
	require.NoError(t, <-done)
}
