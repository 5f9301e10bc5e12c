package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadpilot/nadpilot/internal/chain"
	"github.com/nadpilot/nadpilot/internal/config"
)

// fakeVersionStore keeps versions in memory per token
type fakeVersionStore struct {
	versions map[string][]*TokenMetadataVersion
	inserts  int
}

func newFakeVersionStore() *fakeVersionStore {
	return &fakeVersionStore{versions: make(map[string][]*TokenMetadataVersion)}
}

func (s *fakeVersionStore) Insert(ctx context.Context, v *TokenMetadataVersion) error {
	existing := s.versions[v.Token]
	if len(existing) > 0 && v.PreviousCID == "" {
		return ErrPreviousCIDRequired
	}
	v.Version = len(existing) + 1
	s.versions[v.Token] = append(existing, v)
	s.inserts++
	return nil
}

func (s *fakeVersionStore) Latest(ctx context.Context, token string, chainID int64) (*TokenMetadataVersion, error) {
	existing := s.versions[token]
	if len(existing) == 0 {
		return nil, ErrVersionNotFound
	}
	return existing[len(existing)-1], nil
}

// staticPinner always succeeds with a fixed CID
type staticPinner struct {
	name string
	cid  string
	err  error
}

func (p *staticPinner) Name() string { return p.name }
func (p *staticPinner) Pin(ctx context.Context, name string, body []byte) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.cid, nil
}

func newTestPipeline(store versionStore, pinners ...Pinner) *Pipeline {
	p := NewPipeline(config.MetadataConfig{
		UpdatesPerHour: 1000,
	}, NewMultiPinner(pinners, 1), store, nil)
	p.cooldown = time.Nanosecond // no cooldown in tests
	return p
}

func TestObservePublishesOnMilestone(t *testing.T) {
	store := newFakeVersionStore()
	p := newTestPipeline(store, &staticPinner{name: "pinata", cid: "QmFirst"})

	published, err := p.Observe(context.Background(), BuildInput{
		Token:    "0x1234",
		ChainID:  143,
		Symbol:   "EXM",
		CurvePct: 30,
		Status:   "trading",
	})
	require.NoError(t, err)
	require.Len(t, published, 1, "30% crosses only the 25% line")
	assert.Equal(t, 1, published[0].Version)
	assert.Equal(t, "QmFirst", published[0].CID)
	assert.Empty(t, published[0].PreviousCID)

	ok, err := VerifyIntegrity(published[0].Body)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestObserveMilestoneFiresOnce(t *testing.T) {
	store := newFakeVersionStore()
	p := newTestPipeline(store, &staticPinner{name: "pinata", cid: "QmX"})

	in := BuildInput{Token: "0x1234", ChainID: 143, CurvePct: 30}
	first, err := p.Observe(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, first, 1)

	again, err := p.Observe(context.Background(), in)
	require.NoError(t, err)
	assert.Empty(t, again, "25% already fired for this token")
}

func TestObserveSuccessorCarriesPatchAndPreviousCID(t *testing.T) {
	store := newFakeVersionStore()
	pinner := &staticPinner{name: "pinata", cid: "QmV1"}
	p := newTestPipeline(store, pinner)
	ctx := context.Background()

	_, err := p.Observe(ctx, BuildInput{Token: "0x1234", ChainID: 143, CurvePct: 30, Status: "trading"})
	require.NoError(t, err)

	pinner.cid = "QmV2"
	published, err := p.Observe(ctx, BuildInput{Token: "0x1234", ChainID: 143, CurvePct: 60, Status: "trading"})
	require.NoError(t, err)
	require.Len(t, published, 1)

	v2 := published[0]
	assert.Equal(t, 2, v2.Version)
	assert.Equal(t, "QmV1", v2.PreviousCID)
	require.NotEmpty(t, v2.Patch)

	// Applying the patch to v1 yields v2.
	v1, err := store.Latest(ctx, "0x1234", 143)
	require.NoError(t, err)
	require.Equal(t, v2, v1, "latest is v2")
	patched, err := Apply(store.versions["0x1234"][0].Body, v2.Patch)
	require.NoError(t, err)
	assert.Equal(t, v2.Body, patched)
}

func TestMultiPinFallback(t *testing.T) {
	var primaryCalls, secondaryCalls atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondaryCalls.Add(1)
		w.Write([]byte(`{"Hash":"QmBackup"}`))
	}))
	defer secondary.Close()

	pinner := NewMultiPinner([]Pinner{
		NewPinataPinner(primary.URL, "jwt", nil, nil),
		NewNodePinner(secondary.URL, nil, nil),
	}, 1)

	cid, results, err := pinner.Pin(context.Background(), "test", []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, "QmBackup", cid)
	require.Len(t, results, 2)
	assert.False(t, results[0].OK)
	assert.True(t, results[1].OK)
	assert.Equal(t, int32(1), primaryCalls.Load())
	assert.Equal(t, int32(1), secondaryCalls.Load())
}

func TestMultiPinBelowMinSuccessFails(t *testing.T) {
	pinner := NewMultiPinner([]Pinner{
		&staticPinner{name: "a", err: assert.AnError},
		&staticPinner{name: "b", err: assert.AnError},
	}, 1)

	_, results, err := pinner.Pin(context.Background(), "test", []byte(`{}`))
	require.Error(t, err)
	assert.Len(t, results, 2)
}

func TestObserveCooldownLimitsBurst(t *testing.T) {
	store := newFakeVersionStore()
	p := NewPipeline(config.MetadataConfig{}, NewMultiPinner([]Pinner{&staticPinner{name: "pinata", cid: "QmX"}}, 1), store, nil)

	// 60% crosses both the 25% and 50% lines at once; the five-minute
	// cooldown lets only the first through.
	published, err := p.Observe(context.Background(), BuildInput{Token: "0x1234", ChainID: 143, CurvePct: 60})
	require.NoError(t, err)
	assert.Len(t, published, 1)
	assert.Equal(t, 1, store.inserts)
}

func TestTrackerHolderAndGraduationMilestones(t *testing.T) {
	tracker := NewTracker()

	crossed := tracker.Evaluate(Observation{
		Token: "0x1", ChainID: 143, HolderCount: 600, Graduated: true,
	})

	kinds := make(map[MilestoneKind]int)
	for _, m := range crossed {
		kinds[m.Kind]++
	}
	assert.Equal(t, 2, kinds[MilestoneHolders], "100 and 500 holder lines")
	assert.Equal(t, 1, kinds[MilestoneGraduation])
}

func TestPipelineBuilderIncludesPoolAndHolders(t *testing.T) {
	b := NewBuilder()
	body, err := b.Build(BuildInput{
		Token:   "0x1234",
		ChainID: 143,
		Pool: &chain.PoolLiquidity{
			Pool:          "0xpool",
			BondingCurve:  true,
			ReserveNative: "1000000",
			ReserveToken:  "500000",
			FeeBps:        100,
		},
		Holders: &chain.HolderAnalysis{
			HolderCount:       250,
			CreatorPct:        5.5,
			ConcentrationRisk: "low",
		},
		Milestone: Milestone{Kind: MilestoneHolders, Threshold: "100"},
	})
	require.NoError(t, err)

	pool := body["pool"].(map[string]interface{})
	assert.Equal(t, true, pool["bondingCurve"])
	holders := body["holders"].(map[string]interface{})
	assert.Equal(t, "low", holders["concentrationRisk"])
}
