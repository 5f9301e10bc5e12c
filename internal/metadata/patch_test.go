package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffApplyRoundTrip(t *testing.T) {
	prev := map[string]interface{}{
		"token":  "0x1234",
		"status": "trading",
		"curve":  map[string]interface{}{"progressPct": 25.0},
		"old":    "gone",
	}
	next := map[string]interface{}{
		"token":     "0x1234",
		"status":    "graduated",
		"curve":     map[string]interface{}{"progressPct": 100.0},
		"graduated": true,
	}

	patch := Diff(prev, next)
	require.NotEmpty(t, patch)

	got, err := Apply(prev, patch)
	require.NoError(t, err)
	assert.Equal(t, next, got)
}

func TestDiffEmptyForIdenticalBodies(t *testing.T) {
	body := map[string]interface{}{"a": 1.0, "b": map[string]interface{}{"c": "x"}}
	assert.Empty(t, Diff(body, body))
}

func TestDiffNestedReplaceOnly(t *testing.T) {
	prev := map[string]interface{}{"curve": map[string]interface{}{"progressPct": 25.0, "fee": 100.0}}
	next := map[string]interface{}{"curve": map[string]interface{}{"progressPct": 50.0, "fee": 100.0}}

	patch := Diff(prev, next)
	require.Len(t, patch, 1)
	assert.Equal(t, "replace", patch[0].Op)
	assert.Equal(t, "/curve/progressPct", patch[0].Path)
	assert.Equal(t, 50.0, patch[0].Value)
}

func TestDiffArraysReplacedWholesale(t *testing.T) {
	prev := map[string]interface{}{"tags": []interface{}{"a", "b"}}
	next := map[string]interface{}{"tags": []interface{}{"a", "c"}}

	patch := Diff(prev, next)
	require.Len(t, patch, 1)
	assert.Equal(t, "replace", patch[0].Op)
	assert.Equal(t, "/tags", patch[0].Path)
}

func TestPointerEscaping(t *testing.T) {
	prev := map[string]interface{}{}
	next := map[string]interface{}{"a/b": 1.0, "c~d": 2.0}

	patch := Diff(prev, next)
	require.Len(t, patch, 2)
	assert.Equal(t, "/a~1b", patch[0].Path)
	assert.Equal(t, "/c~0d", patch[1].Path)

	got, err := Apply(prev, patch)
	require.NoError(t, err)
	assert.Equal(t, next, got)
}

func TestApplyRejectsUnknownOp(t *testing.T) {
	_, err := Apply(map[string]interface{}{}, []PatchOp{{Op: "move", Path: "/a"}})
	assert.Error(t, err)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	prev := map[string]interface{}{"a": 1.0}
	_, err := Apply(prev, []PatchOp{{Op: "replace", Path: "/a", Value: 2.0}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, prev["a"])
}
