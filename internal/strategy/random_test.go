package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandom_UniformDistribution(t *testing.T) {
	view := makeView(5)
	r := NewRandom(42)
	counts := make(map[string]int)
	const samples = 100_000
	for i := 0; i < samples; i++ {
		px, err := r.Select(view, NewContext())
		require.NoError(t, err)
		counts[px.ID]++
	}
	expected := float64(samples) / float64(len(view))
	for _, px := range view {
		got := float64(counts[px.ID])
		variance := (got - expected) / expected
		assert.InDelta(t, 0, variance, 0.1, "proxy %s out of distribution: got=%v expected=%v", px.ID, got, expected)
	}
}

func TestRandom_ExcludesFailed(t *testing.T) {
	view := makeView(3)
	r := NewRandom(1)
	ctx := NewContext()
	ctx.FailedProxyIDs[view[0].ID] = struct{}{}
	ctx.FailedProxyIDs[view[1].ID] = struct{}{}

	for i := 0; i < 20; i++ {
		px, err := r.Select(view, ctx)
		require.NoError(t, err)
		assert.Equal(t, view[2].ID, px.ID)
	}
}

func TestRandom_NoneEligible(t *testing.T) {
	r := NewRandom(1)
	_, err := r.Select(nil, NewContext())
	assert.Error(t, err)
}
