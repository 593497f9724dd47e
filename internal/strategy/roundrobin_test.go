package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyattowalsh/proxywhirl/internal/pool"
)

func makeView(n int) []*pool.Proxy {
	out := make([]*pool.Proxy, n)
	for i := 0; i < n; i++ {
		out[i] = pool.NewProxy(pool.Endpoint{Scheme: pool.SchemeHTTP, Host: "1.1.1.1", Port: 8000 + i}, nil, "", "", "user", 0)
	}
	return out
}

func TestRoundRobin_EvenDistribution(t *testing.T) {
	view := makeView(3)
	rr := NewRoundRobin()
	counts := make(map[string]int)
	const k = 10
	for i := 0; i < k*len(view); i++ {
		px, err := rr.Select(view, NewContext())
		require.NoError(t, err)
		counts[px.ID]++
	}
	for _, px := range view {
		assert.Equal(t, k, counts[px.ID])
	}
}

func TestRoundRobin_SkipsFailed(t *testing.T) {
	view := makeView(3)
	rr := NewRoundRobin()
	ctx := NewContext()
	ctx.FailedProxyIDs[view[0].ID] = struct{}{}

	for i := 0; i < 10; i++ {
		px, err := rr.Select(view, ctx)
		require.NoError(t, err)
		assert.NotEqual(t, view[0].ID, px.ID)
	}
}

func TestRoundRobin_AllFailed(t *testing.T) {
	view := makeView(2)
	rr := NewRoundRobin()
	ctx := NewContext()
	ctx.FailedProxyIDs[view[0].ID] = struct{}{}
	ctx.FailedProxyIDs[view[1].ID] = struct{}{}

	_, err := rr.Select(view, ctx)
	assert.Error(t, err)
}

func TestRoundRobin_EmptyView(t *testing.T) {
	rr := NewRoundRobin()
	_, err := rr.Select(nil, NewContext())
	assert.Error(t, err)
}
