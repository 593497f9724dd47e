package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyattowalsh/proxywhirl/internal/pool"
)

func TestPerformanceBased_ShiftsWhenProxyDegrades(t *testing.T) {
	usFast := pool.NewProxy(pool.Endpoint{Scheme: pool.SchemeHTTP, Host: "1.1.1.1", Port: 1}, nil, "US", "NA", "user", 0)
	usSlow := pool.NewProxy(pool.Endpoint{Scheme: pool.SchemeHTTP, Host: "1.1.1.2", Port: 1}, nil, "US", "NA", "user", 0)
	view := []*pool.Proxy{usFast, usSlow}

	perf := NewPerformanceBased(DefaultPerformanceConfig())
	for i := 0; i < 20; i++ {
		perf.RecordResult(usFast, pool.Outcome{OK: true, LatencyMs: 50})
		perf.RecordResult(usSlow, pool.Outcome{OK: true, LatencyMs: 100})
	}

	px, err := perf.Select(view, NewContext())
	require.NoError(t, err)
	assert.Equal(t, usFast.ID, px.ID)

	// usFast degrades well past usSlow's latency.
	for i := 0; i < 20; i++ {
		perf.RecordResult(usFast, pool.Outcome{OK: true, LatencyMs: 1800})
	}

	px, err = perf.Select(view, NewContext())
	require.NoError(t, err)
	assert.Equal(t, usSlow.ID, px.ID)
}

func TestPerformanceBased_HotSwapResetsOwnHistoryOnly(t *testing.T) {
	px := pool.NewProxy(pool.Endpoint{Scheme: pool.SchemeHTTP, Host: "1.1.1.1", Port: 1}, nil, "", "", "user", 0)
	require.NoError(t, pool.New(0).Add(px))

	perf := NewPerformanceBased(DefaultPerformanceConfig())
	for i := 0; i < 5; i++ {
		perf.RecordResult(px, pool.Outcome{OK: false})
	}

	fresh := NewPerformanceBased(DefaultPerformanceConfig())
	scoreFresh := fresh.score(px)
	scoreUsed := perf.score(px)
	assert.Greater(t, scoreFresh, scoreUsed)
}
