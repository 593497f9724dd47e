package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyattowalsh/proxywhirl/internal/secret"
)

func mustProxy(host string, port int) *Proxy {
	return NewProxy(Endpoint{Scheme: SchemeHTTP, Host: host, Port: port}, nil, "", "", "user", 0)
}

func mustSecret(v string) secret.String {
	return secret.New(v)
}

func TestAdd_DuplicateByHostPort(t *testing.T) {
	p := New(0)
	require.NoError(t, p.Add(mustProxy("1.2.3.4", 8080)))
	err := p.Add(mustProxy("1.2.3.4", 8080))
	require.Error(t, err)
}

func TestAdd_PoolFull(t *testing.T) {
	p := New(1)
	require.NoError(t, p.Add(mustProxy("1.2.3.4", 8080)))
	err := p.Add(mustProxy("5.6.7.8", 8080))
	require.Error(t, err)
}

func TestRemove_NotFound(t *testing.T) {
	p := New(0)
	err := p.Remove("nonexistent")
	require.Error(t, err)
}

func TestRemoveByEndpoint(t *testing.T) {
	p := New(0)
	px := mustProxy("1.2.3.4", 8080)
	require.NoError(t, p.Add(px))
	require.NoError(t, p.RemoveByEndpoint("1.2.3.4", 8080))
	assert.Equal(t, 0, p.Len())
}

func TestHealthyView_ExcludesUnhealthyAndDead(t *testing.T) {
	p := New(0)
	a := mustProxy("1.1.1.1", 80)
	b := mustProxy("2.2.2.2", 80)
	c := mustProxy("3.3.3.3", 80)
	require.NoError(t, p.Add(a))
	require.NoError(t, p.Add(b))
	require.NoError(t, p.Add(c))

	require.NoError(t, p.UpdateStats(b.ID, Outcome{OK: false}))
	require.NoError(t, p.UpdateStats(b.ID, Outcome{OK: false}))
	c.markDead()

	view := p.HealthyView(time.Now())
	assert.Len(t, view, 1)
	for _, px := range view {
		assert.NotEqual(t, c.ID, px.ID)
	}
}

func TestHealthyView_ExcludesExpired(t *testing.T) {
	p := New(0)
	px := NewProxy(Endpoint{Scheme: SchemeHTTP, Host: "1.1.1.1", Port: 80}, nil, "", "", "user", 1)
	require.NoError(t, p.Add(px))

	future := time.Now().Add(2 * time.Second)
	assert.Empty(t, p.HealthyView(future))
}

func TestHealthyView_PreservesInsertionOrder(t *testing.T) {
	p := New(0)
	var ids []string
	for i := 0; i < 5; i++ {
		px := mustProxy("10.0.0.1", 8000+i)
		ids = append(ids, px.ID)
		require.NoError(t, p.Add(px))
	}
	view := p.HealthyView(time.Now())
	require.Len(t, view, 5)
	for i, px := range view {
		assert.Equal(t, ids[i], px.ID)
	}
}

func TestRemoveExpired_CountsAndRemoves(t *testing.T) {
	p := New(0)
	expiring := NewProxy(Endpoint{Scheme: SchemeHTTP, Host: "1.1.1.1", Port: 80}, nil, "", "", "user", 1)
	stable := mustProxy("2.2.2.2", 80)
	require.NoError(t, p.Add(expiring))
	require.NoError(t, p.Add(stable))

	n := p.RemoveExpired(time.Now().Add(2 * time.Second))
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, p.Len())
}

func TestUpdateStats_NeverLosesOutcomeUnderConcurrency(t *testing.T) {
	p := New(0)
	px := mustProxy("1.1.1.1", 80)
	require.NoError(t, p.Add(px))

	const n = 200
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_ = p.UpdateStats(px.ID, Outcome{OK: i%2 == 0, LatencyMs: 10})
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < n; i++ {
		<-done
	}

	snap := px.Snapshot()
	assert.Equal(t, int64(n), snap.TotalRequests)
	assert.LessOrEqual(t, snap.SuccessfulRequests+snap.FailedRequests, snap.TotalRequests)
}

func TestPromote_ResetsFailuresAndPromotesHealth(t *testing.T) {
	p := New(0)
	px := mustProxy("1.1.1.1", 80)
	require.NoError(t, p.Add(px))
	require.NoError(t, p.UpdateStats(px.ID, Outcome{OK: false}))
	require.NoError(t, p.UpdateStats(px.ID, Outcome{OK: false}))
	assert.Equal(t, HealthUnhealthy, px.Health())

	require.NoError(t, p.Promote(px.ID))
	assert.Equal(t, HealthDegraded, px.Health())
	assert.Equal(t, int64(0), px.Snapshot().ConsecutiveFailures)
}

func TestPromote_UnknownIDIsNotFound(t *testing.T) {
	p := New(0)
	err := p.Promote("nonexistent")
	require.Error(t, err)
}

func TestRecordProbeFailure_IncrementsAndDemotesHealth(t *testing.T) {
	p := New(0)
	px := mustProxy("1.1.1.1", 80)
	require.NoError(t, p.Add(px))

	n, err := p.RecordProbeFailure(px.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, HealthDegraded, px.Health())

	n, err = p.RecordProbeFailure(px.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, HealthUnhealthy, px.Health())
}

func TestProxyString_RedactsCredentials(t *testing.T) {
	px := NewProxy(Endpoint{Scheme: SchemeHTTP, Host: "1.1.1.1", Port: 80},
		&Credentials{Username: "user", Password: mustSecret("hunter2")}, "", "", "user", 0)
	s := px.String()
	assert.NotContains(t, s, "hunter2")
	assert.Contains(t, s, "***")
}
