package rotator

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyattowalsh/proxywhirl/internal/pool"
	"github.com/wyattowalsh/proxywhirl/internal/proxyerr"
	"github.com/wyattowalsh/proxywhirl/internal/ratelimit"
	"github.com/wyattowalsh/proxywhirl/internal/strategy"
	"github.com/wyattowalsh/proxywhirl/internal/upstream"
)

// fakeTransport lets tests script per-proxy outcomes without a real network
// hop: a map of proxy ID -> scripted responder.
type fakeTransport struct {
	mu        sync.Mutex
	responses map[string]func() (*http.Response, error)
	calls     []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{responses: make(map[string]func() (*http.Response, error))}
}

func (f *fakeTransport) on(proxyID string, fn func() (*http.Response, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[proxyID] = fn
}

func (f *fakeTransport) RoundTrip(_ context.Context, px *pool.Proxy, _ *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, px.ID)
	fn, ok := f.responses[px.ID]
	f.mu.Unlock()
	if !ok {
		return okResponse(), nil
	}
	return fn()
}

func okResponse() *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("ok"))}
}

func buildPoolAndProxies(t *testing.T, n int) (*pool.Pool, []*pool.Proxy) {
	t.Helper()
	p := pool.New(0)
	proxies := make([]*pool.Proxy, 0, n)
	for i := 0; i < n; i++ {
		px := pool.NewProxy(pool.Endpoint{Scheme: pool.SchemeHTTP, Host: "10.0.0.1", Port: 8000 + i}, nil, "", "", "test", 0)
		require.NoError(t, p.Add(px))
		proxies = append(proxies, px)
	}
	return p, proxies
}

func newRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "http://example.com/resource", nil)
	require.NoError(t, err)
	return req
}

func TestForward_SucceedsOnFirstTry(t *testing.T) {
	p, proxies := buildPoolAndProxies(t, 1)
	r := New(p, strategy.NewRoundRobin(), DefaultConfig(), nil)
	ft := newFakeTransport()
	r.SetTransport(ft)

	res, err := r.Forward(context.Background(), newRequest(t), "")
	require.NoError(t, err)
	assert.Equal(t, proxies[0].ID, res.ProxyID)
	assert.Equal(t, 1, res.Attempts)

	snap := proxies[0].Snapshot()
	assert.Equal(t, int64(1), snap.SuccessfulRequests)
}

func TestForward_FailsOverToNextProxy(t *testing.T) {
	p, proxies := buildPoolAndProxies(t, 2)
	r := New(p, strategy.NewRoundRobin(), Config{MaxRetries: 3, ReqTimeout: time.Second}, nil)
	ft := newFakeTransport()
	ft.on(proxies[0].ID, func() (*http.Response, error) {
		return nil, &upstream.DialErr{Origin: upstream.OriginProxy, Err: &timeoutErr{}}
	})
	r.SetTransport(ft)

	res, err := r.Forward(context.Background(), newRequest(t), "")
	require.NoError(t, err)
	assert.Equal(t, proxies[1].ID, res.ProxyID)
	assert.Equal(t, 2, res.Attempts)

	snap := proxies[0].Snapshot()
	assert.Equal(t, int64(1), snap.FailedRequests, "a proxy-origin failure must count against the proxy")
}

func TestForward_ReturnsHTTPErrorStatusAsSuccess(t *testing.T) {
	p, proxies := buildPoolAndProxies(t, 1)
	r := New(p, strategy.NewRoundRobin(), DefaultConfig(), nil)
	ft := newFakeTransport()
	ft.on(proxies[0].ID, func() (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader(""))}, nil
	})
	r.SetTransport(ft)

	res, err := r.Forward(context.Background(), newRequest(t), "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.Response.StatusCode)

	snap := proxies[0].Snapshot()
	assert.Equal(t, int64(1), snap.SuccessfulRequests, "4xx from origin must not count as a proxy failure")
}

func TestForward_AllProxiesFailedExhaustsRetries(t *testing.T) {
	p, proxies := buildPoolAndProxies(t, 2)
	r := New(p, strategy.NewRoundRobin(), Config{MaxRetries: 2, ReqTimeout: time.Second}, nil)
	ft := newFakeTransport()
	for _, px := range proxies {
		ft.on(px.ID, func() (*http.Response, error) {
			return nil, &upstream.DialErr{Origin: upstream.OriginProxy, Err: &timeoutErr{}}
		})
	}
	r.SetTransport(ft)

	_, err := r.Forward(context.Background(), newRequest(t), "")
	require.Error(t, err)
	var perr *proxyerr.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, proxyerr.CodeFailoverExhausted, perr.Code)
}

// TestForward_TargetOriginFailureCreditsProxy exercises the target-origin
// rule (spec §7): a proxy that faithfully reaches a dead target still did
// its job and is credited OK, and an exhausted call where every attempt was
// target-origin surfaces TargetUnreachable rather than FailoverExhausted.
func TestForward_TargetOriginFailureCreditsProxy(t *testing.T) {
	p, proxies := buildPoolAndProxies(t, 2)
	r := New(p, strategy.NewRoundRobin(), Config{MaxRetries: 2, ReqTimeout: time.Second}, nil)
	ft := newFakeTransport()
	for _, px := range proxies {
		ft.on(px.ID, func() (*http.Response, error) {
			return nil, &upstream.DialErr{Origin: upstream.OriginTarget, Err: &timeoutErr{}}
		})
	}
	r.SetTransport(ft)

	_, err := r.Forward(context.Background(), newRequest(t), "")
	require.Error(t, err)
	var perr *proxyerr.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, proxyerr.CodeTargetUnreachable, perr.Code)

	for _, px := range proxies {
		snap := px.Snapshot()
		assert.Equal(t, int64(1), snap.SuccessfulRequests, "a target-origin failure must still credit the proxy")
		assert.Zero(t, snap.FailedRequests)
	}
}

func TestForward_NoProxiesAvailable(t *testing.T) {
	p := pool.New(0)
	r := New(p, strategy.NewRoundRobin(), DefaultConfig(), nil)
	r.SetTransport(newFakeTransport())

	_, err := r.Forward(context.Background(), newRequest(t), "")
	require.Error(t, err)
	var perr *proxyerr.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, proxyerr.CodeNoProxiesAvailable, perr.Code)
}

func TestForward_RateLimitedDeniesBeforeSelecting(t *testing.T) {
	p, _ := buildPoolAndProxies(t, 1)
	r := New(p, strategy.NewRoundRobin(), DefaultConfig(), nil)
	ft := newFakeTransport()
	r.SetTransport(ft)

	limiter := ratelimit.New(ratelimit.NewMemStore(), ratelimit.FailClosed, nil)
	r.AttachRateLimiter(limiter, ratelimit.Tier{Name: "t", Limit: 0, Window: time.Minute})

	_, err := r.Forward(context.Background(), newRequest(t), "ip:1.2.3.4")
	require.Error(t, err)
	var perr *proxyerr.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, proxyerr.CodeRateLimited, perr.Code)

	ft.mu.Lock()
	calls := len(ft.calls)
	ft.mu.Unlock()
	assert.Zero(t, calls, "rate-limited requests must never reach the transport")
}

func TestForward_EmptyIdentifierSkipsRateLimiting(t *testing.T) {
	p, _ := buildPoolAndProxies(t, 1)
	r := New(p, strategy.NewRoundRobin(), DefaultConfig(), nil)
	r.SetTransport(newFakeTransport())

	limiter := ratelimit.New(ratelimit.NewMemStore(), ratelimit.FailClosed, nil)
	r.AttachRateLimiter(limiter, ratelimit.Tier{Name: "t", Limit: 0, Window: time.Minute})

	_, err := r.Forward(context.Background(), newRequest(t), "")
	assert.NoError(t, err)
}

func TestSetStrategy_HotSwap(t *testing.T) {
	p, _ := buildPoolAndProxies(t, 2)
	r := New(p, strategy.NewRoundRobin(), DefaultConfig(), nil)
	r.SetTransport(newFakeTransport())

	r.SetStrategy(strategy.NewRandom(1))
	_, err := r.Forward(context.Background(), newRequest(t), "")
	assert.NoError(t, err)
}

// timeoutErr is a minimal net.Error for scripting transport timeouts.
type timeoutErr struct{}

func (e *timeoutErr) Error() string   { return "i/o timeout" }
func (e *timeoutErr) Timeout() bool   { return true }
func (e *timeoutErr) Temporary() bool { return true }

var _ = httptest.NewServer
