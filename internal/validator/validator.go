// Package validator probes proxies at configurable depth (C6): a bare TCP
// connect, a round-trip HTTP GET through the proxy, or a full anonymity
// classification. It never mutates the pool; callers decide what to do with
// a ValidationResult.
package validator

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/wyattowalsh/proxywhirl/internal/metrics"
	"github.com/wyattowalsh/proxywhirl/internal/pool"
	"github.com/wyattowalsh/proxywhirl/internal/proxyerr"
	"github.com/wyattowalsh/proxywhirl/internal/upstream"
)

// Level is the depth a probe should reach (spec §4.4).
type Level int

const (
	// BASIC dials (host, port) over TCP and nothing more.
	BASIC Level = iota
	// STANDARD additionally issues an HTTP GET through the proxy and
	// requires a 2xx response.
	STANDARD
	// FULL additionally inspects the probe target's echoed headers to
	// classify anonymity.
	FULL
)

func (l Level) String() string {
	switch l {
	case BASIC:
		return "basic"
	case STANDARD:
		return "standard"
	case FULL:
		return "full"
	default:
		return "unknown"
	}
}

// Anonymity classifies how much of the client's identity a proxy leaks to
// the origin (spec §4.4 FULL level).
type Anonymity string

const (
	Transparent Anonymity = "transparent"
	Anonymous   Anonymity = "anonymous"
	Elite       Anonymity = "elite"
)

// Result is the outcome of probing a single proxy. It is a value type: the
// caller decides whether and how to fold it back into the pool.
type Result struct {
	ProxyID     string
	LevelReached Level
	Success     bool
	LatencyMs   float64
	ErrorKind   proxyerr.ErrorKind
	Anonymity   Anonymity // only set when LevelReached == FULL and Success
}

// Config tunes probe behaviour.
type Config struct {
	// ProbeURL is the HTTP target used at STANDARD and FULL. Must echo
	// back the request headers it saw, e.g. an httpbin-style /get or /headers
	// endpoint.
	ProbeURL string

	// Timeout bounds a single proxy's probe at any level.
	Timeout time.Duration

	// Concurrency bounds how many proxies validate_batch probes in parallel.
	Concurrency int
}

func DefaultConfig() Config {
	return Config{
		ProbeURL:    "http://httpbin.org/headers",
		Timeout:     5 * time.Second,
		Concurrency: 50,
	}
}

// proxyCtxKey carries the proxy under test through to the shared
// transports' DialContext, so one Transport's connection pool can be
// reused across every probe of the same scheme family.
type proxyCtxKey struct{}

// Validator is stateless: all state lives in the two http.Client connection
// pools it owns (one per scheme family, spec §4.4), which are safe for
// concurrent use and shared across every call to Validate / ValidateBatch.
type Validator struct {
	cfg Config

	httpClient  *http.Client
	socksClient *http.Client
}

// New builds a Validator with its own dedicated HTTP and SOCKS transports
// (spec §4.4: "a separate client is used for SOCKS schemes").
func New(cfg Config) *Validator {
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = DefaultConfig().ProbeURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	return &Validator{
		cfg: cfg,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        200,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					px := ctx.Value(proxyCtxKey{}).(*pool.Proxy)
					return upstream.Dial(ctx, px.URL(), addr)
				},
			},
		},
		socksClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        200,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					px := ctx.Value(proxyCtxKey{}).(*pool.Proxy)
					// upstream.Dial itself switches on scheme (socks5 vs
					// socks4/socks4a), so this one client serves both —
					// a dedicated socks5-only dialer here previously meant
					// SchemeSOCKS4 proxies silently spoke the wrong protocol.
					return upstream.Dial(ctx, px.URL(), addr)
				},
			},
		},
	}
}

// Validate probes a single proxy up to level, returning a Result. It never
// mutates px.
func (v *Validator) Validate(ctx context.Context, px *pool.Proxy, level Level) Result {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	start := time.Now()
	res := Result{ProxyID: px.ID, LevelReached: BASIC}
	defer func() {
		metrics.ValidationsTotal.WithLabelValues(res.LevelReached.String(), strconv.FormatBool(res.Success)).Inc()
	}()

	if err := v.probeTCP(ctx, px); err != nil {
		// probeTCP dials the proxy's own address directly, never through
		// upstream.Dial, so there is no DialErr to distinguish hops: a
		// failure here always means the proxy itself is unreachable.
		res.ErrorKind = classifyConnectErr(err)
		res.LatencyMs = msSince(start)
		return res
	}
	res.Success = true
	if level == BASIC {
		res.LatencyMs = msSince(start)
		return res
	}

	resp, err := v.probeHTTP(ctx, px)
	if err != nil {
		res.Success = false
		res.ErrorKind = classify(err)
		res.LatencyMs = msSince(start)
		return res
	}
	defer resp.Body.Close()
	res.LevelReached = STANDARD
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res.Success = false
		res.ErrorKind = proxyerr.KindTargetUnreachable
		res.LatencyMs = msSince(start)
		return res
	}
	res.Success = true
	if level == STANDARD {
		res.LatencyMs = msSince(start)
		return res
	}

	res.LevelReached = FULL
	res.Anonymity = classifyAnonymity(resp)
	res.LatencyMs = msSince(start)
	return res
}

// ValidateBatch probes every proxy in pxs with bounded concurrency,
// returning one Result per input proxy (order not guaranteed to match).
func (v *Validator) ValidateBatch(ctx context.Context, pxs []*pool.Proxy, level Level) []Result {
	sem := make(chan struct{}, v.cfg.Concurrency)
	var wg sync.WaitGroup
	results := make(chan Result, len(pxs))

	for _, px := range pxs {
		px := px
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			results <- v.Validate(ctx, px, level)
		}()
	}
	wg.Wait()
	close(results)

	out := make([]Result, 0, len(pxs))
	for r := range results {
		out = append(out, r)
	}
	return out
}

func (v *Validator) probeTCP(ctx context.Context, px *pool.Proxy) error {
	d := &net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(px.Endpoint.Host, strconv.Itoa(px.Endpoint.Port)))
	if err != nil {
		return err
	}
	return conn.Close()
}

func (v *Validator) probeHTTP(ctx context.Context, px *pool.Proxy) (*http.Response, error) {
	ctx = context.WithValue(ctx, proxyCtxKey{}, px)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.ProbeURL, nil)
	if err != nil {
		return nil, err
	}

	client := v.httpClient
	if px.Endpoint.Scheme == pool.SchemeSOCKS5 || px.Endpoint.Scheme == pool.SchemeSOCKS4 {
		client = v.socksClient
	}
	return client.Do(req)
}

func classify(err error) proxyerr.ErrorKind {
	kind, _ := proxyerr.ClassifyDialErr(err)
	return kind
}

// classifyConnectErr classifies a raw TCP dial failure to the proxy itself
// (not through it), where only timeout-vs-not is meaningful.
func classifyConnectErr(err error) proxyerr.ErrorKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return proxyerr.KindConnectTimeout
	}
	return proxyerr.KindTargetUnreachable
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
