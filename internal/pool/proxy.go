// Package pool implements the concurrently-accessed set of upstream
// proxies: identity + mutable health/stat cell (C1) and the Pool collection
// that owns them (C2).
package pool

import (
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/wyattowalsh/proxywhirl/internal/proxyerr"
	"github.com/wyattowalsh/proxywhirl/internal/secret"
)

// Scheme enumerates the transports a Proxy can speak.
type Scheme string

const (
	SchemeHTTP   Scheme = "http"
	SchemeHTTPS  Scheme = "https"
	SchemeSOCKS4 Scheme = "socks4"
	SchemeSOCKS5 Scheme = "socks5"
)

// Health is one of the states in the state machine of spec §4.7.1.
type Health string

const (
	HealthUnknown   Health = "unknown"
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
	HealthDead      Health = "dead"
)

// Endpoint identifies a proxy's network address. (Host, Port) is the
// deduplication key across a Pool — scheme and credentials are not part of
// identity.
type Endpoint struct {
	Scheme Scheme
	Host   string
	Port   int
}

func (e Endpoint) key() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s:%d", e.Scheme, e.Host, e.Port)
}

// Credentials are optional proxy-auth credentials. Password is never
// serialized or logged in plaintext.
type Credentials struct {
	Username string
	Password secret.String
}

// Outcome is the record a Rotator feeds back after a forward attempt.
type Outcome struct {
	OK        bool
	LatencyMs float64
	ErrorKind proxyerr.ErrorKind
}

const latencyReservoirSize = 64

// Proxy is one pool member: immutable identity plus a mutable health/stat
// cell guarded by mu. All mutation happens through Pool.UpdateStats or the
// Pool's membership operations — strategies never mutate a Proxy directly
// (LeastUsed's in-flight counter is the one exception: the strategy adds to
// the atomic InFlight field itself, per spec §4.2.4).
type Proxy struct {
	// Identity — immutable after construction.
	ID          string
	Endpoint    Endpoint
	Credentials *Credentials
	CountryCode string
	Region      string
	SourceTag   string
	CreatedAt   time.Time
	TTLSeconds  int64 // 0 means no expiry

	mu                  sync.RWMutex
	health              Health
	consecutiveFailures int64
	consecutiveSuccess  int64
	totalRequests       int64
	successfulRequests  int64
	failedRequests      int64
	latencyEWMAMs       float64
	latencySamples      []float64
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastErrorKind       proxyerr.ErrorKind
	expiresAt           time.Time // zero value means no expiry

	// InFlight tracks concurrently in-flight requests through this proxy.
	// Open question in spec §9: treated as global per proxy (not
	// per-endpoint) here, matching the source's behavior.
	InFlight atomic.Int64
}

// NewProxy constructs a Proxy in the initial `unknown` health state.
func NewProxy(ep Endpoint, creds *Credentials, countryCode, region, sourceTag string, ttlSeconds int64) *Proxy {
	now := time.Now()
	p := &Proxy{
		ID:          uuid.NewString(),
		Endpoint:    ep,
		Credentials: creds,
		CountryCode: countryCode,
		Region:      region,
		SourceTag:   sourceTag,
		CreatedAt:   now,
		TTLSeconds:  ttlSeconds,
		health:      HealthUnknown,
	}
	if ttlSeconds > 0 {
		p.expiresAt = now.Add(time.Duration(ttlSeconds) * time.Second)
	}
	return p
}

// URL renders the dialing URL for this proxy, credentials included. Used
// only by the transport layer (Validator, Rotator) — never logged.
func (p *Proxy) URL() *url.URL {
	u := &url.URL{Scheme: string(p.Endpoint.Scheme), Host: p.Endpoint.key()}
	if p.Credentials != nil {
		u.User = url.UserPassword(p.Credentials.Username, p.Credentials.Password.Reveal())
	}
	return u
}

// String renders a redacted, log-safe identifier.
func (p *Proxy) String() string {
	if p.Credentials != nil {
		return fmt.Sprintf("%s://***@%s", p.Endpoint.Scheme, p.Endpoint.key())
	}
	return p.Endpoint.String()
}

// Health returns the current health state.
func (p *Proxy) Health() Health {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

// IsExpired reports whether the proxy's TTL has elapsed as of now.
func (p *Proxy) IsExpired(now time.Time) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.expiresAt.IsZero() && !p.expiresAt.After(now)
}

// IsEligible reports whether the proxy belongs in a healthy_view: health in
// {unknown, healthy, degraded} and not expired.
func (p *Proxy) IsEligible(now time.Time) bool {
	p.mu.RLock()
	h := p.health
	expired := !p.expiresAt.IsZero() && !p.expiresAt.After(now)
	p.mu.RUnlock()
	if expired {
		return false
	}
	switch h {
	case HealthUnknown, HealthHealthy, HealthDegraded:
		return true
	default:
		return false
	}
}

// LatencyEWMAMs returns the exponentially-weighted moving average latency.
func (p *Proxy) LatencyEWMAMs() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latencyEWMAMs
}

// SuccessRate returns successful_requests / total_requests, or 1.0 when no
// requests have been observed yet (an unknown proxy should not be
// penalized before its first attempt).
func (p *Proxy) SuccessRate() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.totalRequests == 0 {
		return 1.0
	}
	return float64(p.successfulRequests) / float64(p.totalRequests)
}

// Stats is an immutable snapshot of a Proxy's mutable cell, safe to hand to
// callers across goroutine boundaries (used by the store package and the
// REST adapter).
type Stats struct {
	ID                  string
	Endpoint            Endpoint
	CountryCode         string
	Region              string
	SourceTag           string
	CreatedAt           time.Time
	Health              Health
	ConsecutiveFailures int64
	ConsecutiveSuccess  int64
	TotalRequests       int64
	SuccessfulRequests  int64
	FailedRequests      int64
	LatencyEWMAMs       float64
	LastSuccessAt       time.Time
	LastFailureAt       time.Time
	LastErrorKind       proxyerr.ErrorKind
	InFlight            int64
	ExpiresAt           time.Time
}

// Snapshot returns a consistent point-in-time copy of the proxy's state.
func (p *Proxy) Snapshot() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		ID:                  p.ID,
		Endpoint:            p.Endpoint,
		CountryCode:         p.CountryCode,
		Region:              p.Region,
		SourceTag:           p.SourceTag,
		CreatedAt:           p.CreatedAt,
		Health:              p.health,
		ConsecutiveFailures: p.consecutiveFailures,
		ConsecutiveSuccess:  p.consecutiveSuccess,
		TotalRequests:       p.totalRequests,
		SuccessfulRequests:  p.successfulRequests,
		FailedRequests:      p.failedRequests,
		LatencyEWMAMs:       p.latencyEWMAMs,
		LastSuccessAt:       p.lastSuccessAt,
		LastFailureAt:       p.lastFailureAt,
		LastErrorKind:       p.lastErrorKind,
		InFlight:            p.InFlight.Load(),
		ExpiresAt:           p.expiresAt,
	}
}

// percentile returns an approximate percentile from the latency reservoir.
// It takes the read lock itself to copy the samples, so callers must not
// hold the proxy's lock.
func (p *Proxy) percentile(q float64) float64 {
	p.mu.RLock()
	samples := append([]float64(nil), p.latencySamples...)
	p.mu.RUnlock()
	if len(samples) == 0 {
		return 0
	}
	// Simple insertion sort — reservoir is capped at latencyReservoirSize.
	for i := 1; i < len(samples); i++ {
		v := samples[i]
		j := i - 1
		for j >= 0 && samples[j] > v {
			samples[j+1] = samples[j]
			j--
		}
		samples[j+1] = v
	}
	idx := int(q * float64(len(samples)-1))
	return samples[idx]
}

// P50Ms returns the approximate median latency from recent samples.
func (p *Proxy) P50Ms() float64 { return p.percentile(0.50) }

// P95Ms returns the approximate 95th-percentile latency from recent samples.
func (p *Proxy) P95Ms() float64 { return p.percentile(0.95) }

const ewmaAlpha = 0.2

// applyOutcome mutates the proxy's cell under lock. Called only by
// Pool.UpdateStats so the Pool remains the sole writer (spec §9 "shared
// mutable proxy state"). Health transitions are monotonic within a single
// outcome, matching the state machine of §4.7.1.
func (p *Proxy) applyOutcome(o Outcome, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalRequests++
	if o.OK {
		p.successfulRequests++
		p.consecutiveSuccess++
		p.consecutiveFailures = 0
		p.lastSuccessAt = now

		if p.latencyEWMAMs == 0 {
			p.latencyEWMAMs = o.LatencyMs
		} else {
			p.latencyEWMAMs = ewmaAlpha*o.LatencyMs + (1-ewmaAlpha)*p.latencyEWMAMs
		}
		p.latencySamples = append(p.latencySamples, o.LatencyMs)
		if len(p.latencySamples) > latencyReservoirSize {
			p.latencySamples = p.latencySamples[len(p.latencySamples)-latencyReservoirSize:]
		}

		switch p.health {
		case HealthUnknown, HealthDegraded:
			p.health = HealthHealthy
		case HealthUnhealthy:
			p.health = HealthDegraded
		}
	} else {
		p.failedRequests++
		p.consecutiveFailures++
		p.consecutiveSuccess = 0
		p.lastFailureAt = now
		p.lastErrorKind = o.ErrorKind

		switch p.health {
		case HealthUnknown, HealthHealthy:
			p.health = HealthDegraded
		case HealthDegraded:
			p.health = HealthUnhealthy
		}
	}
}

// markDead transitions the proxy to the terminal `dead` state. Re-entry
// requires a fresh Pool.Add.
func (p *Proxy) markDead() {
	p.mu.Lock()
	p.health = HealthDead
	p.mu.Unlock()
}

// promote resets consecutive_failures to 0 and promotes health toward
// healthy, used by the Health Monitor on a successful probe (spec §4.6).
func (p *Proxy) promote() {
	p.mu.Lock()
	p.consecutiveFailures = 0
	switch p.health {
	case HealthUnknown, HealthDegraded:
		p.health = HealthHealthy
	case HealthUnhealthy:
		p.health = HealthDegraded
	}
	p.mu.Unlock()
}

// recordProbeFailure increments consecutive_failures and returns the new
// count, used by the Health Monitor to decide on eviction.
func (p *Proxy) recordProbeFailure() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveFailures++
	switch p.health {
	case HealthUnknown, HealthHealthy:
		p.health = HealthDegraded
	case HealthDegraded:
		p.health = HealthUnhealthy
	}
	return p.consecutiveFailures
}
