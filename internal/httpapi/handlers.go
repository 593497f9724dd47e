package httpapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wyattowalsh/proxywhirl/internal/pool"
	"github.com/wyattowalsh/proxywhirl/internal/proxyerr"
	"github.com/wyattowalsh/proxywhirl/internal/secret"
	"github.com/wyattowalsh/proxywhirl/internal/validator"
)

// requestPayload is the body of POST /api/v1/request: the caller supplies
// the outbound request to forward and an optional rate-limit identifier.
type requestPayload struct {
	Method     string            `json:"method" binding:"required"`
	URL        string            `json:"url" binding:"required"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
	Identifier string            `json:"identifier"`
}

func (s *Server) handleRequest(c *gin.Context) {
	var payload requestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.fail(c, proxyerr.Wrap(proxyerr.CodeValidationError, "invalid request payload", err))
		return
	}

	req, err := http.NewRequestWithContext(c.Request.Context(), payload.Method, payload.URL, nil)
	if err != nil {
		s.fail(c, proxyerr.Wrap(proxyerr.CodeValidationError, "could not build upstream request", err))
		return
	}
	for k, v := range payload.Headers {
		req.Header.Set(k, v)
	}

	identifier := payload.Identifier
	if identifier == "" {
		identifier = s.identifierFor(c)
	}

	result, err := s.rot.Forward(c.Request.Context(), req, identifier)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer result.Response.Body.Close()

	respBody, _ := io.ReadAll(result.Response.Body)
	s.ok(c, http.StatusOK, gin.H{
		"proxy_id":    result.ProxyID,
		"attempts":    result.Attempts,
		"status_code": result.Response.StatusCode,
		"headers":     result.Response.Header,
		"body":        string(respBody),
	})
}

// handleListProxies implements GET /api/v1/proxies with offset/limit
// pagination over Pool.All (spec "Pool.list with pagination filter").
func (s *Server) handleListProxies(c *gin.Context) {
	offset := queryInt(c, "offset", 0)
	limit := queryInt(c, "limit", 100)

	all := s.pool.All()
	snapshots := make([]pool.Stats, 0, len(all))
	for _, px := range all {
		snapshots = append(snapshots, px.Snapshot())
	}

	if offset > len(snapshots) {
		offset = len(snapshots)
	}
	end := offset + limit
	if end > len(snapshots) || limit <= 0 {
		end = len(snapshots)
	}

	s.ok(c, http.StatusOK, gin.H{
		"total":   len(snapshots),
		"offset":  offset,
		"limit":   limit,
		"proxies": snapshots[offset:end],
	})
}

type addProxyPayload struct {
	Scheme      string `json:"scheme" binding:"required"`
	Host        string `json:"host" binding:"required"`
	Port        int    `json:"port" binding:"required"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	CountryCode string `json:"country_code"`
	Region      string `json:"region"`
	SourceTag   string `json:"source_tag"`
	TTLSeconds  int64  `json:"ttl_seconds"`
}

// handleAddProxy implements POST /api/v1/proxies: Pool.add after
// Validator.validate(BASIC) (spec §6).
func (s *Server) handleAddProxy(c *gin.Context) {
	var payload addProxyPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.fail(c, proxyerr.Wrap(proxyerr.CodeInvalidProxyFormat, "invalid proxy payload", err))
		return
	}

	var creds *pool.Credentials
	if payload.Username != "" {
		creds = &pool.Credentials{Username: payload.Username, Password: secret.New(payload.Password)}
	}

	px := pool.NewProxy(pool.Endpoint{
		Scheme: pool.Scheme(payload.Scheme),
		Host:   payload.Host,
		Port:   payload.Port,
	}, creds, payload.CountryCode, payload.Region, payload.SourceTag, payload.TTLSeconds)

	res := s.val.Validate(c.Request.Context(), px, validator.BASIC)
	if !res.Success {
		s.fail(c, proxyerr.New(proxyerr.CodeValidationError, "proxy failed basic validation"))
		return
	}

	if err := s.pool.Add(px); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusCreated, px.Snapshot())
}

func (s *Server) handleRemoveProxy(c *gin.Context) {
	id := c.Param("id")
	if err := s.pool.Remove(id); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, gin.H{"id": id, "removed": true})
}

type testProxiesPayload struct {
	IDs   []string `json:"ids" binding:"required"`
	Level string   `json:"level"`
}

// handleTestProxies implements POST /api/v1/proxies/test:
// Validator.validate_batch over the named proxies.
func (s *Server) handleTestProxies(c *gin.Context) {
	var payload testProxiesPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.fail(c, proxyerr.Wrap(proxyerr.CodeValidationError, "invalid test payload", err))
		return
	}

	level := validator.BASIC
	switch payload.Level {
	case "standard":
		level = validator.STANDARD
	case "full":
		level = validator.FULL
	}

	proxies := make([]*pool.Proxy, 0, len(payload.IDs))
	for _, id := range payload.IDs {
		px, err := s.pool.Get(id)
		if err != nil {
			s.fail(c, err)
			return
		}
		proxies = append(proxies, px)
	}

	results := s.val.ValidateBatch(c.Request.Context(), proxies, level)
	s.ok(c, http.StatusOK, results)
}

// handleHealth implements GET /api/v1/health: aggregate pool health counts.
func (s *Server) handleHealth(c *gin.Context) {
	all := s.pool.All()
	counts := map[pool.Health]int{}
	for _, px := range all {
		counts[px.Health()]++
	}
	s.ok(c, http.StatusOK, gin.H{
		"total":  len(all),
		"by_health": counts,
	})
}

// handleMetrics implements GET /api/v1/metrics: aggregate counters from the
// pool as a JSON summary. No Prometheus /metrics scrape endpoint is mounted
// by this server or by cmd.
func (s *Server) handleMetrics(c *gin.Context) {
	all := s.pool.All()
	var total, successful, failed int64
	for _, px := range all {
		snap := px.Snapshot()
		total += snap.TotalRequests
		successful += snap.SuccessfulRequests
		failed += snap.FailedRequests
	}
	s.ok(c, http.StatusOK, gin.H{
		"pool_size":           len(all),
		"total_requests":      total,
		"successful_requests": successful,
		"failed_requests":     failed,
	})
}

type configPayload struct {
	Strategy     string         `json:"strategy"`
	StrategyArgs map[string]any `json:"strategy_args"`
}

// handleConfig implements PUT /api/v1/config as a strategy swap
// (Rotator.set_strategy). It does not reconfigure the rate limiter:
// rate-limit tiers are loaded from internal/config at startup, not mutated
// over the wire.
func (s *Server) handleConfig(c *gin.Context) {
	var payload configPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.fail(c, proxyerr.Wrap(proxyerr.CodeValidationError, "invalid config payload", err))
		return
	}
	if payload.Strategy == "" {
		s.fail(c, proxyerr.New(proxyerr.CodeValidationError, "strategy is required"))
		return
	}

	strat, err := s.registry.Get(payload.Strategy, payload.StrategyArgs)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.rot.SetStrategy(strat)
	s.ok(c, http.StatusOK, gin.H{"strategy": payload.Strategy})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
