// Package httpapi is the thin REST adapter of spec §6: it translates the
// endpoint table directly into core calls and never holds business logic
// of its own. Every response carries the {status,data?,error?,meta}
// envelope and rate-limit headers, except for whitelisted identifiers.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wyattowalsh/proxywhirl/internal/fetcher"
	"github.com/wyattowalsh/proxywhirl/internal/pool"
	"github.com/wyattowalsh/proxywhirl/internal/proxyerr"
	"github.com/wyattowalsh/proxywhirl/internal/ratelimit"
	"github.com/wyattowalsh/proxywhirl/internal/rotator"
	"github.com/wyattowalsh/proxywhirl/internal/strategy"
	"github.com/wyattowalsh/proxywhirl/internal/validator"
)

// Server wires the core components to a gin router (spec §12 "thin
// adapter"): no OpenAPI generation, no admin-auth middleware.
type Server struct {
	pool     *pool.Pool
	rot      *rotator.Rotator
	val      *validator.Validator
	fetch    *fetcher.Fetcher
	registry *strategy.Registry
	limiter  *ratelimit.Limiter
	tier     ratelimit.Tier
	log      *zap.Logger

	engine *gin.Engine
}

// Deps bundles the core components an httpapi.Server forwards requests to.
type Deps struct {
	Pool     *pool.Pool
	Rotator  *rotator.Rotator
	Validator *validator.Validator
	Fetcher  *fetcher.Fetcher
	Registry *strategy.Registry
	Limiter  *ratelimit.Limiter
	Tier     ratelimit.Tier
	Log      *zap.Logger
}

func New(d Deps) *Server {
	if d.Registry == nil {
		d.Registry = strategy.Default()
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	s := &Server{
		pool:     d.Pool,
		rot:      d.Rotator,
		val:      d.Validator,
		fetch:    d.Fetcher,
		registry: d.Registry,
		limiter:  d.Limiter,
		tier:     d.Tier,
		log:      d.Log.Named("httpapi"),
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.engine.Use(s.rateLimitMiddleware())

	v1 := s.engine.Group("/api/v1")
	v1.POST("/request", s.handleRequest)
	v1.GET("/proxies", s.handleListProxies)
	v1.POST("/proxies", s.handleAddProxy)
	v1.DELETE("/proxies/:id", s.handleRemoveProxy)
	v1.POST("/proxies/test", s.handleTestProxies)
	v1.GET("/health", s.handleHealth)
	v1.GET("/metrics", s.handleMetrics)
	v1.PUT("/config", s.handleConfig)

	return s
}

// Handler returns the underlying http.Handler, for use with http.Server or
// httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// -----------------------------------------------------------------------
// Envelope
// -----------------------------------------------------------------------

type envelope struct {
	Status string         `json:"status"`
	Data   any            `json:"data,omitempty"`
	Error  *envelopeError `json:"error,omitempty"`
	Meta   meta           `json:"meta"`
}

type envelopeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type meta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

func (s *Server) ok(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Status: "success", Data: data, Meta: newMeta()})
}

func (s *Server) fail(c *gin.Context, err error) {
	perr, ok := err.(*proxyerr.Error)
	if !ok {
		perr = proxyerr.Wrap(proxyerr.CodeValidationError, "unexpected error", err)
	}
	c.JSON(httpStatusFor(perr.Code), envelope{
		Status: "error",
		Error:  &envelopeError{Code: string(perr.Code), Message: perr.Message, Details: perr.Details},
		Meta:   newMeta(),
	})
}

func newMeta() meta {
	return meta{Timestamp: time.Now(), RequestID: uuid.NewString()}
}

func httpStatusFor(code proxyerr.Code) int {
	switch code {
	case proxyerr.CodeProxyNotFound:
		return http.StatusNotFound
	case proxyerr.CodeProxyAlreadyExists, proxyerr.CodePoolFull:
		return http.StatusConflict
	case proxyerr.CodeInvalidProxyFormat, proxyerr.CodeValidationError, proxyerr.CodeInvalidStrategy:
		return http.StatusBadRequest
	case proxyerr.CodeRateLimited:
		return http.StatusTooManyRequests
	case proxyerr.CodeNoProxiesAvailable, proxyerr.CodeFailoverExhausted, proxyerr.CodeTargetUnreachable:
		return http.StatusServiceUnavailable
	case proxyerr.CodeRequestTimeout:
		return http.StatusGatewayTimeout
	case proxyerr.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// -----------------------------------------------------------------------
// Rate-limit headers middleware
// -----------------------------------------------------------------------

// rateLimitMiddleware attaches X-RateLimit-* headers (and Retry-After when
// denied) to every response, skipping whitelisted identifiers (spec §6).
// It also denies over-limit requests itself: it answers RATE_LIMITED (429)
// with Retry-After and aborts the handler chain, on every route it wraps.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		identifier := ratelimit.Identify(c.GetHeader("X-API-Key"), c.ClientIP())
		if s.limiter.IsWhitelisted(identifier) {
			c.Next()
			return
		}
		d := s.limiter.Check(c.Request.Context(), identifier, c.FullPath(), s.tier)
		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		if !d.Allowed {
			c.Header("Retry-After", strconv.FormatInt(int64(d.RetryAfter.Seconds()), 10))
			s.fail(c, proxyerr.New(proxyerr.CodeRateLimited, "rate limit exceeded"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) identifierFor(c *gin.Context) string {
	return ratelimit.Identify(c.GetHeader("X-API-Key"), c.ClientIP())
}
