package cmd

import (
	"context"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/wyattowalsh/proxywhirl/internal/ratelimit"
)

// httpServer wraps net/http.Server so run() can start/stop it alongside the
// monitor's own background loop without pulling gin's own listener
// management into cmd.
type httpServer struct {
	addr    string
	handler http.Handler
	srv     *http.Server
}

func (s *httpServer) start() error {
	s.srv = &http.Server{Addr: s.addr, Handler: s.handler}
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *httpServer) stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// newRedisStoreFromDSN builds a RedisStore from a simple "host:port" DSN.
// Only the address is set on the client: full redis.ParseURL-style DSNs
// (with auth/db) are not parsed, and no password or database number is
// configured, from the DSN or from the environment.
func newRedisStoreFromDSN(addr string) *ratelimit.RedisStore {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return ratelimit.NewRedisStore(client)
}
