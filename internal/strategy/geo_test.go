package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyattowalsh/proxywhirl/internal/pool"
)

func makeGeoView() []*pool.Proxy {
	return []*pool.Proxy{
		pool.NewProxy(pool.Endpoint{Scheme: pool.SchemeHTTP, Host: "1.1.1.1", Port: 1}, nil, "US", "NA", "user", 0),
		pool.NewProxy(pool.Endpoint{Scheme: pool.SchemeHTTP, Host: "1.1.1.2", Port: 1}, nil, "US", "NA", "user", 0),
		pool.NewProxy(pool.Endpoint{Scheme: pool.SchemeHTTP, Host: "1.1.1.3", Port: 1}, nil, "EU", "EU", "user", 0),
		pool.NewProxy(pool.Endpoint{Scheme: pool.SchemeHTTP, Host: "1.1.1.4", Port: 1}, nil, "JP", "APAC", "user", 0),
	}
}

func TestGeoTargeted_CountryPrecedence(t *testing.T) {
	view := makeGeoView()
	g := NewGeoTargeted(DefaultGeoConfig())
	ctx := NewContext()
	ctx.TargetCountry = "US"
	ctx.TargetRegion = "EU" // should be ignored since country is set

	for i := 0; i < 100; i++ {
		px, err := g.Select(view, ctx)
		require.NoError(t, err)
		assert.Equal(t, "US", px.CountryCode)
	}
}

func TestGeoTargeted_FallsBackToFullViewByDefault(t *testing.T) {
	view := makeGeoView()
	g := NewGeoTargeted(DefaultGeoConfig())
	ctx := NewContext()
	ctx.TargetCountry = "BR" // no match

	px, err := g.Select(view, ctx)
	require.NoError(t, err)
	assert.NotNil(t, px)
}

func TestGeoTargeted_FailsClosedWhenConfigured(t *testing.T) {
	view := makeGeoView()
	cfg := DefaultGeoConfig()
	cfg.FallbackToFullView = false
	g := NewGeoTargeted(cfg)
	ctx := NewContext()
	ctx.TargetCountry = "BR"

	_, err := g.Select(view, ctx)
	assert.Error(t, err)
}

func TestGeoTargeted_NoFilterWhenNeitherSet(t *testing.T) {
	view := makeGeoView()
	g := NewGeoTargeted(DefaultGeoConfig())
	filtered := g.Apply(view, NewContext())
	assert.Len(t, filtered, len(view))
}
