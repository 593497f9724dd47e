package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wyattowalsh/proxywhirl/internal/proxyerr"
)

func TestDefault_IsSingletonWithBuiltinsRegistered(t *testing.T) {
	r1 := Default()
	r2 := Default()
	assert.Same(t, r1, r2)

	names := r1.List()
	for _, want := range []string{
		NameRoundRobin, NameRandom, NameWeighted, NameLeastUsed,
		NamePerformance, NameSession, NameGeoTargeted,
	} {
		assert.Contains(t, names, want)
	}
}

func TestRegistry_GetUnknownName(t *testing.T) {
	r := newRegistry()
	_, err := r.Get("does-not-exist", nil)
	require.Error(t, err)

	var perr *proxyerr.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, proxyerr.CodeInvalidStrategy, perr.Code)
}

func TestRegistry_RegisterReplacesExisting(t *testing.T) {
	r := newRegistry()
	r.Register("custom", func(map[string]any) (Strategy, error) {
		return NewRoundRobin(), nil
	})
	first, err := r.Get("custom", nil)
	require.NoError(t, err)
	_, isRR := first.(*RoundRobin)
	assert.True(t, isRR)

	r.Register("custom", func(map[string]any) (Strategy, error) {
		return NewRandom(1), nil
	})
	second, err := r.Get("custom", nil)
	require.NoError(t, err)
	_, isRand := second.(*Random)
	assert.True(t, isRand)
}

func TestRegistry_GetPropagatesFactoryConstructionError(t *testing.T) {
	r := newRegistry()
	r.Register("broken", func(map[string]any) (Strategy, error) {
		return nil, assertErr
	})
	_, err := r.Get("broken", nil)
	require.Error(t, err)

	var perr *proxyerr.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, proxyerr.CodeInvalidStrategy, perr.Code)
}

func TestRegistry_ListReflectsAllBuiltins(t *testing.T) {
	r := newRegistry()
	registerBuiltins(r)
	assert.Len(t, r.List(), 7)
}

var assertErr = proxyerr.New(proxyerr.CodeValidationError, "bad config")
