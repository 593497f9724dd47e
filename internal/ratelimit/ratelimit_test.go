package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentify_PrefersAPIKeyDigestOverIP(t *testing.T) {
	id := Identify("secret-key", "203.0.113.5:1234")
	assert.Contains(t, id, "key:")
	assert.NotContains(t, id, "secret-key")
}

func TestIdentify_FallsBackToRemoteIP(t *testing.T) {
	id := Identify("", "203.0.113.5:1234")
	assert.Equal(t, "ip:203.0.113.5", id)
}

func TestLimiter_AllowsUnderLimit(t *testing.T) {
	l := New(NewMemStore(), FailClosed, nil)
	tier := Tier{Name: "default", Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		d := l.Check(context.Background(), "ip:1.2.3.4", "/forward", tier)
		assert.True(t, d.Allowed)
		assert.Equal(t, 3, d.Limit)
	}
}

func TestLimiter_DeniesOverLimit(t *testing.T) {
	l := New(NewMemStore(), FailClosed, nil)
	tier := Tier{Name: "default", Limit: 2, Window: time.Minute}

	l.Check(context.Background(), "ip:1.2.3.4", "/forward", tier)
	l.Check(context.Background(), "ip:1.2.3.4", "/forward", tier)
	d := l.Check(context.Background(), "ip:1.2.3.4", "/forward", tier)

	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestLimiter_WhitelistBypassesChecks(t *testing.T) {
	l := New(NewMemStore(), FailClosed, []string{"ip:9.9.9.9"})
	tier := Tier{Name: "default", Limit: 1, Window: time.Minute}

	for i := 0; i < 10; i++ {
		d := l.Check(context.Background(), "ip:9.9.9.9", "/forward", tier)
		assert.True(t, d.Allowed)
	}
	assert.True(t, l.IsWhitelisted("ip:9.9.9.9"))
}

func TestLimiter_PerEndpointOverrideIsMoreRestrictive(t *testing.T) {
	tier := Tier{
		Name:   "default",
		Limit:  100,
		Window: time.Minute,
		PerEndpointOverrides: map[string]Override{
			"/proxies": {Limit: 1, Window: time.Minute},
		},
	}
	limit, window := tier.effective("/proxies")
	assert.Equal(t, 1, limit)
	assert.Equal(t, time.Minute, window)

	limit, _ = tier.effective("/forward")
	assert.Equal(t, 100, limit)
}

func TestTier_PartialOverrideInheritsUnsetFields(t *testing.T) {
	tier := Tier{
		Name:   "default",
		Limit:  100,
		Window: time.Minute,
		PerEndpointOverrides: map[string]Override{
			// Only narrows the window; Limit: 0 must inherit the tier's
			// limit, not collapse it to zero.
			"/health": {Window: 10 * time.Second},
		},
	}
	limit, window := tier.effective("/health")
	assert.Equal(t, 100, limit, "an override that only sets Window must not zero out the tier's limit")
	assert.Equal(t, 10*time.Second, window)
}

type errorStore struct{}

func (errorStore) CountAndRecord(context.Context, string, time.Time, time.Duration, int) (int, time.Time, bool, error) {
	return 0, time.Time{}, false, errors.New("store unavailable")
}

func TestLimiter_FailClosedDeniesOnStoreError(t *testing.T) {
	l := New(errorStore{}, FailClosed, nil)
	d := l.Check(context.Background(), "ip:1.2.3.4", "/forward", Tier{Limit: 10, Window: time.Minute})
	assert.False(t, d.Allowed)
}

func TestLimiter_FailOpenAllowsOnStoreError(t *testing.T) {
	l := New(errorStore{}, FailOpen, nil)
	d := l.Check(context.Background(), "ip:1.2.3.4", "/forward", Tier{Limit: 10, Window: time.Minute})
	assert.True(t, d.Allowed)
}

func TestMemStore_SlidingWindowExpiresOldEvents(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	window := 50 * time.Millisecond

	used, _, recorded, err := s.CountAndRecord(ctx, "k", time.Now(), window, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, used)
	assert.True(t, recorded)

	used, _, recorded, err = s.CountAndRecord(ctx, "k", time.Now(), window, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, used)
	assert.False(t, recorded)

	time.Sleep(window + 10*time.Millisecond)
	used, _, recorded, err = s.CountAndRecord(ctx, "k", time.Now(), window, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, used)
	assert.True(t, recorded)
}
