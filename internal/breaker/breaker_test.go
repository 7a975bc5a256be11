package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlane-dev/freegate/internal/catalog"
	"github.com/openlane-dev/freegate/internal/routeerr"
	"github.com/openlane-dev/freegate/internal/state"
)

func newTestBreaker() (*Breaker, state.Store) {
	store := state.NewMemory()
	cfg := Config{FailureThreshold: 3, CooldownPeriod: 20 * time.Millisecond, SuccessThreshold: 2}
	return New(store, cfg, nil), store
}

func TestCanRequest_DefaultsToClosed(t *testing.T) {
	b, _ := newTestBreaker()
	ok, err := b.CanRequest(context.Background(), "fresh-model")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOnFailure_OpensAfterThreshold(t *testing.T) {
	b, store := newTestBreaker()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.OnFailure(ctx, "m1", routeerr.KindOther))
	}

	s, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, state.CircuitOpen, s.CircuitState)

	ok, err := b.CanRequest(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOnFailure_ClientErrorsDoNotCount(t *testing.T) {
	b, store := newTestBreaker()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "m1", state.NewModelState("m1")))

	for i := 0; i < 5; i++ {
		require.NoError(t, b.OnFailure(ctx, "m1", routeerr.KindClientError))
	}

	s, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, state.CircuitClosed, s.CircuitState)
	assert.Equal(t, 0, s.ConsecutiveFailures)
}

func TestOnFailure_NotFoundIsPermanent(t *testing.T) {
	b, store := newTestBreaker()
	ctx := context.Background()

	require.NoError(t, b.OnFailure(ctx, "m1", routeerr.KindNotFound))

	s, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, state.CircuitPermanentlyUnavailable, s.CircuitState)
	assert.NotEmpty(t, s.UnavailableReason)

	ok, err := b.CanRequest(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, ok)

	// re-affirming sightings do not change the terminal state
	require.NoError(t, b.OnFailure(ctx, "m1", routeerr.KindNotFound))
	s2, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, state.CircuitPermanentlyUnavailable, s2.CircuitState)
}

func TestCooldown_TransitionsToHalfOpenThenClosed(t *testing.T) {
	b, store := newTestBreaker()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.OnFailure(ctx, "m1", routeerr.KindOther))
	}

	ok, err := b.CanRequest(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, ok, "still within cooldown")

	time.Sleep(25 * time.Millisecond)

	ok, err = b.CanRequest(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, ok, "cooldown elapsed, admitted into half-open")

	s, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, state.CircuitHalfOpen, s.CircuitState)

	require.NoError(t, b.OnSuccess(ctx, "m1"))
	require.NoError(t, b.OnSuccess(ctx, "m1"))

	s, err = store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, state.CircuitClosed, s.CircuitState)
}

func TestHalfOpen_FailureReopens(t *testing.T) {
	b, store := newTestBreaker()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.OnFailure(ctx, "m1", routeerr.KindOther))
	}
	time.Sleep(25 * time.Millisecond)
	ok, err := b.CanRequest(ctx, "m1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.OnFailure(ctx, "m1", routeerr.KindProviderNetwork))

	s, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, state.CircuitOpen, s.CircuitState)
}

func TestReset_ClearsPermanentState(t *testing.T) {
	b, store := newTestBreaker()
	ctx := context.Background()

	require.NoError(t, b.OnFailure(ctx, "m1", routeerr.KindNotFound))
	require.NoError(t, b.Reset(ctx, "m1"))

	s, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, state.CircuitClosed, s.CircuitState)

	ok, err := b.CanRequest(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFilterAvailable_ExcludesUnavailableAndDenied(t *testing.T) {
	b, _ := newTestBreaker()
	ctx := context.Background()

	require.NoError(t, b.OnFailure(ctx, "blocked", routeerr.KindNotFound))

	defs := []catalog.ModelDefinition{
		{Name: "ok", Available: true},
		{Name: "blocked", Available: true},
		{Name: "operator-disabled", Available: false},
	}

	out, err := b.FilterAvailable(ctx, defs)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "ok", out[0].Name)
}
