package selector

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlane-dev/freegate/internal/breaker"
	"github.com/openlane-dev/freegate/internal/catalog"
	"github.com/openlane-dev/freegate/internal/state"
)

func TestParseModelField(t *testing.T) {
	refs, auto := ParseModelField([]string{"fast-a", "groq/fast-b"})
	require.Len(t, refs, 2)
	assert.Equal(t, "fast-a", refs[0].Name)
	assert.Equal(t, "", refs[0].Provider)
	assert.Equal(t, "groq", refs[1].Provider)
	assert.Equal(t, "fast-b", refs[1].Name)
	assert.False(t, auto)
}

func TestParseModelField_AutoOnly(t *testing.T) {
	refs, auto := ParseModelField([]string{"auto"})
	require.Len(t, refs, 1)
	assert.True(t, refs[0].Auto)
	assert.True(t, auto)
}

func TestParseModelField_TrailingAutoShortCircuits(t *testing.T) {
	refs, auto := ParseModelField([]string{"fast-a", "auto", "fast-b"})
	require.Len(t, refs, 2)
	assert.Equal(t, "fast-a", refs[0].Name)
	assert.True(t, refs[1].Auto)
	assert.True(t, auto)
}

func TestParseModelField_SlashInUpstreamModel(t *testing.T) {
	refs, _ := ParseModelField([]string{"groq/org/model-variant"})
	require.Len(t, refs, 1)
	assert.Equal(t, "groq", refs[0].Provider)
	assert.Equal(t, "org/model-variant", refs[0].Name)
}

func newTestSelector(t *testing.T, defs []catalog.ModelDefinition) (*Selector, *breaker.Breaker, state.Store) {
	reg, err := catalog.NewFromDefinitions(defs)
	require.NoError(t, err)
	store := state.NewMemory()
	b := breaker.New(store, breaker.Config{}, nil)
	sel := New(reg, b, store, rand.New(rand.NewSource(1)))
	return sel, b, store
}

func TestSelectNext_PriorityListHonorsOrder(t *testing.T) {
	defs := []catalog.ModelDefinition{
		{Name: "a", Provider: "groq", Available: true, Weight: 1},
		{Name: "b", Provider: "groq", Available: true, Weight: 1},
	}
	sel, _, _ := newTestSelector(t, defs)

	c := Criteria{References: []ModelReference{{Name: "b"}, {Name: "a"}}}
	picked, err := sel.SelectNext(context.Background(), c, map[string]bool{})
	require.NoError(t, err)
	require.NotNil(t, picked)
	assert.Equal(t, "b", picked.Name)
}

func TestSelectNext_SkipsUnavailable(t *testing.T) {
	defs := []catalog.ModelDefinition{
		{Name: "a", Provider: "groq", Available: false, Weight: 1},
		{Name: "b", Provider: "groq", Available: true, Weight: 1},
	}
	sel, _, _ := newTestSelector(t, defs)

	c := Criteria{References: []ModelReference{{Name: "a"}, {Name: "b"}}}
	picked, err := sel.SelectNext(context.Background(), c, map[string]bool{})
	require.NoError(t, err)
	require.NotNil(t, picked)
	assert.Equal(t, "b", picked.Name)
}

func TestSelectNext_ExcludedSetBlocksModel(t *testing.T) {
	defs := []catalog.ModelDefinition{
		{Name: "a", Provider: "groq", Available: true, Weight: 1},
	}
	sel, _, _ := newTestSelector(t, defs)

	c := Criteria{References: []ModelReference{{Name: "a"}}}
	picked, err := sel.SelectNext(context.Background(), c, map[string]bool{"groq/a": true})
	require.NoError(t, err)
	assert.Nil(t, picked)
}

func TestSelectNext_NoPriorityListFallsBackToSmart(t *testing.T) {
	defs := []catalog.ModelDefinition{
		{Name: "a", Provider: "groq", Available: true, Weight: 10},
	}
	sel, _, _ := newTestSelector(t, defs)

	c := Criteria{References: []ModelReference{{Auto: true}}, AllowAutoFallback: true}
	picked, err := sel.SelectNext(context.Background(), c, map[string]bool{})
	require.NoError(t, err)
	require.NotNil(t, picked)
	assert.Equal(t, "a", picked.Name)
}

func TestSelectNext_SmartFallbackDisallowedReturnsNil(t *testing.T) {
	defs := []catalog.ModelDefinition{
		{Name: "a", Provider: "groq", Available: true, Weight: 10},
	}
	sel, _, _ := newTestSelector(t, defs)

	c := Criteria{References: nil, AllowAutoFallback: false}
	picked, err := sel.SelectNext(context.Background(), c, map[string]bool{})
	require.NoError(t, err)
	assert.Nil(t, picked)
}

func TestScore_PriorityGroupIsHardPartition(t *testing.T) {
	defs := []catalog.ModelDefinition{
		{Name: "low", Provider: "groq", Available: true, Weight: 100, Priority: 0},
		{Name: "high", Provider: "groq", Available: true, Weight: 1, Priority: 5},
	}
	sel, _, _ := newTestSelector(t, defs)

	c := Criteria{AllowAutoFallback: true, Mode: ModeBest}
	picked, err := sel.SelectNext(context.Background(), c, map[string]bool{})
	require.NoError(t, err)
	require.NotNil(t, picked)
	assert.Equal(t, "high", picked.Name, "higher-priority group wins even with lower weight")
}

func TestScore_BestModePicksHighestWeight(t *testing.T) {
	defs := []catalog.ModelDefinition{
		{Name: "a", Provider: "groq", Available: true, Weight: 1},
		{Name: "b", Provider: "groq", Available: true, Weight: 50},
	}
	sel, _, _ := newTestSelector(t, defs)

	c := Criteria{AllowAutoFallback: true, Mode: ModeBest}
	picked, err := sel.SelectNext(context.Background(), c, map[string]bool{})
	require.NoError(t, err)
	require.NotNil(t, picked)
	assert.Equal(t, "b", picked.Name)
}

func TestScore_MinSuccessRateExcludesUnreliableCandidates(t *testing.T) {
	defs := []catalog.ModelDefinition{
		{Name: "flaky", Provider: "groq", Available: true, Weight: 100},
		{Name: "solid", Provider: "groq", Available: true, Weight: 1},
	}
	sel, _, store := newTestSelector(t, defs)

	ctx := context.Background()
	flaky := state.NewModelState("flaky")
	flaky.Stats.SuccessRate = 0.1
	require.NoError(t, store.Put(ctx, "flaky", flaky))

	c := Criteria{AllowAutoFallback: true, Mode: ModeBest, MinSuccessRate: 0.5}
	picked, err := sel.SelectNext(ctx, c, map[string]bool{})
	require.NoError(t, err)
	require.NotNil(t, picked)
	assert.Equal(t, "solid", picked.Name)
}

func TestScore_WeightedRandomFavorsHigherWeight(t *testing.T) {
	defs := []catalog.ModelDefinition{
		{Name: "heavy", Provider: "groq", Available: true, Weight: 99},
		{Name: "light", Provider: "groq", Available: true, Weight: 1},
	}
	sel, _, _ := newTestSelector(t, defs)

	counts := map[string]int{}
	for i := 0; i < 200; i++ {
		c := Criteria{AllowAutoFallback: true, Mode: ModeWeightedRandom}
		picked, err := sel.SelectNext(context.Background(), c, map[string]bool{})
		require.NoError(t, err)
		require.NotNil(t, picked)
		counts[picked.Name]++
	}
	assert.Greater(t, counts["heavy"], counts["light"])
}
