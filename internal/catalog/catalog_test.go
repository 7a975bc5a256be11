package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDefs() []ModelDefinition {
	return []ModelDefinition{
		{
			Name: "fast-a", Provider: "groq", Model: "llama-fast", Type: TypeFast,
			ContextSize: 8192, MaxOutputTokens: 2048, Tags: []string{"free", "chat", "tools"},
			Available: true, Weight: 10,
		},
		{
			Name: "reason-b", Provider: "groq", Model: "llama-reason", Type: TypeReasoning,
			ContextSize: 32768, MaxOutputTokens: 4096, Tags: []string{"free|paid"},
			Available: true, Weight: 5, SupportsTools: true,
		},
		{
			Name: "killed-c", Provider: "openrouter", Model: "x", Type: TypeFast,
			ContextSize: 4096, MaxOutputTokens: 1024, Available: false, Weight: 1,
		},
	}
}

func TestValidate_CatchesEveryProblem(t *testing.T) {
	bad := []ModelDefinition{
		{Name: "", Provider: "", Model: "", Type: "bogus", ContextSize: -1, MaxOutputTokens: 0, Weight: 200},
	}
	err := Validate(bad)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "name is required")
	assert.Contains(t, msg, "provider is required")
	assert.Contains(t, msg, "model is required")
	assert.Contains(t, msg, "type must be")
	assert.Contains(t, msg, "context_size must be positive")
	assert.Contains(t, msg, "max_output_tokens must be positive")
	assert.Contains(t, msg, "weight must be in [1,100]")
}

func TestValidate_DuplicateNames(t *testing.T) {
	defs := []ModelDefinition{
		{Name: "dup", Provider: "a", Model: "m", Type: TypeFast, ContextSize: 1, MaxOutputTokens: 1},
		{Name: "dup", Provider: "b", Model: "m2", Type: TypeFast, ContextSize: 1, MaxOutputTokens: 1},
	}
	err := Validate(defs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate name")
}

func TestApplyOverrides_UnknownNameFails(t *testing.T) {
	_, err := ApplyOverrides(sampleDefs(), []ModelOverride{{Name: "does-not-exist"}})
	assert.Error(t, err)
}

func TestApplyOverrides_ProviderMismatchFails(t *testing.T) {
	_, err := ApplyOverrides(sampleDefs(), []ModelOverride{{Name: "fast-a", Provider: "not-groq"}})
	assert.Error(t, err)
}

func TestApplyOverrides_PatchesFields(t *testing.T) {
	weight := 42
	avail := false
	out, err := ApplyOverrides(sampleDefs(), []ModelOverride{{Name: "fast-a", Weight: &weight, Available: &avail}})
	require.NoError(t, err)
	for _, d := range out {
		if d.Name == "fast-a" {
			assert.Equal(t, 42, d.Weight)
			assert.False(t, d.Available)
		}
	}
}

func TestRegistry_AvailableExcludesKilled(t *testing.T) {
	reg, err := NewFromDefinitions(sampleDefs())
	require.NoError(t, err)

	avail := reg.Available()
	names := map[string]bool{}
	for _, d := range avail {
		names[d.Name] = true
	}
	assert.True(t, names["fast-a"])
	assert.True(t, names["reason-b"])
	assert.False(t, names["killed-c"])
}

func TestRegistry_FindByNameAndProvider(t *testing.T) {
	reg, err := NewFromDefinitions(sampleDefs())
	require.NoError(t, err)

	matches := reg.FindByNameAndProvider("fast-a", "groq")
	require.Len(t, matches, 1)

	none := reg.FindByNameAndProvider("fast-a", "openrouter")
	assert.Empty(t, none)
}

func TestRegistry_FilterByTypeAndTags(t *testing.T) {
	reg, err := NewFromDefinitions(sampleDefs())
	require.NoError(t, err)

	reasoning := reg.Filter(FilterCriteria{Type: TypeReasoning})
	require.Len(t, reasoning, 1)
	assert.Equal(t, "reason-b", reasoning[0].Name)

	withTools := reg.Filter(FilterCriteria{SupportsTools: true})
	require.Len(t, withTools, 1)
	assert.Equal(t, "reason-b", withTools[0].Name)

	tagged := reg.Filter(FilterCriteria{Tags: []string{"chat&tools"}})
	require.Len(t, tagged, 1)
	assert.Equal(t, "fast-a", tagged[0].Name)
}

func TestMatchTags_DNFGrammar(t *testing.T) {
	have := []string{"free", "chat", "tools"}

	assert.True(t, matchTags(have, nil), "empty want always matches")
	assert.True(t, matchTags(have, []string{"chat&tools"}), "AND clause satisfied")
	assert.False(t, matchTags(have, []string{"chat&vision"}), "AND clause needs all tokens")
	assert.True(t, matchTags(have, []string{"vision|chat"}), "OR alternative satisfied")
	assert.True(t, matchTags(have, []string{"vision", "chat&tools"}), "clauses are OR-ed")
	assert.False(t, matchTags(have, []string{"vision", "paid&tools"}), "no clause satisfied")
}
