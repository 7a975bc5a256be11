// Package selector implements the Selector (C7): model-reference parsing,
// priority-list resolution, and Smart-fallback scoring.
package selector

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"strings"

	"github.com/openlane-dev/freegate/internal/breaker"
	"github.com/openlane-dev/freegate/internal/catalog"
	"github.com/openlane-dev/freegate/internal/state"
)

// Mode selects the Smart-fallback scoring strategy.
type Mode string

const (
	ModeBest           Mode = "best"
	ModeTopNRandom     Mode = "top_n_random"
	ModeWeightedRandom Mode = "weighted_random" // default
)

// ModelReference is one parsed element of the request's `model` field.
type ModelReference struct {
	Auto     bool
	Provider string // empty means "any provider"
	Name     string
}

// ParseModelField splits a request's `model` field (string, array of
// strings, or absent) into a priority list and whether auto was requested.
// A trailing `auto` short-circuits: entries after it are discarded.
func ParseModelField(values []string) (refs []ModelReference, autoRequested bool) {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if v == "auto" {
			refs = append(refs, ModelReference{Auto: true})
			autoRequested = true
			break
		}
		if idx := strings.Index(v, "/"); idx >= 0 {
			refs = append(refs, ModelReference{Provider: v[:idx], Name: v[idx+1:]})
		} else {
			refs = append(refs, ModelReference{Name: v})
		}
	}
	return refs, autoRequested
}

// Criteria bundles the routing inputs the Selector needs beyond the parsed
// reference list: Smart-fallback capability filters and scoring knobs.
type Criteria struct {
	References        []ModelReference
	AllowAutoFallback bool
	Filter            catalog.FilterCriteria
	Mode              Mode
	MinSuccessRate    float64
	PreferFast        bool
}

// Selector resolves the next admissible model given an exclusion set that
// grows across Router retries.
type Selector struct {
	registry *catalog.Registry
	breaker  *breaker.Breaker
	store    state.Store
	rng      *rand.Rand
}

// New returns a Selector over registry, breaker, and the shared state store
// (consulted read-only, for successRate/avgLatency scoring). rng may be nil
// to use a freshly seeded source per call.
func New(registry *catalog.Registry, b *breaker.Breaker, store state.Store, rng *rand.Rand) *Selector {
	return &Selector{registry: registry, breaker: b, store: store, rng: rng}
}

func (s *Selector) random() *rand.Rand {
	if s.rng != nil {
		return s.rng
	}
	return rand.New(rand.NewSource(rand.Int63()))
}

// SelectNext resolves the next model to try: the priority list first, then
// (if exhausted/empty/auto and allowed) Smart fallback. excludedModels keys
// are `provider/name` or bare `name` as populated by the Router across
// retries. Returns nil, nil when no candidate survives (Router treats this
// as "no more models").
func (s *Selector) SelectNext(ctx context.Context, c Criteria, excludedModels map[string]bool) (*catalog.ModelDefinition, error) {
	for _, ref := range c.References {
		if ref.Auto {
			continue
		}
		candidates := s.registry.FindByNameAndProvider(ref.Name, ref.Provider)
		for _, cand := range candidates {
			if excludedModels[cand.Key()] || excludedModels[cand.Name] {
				continue
			}
			if !cand.Available {
				continue
			}
			ok, err := s.breaker.CanRequest(ctx, cand.Name)
			if err != nil {
				return nil, err
			}
			if ok {
				picked := cand
				return &picked, nil
			}
		}
	}

	if !c.AllowAutoFallback {
		return nil, nil
	}

	return s.smartFallback(ctx, c, excludedModels)
}

func (s *Selector) smartFallback(ctx context.Context, c Criteria, excludedModels map[string]bool) (*catalog.ModelDefinition, error) {
	filtered := s.registry.Filter(c.Filter)

	candidates := make([]catalog.ModelDefinition, 0, len(filtered))
	for _, d := range filtered {
		if excludedModels[d.Key()] || excludedModels[d.Name] {
			continue
		}
		candidates = append(candidates, d)
	}

	admitted, err := s.breaker.FilterAvailable(ctx, candidates)
	if err != nil {
		return nil, err
	}
	if len(admitted) == 0 {
		return nil, nil
	}

	return s.score(ctx, admitted, c)
}

type scoredCandidate struct {
	def   catalog.ModelDefinition
	score float64
}

// score implements Smart scoring: group by priority (highest first,
// constrained to the top non-empty group), drop candidates under
// minSuccessRate, then select per Mode.
func (s *Selector) score(ctx context.Context, candidates []catalog.ModelDefinition, c Criteria) (*catalog.ModelDefinition, error) {
	topGroup := topPriorityGroup(candidates)

	var survivors []scoredCandidate
	for _, d := range topGroup {
		stats, err := s.statsFor(ctx, d.Name)
		if err != nil {
			return nil, err
		}
		if c.MinSuccessRate > 0 && stats.SuccessRate < c.MinSuccessRate {
			continue
		}
		survivors = append(survivors, scoredCandidate{def: d, score: computeScore(d, stats, c)})
	}
	if len(survivors) == 0 {
		return nil, nil
	}

	mode := c.Mode
	if mode == "" {
		mode = ModeWeightedRandom
	}

	switch mode {
	case ModeBest:
		return &pickBest(survivors).def, nil

	case ModeTopNRandom:
		top := topN(survivors, 3)
		idx := s.random().Intn(len(top))
		picked := top[idx].def
		return &picked, nil

	default: // weighted_random
		picked := s.pickWeighted(survivors)
		return &picked, nil
	}
}

func pickBest(survivors []scoredCandidate) scoredCandidate {
	best := survivors[0]
	for _, cand := range survivors[1:] {
		if cand.score > best.score {
			best = cand
		}
	}
	return best
}

func (s *Selector) pickWeighted(survivors []scoredCandidate) catalog.ModelDefinition {
	total := 0.0
	for _, cand := range survivors {
		total += cand.score
	}
	if total <= 0 {
		return survivors[0].def
	}
	r := s.random().Float64() * total
	for _, cand := range survivors {
		r -= cand.score
		if r <= 0 {
			return cand.def
		}
	}
	return survivors[len(survivors)-1].def
}

// topN returns the top-n candidates by score, ties broken by registry
// (input) order.
func topN(candidates []scoredCandidate, n int) []scoredCandidate {
	sorted := append([]scoredCandidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].score > sorted[j].score })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// topPriorityGroup partitions by Priority (descending) and returns only the
// highest non-empty group — a hard partition.
func topPriorityGroup(candidates []catalog.ModelDefinition) []catalog.ModelDefinition {
	if len(candidates) == 0 {
		return nil
	}
	maxPriority := candidates[0].Priority
	for _, d := range candidates[1:] {
		if d.Priority > maxPriority {
			maxPriority = d.Priority
		}
	}
	out := make([]catalog.ModelDefinition, 0, len(candidates))
	for _, d := range candidates {
		if d.Priority == maxPriority {
			out = append(out, d)
		}
	}
	return out
}

// statsFor fetches current stats for a model, defaulting to a neutral
// (never-seen) stats block when no state has been recorded yet.
func (s *Selector) statsFor(ctx context.Context, name string) (state.Stats, error) {
	st, err := s.store.Get(ctx, name)
	if errors.Is(err, state.ErrNotFound) {
		return state.NewModelState(name).Stats, nil
	}
	if err != nil {
		return state.Stats{}, err
	}
	return st.Stats, nil
}

// computeScore combines base weight, a latency term (only when preferFast is
// set) Base scale keeps weight dominant while still
// letting latency break ties among equally-weighted candidates.
func computeScore(d catalog.ModelDefinition, stats state.Stats, c Criteria) float64 {
	score := float64(d.Weight)
	if c.PreferFast && stats.AvgLatencyMs > 0 {
		// Diminishing bonus for lower latency; caps influence so weight
		// still dominates ordering for very different avgLatency values.
		score += 100.0 / (1.0 + stats.AvgLatencyMs/100.0)
	}
	return score
}
