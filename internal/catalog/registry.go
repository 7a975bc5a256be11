package catalog

import (
	"context"
	"sync/atomic"
	"time"
)

// Registry owns every ModelDefinition in memory and exposes the filtered
// views the Selector needs. It publishes an immutable snapshot at init and
// (optionally) atomically swaps it on Reload.
type Registry struct {
	snapshot atomic.Pointer[[]ModelDefinition]
	source   string
	timeout  time.Duration
}

// Load fetches, validates, and overrides a catalog document, then publishes
// it as the registry's initial snapshot.
func Load(ctx context.Context, source string, overrides []ModelOverride, timeout time.Duration) (*Registry, error) {
	defs, err := LoadDocument(ctx, source, timeout)
	if err != nil {
		return nil, err
	}
	if err := Validate(defs); err != nil {
		return nil, err
	}
	defs, err = ApplyOverrides(defs, overrides)
	if err != nil {
		return nil, err
	}
	defs = normalizeDefaults(defs)

	r := &Registry{source: source, timeout: timeout}
	r.publish(defs)
	return r, nil
}

// NewFromDefinitions builds a Registry directly from already-validated
// definitions, skipping the load step. Used by tests and by callers that
// assemble a catalog programmatically.
func NewFromDefinitions(defs []ModelDefinition) (*Registry, error) {
	r := &Registry{}
	r.publish(normalizeDefaults(defs))
	return r, nil
}

func (r *Registry) publish(defs []ModelDefinition) {
	cp := append([]ModelDefinition(nil), defs...)
	r.snapshot.Store(&cp)
}

// Reload re-fetches and re-validates the catalog document from the
// registry's original source and atomically swaps the snapshot. Catalog
// loading is otherwise an init-time-only concern, but Reload is offered
// for operators who want it; it never exposes a partial snapshot.
func (r *Registry) Reload(ctx context.Context, overrides []ModelOverride) error {
	defs, err := LoadDocument(ctx, r.source, r.timeout)
	if err != nil {
		return err
	}
	if err := Validate(defs); err != nil {
		return err
	}
	defs, err = ApplyOverrides(defs, overrides)
	if err != nil {
		return err
	}
	r.publish(normalizeDefaults(defs))
	return nil
}

// All returns every catalog entry regardless of operator availability.
func (r *Registry) All() []ModelDefinition {
	p := r.snapshot.Load()
	if p == nil {
		return nil
	}
	return append([]ModelDefinition(nil), (*p)...)
}

// Available returns every catalog entry with Available == true.
func (r *Registry) Available() []ModelDefinition {
	all := r.All()
	out := make([]ModelDefinition, 0, len(all))
	for _, d := range all {
		if d.Available {
			out = append(out, d)
		}
	}
	return out
}

// FindByName returns every binding registered under the given logical name,
// in catalog order. Validate rejects duplicate names regardless of provider,
// so a validated catalog yields at most one binding per name.
func (r *Registry) FindByName(name string) []ModelDefinition {
	all := r.All()
	out := make([]ModelDefinition, 0, 1)
	for _, d := range all {
		if d.Name == name {
			out = append(out, d)
		}
	}
	return out
}

// FindByNameAndProvider narrows FindByName to a single provider when one is
// given; an empty provider returns every binding.
func (r *Registry) FindByNameAndProvider(name, provider string) []ModelDefinition {
	matches := r.FindByName(name)
	if provider == "" {
		return matches
	}
	out := make([]ModelDefinition, 0, len(matches))
	for _, d := range matches {
		if d.Provider == provider {
			out = append(out, d)
		}
	}
	return out
}

// Filter applies capability filters over Available().
func (r *Registry) Filter(c FilterCriteria) []ModelDefinition {
	candidates := r.Available()
	out := make([]ModelDefinition, 0, len(candidates))
	for _, d := range candidates {
		if !matchTags(d.Tags, c.Tags) {
			continue
		}
		if c.Type != "" && d.Type != c.Type {
			continue
		}
		if c.MinContextSize > 0 && d.ContextSize < c.MinContextSize {
			continue
		}
		if c.MinMaxOutputTokens > 0 && d.MaxOutputTokens < c.MinMaxOutputTokens {
			continue
		}
		if c.JSONResponse && !d.JSONResponse {
			continue
		}
		if c.SupportsImage && !d.SupportsImage {
			continue
		}
		if c.SupportsVideo && !d.SupportsVideo {
			continue
		}
		if c.SupportsAudio && !d.SupportsAudio {
			continue
		}
		if c.SupportsFile && !d.SupportsFile {
			continue
		}
		if c.SupportsTools && !d.SupportsTools {
			continue
		}
		out = append(out, d)
	}
	return out
}
