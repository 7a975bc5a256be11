package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFetchTimeout bounds a catalog fetch from an http(s) source.
const DefaultFetchTimeout = 10 * time.Second

// LoadDocument reads a catalog document (a YAML list of ModelDefinition)
// from a local path or an http(s) URL.
func LoadDocument(ctx context.Context, source string, timeout time.Duration) ([]ModelDefinition, error) {
	raw, err := fetch(ctx, source, timeout)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch %s: %w", source, err)
	}

	var defs []ModelDefinition
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", source, err)
	}
	return defs, nil
}

func fetch(ctx context.Context, source string, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	if u, err := url.Parse(source); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}

	return os.ReadFile(source)
}

// Validate checks the required-field/enum/range invariants of a catalog
// document. It returns a single error aggregating every violation found,
// so operators see the whole picture of a bad catalog in one pass.
func Validate(defs []ModelDefinition) error {
	var problems []string
	seenNames := make(map[string]bool)

	for i, d := range defs {
		prefix := fmt.Sprintf("entry %d (%q)", i, d.Name)

		if d.Name == "" {
			problems = append(problems, prefix+": name is required")
		} else if seenNames[d.Name] {
			problems = append(problems, prefix+": duplicate name")
		}
		seenNames[d.Name] = true

		if d.Provider == "" {
			problems = append(problems, prefix+": provider is required")
		}
		if d.Model == "" {
			problems = append(problems, prefix+": model is required")
		}
		if d.Type != TypeFast && d.Type != TypeReasoning {
			problems = append(problems, prefix+fmt.Sprintf(": type must be %q or %q, got %q", TypeFast, TypeReasoning, d.Type))
		}
		if d.ContextSize <= 0 {
			problems = append(problems, prefix+": context_size must be positive")
		}
		if d.MaxOutputTokens <= 0 {
			problems = append(problems, prefix+": max_output_tokens must be positive")
		}
		if d.Weight != 0 && (d.Weight < 1 || d.Weight > 100) {
			problems = append(problems, prefix+": weight must be in [1,100]")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("catalog: invalid definitions:\n- %s", strings.Join(problems, "\n- "))
	}
	return nil
}

// normalizeDefaults applies documented catalog defaults (weight=1,
// capability flags default false, which the zero value already gives us)
// before the snapshot is published.
func normalizeDefaults(defs []ModelDefinition) []ModelDefinition {
	out := make([]ModelDefinition, len(defs))
	for i, d := range defs {
		if d.Weight == 0 {
			d.Weight = 1
		}
		out[i] = d
	}
	return out
}

// ApplyOverrides matches each override by Name (optionally verified by
// Provider/Model) and applies its patch. An override that matches no entry,
// or whose Provider/Model verification fails, is a fatal error
// requires registry init to fail fast on malformed overrides.
func ApplyOverrides(defs []ModelDefinition, overrides []ModelOverride) ([]ModelDefinition, error) {
	byName := make(map[string]int, len(defs))
	for i, d := range defs {
		byName[d.Name] = i
	}

	out := append([]ModelDefinition(nil), defs...)
	for _, o := range overrides {
		idx, ok := byName[o.Name]
		if !ok {
			return nil, fmt.Errorf("catalog: override references unknown model %q", o.Name)
		}
		target := out[idx]
		if o.Provider != "" && o.Provider != target.Provider {
			return nil, fmt.Errorf("catalog: override for %q expected provider %q, catalog has %q", o.Name, o.Provider, target.Provider)
		}
		if o.Model != "" && o.Model != target.Model {
			return nil, fmt.Errorf("catalog: override for %q expected model %q, catalog has %q", o.Name, o.Model, target.Model)
		}
		out[idx] = o.apply(target)
	}
	return out, nil
}
