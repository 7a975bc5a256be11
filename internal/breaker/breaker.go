// Package breaker implements the Circuit Breaker (C5): a four-state machine
// (CLOSED/OPEN/HALF_OPEN/PERMANENTLY_UNAVAILABLE) gating model admission,
// driven by the outcomes Health/Stats records.
package breaker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/openlane-dev/freegate/internal/catalog"
	"github.com/openlane-dev/freegate/internal/routeerr"
	"github.com/openlane-dev/freegate/internal/state"
)

// Default tuning knobs for the breaker's thresholds and cooldown.
const (
	DefaultFailureThreshold = 3
	DefaultCooldownPeriod   = 3 * time.Minute
	DefaultSuccessThreshold = 2
)

const maxCASRetries = 8

// Config overrides the breaker's thresholds; zero values fall back to the
// package defaults.
type Config struct {
	FailureThreshold int
	CooldownPeriod   time.Duration
	SuccessThreshold int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.CooldownPeriod <= 0 {
		c.CooldownPeriod = DefaultCooldownPeriod
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	return c
}

// Breaker gates admission per model name, backed by the shared State Store.
type Breaker struct {
	store  state.Store
	cfg    Config
	logger *zap.Logger
}

// New returns a Breaker over store with the given Config (zero Config uses
// package defaults).
func New(store state.Store, cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{store: store, cfg: cfg.withDefaults(), logger: logger.With(zap.String("component", "breaker"))}
}

// CanRequest returns true iff the model's circuit is CLOSED or HALF_OPEN. A
// lazy OPEN → HALF_OPEN transition happens inside this call when the
// cooldown period has elapsed.
func (b *Breaker) CanRequest(ctx context.Context, name string) (bool, error) {
	s, err := b.getOrInit(ctx, name)
	if err != nil {
		return false, err
	}

	switch s.CircuitState {
	case state.CircuitClosed, state.CircuitHalfOpen:
		return true, nil
	case state.CircuitPermanentlyUnavailable:
		return false, nil
	case state.CircuitOpen:
		if time.Since(s.OpenedAt) >= b.cfg.CooldownPeriod {
			return b.transitionToHalfOpen(ctx, name)
		}
		return false, nil
	default:
		return false, nil
	}
}

// transitionToHalfOpen performs the lazy OPEN → HALF_OPEN move and reports
// whether the caller may proceed. A CAS conflict (another reader raced the
// same transition, or the state moved on) is resolved by re-reading and
// re-evaluating rather than treated as an error.
func (b *Breaker) transitionToHalfOpen(ctx context.Context, name string) (bool, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		current, err := b.store.Get(ctx, name)
		if err != nil {
			return false, err
		}
		if current.CircuitState != state.CircuitOpen {
			return b.CanRequest(ctx, name)
		}
		next := current.Clone()
		next.CircuitState = state.CircuitHalfOpen
		next.ConsecutiveSuccesses = 0

		if err := b.store.CompareAndSwap(ctx, name, current, next); err != nil {
			if errors.Is(err, state.ErrConflict) {
				continue
			}
			return false, err
		}
		return true, nil
	}
	return false, errors.New("breaker: exceeded CAS retries transitioning to half-open")
}

// FilterAvailable returns the subset of defs whose models are both
// operator-available and admissible under CanRequest.
func (b *Breaker) FilterAvailable(ctx context.Context, defs []catalog.ModelDefinition) ([]catalog.ModelDefinition, error) {
	out := make([]catalog.ModelDefinition, 0, len(defs))
	for _, d := range defs {
		if !d.Available {
			continue
		}
		ok, err := b.CanRequest(ctx, d.Name)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// OnSuccess records a success outcome and advances CLOSED/HALF_OPEN
// transitions per the state machine's transition table.
func (b *Breaker) OnSuccess(ctx context.Context, name string) error {
	return b.mutate(ctx, name, func(s *state.ModelState) {
		s.ConsecutiveFailures = 0
		s.ConsecutiveSuccesses++

		if s.CircuitState == state.CircuitHalfOpen && s.ConsecutiveSuccesses >= b.cfg.SuccessThreshold {
			s.CircuitState = state.CircuitClosed
			s.ConsecutiveFailures = 0
		}
	})
}

// OnFailure records a failure outcome classified by kind, advancing
// CLOSED → OPEN, HALF_OPEN → OPEN, or the terminal → PERMANENTLY_UNAVAILABLE
// transition for NotFound. Client errors never advance consecutiveFailures
// nor reset consecutiveSuccesses.
func (b *Breaker) OnFailure(ctx context.Context, name string, kind routeerr.Kind) error {
	if kind == routeerr.KindNotFound {
		return b.mutate(ctx, name, func(s *state.ModelState) {
			s.CircuitState = state.CircuitPermanentlyUnavailable
			s.UnavailableReason = "model not found (404)"
		})
	}

	if kind == routeerr.KindClientError {
		return nil
	}

	return b.mutate(ctx, name, func(s *state.ModelState) {
		if s.CircuitState == state.CircuitPermanentlyUnavailable {
			return
		}

		s.ConsecutiveFailures++

		switch s.CircuitState {
		case state.CircuitHalfOpen:
			s.CircuitState = state.CircuitOpen
			s.OpenedAt = time.Now()
			s.ConsecutiveSuccesses = 0
		case state.CircuitClosed:
			if s.ConsecutiveFailures >= b.cfg.FailureThreshold {
				s.CircuitState = state.CircuitOpen
				s.OpenedAt = time.Now()
			}
		case state.CircuitOpen:
			s.OpenedAt = time.Now()
		}
	})
}

// Reset clears a model's circuit back to CLOSED, for operator-triggered
// recovery of a PERMANENTLY_UNAVAILABLE (or any other) state.
func (b *Breaker) Reset(ctx context.Context, name string) error {
	return b.mutate(ctx, name, func(s *state.ModelState) {
		s.CircuitState = state.CircuitClosed
		s.ConsecutiveFailures = 0
		s.ConsecutiveSuccesses = 0
		s.OpenedAt = time.Time{}
		s.UnavailableReason = ""
	})
}

func (b *Breaker) getOrInit(ctx context.Context, name string) (*state.ModelState, error) {
	s, err := b.store.Get(ctx, name)
	if errors.Is(err, state.ErrNotFound) {
		return state.NewModelState(name), nil
	}
	return s, err
}

// mutate runs fn over the current state under optimistic-concurrency retry.
func (b *Breaker) mutate(ctx context.Context, name string, fn func(s *state.ModelState)) error {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		current, err := b.store.Get(ctx, name)
		var expected *state.ModelState
		if errors.Is(err, state.ErrNotFound) {
			current = state.NewModelState(name)
			expected = nil
		} else if err != nil {
			return err
		} else {
			expected = current.Clone()
		}

		next := current.Clone()
		fn(next)

		if err := b.store.CompareAndSwap(ctx, name, expected, next); err != nil {
			if errors.Is(err, state.ErrConflict) || errors.Is(err, state.ErrNotFound) {
				continue
			}
			return err
		}
		return nil
	}
	b.logger.Warn("breaker: exceeded CAS retries", zap.String("model", name))
	return errors.New("breaker: exceeded CAS retries")
}
