// Package health implements Health/Stats (C4): sliding-window counters and
// latency aggregation over the State Store.
package health

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/openlane-dev/freegate/internal/state"
)

// DefaultWindowSize is the default statsWindowSize for the sliding window.
const DefaultWindowSize = 10 * time.Minute

// DefaultCASRetries bounds the optimistic-retry loop used to record a
// request under concurrent writers to the same model's state.
const DefaultCASRetries = 8

// Tracker records request outcomes into the State Store and derives the
// counters described/§4.4.
type Tracker struct {
	store      state.Store
	windowSize time.Duration
	logger     *zap.Logger
}

// New returns a Tracker backed by store, pruning entries older than
// windowSize (DefaultWindowSize if zero).
func New(store state.Store, windowSize time.Duration, logger *zap.Logger) *Tracker {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, windowSize: windowSize, logger: logger.With(zap.String("component", "health"))}
}

// RecordSuccess appends a success record and recomputes derived counters.
func (t *Tracker) RecordSuccess(ctx context.Context, name string, latency time.Duration) (*state.ModelState, error) {
	return t.record(ctx, name, state.OutcomeSuccess, latency)
}

// RecordFailure appends a failure record and recomputes derived counters.
// Latency may be zero for failures that never reached the provider.
func (t *Tracker) RecordFailure(ctx context.Context, name string, latency time.Duration) (*state.ModelState, error) {
	return t.record(ctx, name, state.OutcomeFailure, latency)
}

func (t *Tracker) record(ctx context.Context, name string, outcome state.Outcome, latency time.Duration) (*state.ModelState, error) {
	var updated *state.ModelState

	for attempt := 0; attempt < DefaultCASRetries; attempt++ {
		current, err := t.store.Get(ctx, name)
		var expected *state.ModelState
		if errors.Is(err, state.ErrNotFound) {
			current = state.NewModelState(name)
			expected = nil
		} else if err != nil {
			return nil, err
		} else {
			expected = current.Clone()
		}

		next := current.Clone()
		t.appendRecord(next, outcome, latency)

		if err := t.store.CompareAndSwap(ctx, name, expected, next); err != nil {
			if errors.Is(err, state.ErrConflict) || errors.Is(err, state.ErrNotFound) {
				continue // another writer raced ahead; retry with fresh state
			}
			return nil, err
		}
		updated = next
		break
	}

	if updated == nil {
		t.logger.Warn("health: giving up recording after repeated CAS conflicts", zap.String("model", name))
		return nil, errors.New("health: exceeded CAS retries")
	}
	return updated, nil
}

// appendRecord mutates s.Stats in place: appends the new record, prunes the
// window, and recomputes every derived counter.
func (t *Tracker) appendRecord(s *state.ModelState, outcome state.Outcome, latency time.Duration) {
	now := time.Now()
	s.Stats.Records = append(s.Stats.Records, state.StatRecord{
		Timestamp: now,
		Outcome:   outcome,
		LatencyMs: latency.Milliseconds(),
	})
	s.Stats.LifetimeTotalRequests++

	cutoff := now.Add(-t.windowSize)
	pruned := s.Stats.Records[:0:0]
	for _, r := range s.Stats.Records {
		if r.Timestamp.After(cutoff) {
			pruned = append(pruned, r)
		}
	}
	s.Stats.Records = pruned

	recompute(&s.Stats)
}

// recompute derives TotalRequests/SuccessCount/ErrorCount/AvgLatency/
// P95Latency/SuccessRate from the pruned window.
func recompute(stats *state.Stats) {
	var successLatencies []int64
	var successes, failures int64

	for _, r := range stats.Records {
		if r.Outcome == state.OutcomeSuccess {
			successes++
			successLatencies = append(successLatencies, r.LatencyMs)
		} else {
			failures++
		}
	}

	stats.TotalRequests = successes + failures
	stats.SuccessCount = successes
	stats.ErrorCount = failures

	if stats.TotalRequests == 0 {
		stats.SuccessRate = 1.0
	} else {
		stats.SuccessRate = float64(successes) / float64(stats.TotalRequests)
	}

	if len(successLatencies) == 0 {
		stats.AvgLatencyMs = 0
		stats.P95LatencyMs = 0
		return
	}

	var sum int64
	sorted := append([]int64(nil), successLatencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, v := range sorted {
		sum += v
	}
	stats.AvgLatencyMs = float64(sum) / float64(len(sorted))

	idx := int(math.Ceil(float64(len(sorted))*0.95)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	stats.P95LatencyMs = float64(sorted[idx])
}
