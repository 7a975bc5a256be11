package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlane-dev/freegate/internal/state"
)

func TestObserveAttempt_IncrementsCounterAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("test", reg)

	c.ObserveAttempt("groq", "fast-a", "success", 0.25)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "test_requests_total" {
			found = true
			require.Len(t, f.Metric, 1)
			assert.Equal(t, float64(1), f.Metric[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found, "expected test_requests_total to be registered")
}

func TestSetCircuitState_ReflectsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("test", reg)

	c.SetCircuitState("A", CircuitStateValue(state.CircuitOpen))

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "test_circuit_state" {
			require.Len(t, f.Metric, 1)
			assert.Equal(t, float64(2), f.Metric[0].GetGauge().GetValue())
			return
		}
	}
	t.Fatal("test_circuit_state not found")
}

func TestCircuitStateValue_Mapping(t *testing.T) {
	assert.Equal(t, float64(0), CircuitStateValue(state.CircuitClosed))
	assert.Equal(t, float64(1), CircuitStateValue(state.CircuitHalfOpen))
	assert.Equal(t, float64(2), CircuitStateValue(state.CircuitOpen))
	assert.Equal(t, float64(3), CircuitStateValue(state.CircuitPermanentlyUnavailable))
}
