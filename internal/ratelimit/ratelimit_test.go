package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckModel_Disabled(t *testing.T) {
	l := New(time.Hour, nil)
	for i := 0; i < 100; i++ {
		assert.True(t, l.CheckModel("m1", 0))
	}
}

func TestCheckModel_CapacityThenDenies(t *testing.T) {
	l := New(time.Hour, nil)

	// capacity=6 req/min means burst=6; the first 6 try-acquires succeed
	// immediately, the 7th is denied without blocking.
	var allowed int
	for i := 0; i < 7; i++ {
		if l.CheckModel("m1", 6) {
			allowed++
		}
	}
	assert.Equal(t, 6, allowed)
}

func TestCheckModel_IndependentPerModel(t *testing.T) {
	l := New(time.Hour, nil)

	for i := 0; i < 3; i++ {
		assert.True(t, l.CheckModel("a", 3))
	}
	assert.False(t, l.CheckModel("a", 3))
	assert.True(t, l.CheckModel("b", 3), "separate bucket for a different model")
}

func TestSweep_PrunesStaleBuckets(t *testing.T) {
	l := New(10*time.Millisecond, nil)
	l.CheckModel("a", 5)
	assert.Equal(t, 1, l.BucketCount())

	time.Sleep(20 * time.Millisecond)
	pruned := l.Sweep()
	assert.Equal(t, 1, pruned)
	assert.Equal(t, 0, l.BucketCount())
}

func TestSweep_KeepsRecentlyUsedBuckets(t *testing.T) {
	l := New(50*time.Millisecond, nil)
	l.CheckModel("a", 5)

	pruned := l.Sweep()
	assert.Equal(t, 0, pruned)
	assert.Equal(t, 1, l.BucketCount())
}
