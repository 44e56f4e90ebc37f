package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAlways_SyncsEveryPut(t *testing.T) {
	p := NewAlways()
	for i := 0; i < 5; i++ {
		assert.True(t, p.OnPut())
		p.OnSync(time.Now())
	}
}

func TestBatch_SyncsAtThreshold(t *testing.T) {
	p := NewBatch(3)

	assert.False(t, p.OnPut()) // 1
	assert.False(t, p.OnPut()) // 2
	assert.True(t, p.OnPut())  // 3 -> sync
	p.OnSync(time.Now())

	assert.False(t, p.OnPut()) // 1 again after reset
}

func TestBatch100_SyncsTwicePer250Puts(t *testing.T) {
	p := NewBatch(100)
	syncs := 0
	for i := 1; i <= 250; i++ {
		if p.OnPut() {
			syncs++
			p.OnSync(time.Now())
		}
	}
	// Thresholds cross at 100 and 200; the trailing 50 puts stay unsynced.
	assert.Equal(t, 2, syncs)
}

func TestPeriodic_SyncsAfterElapsed(t *testing.T) {
	p := NewPeriodic(10 * time.Millisecond)
	assert.False(t, p.OnPut())
	time.Sleep(15 * time.Millisecond)
	assert.True(t, p.OnPut())
}

func TestExplicitSync_ResetsStateRegardlessOfPolicy(t *testing.T) {
	p := NewBatch(1000)
	assert.False(t, p.OnPut())
	p.OnSync(time.Now())
	// Counter must have been reset even though the batch never triggered.
	for i := 0; i < 999; i++ {
		assert.False(t, p.OnPut())
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "always", NewAlways().String())
	assert.Equal(t, "batch:7", NewBatch(7).String())
	assert.Equal(t, "periodic:15", NewPeriodic(15*time.Millisecond).String())
}

func TestParseSpec(t *testing.T) {
	p, err := ParseSpec("always")
	assert.NoError(t, err)
	assert.Equal(t, Always, p.Kind())

	p, err = ParseSpec("batch:100")
	assert.NoError(t, err)
	assert.Equal(t, Batch, p.Kind())
	assert.Equal(t, 100, p.N())

	p, err = ParseSpec("periodic:50")
	assert.NoError(t, err)
	assert.Equal(t, Periodic, p.Kind())
	assert.Equal(t, 50*time.Millisecond, p.Period())

	_, err = ParseSpec("periodic:0")
	assert.NoError(t, err)

	_, err = ParseSpec("batch:0")
	assert.Error(t, err)

	_, err = ParseSpec("batch:notanumber")
	assert.Error(t, err)

	_, err = ParseSpec("bogus")
	assert.Error(t, err)
}

func TestString_RoundTripsThroughParseSpec(t *testing.T) {
	for _, p := range []Policy{NewAlways(), NewBatch(42), NewPeriodic(7 * time.Millisecond)} {
		parsed, err := ParseSpec(p.String())
		assert.NoError(t, err)
		assert.Equal(t, p.Kind(), parsed.Kind())
	}
}
