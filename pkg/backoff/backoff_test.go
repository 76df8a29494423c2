package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayGrowsToCeiling(t *testing.T) {
	b := New(Policy{})

	want := []time.Duration{
		1 * time.Second,
		1500 * time.Millisecond,
		2250 * time.Millisecond,
		3375 * time.Millisecond,
	}
	for i, w := range want {
		d, exhausted := b.Failure()
		require.False(t, exhausted)
		assert.Equal(t, w, d, "attempt %d", i+1)
	}

	prev := time.Duration(0)
	for i := 0; i < 14; i++ {
		d, exhausted := b.Failure()
		require.False(t, exhausted)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, DefaultMaxDelay)
		prev = d
	}
	assert.Equal(t, DefaultMaxDelay, prev)
}

func TestExhaustedAfterMaxAttempts(t *testing.T) {
	b := New(Policy{MaxAttempts: 3})
	_, ex := b.Failure()
	assert.False(t, ex)
	_, ex = b.Failure()
	assert.False(t, ex)
	_, ex = b.Failure()
	assert.True(t, ex)
	assert.True(t, b.Exhausted())

	b.Reset()
	assert.False(t, b.Exhausted())
	assert.Equal(t, State{}, b.State())
}

func TestOpenedResetsDelay(t *testing.T) {
	b := New(Policy{})
	for i := 0; i < 5; i++ {
		b.Failure()
	}
	b.ServerError()
	b.Opened()

	d, _ := b.Failure()
	assert.Equal(t, DefaultBase, d)
}

func TestServerErrorEscalation(t *testing.T) {
	b := New(Policy{})

	want := []time.Duration{1, 2, 4, 8, 16}
	for i, w := range want {
		assert.False(t, b.ServerError(), "error %d", i+1)
		assert.Equal(t, w*time.Second, b.State().ServerErrorBackoff)
	}
	assert.True(t, b.ServerError(), "sixth error exceeds the limit")
	assert.Equal(t, DefaultServerErrorCap, b.State().ServerErrorBackoff)
	assert.Equal(t, 6, b.State().ConsecutiveServerErrors)

	// The elevated backoff raises the reconnect base.
	d, _ := b.Failure()
	assert.Equal(t, DefaultServerErrorCap, d)
}

func TestDecayHalvesInLockstep(t *testing.T) {
	b := New(Policy{})
	for i := 0; i < 4; i++ {
		b.ServerError()
	}
	require.Equal(t, State{ConsecutiveServerErrors: 4, ServerErrorBackoff: 8 * time.Second}, b.State())

	assert.True(t, b.Decay())
	assert.Equal(t, State{ConsecutiveServerErrors: 2, ServerErrorBackoff: 4 * time.Second}, b.State())
	assert.True(t, b.Decay())
	assert.True(t, b.Decay())
	assert.Equal(t, State{ServerErrorBackoff: time.Second}, b.State())
	assert.False(t, b.Decay())
	assert.Equal(t, State{}, b.State())
}
