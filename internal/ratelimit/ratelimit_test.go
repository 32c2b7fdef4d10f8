package ratelimit

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRangeDraw(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	r := Between(50*time.Millisecond, 200*time.Millisecond)

	seen := make(map[time.Duration]bool)
	for i := 0; i < 200; i++ {
		d := r.Draw(rng)
		assert.GreaterOrEqual(t, d, r.Min)
		assert.LessOrEqual(t, d, r.Max)
		seen[d] = true
	}
	assert.Greater(t, len(seen), 1, "delays must vary")

	fixed := Between(time.Second, time.Second)
	assert.Equal(t, time.Second, fixed.Draw(rng))

	inverted := Between(2*time.Second, time.Second)
	assert.Equal(t, 2*time.Second, inverted.Draw(rng))
}

func TestRandomPacerHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewRandomPacer()
	err := p.Pause(ctx, Between(time.Hour, 2*time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRandomPacerZeroRange(t *testing.T) {
	p := NewRandomPacer()
	start := time.Now()
	assert.NoError(t, p.Pause(context.Background(), Range{}))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestNopPacer(t *testing.T) {
	assert.NoError(t, NopPacer{}.Pause(context.Background(), Between(time.Hour, time.Hour)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, NopPacer{}.Pause(ctx, Range{}))
}

func TestSimpleRateLimiterNoDelay(t *testing.T) {
	r := NewSimpleRateLimiter(0, 0)
	for i := 0; i < 3; i++ {
		assert.NoError(t, r.Wait(context.Background()))
	}
}

func TestSimpleRateLimiterSpacesActions(t *testing.T) {
	r := NewSimpleRateLimiter(20*time.Millisecond, 20*time.Millisecond)
	assert.NoError(t, r.Wait(context.Background()))

	start := time.Now()
	assert.NoError(t, r.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestAdaptiveRateLimiterBacksOff(t *testing.T) {
	a := NewAdaptiveRateLimiter(2*time.Second, 5*time.Second)

	a.RecordError()
	a.RecordError()
	min, max := a.Delays()
	assert.Equal(t, 2*time.Second, min)
	assert.Equal(t, 5*time.Second, max)

	a.RecordError()
	min, max = a.Delays()
	assert.Equal(t, 3*time.Second, min)
	assert.Equal(t, 7500*time.Millisecond, max)

	for i := 0; i < 6; i++ {
		a.RecordSuccess()
	}
	min, _ = a.Delays()
	assert.Equal(t, 2700*time.Millisecond, min)

	for i := 0; i < 60; i++ {
		a.RecordSuccess()
	}
	min, _ = a.Delays()
	assert.Equal(t, 2*time.Second, min, "never drops below the configured floor")
}
