package unlock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/readaloud/internal/audio"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordSleep returns a sleep func that records delays without waiting.
func recordSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	var mu sync.Mutex
	return func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		return ctx.Err()
	}
}

func newGate(mc *audio.MockContext, clock *fakeClock, delays *[]time.Duration) *Gate {
	return New(func() (audio.Context, error) { return mc, nil },
		WithRequired(true),
		WithClock(clock.Now),
		WithSleep(recordSleep(delays)),
	)
}

func TestInteractionWindow(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	var delays []time.Duration
	g := newGate(audio.NewMockContext(audio.StateRunning), clock, &delays)

	assert.True(t, g.Required())
	assert.False(t, g.IsInteractionValid())

	g.MarkInteraction()
	assert.True(t, g.IsInteractionValid())

	clock.Advance(InteractionWindow)
	assert.True(t, g.IsInteractionValid())

	clock.Advance(time.Second)
	assert.False(t, g.IsInteractionValid())
	// expiry clears the flag for good
	clock.Advance(-time.Hour)
	assert.False(t, g.IsInteractionValid())
}

func TestNeedsInteraction(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	var delays []time.Duration
	mc := audio.NewMockContext(audio.StateSuspended)
	g := newGate(mc, clock, &delays)

	g.MarkInteraction()
	assert.True(t, g.NeedsInteraction(), "no context yet")

	require.True(t, g.AttemptUnlock(context.Background()))
	assert.False(t, g.NeedsInteraction())

	mc.SetState(audio.StateClosed)
	assert.True(t, g.NeedsInteraction())
}

func TestAttemptUnlockResumesSuspendedContext(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	var delays []time.Duration
	mc := audio.NewMockContext(audio.StateSuspended)
	g := newGate(mc, clock, &delays)

	assert.True(t, g.AttemptUnlock(context.Background()))
	assert.Equal(t, audio.StateRunning, mc.State())
	assert.True(t, g.IsInteractionValid())
	assert.Equal(t, 0, g.Attempts())

	probe := mc.LastPlayer()
	require.NotNil(t, probe)
	assert.True(t, probe.Closed())
	assert.Equal(t, audio.Tone(probeFrequency, probeAmplitude, probeDuration), probe.Data())
}

func TestAttemptUnlockRetries(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	var delays []time.Duration
	mc := audio.NewMockContext(audio.StateSuspended)
	mc.FailResumes(2)
	g := newGate(mc, clock, &delays)

	assert.True(t, g.AttemptUnlock(context.Background()))
	assert.Equal(t, 3, mc.ResumeCalls())
	assert.Equal(t, []time.Duration{RetryDelay, RetryDelay, settleDelay}, delays)
}

func TestAttemptUnlockExhausted(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	var delays []time.Duration
	mc := audio.NewMockContext(audio.StateSuspended)
	mc.FailResumes(10)
	g := newGate(mc, clock, &delays)

	assert.False(t, g.AttemptUnlock(context.Background()))
	assert.Equal(t, MaxAttempts, mc.ResumeCalls())
	assert.Equal(t, MaxAttempts, g.Attempts())

	// fails without touching the context until a new gesture
	assert.False(t, g.AttemptUnlock(context.Background()))
	assert.Equal(t, MaxAttempts, mc.ResumeCalls())

	mc.FailResumes(0)
	g.MarkInteraction()
	assert.True(t, g.AttemptUnlock(context.Background()))
}

func TestAttemptUnlockFactoryError(t *testing.T) {
	var delays []time.Duration
	g := New(func() (audio.Context, error) { return nil, errors.New("no device") },
		WithSleep(recordSleep(&delays)))

	assert.False(t, g.AttemptUnlock(context.Background()))
	assert.Len(t, delays, MaxAttempts-1)

	_, err := g.Context()
	assert.Error(t, err)
}

func TestAttemptUnlockCancelled(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	var delays []time.Duration
	mc := audio.NewMockContext(audio.StateSuspended)
	mc.FailResumes(10)
	g := newGate(mc, clock, &delays)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, g.AttemptUnlock(ctx))
	assert.Equal(t, 1, mc.ResumeCalls())
}
