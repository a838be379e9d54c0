// Package unlock tracks whether audio may start without a fresh user
// gesture and performs the bounded unlock procedure.
package unlock

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/audio"
)

const (
	// InteractionWindow is how long a user gesture authorises playback.
	InteractionWindow = 5 * time.Minute

	// MaxAttempts caps unlock attempts until the next gesture.
	MaxAttempts = 3

	// RetryDelay separates unlock attempts.
	RetryDelay = 500 * time.Millisecond

	// settleDelay is the wait before re-checking the context after resume.
	settleDelay = 100 * time.Millisecond
)

// Probe tone played while resuming: short, high and quiet enough to be
// inaudible.
const (
	probeFrequency = 20000
	probeAmplitude = 0.001
	probeDuration  = 50 * time.Millisecond
)

// ContextFactory creates the shared audio context on first use.
type ContextFactory func() (audio.Context, error)

// Gate decides whether playback may start. It is safe for concurrent use.
type Gate struct {
	mu       sync.Mutex
	unlockMu sync.Mutex // serialises AttemptUnlock

	factory ContextFactory
	ctx     audio.Context

	required        bool
	hasInteraction  bool
	lastInteraction time.Time
	attempts        int
	exhausted       bool

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// Option configures a Gate.
type Option func(*Gate)

// WithRequired sets whether playback must pass the gate.
func WithRequired(required bool) Option {
	return func(g *Gate) { g.required = required }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithSleep replaces the delay used between attempts.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(g *Gate) { g.sleep = sleep }
}

// New creates a gate that builds its audio context with factory.
func New(factory ContextFactory, opts ...Option) *Gate {
	g := &Gate{
		factory: factory,
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Required reports whether playback on this platform must pass the gate.
func (g *Gate) Required() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.required
}

// MarkInteraction records a genuine user gesture. It also re-arms unlock
// attempts after they were exhausted.
func (g *Gate) MarkInteraction() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.hasInteraction = true
	g.lastInteraction = g.now()
	g.attempts = 0
	g.exhausted = false
}

// IsInteractionValid reports whether a gesture was seen within the window.
// An expired gesture is forgotten.
func (g *Gate) IsInteractionValid() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.interactionValidLocked()
}

func (g *Gate) interactionValidLocked() bool {
	if !g.hasInteraction {
		return false
	}
	if g.now().Sub(g.lastInteraction) > InteractionWindow {
		g.hasInteraction = false
		return false
	}
	return true
}

// NeedsInteraction reports whether a gesture is needed before playback.
func (g *Gate) NeedsInteraction() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.interactionValidLocked() {
		return true
	}
	return g.ctx == nil || g.ctx.State() != audio.StateRunning
}

// Context returns the shared audio context, creating it if needed.
func (g *Gate) Context() (audio.Context, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.contextLocked()
}

func (g *Gate) contextLocked() (audio.Context, error) {
	if g.ctx != nil {
		return g.ctx, nil
	}
	ctx, err := g.factory()
	if err != nil {
		return nil, err
	}
	g.ctx = ctx
	return ctx, nil
}

// AttemptUnlock tries to bring the audio context to the running state,
// retrying up to MaxAttempts times. After the attempts are exhausted it
// fails immediately until MarkInteraction is called. It never returns an
// error; callers decide how to prompt the user.
func (g *Gate) AttemptUnlock(ctx context.Context) bool {
	g.unlockMu.Lock()
	defer g.unlockMu.Unlock()

	g.mu.Lock()
	exhausted := g.exhausted
	g.mu.Unlock()
	if exhausted {
		log.Debug("Unlock: Attempts exhausted, waiting for interaction")
		return false
	}

	for {
		if g.tryUnlock(ctx) {
			g.mu.Lock()
			g.hasInteraction = true
			g.lastInteraction = g.now()
			g.attempts = 0
			g.mu.Unlock()
			log.Debug("Unlock: Audio unlocked")
			return true
		}

		g.mu.Lock()
		g.attempts++
		attempts := g.attempts
		if attempts >= MaxAttempts {
			g.exhausted = true
		}
		g.mu.Unlock()

		log.Debug("Unlock: Attempt failed", "attempt", attempts, "max", MaxAttempts)
		if attempts >= MaxAttempts {
			log.Warn("Unlock: Audio requires user interaction")
			return false
		}
		if err := g.sleep(ctx, RetryDelay); err != nil {
			return false
		}
	}
}

// Attempts is the number of failed attempts since the last success or
// gesture.
func (g *Gate) Attempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts
}

func (g *Gate) tryUnlock(ctx context.Context) bool {
	ac, err := g.Context()
	if err != nil {
		log.Debug("Unlock: Failed to create audio context", "error", err)
		return false
	}

	switch ac.State() {
	case audio.StateRunning:
		return true
	case audio.StateClosed:
		return false
	}

	probe := ac.NewPlayer(bytes.NewReader(audio.Tone(probeFrequency, probeAmplitude, probeDuration)))
	if probe != nil {
		probe.Play()
		defer probe.Close()
	}
	if err := ac.Resume(); err != nil {
		log.Debug("Unlock: Resume failed", "error", err)
		return false
	}

	if err := g.sleep(ctx, settleDelay); err != nil {
		return false
	}
	return ac.State() == audio.StateRunning
}
