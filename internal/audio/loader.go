package audio

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/tts"
)

// DefaultLoadTimeout bounds how long a resource may take to become playable.
const DefaultLoadTimeout = 5 * time.Second

// Loader turns stored audio bytes into resources on one Context.
type Loader struct {
	context Context
	timeout time.Duration
	decode  func([]byte) ([]byte, time.Duration, error)
}

// NewLoader creates a loader for ctx.
func NewLoader(ctx Context) *Loader {
	return &Loader{
		context: ctx,
		timeout: DefaultLoadTimeout,
		decode:  Decode,
	}
}

// WithTimeout overrides the load timeout.
func (l *Loader) WithTimeout(d time.Duration) *Loader {
	l.timeout = d
	return l
}

// Context returns the output context resources are created on.
func (l *Loader) Context() Context {
	return l.context
}

// Load decodes data into a resource, failing with tts.ErrLoadTimeout if
// decoding does not finish in time.
func (l *Loader) Load(ctx context.Context, data []byte) (*Resource, error) {
	type result struct {
		pcm []byte
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		pcm, _, err := l.decode(data)
		ch <- result{pcm: pcm, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("failed to load audio: %w", r.err)
		}
		return NewResource(l.context, r.pcm), nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			log.Warn("Audio: Load timed out", "timeout", l.timeout)
			return nil, tts.ErrLoadTimeout
		}
		return nil, ctx.Err()
	}
}
