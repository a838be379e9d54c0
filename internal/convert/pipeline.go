// Package convert turns text segments into stored audio by calling the TTS
// service with retry and cooperative cancellation.
package convert

import (
	"context"
	"math"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/tts"
)

// Defaults for the retry policy: three retries at 1s, 2s and 4s.
const (
	DefaultBaseDelay  = time.Second
	DefaultMaxRetries = 3
)

// Synthesizer calls the TTS service.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Store persists converted audio.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Outcome classifies the result of converting one segment.
type Outcome int

const (
	Success Outcome = iota
	// Retryable means transient failures outlasted the retry budget.
	Retryable
	Permanent
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case Permanent:
		return "permanent"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Job is one segment to convert.
type Job struct {
	Index int
	Key   string
	Text  string
}

// Result reports the conversion of one job.
type Result struct {
	Index    int
	Key      string
	Outcome  Outcome
	Size     int
	Attempts int
	Err      error
}

// Pipeline converts segments in order and stores the audio.
type Pipeline struct {
	synth Synthesizer
	store Store

	baseDelay  time.Duration
	maxRetries int
	sleep      func(context.Context, time.Duration) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRetry sets the base delay and retry budget.
func WithRetry(base time.Duration, maxRetries int) Option {
	return func(p *Pipeline) {
		p.baseDelay = base
		p.maxRetries = maxRetries
	}
}

// WithSleep replaces the delay used between retries.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = sleep }
}

// New creates a pipeline.
func New(synth Synthesizer, store Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		synth:      synth,
		store:      store,
		baseDelay:  DefaultBaseDelay,
		maxRetries: DefaultMaxRetries,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
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

// Delay returns the wait before retry n (1-based): base * 2^(n-1).
func (p *Pipeline) Delay(n int) time.Duration {
	return time.Duration(float64(p.baseDelay) * math.Pow(2, float64(n-1)))
}

// classify maps an error from one attempt to an outcome.
func classify(ctx context.Context, err error) Outcome {
	switch {
	case ctx.Err() != nil || tts.IsCancelled(err):
		return Cancelled
	case err == nil:
		return Success
	case tts.IsRetryable(err):
		return Retryable
	default:
		return Permanent
	}
}

// ConvertSegment synthesizes text, retrying transient failures. It does not
// store the audio.
func (p *Pipeline) ConvertSegment(ctx context.Context, text, voice string) ([]byte, Result) {
	var res Result
	for {
		if ctx.Err() != nil {
			res.Outcome = Cancelled
			res.Err = tts.Cancelled("conversion cancelled")
			return nil, res
		}

		res.Attempts++
		audio, err := p.synth.Synthesize(ctx, text, voice)
		res.Outcome = classify(ctx, err)
		res.Err = err

		switch res.Outcome {
		case Success:
			res.Size = len(audio)
			return audio, res
		case Retryable:
			retry := res.Attempts
			if retry > p.maxRetries {
				return nil, res
			}
			delay := p.Delay(retry)
			log.Debug("Conversion: Retrying segment", "attempt", res.Attempts, "delay", delay, "error", err)
			if err := p.sleep(ctx, delay); err != nil {
				res.Outcome = Cancelled
				res.Err = tts.Cancelled("conversion cancelled")
				return nil, res
			}
		case Cancelled:
			res.Err = tts.Cancelled("conversion cancelled")
			return nil, res
		default:
			return nil, res
		}
	}
}

// ConvertAll converts jobs strictly in order, storing each result under its
// key. Once ctx is cancelled every remaining job is reported as Cancelled.
// The channel is closed after the last result.
func (p *Pipeline) ConvertAll(ctx context.Context, jobs []Job, voice string) <-chan Result {
	out := make(chan Result)

	go func() {
		defer close(out)

		for _, job := range jobs {
			audio, res := p.ConvertSegment(ctx, job.Text, voice)
			res.Index = job.Index
			res.Key = job.Key

			if res.Outcome == Success {
				if err := p.store.Put(ctx, job.Key, audio); err != nil {
					res.Outcome = Permanent
					if ctx.Err() != nil {
						res.Outcome = Cancelled
					}
					res.Err = err
				}
			}

			if res.Outcome != Success {
				log.Debug("Conversion: Segment not converted",
					"key", job.Key, "outcome", res.Outcome, "attempts", res.Attempts, "error", res.Err)
			}
			out <- res
		}
	}()

	return out
}
