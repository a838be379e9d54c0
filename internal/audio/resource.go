package audio

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// pollInterval is how often a playing resource checks for natural end.
const pollInterval = 20 * time.Millisecond

// ErrClosed is returned when playing a closed resource.
var ErrClosed = errors.New("audio resource is closed")

// Resource is a playable segment. It owns its PCM so the data stays alive
// while the device reads it.
type Resource struct {
	context  Context
	pcm      []byte
	duration time.Duration

	mu      sync.Mutex
	player  Player
	volume  float64
	playing bool
	closed  bool
	ended   chan struct{}
	done    chan struct{} // stops the current watcher
}

// NewResource wraps output-format PCM.
func NewResource(ctx Context, pcm []byte) *Resource {
	return &Resource{
		context:  ctx,
		pcm:      pcm,
		duration: PCMDuration(len(pcm)),
		volume:   1,
		ended:    make(chan struct{}),
	}
}

// Duration is the total playing time.
func (r *Resource) Duration() time.Duration {
	return r.duration
}

// Play starts playback from the current position, or from the beginning
// after Stop or a natural end.
func (r *Resource) Play() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.playing {
		return nil
	}

	if r.player == nil {
		r.player = r.context.NewPlayer(bytes.NewReader(r.pcm))
		if r.player == nil {
			return errors.New("failed to create audio player")
		}
		r.ended = make(chan struct{})
	}
	r.player.SetVolume(r.volume)
	r.player.Play()
	r.playing = true

	r.done = make(chan struct{})
	go r.watch(r.player, r.ended, r.done)
	return nil
}

// watch closes ended once player drains while the resource still intends to
// play.
func (r *Resource) watch(p Player, ended, done chan struct{}) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if p.IsPlaying() {
				continue
			}
			r.mu.Lock()
			if r.player != p || !r.playing {
				r.mu.Unlock()
				return
			}
			r.playing = false
			_ = r.player.Close()
			r.player = nil
			r.mu.Unlock()
			close(ended)
			return
		}
	}
}

// Pause halts playback, keeping the position.
func (r *Resource) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.playing {
		return
	}
	r.stopWatch()
	r.player.Pause()
	r.playing = false
}

// Stop halts playback and rewinds to the beginning.
func (r *Resource) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *Resource) stopLocked() {
	r.stopWatch()
	if r.player != nil {
		r.player.Pause()
		_ = r.player.Close()
		r.player = nil
	}
	r.playing = false
}

func (r *Resource) stopWatch() {
	if r.done != nil {
		close(r.done)
		r.done = nil
	}
}

// IsPlaying reports whether the resource is playing.
func (r *Resource) IsPlaying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing
}

// SetVolume applies volume in [0,1] now and to later plays.
func (r *Resource) SetVolume(volume float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.volume = volume
	if r.player != nil {
		r.player.SetVolume(volume)
	}
}

// Ended is closed when the current play reaches the end of the audio. A
// fresh channel is issued each time playback restarts from the beginning.
func (r *Resource) Ended() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ended
}

// Close stops playback and releases the PCM.
func (r *Resource) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.stopLocked()
	r.closed = true
	r.pcm = nil
}
