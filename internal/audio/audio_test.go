package audio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/readaloud/internal/tts"
)

func TestDecodeWAV(t *testing.T) {
	pcm, d, err := Decode(SilentWAV(100 * time.Millisecond))
	require.NoError(t, err)

	assert.Equal(t, 4410*BytesPerFrame, len(pcm))
	assert.Equal(t, 100*time.Millisecond, d)
}

func TestDecodeErrors(t *testing.T) {
	_, _, err := Decode(nil)
	assert.ErrorIs(t, err, ErrEmptyAudio)

	_, _, err = Decode([]byte("definitely not audio"))
	assert.Error(t, err)
}

func TestTone(t *testing.T) {
	pcm := Tone(20000, 0.001, 50*time.Millisecond)
	assert.Equal(t, 2205*BytesPerFrame, len(pcm))
	assert.Equal(t, 50*time.Millisecond, PCMDuration(len(pcm)))
}

func TestResourceLifecycle(t *testing.T) {
	mc := NewMockContext(StateRunning)
	r := NewResource(mc, Tone(440, 0.5, 10*time.Millisecond))

	require.NoError(t, r.Play())
	assert.True(t, r.IsPlaying())
	first := mc.LastPlayer()
	require.NotNil(t, first)

	r.Pause()
	assert.False(t, r.IsPlaying())
	require.NoError(t, r.Play())
	assert.Same(t, first, mc.LastPlayer(), "resume reuses the player")

	r.SetVolume(0.25)
	assert.Equal(t, 0.25, first.Volume())

	r.Stop()
	assert.True(t, first.Closed())
	require.NoError(t, r.Play())
	assert.NotSame(t, first, mc.LastPlayer(), "play after stop starts over")
	assert.Equal(t, 0.25, mc.LastPlayer().Volume())

	r.Close()
	assert.ErrorIs(t, r.Play(), ErrClosed)
}

func TestResourceEnded(t *testing.T) {
	mc := NewMockContext(StateRunning)
	r := NewResource(mc, Tone(440, 0.5, 10*time.Millisecond))

	require.NoError(t, r.Play())
	ended := r.Ended()
	mc.LastPlayer().Finish()

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("ended was not signalled")
	}
	assert.False(t, r.IsPlaying())
}

func TestResourceEndedNotSignalledOnStop(t *testing.T) {
	mc := NewMockContext(StateRunning)
	r := NewResource(mc, Tone(440, 0.5, 10*time.Millisecond))

	require.NoError(t, r.Play())
	ended := r.Ended()
	r.Stop()

	select {
	case <-ended:
		t.Fatal("stop must not look like a natural end")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMockSpeedEndsPlayback(t *testing.T) {
	mc := NewMockContext(StateRunning)
	mc.Speed = 10
	r := NewResource(mc, Tone(440, 0.5, 200*time.Millisecond))

	require.NoError(t, r.Play())
	select {
	case <-r.Ended():
	case <-time.After(2 * time.Second):
		t.Fatal("simulated playback did not end")
	}
}

func TestLoader(t *testing.T) {
	mc := NewMockContext(StateRunning)
	l := NewLoader(mc)

	r, err := l.Load(context.Background(), SilentWAV(20*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, r.Duration())

	_, err = l.Load(context.Background(), []byte("junk"))
	assert.Error(t, err)
}

func TestLoaderTimeout(t *testing.T) {
	l := NewLoader(NewMockContext(StateRunning)).WithTimeout(20 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	l.decode = func([]byte) ([]byte, time.Duration, error) {
		<-release
		return nil, 0, errors.New("late")
	}

	_, err := l.Load(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, tts.ErrLoadTimeout)
}
