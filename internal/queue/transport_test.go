package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/tts"
)

// position returns the current item index and its segment.
func position(e *Engine) (int, int) {
	snap := e.Snapshot()
	cur, ok := snap.Current()
	if !ok {
		return -1, -1
	}
	return snap.CurrentIndex, cur.CurrentSegment
}

func TestTransport(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false, audio.StateRunning)
	e := h.engine()

	a, err := e.Add(ctx, paragraphs("Alpha.", "Bravo."), voice)
	require.NoError(t, err)
	_, err = e.Add(ctx, "Charlie.", voice)
	require.NoError(t, err)

	// the first item started on its own
	require.True(t, e.Snapshot().IsPlaying)
	first := h.mc.LastPlayer()

	// toggle pauses, then resumes the same player
	require.NoError(t, e.Play(ctx))
	assert.False(t, e.Snapshot().IsPlaying)
	assert.Equal(t, StatusPaused, mustItem(t, e, a).Status)
	assert.Equal(t, StatusPaused, mustItem(t, e, a).Segments[0].Status)
	assert.False(t, first.IsPlaying())

	require.NoError(t, e.Play(ctx))
	assert.True(t, e.Snapshot().IsPlaying)
	assert.Same(t, first, h.mc.LastPlayer())
	assert.Equal(t, 2, first.Plays())

	// an explicit target that is already playing is left alone
	require.NoError(t, e.PlayItem(ctx, a, 0))
	assert.True(t, e.Snapshot().IsPlaying)

	require.NoError(t, e.Next(ctx))
	i, s := position(e)
	assert.Equal(t, [2]int{0, 1}, [2]int{i, s})
	assert.True(t, first.Closed())

	require.NoError(t, e.Next(ctx))
	i, s = position(e)
	assert.Equal(t, [2]int{1, 0}, [2]int{i, s})
	left := mustItem(t, e, a)
	assert.Equal(t, StatusReady, left.Status)
	assert.Equal(t, 0, left.CurrentSegment)
	assert.Equal(t, StatusPlaying, e.Snapshot().Items[1].Status)

	require.NoError(t, e.Previous(ctx))
	i, s = position(e)
	assert.Equal(t, [2]int{0, 1}, [2]int{i, s})

	require.NoError(t, e.Previous(ctx))
	require.NoError(t, e.Previous(ctx))
	i, s = position(e)
	assert.Equal(t, [2]int{0, 0}, [2]int{i, s})
	assert.True(t, e.Snapshot().IsPlaying)

	for range 3 {
		require.NoError(t, e.Next(ctx))
	}
	snap := e.Snapshot()
	assert.False(t, snap.IsPlaying)
	assert.Equal(t, 1, snap.CurrentIndex)
	assert.Equal(t, StatusReady, snap.Items[1].Status)
}

func TestStepWhilePaused(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false, audio.StateRunning)
	e := h.engine()

	_, err := e.Add(ctx, paragraphs("Alpha.", "Bravo."), voice)
	require.NoError(t, err)
	require.NoError(t, e.Pause(ctx))
	players := len(h.mc.Players())

	require.NoError(t, e.Next(ctx))
	_, s := position(e)
	assert.Equal(t, 1, s)
	assert.False(t, e.Snapshot().IsPlaying)
	assert.Len(t, h.mc.Players(), players)

	require.NoError(t, e.Play(ctx))
	assert.True(t, e.Snapshot().IsPlaying)
	_, s = position(e)
	assert.Equal(t, 1, s)
}

func TestNextSkipsFailedSegments(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false, audio.StateRunning)
	e := h.engine()
	h.synth.setFail("Bravo.", tts.Permanent(404, "missing", nil))

	id, err := e.Add(ctx, paragraphs("Alpha.", "Bravo.", "Charlie."), voice)
	require.NoError(t, err)
	require.True(t, e.Snapshot().IsPlaying)

	require.NoError(t, e.Next(ctx))
	it := mustItem(t, e, id)
	assert.Equal(t, 2, it.CurrentSegment)
	assert.Equal(t, StatusPlaying, it.Segments[2].Status)
	assert.Equal(t, StatusError, it.Segments[1].Status)
}

func TestPlayWithoutAudioIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true, audio.StateRunning)
	e := h.engine()

	id, err := e.Add(ctx, paragraphs("Alpha.", "Bravo."), voice)
	require.NoError(t, err)
	require.NoError(t, h.store.Delete(ctx, SegmentID(id, 1)))

	e.MarkInteraction()
	require.NoError(t, e.PlayItem(ctx, id, 1))
	assert.False(t, e.Snapshot().IsPlaying)
	assert.Empty(t, h.mc.Players())

	assert.ErrorIs(t, e.PlayItem(ctx, "missing", 0), tts.ErrItemNotFound)
	assert.Equal(t, tts.KindValidation, tts.KindOf(e.PlayItem(ctx, id, 7)))
}

func TestPlayEmptyQueue(t *testing.T) {
	h := newHarness(t, false, audio.StateRunning)
	e := h.engine()

	assert.ErrorIs(t, e.Play(context.Background()), tts.ErrQueueEmpty)
	require.NoError(t, e.Next(context.Background()))
	require.NoError(t, e.Previous(context.Background()))
}

func TestVolumeAndMute(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false, audio.StateRunning)
	e := h.engine()

	_, err := e.Add(ctx, "Alpha.", voice)
	require.NoError(t, err)
	player := h.mc.LastPlayer()

	e.SetVolume(ctx, 0.5)
	assert.Equal(t, 0.5, player.Volume())

	assert.True(t, e.ToggleMute(ctx))
	assert.Equal(t, 0.0, player.Volume())

	e.SetVolume(ctx, 2)
	assert.Equal(t, 0.0, player.Volume())
	assert.Equal(t, 1.0, e.Snapshot().Volume)

	assert.False(t, e.ToggleMute(ctx))
	assert.Equal(t, 1.0, player.Volume())
}

func TestUnlockGate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true, audio.StateSuspended)
	h.mc.FailResumes(10)
	e := h.engine()

	id, err := e.Add(ctx, "Alpha.", voice)
	require.NoError(t, err)
	assert.True(t, e.RequiresInteraction())
	assert.Equal(t, StatusReady, mustItem(t, e, id).Status)

	err = e.Play(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tts.ErrRequiresInteraction))
	assert.Equal(t, tts.KindPlaybackUnlock, tts.KindOf(err))
	assert.True(t, e.RequiresInteraction())
	assert.False(t, e.Snapshot().IsPlaying)
	assert.Equal(t, StatusReady, mustItem(t, e, id).Status)

	h.mc.FailResumes(0)
	e.MarkInteraction()
	require.NoError(t, e.Play(ctx))
	assert.False(t, e.RequiresInteraction())
	assert.True(t, e.Snapshot().IsPlaying)
	assert.Equal(t, audio.StateRunning, h.mc.State())
}

func TestResumesSuspendedContextWithoutGate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false, audio.StateSuspended)
	e := h.engine()

	_, err := e.Add(ctx, "Alpha.", voice)
	require.NoError(t, err)

	assert.True(t, e.Snapshot().IsPlaying)
	assert.Equal(t, audio.StateRunning, h.mc.State())
}

func TestPauseSkipsUnlock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false, audio.StateRunning)
	e := h.engine()

	_, err := e.Add(ctx, "Alpha.", voice)
	require.NoError(t, err)
	require.True(t, e.Snapshot().IsPlaying)

	// the context drops out while playing; pausing must still work
	h.mc.SetState(audio.StateSuspended)
	h.mc.FailResumes(10)
	resumes := h.mc.ResumeCalls()

	require.NoError(t, e.Play(ctx))
	assert.False(t, e.Snapshot().IsPlaying)
	assert.False(t, e.RequiresInteraction())
	assert.Equal(t, resumes, h.mc.ResumeCalls())
	assert.Zero(t, h.gate.Attempts())
}

func TestToggleWhileWaitingForConversion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false, audio.StateRunning)
	e := h.engine()
	release := h.synth.hold("Bravo.")

	done := make(chan string)
	go func() {
		id, err := e.Add(ctx, paragraphs("Alpha.", "Bravo."), voice)
		assert.NoError(t, err)
		done <- id
	}()
	require.Eventually(t, func() bool {
		snap := e.Snapshot()
		return snap.IsPlaying && snap.IsConverting
	}, waitFor, tick)

	// segment 1 is still converting, so playback waits for it
	require.NoError(t, e.Next(ctx))
	i, s := position(e)
	assert.Equal(t, [2]int{0, 1}, [2]int{i, s})
	require.True(t, e.Snapshot().IsPlaying)

	require.NoError(t, e.Play(ctx))
	assert.False(t, e.Snapshot().IsPlaying)
	players := len(h.mc.Players())

	close(release)
	id := <-done

	// the paused queue stays paused once the audio arrives
	assert.False(t, e.Snapshot().IsPlaying)
	assert.Len(t, h.mc.Players(), players)
	assert.Equal(t, StatusReady, mustItem(t, e, id).Segments[1].Status)
}

func TestGapBeforeNextSegment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false, audio.StateRunning)
	e := New(h.store, h.pipe, h.gate)
	t.Cleanup(func() { e.Close() })

	id, err := e.Add(ctx, "<li>One.</li><li>Two.</li>", voice)
	require.NoError(t, err)
	require.True(t, e.Snapshot().IsPlaying)

	start := time.Now()
	h.mc.LastPlayer().Finish()
	require.Eventually(t, func() bool {
		return mustItem(t, e, id).CurrentSegment == 1
	}, waitFor, tick)
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}
