package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/tts"
)

// Play toggles playback. With nothing playing it starts the current item
// at its current segment, or the first item.
func (e *Engine) Play(ctx context.Context) error {
	e.transportMu.Lock()
	defer e.transportMu.Unlock()
	return e.play(ctx, "", -1, false)
}

// PlayItem plays segment index of item id. A negative index starts at the
// item's current segment. Playing the segment that is already playing is a
// no-op.
func (e *Engine) PlayItem(ctx context.Context, id string, index int) error {
	e.transportMu.Lock()
	defer e.transportMu.Unlock()
	return e.play(ctx, id, index, true)
}

func (e *Engine) play(ctx context.Context, id string, index int, explicit bool) error {
	e.mu.Lock()
	idx, seg, err := e.resolveLocked(id, index)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	same := e.isPlaying && e.current != nil && idx == e.currentIndex && seg == e.items[idx].CurrentSegment
	// waiting for a segment still being converted counts as playing
	waiting := e.isPlaying && e.awaiting != ""
	e.mu.Unlock()

	switch {
	case !explicit && (same || waiting):
		return e.pause(ctx)
	case same:
		return nil
	}

	if err := e.unlockAudio(ctx); err != nil {
		return err
	}
	_, err = e.start(ctx, idx, seg)
	return err
}

// resolveLocked picks the target item and segment.
func (e *Engine) resolveLocked(id string, index int) (int, int, error) {
	if len(e.items) == 0 {
		return 0, 0, tts.ErrQueueEmpty
	}

	idx := e.currentIndex
	switch {
	case id != "":
		idx = e.indexLocked(id)
		if idx < 0 {
			return 0, 0, fmt.Errorf("%w: %s", tts.ErrItemNotFound, id)
		}
	case idx < 0:
		idx = 0
	}

	it := e.items[idx]
	seg := it.CurrentSegment
	if index >= 0 {
		if index >= len(it.Segments) {
			return 0, 0, tts.Validation("segment %d out of range (item has %d)", index, len(it.Segments))
		}
		seg = index
	}
	return idx, seg, nil
}

// unlockAudio makes sure the shared context may produce sound, consulting
// the unlock gate when needed.
func (e *Engine) unlockAudio(ctx context.Context) error {
	ac, err := e.gate.Context()
	if err != nil {
		return fmt.Errorf("audio output unavailable: %w", err)
	}

	need := ac.State() != audio.StateRunning || (e.gate.Required() && !e.gate.IsInteractionValid())
	if !need || e.gate.AttemptUnlock(ctx) {
		return nil
	}

	e.mu.Lock()
	e.requiresInteraction = true
	e.mu.Unlock()
	e.emit()
	return tts.PlaybackUnlock("audio playback requires user interaction")
}

// start plays segment seg of item idx, replacing the current resource. It
// reports false without error when the segment has no stored audio.
func (e *Engine) start(ctx context.Context, idx, seg int) (bool, error) {
	e.mu.Lock()
	segID := e.items[idx].Segments[seg].ID
	e.mu.Unlock()

	res, err := e.resource(ctx, segID)
	if err != nil || res == nil {
		return false, err
	}

	e.mu.Lock()
	e.releaseCurrentLocked(res)
	it := e.items[idx]
	e.currentIndex = idx
	it.CurrentSegment = seg

	res.SetVolume(e.effectiveVolumeLocked())
	if err := res.Play(); err != nil {
		e.isPlaying = false
		e.dropResourceLocked(segID)
		e.mu.Unlock()
		return false, fmt.Errorf("failed to play %s: %w", segID, err)
	}

	e.current = res
	e.currentID = segID
	e.isPlaying = true
	e.requiresInteraction = false
	e.awaiting = ""
	if !it.inTransport() {
		it.resting = it.Status
	}
	it.Status = StatusPlaying
	it.Segments[seg].Status = StatusPlaying

	e.bumpLocked()
	gen := e.playGen
	stop := make(chan struct{})
	e.watchStop = stop
	ended := res.Ended()
	gap := it.Segments[seg].Pause
	var nextID string
	if seg+1 < len(it.Segments) {
		nextID = it.Segments[seg+1].ID
	}
	e.mu.Unlock()

	log.Debug("Queue: Playing segment", "segment", segID)
	go e.watch(gen, ended, stop, gap)
	if nextID != "" {
		go e.prefetch(nextID)
	}
	e.changed(ctx)
	return true, nil
}

// resource returns the cached resource for a segment, loading it from the
// store if needed. It returns nil when the store has no audio for id.
func (e *Engine) resource(ctx context.Context, id string) (*audio.Resource, error) {
	e.mu.Lock()
	res := e.resources[id]
	e.mu.Unlock()
	if res != nil {
		return res, nil
	}

	data, ok := e.store.Get(ctx, id)
	if !ok {
		log.Debug("Queue: No audio stored for segment", "segment", id)
		return nil, nil
	}
	loader, err := e.loaderFor()
	if err != nil {
		return nil, err
	}
	res, err = loader.Load(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", id, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if cached := e.resources[id]; cached != nil {
		res.Close()
		return cached, nil
	}
	if e.segmentLocked(id) == nil {
		res.Close()
		return nil, nil
	}
	e.resources[id] = res
	return res, nil
}

// prefetch materializes the next segment so the switch is quick.
func (e *Engine) prefetch(id string) {
	select {
	case <-e.done:
		return
	default:
	}
	if _, err := e.resource(context.Background(), id); err != nil {
		log.Debug("Queue: Prefetch failed", "segment", id, "error", err)
	}
}

func (e *Engine) loaderFor() (*audio.Loader, error) {
	ac, err := e.gate.Context()
	if err != nil {
		return nil, fmt.Errorf("audio output unavailable: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loader == nil || e.loader.Context() != ac {
		e.loader = audio.NewLoader(ac).WithTimeout(e.loadTimeout)
	}
	return e.loader, nil
}

// watch advances to the next segment when playback of generation gen ends
// naturally.
func (e *Engine) watch(gen uint64, ended, stop <-chan struct{}, gap time.Duration) {
	select {
	case <-ended:
	case <-stop:
		return
	case <-e.done:
		return
	}

	if e.gaps && gap > 0 {
		t := time.NewTimer(gap)
		defer t.Stop()
		select {
		case <-t.C:
		case <-stop:
			return
		case <-e.done:
			return
		}
	}

	e.transportMu.Lock()
	defer e.transportMu.Unlock()

	e.mu.Lock()
	stale := gen != e.playGen || !e.isPlaying
	e.mu.Unlock()
	if stale {
		return
	}
	if err := e.next(context.Background()); err != nil {
		log.Error("Queue: Failed to advance", "error", err)
	}
}

// Pause pauses the current segment, keeping its position.
func (e *Engine) Pause(ctx context.Context) error {
	e.transportMu.Lock()
	defer e.transportMu.Unlock()
	return e.pause(ctx)
}

func (e *Engine) pause(ctx context.Context) error {
	e.mu.Lock()
	if e.current != nil {
		e.current.Pause()
	}
	e.isPlaying = false
	e.awaiting = ""
	e.bumpLocked()
	if it := e.currentItemLocked(); it != nil && it.Status == StatusPlaying {
		it.Status = StatusPaused
		if s := &it.Segments[it.CurrentSegment]; s.Status == StatusPlaying {
			s.Status = StatusPaused
		}
	}
	e.mu.Unlock()

	e.changed(ctx)
	return nil
}

// Next moves to the next segment, crossing into the next item at its first
// segment. At the end of the queue playback stops and the last item is
// reset to its first segment.
func (e *Engine) Next(ctx context.Context) error {
	e.transportMu.Lock()
	defer e.transportMu.Unlock()
	return e.next(ctx)
}

func (e *Engine) next(ctx context.Context) error {
	e.mu.Lock()
	if e.currentIndex < 0 {
		e.mu.Unlock()
		return nil
	}
	wasPlaying := e.isPlaying
	e.stopLocked()

	idx := e.currentIndex
	it := e.items[idx]
	seg := it.CurrentSegment + 1
	if seg >= len(it.Segments) {
		it.CurrentSegment = 0
		if idx+1 >= len(e.items) {
			e.mu.Unlock()
			log.Debug("Queue: Reached end of queue")
			e.changed(ctx)
			return nil
		}
		idx, seg = idx+1, 0
	}
	e.currentIndex = idx
	e.items[idx].CurrentSegment = seg
	e.mu.Unlock()

	if !wasPlaying {
		e.changed(ctx)
		return nil
	}
	return e.continueAt(ctx, idx, seg, e.next)
}

// Previous moves to the previous segment, crossing into the previous item
// at its last segment. At the start of the queue the first segment restarts.
func (e *Engine) Previous(ctx context.Context) error {
	e.transportMu.Lock()
	defer e.transportMu.Unlock()
	return e.previous(ctx)
}

func (e *Engine) previous(ctx context.Context) error {
	e.mu.Lock()
	if e.currentIndex < 0 {
		e.mu.Unlock()
		return nil
	}
	wasPlaying := e.isPlaying
	e.stopLocked()

	idx := e.currentIndex
	it := e.items[idx]
	seg := it.CurrentSegment - 1
	if seg < 0 {
		if idx == 0 {
			seg = 0
		} else {
			it.CurrentSegment = 0
			idx--
			seg = len(e.items[idx].Segments) - 1
		}
	}
	e.currentIndex = idx
	e.items[idx].CurrentSegment = seg
	e.mu.Unlock()

	if !wasPlaying {
		e.changed(ctx)
		return nil
	}
	step := e.previous
	if idx == 0 && seg == 0 {
		step = nil
	}
	return e.continueAt(ctx, idx, seg, step)
}

// continueAt resumes playback at a new position after a step. A segment
// still being converted is started once its audio arrives; one that will
// never have audio is skipped with step.
func (e *Engine) continueAt(ctx context.Context, idx, seg int, step func(context.Context) error) error {
	for {
		started, err := e.start(ctx, idx, seg)
		if err != nil || started {
			return err
		}

		e.mu.Lock()
		it := e.items[idx]
		s := it.Segments[seg]
		if s.HasAudio() {
			// converted while we were looking
			e.mu.Unlock()
			continue
		}
		if e.convertingID == it.ID && (s.Status == StatusPending || s.Status == StatusLoading) {
			e.awaiting = s.ID
			e.isPlaying = true
			e.mu.Unlock()
			log.Debug("Queue: Waiting for segment conversion", "segment", s.ID)
			e.changed(ctx)
			return nil
		}
		if step == nil {
			e.mu.Unlock()
			e.changed(ctx)
			return nil
		}
		e.isPlaying = true
		e.mu.Unlock()

		log.Debug("Queue: Skipping segment without audio", "segment", s.ID, "status", s.Status)
		return step(ctx)
	}
}

// stopLocked stops the current resource and clears the playing state.
func (e *Engine) stopLocked() {
	e.releaseCurrentLocked(nil)
	e.isPlaying = false
	e.awaiting = ""
	e.bumpLocked()
}

// bumpLocked invalidates the watcher of the current playback.
func (e *Engine) bumpLocked() {
	e.playGen++
	if e.watchStop != nil {
		close(e.watchStop)
		e.watchStop = nil
	}
}

// releaseCurrentLocked detaches the current resource, closing it unless it
// is keep, and returns playing or paused items and segments to rest.
func (e *Engine) releaseCurrentLocked(keep *audio.Resource) {
	if e.current != nil && e.current != keep {
		e.dropResourceLocked(e.currentID)
		e.current.Close()
	}
	e.current = nil
	e.currentID = ""

	for _, it := range e.items {
		for i := range it.Segments {
			if s := &it.Segments[i]; s.Status == StatusPlaying || s.Status == StatusPaused {
				s.Status = StatusReady
			}
		}
		if it.inTransport() {
			it.Status = it.resting
			if it.Status == "" {
				it.Status = it.settledStatus()
			}
			it.resting = ""
		}
	}
}

func (e *Engine) currentItemLocked() *Item {
	if e.currentIndex < 0 || e.currentIndex >= len(e.items) {
		return nil
	}
	return e.items[e.currentIndex]
}

func (e *Engine) segmentLocked(id string) *Segment {
	for _, it := range e.items {
		for i := range it.Segments {
			if it.Segments[i].ID == id {
				return &it.Segments[i]
			}
		}
	}
	return nil
}

// SetVolume sets the volume in [0,1] and applies it to the current audio.
func (e *Engine) SetVolume(ctx context.Context, v float64) {
	e.mu.Lock()
	e.volume = clampVolume(v)
	if e.current != nil {
		e.current.SetVolume(e.effectiveVolumeLocked())
	}
	e.mu.Unlock()
	e.changed(ctx)
}

// ToggleMute flips the mute flag and returns the new value.
func (e *Engine) ToggleMute(ctx context.Context) bool {
	e.mu.Lock()
	e.muted = !e.muted
	muted := e.muted
	if e.current != nil {
		e.current.SetVolume(e.effectiveVolumeLocked())
	}
	e.mu.Unlock()
	e.changed(ctx)
	return muted
}

func (e *Engine) effectiveVolumeLocked() float64 {
	if e.muted {
		return 0
	}
	return e.volume
}
