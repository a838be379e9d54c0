package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/blob"
)

// Persisted metadata document.
const (
	stateName    = "queue-state"
	stateVersion = 1
)

// Snapshot is a consistent copy of the engine state for observers.
type Snapshot struct {
	Items               []Item
	CurrentIndex        int // -1 when the queue is empty
	IsPlaying           bool
	Volume              float64
	Muted               bool
	IsConverting        bool
	ConvertingID        string
	RequiresInteraction bool
}

// Current returns the current item, if any.
func (s Snapshot) Current() (Item, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Items) {
		return Item{}, false
	}
	return s.Items[s.CurrentIndex], true
}

type persistedState struct {
	Queue        []Item  `json:"queue"`
	CurrentIndex *int    `json:"currentIndex"`
	Volume       float64 `json:"volume"`
	Muted        bool    `json:"muted"`
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	s := Snapshot{
		Items:               make([]Item, 0, len(e.items)),
		CurrentIndex:        e.currentIndex,
		IsPlaying:           e.isPlaying,
		Volume:              e.volume,
		Muted:               e.muted,
		IsConverting:        e.isConverting,
		ConvertingID:        e.convertingID,
		RequiresInteraction: e.requiresInteraction,
	}
	for _, it := range e.items {
		s.Items = append(s.Items, it.clone())
	}
	return s
}

// Items returns a copy of the queue in order.
func (e *Engine) Items() []Item {
	return e.Snapshot().Items
}

// Item returns a copy of the item with the given id.
func (e *Engine) Item(id string) (Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if it := e.findLocked(id); it != nil {
		return it.clone(), true
	}
	return Item{}, false
}

// RequiresInteraction reports whether playback is waiting for a user
// gesture.
func (e *Engine) RequiresInteraction() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requiresInteraction
}

// Subscribe returns a channel that receives a snapshot after every state
// change, and a function to unsubscribe. Only the latest snapshot is kept
// for a slow reader.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextSub
	e.nextSub++
	ch := make(chan Snapshot, 1)
	e.subs[id] = ch

	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.subs[id]; ok {
			close(c)
			delete(e.subs, id)
		}
	}
}

func (e *Engine) emit() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.subs) == 0 {
		return
	}

	snap := e.snapshotLocked()
	for _, ch := range e.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// changed persists the state and notifies observers.
func (e *Engine) changed(ctx context.Context) {
	_ = e.save(ctx)
	e.emit()
}

// save persists the queue, logging and returning any failure.
func (e *Engine) save(ctx context.Context) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	state := persistedState{
		Queue:  make([]Item, 0, len(e.items)),
		Volume: e.volume,
		Muted:  e.muted,
	}
	for _, it := range e.items {
		state.Queue = append(state.Queue, it.clone())
	}
	if e.currentIndex >= 0 {
		idx := e.currentIndex
		state.CurrentIndex = &idx
	}
	e.mu.Unlock()

	data, err := json.Marshal(state)
	if err != nil {
		log.Error("Queue: Failed to encode state", "error", err)
		return fmt.Errorf("encode state: %w", err)
	}
	if err := e.store.SaveState(context.WithoutCancel(ctx), stateName, stateVersion, data); err != nil {
		log.Warn("Queue: Failed to persist state", "error", err)
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// Load replaces the in-memory queue with the persisted one. Segments that
// were ready keep that status only if their audio is still stored; the rest
// are demoted to error so they can be converted again. Items interrupted
// mid-conversion become cancelled, or partial when some audio survived.
func (e *Engine) Load(ctx context.Context) error {
	version, data, err := e.store.LoadState(ctx, stateName)
	if errors.Is(err, blob.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load queue state: %w", err)
	}
	if version != stateVersion {
		log.Warn("Queue: Ignoring state with unknown version", "version", version)
		return nil
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to decode queue state: %w", err)
	}

	items := make([]*Item, 0, len(state.Queue))
	var demoted int
	for i := range state.Queue {
		it := &state.Queue[i]
		if len(it.Segments) == 0 {
			log.Warn("Queue: Dropping item without segments", "id", it.ID)
			continue
		}
		demoted += e.rehydrate(ctx, it)
		items = append(items, it)
	}

	current := -1
	if state.CurrentIndex != nil {
		current = *state.CurrentIndex
	}
	switch {
	case len(items) == 0:
		current = -1
	case current < 0:
		current = 0
	case current >= len(items):
		current = len(items) - 1
	}

	e.transportMu.Lock()
	e.mu.Lock()
	e.stopLocked()
	for id := range e.resources {
		e.dropResourceLocked(id)
	}
	e.items = items
	e.currentIndex = current
	e.volume = clampVolume(state.Volume)
	e.muted = state.Muted
	e.mu.Unlock()
	e.transportMu.Unlock()

	log.Info("Queue: Rehydrated", "items", len(items), "current", current, "demoted", demoted)
	e.changed(ctx)
	return nil
}

// rehydrate normalises one persisted item and returns how many segments
// lost their audio.
func (e *Engine) rehydrate(ctx context.Context, it *Item) int {
	interrupted := false
	switch it.Status {
	case StatusConverting, StatusPending, StatusLoading:
		interrupted = true
	}

	var demoted int
	for i := range it.Segments {
		s := &it.Segments[i]
		if s.ID == "" {
			s.ID = SegmentID(it.ID, i)
		}
		switch {
		case s.HasAudio():
			s.Status = StatusReady
			if !e.store.Has(ctx, s.ID) {
				s.Status = StatusError
				s.Error = "audio missing from storage"
				s.Size = 0
				demoted++
			}
		case s.Status == StatusLoading, interrupted && s.Status == StatusPending:
			s.Status = StatusCancelled
		}
	}

	it.TotalSegments = len(it.Segments)
	it.CurrentSegment = min(max(it.CurrentSegment, 0), len(it.Segments)-1)

	switch {
	case interrupted && it.Ready() > 0 && it.Ready() < len(it.Segments):
		it.Status = StatusPartial
	case interrupted && it.Ready() == 0:
		it.Status = StatusCancelled
	case demoted == 0 && (it.Status == StatusCancelled || it.Status == StatusPartial || it.Status == StatusError):
	default:
		it.Status = it.settledStatus()
	}
	it.Error = it.firstError()
	return demoted
}
