package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/blob"
	"github.com/dgnsrekt/readaloud/internal/convert"
	"github.com/dgnsrekt/readaloud/internal/segment"
	"github.com/dgnsrekt/readaloud/internal/tts"
	"github.com/dgnsrekt/readaloud/internal/unlock"
)

// Store is the persistence the engine needs: segment audio keyed by segment
// id plus the queue metadata document.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, bool)
	Has(ctx context.Context, key string) bool
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Entries(ctx context.Context) ([]blob.Entry, error)
	SaveState(ctx context.Context, name string, version int, data []byte) error
	LoadState(ctx context.Context, name string) (int, []byte, error)
}

// Converter turns segments into stored audio.
type Converter interface {
	ConvertAll(ctx context.Context, jobs []convert.Job, voice string) <-chan convert.Result
}

// Format selects how Add interprets its text.
type Format int

const (
	// FormatHTML segments markup; text without block elements is one
	// paragraph.
	FormatHTML Format = iota
	// FormatText segments raw text as plain text segments.
	FormatText
	// FormatMarkdown renders markdown before segmenting.
	FormatMarkdown
)

// Engine is the queue state machine. All methods are safe for concurrent
// use. Transport operations (Play, Pause, Next, Previous) and operations
// that replace the current audio are serialised.
type Engine struct {
	store Store
	conv  Converter
	gate  *unlock.Gate

	transportMu sync.Mutex
	saveMu      sync.Mutex

	mu                  sync.Mutex
	items               []*Item
	currentIndex        int
	isPlaying           bool
	volume              float64
	muted               bool
	requiresInteraction bool

	isConverting bool
	convertingID string
	resuming     bool
	cancel       context.CancelFunc
	autoplayID   string
	awaiting     string // segment to start once converted

	resources map[string]*audio.Resource
	current   *audio.Resource
	currentID string
	playGen   uint64
	watchStop chan struct{}
	loader    *audio.Loader

	subs    map[int]chan Snapshot
	nextSub int

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once

	gaps        bool
	autoplay    bool
	loadTimeout time.Duration
	now         func() time.Time
	newID       func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithGaps enables the per-type silence between segments. It is on by
// default.
func WithGaps(enabled bool) Option {
	return func(e *Engine) { e.gaps = enabled }
}

// WithAutoplay controls whether an item added to an empty queue starts
// playing once its first segment is ready. It is on by default.
func WithAutoplay(enabled bool) Option {
	return func(e *Engine) { e.autoplay = enabled }
}

// WithLoadTimeout bounds audio resource loading.
func WithLoadTimeout(d time.Duration) Option {
	return func(e *Engine) { e.loadTimeout = d }
}

// WithClock replaces time.Now for item timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithVolume sets the initial volume.
func WithVolume(v float64) Option {
	return func(e *Engine) { e.volume = clampVolume(v) }
}

// New creates an empty engine. Call Load to rehydrate persisted state.
func New(store Store, conv Converter, gate *unlock.Gate, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		conv:         conv,
		gate:         gate,
		currentIndex: -1,
		volume:       1,
		resources:    make(map[string]*audio.Resource),
		subs:         make(map[int]chan Snapshot),
		done:         make(chan struct{}),
		gaps:         true,
		autoplay:     true,
		loadTimeout:  audio.DefaultLoadTimeout,
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddOption configures Add.
type AddOption func(*addOptions)

type addOptions struct {
	source string
	format Format
}

// WithSource labels the item with a URL or name.
func WithSource(source string) AddOption {
	return func(o *addOptions) { o.source = source }
}

// WithFormat sets how the text is segmented.
func WithFormat(f Format) AddOption {
	return func(o *addOptions) { o.format = f }
}

func parse(text string, f Format) ([]segment.Segment, error) {
	switch f {
	case FormatText:
		return segment.ParseText(text), nil
	case FormatMarkdown:
		return segment.ParseMarkdown(text)
	default:
		return segment.ParseHTML(text), nil
	}
}

// Add segments text, appends a new item and converts it. It blocks until
// conversion finishes, is cancelled, or the item is removed; playback of
// the item may start before then. Add is rejected while another conversion
// is running.
func (e *Engine) Add(ctx context.Context, text, voice string, opts ...AddOption) (string, error) {
	o := addOptions{format: FormatHTML}
	for _, opt := range opts {
		opt(&o)
	}

	if strings.TrimSpace(voice) == "" {
		return "", tts.Validation("voice is required")
	}
	segs, err := parse(text, o.format)
	if err != nil {
		return "", tts.Validation("%v", err)
	}
	if len(segs) == 0 {
		return "", tts.ErrEmptyText
	}

	e.mu.Lock()
	if e.isConverting {
		e.mu.Unlock()
		log.Warn("Queue: Conversion already in progress, ignoring add")
		return "", tts.ErrConversionInProgress
	}
	it := newItem(e.newID(), text, voice, o.source, segs, e.now())
	if e.currentIndex < 0 {
		if e.autoplay {
			e.autoplayID = it.ID
		}
		e.currentIndex = len(e.items)
	}
	e.items = append(e.items, it)

	convCtx, cancel := context.WithCancel(ctx)
	e.beginConversionLocked(it.ID, cancel, false)
	e.mu.Unlock()

	log.Info("Queue: Added item", "id", it.ID, "segments", len(segs), "voice", voice)
	e.changed(ctx)

	indices := make([]int, len(segs))
	for i := range indices {
		indices[i] = i
	}
	e.runConversion(ctx, convCtx, cancel, it.ID, indices, voice)
	return it.ID, nil
}

// ResumeConversion converts the segments of item id that are not ready,
// in order. An empty voice keeps the item's voice. Like Add it blocks until
// conversion ends.
func (e *Engine) ResumeConversion(ctx context.Context, id, voice string) error {
	e.mu.Lock()
	if e.isConverting {
		e.mu.Unlock()
		log.Warn("Queue: Conversion already in progress, ignoring resume")
		return tts.ErrConversionInProgress
	}
	it := e.findLocked(id)
	if it == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", tts.ErrItemNotFound, id)
	}
	if voice != "" {
		it.Voice = voice
	}
	voice = it.Voice

	var indices []int
	for i := range it.Segments {
		s := &it.Segments[i]
		if s.HasAudio() {
			continue
		}
		s.Status = StatusPending
		s.Error = ""
		indices = append(indices, i)
	}
	if len(indices) == 0 {
		if !it.inTransport() {
			it.Status = StatusReady
		}
		e.mu.Unlock()
		e.changed(ctx)
		return nil
	}

	it.Error = ""
	e.setStatusLocked(it, StatusConverting)

	convCtx, cancel := context.WithCancel(ctx)
	e.beginConversionLocked(id, cancel, true)
	e.mu.Unlock()

	log.Info("Queue: Resuming conversion", "id", id, "segments", len(indices))
	e.changed(ctx)

	e.runConversion(ctx, convCtx, cancel, id, indices, voice)
	return nil
}

func (e *Engine) beginConversionLocked(id string, cancel context.CancelFunc, resuming bool) {
	e.isConverting = true
	e.convertingID = id
	e.resuming = resuming
	e.cancel = cancel
	e.wg.Add(1)
}

// runConversion converts the given segments of item id and settles the
// item status afterwards.
func (e *Engine) runConversion(parent, ctx context.Context, cancel context.CancelFunc, id string, indices []int, voice string) {
	defer e.wg.Done()
	defer cancel()

	e.mu.Lock()
	it := e.findLocked(id)
	if it == nil {
		e.mu.Unlock()
		e.finishConversion(parent, id, true)
		return
	}
	jobs := make([]convert.Job, 0, len(indices))
	for _, i := range indices {
		jobs = append(jobs, convert.Job{Index: i, Key: it.Segments[i].ID, Text: it.Segments[i].Text})
	}
	it.Segments[jobs[0].Index].Status = StatusLoading
	e.mu.Unlock()

	k := 0
	for res := range e.conv.ConvertAll(ctx, jobs, voice) {
		next := -1
		if k+1 < len(jobs) {
			next = jobs[k+1].Index
		}
		k++
		e.applyResult(parent, id, res, next)
	}

	e.finishConversion(parent, id, ctx.Err() != nil)
}

// applyResult records one segment outcome as a single update.
func (e *Engine) applyResult(ctx context.Context, id string, res convert.Result, next int) {
	e.mu.Lock()
	it := e.findLocked(id)
	if it == nil || res.Index >= len(it.Segments) {
		e.mu.Unlock()
		if res.Outcome == convert.Success {
			// removed mid-conversion
			if err := e.store.Delete(context.WithoutCancel(ctx), res.Key); err != nil {
				log.Warn("Queue: Failed to delete orphaned audio", "key", res.Key, "error", err)
			}
		}
		return
	}

	seg := &it.Segments[res.Index]
	switch res.Outcome {
	case convert.Success:
		seg.Status = StatusReady
		seg.Error = ""
		seg.Size = res.Size
	case convert.Cancelled:
		seg.Status = StatusCancelled
		seg.Error = ""
	default:
		seg.Status = StatusError
		seg.Error = errorMessage(res.Err)
	}
	if next >= 0 && res.Outcome != convert.Cancelled && it.Segments[next].Status == StatusPending {
		it.Segments[next].Status = StatusLoading
	}
	e.setStatusLocked(it, it.progressStatus())

	var play bool
	if res.Outcome == convert.Success {
		if e.autoplayID == id && res.Index == 0 {
			e.autoplayID = ""
			switch {
			case e.isPlaying:
			case e.gate.Required():
				e.requiresInteraction = true
				log.Info("Queue: First segment ready, waiting for interaction", "id", id)
			default:
				play = true
			}
		}
		if e.awaiting == seg.ID {
			e.awaiting = ""
			play = true
		}
	}
	e.mu.Unlock()

	e.changed(ctx)
	if play {
		if err := e.PlayItem(ctx, id, res.Index); err != nil {
			log.Warn("Queue: Failed to start playback", "id", id, "segment", res.Index, "error", err)
		}
	}
}

func (e *Engine) finishConversion(ctx context.Context, id string, cancelled bool) {
	e.mu.Lock()
	resuming := e.resuming
	e.isConverting = false
	e.convertingID = ""
	e.resuming = false
	e.cancel = nil
	if e.autoplayID == id {
		e.autoplayID = ""
	}

	it := e.findLocked(id)
	if it != nil {
		for i := range it.Segments {
			if s := &it.Segments[i]; s.Status == StatusPending || s.Status == StatusLoading {
				s.Status = StatusCancelled
			}
		}

		status := it.settledStatus()
		if cancelled && status != StatusReady {
			status = StatusCancelled
			if resuming && it.Ready() > 0 {
				status = StatusPartial
			}
		}
		e.setStatusLocked(it, status)
		it.Error = it.firstError()
		log.Info("Queue: Conversion finished", "id", id, "status", status,
			"ready", it.Ready(), "total", len(it.Segments))
	}
	e.mu.Unlock()

	e.changed(ctx)
}

// CancelConversion aborts the running conversion. Ready segments are kept;
// the others become cancelled. It reports whether anything was running.
func (e *Engine) CancelConversion() bool {
	e.mu.Lock()
	if !e.isConverting || e.cancel == nil {
		e.mu.Unlock()
		return false
	}
	e.cancel()

	id := e.convertingID
	if it := e.findLocked(id); it != nil {
		for i := range it.Segments {
			if s := &it.Segments[i]; s.Status == StatusPending || s.Status == StatusLoading {
				s.Status = StatusCancelled
			}
		}
		status := StatusCancelled
		if e.resuming && it.Ready() > 0 {
			status = StatusPartial
		}
		e.setStatusLocked(it, status)
	}
	e.mu.Unlock()

	log.Info("Queue: Conversion cancelled", "id", id)
	e.changed(context.Background())
	return true
}

// Wait blocks until the running conversion, if any, has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Remove deletes an item and its audio. Removing an unknown id is a no-op.
func (e *Engine) Remove(ctx context.Context, id string) error {
	e.transportMu.Lock()
	defer e.transportMu.Unlock()

	e.mu.Lock()
	idx := e.indexLocked(id)
	if idx < 0 {
		e.mu.Unlock()
		log.Debug("Queue: Remove of unknown item", "id", id)
		return nil
	}
	it := e.items[idx]

	if e.convertingID == id && e.cancel != nil {
		e.cancel()
	}
	if e.autoplayID == id {
		e.autoplayID = ""
	}
	if idx == e.currentIndex {
		e.stopLocked()
	}
	for _, s := range it.Segments {
		e.dropResourceLocked(s.ID)
	}

	e.items = slices.Delete(e.items, idx, idx+1)
	switch {
	case e.currentIndex < 0:
	case len(e.items) == 0:
		e.currentIndex = -1
	case idx < e.currentIndex:
		e.currentIndex--
	case e.currentIndex >= len(e.items):
		e.currentIndex = len(e.items) - 1
	}
	e.mu.Unlock()

	// per-key deletes; other items' audio is untouched
	var errs []error
	for _, s := range it.Segments {
		if err := e.store.Delete(ctx, s.ID); err != nil {
			errs = append(errs, err)
		}
	}
	log.Info("Queue: Removed item", "id", id)
	e.changed(ctx)
	return errors.Join(errs...)
}

// Clear stops playback, cancels conversion and removes every item and all
// stored audio. Volume and mute survive.
func (e *Engine) Clear(ctx context.Context) error {
	e.transportMu.Lock()
	defer e.transportMu.Unlock()

	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.stopLocked()
	for id := range e.resources {
		e.dropResourceLocked(id)
	}
	e.items = nil
	e.currentIndex = -1
	e.autoplayID = ""
	e.requiresInteraction = false
	e.mu.Unlock()

	err := e.store.Clear(ctx)
	log.Info("Queue: Cleared")
	e.changed(ctx)
	if err != nil {
		return fmt.Errorf("failed to clear audio: %w", err)
	}
	return nil
}

// MarkInteraction records a user gesture with the unlock gate.
func (e *Engine) MarkInteraction() {
	e.gate.MarkInteraction()
}

// Close stops playback and conversion, waits for background work and
// persists the queue a last time, returning the error if that fails.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.CancelConversion()
		close(e.done)
	})
	e.wg.Wait()

	e.transportMu.Lock()
	e.mu.Lock()
	e.stopLocked()
	for id := range e.resources {
		e.dropResourceLocked(id)
	}
	e.mu.Unlock()
	e.transportMu.Unlock()

	return e.save(context.Background())
}

// setStatusLocked sets the item status, deferring to transport while the
// item is playing or paused.
func (e *Engine) setStatusLocked(it *Item, s Status) {
	if it.inTransport() {
		it.resting = s
		return
	}
	it.Status = s
}

func (e *Engine) findLocked(id string) *Item {
	if i := e.indexLocked(id); i >= 0 {
		return e.items[i]
	}
	return nil
}

func (e *Engine) indexLocked(id string) int {
	for i, it := range e.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) dropResourceLocked(id string) {
	if r, ok := e.resources[id]; ok {
		r.Close()
		delete(e.resources, id)
	}
}

func errorMessage(err error) string {
	var te *tts.Error
	if errors.As(err, &te) {
		return te.Message
	}
	if err != nil {
		return err.Error()
	}
	return "conversion failed"
}

func clampVolume(v float64) float64 {
	return min(max(v, 0), 1)
}
