package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/sahilm/fuzzy"

	"github.com/dgnsrekt/readaloud/internal/governor"
	"github.com/dgnsrekt/readaloud/internal/tts"
)

var _ governor.Catalog = (*Engine)(nil)

// CatalogItems lists items with their stored audio size for the storage
// governor.
func (e *Engine) CatalogItems(ctx context.Context) []governor.Item {
	sizes := make(map[string]int64)
	entries, err := e.store.Entries(ctx)
	if err != nil {
		log.Warn("Queue: Failed to list stored audio", "error", err)
	}
	for _, en := range entries {
		if i := strings.LastIndexByte(en.Key, '-'); i > 0 {
			sizes[en.Key[:i]] += en.Size
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]governor.Item, 0, len(e.items))
	for i, it := range e.items {
		keys := make([]string, len(it.Segments))
		for j, seg := range it.Segments {
			keys[j] = seg.ID
		}
		out = append(out, governor.Item{
			ID:        it.ID,
			CreatedAt: it.CreatedAt,
			Size:      sizes[it.ID],
			Current:   i == e.currentIndex,
			Playing:   i == e.currentIndex && e.isPlaying,
			Keys:      keys,
		})
	}
	return out
}

// Evict deletes an item's audio and marks its converted segments pending so
// ResumeConversion can restore them. The item stays in the queue. The item
// being converted is left alone and Evict reports false for it, as it does
// for unknown ids.
func (e *Engine) Evict(ctx context.Context, id string) (bool, error) {
	e.transportMu.Lock()
	defer e.transportMu.Unlock()

	e.mu.Lock()
	idx := e.indexLocked(id)
	if idx < 0 {
		e.mu.Unlock()
		return false, nil
	}
	if e.convertingID == id {
		e.mu.Unlock()
		log.Debug("Queue: Not evicting item under conversion", "id", id)
		return false, nil
	}
	if idx == e.currentIndex {
		e.stopLocked()
	}

	it := e.items[idx]
	keys := make([]string, 0, len(it.Segments))
	for i := range it.Segments {
		s := &it.Segments[i]
		keys = append(keys, s.ID)
		e.dropResourceLocked(s.ID)
		if s.HasAudio() {
			s.Status = StatusPending
			s.Size = 0
		}
	}
	it.Status = it.settledStatus()
	it.CurrentSegment = 0
	e.mu.Unlock()

	var errs []error
	for _, k := range keys {
		if err := e.store.Delete(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	log.Info("Queue: Evicted audio", "id", id)
	e.changed(ctx)
	return true, errors.Join(errs...)
}

type itemSource []Item

func (s itemSource) String(i int) string {
	return s[i].Title() + " " + s[i].Text
}

func (s itemSource) Len() int { return len(s) }

// Find returns items whose source or text fuzzily matches query, best
// match first.
func (e *Engine) Find(query string) []Item {
	items := e.Items()
	matches := fuzzy.FindFrom(query, itemSource(items))

	out := make([]Item, 0, len(matches))
	for _, m := range matches {
		out = append(out, items[m.Index])
	}
	return out
}

// Resolve finds one item by exact id, unique id prefix, or best fuzzy
// match.
func (e *Engine) Resolve(query string) (Item, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Item{}, tts.Validation("empty item reference")
	}

	items := e.Items()
	var prefixed []Item
	for _, it := range items {
		if it.ID == query {
			return it, nil
		}
		if strings.HasPrefix(it.ID, query) {
			prefixed = append(prefixed, it)
		}
	}
	if len(prefixed) == 1 {
		return prefixed[0], nil
	}

	if found := e.Find(query); len(found) > 0 {
		return found[0], nil
	}
	return Item{}, fmt.Errorf("%w: %s", tts.ErrItemNotFound, query)
}
