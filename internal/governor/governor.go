// Package governor enforces the storage quota over persisted audio and queue
// metadata.
package governor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/dgnsrekt/readaloud/internal/blob"
)

// DefaultInterval is how often automatic cleanup checks usage.
const DefaultInterval = 5 * time.Minute

// Store is the subset of the binary store the governor needs.
type Store interface {
	TotalBytes(ctx context.Context) (int64, error)
	StateBytes(ctx context.Context) (int64, error)
	Entries(ctx context.Context) ([]blob.Entry, error)
	Delete(ctx context.Context, key string) error
	Subscribe() (<-chan blob.Change, func())
}

// Item is a queue item as seen by the governor.
type Item struct {
	ID        string
	CreatedAt time.Time
	Size      int64
	// Current marks the item selected for playback.
	Current bool
	// Playing marks an item whose audio is actively playing.
	Playing bool
	// Keys are the blob keys the item owns, stored or not.
	Keys []string
}

// Catalog lists queue items and evicts their audio.
type Catalog interface {
	CatalogItems(ctx context.Context) []Item
	// Evict deletes the item's audio and marks its segments as needing
	// conversion again. It reports false when the item could not be evicted
	// right now, e.g. while it is being converted.
	Evict(ctx context.Context, id string) (bool, error)
}

// Config holds the cleanup policy.
type Config struct {
	Quota         int64
	Threshold     int // percent, 50-90
	RetentionDays int // 1-30
	AutoCleanup   bool
	Interval      time.Duration
}

// DefaultConfig returns the default policy: 1 GiB, 80%, 7 days.
func DefaultConfig() Config {
	return Config{
		Quota:         1 << 30,
		Threshold:     80,
		RetentionDays: 7,
		AutoCleanup:   true,
		Interval:      DefaultInterval,
	}
}

// Validate checks the policy bounds.
func (c Config) Validate() error {
	if c.Quota <= 0 {
		return fmt.Errorf("quota must be positive, got %d", c.Quota)
	}
	if c.Threshold < 50 || c.Threshold > 90 {
		return fmt.Errorf("cleanup threshold must be between 50 and 90, got %d", c.Threshold)
	}
	if c.RetentionDays < 1 || c.RetentionDays > 30 {
		return fmt.Errorf("retention days must be between 1 and 30, got %d", c.RetentionDays)
	}
	return nil
}

// Stats is a usage snapshot.
type Stats struct {
	Used       int64
	Total      int64
	Percentage float64
	Audio      int64
	Metadata   int64
}

func (s Stats) String() string {
	return fmt.Sprintf("%s of %s (%.1f%%)",
		humanize.IBytes(uint64(s.Used)), humanize.IBytes(uint64(s.Total)), s.Percentage)
}

// Report summarises one cleanup run.
type Report struct {
	Before  Stats
	After   Stats
	Evicted []string
	Orphans int
}

// Freed is the number of bytes reclaimed.
func (r Report) Freed() int64 {
	return r.Before.Used - r.After.Used
}

// Governor computes usage and evicts audio to stay under the quota.
type Governor struct {
	store Store

	mu  sync.RWMutex
	cfg Config

	running atomic.Bool
	now     func() time.Time
}

// New creates a governor over store.
func New(store Store, cfg Config) *Governor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Governor{
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Config returns the current policy.
func (g *Governor) Config() Config {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// SetConfig replaces the policy, e.g. after a config file reload.
func (g *Governor) SetConfig(cfg Config) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()
}

// UsageStats aggregates metadata and blob sizes against the quota.
func (g *Governor) UsageStats(ctx context.Context) (Stats, error) {
	audio, err := g.store.TotalBytes(ctx)
	if err != nil {
		return Stats{}, err
	}
	meta, err := g.store.StateBytes(ctx)
	if err != nil {
		return Stats{}, err
	}

	total := g.Config().Quota
	s := Stats{
		Used:     audio + meta,
		Total:    total,
		Audio:    audio,
		Metadata: meta,
	}
	if total > 0 {
		s.Percentage = float64(s.Used) / float64(total) * 100
	}
	return s, nil
}

// NeedsCleanup reports whether usage is at or above the threshold.
func (g *Governor) NeedsCleanup(ctx context.Context) (bool, error) {
	s, err := g.UsageStats(ctx)
	if err != nil {
		return false, err
	}
	return s.Percentage >= float64(g.Config().Threshold), nil
}

// RunCleanup evicts audio in four passes, stopping once usage drops below
// the threshold. With force the first two passes run to completion.
//
//  1. items older than the retention window, except the current item
//  2. remaining non-current items, oldest first then largest first
//  3. the current item
//  4. blobs no queue item owns, largest first
func (g *Governor) RunCleanup(ctx context.Context, catalog Catalog, force bool) (Report, error) {
	var report Report

	before, err := g.UsageStats(ctx)
	if err != nil {
		return report, err
	}
	report.Before = before
	report.After = before

	cfg := g.Config()
	over := func() bool {
		s, err := g.UsageStats(ctx)
		if err != nil {
			log.Warn("Governor: Failed to read usage", "error", err)
			return false
		}
		report.After = s
		return s.Percentage >= float64(cfg.Threshold)
	}

	if !force && !over() {
		return report, nil
	}
	log.Info("Governor: Starting cleanup", "usage", before.String(), "force", force)

	evict := func(it Item) error {
		ok, err := catalog.Evict(ctx, it.ID)
		if err != nil {
			return fmt.Errorf("evict %s: %w", it.ID, err)
		}
		if !ok {
			log.Debug("Governor: Item not evictable", "id", it.ID)
			return nil
		}
		report.Evicted = append(report.Evicted, it.ID)
		log.Debug("Governor: Evicted item", "id", it.ID, "size", humanize.IBytes(uint64(it.Size)))
		return nil
	}

	items := catalog.CatalogItems(ctx)
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].Size > items[j].Size
	})
	evicted := make(map[string]bool)

	// 1. retention
	cutoff := g.now().Add(-time.Duration(cfg.RetentionDays) * 24 * time.Hour)
	for _, it := range items {
		if !force && !over() {
			return report, nil
		}
		if it.Current || it.Playing || it.Size == 0 || !it.CreatedAt.Before(cutoff) {
			continue
		}
		if err := evict(it); err != nil {
			return report, err
		}
		evicted[it.ID] = true
	}

	// 2. non-current items
	for _, it := range items {
		if !force && !over() {
			return report, nil
		}
		if evicted[it.ID] || it.Current || it.Playing || it.Size == 0 {
			continue
		}
		if err := evict(it); err != nil {
			return report, err
		}
		evicted[it.ID] = true
	}

	// 3. the current item, as a last resort
	for _, it := range items {
		if !over() {
			return report, nil
		}
		if evicted[it.ID] || it.Size == 0 {
			continue
		}
		if err := evict(it); err != nil {
			return report, err
		}
		evicted[it.ID] = true
	}

	// 4. whatever blobs remain. Keys owned by a queue item are only ever
	// deleted through the catalog, so item state keeps matching the store.
	if !over() {
		return report, nil
	}
	owned := make(map[string]bool)
	for _, it := range items {
		for _, k := range it.Keys {
			owned[k] = true
		}
	}
	entries, err := g.store.Entries(ctx)
	if err != nil {
		return report, err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Size > entries[j].Size })
	for _, e := range entries {
		if !over() {
			break
		}
		if owned[e.Key] {
			continue
		}
		if err := g.store.Delete(ctx, e.Key); err != nil {
			return report, err
		}
		report.Orphans++
	}
	over()

	log.Info("Governor: Cleanup finished",
		"evicted", len(report.Evicted), "orphans", report.Orphans,
		"freed", humanize.IBytes(uint64(max(report.Freed(), 0))), "usage", report.After.String())
	return report, nil
}

// Run performs automatic cleanup on a timer and whenever the store grows,
// until ctx is done. It does nothing while auto-cleanup is disabled.
func (g *Governor) Run(ctx context.Context, catalog Catalog) {
	changes, unsubscribe := g.store.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(g.Config().Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.autoCleanup(ctx, catalog)
		case c, ok := <-changes:
			if !ok {
				return
			}
			if c.Op == blob.OpPut || c.Op == blob.OpState {
				g.autoCleanup(ctx, catalog)
			}
		}
	}
}

func (g *Governor) autoCleanup(ctx context.Context, catalog Catalog) {
	if !g.Config().AutoCleanup {
		return
	}
	if !g.running.CompareAndSwap(false, true) {
		return
	}
	defer g.running.Store(false)

	if _, err := g.RunCleanup(ctx, catalog, false); err != nil {
		log.Error("Governor: Automatic cleanup failed", "error", err)
	}
}
