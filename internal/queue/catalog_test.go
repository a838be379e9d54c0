package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/governor"
	"github.com/dgnsrekt/readaloud/internal/tts"
)

func TestCatalogItems(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false, audio.StateRunning)
	e := h.engine()

	a, err := e.Add(ctx, paragraphs("Alpha.", "Bravo."), voice)
	require.NoError(t, err)
	b, err := e.Add(ctx, "Charlie.", voice)
	require.NoError(t, err)

	items := e.CatalogItems(ctx)
	require.Len(t, items, 2)

	entries, err := h.store.Entries(ctx)
	require.NoError(t, err)
	var total int64
	for _, en := range entries {
		total += en.Size
	}

	assert.Equal(t, a, items[0].ID)
	assert.True(t, items[0].Current)
	assert.True(t, items[0].Playing)
	assert.Equal(t, b, items[1].ID)
	assert.False(t, items[1].Current)
	assert.Positive(t, items[1].Size)
	assert.Equal(t, total, items[0].Size+items[1].Size)
	assert.True(t, items[0].CreatedAt.Before(items[1].CreatedAt))
}

func TestEvict(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false, audio.StateRunning)
	e := h.engine()

	a, err := e.Add(ctx, paragraphs("Alpha.", "Bravo."), voice)
	require.NoError(t, err)
	require.True(t, e.Snapshot().IsPlaying)
	player := h.mc.LastPlayer()

	ok, err := e.Evict(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)

	it := mustItem(t, e, a)
	assert.Equal(t, []Status{StatusPending, StatusPending}, statuses(it))
	assert.Equal(t, StatusPending, it.Status)
	assert.Zero(t, it.Size())
	assert.False(t, e.Snapshot().IsPlaying)
	assert.True(t, player.Closed())
	assert.False(t, h.store.Has(ctx, SegmentID(a, 0)))

	// evicted items stay queued and convert again on demand
	require.NoError(t, e.ResumeConversion(ctx, a, ""))
	assert.Equal(t, StatusReady, mustItem(t, e, a).Status)
	assert.Len(t, h.synth.Calls(), 4)

	ok, err = e.Evict(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGovernorCleanup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true, audio.StateRunning)
	e := h.engine()

	var ids []string
	for _, text := range []string{"Alpha.", "Bravo.", "Charlie."} {
		id, err := e.Add(ctx, text, voice)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	cfg := governor.DefaultConfig()
	cfg.Quota = 1
	gov := governor.New(h.store, cfg)

	report, err := gov.RunCleanup(ctx, e, false)
	require.NoError(t, err)

	// the current item goes last
	assert.Equal(t, []string{ids[1], ids[2], ids[0]}, report.Evicted)
	total, err := h.store.TotalBytes(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
	for _, it := range e.Items() {
		assert.Equal(t, StatusPending, it.Status)
	}
}

func TestGovernorCleanupDuringConversion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true, audio.StateRunning)
	e := h.engine()
	release := h.synth.hold("Charlie.")

	done := make(chan string)
	go func() {
		id, err := e.Add(ctx, paragraphs("Alpha.", "Bravo.", "Charlie."), voice)
		assert.NoError(t, err)
		done <- id
	}()
	require.Eventually(t, func() bool {
		snap := e.Snapshot()
		return len(snap.Items) == 1 && snap.Items[0].Ready() == 2
	}, waitFor, tick)
	id := e.Snapshot().ConvertingID

	cfg := governor.DefaultConfig()
	cfg.Quota = 1
	report, err := governor.New(h.store, cfg).RunCleanup(ctx, e, false)
	require.NoError(t, err)

	// the item under conversion is neither evicted nor stripped of its blobs
	assert.Empty(t, report.Evicted)
	assert.Zero(t, report.Orphans)
	it := mustItem(t, e, id)
	for i := range 2 {
		assert.Equal(t, StatusReady, it.Segments[i].Status)
		assert.True(t, h.store.Has(ctx, SegmentID(id, i)))
	}

	close(release)
	assert.Equal(t, id, <-done)
	it = mustItem(t, e, id)
	assert.Equal(t, StatusReady, it.Status)
	for _, s := range it.Segments {
		assert.True(t, h.store.Has(ctx, s.ID), "ready segment %s has stored audio", s.ID)
	}
}

func TestFindAndResolve(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, true, audio.StateRunning)
	e := h.engine()

	ids := []string{"3f2a9c10-0000", "3f2b7d20-0000", "81cc0e00-0000"}
	next := 0
	e.newID = func() string {
		id := ids[next]
		next++
		return id
	}

	_, err := e.Add(ctx, "Notes on distributed consensus.", voice)
	require.NoError(t, err)
	_, err = e.Add(ctx, "A recipe for sourdough bread.", voice, WithSource("https://bread.example/sourdough"))
	require.NoError(t, err)
	_, err = e.Add(ctx, "Weekly status update.", voice)
	require.NoError(t, err)

	found := e.Find("sourdough")
	require.NotEmpty(t, found)
	assert.Equal(t, ids[1], found[0].ID)

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"exact id", ids[2], ids[2]},
		{"unique prefix", "81cc", ids[2]},
		{"fuzzy title", "consensus", ids[0]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			it, err := e.Resolve(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, it.ID)
		})
	}

	_, err = e.Resolve("zzzzqqqq")
	assert.ErrorIs(t, err, tts.ErrItemNotFound)

	_, err = e.Resolve("  ")
	assert.Equal(t, tts.KindValidation, tts.KindOf(err))
}
