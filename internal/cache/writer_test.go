package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/excerpt/internal/doctree"
	"github.com/conneroisu/excerpt/internal/errors"
	"github.com/conneroisu/excerpt/internal/transform"
	"github.com/conneroisu/excerpt/internal/types"
)

func newWriter(f *fixture) *Writer {
	return NewWriter(f.repo, transform.New(transform.Options{}), f.cache, WriterOptions{Clock: f.clk})
}

func settings(name string, vip bool) types.Settings {
	return types.Settings{
		VariableValues: map[string]string{"name": name},
		ToggleStates:   map[string]bool{"vip": vip},
	}
}

// saves counts include.saved events for localID until the channel is
// drained.
func saves(events <-chan types.Event, localID string) int {
	n := 0
	for {
		select {
		case e := <-events:
			if e.Type == types.EventIncludeSaved && e.LocalID == localID {
				n++
			}
		default:
			return n
		}
	}
}

func renderedText(t *testing.T, f *fixture, id string) string {
	t.Helper()
	entry, err := f.cache.Get(context.Background(), id)
	require.NoError(t, err)
	return doctree.PlainText(entry.Content)
}

func TestWriterCoalescesEdits(t *testing.T) {
	f := setup(t)
	w := newWriter(f)
	events := f.repo.Watch()
	defer f.repo.Unwatch(events)

	require.NoError(t, w.Schedule("page-1", settings("Bo", true)))
	f.clk.Advance(200 * time.Millisecond)
	require.NoError(t, w.Schedule("page-1", settings("Cy", false)))
	assert.Equal(t, 1, w.Pending())

	// The second edit restarted the quiet period.
	f.clk.Advance(400 * time.Millisecond)
	assert.Equal(t, 0, saves(events, "page-1"))
	assert.Equal(t, 1, f.clk.Pending())

	f.clk.Advance(100 * time.Millisecond)
	assert.Equal(t, 1, saves(events, "page-1"))
	assert.Equal(t, 0, w.Pending())
	assert.Equal(t, "Hello Cy, !", renderedText(t, f, "page-1"))

	inc, err := f.repo.GetInclude(context.Background(), "page-1")
	require.NoError(t, err)
	assert.Equal(t, "Cy", inc.VariableValues["name"])
	assert.Equal(t, t0.Add(700*time.Millisecond), inc.CachedAt)
	assert.Equal(t, inc.CachedAt, inc.LastSynced)
	require.NoError(t, w.Flush(context.Background()))
}

func TestWriterIndependentIDs(t *testing.T) {
	f := setup(t)
	f.include(t, "page-2", nil, nil)
	w := newWriter(f)

	require.NoError(t, w.Schedule("page-1", settings("Bo", false)))
	require.NoError(t, w.Schedule("page-2", settings("Di", true)))
	assert.Equal(t, 2, w.Pending())

	f.clk.Advance(DefaultDebounce)
	assert.Equal(t, "Hello Bo, !", renderedText(t, f, "page-1"))
	assert.Equal(t, "Hello Di, you get VIP access!", renderedText(t, f, "page-2"))
}

func TestWriterScheduleCopiesSettings(t *testing.T) {
	f := setup(t)
	w := newWriter(f)

	s := settings("Bo", false)
	require.NoError(t, w.Schedule("page-1", s))
	s.VariableValues["name"] = "mutated"

	f.clk.Advance(DefaultDebounce)
	assert.Equal(t, "Hello Bo, !", renderedText(t, f, "page-1"))
}

func TestWriterFlush(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	w := newWriter(f)

	require.NoError(t, w.Schedule("page-1", settings("Ed", true)))
	require.NoError(t, w.Flush(ctx))
	assert.Equal(t, 0, w.Pending())
	assert.Equal(t, 0, f.clk.Pending())
	assert.Equal(t, "Hello Ed, you get VIP access!", renderedText(t, f, "page-1"))

	// Nothing left for the timer to do.
	events := f.repo.Watch()
	defer f.repo.Unwatch(events)
	f.clk.Advance(DefaultDebounce)
	assert.Equal(t, 0, saves(events, "page-1"))
}

func TestWriterDropsSupersededFiredWrite(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	w := newWriter(f)

	// A timer has fired for the first write and removed it from pending,
	// but has not persisted yet when a newer write is scheduled and flushed.
	require.NoError(t, w.Schedule("page-1", settings("Old", true)))
	w.mu.Lock()
	fired := w.pending["page-1"]
	delete(w.pending, "page-1")
	w.mu.Unlock()
	fired.timer.Stop()

	require.NoError(t, w.Schedule("page-1", settings("New", false)))
	require.NoError(t, w.Flush(ctx))
	assert.Equal(t, "Hello New, !", renderedText(t, f, "page-1"))

	require.NoError(t, w.persist(ctx, "page-1", fired))
	assert.Equal(t, "Hello New, !", renderedText(t, f, "page-1"))

	inc, err := f.repo.GetInclude(ctx, "page-1")
	require.NoError(t, err)
	assert.Equal(t, "New", inc.VariableValues["name"])
}

func TestWriterClose(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	w := newWriter(f)

	require.NoError(t, w.Schedule("page-1", settings("Fay", false)))
	require.NoError(t, w.Close(ctx))
	assert.Equal(t, "Hello Fay, !", renderedText(t, f, "page-1"))

	assert.ErrorIs(t, w.Schedule("page-1", settings("Gus", false)), errors.ErrClosed)
	assert.NoError(t, w.Close(ctx))
}

func TestWriterAggregatesFailures(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	w := newWriter(f)

	// A background failure is kept for the next flush.
	require.NoError(t, w.Schedule("ghost", settings("x", false)))
	f.clk.Advance(DefaultDebounce)

	require.NoError(t, w.Schedule("phantom", settings("y", false)))
	require.NoError(t, w.Schedule("page-1", settings("Hal", false)))

	err := w.Flush(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Contains(t, err.Error(), "ghost")
	assert.Contains(t, err.Error(), "phantom")
	assert.Contains(t, err.Error(), "2 errors occurred")

	// The good write still went through and the failures are reported once.
	assert.Equal(t, "Hello Hal, !", renderedText(t, f, "page-1"))
	assert.NoError(t, w.Flush(ctx))
}

func TestWriterSkipsUnchangedSettings(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	w := newWriter(f)

	_, err := f.cache.Get(ctx, "page-1")
	require.NoError(t, err)
	before, err := f.repo.GetInclude(ctx, "page-1")
	require.NoError(t, err)

	f.clk.Advance(time.Minute)
	require.NoError(t, w.Schedule("page-1", before.Settings))
	f.clk.Advance(DefaultDebounce)

	after, err := f.repo.GetInclude(ctx, "page-1")
	require.NoError(t, err)
	assert.Equal(t, before.CachedAt, after.CachedAt)
}

func TestWriterOrphanSavesSettingsOnly(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	w := newWriter(f)

	_, err := f.cache.Get(ctx, "page-1")
	require.NoError(t, err)
	require.NoError(t, f.repo.DeleteSource(ctx, "greeting"))

	require.NoError(t, w.Schedule("page-1", settings("Ivy", false)))
	require.NoError(t, w.Flush(ctx))

	inc, err := f.repo.GetInclude(ctx, "page-1")
	require.NoError(t, err)
	assert.Equal(t, "Ivy", inc.VariableValues["name"])
	assert.Equal(t, "Hello Ana, you get VIP access!", doctree.PlainText(inc.CachedContent))
}

func TestWriterRejectsEmptyID(t *testing.T) {
	f := setup(t)
	w := newWriter(f)
	assert.Error(t, w.Schedule("", settings("x", false)))
	assert.Equal(t, 0, w.Pending())
}
