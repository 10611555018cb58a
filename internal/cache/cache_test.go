package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/excerpt/internal/batch"
	"github.com/conneroisu/excerpt/internal/clock"
	"github.com/conneroisu/excerpt/internal/doctree"
	"github.com/conneroisu/excerpt/internal/errors"
	"github.com/conneroisu/excerpt/internal/repository"
	"github.com/conneroisu/excerpt/internal/store"
	"github.com/conneroisu/excerpt/internal/transform"
	"github.com/conneroisu/excerpt/internal/types"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

const greeting = "Hello {{name}}, {{toggle:vip}}you get VIP access{{/toggle:vip}}!"

// flakyStore fails include reads while down is set.
type flakyStore struct {
	store.Store
	down atomic.Bool
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if f.down.Load() && strings.HasPrefix(key, repository.IncludePrefix) {
		return nil, errors.New("connection refused")
	}
	return f.Store.Get(ctx, key)
}

type fixture struct {
	clk   *clock.FakeClock
	store *flakyStore
	repo  *repository.Repository
	cache *Cache
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{clk: clock.Fake(t0), store: &flakyStore{Store: store.NewMemory()}}
	f.repo = repository.New(f.store, f.clk, nil)
	f.cache = New(f.repo, transform.New(transform.Options{}), Options{})

	_, err := f.repo.PutSource(ctx, &types.Source{ID: "greeting", Name: "Greeting", Content: doctree.FromText(greeting)})
	require.NoError(t, err)
	f.include(t, "page-1", map[string]string{"name": "Ana"}, map[string]bool{"vip": true})
	return f
}

func (f *fixture) include(t *testing.T, id string, vars map[string]string, toggles map[string]bool) {
	t.Helper()
	require.NoError(t, f.repo.SaveInclude(context.Background(), &types.Include{
		LocalID:   id,
		ExcerptID: "greeting",
		Settings:  types.Settings{VariableValues: vars, ToggleStates: toggles},
	}))
}

func TestGetColdFill(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	entry, err := f.cache.Get(ctx, "page-1")
	require.NoError(t, err)
	assert.Equal(t, "Hello Ana, you get VIP access!", doctree.PlainText(entry.Content))
	assert.NotEmpty(t, entry.ContentHash)

	inc, err := f.repo.GetInclude(ctx, "page-1")
	require.NoError(t, err)
	assert.True(t, inc.HasCache())
	assert.Equal(t, t0, inc.LastSynced)
	assert.NotEmpty(t, inc.SettingsHash)
	assert.Equal(t, entry.ContentHash, inc.ContentHash)
	assert.Equal(t, 1, f.cache.Hot().Stats().Entries)
}

func TestGetReturnsCachedVerbatim(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.cache.Get(ctx, "page-1")
	require.NoError(t, err)

	f.clk.Advance(time.Minute)
	_, err = f.repo.EditSource(ctx, "greeting", doctree.FromText("Bye {{name}}"))
	require.NoError(t, err)

	entry, err := f.cache.Get(ctx, "page-1")
	require.NoError(t, err)
	assert.Equal(t, "Hello Ana, you get VIP access!", doctree.PlainText(entry.Content))

	// Without the hot layer the stored render is still served as is.
	f.cache.Invalidate("page-1")
	entry, err = f.cache.Get(ctx, "page-1")
	require.NoError(t, err)
	assert.Equal(t, "Hello Ana, you get VIP access!", doctree.PlainText(entry.Content))
}

func TestColdFillKeepsExistingSync(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	inc, err := f.repo.GetInclude(ctx, "page-1")
	require.NoError(t, err)
	inc.LastSynced = t0.Add(-time.Hour)
	require.NoError(t, f.repo.SaveInclude(ctx, inc))

	_, err = f.cache.Get(ctx, "page-1")
	require.NoError(t, err)

	inc, err = f.repo.GetInclude(ctx, "page-1")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(-time.Hour), inc.LastSynced)
}

func TestGetOrphan(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.include(t, "page-2", nil, nil)

	_, err := f.cache.Get(ctx, "page-1")
	require.NoError(t, err)
	require.NoError(t, f.repo.DeleteSource(ctx, "greeting"))
	f.cache.Hot().Clear()

	// A cached render survives its Source.
	entry, err := f.cache.Get(ctx, "page-1")
	require.NoError(t, err)
	assert.Equal(t, "Hello Ana, you get VIP access!", doctree.PlainText(entry.Content))

	_, err = f.cache.Get(ctx, "page-2")
	assert.True(t, errors.IsOrphan(err))

	_, err = f.cache.Get(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestGetMany(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.include(t, "page-2", map[string]string{"name": "Bo"}, nil)

	got, err := f.cache.GetMany(ctx, []string{"page-1", "missing", "page-2", "page-1"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Hello Ana, you get VIP access!", doctree.PlainText(got["page-1"].Content))
	assert.Equal(t, "Hello Bo, !", doctree.PlainText(got["page-2"].Content))
	assert.True(t, errors.IsNotFound(got["missing"].Err))

	f.cache.Hot().Clear()
	f.store.down.Store(true)
	_, err = f.cache.GetMany(ctx, []string{"page-1"})
	assert.True(t, errors.IsTransport(err))
}

func TestCacheAsBatchFetcher(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	c := batch.New(f.cache, batch.Options{Clock: f.clk})
	defer c.Close()

	type res struct {
		text string
		err  error
	}
	out := make(chan res, 2)
	for _, id := range []string{"page-1", "missing"} {
		go func(id string) {
			n, err := c.Get(ctx, id)
			r := res{err: err}
			if n != nil {
				r.text = doctree.PlainText(n)
			}
			out <- r
		}(id)
	}
	require.Eventually(t, func() bool { return c.Pending() == 2 }, time.Second, time.Millisecond)
	f.clk.Advance(batch.DefaultInitialWindow)

	var texts []string
	var notFound int
	for i := 0; i < 2; i++ {
		r := <-out
		if r.err != nil {
			assert.True(t, errors.IsNotFound(r.err))
			notFound++
			continue
		}
		texts = append(texts, r.text)
	}
	assert.Equal(t, 1, notFound)
	assert.Equal(t, []string{"Hello Ana, you get VIP access!"}, texts)
	assert.Equal(t, int64(1), c.Stats().Batches)
}

func TestPutReplacesHotEntry(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.cache.Get(ctx, "page-1")
	require.NoError(t, err)

	inc, err := f.repo.GetInclude(ctx, "page-1")
	require.NoError(t, err)
	inc.CachedContent = doctree.FromText("replaced")
	inc.ContentHash = "h2"
	f.cache.Put(inc)

	entry, err := f.cache.Get(ctx, "page-1")
	require.NoError(t, err)
	assert.Equal(t, "replaced", doctree.PlainText(entry.Content))
	assert.Equal(t, "h2", entry.ContentHash)

	inc.CachedContent = nil
	f.cache.Put(inc)
	_, _, found := f.cache.Hot().Get("page-1")
	assert.False(t, found)
}
