// Package cache serves the rendered tree of each Include.
//
// Reads return the stored render verbatim. An Include that was never
// rendered is rendered once from its stored settings and written
// through. Renders change only through the Writer (settings edits) or
// the tracker (accepting a Source update); nothing here re-renders an
// Include that already has a cached tree.
package cache

import (
	"context"
	"encoding/json"

	"github.com/conneroisu/excerpt/internal/batch"
	"github.com/conneroisu/excerpt/internal/clock"
	"github.com/conneroisu/excerpt/internal/doctree"
	"github.com/conneroisu/excerpt/internal/errors"
	"github.com/conneroisu/excerpt/internal/logging"
	"github.com/conneroisu/excerpt/internal/repository"
	"github.com/conneroisu/excerpt/internal/tracker"
	"github.com/conneroisu/excerpt/internal/types"
)

// Default sizing of the hot layer.
const (
	DefaultHotSize = 32 << 20
)

// Entry is one cached render.
type Entry struct {
	LocalID string        `json:"localId"`
	Content *doctree.Node `json:"content"`
	// ContentHash fingerprints Content and serves as its HTTP ETag
	ContentHash string `json:"contentHash,omitempty"`
}

// Options configures a Cache.
type Options struct {
	Clock  clock.Clock
	Logger logging.Logger
	// Hot is the in-memory layer; nil creates one of DefaultHotSize
	Hot *HotCache
}

// Cache is the read path over the repository.
type Cache struct {
	repo     *repository.Repository
	renderer tracker.Renderer
	hot      *HotCache
	clock    clock.Clock
	logger   logging.Logger
}

var _ batch.Fetcher = (*Cache)(nil)

// New creates a Cache.
func New(repo *repository.Repository, renderer tracker.Renderer, opts Options) *Cache {
	if opts.Clock == nil {
		opts.Clock = repo.Clock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Hot == nil {
		opts.Hot = NewHotCache(DefaultHotSize, 0, opts.Clock)
	}
	return &Cache{
		repo:     repo,
		renderer: renderer,
		hot:      opts.Hot,
		clock:    opts.Clock,
		logger:   opts.Logger.WithComponent("cache"),
	}
}

// Hot returns the in-memory layer.
func (c *Cache) Hot() *HotCache { return c.hot }

// Get returns the cached render of an Include, rendering and writing it
// through first when none is stored. An orphaned Include without a
// cached render fails with an orphan error.
func (c *Cache) Get(ctx context.Context, localID string) (*Entry, error) {
	if data, hash, ok := c.hot.Get(localID); ok {
		var tree doctree.Node
		if err := json.Unmarshal(data, &tree); err == nil {
			return &Entry{LocalID: localID, Content: &tree, ContentHash: hash}, nil
		}
		c.hot.Delete(localID)
	}

	inc, err := c.repo.GetInclude(ctx, localID)
	if err != nil {
		return nil, err
	}
	if inc.HasCache() {
		c.Put(inc)
		return entryOf(inc), nil
	}
	return c.fill(ctx, localID)
}

// fill renders an Include that has no stored render and writes it
// through. LastSynced is only set when the Include never had one.
func (c *Cache) fill(ctx context.Context, localID string) (*Entry, error) {
	perf := logging.StartOperation(c.logger, "cache_fill")

	inc, src, err := c.repo.ResolveInclude(ctx, localID)
	if err != nil {
		perf.EndWithError(ctx, err, "local_id", localID)
		return nil, err
	}
	lastSynced := inc.LastSynced
	if err := tracker.Apply(ctx, c.renderer, inc, src, c.clock.Now()); err != nil {
		return nil, err
	}
	if !lastSynced.IsZero() {
		inc.LastSynced = lastSynced
	}
	if err := c.repo.SaveInclude(ctx, inc); err != nil {
		perf.EndWithError(ctx, err, "local_id", localID)
		return nil, err
	}
	c.Put(inc)

	perf.End(ctx, "local_id", localID, "source_id", src.ID)
	return entryOf(inc), nil
}

// GetMany reads several Includes. Per-id failures are reported in the
// result map; only a transport failure fails the whole call.
func (c *Cache) GetMany(ctx context.Context, ids []string) (map[string]batch.Result, error) {
	out := make(map[string]batch.Result, len(ids))
	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		entry, err := c.Get(ctx, id)
		if err != nil {
			if errors.IsTransport(err) {
				return nil, err
			}
			out[id] = batch.Result{Err: err}
			continue
		}
		out[id] = batch.Result{Content: entry.Content}
	}
	return out, nil
}

// FetchMany implements batch.Fetcher.
func (c *Cache) FetchMany(ctx context.Context, ids []string) (map[string]batch.Result, error) {
	return c.GetMany(ctx, ids)
}

// Put replaces the hot entry of inc with its stored render.
func (c *Cache) Put(inc *types.Include) {
	if !inc.HasCache() {
		c.hot.Delete(inc.LocalID)
		return
	}
	data, err := json.Marshal(inc.CachedContent)
	if err != nil {
		c.hot.Delete(inc.LocalID)
		return
	}
	c.hot.Set(inc.LocalID, data, contentHash(inc))
}

// Invalidate drops the hot entry of an Include. The stored render is
// untouched.
func (c *Cache) Invalidate(localID string) {
	c.hot.Delete(localID)
}

func entryOf(inc *types.Include) *Entry {
	return &Entry{LocalID: inc.LocalID, Content: inc.CachedContent, ContentHash: contentHash(inc)}
}

// contentHash returns the stored fingerprint of inc's render, computing it
// for records written before renders were fingerprinted.
func contentHash(inc *types.Include) string {
	if inc.ContentHash != "" {
		return inc.ContentHash
	}
	hash, err := types.ContentFingerprint(inc.CachedContent)
	if err != nil {
		return ""
	}
	return hash
}
