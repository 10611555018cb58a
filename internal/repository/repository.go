// Package repository persists Sources and Includes as JSON records in a
// store.Store and keeps the Source to Include index.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/conneroisu/excerpt/internal/clock"
	"github.com/conneroisu/excerpt/internal/doctree"
	"github.com/conneroisu/excerpt/internal/errors"
	"github.com/conneroisu/excerpt/internal/logging"
	"github.com/conneroisu/excerpt/internal/markers"
	"github.com/conneroisu/excerpt/internal/store"
	"github.com/conneroisu/excerpt/internal/types"
)

// Key prefixes of the persisted records.
const (
	SourcePrefix         = "source:"
	IncludePrefix        = "include:"
	SourceIncludesPrefix = "source-includes:"
)

// Repository is the typed view over a Store.
type Repository struct {
	store  store.Store
	clock  clock.Clock
	logger logging.Logger

	// indexMu serializes read-modify-write of index keys.
	indexMu sync.Mutex

	watchMu  sync.RWMutex
	watchers []chan types.Event
}

// New creates a Repository. A nil clock uses the real clock and a nil
// logger discards output.
func New(s store.Store, clk clock.Clock, logger logging.Logger) *Repository {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Repository{
		store:  s,
		clock:  clk,
		logger: logger.WithComponent("repository"),
	}
}

// Clock returns the time source used for updatedAt stamps.
func (r *Repository) Clock() clock.Clock { return r.clock }

// NewLocalID returns a fresh Include identifier.
func NewLocalID() string { return uuid.NewString() }

// GetSource loads a Source.
func (r *Repository) GetSource(ctx context.Context, id string) (*types.Source, error) {
	var src types.Source
	if err := r.get(ctx, SourcePrefix+id, &src); err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewNotFoundError(errors.ErrCodeSourceNotFound,
				fmt.Sprintf("source %q not found", id)).WithID(id)
		}
		return nil, err
	}
	return &src, nil
}

// SaveSource validates and stores src as given.
func (r *Repository) SaveSource(ctx context.Context, src *types.Source) error {
	if vec := src.Validate(); vec.HasErrors() {
		return vec
	}
	return r.put(ctx, SourcePrefix+src.ID, src)
}

// PutSource creates or replaces a Source as an author edit. The variable
// and toggle schema is regenerated from the content, keeping curator
// metadata by name from src and then from the stored record.
// updatedAt is bumped when the content changed or the Source is new.
func (r *Repository) PutSource(ctx context.Context, src *types.Source) (*types.Source, error) {
	out := *src
	if out.ID == "" {
		out.ID = uuid.NewString()
	}

	existing, err := r.GetSource(ctx, out.ID)
	if err != nil && !errors.IsNotFound(err) {
		return nil, err
	}

	changed := existing == nil
	if existing != nil {
		prevVars := append(append([]types.VariableDef(nil), out.Variables...), existing.Variables...)
		prevToggles := append(append([]types.ToggleDef(nil), out.Toggles...), existing.Toggles...)
		out.Variables, out.Toggles = prevVars, prevToggles
		if out.Name == "" {
			out.Name = existing.Name
		}
		if out.Content == nil {
			out.Content = existing.Content
		}
		if !doctree.Equal(out.Content, existing.Content) {
			changed = true
		} else {
			out.UpdatedAt = existing.UpdatedAt
		}
	}

	out.Variables = dedupeVariables(out.Variables)
	out.Toggles = dedupeToggles(out.Toggles)
	out.Variables, out.Toggles = markers.Schema(&out)
	if changed {
		out.UpdatedAt = r.clock.Now()
	}

	if err := r.SaveSource(ctx, &out); err != nil {
		return nil, err
	}
	if changed {
		r.logger.Info(ctx, "Source content updated", "source_id", out.ID, "variables", len(out.Variables), "toggles", len(out.Toggles))
		r.notify(types.Event{Type: types.EventSourceUpdated, SourceID: out.ID, Timestamp: out.UpdatedAt})
	}
	return &out, nil
}

// EditSource replaces the content of an existing Source.
func (r *Repository) EditSource(ctx context.Context, id string, content *doctree.Node) (*types.Source, error) {
	src, err := r.GetSource(ctx, id)
	if err != nil {
		return nil, err
	}
	src.Content = content
	return r.PutSource(ctx, src)
}

// DeleteSource removes a Source. Its Includes stay and become orphans.
func (r *Repository) DeleteSource(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, SourcePrefix+id); err != nil {
		return errors.NewTransportError("deleting source", err).WithID(id)
	}
	r.notify(types.Event{Type: types.EventSourceDeleted, SourceID: id, Timestamp: r.clock.Now()})
	return nil
}

// ListSources returns every Source ordered by id.
func (r *Repository) ListSources(ctx context.Context) ([]*types.Source, error) {
	keys, err := r.store.Keys(ctx, SourcePrefix)
	if err != nil {
		return nil, errors.NewTransportError("listing sources", err)
	}
	out := make([]*types.Source, 0, len(keys))
	for _, k := range keys {
		src, err := r.GetSource(ctx, strings.TrimPrefix(k, SourcePrefix))
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

// GetInclude loads an Include.
func (r *Repository) GetInclude(ctx context.Context, localID string) (*types.Include, error) {
	var inc types.Include
	if err := r.get(ctx, IncludePrefix+localID, &inc); err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewNotFoundError(errors.ErrCodeIncludeNotFound,
				fmt.Sprintf("include %q not found", localID)).WithID(localID)
		}
		return nil, err
	}
	return &inc, nil
}

// SaveInclude validates and stores inc and keeps the Source index in
// step when the Include is new or moved to another Source.
func (r *Repository) SaveInclude(ctx context.Context, inc *types.Include) error {
	if vec := inc.Validate(); vec.HasErrors() {
		return vec
	}

	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	prev, err := r.GetInclude(ctx, inc.LocalID)
	if err != nil && !errors.IsNotFound(err) {
		return err
	}
	if err := r.put(ctx, IncludePrefix+inc.LocalID, inc); err != nil {
		return err
	}
	if prev != nil && prev.ExcerptID != inc.ExcerptID {
		if err := r.updateIndex(ctx, prev.ExcerptID, inc.LocalID, false); err != nil {
			return err
		}
	}
	if prev == nil || prev.ExcerptID != inc.ExcerptID {
		if err := r.updateIndex(ctx, inc.ExcerptID, inc.LocalID, true); err != nil {
			return err
		}
	}

	r.notify(types.Event{Type: types.EventIncludeSaved, SourceID: inc.ExcerptID, LocalID: inc.LocalID, Timestamp: r.clock.Now()})
	return nil
}

// DeleteInclude removes an Include and its index entry.
func (r *Repository) DeleteInclude(ctx context.Context, localID string) error {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	inc, err := r.GetInclude(ctx, localID)
	if errors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := r.store.Delete(ctx, IncludePrefix+localID); err != nil {
		return errors.NewTransportError("deleting include", err).WithID(localID)
	}
	return r.updateIndex(ctx, inc.ExcerptID, localID, false)
}

// IncludesForSource returns the Includes referencing sourceID, whether
// or not the Source still exists.
func (r *Repository) IncludesForSource(ctx context.Context, sourceID string) ([]*types.Include, error) {
	ids, err := r.index(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Include, 0, len(ids))
	for _, id := range ids {
		inc, err := r.GetInclude(ctx, id)
		if errors.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, nil
}

// ListIncludes returns every Include ordered by local id.
func (r *Repository) ListIncludes(ctx context.Context) ([]*types.Include, error) {
	keys, err := r.store.Keys(ctx, IncludePrefix)
	if err != nil {
		return nil, errors.NewTransportError("listing includes", err)
	}
	out := make([]*types.Include, 0, len(keys))
	for _, k := range keys {
		inc, err := r.GetInclude(ctx, strings.TrimPrefix(k, IncludePrefix))
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, nil
}

// ResolveInclude loads an Include together with its Source. An Include
// whose Source is gone yields an orphan error along with the Include.
func (r *Repository) ResolveInclude(ctx context.Context, localID string) (*types.Include, *types.Source, error) {
	inc, err := r.GetInclude(ctx, localID)
	if err != nil {
		return nil, nil, err
	}
	src, err := r.GetSource(ctx, inc.ExcerptID)
	if errors.IsNotFound(err) {
		return inc, nil, errors.NewOrphanError(localID, inc.ExcerptID)
	}
	if err != nil {
		return inc, nil, err
	}
	return inc, src, nil
}

// Orphans returns the local ids of Includes whose Source is missing.
func (r *Repository) Orphans(ctx context.Context) ([]string, error) {
	incs, err := r.ListIncludes(ctx)
	if err != nil {
		return nil, err
	}
	exists := make(map[string]bool)
	var orphans []string
	for _, inc := range incs {
		ok, seen := exists[inc.ExcerptID]
		if !seen {
			_, err := r.GetSource(ctx, inc.ExcerptID)
			switch {
			case err == nil:
				ok = true
			case errors.IsNotFound(err):
				ok = false
			default:
				return nil, err
			}
			exists[inc.ExcerptID] = ok
		}
		if !ok {
			orphans = append(orphans, inc.LocalID)
		}
	}
	return orphans, nil
}

// Watch returns a channel receiving record change events. Events are
// dropped for a watcher whose buffer is full.
func (r *Repository) Watch() <-chan types.Event {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()

	ch := make(chan types.Event, 64)
	r.watchers = append(r.watchers, ch)
	return ch
}

// Unwatch stops delivery to ch and closes it.
func (r *Repository) Unwatch(ch <-chan types.Event) {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()

	for i, w := range r.watchers {
		if w == ch {
			r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
			close(w)
			return
		}
	}
}

// Notify delivers an event to every watcher.
func (r *Repository) Notify(event types.Event) {
	r.notify(event)
}

func (r *Repository) notify(event types.Event) {
	r.watchMu.RLock()
	defer r.watchMu.RUnlock()

	for _, w := range r.watchers {
		select {
		case w <- event:
		default:
			// Skip if channel is full
		}
	}
}

func (r *Repository) get(ctx context.Context, key string, v interface{}) error {
	data, err := r.store.Get(ctx, key)
	if err != nil {
		if errors.IsNotFound(err) {
			return err
		}
		return errors.NewTransportError("reading "+key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.NewInternalError(errors.ErrCodeCorruptRecord, "decoding "+key, err)
	}
	return nil
}

func (r *Repository) put(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeInternalError, "encoding "+key, err)
	}
	if err := r.store.Set(ctx, key, data); err != nil {
		return errors.NewTransportError("writing "+key, err)
	}
	return nil
}

func (r *Repository) index(ctx context.Context, sourceID string) ([]string, error) {
	var ids []string
	err := r.get(ctx, SourceIncludesPrefix+sourceID, &ids)
	if errors.IsNotFound(err) {
		return nil, nil
	}
	return ids, err
}

// updateIndex adds or removes localID from the index of sourceID. The
// caller holds indexMu.
func (r *Repository) updateIndex(ctx context.Context, sourceID, localID string, add bool) error {
	ids, err := r.index(ctx, sourceID)
	if err != nil {
		return err
	}
	pos := sort.SearchStrings(ids, localID)
	present := pos < len(ids) && ids[pos] == localID
	switch {
	case add && !present:
		ids = append(ids, "")
		copy(ids[pos+1:], ids[pos:])
		ids[pos] = localID
	case !add && present:
		ids = append(ids[:pos], ids[pos+1:]...)
	default:
		return nil
	}
	if len(ids) == 0 {
		if err := r.store.Delete(ctx, SourceIncludesPrefix+sourceID); err != nil {
			return errors.NewTransportError("updating include index", err)
		}
		return nil
	}
	return r.put(ctx, SourceIncludesPrefix+sourceID, ids)
}

func dedupeVariables(defs []types.VariableDef) []types.VariableDef {
	seen := make(map[string]bool, len(defs))
	out := defs[:0:0]
	for _, d := range defs {
		name := markers.NormalizeName(d.Name)
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, d)
	}
	return out
}

func dedupeToggles(defs []types.ToggleDef) []types.ToggleDef {
	seen := make(map[string]bool, len(defs))
	out := defs[:0:0]
	for _, d := range defs {
		name := markers.NormalizeName(d.Name)
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, d)
	}
	return out
}
