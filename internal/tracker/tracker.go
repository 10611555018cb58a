// Package tracker relates Source edits to the cached renders of their
// Includes. Staleness is computed on demand from Include.LastSynced and
// Source.UpdatedAt; only an explicit Update changes it.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/excerpt/internal/clock"
	"github.com/conneroisu/excerpt/internal/doctree"
	"github.com/conneroisu/excerpt/internal/errors"
	"github.com/conneroisu/excerpt/internal/logging"
	"github.com/conneroisu/excerpt/internal/repository"
	"github.com/conneroisu/excerpt/internal/transform"
	"github.com/conneroisu/excerpt/internal/types"
)

// State is the synchronization state of one Include.
type State string

const (
	StateInSync   State = "in-sync"
	StateStale    State = "stale"
	StateUpdating State = "updating"
	StateOrphaned State = "orphaned"
)

// IsStale reports whether a render synced at lastSynced predates a
// Source edited at updatedAt.
func IsStale(lastSynced, updatedAt time.Time) bool {
	return updatedAt.After(lastSynced)
}

// Renderer renders Source content with an Include's settings.
type Renderer interface {
	Render(ctx context.Context, content *doctree.Node, settings types.Settings) transform.Result
}

// Status describes one Include at the time it was computed.
type Status struct {
	LocalID         string    `json:"localId"`
	SourceID        string    `json:"sourceId"`
	State           State     `json:"state"`
	LastSynced      time.Time `json:"lastSynced"`
	SourceUpdatedAt time.Time `json:"sourceUpdatedAt,omitempty"`
}

// Diff puts an Include's cached render next to the raw content of its
// Source, markers visible.
type Diff struct {
	Status
	Cached    *doctree.Node       `json:"cached"`
	SourceRaw *doctree.Node       `json:"sourceRaw"`
	Variables []types.VariableDef `json:"variables"`
	Toggles   []types.ToggleDef   `json:"toggles"`
	Stale     bool                `json:"stale"`
}

// Options configures a Tracker.
type Options struct {
	Clock  clock.Clock
	Logger logging.Logger
	// OnSynced is called with every Include an Update persisted
	OnSynced func(*types.Include)
}

// Tracker computes staleness and performs accept-update.
type Tracker struct {
	repo     *repository.Repository
	renderer Renderer
	clock    clock.Clock
	logger   logging.Logger
	onSynced func(*types.Include)

	mu       sync.Mutex
	updating map[string]bool
}

// New creates a Tracker.
func New(repo *repository.Repository, renderer Renderer, opts Options) *Tracker {
	if opts.Clock == nil {
		opts.Clock = repo.Clock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Tracker{
		repo:     repo,
		renderer: renderer,
		clock:    opts.Clock,
		logger:   opts.Logger.WithComponent("tracker"),
		onSynced: opts.OnSynced,
		updating: make(map[string]bool),
	}
}

// Status computes the state of an Include without changing anything.
// An orphaned Include is reported as StateOrphaned, not as an error.
func (t *Tracker) Status(ctx context.Context, localID string) (*Status, error) {
	inc, src, err := t.repo.ResolveInclude(ctx, localID)
	if inc == nil {
		return nil, err
	}
	st := &Status{LocalID: inc.LocalID, SourceID: inc.ExcerptID, LastSynced: inc.LastSynced}
	switch {
	case errors.IsOrphan(err):
		st.State = StateOrphaned
		return st, nil
	case err != nil:
		return nil, err
	}
	st.SourceUpdatedAt = src.UpdatedAt
	st.State = t.state(localID, inc, src)
	return st, nil
}

func (t *Tracker) state(localID string, inc *types.Include, src *types.Source) State {
	t.mu.Lock()
	updating := t.updating[localID]
	t.mu.Unlock()

	switch {
	case updating:
		return StateUpdating
	case IsStale(inc.LastSynced, src.UpdatedAt):
		return StateStale
	default:
		return StateInSync
	}
}

// Diff returns the cached render and the Source's current raw content.
func (t *Tracker) Diff(ctx context.Context, localID string) (*Diff, error) {
	inc, src, err := t.repo.ResolveInclude(ctx, localID)
	if err != nil {
		return nil, err
	}
	state := t.state(localID, inc, src)
	return &Diff{
		Status: Status{
			LocalID:         inc.LocalID,
			SourceID:        src.ID,
			State:           state,
			LastSynced:      inc.LastSynced,
			SourceUpdatedAt: src.UpdatedAt,
		},
		Cached:    inc.CachedContent,
		SourceRaw: src.Content,
		Variables: src.Variables,
		Toggles:   src.Toggles,
		Stale:     IsStale(inc.LastSynced, src.UpdatedAt),
	}, nil
}

// Update re-renders an Include from the current Source with its
// existing settings, persists the render and advances LastSynced. A
// concurrent Update of the same Include fails with ErrUpdateInProgress.
func (t *Tracker) Update(ctx context.Context, localID string) (*types.Include, error) {
	t.mu.Lock()
	if t.updating[localID] {
		t.mu.Unlock()
		return nil, errors.ErrUpdateInProgress
	}
	t.updating[localID] = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.updating, localID)
		t.mu.Unlock()
	}()

	inc, src, err := t.repo.ResolveInclude(ctx, localID)
	if err != nil {
		return nil, err
	}
	wasStale := IsStale(inc.LastSynced, src.UpdatedAt)

	if err := Apply(ctx, t.renderer, inc, src, t.clock.Now()); err != nil {
		return nil, err
	}
	if err := t.repo.SaveInclude(ctx, inc); err != nil {
		t.logger.Error(ctx, err, "Failed to persist synced include", "local_id", localID)
		return nil, err
	}

	t.logger.Info(ctx, "Include synced", "local_id", localID, "source_id", src.ID, "was_stale", wasStale)
	t.repo.Notify(types.Event{Type: types.EventIncludeSynced, SourceID: src.ID, LocalID: localID, Timestamp: inc.LastSynced})
	if t.onSynced != nil {
		t.onSynced(inc)
	}
	return inc, nil
}

// Apply renders src with inc's settings into inc and marks it synced at
// now. LastSynced never falls behind the Source's updatedAt so a clock
// behind the editor's does not leave the Include stale.
func Apply(ctx context.Context, r Renderer, inc *types.Include, src *types.Source, now time.Time) error {
	hash, err := types.SettingsFingerprint(inc.Settings)
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeInternalError, "fingerprinting settings", err).WithID(inc.LocalID)
	}
	res := r.Render(ctx, src.Content, inc.Settings)
	contentHash, err := types.ContentFingerprint(res.Content)
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeInternalError, "fingerprinting render", err).WithID(inc.LocalID)
	}

	inc.CachedContent = res.Content
	inc.SettingsHash = hash
	inc.ContentHash = contentHash
	inc.CachedAt = now
	inc.LastSynced = now
	if src.UpdatedAt.After(now) {
		inc.LastSynced = src.UpdatedAt
	}
	return nil
}

// StaleIncludes returns the Includes of a Source whose render predates
// its latest edit.
func (t *Tracker) StaleIncludes(ctx context.Context, sourceID string) ([]*types.Include, error) {
	src, err := t.repo.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	incs, err := t.repo.IncludesForSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	var stale []*types.Include
	for _, inc := range incs {
		if IsStale(inc.LastSynced, src.UpdatedAt) {
			stale = append(stale, inc)
		}
	}
	return stale, nil
}

// Orphans returns the local ids of Includes whose Source is gone.
func (t *Tracker) Orphans(ctx context.Context) ([]string, error) {
	return t.repo.Orphans(ctx)
}
