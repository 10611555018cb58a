package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/conneroisu/excerpt/internal/clock"
	"github.com/conneroisu/excerpt/internal/errors"
	"github.com/conneroisu/excerpt/internal/logging"
	"github.com/conneroisu/excerpt/internal/repository"
	"github.com/conneroisu/excerpt/internal/tracker"
	"github.com/conneroisu/excerpt/internal/types"
)

// DefaultDebounce is the quiet period before a scheduled write persists.
const DefaultDebounce = 500 * time.Millisecond

// WriterOptions configures a Writer.
type WriterOptions struct {
	Delay  time.Duration
	Clock  clock.Clock
	Logger logging.Logger
}

// Writer coalesces settings edits per Include. Each Schedule replaces the
// pending write for its id and restarts the quiet period; when the
// period passes the Include is re-rendered and persisted once.
type Writer struct {
	repo     *repository.Repository
	renderer tracker.Renderer
	cache    *Cache
	delay    time.Duration
	clock    clock.Clock
	logger   logging.Logger

	mu       sync.Mutex
	pending  map[string]*pendingWrite
	gen      uint64
	latest   map[string]uint64
	closed   bool
	failures *multierror.Error

	// persistMu serializes persists so a flush never races a timer
	persistMu sync.Mutex
}

type pendingWrite struct {
	settings types.Settings
	timer    clock.Timer
	gen      uint64
}

// NewWriter creates a Writer that refreshes cache after each persist.
func NewWriter(repo *repository.Repository, renderer tracker.Renderer, cache *Cache, opts WriterOptions) *Writer {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDebounce
	}
	if opts.Clock == nil {
		opts.Clock = repo.Clock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Writer{
		repo:     repo,
		renderer: renderer,
		cache:    cache,
		delay:    opts.Delay,
		clock:    opts.Clock,
		logger:   opts.Logger.WithComponent("writer"),
		pending:  make(map[string]*pendingWrite),
		latest:   make(map[string]uint64),
	}
}

// Schedule queues settings for localID, superseding any write still
// pending for it.
func (w *Writer) Schedule(localID string, settings types.Settings) error {
	if localID == "" {
		return errors.NewFieldValidationError("localId", localID, "is required")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.ErrClosed
	}

	if prev, ok := w.pending[localID]; ok {
		prev.timer.Stop()
	}
	w.gen++
	p := &pendingWrite{settings: settings.Clone(), gen: w.gen}
	w.pending[localID] = p
	w.latest[localID] = p.gen
	gen := p.gen
	p.timer = w.clock.AfterFunc(w.delay, func() { w.fire(localID, gen) })
	return nil
}

// fire persists the write for localID if it is still the latest one.
func (w *Writer) fire(localID string, gen uint64) {
	w.mu.Lock()
	p, ok := w.pending[localID]
	if !ok || p.gen != gen {
		w.mu.Unlock()
		return
	}
	delete(w.pending, localID)
	w.mu.Unlock()

	ctx := context.Background()
	if err := w.persist(ctx, localID, p); err != nil {
		w.logger.Error(ctx, err, "Debounced write failed", "local_id", localID)
		w.mu.Lock()
		w.failures = multierror.Append(w.failures, err)
		w.mu.Unlock()
	}
}

// Flush persists every pending write now. The returned error aggregates
// the failures of this flush and of background writes since the last
// flush.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]*pendingWrite)
	result := w.failures
	w.failures = nil
	w.mu.Unlock()

	ids := make([]string, 0, len(batch))
	for id, p := range batch {
		p.timer.Stop()
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := w.persist(ctx, id, batch[id]); err != nil {
			w.logger.Error(ctx, err, "Flushed write failed", "local_id", id)
			result = multierror.Append(result, err)
		}
	}
	if len(ids) > 0 {
		w.logger.Debug(ctx, "Flushed pending writes", "count", len(ids))
	}
	return result.ErrorOrNil()
}

// Close flushes and refuses further schedules.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return w.Flush(ctx)
}

// Pending returns the number of Includes with a write waiting.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// persist stores the settings of p on the Include and re-renders it. A
// write superseded by a later Schedule is dropped, as are settings equal
// to the ones behind the current render. When the Source is gone only
// the settings are stored.
func (w *Writer) persist(ctx context.Context, localID string, p *pendingWrite) error {
	w.persistMu.Lock()
	defer w.persistMu.Unlock()

	w.mu.Lock()
	superseded := w.latest[localID] != p.gen
	w.mu.Unlock()
	if superseded {
		w.logger.Debug(ctx, "Write superseded", "local_id", localID)
		return nil
	}
	settings := p.settings

	inc, err := w.repo.GetInclude(ctx, localID)
	if err != nil {
		return err
	}
	hash, err := types.SettingsFingerprint(settings)
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeInternalError, "fingerprinting settings", err).WithID(localID)
	}
	if inc.HasCache() && inc.SettingsHash == hash {
		w.logger.Debug(ctx, "Settings unchanged", "local_id", localID)
		return nil
	}

	inc.Settings = settings
	src, err := w.repo.GetSource(ctx, inc.ExcerptID)
	switch {
	case errors.IsNotFound(err):
		w.logger.Warn(ctx, errors.NewOrphanError(localID, inc.ExcerptID), "Saving settings of orphaned include")
		return w.repo.SaveInclude(ctx, inc)
	case err != nil:
		return err
	}

	if err := tracker.Apply(ctx, w.renderer, inc, src, w.clock.Now()); err != nil {
		return err
	}
	if err := w.repo.SaveInclude(ctx, inc); err != nil {
		return err
	}
	if w.cache != nil {
		w.cache.Put(inc)
	}
	return nil
}
