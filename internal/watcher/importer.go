package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/conneroisu/excerpt/internal/logging"
	"github.com/conneroisu/excerpt/internal/repository"
)

// SourceImporter keeps the repository in step with a directory of
// Source files. A written file is re-imported; a removed file deletes
// the Source it last imported.
type SourceImporter struct {
	repo   *repository.Repository
	logger logging.Logger

	mu    sync.Mutex
	paths map[string]string // path -> source id
}

// NewSourceImporter creates an importer over repo.
func NewSourceImporter(repo *repository.Repository, logger logging.Logger) *SourceImporter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &SourceImporter{
		repo:   repo,
		logger: logger.WithComponent("importer"),
		paths:  make(map[string]string),
	}
}

// ImportDir imports every Source file under dir.
func (si *SourceImporter) ImportDir(ctx context.Context, dir string) (int, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !NoHiddenFilter(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if repository.IsSourceFile(path) && NoHiddenFilter(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	sort.Strings(files)

	var result *multierror.Error
	imported := 0
	for _, path := range files {
		if err := si.importFile(ctx, path); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		imported++
	}
	return imported, result.ErrorOrNil()
}

// Handle is a ChangeHandler that applies a batch of file changes.
func (si *SourceImporter) Handle(ctx context.Context, events []ChangeEvent) error {
	var result *multierror.Error
	for _, ev := range events {
		if !repository.IsSourceFile(ev.Path) {
			continue
		}
		var err error
		if ev.Type.Gone() {
			err = si.remove(ctx, ev.Path)
		} else {
			err = si.importFile(ctx, ev.Path)
		}
		if err != nil {
			si.logger.Error(ctx, err, "Failed to apply file change", "path", ev.Path, "type", ev.Type.String())
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (si *SourceImporter) importFile(ctx context.Context, path string) error {
	res, err := si.repo.ImportFile(ctx, path)
	if err != nil {
		return err
	}
	si.mu.Lock()
	prev, had := si.paths[path]
	si.paths[path] = res.Source.ID
	si.mu.Unlock()

	// The file now declares another id; the old Source goes with it.
	if had && prev != res.Source.ID {
		return si.repo.DeleteSource(ctx, prev)
	}
	return nil
}

func (si *SourceImporter) remove(ctx context.Context, path string) error {
	// An atomic save renames over the file; it is still there.
	if _, err := os.Stat(path); err == nil {
		return si.importFile(ctx, path)
	}

	si.mu.Lock()
	id, ok := si.paths[path]
	delete(si.paths, path)
	si.mu.Unlock()
	if !ok {
		id = repository.SourceIDForPath(path)
	}
	si.logger.Info(ctx, "Source file removed", "path", path, "source_id", id)
	return si.repo.DeleteSource(ctx, id)
}

// Watch imports dirs and then follows their changes until ctx is done.
func (si *SourceImporter) Watch(ctx context.Context, opts Options, dirs ...string) (*FileWatcher, error) {
	for _, dir := range dirs {
		n, err := si.ImportDir(ctx, dir)
		if err != nil {
			si.logger.Warn(ctx, err, "Some source files failed to import", "dir", dir)
		}
		si.logger.Info(ctx, "Imported source directory", "dir", dir, "sources", n)
	}

	fw, err := NewFileWatcher(opts)
	if err != nil {
		return nil, err
	}
	fw.AddFilter(NoHiddenFilter)
	fw.AddFilter(NoGitFilter)
	fw.AddFilter(repository.IsSourceFile)
	fw.AddHandler(si.Handle)
	for _, dir := range dirs {
		if err := fw.AddRecursive(dir); err != nil {
			fw.Stop()
			return nil, err
		}
	}
	if err := fw.Start(ctx); err != nil {
		fw.Stop()
		return nil, err
	}
	return fw, nil
}
