package sources

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragdocs/internal/config"
	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
	"github.com/fyrsmithlabs/ragdocs/internal/extract"
	"github.com/fyrsmithlabs/ragdocs/internal/ignore"
)

const (
	filesMaxSize  = 10 << 20
	watchDebounce = 500 * time.Millisecond
)

// ErrWatcherFailed indicates the filesystem watcher failed to start.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Files reads documents from a local directory tree.
type Files struct {
	dir        string
	extensions []string
	watch      bool
	ignore     *ignore.Matcher
	logger     *zap.Logger
	limit      int
}

// NewFiles builds a directory source from its config section.
func NewFiles(cfg config.FilesConfig, logger *zap.Logger) (*Files, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	exts := make([]string, 0, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	matcher, err := ignore.Load(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("reading ignore files in %s: %w", cfg.Dir, err)
	}
	return &Files{dir: cfg.Dir, extensions: exts, watch: cfg.Watch, ignore: matcher, logger: logger}, nil
}

// Name implements DocumentSource.
func (f *Files) Name() string { return "files" }

// Origin implements DocumentSource.
func (f *Files) Origin() string { return docstore.SourceFiles }

// Watching reports whether the source was configured to watch for changes.
func (f *Files) Watching() bool { return f.watch }

// FetchAll implements DocumentSource. Hidden entries, paths matched by
// .ragdocsignore or .gitignore, and files that fail to extract are skipped.
func (f *Files) FetchAll(ctx context.Context) ([]docstore.Record, error) {
	var records []docstore.Record
	err := filepath.WalkDir(f.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.skip(path, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !f.matches(path) {
			return nil
		}

		text, err := ReadFile(ctx, path)
		if err != nil {
			f.logger.Warn("skipping file", zap.String("path", path), zap.Error(err))
			return nil
		}
		rel, _ := filepath.Rel(f.dir, path)
		records = append(records, docstore.Record{
			Content: text,
			Source:  docstore.SourceFiles,
			Title:   filepath.ToSlash(rel),
			Type:    "file",
		})
		if f.limit > 0 && len(records) >= f.limit {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", f.dir, err)
	}
	return records, nil
}

// skip reports whether a walked path is hidden or ignored.
func (f *Files) skip(path string, isDir bool) bool {
	if path == f.dir {
		return false
	}
	if strings.HasPrefix(filepath.Base(path), ".") {
		return true
	}
	rel, err := filepath.Rel(f.dir, path)
	if err != nil {
		return false
	}
	return f.ignore.Match(filepath.ToSlash(rel), isDir)
}

func (f *Files) matches(path string) bool {
	return slices.Contains(f.extensions, strings.ToLower(filepath.Ext(path)))
}

// ReadFile extracts the text of one local file.
func ReadFile(ctx context.Context, path string) (string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer fh.Close()
	return extract.Text(ctx, "", filepath.Base(path), fh, filesMaxSize)
}

// Watch calls onChange after files under the directory change, coalescing
// bursts of events. It blocks until ctx is done.
func (f *Files) Watch(ctx context.Context, onChange func(context.Context)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	defer watcher.Close()

	err = filepath.WalkDir(f.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		if f.skip(path, true) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !f.skip(event.Name, true) {
						_ = watcher.Add(event.Name)
					}
					continue
				}
			}
			if !f.matches(event.Name) || f.skip(event.Name, false) || event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			timer.Reset(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("file watcher error", zap.Error(err))
		case <-timer.C:
			f.logger.Info("files changed, re-ingesting", zap.String("dir", f.dir))
			onChange(ctx)
		}
	}
}
