package rules

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recipeflow/internal/logging"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize rule catalog watcher")

// Watcher reloads a catalog file into a Store whenever the file changes.
// A catalog that fails to parse is logged and the previous one is kept.
type Watcher struct {
	path     string
	store    *Store
	logger   *logging.Logger
	watcher  *fsnotify.Watcher
	onReload func(*Catalog, error)
	started  bool
	stop     chan struct{}
	done     chan struct{}
}

// NewWatcher creates a watcher for path feeding store.
func NewWatcher(path string, store *Store, logger *logging.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Watcher{
		path:    abs,
		store:   store,
		logger:  logger,
		watcher: fw,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// OnReload registers fn to run after every reload attempt. It must be set
// before Start.
func (w *Watcher) OnReload(fn func(*Catalog, error)) {
	w.onReload = fn
}

// Start begins watching. The parent directory is watched so that editors
// which replace the file on save are still observed.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.started = true
	go w.loop(ctx)
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.watcher.Close()
	}
	if w.started {
		<-w.done
	}
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.reload(ctx)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "rule catalog watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	c, err := LoadFile(w.path)
	if err != nil {
		w.logger.Warn(ctx, "rule catalog reload failed, keeping previous catalog",
			zap.String("path", w.path), zap.Error(err))
	} else {
		w.store.Replace(c)
		w.logger.Info(ctx, "rule catalog reloaded",
			zap.String("path", w.path), zap.Strings("rulesets", c.Names()))
	}
	if w.onReload != nil {
		w.onReload(c, err)
	}
}
