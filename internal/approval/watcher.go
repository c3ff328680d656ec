package approval

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-fleet-orchestrator/internal/logging"
)

// ImportCallback is called after a debounce window with the project whose
// manifests changed.
type ImportCallback func(projectID string)

// Watcher monitors project manifest directories and triggers re-imports.
// Rapid successive writes (editors, git checkouts) collapse into one
// callback per project.
type Watcher struct {
	watcher  *fsnotify.Watcher
	callback ImportCallback
	log      *logging.Logger
	debounce time.Duration

	// projectID keyed by watched directory
	dirs map[string]string

	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	cancel context.CancelFunc
}

// NewWatcher creates a manifest watcher invoking callback on changes
func NewWatcher(callback ImportCallback, log *logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:  fsw,
		callback: callback,
		log:      log.WithComponent("approval"),
		debounce: 500 * time.Millisecond,
		dirs:     make(map[string]string),
		pending:  make(map[string]struct{}),
	}, nil
}

// AddProject starts watching a project's manifest directory. Projects
// without one are skipped.
func (w *Watcher) AddProject(project *domain.Project) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir := filepath.Join(project.Path, filepath.FromSlash(prdsSubdir))
	if _, exists := w.dirs[dir]; exists {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = project.ID
	return nil
}

// Start begins watching for manifest changes
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.log.Warn("watch error", "error", err)
			}
		}
	}()
}

// Stop stops watching for file changes
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.watcher.Close()
}

// SetDebounce sets the debounce duration for batching file changes
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".md") {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	projectID, ok := w.dirs[filepath.Dir(event.Name)]
	if !ok {
		return
	}
	w.pending[projectID] = struct{}{}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	if w.callback == nil {
		return
	}
	for projectID := range pending {
		w.callback(projectID)
	}
}
