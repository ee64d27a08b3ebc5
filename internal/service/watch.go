package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"siapxml/internal/domain"
	"siapxml/internal/legacy"
)

// ─────────────────────────────────────────────────────────────
// Watcher: re-extract layouts when their legacy file changes
// ─────────────────────────────────────────────────────────────

// DefaultDebounce is the quiet period after the last write before a
// re-extraction starts.
const DefaultDebounce = 500 * time.Millisecond

// Watcher observes the local database files behind a set of layouts.
// One file may feed several layouts; they are re-extracted in order.
//
// The legacy server writes to its database file whenever a reader
// attaches, so an extraction touches the very file it watches. Events
// that arrive while a file's layouts run are dropped, and a trigger is
// skipped when the file still matches the stamp taken after the last run.
type Watcher struct {
	svc      *ExtractionService
	debounce time.Duration
	log      *zap.Logger

	// Competence picks the period of triggered runs. Defaults to the
	// month before now.
	Competence func() string

	paths   map[string][]domain.LayoutID
	mu      sync.Mutex
	busy    map[string]bool
	stamps  map[string]fileStamp
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWatcher resolves the database file of every layout. Layouts whose
// source lives on a remote server cannot be watched.
func NewWatcher(svc *ExtractionService, ids []domain.LayoutID, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w := &Watcher{
		svc:        svc,
		debounce:   debounce,
		log:        log,
		Competence: func() string { return PreviousCompetence(time.Now()) },
		paths:      make(map[string][]domain.LayoutID),
		busy:       make(map[string]bool),
		stamps:     make(map[string]fileStamp),
	}
	for _, id := range ids {
		def, err := svc.Layouts.Get(id)
		if err != nil {
			return nil, err
		}
		p, err := svc.Session.Source(def.Source)
		if err != nil {
			return nil, fmt.Errorf("watch %s: %w", id, err)
		}
		file, ok := legacy.LocalFile(p.Path)
		if !ok {
			return nil, fmt.Errorf("watch %s: %s is served by a remote host", id, p.Path)
		}
		abs, err := filepath.Abs(file)
		if err != nil {
			return nil, fmt.Errorf("watch %s: %w", id, err)
		}
		w.paths[abs] = append(w.paths[abs], id)
	}
	return w, nil
}

// Files lists the watched database files.
func (w *Watcher) Files() []string {
	files := make([]string, 0, len(w.paths))
	for f := range w.paths {
		files = append(files, f)
	}
	return files
}

// Start begins watching. Directories are watched rather than files so
// that a database replaced by a restore is still picked up.
func (w *Watcher) Start(ctx context.Context) error {
	if len(w.paths) == 0 {
		return errors.New("nothing to watch")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dirs := make(map[string]bool)
	for path := range w.paths {
		dir := filepath.Dir(path)
		if dirs[dir] {
			continue
		}
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return fmt.Errorf("watch dir %s: %w", dir, err)
		}
		dirs[dir] = true
	}
	w.watcher = fw

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop(ctx)
	w.log.Info("watching legacy files", zap.Strings("files", w.Files()))
	return nil
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	w.cancel = nil
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			path, _ := filepath.Abs(event.Name)
			if _, ok := w.paths[path]; !ok || w.running(path) {
				continue
			}
			if t, ok := timers[path]; ok {
				t.Stop()
			}
			timers[path] = time.AfterFunc(w.debounce, func() { w.trigger(ctx, path) })
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.Error(err))
		}
	}
}

// fileStamp identifies one state of a file.
type fileStamp struct {
	size    int64
	modNano int64
}

func statFile(path string) (fileStamp, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, false
	}
	return fileStamp{size: fi.Size(), modNano: fi.ModTime().UnixNano()}, true
}

func (w *Watcher) running(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy[path]
}

// claim marks path busy unless it is already running or unchanged since
// the last run.
func (w *Watcher) claim(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy[path] {
		return false
	}
	if prev, ok := w.stamps[path]; ok {
		if cur, ok := statFile(path); ok && cur == prev {
			return false
		}
	}
	w.busy[path] = true
	return true
}

func (w *Watcher) release(path string) {
	stamp, ok := statFile(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.busy, path)
	if ok {
		w.stamps[path] = stamp
	}
}

func (w *Watcher) trigger(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	if !w.claim(path) {
		w.log.Debug("legacy file unchanged since last run", zap.String("file", path))
		return
	}
	defer w.release(path)

	competence := w.Competence()
	for _, id := range w.paths[path] {
		log := w.log.With(zap.String("file", path), zap.String("layout", string(id)))
		log.Info("legacy file changed, re-extracting")
		if _, err := w.svc.Extract(ctx, id, competence); err != nil {
			if errors.Is(err, domain.ErrAlreadyRunning) {
				log.Info("extraction already running, skipped")
				continue
			}
			log.Error("re-extraction failed", zap.Error(err))
		}
	}
}
