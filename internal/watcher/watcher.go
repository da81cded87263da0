// Package watcher observes directory trees and records debounced file
// activity classified by the matcher.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/moby/patternmatcher"

	"github.com/starford/timetrail/internal/apperr"
	"github.com/starford/timetrail/internal/matcher"
	"github.com/starford/timetrail/internal/models"
)

// DefaultDebounce is the quiet period before a file event is recorded.
const DefaultDebounce = time.Second

// DefaultIgnore lists paths that never produce activity.
var DefaultIgnore = []string{
	".git", ".svn", ".hg",
	"node_modules", "vendor", "dist", "build", "target",
	".idea", ".vscode",
	"*.tmp", "*.swp", "*~", "*.log",
	"*.db-wal", "*.db-shm", "*.db-journal",
	".DS_Store", "Thumbs.db",
}

// DefaultDirectories returns the conventional workspace roots plus the
// working directory.
func DefaultDirectories() []string {
	var dirs []string
	if home, err := os.UserHomeDir(); err == nil {
		for _, name := range []string{"projects", "work", "code"} {
			dirs = append(dirs, filepath.Join(home, name))
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, cwd)
	}
	return dirs
}

// Recorder persists activity records.
type Recorder interface {
	AppendActivity(ctx context.Context, a *models.FileActivity) error
}

// Classifier maps a path to a project and task.
type Classifier interface {
	Match(path string) (matcher.Match, bool)
}

// ActivityCallback is called after an activity record is stored.
type ActivityCallback func(a models.FileActivity)

// Watcher turns filesystem events into FileActivity records.
type Watcher struct {
	store      Recorder
	classifier Classifier
	logger     *slog.Logger
	delay      time.Duration
	ignore     []string
	onActivity ActivityCallback

	fireMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	fsw     *fsnotify.Watcher
	deb     *Debouncer
	ignorer *patternmatcher.PatternMatcher
	queue   chan models.FileActivity
	roots   []string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period per path and event type.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithIgnore adds ignore globs to the defaults. Patterns without a path
// separator match at any depth.
func WithIgnore(patterns ...string) Option {
	return func(w *Watcher) { w.ignore = append(w.ignore, patterns...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithOnActivity registers a callback for stored records.
func WithOnActivity(cb ActivityCallback) Option {
	return func(w *Watcher) { w.onActivity = cb }
}

// New returns a stopped Watcher.
func New(store Recorder, classifier Classifier, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		store:      store,
		classifier: classifier,
		logger:     slog.Default(),
		delay:      DefaultDebounce,
		ignore:     append([]string(nil), DefaultIgnore...),
	}
	for _, opt := range opts {
		opt(w)
	}
	ignorer, err := compileIgnore(w.ignore)
	if err != nil {
		return nil, fmt.Errorf("watcher: ignore patterns: %v: %w", err, apperr.ErrConfig)
	}
	w.ignorer = ignorer
	return w, nil
}

func compileIgnore(patterns []string) (*patternmatcher.PatternMatcher, error) {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = filepath.ToSlash(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			p = "**/" + p
		}
		out = append(out, p)
	}
	return patternmatcher.New(out)
}

func (w *Watcher) ignored(path string) bool {
	ok, err := w.ignorer.MatchesOrParentMatches(filepath.ToSlash(path))
	return err == nil && ok
}

// Roots returns the directories being watched.
func (w *Watcher) Roots() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// Start begins watching dirs recursively. An empty dirs uses
// DefaultDirectories. Directories that are missing or cannot be watched are
// skipped with a warning; if none remain Start fails with apperr.ErrConfig.
func (w *Watcher) Start(ctx context.Context, dirs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher: already running: %w", apperr.ErrConflict)
	}
	if len(dirs) == 0 {
		dirs = DefaultDirectories()
	}
	roots := w.resolveRoots(dirs)
	if len(roots) == 0 {
		return fmt.Errorf("watcher: no watchable directories in %v: %w", dirs, apperr.ErrConfig)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	watched := roots[:0]
	for _, root := range roots {
		if err := w.addDirsRecursive(fsw, root); err != nil {
			w.logger.Warn("watcher: skipping unwatchable directory",
				slog.String("dir", root),
				slog.String("error", err.Error()))
			continue
		}
		watched = append(watched, root)
	}
	if len(watched) == 0 {
		fsw.Close()
		return fmt.Errorf("watcher: no watchable directories in %v: %w", dirs, apperr.ErrConfig)
	}
	roots = watched

	ctx, cancel := context.WithCancel(ctx)
	w.fsw = fsw
	w.cancel = cancel
	w.deb = NewDebouncer(w.delay)
	w.queue = make(chan models.FileActivity, 256)
	w.roots = roots
	w.running = true

	w.wg.Add(2)
	go w.loop(ctx, fsw, w.deb, w.queue)
	go w.commit(ctx, w.queue)

	w.logger.Info("watcher: started", slog.Any("roots", roots), slog.Duration("debounce", w.delay))
	return nil
}

// Run starts the watcher and blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, dirs []string) error {
	if err := w.Start(ctx, dirs); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

// Stop cancels pending debounced events without recording them and
// releases the filesystem watch. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.deb.Stop()
	w.cancel()
	fsw := w.fsw
	w.mu.Unlock()

	fsw.Close()
	w.wg.Wait()
	w.logger.Info("watcher: stopped")
}

func (w *Watcher) resolveRoots(dirs []string) []string {
	seen := make(map[string]struct{}, len(dirs))
	var roots []string
	for _, dir := range dirs {
		abs, err := filepath.Abs(ExpandHome(dir))
		if err != nil {
			w.logger.Warn("watcher: resolve dir failed", slog.String("dir", dir), slog.String("error", err.Error()))
			continue
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			w.logger.Warn("watcher: skipping missing directory", slog.String("dir", abs))
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		roots = append(roots, abs)
	}
	return roots
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// addDirsRecursive adds root and all its non-ignored subdirectories. Only a
// failure on root itself is returned; unreadable or unwatchable
// subdirectories are logged and skipped.
func (w *Watcher) addDirsRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			w.skipDir(path, err)
			return filepath.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignored(path) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			if path == root {
				return err
			}
			w.skipDir(path, err)
			return filepath.SkipDir
		}
		return nil
	})
}

func (w *Watcher) skipDir(path string, err error) {
	w.logger.Warn("watcher: skipping directory",
		slog.String("path", path),
		slog.String("error", err.Error()))
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, deb *Debouncer, queue chan<- models.FileActivity) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, fsw, deb, queue, ev)

		case watchErr, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fsw *fsnotify.Watcher, deb *Debouncer, queue chan<- models.FileActivity, ev fsnotify.Event) {
	path := ev.Name
	if w.ignored(path) {
		return
	}

	var kind models.EventType
	switch {
	case ev.Op&fsnotify.Create != 0:
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.addDirsRecursive(fsw, path); err != nil {
				w.logger.Warn("watcher: add new dir failed",
					slog.String("path", path),
					slog.String("error", err.Error()))
			} else {
				w.logger.Debug("watcher: watching new dir", slog.String("path", path))
			}
			return
		}
		kind = models.EventAdd
	case ev.Op&fsnotify.Write != 0:
		kind = models.EventChange
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// A rename reports the old path; the new one arrives as Create.
		kind = models.EventUnlink
	default:
		return
	}

	deb.Trigger(path+"|"+string(kind), func() {
		w.enqueue(ctx, queue, models.FileActivity{FilePath: path, EventType: kind})
	})
}

// enqueue stamps a fired event and queues it. Stamping and queueing happen
// under one lock so queue order matches timestamp order across keys.
func (w *Watcher) enqueue(ctx context.Context, queue chan<- models.FileActivity, a models.FileActivity) {
	w.fireMu.Lock()
	defer w.fireMu.Unlock()
	a.Timestamp = time.Now()
	select {
	case queue <- a:
	case <-ctx.Done():
	}
}

// commit is the single writer of activity records, so records land in the
// order their debounce timers fired.
func (w *Watcher) commit(ctx context.Context, queue <-chan models.FileActivity) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-queue:
			if m, ok := w.classifier.Match(a.FilePath); ok {
				a.ProjectSuggestion = m.Project
				a.TaskSuggestion = m.Task
			}
			if err := w.store.AppendActivity(ctx, &a); err != nil {
				w.logger.Warn("watcher: record activity failed",
					slog.String("path", a.FilePath),
					slog.String("error", err.Error()))
				continue
			}
			w.logger.Debug("watcher: activity recorded",
				slog.String("path", a.FilePath),
				slog.String("event", string(a.EventType)),
				slog.String("project", a.ProjectSuggestion))
			if w.onActivity != nil {
				w.onActivity(a)
			}
		}
	}
}
