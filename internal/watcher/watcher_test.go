package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/timetrail/internal/apperr"
	"github.com/starford/timetrail/internal/ledger"
	"github.com/starford/timetrail/internal/matcher"
	"github.com/starford/timetrail/internal/models"
	"github.com/starford/timetrail/internal/testutil"
)

type watcherEnv struct {
	root string
	db   *ledger.DB
	w    *Watcher

	mu   sync.Mutex
	seen []models.FileActivity
}

func newWatcherEnv(t *testing.T) *watcherEnv {
	t.Helper()
	env := &watcherEnv{root: t.TempDir(), db: testutil.TestDB(t)}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	m, err := matcher.New(matcher.WithLogger(logger))
	require.NoError(t, err)
	m.SetCatalog([]*models.Project{{
		ID:                "p1",
		Name:              "alpha",
		DirectoryPatterns: []string{filepath.ToSlash(env.root) + "/alpha/**"},
	}}, nil)

	env.w, err = New(env.db, m,
		WithDebounce(50*time.Millisecond),
		WithLogger(logger),
		WithOnActivity(func(a models.FileActivity) {
			env.mu.Lock()
			env.seen = append(env.seen, a)
			env.mu.Unlock()
		}),
	)
	require.NoError(t, err)
	return env
}

func (env *watcherEnv) start(t *testing.T) {
	t.Helper()
	require.NoError(t, env.w.Start(context.Background(), []string{env.root}))
	t.Cleanup(env.w.Stop)
}

func (env *watcherEnv) activity(t *testing.T) []*models.FileActivity {
	t.Helper()
	got, err := env.db.ListActivitySince(context.Background(), time.Time{})
	require.NoError(t, err)
	return got
}

func (env *watcherEnv) hasActivity(t *testing.T, path string, kind models.EventType) bool {
	for _, a := range env.activity(t) {
		if a.FilePath == path && a.EventType == kind {
			return true
		}
	}
	return false
}

func TestWatcher_RecordsClassifiedActivity(t *testing.T) {
	env := newWatcherEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Join(env.root, "alpha"), 0o755))
	env.start(t)

	path := filepath.Join(env.root, "alpha", "main.go")
	require.NoError(t, os.WriteFile(path, []byte("package main"), 0o644))

	require.Eventually(t, func() bool { return env.hasActivity(t, path, models.EventAdd) },
		5*time.Second, 50*time.Millisecond)

	for _, a := range env.activity(t) {
		if a.FilePath == path {
			assert.Equal(t, "alpha", a.ProjectSuggestion)
		}
	}

	env.mu.Lock()
	defer env.mu.Unlock()
	assert.NotEmpty(t, env.seen)
}

func TestWatcher_UnmatchedFileStillRecorded(t *testing.T) {
	env := newWatcherEnv(t)
	env.start(t)

	path := filepath.Join(env.root, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	require.Eventually(t, func() bool { return env.hasActivity(t, path, models.EventAdd) },
		5*time.Second, 50*time.Millisecond)
	for _, a := range env.activity(t) {
		if a.FilePath == path {
			assert.Empty(t, a.ProjectSuggestion)
		}
	}
}

func TestWatcher_BurstOfWritesCollapses(t *testing.T) {
	env := newWatcherEnv(t)
	path := filepath.Join(env.root, "busy.go")
	require.NoError(t, os.WriteFile(path, []byte("0"), 0o644))
	env.start(t)

	for i := 0; i < 5; i++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
		require.NoError(t, err)
		_, _ = f.WriteString("x")
		f.Close()
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return env.hasActivity(t, path, models.EventChange) },
		5*time.Second, 50*time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	changes := 0
	for _, a := range env.activity(t) {
		if a.FilePath == path && a.EventType == models.EventChange {
			changes++
		}
	}
	assert.Equal(t, 1, changes)
}

func TestWatcher_NewDirWatched(t *testing.T) {
	env := newWatcherEnv(t)
	env.start(t)

	sub := filepath.Join(env.root, "alpha", "pkg")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(sub, "deep.go")
	require.NoError(t, os.WriteFile(path, []byte("package pkg"), 0o644))

	require.Eventually(t, func() bool { return env.hasActivity(t, path, models.EventAdd) },
		5*time.Second, 50*time.Millisecond, "file in new subdir not recorded")
}

func TestWatcher_IgnoredPaths(t *testing.T) {
	env := newWatcherEnv(t)
	nm := filepath.Join(env.root, "node_modules")
	require.NoError(t, os.MkdirAll(nm, 0o755))
	env.start(t)

	require.NoError(t, os.WriteFile(filepath.Join(nm, "index.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(env.root, "scratch.tmp"), []byte("x"), 0o644))
	marker := filepath.Join(env.root, "marker.go")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o644))

	require.Eventually(t, func() bool { return env.hasActivity(t, marker, models.EventAdd) },
		5*time.Second, 50*time.Millisecond)
	for _, a := range env.activity(t) {
		assert.Equal(t, marker, a.FilePath, "unexpected activity for %s", a.FilePath)
	}
}

func TestWatcher_RenameIsUnlinkPlusAdd(t *testing.T) {
	env := newWatcherEnv(t)
	oldPath := filepath.Join(env.root, "old.go")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0o644))
	env.start(t)

	newPath := filepath.Join(env.root, "new.go")
	require.NoError(t, os.Rename(oldPath, newPath))

	require.Eventually(t, func() bool {
		return env.hasActivity(t, oldPath, models.EventUnlink) && env.hasActivity(t, newPath, models.EventAdd)
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatcher_StopDiscardsPending(t *testing.T) {
	env := newWatcherEnv(t)
	env.w.delay = time.Second
	env.start(t)

	require.NoError(t, os.WriteFile(filepath.Join(env.root, "late.go"), []byte("x"), 0o644))
	time.Sleep(100 * time.Millisecond)
	env.w.Stop()
	time.Sleep(1200 * time.Millisecond)

	assert.Empty(t, env.activity(t))
}

func TestWatcher_NoDirectories(t *testing.T) {
	env := newWatcherEnv(t)
	err := env.w.Start(context.Background(), []string{filepath.Join(env.root, "missing")})
	require.ErrorIs(t, err, apperr.ErrConfig)
}

func TestWatcher_SkipsMissingDirectories(t *testing.T) {
	env := newWatcherEnv(t)
	require.NoError(t, env.w.Start(context.Background(), []string{filepath.Join(env.root, "missing"), env.root, env.root}))
	t.Cleanup(env.w.Stop)
	assert.Equal(t, []string{env.root}, env.w.Roots())
}

func TestWatcher_SkipsUnreadableSubdirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	env := newWatcherEnv(t)
	require.NoError(t, os.MkdirAll(filepath.Join(env.root, "ok"), 0o755))
	locked := filepath.Join(env.root, "pgdata")
	require.NoError(t, os.MkdirAll(locked, 0o755))
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	env.start(t)
	assert.Equal(t, []string{env.root}, env.w.Roots())

	path := filepath.Join(env.root, "ok", "main.go")
	require.NoError(t, os.WriteFile(path, []byte("package ok"), 0o644))
	require.Eventually(t, func() bool { return env.hasActivity(t, path, models.EventAdd) },
		5*time.Second, 50*time.Millisecond)
}

func TestWatcher_UnreadableRootIsDropped(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	env := newWatcherEnv(t)
	locked := filepath.Join(env.root, "locked")
	require.NoError(t, os.MkdirAll(locked, 0o755))
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	err := env.w.Start(context.Background(), []string{locked})
	require.ErrorIs(t, err, apperr.ErrConfig)

	open := filepath.Join(env.root, "open")
	require.NoError(t, os.MkdirAll(open, 0o755))
	require.NoError(t, env.w.Start(context.Background(), []string{locked, open}))
	t.Cleanup(env.w.Stop)
	assert.Equal(t, []string{open}, env.w.Roots())
}

func TestWatcher_RecordsInTimestampOrder(t *testing.T) {
	env := newWatcherEnv(t)
	env.start(t)

	const n = 20
	for i := 0; i < n; i++ {
		name := filepath.Join(env.root, "f"+string(rune('a'+i))+".go")
		require.NoError(t, os.WriteFile(name, []byte("x"), 0o644))
	}

	require.Eventually(t, func() bool {
		env.mu.Lock()
		defer env.mu.Unlock()
		return len(env.seen) >= n
	}, 5*time.Second, 50*time.Millisecond)

	env.mu.Lock()
	defer env.mu.Unlock()
	for i := 1; i < len(env.seen); i++ {
		assert.False(t, env.seen[i].Timestamp.Before(env.seen[i-1].Timestamp),
			"record %d (%s) stamped before record %d (%s)", i, env.seen[i].FilePath, i-1, env.seen[i-1].FilePath)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, home, ExpandHome("~"))
	assert.Equal(t, filepath.Join(home, "code"), ExpandHome("~/code"))
	assert.Equal(t, "/srv/code", ExpandHome("/srv/code"))
	assert.Equal(t, "~other/code", ExpandHome("~other/code"))
}
