package matcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/timetrail/internal/apperr"
	"github.com/starford/timetrail/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestMatcher(t *testing.T, opts ...Option) *Matcher {
	t.Helper()
	m, err := New(append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return m
}

func TestGlobCompiler(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"**/alpha/**", "/home/dev/alpha/main.go", true},
		{"**/alpha/**", "/home/dev/alphabet/main.go", false},
		{"**/*.go", "/src/x/y/z.go", true},
		{"**/*.go", "/src/x/y/z.md", false},
		{"/src/web/**", "/src/web/app/index.ts", true},
		{"/src/web/**", "/src/api/index.ts", false},
		{"**/docs", "/src/alpha/docs/readme.md", true},
		{"**/file?.txt", "/a/file1.txt", true},
	}
	for _, tc := range cases {
		p, err := GlobCompiler{}.Compile(tc.pattern)
		require.NoError(t, err, tc.pattern)
		assert.Equal(t, tc.want, p.Match(tc.path), "%s ~ %s", tc.pattern, tc.path)
	}
}

func TestCompileOrFallback_Substring(t *testing.T) {
	p, ok := CompileOrFallback(GlobCompiler{}, "[alpha*")
	assert.False(t, ok)
	assert.True(t, p.Match("/src/[alpha/main.go"))
	assert.False(t, p.Match("/src/beta/main.go"))
	assert.Equal(t, "[alpha*", p.String())

	_, ok = CompileOrFallback(GlobCompiler{}, "")
	assert.False(t, ok)
	p, _ = CompileOrFallback(GlobCompiler{}, "**")
	assert.NotNil(t, p)
}

func TestMatch_MappingPriority(t *testing.T) {
	m := newTestMatcher(t)
	m.SetMappings([]models.Mapping{
		{Pattern: "**/shared/**", ProjectName: "low", Priority: 10},
		{Pattern: "**/shared/**", ProjectName: "high", Priority: 100},
	})

	got, ok := m.Match("/work/shared/lib.go")
	require.True(t, ok)
	assert.Equal(t, "high", got.Project)
	assert.Equal(t, 1.0, got.Confidence)
	assert.Equal(t, SourceMapping, got.Source)
}

func TestMatch_EqualPriorityKeepsDeclarationOrder(t *testing.T) {
	m := newTestMatcher(t)
	m.SetMappings([]models.Mapping{
		{Pattern: "**/shared/**", ProjectName: "first", Priority: 50},
		{Pattern: "**/shared/**", ProjectName: "second", Priority: 50},
	})
	got, ok := m.Match("/work/shared/lib.go")
	require.True(t, ok)
	assert.Equal(t, "first", got.Project)
	assert.InDelta(t, 0.75, got.Confidence, 1e-9)
}

func TestMappingConfidence_Clamped(t *testing.T) {
	assert.Equal(t, 0.5, MappingConfidence(-5))
	assert.InDelta(t, 0.55, MappingConfidence(10), 1e-9)
	assert.Equal(t, 1.0, MappingConfidence(250))
}

func TestMatch_ProjectPatternsAndTasks(t *testing.T) {
	m := newTestMatcher(t)
	alpha := &models.Project{ID: "p1", Name: "alpha", DirectoryPatterns: []string{"**/alpha/**"}}
	beta := &models.Project{ID: "p2", Name: "beta", DirectoryPatterns: []string{"**/beta/**"}}
	m.SetCatalog([]*models.Project{alpha, beta}, map[string][]*models.Task{
		"p1": {
			{Name: "docs", FilePatterns: []string{"**/*.md"}},
			{Name: "readme", FilePatterns: []string{"**/README.md"}},
		},
	})

	got, ok := m.Match("/src/alpha/README.md")
	require.True(t, ok)
	assert.Equal(t, "alpha", got.Project)
	assert.Equal(t, "p1", got.ProjectID)
	assert.Equal(t, "docs", got.Task, "first task in declaration order wins")
	assert.Equal(t, ProjectPatternConfidence, got.Confidence)

	got, ok = m.Match("/src/beta/main.go")
	require.True(t, ok)
	assert.Equal(t, "beta", got.Project)
	assert.Empty(t, got.Task)

	_, ok = m.Match("/tmp/elsewhere.txt")
	assert.False(t, ok)
}

func TestMatch_MappingTaskAndCatalogLookup(t *testing.T) {
	m := newTestMatcher(t)
	m.SetCatalog([]*models.Project{{ID: "p1", Name: "alpha"}}, map[string][]*models.Task{
		"p1": {{Name: "tests", FilePatterns: []string{"**/*_test.go"}}},
	})
	m.SetMappings([]models.Mapping{
		{Pattern: "**/infra/**", ProjectName: "alpha", Task: "ops", Priority: 80},
		{Pattern: "**/svc/**", ProjectName: "alpha", Priority: 60},
	})

	got, ok := m.Match("/x/infra/main_test.go")
	require.True(t, ok)
	assert.Equal(t, "ops", got.Task)

	got, ok = m.Match("/x/svc/main_test.go")
	require.True(t, ok)
	assert.Equal(t, "p1", got.ProjectID)
	assert.Equal(t, "tests", got.Task)
}

func TestMatchFromDirectory(t *testing.T) {
	m := newTestMatcher(t)
	m.SetCatalog([]*models.Project{{ID: "p1", Name: "alpha", DirectoryPatterns: []string{"**/alpha/**"}}}, nil)

	got, ok := m.MatchFromDirectory("/src/alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", got.Project)
	assert.Equal(t, DirectoryConfidence, got.Confidence)

	_, ok = m.MatchFromDirectory("/src/beta")
	assert.False(t, ok)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestCache_TTL(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	c, err := newResultCache(10, 5*time.Minute, clock.now)
	require.NoError(t, err)

	c.put("/a.go", Match{Project: "alpha"}, true)

	clock.t = clock.t.Add(4 * time.Minute)
	e, ok := c.get("/a.go")
	require.True(t, ok, "hit within TTL")
	assert.Equal(t, "alpha", e.match.Project)

	clock.t = clock.t.Add(2 * time.Minute)
	_, ok = c.get("/a.go")
	assert.False(t, ok, "miss after TTL")
	assert.Equal(t, 0, c.len())
}

func TestCache_Capacity(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	c, err := newResultCache(2, time.Minute, clock.now)
	require.NoError(t, err)
	c.put("a", Match{}, false)
	c.put("b", Match{}, false)
	c.put("c", Match{}, false)
	assert.Equal(t, 2, c.len())
	_, ok := c.get("a")
	assert.False(t, ok, "least recently used entry evicted")
}

func TestMatch_CacheServesUntilInvalidated(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	m := newTestMatcher(t, WithClock(clock.now))
	m.SetCatalog([]*models.Project{{ID: "p1", Name: "alpha", DirectoryPatterns: []string{"**/alpha/**"}}}, nil)

	_, ok := m.Match("/src/alpha/a.go")
	require.True(t, ok)
	assert.Equal(t, 1, m.cache.len())

	m.SetCatalog(nil, nil)
	assert.Equal(t, 0, m.cache.len())
	_, ok = m.Match("/src/alpha/a.go")
	assert.False(t, ok)
}

// countingCompiler compiles globs whose Match calls are counted.
type countingCompiler struct{ calls *atomic.Int64 }

func (c countingCompiler) Compile(pattern string) (Pattern, error) {
	p, err := GlobCompiler{}.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return countingPattern{Pattern: p, calls: c.calls}, nil
}

type countingPattern struct {
	Pattern
	calls *atomic.Int64
}

func (p countingPattern) Match(path string) bool {
	p.calls.Add(1)
	return p.Pattern.Match(path)
}

func TestMatch_CacheTTL(t *testing.T) {
	var calls atomic.Int64
	clock := &fakeClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	m := newTestMatcher(t, WithClock(clock.now), WithCompiler(countingCompiler{calls: &calls}))
	m.SetMappings([]models.Mapping{{Pattern: "**/alpha/**", ProjectName: "alpha", Priority: 50}})

	first, ok := m.Match("/src/alpha/a.go")
	require.True(t, ok)
	assert.Equal(t, "**/alpha/**", first.Pattern)
	evaluated := calls.Load()
	require.Positive(t, evaluated)

	clock.t = clock.t.Add(4 * time.Minute)
	cached, ok := m.Match("/src/alpha/a.go")
	require.True(t, ok)
	assert.Equal(t, first, cached)
	assert.Equal(t, evaluated, calls.Load(), "served from cache within TTL")

	clock.t = clock.t.Add(2 * time.Minute)
	again, ok := m.Match("/src/alpha/a.go")
	require.True(t, ok)
	assert.Equal(t, first.Pattern, again.Pattern)
	assert.Greater(t, calls.Load(), evaluated, "recomputed after TTL")
}

func TestMatch_ReloadDuringMatchDoesNotCacheStaleResult(t *testing.T) {
	m := newTestMatcher(t)
	m.SetMappings([]models.Mapping{{Pattern: "/src/**", ProjectName: "old", Priority: 50}})

	var (
		once   sync.Once
		done   = make(chan struct{})
		base   = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
		reload = func() {
			m.SetMappings([]models.Mapping{{Pattern: "/src/**", ProjectName: "new", Priority: 50}})
			close(done)
		}
	)
	// The cache reads the clock right before storing a result; start a
	// reload at that moment and give it a chance to finish first.
	m.cache.now = func() time.Time {
		once.Do(func() {
			go reload()
			select {
			case <-done:
			case <-time.After(100 * time.Millisecond):
			}
		})
		return base
	}

	got, ok := m.Match("/src/a.go")
	require.True(t, ok)
	assert.Equal(t, "old", got.Project)

	<-done
	got, ok = m.Match("/src/a.go")
	require.True(t, ok)
	assert.Equal(t, "new", got.Project, "result computed before the reload must not outlive it")
}

func TestLoadMappings(t *testing.T) {
	dir := t.TempDir()

	got, err := LoadMappings(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, got)

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`
mappings:
  - pattern: "**/alpha/**"
    project_name: alpha
    priority: 90
  - pattern: "**/docs/**"
    project_name: alpha
    task: docs
    priority: 10
`), 0o644))
	got, err = LoadMappings(good)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "docs", got[1].Task)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("mappings: [ {pattern: x"), 0o644))
	_, err = LoadMappings(bad)
	require.ErrorIs(t, err, apperr.ErrConfig)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("mappings:\n  - pattern: \"**/x/**\"\n"), 0o644))
	_, err = LoadMappings(invalid)
	require.ErrorIs(t, err, apperr.ErrConfig)
}

func TestSaveAndAddMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "mappings.yaml")
	require.NoError(t, SaveMappings(path, []models.Mapping{{Pattern: "**/a/**", ProjectName: "a", Priority: 1}}))

	all, err := AddMapping(path, models.Mapping{Pattern: "**/b/**", ProjectName: "b", Priority: 2})
	require.NoError(t, err)
	require.Len(t, all, 2)

	loaded, err := LoadMappings(path)
	require.NoError(t, err)
	assert.Equal(t, all, loaded)

	_, err = AddMapping(path, models.Mapping{ProjectName: "c"})
	require.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestWatchMappings_Reloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.yaml")
	require.NoError(t, SaveMappings(path, nil))

	m := newTestMatcher(t)
	require.NoError(t, m.Reload(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.WatchMappings(ctx, path) }()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	_, err := AddMapping(path, models.Mapping{Pattern: "**/gamma/**", ProjectName: "gamma", Priority: 100})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, ok := m.Match("/src/gamma/x.go")
		return ok && got.Project == "gamma"
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
