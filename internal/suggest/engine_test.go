package suggest_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/timetrail/internal/apperr"
	"github.com/starford/timetrail/internal/ledger"
	"github.com/starford/timetrail/internal/matcher"
	"github.com/starford/timetrail/internal/models"
	"github.com/starford/timetrail/internal/suggest"
	"github.com/starford/timetrail/internal/testutil"
)

var t0 = time.Date(2024, 5, 6, 15, 0, 0, 0, time.Local)

type engineEnv struct {
	db     *ledger.DB
	clock  *testutil.Clock
	m      *matcher.Matcher
	engine *suggest.Engine
}

func newEngineEnv(t *testing.T, opts ...suggest.Option) *engineEnv {
	t.Helper()
	clock := testutil.NewClock(t0)
	db := testutil.TestDB(t, ledger.WithClock(clock.Now))
	m, err := matcher.New()
	require.NoError(t, err)
	opts = append([]suggest.Option{suggest.WithClock(clock.Now)}, opts...)
	return &engineEnv{db: db, clock: clock, m: m, engine: suggest.New(db, m, opts...)}
}

func (env *engineEnv) record(t *testing.T, ago time.Duration, path, project, task string) {
	t.Helper()
	require.NoError(t, env.db.AppendActivity(context.Background(), &models.FileActivity{
		Timestamp:         t0.Add(-ago),
		FilePath:          path,
		EventType:         models.EventChange,
		ProjectSuggestion: project,
		TaskSuggestion:    task,
	}))
}

func TestGenerateSuggestions_DecayOrdersByRecency(t *testing.T) {
	env := newEngineEnv(t, suggest.WithThreshold(0))
	env.record(t, 30*time.Minute, "/a/x.go", "A", "")
	env.record(t, 0, "/b/y.go", "B", "")

	got, err := env.engine.GenerateSuggestions(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].Project)
	assert.Equal(t, 1.0, got[0].Confidence)
	assert.Equal(t, "A", got[1].Project)
	assert.Less(t, got[1].Confidence, got[0].Confidence)
}

func TestGenerateSuggestions_SingleProjectIsCertain(t *testing.T) {
	env := newEngineEnv(t)
	env.record(t, 50*time.Minute, "/a/x.go", "A", "api")
	env.record(t, 40*time.Minute, "/a/y.go", "A", "api")
	env.record(t, 20*time.Minute, "/a/y.go", "A", "docs")

	got, err := env.engine.GenerateSuggestions(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1.0, got[0].Confidence)
	assert.Equal(t, "api", got[0].Task, "majority vote")
	assert.Equal(t, "Working on 2 files in this project", got[0].Reason)
}

func TestGenerateSuggestions_ThresholdAndLimit(t *testing.T) {
	env := newEngineEnv(t)
	env.record(t, 0, "/a/1.go", "A", "")
	env.record(t, 0, "/a/2.go", "A", "")
	env.record(t, 0, "/a/3.go", "A", "")
	env.record(t, 0, "/b/1.go", "B", "")
	env.record(t, 0, "/c/1.go", "C", "")
	env.record(t, 0, "/c/2.go", "C", "")

	got, err := env.engine.GenerateSuggestions(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 2, "B normalizes to 1/3 and is below 0.5")
	assert.Equal(t, "A", got[0].Project)
	assert.Equal(t, "C", got[1].Project)

	got, err = env.engine.GenerateSuggestions(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Working on 3 files in this project", got[0].Reason)
}

func TestGenerateSuggestions_SingularReason(t *testing.T) {
	env := newEngineEnv(t)
	env.record(t, time.Minute, "/a/x.go", "A", "")
	env.record(t, 0, "/a/x.go", "A", "")

	got, err := env.engine.GenerateSuggestions(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Working on 1 file in this project", got[0].Reason)
}

func TestGenerateSuggestions_IgnoresActivityOutsideWindow(t *testing.T) {
	env := newEngineEnv(t)
	env.record(t, 2*time.Hour, "/a/x.go", "A", "")
	testutil.MustProject(t, env.db, "first")

	got, err := env.engine.GenerateSuggestions(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].Project)
	assert.Equal(t, 0.3, got[0].Confidence)
	assert.Equal(t, "no recent activity", got[0].Reason)
}

func TestGenerateSuggestions_FallbackToLastEntry(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()
	testutil.MustProject(t, env.db, "first")
	require.NoError(t, env.db.StartEntry(ctx, &models.TimeEntry{Project: "recent", Task: "review", StartTime: t0.Add(-3 * time.Hour)}))

	got, err := env.engine.GenerateSuggestions(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "recent", got[0].Project)
	assert.Equal(t, "review", got[0].Task)
	assert.Equal(t, 0.4, got[0].Confidence)
}

func TestGenerateSuggestions_NothingKnown(t *testing.T) {
	env := newEngineEnv(t)
	got, err := env.engine.GenerateSuggestions(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFeedbackBreaksTies(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()
	env.record(t, 0, "/a/x.go", "alpha", "")
	env.record(t, 0, "/z/x.go", "zulu", "")

	got, err := env.engine.GenerateSuggestions(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alpha", got[0].Project)

	require.NoError(t, env.engine.LearnFromUserFeedback(ctx, got[1], true))
	got, err = env.engine.GenerateSuggestions(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "zulu", got[0].Project)
	assert.Equal(t, 1.0, got[1].Confidence, "feedback never changes confidence")

	err = env.engine.LearnFromUserFeedback(ctx, models.Suggestion{}, false)
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSuggestForCurrentDirectory(t *testing.T) {
	env := newEngineEnv(t)
	env.m.SetCatalog([]*models.Project{{ID: "p1", Name: "alpha", DirectoryPatterns: []string{"**/alpha/**"}}}, nil)

	got, ok := env.engine.SuggestForCurrentDirectory("/home/dev/alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", got.Project)
	assert.Equal(t, matcher.DirectoryConfidence, got.Confidence)

	_, ok = env.engine.SuggestForCurrentDirectory("/home/dev/other")
	assert.False(t, ok)
}
