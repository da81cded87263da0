package report_test

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/timetrail/internal/apperr"
	"github.com/starford/timetrail/internal/ledger"
	"github.com/starford/timetrail/internal/models"
	"github.com/starford/timetrail/internal/report"
	"github.com/starford/timetrail/internal/testutil"
)

var day0 = time.Date(2024, 6, 10, 0, 0, 0, 0, time.Local)

type fixture struct {
	db    *ledger.DB
	clock *testutil.Clock
	gen   *report.Generator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.NewClock(day0.Add(72 * time.Hour))
	db := testutil.TestDB(t, ledger.WithClock(clock.Now))
	return &fixture{db: db, clock: clock, gen: report.New(db, report.WithClock(clock.Now))}
}

func (f *fixture) entry(t *testing.T, project, task string, start, end time.Time, commits ...string) {
	t.Helper()
	ctx := context.Background()
	e := &models.TimeEntry{Project: project, Task: task, StartTime: start}
	require.NoError(t, f.db.StartEntry(ctx, e))
	_, err := f.db.StopEntry(ctx, e.ID, 0, models.StatusCompleted, end)
	require.NoError(t, err)
	for _, h := range commits {
		_, err := f.db.InsertCommit(ctx, &models.GitCommit{Hash: h, Timestamp: start})
		require.NoError(t, err)
		_, err = f.db.LinkCommit(ctx, h, e.ID)
		require.NoError(t, err)
	}
}

func TestBuild_OverlapAcrossMidnight(t *testing.T) {
	f := newFixture(t)
	f.entry(t, "night", "", day0.Add(22*time.Hour), day0.Add(26*time.Hour))
	f.entry(t, "early", "", day0.Add(10*time.Hour), day0.Add(11*time.Hour))

	r, err := f.gen.Build(context.Background(), report.Options{
		From: day0.Add(24 * time.Hour),
		To:   day0.Add(24*time.Hour + 23*time.Hour + 59*time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, r.Rows, 1)
	assert.Equal(t, "night", r.Rows[0].Project)
	assert.Equal(t, 4*time.Hour, r.Rows[0].Duration)
}

func TestBuild_UngroupedSortedByStartDesc(t *testing.T) {
	f := newFixture(t)
	f.entry(t, "a", "", day0.Add(9*time.Hour), day0.Add(10*time.Hour), "c1")
	f.entry(t, "b", "", day0.Add(11*time.Hour), day0.Add(11*time.Hour+30*time.Minute))

	r, err := f.gen.Build(context.Background(), report.Options{})
	require.NoError(t, err)
	require.Len(t, r.Rows, 2)
	assert.Equal(t, "b", r.Rows[0].Project)
	assert.Equal(t, "a", r.Rows[1].Project)
	assert.Equal(t, 90*time.Minute, r.Summary.TotalDuration)
	assert.Equal(t, 1, r.Summary.TotalCommits)
	assert.Equal(t, 2, r.Summary.Count)
}

func TestBuild_OpenEntryMeasuredAgainstNow(t *testing.T) {
	f := newFixture(t)
	start := f.clock.Now().Add(-45 * time.Minute)
	require.NoError(t, f.db.StartEntry(context.Background(), &models.TimeEntry{Project: "live", StartTime: start}))

	r, err := f.gen.Build(context.Background(), report.Options{})
	require.NoError(t, err)
	require.Len(t, r.Rows, 1)
	assert.Equal(t, 45*time.Minute, r.Rows[0].Duration)
	assert.Nil(t, r.Rows[0].End)
}

func TestBuild_Grouping(t *testing.T) {
	f := newFixture(t)
	f.entry(t, "a", "api", day0.Add(9*time.Hour), day0.Add(10*time.Hour), "c1", "c2")
	f.entry(t, "b", "api", day0.Add(10*time.Hour), day0.Add(13*time.Hour))
	f.entry(t, "a", "", day0.Add(33*time.Hour), day0.Add(34*time.Hour), "c3")

	ctx := context.Background()
	byProject, err := f.gen.Build(ctx, report.Options{GroupBy: report.GroupProject})
	require.NoError(t, err)
	require.Len(t, byProject.Rows, 2)
	assert.Equal(t, "b", byProject.Rows[0].Key)
	assert.Equal(t, 3*time.Hour, byProject.Rows[0].Duration)
	assert.Equal(t, "a", byProject.Rows[1].Key)
	assert.Equal(t, 2*time.Hour, byProject.Rows[1].Duration)
	assert.Equal(t, 3, byProject.Rows[1].Commits)
	assert.Equal(t, 2, byProject.Rows[1].Entries)
	assert.Equal(t, 2, byProject.Summary.Count)

	byTask, err := f.gen.Build(ctx, report.Options{GroupBy: report.GroupTask})
	require.NoError(t, err)
	require.Len(t, byTask.Rows, 2)
	assert.Equal(t, "api", byTask.Rows[0].Key)
	assert.Equal(t, "(no task)", byTask.Rows[1].Key)

	byDate, err := f.gen.Build(ctx, report.Options{GroupBy: report.GroupDate})
	require.NoError(t, err)
	require.Len(t, byDate.Rows, 2)
	assert.Equal(t, day0.Format(time.DateOnly), byDate.Rows[0].Key)
	assert.Equal(t, 4*time.Hour, byDate.Rows[0].Duration)
}

func TestBuild_Filters(t *testing.T) {
	f := newFixture(t)
	f.entry(t, "a", "api", day0.Add(9*time.Hour), day0.Add(10*time.Hour))
	f.entry(t, "a", "docs", day0.Add(11*time.Hour), day0.Add(12*time.Hour))
	f.entry(t, "b", "api", day0.Add(13*time.Hour), day0.Add(14*time.Hour))

	r, err := f.gen.Build(context.Background(), report.Options{Project: "a", Task: "api"})
	require.NoError(t, err)
	require.Len(t, r.Rows, 1)
	assert.Equal(t, "api", r.Rows[0].Task)
}

func TestOptions_Validate(t *testing.T) {
	f := newFixture(t)
	_, err := f.gen.Generate(context.Background(), report.Options{Format: "xml"})
	require.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.gen.Generate(context.Background(), report.Options{GroupBy: "week"})
	require.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.gen.Generate(context.Background(), report.Options{From: day0.Add(time.Hour), To: day0})
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestRender_Formats(t *testing.T) {
	f := newFixture(t)
	f.entry(t, "demo", "api", day0.Add(9*time.Hour), day0.Add(9*time.Hour+time.Minute), "c1")
	ctx := context.Background()

	table, err := f.gen.Generate(ctx, report.Options{Format: report.FormatTable})
	require.NoError(t, err)
	assert.Contains(t, table, "demo")
	assert.Contains(t, table, "1m0s")
	assert.Contains(t, table, "Total: 1m0s across 1 entry, 1 linked commit")

	raw, err := f.gen.Generate(ctx, report.Options{Format: report.FormatJSON})
	require.NoError(t, err)
	var decoded struct {
		Rows []struct {
			Project         string  `json:"project"`
			DurationSeconds float64 `json:"duration_seconds"`
			Commits         int     `json:"commits"`
		} `json:"rows"`
		Summary struct {
			TotalDurationSeconds float64 `json:"total_duration_seconds"`
			TotalCommits         int     `json:"total_commits"`
			Count                int     `json:"count"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	require.Len(t, decoded.Rows, 1)
	assert.Equal(t, "demo", decoded.Rows[0].Project)
	assert.Equal(t, 60.0, decoded.Rows[0].DurationSeconds)
	assert.Equal(t, 1, decoded.Summary.TotalCommits)
	assert.Equal(t, 1, decoded.Summary.Count)

	flat, err := f.gen.Generate(ctx, report.Options{Format: report.FormatCSV, GroupBy: report.GroupProject})
	require.NoError(t, err)
	records, err := csv.NewReader(strings.NewReader(flat)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"project", "entries", "duration_seconds", "commits"}, records[0])
	assert.Equal(t, []string{"demo", "1", "60", "1"}, records[1])
	assert.Equal(t, []string{"TOTAL", "1", "60", "1"}, records[2])

	prose, err := f.gen.Generate(ctx, report.Options{Format: report.FormatMarkdown})
	require.NoError(t, err)
	assert.Contains(t, prose, "# Time report")
	assert.Contains(t, prose, "**demo** / api: 1m0s")
	assert.Contains(t, prose, "**Total: 1m0s across 1 entry, 1 linked commit**")
}

func TestRender_EmptyReport(t *testing.T) {
	f := newFixture(t)
	out, err := f.gen.Generate(context.Background(), report.Options{Format: report.FormatMarkdown})
	require.NoError(t, err)
	assert.Contains(t, out, "No time was tracked")
	assert.Contains(t, out, "Total: 0s across 0 entries, 0 linked commits")
}

func TestParseBound(t *testing.T) {
	from, err := report.ParseBound("2024-06-10", false)
	require.NoError(t, err)
	assert.True(t, from.Equal(day0))

	to, err := report.ParseBound("2024-06-10", true)
	require.NoError(t, err)
	assert.True(t, to.Equal(day0.AddDate(0, 0, 1)))

	exact, err := report.ParseBound("2024-06-10T09:30:00Z", true)
	require.NoError(t, err)
	assert.True(t, exact.Equal(time.Date(2024, 6, 10, 9, 30, 0, 0, time.UTC)))

	zero, err := report.ParseBound("", true)
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	_, err = report.ParseBound("last tuesday", false)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
