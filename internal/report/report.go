// Package report aggregates time entries over a window and renders them as
// a table, JSON, CSV or Markdown.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/starford/timetrail/internal/apperr"
	"github.com/starford/timetrail/internal/ledger"
	"github.com/starford/timetrail/internal/models"
)

// Format is an output shape.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

// GroupBy is an aggregation key.
type GroupBy string

const (
	GroupNone    GroupBy = ""
	GroupProject GroupBy = "project"
	GroupTask    GroupBy = "task"
	GroupDate    GroupBy = "date"
)

const noTask = "(no task)"

// Options selects and shapes a report. Zero From/To leave the window open
// on that side.
type Options struct {
	Project string
	Task    string
	From    time.Time
	To      time.Time
	Format  Format
	GroupBy GroupBy
	// Color enables ANSI styling of the table format.
	Color bool
}

// Validate checks format and grouping.
func (o Options) Validate() error {
	switch o.Format {
	case "", FormatTable, FormatJSON, FormatCSV, FormatMarkdown:
	default:
		return fmt.Errorf("report: unknown format %q: %w", o.Format, apperr.ErrValidation)
	}
	switch o.GroupBy {
	case GroupNone, GroupProject, GroupTask, GroupDate:
	default:
		return fmt.Errorf("report: unknown grouping %q: %w", o.GroupBy, apperr.ErrValidation)
	}
	if !o.From.IsZero() && !o.To.IsZero() && o.To.Before(o.From) {
		return fmt.Errorf("report: window ends before it starts: %w", apperr.ErrValidation)
	}
	return nil
}

// Row is one entry, or one group when the report is grouped.
type Row struct {
	Key      string             `json:"key,omitempty"`
	EntryID  string             `json:"entry_id,omitempty"`
	Project  string             `json:"project,omitempty"`
	Task     string             `json:"task,omitempty"`
	Start    *time.Time         `json:"start,omitempty"`
	End      *time.Time         `json:"end,omitempty"`
	Status   models.EntryStatus `json:"status,omitempty"`
	Duration time.Duration      `json:"-"`
	Entries  int                `json:"entries"`
	Commits  int                `json:"commits"`
}

// Summary is the trailer of every report.
type Summary struct {
	TotalDuration time.Duration `json:"-"`
	TotalCommits  int           `json:"total_commits"`
	Count         int           `json:"count"`
	// Unit is "entry" or "group".
	Unit string `json:"unit"`
}

// Report is an aggregated, render-ready view of entries.
type Report struct {
	From        time.Time `json:"from,omitzero"`
	To          time.Time `json:"to,omitzero"`
	GroupBy     GroupBy   `json:"group_by,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	Rows        []Row     `json:"rows"`
	Summary     Summary   `json:"summary"`
}

// Source lists entries.
type Source interface {
	ListEntries(ctx context.Context, f ledger.EntryFilter) ([]*models.TimeEntry, error)
}

// Generator builds reports from a Source.
type Generator struct {
	src Source
	now func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock sets the time open entries are measured against.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// New returns a Generator.
func New(src Source, opts ...Option) *Generator {
	g := &Generator{src: src, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate builds and renders a report.
func (g *Generator) Generate(ctx context.Context, opts Options) (string, error) {
	r, err := g.Build(ctx, opts)
	if err != nil {
		return "", err
	}
	return Render(r, opts.Format, opts.Color)
}

// Build selects the entries overlapping the window and aggregates them.
func (g *Generator) Build(ctx context.Context, opts Options) (*Report, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	filter := ledger.EntryFilter{Project: opts.Project, Task: opts.Task}
	if !opts.From.IsZero() {
		filter.From = &opts.From
	}
	if !opts.To.IsZero() {
		filter.To = &opts.To
	}
	entries, err := g.src.ListEntries(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("report: list entries: %w", err)
	}

	now := g.now()
	r := &Report{From: opts.From, To: opts.To, GroupBy: opts.GroupBy, GeneratedAt: now}
	if opts.GroupBy == GroupNone {
		r.Rows = entryRows(entries, now)
		r.Summary.Unit = "entry"
	} else {
		r.Rows = groupRows(entries, opts.GroupBy, now)
		r.Summary.Unit = "group"
	}
	for _, row := range r.Rows {
		r.Summary.TotalDuration += row.Duration
		r.Summary.TotalCommits += row.Commits
	}
	r.Summary.Count = len(r.Rows)
	return r, nil
}

func entryRows(entries []*models.TimeEntry, now time.Time) []Row {
	rows := make([]Row, 0, len(entries))
	for _, e := range entries {
		start := e.StartTime
		rows = append(rows, Row{
			EntryID:  e.ID,
			Project:  e.Project,
			Task:     e.Task,
			Start:    &start,
			End:      e.EndTime,
			Status:   e.Status,
			Duration: e.Duration(now),
			Entries:  1,
			Commits:  len(e.LinkedCommits),
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Start.After(*rows[j].Start) })
	return rows
}

func groupRows(entries []*models.TimeEntry, by GroupBy, now time.Time) []Row {
	index := map[string]int{}
	var rows []Row
	for _, e := range entries {
		key := groupKey(e, by)
		i, ok := index[key]
		if !ok {
			i = len(rows)
			index[key] = i
			rows = append(rows, Row{Key: key})
			if by == GroupProject {
				rows[i].Project = e.Project
			}
		}
		rows[i].Duration += e.Duration(now)
		rows[i].Commits += len(e.LinkedCommits)
		rows[i].Entries++
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Duration != rows[j].Duration {
			return rows[i].Duration > rows[j].Duration
		}
		return rows[i].Key < rows[j].Key
	})
	return rows
}

func groupKey(e *models.TimeEntry, by GroupBy) string {
	switch by {
	case GroupProject:
		return e.Project
	case GroupTask:
		if e.Task == "" {
			return noTask
		}
		return e.Task
	case GroupDate:
		return e.StartTime.Format(time.DateOnly)
	}
	return ""
}

// ParseBound parses a report window bound given as RFC 3339 or as a local
// date (2006-01-02). A date used as the upper bound covers the whole day.
// An empty string yields the zero time.
func ParseBound(s string, upper bool) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseInLocation(time.DateOnly, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("report: bad time %q: %w", s, apperr.ErrValidation)
	}
	if upper {
		d = d.AddDate(0, 0, 1)
	}
	return d, nil
}
