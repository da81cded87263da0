// Package suggest ranks what the user is probably working on from recent
// file activity.
package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/starford/timetrail/internal/apperr"
	"github.com/starford/timetrail/internal/matcher"
	"github.com/starford/timetrail/internal/models"
)

// Defaults.
const (
	DefaultThreshold = 0.5
	DefaultWindow    = time.Hour
	DefaultLimit     = 5

	lastEntryConfidence    = 0.4
	firstProjectConfidence = 0.3
)

// Store is the read and feedback surface the engine needs from the ledger.
type Store interface {
	ListActivitySince(ctx context.Context, since time.Time) ([]*models.FileActivity, error)
	LastEntry(ctx context.Context) (*models.TimeEntry, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	RecordFeedback(ctx context.Context, f *models.Feedback) error
	FeedbackCounts(ctx context.Context) (map[string]int, error)
}

// DirectoryMatcher classifies a working directory.
type DirectoryMatcher interface {
	MatchFromDirectory(dir string) (matcher.Match, bool)
}

// Engine produces ranked suggestions.
type Engine struct {
	store     Store
	dirs      DirectoryMatcher
	logger    *slog.Logger
	threshold float64
	window    time.Duration
	halfLife  time.Duration
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold sets the minimum normalized score for a suggestion.
func WithThreshold(v float64) Option {
	return func(e *Engine) { e.threshold = v }
}

// WithWindow sets how far back activity is read.
func WithWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.window = d
		}
	}
}

// WithHalfLife sets the decay constant.
func WithHalfLife(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.halfLife = d
		}
	}
}

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New returns an Engine reading from store.
func New(store Store, dirs DirectoryMatcher, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		dirs:      dirs,
		logger:    slog.Default(),
		threshold: DefaultThreshold,
		window:    DefaultWindow,
		halfLife:  DefaultHalfLife,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type projectTally struct {
	score float64
	files map[string]struct{}
	tasks map[string]int
}

// GenerateSuggestions returns up to limit suggestions ordered by confidence.
// Without classified activity in the window it falls back to the last
// tracked entry, then to the first registered project.
func (e *Engine) GenerateSuggestions(ctx context.Context, limit int) ([]models.Suggestion, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	now := e.now()
	activity, err := e.store.ListActivitySince(ctx, now.Add(-e.window))
	if err != nil {
		return nil, fmt.Errorf("suggest: read activity: %w", err)
	}

	tallies := make(map[string]*projectTally)
	for _, a := range activity {
		if a.ProjectSuggestion == "" {
			continue
		}
		t, ok := tallies[a.ProjectSuggestion]
		if !ok {
			t = &projectTally{files: map[string]struct{}{}, tasks: map[string]int{}}
			tallies[a.ProjectSuggestion] = t
		}
		t.score += Decay(now.Sub(a.Timestamp), e.halfLife)
		t.files[a.FilePath] = struct{}{}
		if a.TaskSuggestion != "" {
			t.tasks[a.TaskSuggestion]++
		}
	}
	if len(tallies) == 0 {
		return e.fallback(ctx)
	}

	raw := make(map[string]float64, len(tallies))
	for name, t := range tallies {
		raw[name] = t.score
	}
	normalized := Normalize(raw)

	out := make([]models.Suggestion, 0, len(normalized))
	for name, conf := range normalized {
		if conf < e.threshold {
			continue
		}
		t := tallies[name]
		out = append(out, models.Suggestion{
			Project:    name,
			Task:       majorityTask(t.tasks),
			Confidence: conf,
			Reason:     filesReason(len(t.files)),
		})
	}

	accepted, err := e.store.FeedbackCounts(ctx)
	if err != nil {
		e.logger.Warn("suggest: feedback counts failed", slog.String("error", err.Error()))
		accepted = nil
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if ai, aj := accepted[out[i].Project], accepted[out[j].Project]; ai != aj {
			return ai > aj
		}
		return out[i].Project < out[j].Project
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (e *Engine) fallback(ctx context.Context) ([]models.Suggestion, error) {
	last, err := e.store.LastEntry(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest: last entry: %w", err)
	}
	if last != nil {
		return []models.Suggestion{{
			Project:    last.Project,
			Task:       last.Task,
			Confidence: lastEntryConfidence,
			Reason:     "Most recent time entry",
		}}, nil
	}
	projects, err := e.store.ListProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest: list projects: %w", err)
	}
	if len(projects) == 0 {
		return []models.Suggestion{}, nil
	}
	return []models.Suggestion{{
		Project:    projects[0].Name,
		Task:       projects[0].DefaultTask,
		Confidence: firstProjectConfidence,
		Reason:     "no recent activity",
	}}, nil
}

// SuggestForCurrentDirectory classifies dir (the working directory when
// empty) without consulting activity history.
func (e *Engine) SuggestForCurrentDirectory(dir string) (models.Suggestion, bool) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return models.Suggestion{}, false
		}
		dir = cwd
	}
	m, ok := e.dirs.MatchFromDirectory(dir)
	if !ok {
		return models.Suggestion{}, false
	}
	return models.Suggestion{
		Project:    m.Project,
		Task:       m.Task,
		Confidence: m.Confidence,
		Reason:     fmt.Sprintf("Current directory matches %s", m.Pattern),
	}, true
}

// LearnFromUserFeedback records whether s was accepted. Accepted feedback
// only orders suggestions of equal confidence.
func (e *Engine) LearnFromUserFeedback(ctx context.Context, s models.Suggestion, accepted bool) error {
	if s.Project == "" {
		return fmt.Errorf("suggest: feedback without project: %w", apperr.ErrValidation)
	}
	err := e.store.RecordFeedback(ctx, &models.Feedback{
		Project:    s.Project,
		Task:       s.Task,
		Confidence: s.Confidence,
		Accepted:   accepted,
	})
	if err != nil {
		return fmt.Errorf("suggest: record feedback: %w", err)
	}
	e.logger.Debug("suggest: feedback recorded", slog.String("project", s.Project), slog.Bool("accepted", accepted))
	return nil
}

func majorityTask(counts map[string]int) string {
	var (
		best  string
		bestN int
	)
	for task, n := range counts {
		if n > bestN || (n == bestN && task < best) {
			best, bestN = task, n
		}
	}
	return best
}

func filesReason(n int) string {
	if n == 1 {
		return "Working on 1 file in this project"
	}
	return fmt.Sprintf("Working on %d files in this project", n)
}
