package api

import (
	"context"

	"github.com/starford/timetrail/internal/ledger"
	"github.com/starford/timetrail/internal/models"
	"github.com/starford/timetrail/internal/reconcile"
	"github.com/starford/timetrail/internal/report"
	"github.com/starford/timetrail/internal/tracker"
)

// Sessions controls the tracked session and the project catalog.
type Sessions interface {
	StartSession(ctx context.Context, req tracker.StartRequest) (*models.TimeEntry, error)
	PauseSession(ctx context.Context) (*models.TimeEntry, error)
	ResumeSession(ctx context.Context) (*models.TimeEntry, error)
	StopSession(ctx context.Context) (*models.TimeEntry, error)
	GetStatus(ctx context.Context) (tracker.Status, error)
	CreateProject(ctx context.Context, p *models.Project) error
	CreateTask(ctx context.Context, t *models.Task) error
	ListProjects(ctx context.Context) ([]*models.Project, error)
	ListTasks(ctx context.Context, projectID string) ([]*models.Task, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
	UpdateProject(ctx context.Context, p *models.Project) error
	ListEntries(ctx context.Context, f ledger.EntryFilter) ([]*models.TimeEntry, error)
	UpdateNotes(ctx context.Context, id, notes string) (*models.TimeEntry, error)
	DeleteEntry(ctx context.Context, id string) error
}

// Suggester ranks projects from recent activity.
type Suggester interface {
	GenerateSuggestions(ctx context.Context, limit int) ([]models.Suggestion, error)
	SuggestForCurrentDirectory(dir string) (models.Suggestion, bool)
	LearnFromUserFeedback(ctx context.Context, s models.Suggestion, accepted bool) error
}

// CommitSyncer imports and links commits.
type CommitSyncer interface {
	SyncCommits(ctx context.Context) (reconcile.Result, error)
}

// Reporter renders time reports.
type Reporter interface {
	Generate(ctx context.Context, opts report.Options) (string, error)
}

// ActivityLog reads recorded file activity.
type ActivityLog interface {
	ListActivity(ctx context.Context, limit int) ([]*models.FileActivity, error)
}

// Services bundles the collaborators behind the API.
type Services struct {
	Sessions    Sessions
	Suggestions Suggester
	Commits     CommitSyncer
	Reports     Reporter
	Activity    ActivityLog
}
