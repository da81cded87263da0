package ledger

import (
	"context"
	"time"

	"github.com/starford/timetrail/internal/models"
)

// Store defines the ledger operations. Consumers should depend on this
// interface (or a narrower one) rather than the concrete *DB type.
type Store interface {
	StartEntry(ctx context.Context, e *models.TimeEntry) error
	GetEntry(ctx context.Context, id string) (*models.TimeEntry, error)
	GetActiveTimeEntry(ctx context.Context) (*models.TimeEntry, error)
	LastEntry(ctx context.Context) (*models.TimeEntry, error)
	PauseEntry(ctx context.Context, id string, version int64) (*models.TimeEntry, error)
	ResumeEntry(ctx context.Context, id string, version int64) (*models.TimeEntry, error)
	StopEntry(ctx context.Context, id string, version int64, status models.EntryStatus, end time.Time) (*models.TimeEntry, error)
	UpdateEntryNotes(ctx context.Context, id, notes string) (*models.TimeEntry, error)
	DeleteEntry(ctx context.Context, id string) error
	ListEntries(ctx context.Context, f EntryFilter) ([]*models.TimeEntry, error)
	GetTimeRangeEntries(ctx context.Context, start, end time.Time) ([]*models.TimeEntry, error)
	FindCompletedEntriesAt(ctx context.Context, t time.Time) ([]*models.TimeEntry, error)

	CreateProject(ctx context.Context, p *models.Project) error
	UpdateProject(ctx context.Context, p *models.Project) error
	DeleteProject(ctx context.Context, id string) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	CreateTask(ctx context.Context, t *models.Task) error
	ListTasks(ctx context.Context, projectID string) ([]*models.Task, error)
	DeleteTask(ctx context.Context, id string) error

	AppendActivity(ctx context.Context, a *models.FileActivity) error
	ListActivitySince(ctx context.Context, since time.Time) ([]*models.FileActivity, error)
	ListActivity(ctx context.Context, limit int) ([]*models.FileActivity, error)

	InsertCommit(ctx context.Context, c *models.GitCommit) (bool, error)
	GetCommit(ctx context.Context, hash string) (*models.GitCommit, error)
	ListCommits(ctx context.Context, repo string) ([]*models.GitCommit, error)
	LinkCommit(ctx context.Context, hash, entryID string) (bool, error)

	RecordFeedback(ctx context.Context, f *models.Feedback) error
	FeedbackCounts(ctx context.Context) (map[string]int, error)

	Ping(ctx context.Context) error
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
