// Package tracker implements session control on top of the ledger: start,
// pause, resume, stop and status, plus catalog edits that keep the matcher
// current.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/timetrail/internal/apperr"
	"github.com/starford/timetrail/internal/ledger"
	"github.com/starford/timetrail/internal/matcher"
	"github.com/starford/timetrail/internal/models"
)

// Session event kinds.
const (
	EventStarted = "started"
	EventPaused  = "paused"
	EventResumed = "resumed"
	EventStopped = "stopped"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

// Store is the ledger surface used by the service.
type Store interface {
	matcher.CatalogSource
	StartEntry(ctx context.Context, e *models.TimeEntry) error
	GetActiveTimeEntry(ctx context.Context) (*models.TimeEntry, error)
	PauseEntry(ctx context.Context, id string, version int64) (*models.TimeEntry, error)
	ResumeEntry(ctx context.Context, id string, version int64) (*models.TimeEntry, error)
	StopEntry(ctx context.Context, id string, version int64, status models.EntryStatus, end time.Time) (*models.TimeEntry, error)
	GetEntry(ctx context.Context, id string) (*models.TimeEntry, error)
	UpdateEntryNotes(ctx context.Context, id string, notes string) (*models.TimeEntry, error)
	DeleteEntry(ctx context.Context, id string) error
	ListEntries(ctx context.Context, f ledger.EntryFilter) ([]*models.TimeEntry, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
	CreateProject(ctx context.Context, p *models.Project) error
	UpdateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	CreateTask(ctx context.Context, t *models.Task) error
}

// Catalog is the matcher surface used by the service.
type Catalog interface {
	Refresh(ctx context.Context, src matcher.CatalogSource) error
	MatchFromDirectory(dir string) (matcher.Match, bool)
}

// Publisher is notified after every session transition.
type Publisher interface {
	PublishSession(kind string, e *models.TimeEntry)
}

// Service is safe for concurrent use; the ledger serializes writes.
type Service struct {
	store     Store
	catalog   Catalog
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the session event publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the clock used for elapsed time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New returns a Service.
func New(store Store, catalog Catalog, opts ...Option) *Service {
	s := &Service{store: store, catalog: catalog, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartRequest describes a new session. When Project is empty the project
// is inferred from Dir through the matcher.
type StartRequest struct {
	Project string        `json:"project"`
	Task    string        `json:"task,omitempty"`
	Notes   string        `json:"notes,omitempty"`
	Planned time.Duration `json:"planned,omitempty"`
	Dir     string        `json:"dir,omitempty"`
}

// StartSession opens a new entry. It fails with apperr.ErrSessionActive
// while another session is active or paused.
func (s *Service) StartSession(ctx context.Context, req StartRequest) (*models.TimeEntry, error) {
	project := strings.TrimSpace(req.Project)
	task := req.Task
	if project == "" && req.Dir != "" {
		if m, ok := s.catalog.MatchFromDirectory(req.Dir); ok {
			project = m.Project
			if task == "" {
				task = m.Task
			}
			s.logger.Info("tracker: project inferred from directory",
				slog.String("dir", req.Dir),
				slog.String("project", project))
		}
	}
	if project == "" {
		return nil, fmt.Errorf("tracker: project is required: %w", apperr.ErrValidation)
	}
	if task == "" {
		if p, err := s.store.GetProjectByName(ctx, project); err == nil {
			task = p.DefaultTask
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
	}

	e := &models.TimeEntry{Project: project, Task: task, Notes: req.Notes, PlannedDuration: req.Planned}
	if err := s.store.StartEntry(ctx, e); err != nil {
		return nil, err
	}
	s.logger.Info("tracker: session started", slog.String("id", e.ID), slog.String("project", e.Project))
	s.publish(EventStarted, e)
	return e, nil
}

func (s *Service) active(ctx context.Context) (*models.TimeEntry, error) {
	e, err := s.store.GetActiveTimeEntry(ctx)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("tracker: %w", apperr.ErrNoActiveSession)
	}
	return e, nil
}

// PauseSession pauses the active session.
func (s *Service) PauseSession(ctx context.Context) (*models.TimeEntry, error) {
	e, err := s.active(ctx)
	if err != nil {
		return nil, err
	}
	out, err := s.store.PauseEntry(ctx, e.ID, e.Version)
	if err != nil {
		return nil, err
	}
	s.publish(EventPaused, out)
	return out, nil
}

// ResumeSession resumes the paused session.
func (s *Service) ResumeSession(ctx context.Context) (*models.TimeEntry, error) {
	e, err := s.active(ctx)
	if err != nil {
		return nil, err
	}
	out, err := s.store.ResumeEntry(ctx, e.ID, e.Version)
	if err != nil {
		return nil, err
	}
	s.publish(EventResumed, out)
	return out, nil
}

// StopSession ends the current session. It is completed unless a planned
// duration was set and has not yet elapsed, in which case it is stopped.
func (s *Service) StopSession(ctx context.Context) (*models.TimeEntry, error) {
	e, err := s.active(ctx)
	if err != nil {
		return nil, err
	}
	end := s.now()
	status := models.StatusCompleted
	if e.PlannedDuration > 0 && e.Duration(end) < e.PlannedDuration {
		status = models.StatusStopped
	}
	out, err := s.store.StopEntry(ctx, e.ID, e.Version, status, end)
	if err != nil {
		return nil, err
	}
	s.logger.Info("tracker: session stopped",
		slog.String("id", out.ID),
		slog.String("status", string(out.Status)),
		slog.Duration("duration", out.Duration(end)))
	s.publish(EventStopped, out)
	return out, nil
}

// Status describes the current session.
type Status struct {
	Active    bool              `json:"active"`
	Entry     *models.TimeEntry `json:"entry,omitempty"`
	Elapsed   time.Duration     `json:"elapsed,omitempty"`
	Remaining time.Duration     `json:"remaining,omitempty"`
}

// GetStatus returns the current session, if any.
func (s *Service) GetStatus(ctx context.Context) (Status, error) {
	e, err := s.store.GetActiveTimeEntry(ctx)
	if err != nil {
		return Status{}, err
	}
	if e == nil {
		return Status{}, nil
	}
	st := Status{Active: true, Entry: e, Elapsed: e.Duration(s.now())}
	if e.PlannedDuration > st.Elapsed {
		st.Remaining = e.PlannedDuration - st.Elapsed
	}
	return st, nil
}

// CreateProject registers a project and refreshes the matcher catalog.
func (s *Service) CreateProject(ctx context.Context, p *models.Project) error {
	if err := s.store.CreateProject(ctx, p); err != nil {
		return err
	}
	return s.refresh(ctx)
}

// UpdateProject rewrites a project and refreshes the matcher catalog.
func (s *Service) UpdateProject(ctx context.Context, p *models.Project) error {
	if err := s.store.UpdateProject(ctx, p); err != nil {
		return err
	}
	return s.refresh(ctx)
}

// CreateTask adds a task to a project and refreshes the matcher catalog.
func (s *Service) CreateTask(ctx context.Context, t *models.Task) error {
	if _, err := s.store.GetProject(ctx, t.ProjectID); err != nil {
		return err
	}
	if err := s.store.CreateTask(ctx, t); err != nil {
		return err
	}
	return s.refresh(ctx)
}

// ListProjects returns registered projects.
func (s *Service) ListProjects(ctx context.Context) ([]*models.Project, error) {
	return s.store.ListProjects(ctx)
}

// GetProject returns a project by id.
func (s *Service) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return s.store.GetProject(ctx, id)
}

// ListTasks returns the tasks of a project.
func (s *Service) ListTasks(ctx context.Context, projectID string) ([]*models.Task, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListTasks(ctx, projectID)
}

// ListEntries returns recorded sessions matching f, newest first.
func (s *Service) ListEntries(ctx context.Context, f ledger.EntryFilter) ([]*models.TimeEntry, error) {
	return s.store.ListEntries(ctx, f)
}

// UpdateNotes replaces the notes of any session.
func (s *Service) UpdateNotes(ctx context.Context, id, notes string) (*models.TimeEntry, error) {
	e, err := s.store.UpdateEntryNotes(ctx, id, strings.TrimSpace(notes))
	if err != nil {
		return nil, err
	}
	s.publish(EventUpdated, e)
	return e, nil
}

// DeleteEntry removes a finished session. The current session must be
// stopped first.
func (s *Service) DeleteEntry(ctx context.Context, id string) error {
	e, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	if e.Open() {
		return fmt.Errorf("tracker: entry %s is still %s: %w", id, e.Status, apperr.ErrConflict)
	}
	if err := s.store.DeleteEntry(ctx, id); err != nil {
		return err
	}
	s.publish(EventDeleted, e)
	return nil
}

func (s *Service) refresh(ctx context.Context) error {
	if err := s.catalog.Refresh(ctx, s.store); err != nil {
		s.logger.Warn("tracker: matcher refresh failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (s *Service) publish(kind string, e *models.TimeEntry) {
	if s.publisher != nil {
		s.publisher.PublishSession(kind, e)
	}
}
