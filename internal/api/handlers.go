package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/timetrail/internal/apperr"
	"github.com/starford/timetrail/internal/ledger"
	"github.com/starford/timetrail/internal/models"
	"github.com/starford/timetrail/internal/report"
	"github.com/starford/timetrail/internal/tracker"
)

// Handler holds API route handlers.
type Handler struct {
	svc Services
}

// NewHandler creates a new Handler.
func NewHandler(svc Services) *Handler {
	return &Handler{svc: svc}
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

// GetStatus handles GET /status.
//
//	@Summary		Current session
//	@Tags			sessions
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Sessions.GetStatus(r.Context())
	if err != nil {
		writeError(w, "get status", err)
		return
	}
	writeJSON(w, http.StatusOK, newStatusResponse(st))
}

// StartSession handles POST /sessions.
//
//	@Summary		Start a session
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			body	body		StartSessionRequest	true	"Session to start"
//	@Success		201		{object}	models.TimeEntry
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions [post]
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var planned time.Duration
	if req.Planned != "" {
		d, err := time.ParseDuration(req.Planned)
		if err != nil || d < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("planned must be a positive duration such as 25m"))
			return
		}
		planned = d
	}
	entry, err := h.svc.Sessions.StartSession(r.Context(), tracker.StartRequest{
		Project: req.Project,
		Task:    req.Task,
		Notes:   req.Notes,
		Planned: planned,
		Dir:     req.Dir,
	})
	if err != nil {
		writeError(w, "start session", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// PauseSession handles POST /sessions/pause.
//
//	@Summary		Pause the active session
//	@Tags			sessions
//	@Produce		json
//	@Success		200	{object}	models.TimeEntry
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/pause [post]
func (h *Handler) PauseSession(w http.ResponseWriter, r *http.Request) {
	entry, err := h.svc.Sessions.PauseSession(r.Context())
	if err != nil {
		writeError(w, "pause session", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ResumeSession handles POST /sessions/resume.
//
//	@Summary		Resume the paused session
//	@Tags			sessions
//	@Produce		json
//	@Success		200	{object}	models.TimeEntry
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/resume [post]
func (h *Handler) ResumeSession(w http.ResponseWriter, r *http.Request) {
	entry, err := h.svc.Sessions.ResumeSession(r.Context())
	if err != nil {
		writeError(w, "resume session", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// StopSession handles POST /sessions/stop.
//
//	@Summary		Stop the current session
//	@Description	The entry ends completed, or stopped when a planned duration has not elapsed.
//	@Tags			sessions
//	@Produce		json
//	@Success		200	{object}	models.TimeEntry
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/stop [post]
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	entry, err := h.svc.Sessions.StopSession(r.Context())
	if err != nil {
		writeError(w, "stop session", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ListEntries handles GET /sessions.
//
//	@Summary		List recorded sessions, newest first
//	@Tags			sessions
//	@Produce		json
//	@Param			project	query		string	false	"Project filter"
//	@Param			task	query		string	false	"Task filter"
//	@Param			status	query		string	false	"Status filter"	Enums(active, paused, completed, stopped)
//	@Param			limit	query		int		false	"Max entries"
//	@Success		200		{object}	EntryListResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions [get]
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := h.svc.Sessions.ListEntries(r.Context(), ledger.EntryFilter{
		Project: q.Get("project"),
		Task:    q.Get("task"),
		Status:  models.EntryStatus(q.Get("status")),
		Limit:   queryInt(r, "limit"),
	})
	if err != nil {
		writeError(w, "list sessions", err)
		return
	}
	if entries == nil {
		entries = []*models.TimeEntry{}
	}
	writeJSON(w, http.StatusOK, EntryListResponse{Entries: entries})
}

// UpdateEntry handles PATCH /sessions/{id}.
//
//	@Summary		Edit the notes of a session
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Entry ID"
//	@Param			body	body		UpdateEntryRequest	true	"New notes"
//	@Success		200		{object}	models.TimeEntry
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id} [patch]
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	var req UpdateEntryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Notes == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("notes is required"))
		return
	}
	entry, err := h.svc.Sessions.UpdateNotes(r.Context(), chi.URLParam(r, "id"), *req.Notes)
	if err != nil {
		writeError(w, "update session", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// DeleteEntry handles DELETE /sessions/{id}.
//
//	@Summary		Delete a finished session
//	@Tags			sessions
//	@Param			id	path	string	true	"Entry ID"
//	@Success		204
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id} [delete]
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Sessions.DeleteEntry(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListProjects handles GET /projects.
//
//	@Summary		List registered projects
//	@Tags			catalog
//	@Produce		json
//	@Success		200	{object}	ProjectListResponse
//	@Security		BearerAuth
//	@Router			/projects [get]
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.svc.Sessions.ListProjects(r.Context())
	if err != nil {
		writeError(w, "list projects", err)
		return
	}
	if projects == nil {
		projects = []*models.Project{}
	}
	writeJSON(w, http.StatusOK, ProjectListResponse{Projects: projects})
}

// CreateProject handles POST /projects.
//
//	@Summary		Register a project
//	@Tags			catalog
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateProjectRequest	true	"Project to register"
//	@Success		201		{object}	models.Project
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects [post]
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p := &models.Project{
		Name:              req.Name,
		Description:       req.Description,
		DirectoryPatterns: req.DirectoryPatterns,
		Repositories:      req.Repositories,
		DefaultTask:       req.DefaultTask,
	}
	if err := h.svc.Sessions.CreateProject(r.Context(), p); err != nil {
		writeError(w, "create project", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// UpdateProject handles PATCH /projects/{id}.
//
//	@Summary		Edit a project
//	@Tags			catalog
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Project ID"
//	@Param			body	body		UpdateProjectRequest	true	"Fields to change"
//	@Success		200		{object}	models.Project
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{id} [patch]
func (h *Handler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	var req UpdateProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.svc.Sessions.GetProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "update project", err)
		return
	}
	req.apply(p)
	if err := h.svc.Sessions.UpdateProject(r.Context(), p); err != nil {
		writeError(w, "update project", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListTasks handles GET /projects/{id}/tasks.
//
//	@Summary		List a project's tasks
//	@Tags			catalog
//	@Produce		json
//	@Param			id	path		string	true	"Project ID"
//	@Success		200	{object}	TaskListResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{id}/tasks [get]
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.svc.Sessions.ListTasks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "list tasks", err)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeJSON(w, http.StatusOK, TaskListResponse{Tasks: tasks})
}

// CreateTask handles POST /projects/{id}/tasks.
//
//	@Summary		Add a task to a project
//	@Tags			catalog
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Project ID"
//	@Param			body	body		CreateTaskRequest	true	"Task to add"
//	@Success		201		{object}	models.Task
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/projects/{id}/tasks [post]
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t := &models.Task{
		ProjectID:    chi.URLParam(r, "id"),
		Name:         req.Name,
		FilePatterns: req.FilePatterns,
	}
	if err := h.svc.Sessions.CreateTask(r.Context(), t); err != nil {
		writeError(w, "create task", err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// ListActivity handles GET /activity.
//
//	@Summary		Recent file activity, newest first
//	@Tags			activity
//	@Produce		json
//	@Param			limit	query		int	false	"Max records"
//	@Success		200		{object}	ActivityListResponse
//	@Security		BearerAuth
//	@Router			/activity [get]
func (h *Handler) ListActivity(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Activity.ListActivity(r.Context(), queryInt(r, "limit"))
	if err != nil {
		writeError(w, "list activity", err)
		return
	}
	if items == nil {
		items = []*models.FileActivity{}
	}
	writeJSON(w, http.StatusOK, ActivityListResponse{Activity: items})
}

// Suggestions handles GET /suggestions.
//
//	@Summary		Rank projects by recent activity
//	@Tags			suggestions
//	@Produce		json
//	@Param			limit	query		int	false	"Max suggestions"
//	@Success		200		{object}	SuggestionListResponse
//	@Security		BearerAuth
//	@Router			/suggestions [get]
func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Suggestions.GenerateSuggestions(r.Context(), queryInt(r, "limit"))
	if err != nil {
		writeError(w, "generate suggestions", err)
		return
	}
	if items == nil {
		items = []models.Suggestion{}
	}
	writeJSON(w, http.StatusOK, SuggestionListResponse{Suggestions: items})
}

// DirectorySuggestion handles GET /suggestions/directory.
//
//	@Summary		Classify a working directory
//	@Tags			suggestions
//	@Produce		json
//	@Param			dir	query		string	true	"Directory path"
//	@Success		200	{object}	DirectorySuggestionResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/suggestions/directory [get]
func (h *Handler) DirectorySuggestion(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("dir")
	if dir == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'dir' is required"))
		return
	}
	s, ok := h.svc.Suggestions.SuggestForCurrentDirectory(dir)
	if !ok {
		writeJSON(w, http.StatusOK, DirectorySuggestionResponse{})
		return
	}
	writeJSON(w, http.StatusOK, DirectorySuggestionResponse{Matched: true, Suggestion: &s})
}

// Feedback handles POST /suggestions/feedback.
//
//	@Summary		Record whether a suggestion was accepted
//	@Tags			suggestions
//	@Accept			json
//	@Param			body	body	FeedbackRequest	true	"Feedback"
//	@Success		204
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/suggestions/feedback [post]
func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Accepted == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("accepted is required"))
		return
	}
	s := models.Suggestion{Project: req.Project, Task: req.Task, Confidence: req.Confidence}
	if err := h.svc.Suggestions.LearnFromUserFeedback(r.Context(), s, *req.Accepted); err != nil {
		writeError(w, "record feedback", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SyncCommits handles POST /commits/sync.
//
//	@Summary		Import recent commits and link them to completed entries
//	@Tags			commits
//	@Produce		json
//	@Success		200	{object}	reconcile.Result
//	@Security		BearerAuth
//	@Router			/commits/sync [post]
func (h *Handler) SyncCommits(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Commits.SyncCommits(r.Context())
	if err != nil {
		writeError(w, "sync commits", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"repositories": res.Repositories,
		"imported":     res.Imported(),
		"linked":       res.Linked(),
	})
}

var reportContentTypes = map[report.Format]string{
	report.FormatJSON:     "application/json; charset=utf-8",
	report.FormatCSV:      "text/csv; charset=utf-8",
	report.FormatMarkdown: "text/markdown; charset=utf-8",
	report.FormatTable:    "text/plain; charset=utf-8",
}

// Report handles GET /reports. The format defaults to json.
//
//	@Summary		Time report over a window
//	@Tags			reports
//	@Param			from	query	string	false	"RFC 3339 time or YYYY-MM-DD"
//	@Param			to		query	string	false	"RFC 3339 time or YYYY-MM-DD (inclusive day)"
//	@Param			project	query	string	false	"Project filter"
//	@Param			task	query	string	false	"Task filter"
//	@Param			format	query	string	false	"Output format"	Enums(json, csv, markdown, table)
//	@Param			group	query	string	false	"Grouping"	Enums(project, task, date)
//	@Success		200
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/reports [get]
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts, err := reportOptions(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, "report", err)
		return
	}
	opts.Project = q.Get("project")
	opts.Task = q.Get("task")
	opts.Format = report.Format(q.Get("format"))
	if opts.Format == "" {
		opts.Format = report.FormatJSON
	}
	opts.GroupBy = report.GroupBy(q.Get("group"))

	out, err := h.svc.Reports.Generate(r.Context(), opts)
	if err != nil {
		writeError(w, "report", err)
		return
	}
	w.Header().Set("Content-Type", reportContentTypes[opts.Format])
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

func reportOptions(from, to string) (report.Options, error) {
	var opts report.Options
	var err error
	if opts.From, err = report.ParseBound(from, false); err != nil {
		return opts, err
	}
	if opts.To, err = report.ParseBound(to, true); err != nil {
		return opts, err
	}
	if !opts.From.IsZero() && !opts.To.IsZero() && opts.To.Before(opts.From) {
		return opts, fmt.Errorf("api: report window ends before it starts: %w", apperr.ErrValidation)
	}
	return opts, nil
}
