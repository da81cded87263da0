package api

import (
	"time"

	"github.com/starford/timetrail/internal/models"
	"github.com/starford/timetrail/internal/tracker"
)

// StartSessionRequest is the request body for starting a session.
type StartSessionRequest struct {
	Project string `json:"project,omitempty" example:"timetrail"`
	Task    string `json:"task,omitempty" example:"api"`
	Notes   string `json:"notes,omitempty"`
	// Planned is a Go duration string such as "25m".
	Planned string `json:"planned,omitempty" example:"25m"`
	// Dir is used to infer the project when Project is empty.
	Dir string `json:"dir,omitempty" example:"/home/dev/src/timetrail"`
}

// CreateProjectRequest is the request body for registering a project.
type CreateProjectRequest struct {
	Name              string   `json:"name" example:"timetrail" validate:"required"`
	Description       string   `json:"description,omitempty"`
	DirectoryPatterns []string `json:"directory_patterns,omitempty" example:"**/timetrail/**"`
	Repositories      []string `json:"repositories,omitempty" example:"/home/dev/src/timetrail"`
	DefaultTask       string   `json:"default_task,omitempty" example:"development"`
}

// CreateTaskRequest is the request body for adding a task to a project.
type CreateTaskRequest struct {
	Name         string   `json:"name" example:"docs" validate:"required"`
	FilePatterns []string `json:"file_patterns,omitempty" example:"**/*.md"`
}

// UpdateProjectRequest changes the given fields of a project. Omitted
// fields keep their current value.
type UpdateProjectRequest struct {
	Name              *string   `json:"name,omitempty" example:"timetrail"`
	Description       *string   `json:"description,omitempty"`
	DirectoryPatterns *[]string `json:"directory_patterns,omitempty" example:"**/timetrail/**"`
	Repositories      *[]string `json:"repositories,omitempty" example:"/home/dev/src/timetrail"`
	DefaultTask       *string   `json:"default_task,omitempty" example:"development"`
}

func (req UpdateProjectRequest) apply(p *models.Project) {
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.DirectoryPatterns != nil {
		p.DirectoryPatterns = *req.DirectoryPatterns
	}
	if req.Repositories != nil {
		p.Repositories = *req.Repositories
	}
	if req.DefaultTask != nil {
		p.DefaultTask = *req.DefaultTask
	}
}

// UpdateEntryRequest edits a recorded session.
type UpdateEntryRequest struct {
	Notes *string `json:"notes" validate:"required" example:"pairing on the parser"`
}

// FeedbackRequest records whether a suggestion was accepted.
type FeedbackRequest struct {
	Project    string  `json:"project" validate:"required"`
	Task       string  `json:"task,omitempty"`
	Confidence float64 `json:"confidence"`
	Accepted   *bool   `json:"accepted" validate:"required"`
}

// StatusResponse describes the current session.
type StatusResponse struct {
	Active           bool              `json:"active"`
	Entry            *models.TimeEntry `json:"entry,omitempty"`
	Elapsed          string            `json:"elapsed,omitempty" example:"25m0s"`
	ElapsedSeconds   float64           `json:"elapsed_seconds"`
	Remaining        string            `json:"remaining,omitempty" example:"5m0s"`
	RemainingSeconds float64           `json:"remaining_seconds,omitempty"`
}

func newStatusResponse(st tracker.Status) StatusResponse {
	resp := StatusResponse{Active: st.Active, Entry: st.Entry}
	if !st.Active {
		return resp
	}
	resp.Elapsed = st.Elapsed.Round(time.Second).String()
	resp.ElapsedSeconds = st.Elapsed.Round(time.Second).Seconds()
	if st.Remaining > 0 {
		resp.Remaining = st.Remaining.Round(time.Second).String()
		resp.RemainingSeconds = st.Remaining.Round(time.Second).Seconds()
	}
	return resp
}

// DirectorySuggestionResponse is the result of classifying a directory.
type DirectorySuggestionResponse struct {
	Matched    bool               `json:"matched"`
	Suggestion *models.Suggestion `json:"suggestion,omitempty"`
}

// ProjectListResponse wraps project listings.
type ProjectListResponse struct {
	Projects []*models.Project `json:"projects" validate:"required"`
}

// TaskListResponse wraps task listings.
type TaskListResponse struct {
	Tasks []*models.Task `json:"tasks" validate:"required"`
}

// ActivityListResponse wraps recent file activity, newest first.
type ActivityListResponse struct {
	Activity []*models.FileActivity `json:"activity" validate:"required"`
}

// SuggestionListResponse wraps ranked suggestions.
type SuggestionListResponse struct {
	Suggestions []models.Suggestion `json:"suggestions" validate:"required"`
}

// EntryListResponse wraps session listings, newest first.
type EntryListResponse struct {
	Entries []*models.TimeEntry `json:"entries" validate:"required"`
}
