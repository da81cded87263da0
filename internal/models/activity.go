package models

import "time"

// EventType is the kind of filesystem change observed.
type EventType string

const (
	EventAdd    EventType = "add"
	EventChange EventType = "change"
	EventUnlink EventType = "unlink"
)

// FileActivity is an immutable observation of a filesystem change.
type FileActivity struct {
	ID                int64     `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	FilePath          string    `json:"file_path"`
	EventType         EventType `json:"event_type"`
	ProjectSuggestion string    `json:"project_suggestion,omitempty"`
	TaskSuggestion    string    `json:"task_suggestion,omitempty"`
}

// GitCommit is a commit imported from version control.
type GitCommit struct {
	Hash              string    `json:"hash"`
	Timestamp         time.Time `json:"timestamp"`
	Message           string    `json:"message"`
	Author            string    `json:"author"`
	Repository        string    `json:"repository"`
	LinkedTimeEntryID string    `json:"linked_time_entry_id,omitempty"`
}
