// Package models defines the domain types for timetrail.
package models

import "time"

// EntryStatus is the lifecycle state of a TimeEntry.
type EntryStatus string

const (
	StatusActive    EntryStatus = "active"
	StatusPaused    EntryStatus = "paused"
	StatusCompleted EntryStatus = "completed"
	StatusStopped   EntryStatus = "stopped"
)

// Terminal reports whether the status ends the entry's lifecycle.
func (s EntryStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusStopped
}

// Valid reports whether s is one of the known statuses.
func (s EntryStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted, StatusStopped:
		return true
	}
	return false
}

// TimeEntry is a bounded or open-ended unit of tracked work.
// EndTime is nil while the entry is active or paused.
type TimeEntry struct {
	ID              string        `json:"id"`
	Project         string        `json:"project"`
	Task            string        `json:"task,omitempty"`
	Notes           string        `json:"notes,omitempty"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         *time.Time    `json:"end_time,omitempty"`
	Status          EntryStatus   `json:"status"`
	PlannedDuration time.Duration `json:"planned_duration,omitempty"`
	LinkedCommits   []string      `json:"linked_commits"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	Version         int64         `json:"version"`
}

// Open reports whether the entry is the current session.
func (e *TimeEntry) Open() bool {
	return !e.Status.Terminal()
}

// Duration returns the elapsed time of the entry, measuring open entries
// against now.
func (e *TimeEntry) Duration(now time.Time) time.Duration {
	end := now
	if e.EndTime != nil {
		end = *e.EndTime
	}
	if end.Before(e.StartTime) {
		return 0
	}
	return end.Sub(e.StartTime)
}

// Contains reports whether t lies within [StartTime, EndTime], inclusive.
// Entries without an end time contain nothing.
func (e *TimeEntry) Contains(t time.Time) bool {
	if e.EndTime == nil {
		return false
	}
	return !t.Before(e.StartTime) && !t.After(*e.EndTime)
}
