package models

import "time"

// Suggestion is a ranked, explainable guess of what the user is working on.
type Suggestion struct {
	Project    string  `json:"project"`
	Task       string  `json:"task,omitempty"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Feedback records whether the user accepted a suggestion.
type Feedback struct {
	ID         int64     `json:"id"`
	Project    string    `json:"project"`
	Task       string    `json:"task,omitempty"`
	Confidence float64   `json:"confidence"`
	Accepted   bool      `json:"accepted"`
	CreatedAt  time.Time `json:"created_at"`
}
