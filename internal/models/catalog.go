package models

import "time"

// Project is a named unit of work with classification hints.
type Project struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	DirectoryPatterns []string  `json:"directory_patterns"`
	Repositories      []string  `json:"repositories"`
	DefaultTask       string    `json:"default_task,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Task is a named sub-unit of a Project.
type Task struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	Name         string    `json:"name"`
	FilePatterns []string  `json:"file_patterns"`
	CreatedAt    time.Time `json:"created_at"`
}

// Mapping is one record of the project mapping file.
type Mapping struct {
	Pattern     string `yaml:"pattern" json:"pattern"`
	ProjectName string `yaml:"project_name" json:"project_name"`
	Task        string `yaml:"task,omitempty" json:"task,omitempty"`
	Priority    int    `yaml:"priority" json:"priority"`
}
