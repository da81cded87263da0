package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/timetrail/internal/apperr"
	"github.com/starford/timetrail/internal/models"
)

const projectColumns = `id, name, description, directory_patterns, repositories, default_task, created_at`

// CreateProject registers a project. Names are unique.
func (db *DB) CreateProject(ctx context.Context, p *models.Project) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("ledger: create project: name is required: %w", apperr.ErrValidation)
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = db.now()

	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Description, encodeList(p.DirectoryPatterns), encodeList(p.Repositories),
		p.DefaultTask, toMillis(p.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("ledger: project %q: %w", p.Name, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("ledger: insert project: %w", err)
	}
	return nil
}

// UpdateProject rewrites every mutable field of a project.
func (db *DB) UpdateProject(ctx context.Context, p *models.Project) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("ledger: update project: name is required: %w", apperr.ErrValidation)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.ExecContext(ctx, `
		UPDATE projects
		SET name = ?, description = ?, directory_patterns = ?, repositories = ?, default_task = ?
		WHERE id = ?
	`, p.Name, p.Description, encodeList(p.DirectoryPatterns), encodeList(p.Repositories), p.DefaultTask, p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("ledger: project %q: %w", p.Name, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("ledger: update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ledger: project %s: %w", p.ID, apperr.ErrNotFound)
	}
	return nil
}

// DeleteProject removes a project. Tasks are never cascade-deleted, so a
// project that still owns tasks is rejected with apperr.ErrConflict.
func (db *DB) DeleteProject(ctx context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("ledger: project %s still has tasks: %w", id, apperr.ErrConflict)
		}
		return fmt.Errorf("ledger: delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ledger: project %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// GetProject returns a project by id.
func (db *DB) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return scanProject(db.conn.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
}

// GetProjectByName returns a project by its unique name.
func (db *DB) GetProjectByName(ctx context.Context, name string) (*models.Project, error) {
	return scanProject(db.conn.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE name = ?`, name))
}

// ListProjects returns projects in registration order.
func (db *DB) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("ledger: list projects: %w", err)
	}
	defer rows.Close()

	var out []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProject(row rowScanner) (*models.Project, error) {
	var (
		p             models.Project
		dirs, repos   string
		createdMillis int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &dirs, &repos, &p.DefaultTask, &createdMillis); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ledger: project: %w", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("ledger: scan project: %w", err)
	}
	p.DirectoryPatterns = decodeList(dirs)
	p.Repositories = decodeList(repos)
	p.CreatedAt = fromMillis(createdMillis)
	return &p, nil
}

// CreateTask adds a task to an existing project.
func (db *DB) CreateTask(ctx context.Context, t *models.Task) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("ledger: create task: name is required: %w", apperr.ErrValidation)
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.CreatedAt = db.now()

	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, name, file_patterns, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, t.ID, t.ProjectID, t.Name, encodeList(t.FilePatterns), toMillis(t.CreatedAt))
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("ledger: task %q: %w", t.Name, apperr.ErrAlreadyExists)
	case isForeignKeyViolation(err):
		return fmt.Errorf("ledger: task project %s: %w", t.ProjectID, apperr.ErrNotFound)
	case err != nil:
		return fmt.Errorf("ledger: insert task: %w", err)
	}
	return nil
}

// ListTasks returns a project's tasks in declaration order.
func (db *DB) ListTasks(ctx context.Context, projectID string) ([]*models.Task, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, project_id, name, file_patterns, created_at
		FROM tasks WHERE project_id = ?
		ORDER BY created_at, rowid`, projectID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		var (
			t        models.Task
			patterns string
			created  int64
		)
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Name, &patterns, &created); err != nil {
			return nil, fmt.Errorf("ledger: scan task: %w", err)
		}
		t.FilePatterns = decodeList(patterns)
		t.CreatedAt = fromMillis(created)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// DeleteTask removes a single task.
func (db *DB) DeleteTask(ctx context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("ledger: delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ledger: task %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}
