package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/starford/timetrail/internal/apperr"
	"github.com/starford/timetrail/internal/models"
)

// AppendActivity stores a file activity record and sets its ID.
// Records are never updated afterwards.
func (db *DB) AppendActivity(ctx context.Context, a *models.FileActivity) error {
	switch a.EventType {
	case models.EventAdd, models.EventChange, models.EventUnlink:
	default:
		return fmt.Errorf("ledger: append activity: event type %q: %w", a.EventType, apperr.ErrValidation)
	}
	if a.FilePath == "" {
		return fmt.Errorf("ledger: append activity: file path is required: %w", apperr.ErrValidation)
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = db.now()
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO file_activity (timestamp, file_path, event_type, project_suggestion, task_suggestion)
		VALUES (?, ?, ?, ?, ?)
	`, toMillis(a.Timestamp), a.FilePath, string(a.EventType), a.ProjectSuggestion, a.TaskSuggestion)
	if err != nil {
		return fmt.Errorf("ledger: insert activity: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	return nil
}

// ListActivitySince returns activity at or after since, oldest first.
func (db *DB) ListActivitySince(ctx context.Context, since time.Time) ([]*models.FileActivity, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, timestamp, file_path, event_type, project_suggestion, task_suggestion
		FROM file_activity WHERE timestamp >= ?
		ORDER BY timestamp ASC, id ASC`, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("ledger: list activity: %w", err)
	}
	return scanActivities(rows)
}

// ListActivity returns the most recent activity, newest first.
func (db *DB) ListActivity(ctx context.Context, limit int) ([]*models.FileActivity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, timestamp, file_path, event_type, project_suggestion, task_suggestion
		FROM file_activity
		ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list activity: %w", err)
	}
	return scanActivities(rows)
}

func scanActivities(rows *sql.Rows) ([]*models.FileActivity, error) {
	defer rows.Close()
	var out []*models.FileActivity
	for rows.Next() {
		var (
			a     models.FileActivity
			ts    int64
			event string
		)
		if err := rows.Scan(&a.ID, &ts, &a.FilePath, &event, &a.ProjectSuggestion, &a.TaskSuggestion); err != nil {
			return nil, fmt.Errorf("ledger: scan activity: %w", err)
		}
		a.Timestamp = fromMillis(ts)
		a.EventType = models.EventType(event)
		out = append(out, &a)
	}
	return out, rows.Err()
}
