package ledger

import (
	"context"
	"fmt"

	"github.com/starford/timetrail/internal/apperr"
	"github.com/starford/timetrail/internal/models"
)

// RecordFeedback stores the user's verdict on a suggestion.
func (db *DB) RecordFeedback(ctx context.Context, f *models.Feedback) error {
	if f.Project == "" {
		return fmt.Errorf("ledger: record feedback: project is required: %w", apperr.ErrValidation)
	}
	f.CreatedAt = db.now()
	accepted := 0
	if f.Accepted {
		accepted = 1
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO suggestion_feedback (project, task, confidence, accepted, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, f.Project, f.Task, f.Confidence, accepted, toMillis(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("ledger: insert feedback: %w", err)
	}
	f.ID, _ = res.LastInsertId()
	return nil
}

// FeedbackCounts returns the number of accepted suggestions per project.
func (db *DB) FeedbackCounts(ctx context.Context) (map[string]int, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT project, COUNT(*) FROM suggestion_feedback
		WHERE accepted = 1 GROUP BY project`)
	if err != nil {
		return nil, fmt.Errorf("ledger: feedback counts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			project string
			n       int
		)
		if err := rows.Scan(&project, &n); err != nil {
			return nil, fmt.Errorf("ledger: scan feedback count: %w", err)
		}
		out[project] = n
	}
	return out, rows.Err()
}
