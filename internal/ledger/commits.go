package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/timetrail/internal/apperr"
	"github.com/starford/timetrail/internal/models"
)

// InsertCommit stores a commit unless its hash is already known.
// It reports whether a row was written.
func (db *DB) InsertCommit(ctx context.Context, c *models.GitCommit) (bool, error) {
	if c.Hash == "" {
		return false, fmt.Errorf("ledger: insert commit: hash is required: %w", apperr.ErrValidation)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO git_commits (hash, timestamp, message, author, repository)
		VALUES (?, ?, ?, ?, ?)
	`, c.Hash, toMillis(c.Timestamp), c.Message, c.Author, c.Repository)
	if err != nil {
		return false, fmt.Errorf("ledger: insert commit: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GetCommit returns a stored commit by hash.
func (db *DB) GetCommit(ctx context.Context, hash string) (*models.GitCommit, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT hash, timestamp, message, author, repository, linked_time_entry_id
		FROM git_commits WHERE hash = ?`, hash)
	c, err := scanCommit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ledger: commit %s: %w", hash, apperr.ErrNotFound)
	}
	return c, err
}

// ListCommits returns stored commits, newest first. An empty repo lists all.
func (db *DB) ListCommits(ctx context.Context, repo string) ([]*models.GitCommit, error) {
	query := `SELECT hash, timestamp, message, author, repository, linked_time_entry_id FROM git_commits`
	var args []any
	if repo != "" {
		query += ` WHERE repository = ?`
		args = append(args, repo)
	}
	query += ` ORDER BY timestamp DESC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list commits: %w", err)
	}
	defer rows.Close()

	var out []*models.GitCommit
	for rows.Next() {
		c, err := scanCommit(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan commit: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LinkCommit attaches a commit to an entry. The entry's linked set gains the
// hash and the commit keeps its first linked entry. Re-linking is a no-op;
// the returned bool reports whether a new link was written.
func (db *DB) LinkCommit(ctx context.Context, hash, entryID string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO entry_commits (entry_id, commit_hash) VALUES (?, ?)`, entryID, hash)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, fmt.Errorf("ledger: link %s to %s: %w", hash, entryID, apperr.ErrNotFound)
		}
		return false, fmt.Errorf("ledger: link commit: %w", err)
	}
	inserted, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `
		UPDATE git_commits SET linked_time_entry_id = ?
		WHERE hash = ? AND linked_time_entry_id IS NULL`, entryID, hash); err != nil {
		return false, fmt.Errorf("ledger: set commit entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("ledger: commit: %w", err)
	}
	return inserted > 0, nil
}

func scanCommit(row rowScanner) (*models.GitCommit, error) {
	var (
		c      models.GitCommit
		ts     int64
		linked sql.NullString
	)
	if err := row.Scan(&c.Hash, &ts, &c.Message, &c.Author, &c.Repository, &linked); err != nil {
		return nil, err
	}
	c.Timestamp = fromMillis(ts)
	c.LinkedTimeEntryID = linked.String
	return &c, nil
}
