package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/timetrail/internal/apperr"
	"github.com/starford/timetrail/internal/models"
)

const entryColumns = `id, project, task, notes, start_time, end_time, status, planned_ms, created_at, updated_at, version`

// EntryFilter narrows ListEntries. Zero values match everything.
// From/To select entries whose interval overlaps [From, To].
type EntryFilter struct {
	Project string
	Task    string
	Status  models.EntryStatus
	From    *time.Time
	To      *time.Time
	Limit   int
}

// StartEntry inserts a new active entry. It fails with apperr.ErrSessionActive
// when another entry is still active or paused.
func (db *DB) StartEntry(ctx context.Context, e *models.TimeEntry) error {
	if strings.TrimSpace(e.Project) == "" {
		return fmt.Errorf("ledger: start entry: project is required: %w", apperr.ErrValidation)
	}
	now := db.now()
	if e.StartTime.IsZero() {
		e.StartTime = now
	}
	if e.PlannedDuration < 0 {
		return fmt.Errorf("ledger: start entry: planned duration is negative: %w", apperr.ErrValidation)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.Status = models.StatusActive
	e.EndTime = nil
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Version = 1
	e.LinkedCommits = []string{}

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var openID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM time_entries WHERE end_time IS NULL LIMIT 1`).Scan(&openID)
	switch {
	case err == nil:
		return fmt.Errorf("ledger: start entry: %s is open: %w", openID, apperr.ErrSessionActive)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("ledger: check open entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO time_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, NULL, ?, ?, ?, ?, ?)
	`, e.ID, e.Project, e.Task, e.Notes, toMillis(e.StartTime), string(e.Status),
		e.PlannedDuration.Milliseconds(), toMillis(e.CreatedAt), toMillis(e.UpdatedAt), e.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("ledger: start entry: %w", apperr.ErrSessionActive)
		}
		return fmt.Errorf("ledger: insert entry: %w", err)
	}
	return tx.Commit()
}

// GetEntry returns the entry with the given id.
func (db *DB) GetEntry(ctx context.Context, id string) (*models.TimeEntry, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM time_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		return nil, err
	}
	if err := db.attachCommits(ctx, db.conn, []*models.TimeEntry{e}); err != nil {
		return nil, err
	}
	return e, nil
}

// GetActiveTimeEntry returns the most recent entry with a non-terminal status,
// or nil when no session is running.
func (db *DB) GetActiveTimeEntry(ctx context.Context) (*models.TimeEntry, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM time_entries
		WHERE status IN ('active', 'paused')
		ORDER BY start_time DESC LIMIT 1`)
	e, err := scanEntry(row)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := db.attachCommits(ctx, db.conn, []*models.TimeEntry{e}); err != nil {
		return nil, err
	}
	return e, nil
}

// LastEntry returns the most recently started entry, or nil if there are none.
func (db *DB) LastEntry(ctx context.Context) (*models.TimeEntry, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM time_entries ORDER BY start_time DESC LIMIT 1`)
	e, err := scanEntry(row)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	return e, err
}

// PauseEntry moves an active entry to paused. A non-zero version must match
// the stored version.
func (db *DB) PauseEntry(ctx context.Context, id string, version int64) (*models.TimeEntry, error) {
	return db.transition(ctx, id, version, func(e *models.TimeEntry, _ time.Time) error {
		if e.Status != models.StatusActive {
			return fmt.Errorf("pause %s entry: %w", e.Status, apperr.ErrInvalidTransition)
		}
		e.Status = models.StatusPaused
		return nil
	})
}

// ResumeEntry moves a paused entry back to active.
func (db *DB) ResumeEntry(ctx context.Context, id string, version int64) (*models.TimeEntry, error) {
	return db.transition(ctx, id, version, func(e *models.TimeEntry, _ time.Time) error {
		if e.Status != models.StatusPaused {
			return fmt.Errorf("resume %s entry: %w", e.Status, apperr.ErrInvalidTransition)
		}
		e.Status = models.StatusActive
		return nil
	})
}

// StopEntry terminates an open entry with status completed or stopped.
// A zero end time means now. End and status are written together.
func (db *DB) StopEntry(ctx context.Context, id string, version int64, status models.EntryStatus, end time.Time) (*models.TimeEntry, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("ledger: stop entry: %q is not a terminal status: %w", status, apperr.ErrValidation)
	}
	return db.transition(ctx, id, version, func(e *models.TimeEntry, now time.Time) error {
		if !e.Open() {
			return fmt.Errorf("stop %s entry: %w", e.Status, apperr.ErrInvalidTransition)
		}
		if end.IsZero() {
			end = now
		}
		if end.Before(e.StartTime) {
			return fmt.Errorf("end time %s before start time %s: %w",
				end.Format(time.RFC3339), e.StartTime.Format(time.RFC3339), apperr.ErrValidation)
		}
		if end.After(now) {
			return fmt.Errorf("end time %s is in the future: %w", end.Format(time.RFC3339), apperr.ErrValidation)
		}
		e.Status = status
		e.EndTime = &end
		return nil
	})
}

// UpdateEntryNotes replaces the notes of an entry.
func (db *DB) UpdateEntryNotes(ctx context.Context, id string, notes string) (*models.TimeEntry, error) {
	return db.transition(ctx, id, 0, func(e *models.TimeEntry, _ time.Time) error {
		e.Notes = notes
		return nil
	})
}

// transition loads an entry, applies fn, and writes it back guarded by the
// version column. Writers are serialized by db.mu, so a stale version means
// the caller acted on an outdated read.
func (db *DB) transition(ctx context.Context, id string, version int64, fn func(e *models.TimeEntry, now time.Time) error) (*models.TimeEntry, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	e, err := scanEntry(tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM time_entries WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if version != 0 && e.Version != version {
		return nil, fmt.Errorf("ledger: entry %s at version %d, caller had %d: %w", id, e.Version, version, apperr.ErrConflict)
	}

	now := db.now()
	if err := fn(e, now); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	prev := e.Version
	e.Version++
	e.UpdatedAt = now

	res, err := tx.ExecContext(ctx, `
		UPDATE time_entries
		SET notes = ?, status = ?, end_time = ?, updated_at = ?, version = ?
		WHERE id = ? AND version = ?
	`, e.Notes, string(e.Status), nullableMillis(e.EndTime), toMillis(e.UpdatedAt), e.Version, id, prev)
	if err != nil {
		return nil, fmt.Errorf("ledger: update entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("ledger: entry %s changed concurrently: %w", id, apperr.ErrConflict)
	}
	if err := db.attachCommits(ctx, tx, []*models.TimeEntry{e}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("ledger: commit: %w", err)
	}
	return e, nil
}

// DeleteEntry removes an entry and its commit links.
func (db *DB) DeleteEntry(ctx context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	res, err := db.conn.ExecContext(ctx, `DELETE FROM time_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("ledger: delete entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ledger: entry %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// ListEntries returns entries matching f, newest start first.
func (db *DB) ListEntries(ctx context.Context, f EntryFilter) ([]*models.TimeEntry, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("ledger: list entries: status %q: %w", f.Status, apperr.ErrValidation)
	}
	var (
		where []string
		args  []any
	)
	if f.Project != "" {
		where = append(where, "project = ?")
		args = append(args, f.Project)
	}
	if f.Task != "" {
		where = append(where, "task = ?")
		args = append(args, f.Task)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	// Overlap: starts before the window closes and has not ended before it opens.
	if f.To != nil {
		where = append(where, "start_time <= ?")
		args = append(args, toMillis(*f.To))
	}
	if f.From != nil {
		where = append(where, "(end_time IS NULL OR end_time >= ?)")
		args = append(args, toMillis(*f.From))
	}

	query := `SELECT ` + entryColumns + ` FROM time_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return db.queryEntries(ctx, query, args...)
}

// GetTimeRangeEntries returns every entry whose interval overlaps [start, end].
func (db *DB) GetTimeRangeEntries(ctx context.Context, start, end time.Time) ([]*models.TimeEntry, error) {
	return db.ListEntries(ctx, EntryFilter{From: &start, To: &end})
}

// FindCompletedEntriesAt returns completed entries whose [start, end]
// interval contains t, earliest start first.
func (db *DB) FindCompletedEntriesAt(ctx context.Context, t time.Time) ([]*models.TimeEntry, error) {
	ms := toMillis(t)
	return db.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM time_entries
		WHERE status = 'completed' AND start_time <= ? AND end_time >= ?
		ORDER BY start_time ASC`, ms, ms)
}

func (db *DB) queryEntries(ctx context.Context, query string, args ...any) ([]*models.TimeEntry, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query entries: %w", err)
	}
	defer rows.Close()

	var out []*models.TimeEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate entries: %w", err)
	}
	if err := db.attachCommits(ctx, db.conn, out); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanEntry(row rowScanner) (*models.TimeEntry, error) {
	var (
		e                            models.TimeEntry
		status                       string
		start, created, updated, pms int64
		end                          sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.Project, &e.Task, &e.Notes, &start, &end, &status, &pms, &created, &updated, &e.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ledger: time entry: %w", apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("ledger: scan entry: %w", err)
	}
	e.Status = models.EntryStatus(status)
	e.StartTime = fromMillis(start)
	if end.Valid {
		t := fromMillis(end.Int64)
		e.EndTime = &t
	}
	e.PlannedDuration = time.Duration(pms) * time.Millisecond
	e.CreatedAt = fromMillis(created)
	e.UpdatedAt = fromMillis(updated)
	e.LinkedCommits = []string{}
	return &e, nil
}

// attachCommits fills LinkedCommits for the given entries in one query.
func (db *DB) attachCommits(ctx context.Context, q queryer, entries []*models.TimeEntry) error {
	if len(entries) == 0 {
		return nil
	}
	byID := make(map[string]*models.TimeEntry, len(entries))
	args := make([]any, 0, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
		args = append(args, e.ID)
	}
	rows, err := q.QueryContext(ctx, `
		SELECT entry_id, commit_hash FROM entry_commits
		WHERE entry_id IN (`+placeholders(len(args))+`)
		ORDER BY commit_hash`, args...)
	if err != nil {
		return fmt.Errorf("ledger: load commit links: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return fmt.Errorf("ledger: scan commit link: %w", err)
		}
		if e, ok := byID[id]; ok {
			e.LinkedCommits = append(e.LinkedCommits, hash)
		}
	}
	return rows.Err()
}
