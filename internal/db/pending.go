package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloud-shuttle/kpilot/pkg/types"
)

// PendingActionTTL is the window a pending action stays resolvable
const PendingActionTTL = 5 * time.Minute

// CreatePendingAction stores candidate resolutions for an ambiguous
// instruction and returns the action id the caller resolves with
func (s *Store) CreatePendingAction(taskID int64, actionType, originalQuery string, options []types.Option) (int64, error) {
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return 0, fmt.Errorf("encoding options: %w", err)
	}

	now := s.now()
	res, err := s.DB.Exec(`
		INSERT INTO pending_actions (created_at, task_id, action_type, original_query, options, expires_at, status)
		VALUES (?, ?, ?, ?, ?, ?, 'pending')
	`, now.Format(time.RFC3339), taskID, actionType, originalQuery,
		string(optionsJSON), now.Add(PendingActionTTL).Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("creating pending action: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting pending action id: %w", err)
	}
	return id, nil
}

// GetPendingAction returns a pending action that is still resolvable.
// Missing, already-resolved and expired actions all surface as
// ErrActionNotFound; an expired row is additionally flipped to
// cancelled so it can never be resolved later.
func (s *Store) GetPendingAction(id int64) (*types.PendingAction, error) {
	var a types.PendingAction
	var optionsJSON string
	err := s.DB.QueryRow(`
		SELECT id, created_at, COALESCE(task_id, 0), COALESCE(action_type, ''),
		       COALESCE(original_query, ''), COALESCE(options, '[]'), expires_at, status
		FROM pending_actions
		WHERE id = ? AND status = 'pending'
	`, id).Scan(&a.ID, &a.CreatedAt, &a.TaskID, &a.ActionType,
		&a.OriginalQuery, &optionsJSON, &a.ExpiresAt, &a.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrActionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting pending action %d: %w", id, err)
	}

	expires, err := time.Parse(time.RFC3339, a.ExpiresAt)
	if err != nil || !s.now().Before(expires) {
		// Expired actions read as not found; cancel so the window
		// cannot be reopened by a clock change
		_ = s.TransitionPendingAction(id, types.ActionStatusCancelled)
		return nil, types.ErrActionNotFound
	}

	if err := json.Unmarshal([]byte(optionsJSON), &a.Options); err != nil {
		return nil, fmt.Errorf("decoding options for action %d: %w", id, err)
	}
	return &a, nil
}

// TransitionPendingAction moves an action out of the pending state.
// The compare-and-set on status guarantees exactly one caller wins a
// race to resolve the same action; losers get ErrActionNotFound since
// from their perspective the action is no longer pending.
func (s *Store) TransitionPendingAction(id int64, to types.ActionStatus) error {
	res, err := s.DB.Exec(`
		UPDATE pending_actions SET status = ? WHERE id = ? AND status = 'pending'
	`, to, id)
	if err != nil {
		return fmt.Errorf("transitioning pending action %d: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows: %w", err)
	}
	if rows == 0 {
		return types.ErrActionNotFound
	}
	return nil
}

// AppendChangelog records one audit line
func (s *Store) AppendChangelog(action, taskName, resource, details string) error {
	_, err := s.DB.Exec(`
		INSERT INTO changelog (timestamp, action, task_name, resource, details)
		VALUES (?, ?, ?, ?, ?)
	`, s.now().Format(time.RFC3339), action, taskName, resource, details)
	if err != nil {
		return fmt.Errorf("appending changelog: %w", err)
	}
	return nil
}

// Changelog returns recent audit entries, newest first
func (s *Store) Changelog(limit int) ([]types.ChangelogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.Query(`
		SELECT id, timestamp, COALESCE(action, ''), COALESCE(task_name, ''),
		       COALESCE(resource, ''), COALESCE(details, '')
		FROM changelog
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying changelog: %w", err)
	}
	defer rows.Close()

	var entries []types.ChangelogEntry
	for rows.Next() {
		var e types.ChangelogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Action, &e.TaskName, &e.Resource, &e.Details); err != nil {
			return nil, fmt.Errorf("scanning changelog entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
