package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"pilotdeck/internal/domain"
)

type ActionFilters struct {
	WorkspaceID     string
	ModuleID        string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

const actionColumns = `id,workspace_id,module_id,approval_id,description,status,duration_ms,error,created_at,completed_at`

func scanAction(s scanner) (domain.ActionRecord, error) {
	var a domain.ActionRecord
	var approvalID, errMsg, completedAt sql.NullString
	if err := s.Scan(&a.ID, &a.WorkspaceID, &a.ModuleID, &approvalID, &a.Description, &a.Status, &a.DurationMs, &errMsg, &a.CreatedAt, &completedAt); err != nil {
		return a, err
	}
	a.ApprovalID = stringPtr(approvalID)
	a.Error = errMsg.String
	a.CompletedAt = stringPtr(completedAt)
	return a, nil
}

func (r Repo) InsertAction(ctx context.Context, tx *sql.Tx, a domain.ActionRecord) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO action_records(`+actionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.WorkspaceID, a.ModuleID, nullableStringPtr(a.ApprovalID), a.Description, string(a.Status), a.DurationMs,
		nullable(a.Error), a.CreatedAt, nullableStringPtr(a.CompletedAt))
	return err
}

func (r Repo) GetAction(ctx context.Context, tx *sql.Tx, workspaceID, id string) (domain.ActionRecord, error) {
	a, err := scanAction(r.q(tx).QueryRowContext(ctx, `SELECT `+actionColumns+` FROM action_records WHERE id=? AND workspace_id=?`, id, workspaceID))
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

// GetActionByApproval returns the record spawned by approving approvalID.
func (r Repo) GetActionByApproval(ctx context.Context, tx *sql.Tx, approvalID string) (domain.ActionRecord, error) {
	a, err := scanAction(r.q(tx).QueryRowContext(ctx, `SELECT `+actionColumns+` FROM action_records WHERE approval_id=?`, approvalID))
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

// CompleteAction finalizes a pending record. It reports false when the record
// had already left pending.
func (r Repo) CompleteAction(ctx context.Context, tx *sql.Tx, workspaceID, id string, status domain.ActionStatus, durationMs int64, errMsg, at string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE action_records SET status=?, duration_ms=?, error=?, completed_at=? WHERE id=? AND workspace_id=? AND status='pending'`,
		string(status), durationMs, nullable(errMsg), at, id, workspaceID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListActions returns records newest first.
func (r Repo) ListActions(ctx context.Context, f ActionFilters) ([]domain.ActionRecord, error) {
	clauses := []string{"workspace_id=?"}
	args := []any{f.WorkspaceID}
	if f.ModuleID != "" {
		clauses = append(clauses, "module_id=?")
		args = append(args, f.ModuleID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + actionColumns + ` FROM action_records WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActionRecord
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ActionCounts aggregates records of a workspace, optionally for one module.
// today counts records created at or after since.
func (r Repo) ActionCounts(ctx context.Context, workspaceID, moduleID, since string) (today, completed, failed int, err error) {
	query := `SELECT
  COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN status='completed' THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN status='failed' THEN 1 ELSE 0 END),0)
FROM action_records WHERE workspace_id=?`
	args := []any{since, workspaceID}
	if moduleID != "" {
		query += " AND module_id=?"
		args = append(args, moduleID)
	}
	err = r.DB.QueryRowContext(ctx, query, args...).Scan(&today, &completed, &failed)
	return
}
