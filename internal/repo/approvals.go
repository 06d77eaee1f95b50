package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"pilotdeck/internal/domain"
)

type ApprovalFilters struct {
	WorkspaceID     string
	ModuleID        string
	Status          string
	Priority        string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

const approvalColumns = `id,workspace_id,module_id,title,description,payload_json,priority,confidence,status,created_by,created_at,resolved_by,resolved_at`

func scanApproval(s scanner) (domain.ApprovalItem, error) {
	var it domain.ApprovalItem
	var description, payload, createdBy, resolvedBy, resolvedAt sql.NullString
	var confidence sql.NullInt64
	err := s.Scan(&it.ID, &it.WorkspaceID, &it.ModuleID, &it.Title, &description, &payload, &it.Priority, &confidence, &it.Status, &createdBy, &it.CreatedAt, &resolvedBy, &resolvedAt)
	if err != nil {
		return it, err
	}
	it.Description = description.String
	it.Payload = payload.String
	it.CreatedBy = createdBy.String
	it.ResolvedBy = resolvedBy.String
	it.ResolvedAt = stringPtr(resolvedAt)
	if confidence.Valid {
		c := int(confidence.Int64)
		it.Confidence = &c
	}
	return it, nil
}

func (r Repo) InsertApproval(ctx context.Context, tx *sql.Tx, it domain.ApprovalItem) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO approval_items(`+approvalColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.WorkspaceID, it.ModuleID, it.Title, nullable(it.Description), nullable(it.Payload), string(it.Priority),
		nullableIntPtr(it.Confidence), string(it.Status), nullable(it.CreatedBy), it.CreatedAt, nullable(it.ResolvedBy), nullableStringPtr(it.ResolvedAt))
	return err
}

// GetApproval loads an item scoped to its workspace.
func (r Repo) GetApproval(ctx context.Context, tx *sql.Tx, workspaceID, id string) (domain.ApprovalItem, error) {
	it, err := scanApproval(r.q(tx).QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approval_items WHERE id=? AND workspace_id=?`, id, workspaceID))
	if errors.Is(err, sql.ErrNoRows) {
		return it, ErrNotFound
	}
	return it, err
}

// GetApprovalAnyWorkspace loads an item by id alone, used to detect id reuse
// across workspaces on idempotent create.
func (r Repo) GetApprovalAnyWorkspace(ctx context.Context, tx *sql.Tx, id string) (domain.ApprovalItem, error) {
	it, err := scanApproval(r.q(tx).QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approval_items WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return it, ErrNotFound
	}
	return it, err
}

// ListApprovals returns items newest first.
func (r Repo) ListApprovals(ctx context.Context, f ApprovalFilters) ([]domain.ApprovalItem, error) {
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
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + approvalColumns + ` FROM approval_items WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ApprovalItem
	for rows.Next() {
		it, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// ResolveApproval moves a pending item to status. It reports false when the
// item was not pending, leaving the row untouched.
func (r Repo) ResolveApproval(ctx context.Context, tx *sql.Tx, workspaceID, id string, status domain.ApprovalStatus, actorID, at string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE approval_items SET status=?, resolved_by=?, resolved_at=? WHERE id=? AND workspace_id=? AND status='pending'`,
		string(status), nullable(actorID), at, id, workspaceID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CountPendingByModule groups pending items of a workspace by module.
func (r Repo) CountPendingByModule(ctx context.Context, workspaceID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT module_id, COUNT(1) FROM approval_items WHERE workspace_id=? AND status='pending' GROUP BY module_id`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var module string
		var n int
		if err := rows.Scan(&module, &n); err != nil {
			return nil, err
		}
		res[module] = n
	}
	return res, rows.Err()
}
