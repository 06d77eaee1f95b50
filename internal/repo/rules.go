package repo

import (
	"context"
	"database/sql"
	"errors"

	"pilotdeck/internal/domain"
)

const ruleColumns = `id,workspace_id,module_id,name,trigger_json,action_json,enabled,created_at,updated_at`

func scanRule(s scanner) (domain.Rule, error) {
	var rule domain.Rule
	var enabled int
	err := s.Scan(&rule.ID, &rule.WorkspaceID, &rule.ModuleID, &rule.Name, &rule.TriggerJSON, &rule.ActionJSON, &enabled, &rule.CreatedAt, &rule.UpdatedAt)
	rule.Enabled = enabled != 0
	return rule, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r Repo) InsertRule(ctx context.Context, tx *sql.Tx, rule domain.Rule) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO automation_rules(`+ruleColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		rule.ID, rule.WorkspaceID, rule.ModuleID, rule.Name, rule.TriggerJSON, rule.ActionJSON, boolInt(rule.Enabled), rule.CreatedAt, rule.UpdatedAt)
	return err
}

func (r Repo) GetRule(ctx context.Context, tx *sql.Tx, workspaceID, id string) (domain.Rule, error) {
	rule, err := scanRule(r.q(tx).QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM automation_rules WHERE id=? AND workspace_id=?`, id, workspaceID))
	if errors.Is(err, sql.ErrNoRows) {
		return rule, ErrNotFound
	}
	return rule, err
}

func (r Repo) ListRules(ctx context.Context, workspaceID, moduleID string) ([]domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules WHERE workspace_id=?`
	args := []any{workspaceID}
	if moduleID != "" {
		query += " AND module_id=?"
		args = append(args, moduleID)
	}
	query += " ORDER BY created_at DESC, id DESC"
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rule)
	}
	return res, rows.Err()
}

func (r Repo) UpdateRule(ctx context.Context, tx *sql.Tx, rule domain.Rule) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE automation_rules SET name=?, trigger_json=?, action_json=?, enabled=?, updated_at=? WHERE id=? AND workspace_id=?`,
		rule.Name, rule.TriggerJSON, rule.ActionJSON, boolInt(rule.Enabled), rule.UpdatedAt, rule.ID, rule.WorkspaceID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteRule(ctx context.Context, tx *sql.Tx, workspaceID, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM automation_rules WHERE id=? AND workspace_id=?`, id, workspaceID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
