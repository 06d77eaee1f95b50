package repo

import (
	"context"
	"database/sql"
	"errors"

	"pilotdeck/internal/domain"
)

// ListModes returns the stored mode rows of a workspace. Modules never set are
// absent; callers fill catalog defaults.
func (r Repo) ListModes(ctx context.Context, workspaceID string) ([]domain.ModeState, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT workspace_id,module_id,mode,COALESCE(updated_by,''),updated_at FROM automation_modes WHERE workspace_id=? ORDER BY module_id`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ModeState
	for rows.Next() {
		var m domain.ModeState
		if err := rows.Scan(&m.WorkspaceID, &m.ModuleID, &m.Mode, &m.UpdatedBy, &m.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) GetMode(ctx context.Context, tx *sql.Tx, workspaceID, moduleID string) (domain.ModeState, error) {
	var m domain.ModeState
	err := r.q(tx).QueryRowContext(ctx, `SELECT workspace_id,module_id,mode,COALESCE(updated_by,''),updated_at FROM automation_modes WHERE workspace_id=? AND module_id=?`, workspaceID, moduleID).
		Scan(&m.WorkspaceID, &m.ModuleID, &m.Mode, &m.UpdatedBy, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrNotFound
	}
	return m, err
}

// UpsertMode writes the mode for one module, replacing any previous value.
func (r Repo) UpsertMode(ctx context.Context, tx *sql.Tx, m domain.ModeState) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO automation_modes(workspace_id,module_id,mode,updated_by,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(workspace_id,module_id) DO UPDATE SET mode=excluded.mode, updated_by=excluded.updated_by, updated_at=excluded.updated_at`,
		m.WorkspaceID, m.ModuleID, string(m.Mode), nullable(m.UpdatedBy), m.UpdatedAt)
	return err
}
