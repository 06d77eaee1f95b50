package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"pilotdeck/internal/domain"
)

// Event types appended to the workspace log.
const (
	ModeChanged      = "mode.changed"
	ApprovalCreated  = "approval.created"
	ApprovalApproved = "approval.approved"
	ApprovalRejected = "approval.rejected"
	ActionRecorded   = "action.recorded"
	ActionCompleted  = "action.completed"
	ActionFailed     = "action.failed"
	RuleCreated      = "rule.created"
	RuleUpdated      = "rule.updated"
	RuleDeleted      = "rule.deleted"
	APIKeyCreated    = "api_key.created"
	WorkspaceCreated = "workspace.created"
)

// Writer appends events inside the caller's transaction so a state change and
// its event commit together.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append inserts one event row and returns its id.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, workspaceID, entityKind, entityID, actorID string, payload EventPayload) (int64, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,workspace_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		domain.FormatTime(now()), evtType, nullable(workspaceID), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
