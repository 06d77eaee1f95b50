package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"pilotdeck/internal/domain"
)

func scanEvent(s scanner) (domain.Event, error) {
	var e domain.Event
	var workspaceID, entityID, payload sql.NullString
	if err := s.Scan(&e.ID, &e.TS, &e.Type, &workspaceID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
		return e, err
	}
	e.WorkspaceID = workspaceID.String
	e.EntityID = entityID.String
	e.Payload = payload.String
	return e, nil
}

// LatestEvents returns events newest first. cursor, when positive, restricts
// results to ids below it.
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, workspaceID, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if workspaceID != "" {
		clauses = append(clauses, "workspace_id=?")
		args = append(args, workspaceID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,workspace_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, workspaceID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if workspaceID != "" {
		clauses = append(clauses, "workspace_id=?")
		args = append(args, workspaceID)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,workspace_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID, across all workspaces when
// workspaceID is empty.
func (r Repo) LatestEventID(ctx context.Context, workspaceID string) (int64, error) {
	var id int64
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if workspaceID != "" {
		query += ` WHERE workspace_id=?`
		args = append(args, workspaceID)
	}
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id)
	return id, err
}

// WebhookCursor returns the last delivered event id for a hook. ok is false
// when the hook never delivered.
func (r Repo) WebhookCursor(ctx context.Context, hookURL string) (id int64, ok bool, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT last_event_id FROM webhook_cursors WHERE hook_url=?`, hookURL).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// SetWebhookCursor persists the delivery position of a hook.
func (r Repo) SetWebhookCursor(ctx context.Context, hookURL string, eventID int64) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO webhook_cursors(hook_url,last_event_id,updated_at) VALUES (?,?,?)
ON CONFLICT(hook_url) DO UPDATE SET last_event_id=excluded.last_event_id, updated_at=excluded.updated_at`,
		hookURL, eventID, domain.FormatTime(time.Now()))
	return err
}
