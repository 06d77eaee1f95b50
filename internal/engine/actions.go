package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"pilotdeck/internal/domain"
	"pilotdeck/internal/events"
	"pilotdeck/internal/repo"
)

type ActionRecordOptions struct {
	ID          string              `validate:"omitempty,max=128"`
	WorkspaceID string              `validate:"required"`
	ModuleID    string              `validate:"required"`
	ApprovalID  string              `validate:"omitempty,max=128"`
	Description string              `validate:"required,max=2000"`
	Status      domain.ActionStatus `validate:"omitempty,oneof=pending completed failed"`
	DurationMs  int64               `validate:"min=0"`
	Error       string              `validate:"max=4000"`
	ActorID     string
}

// RecordAction appends an action record, typically one executed by the agent
// under autopilot. A terminal status stamps completed_at immediately.
func (e Engine) RecordAction(ctx context.Context, opts ActionRecordOptions) (domain.ActionRecord, error) {
	opts.Description = strings.TrimSpace(opts.Description)
	if err := e.check(opts); err != nil {
		return domain.ActionRecord{}, err
	}
	if _, err := e.Module(opts.ModuleID); err != nil {
		return domain.ActionRecord{}, err
	}
	if opts.Status == "" {
		opts.Status = domain.ActionPending
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	now := e.stamp()
	rec := domain.ActionRecord{
		ID:          opts.ID,
		WorkspaceID: opts.WorkspaceID,
		ModuleID:    opts.ModuleID,
		ApprovalID:  optionalString(opts.ApprovalID),
		Description: opts.Description,
		Status:      opts.Status,
		DurationMs:  opts.DurationMs,
		Error:       opts.Error,
		CreatedAt:   now,
	}
	if rec.Status.Terminal() {
		rec.CompletedAt = &now
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ActionRecord{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAction(ctx, tx, rec); err != nil {
		return domain.ActionRecord{}, fmt.Errorf("insert action: %w", err)
	}
	if _, err := e.eventWriter().Append(ctx, tx, events.ActionRecorded, rec.WorkspaceID, "action", rec.ID, opts.ActorID, events.EventPayload{
		"module_id": rec.ModuleID,
		"status":    string(rec.Status),
	}); err != nil {
		return domain.ActionRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ActionRecord{}, err
	}
	return rec, nil
}

// CompleteAction moves a pending record to completed or failed. Repeating the
// same terminal status is a no-op (applied=false); asking for the other one
// fails with ErrActionFinal.
func (e Engine) CompleteAction(ctx context.Context, workspaceID, id string, status domain.ActionStatus, durationMs int64, errMsg, actorID string) (domain.ActionRecord, bool, error) {
	if !status.Terminal() {
		return domain.ActionRecord{}, false, fmt.Errorf("%w: status must be completed or failed", ErrInvalidInput)
	}
	if durationMs < 0 {
		return domain.ActionRecord{}, false, fmt.Errorf("%w: duration_ms must not be negative", ErrInvalidInput)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ActionRecord{}, false, err
	}
	defer tx.Rollback()

	applied, err := e.Repo.CompleteAction(ctx, tx, workspaceID, id, status, durationMs, errMsg, e.stamp())
	if err != nil {
		return domain.ActionRecord{}, false, fmt.Errorf("complete action: %w", err)
	}
	rec, err := e.Repo.GetAction(ctx, tx, workspaceID, id)
	if err != nil {
		return domain.ActionRecord{}, false, err
	}
	if !applied {
		if rec.Status != status {
			return rec, false, fmt.Errorf("%w: %s is %s", ErrActionFinal, id, rec.Status)
		}
		return rec, false, tx.Commit()
	}
	evtType := events.ActionCompleted
	if status == domain.ActionFailed {
		evtType = events.ActionFailed
	}
	if _, err := e.eventWriter().Append(ctx, tx, evtType, workspaceID, "action", id, actorID, events.EventPayload{
		"module_id":   rec.ModuleID,
		"duration_ms": durationMs,
		"error":       errMsg,
	}); err != nil {
		return domain.ActionRecord{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ActionRecord{}, false, err
	}
	return rec, true, nil
}

type ActionQuery struct {
	WorkspaceID     string
	ModuleID        string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListActions returns one page of records newest first and whether more remain.
func (e Engine) ListActions(ctx context.Context, q ActionQuery) ([]domain.ActionRecord, bool, error) {
	switch domain.ActionStatus(q.Status) {
	case "", domain.ActionPending, domain.ActionCompleted, domain.ActionFailed:
	default:
		return nil, false, fmt.Errorf("%w: status %q", ErrInvalidInput, q.Status)
	}
	limit := clampLimit(q.Limit)
	recs, err := e.Repo.ListActions(ctx, repo.ActionFilters{
		WorkspaceID:     q.WorkspaceID,
		ModuleID:        q.ModuleID,
		Status:          q.Status,
		Limit:           limit + 1,
		CursorCreatedAt: q.CursorCreatedAt,
		CursorID:        q.CursorID,
	})
	if err != nil {
		return nil, false, err
	}
	more := len(recs) > limit
	if more {
		recs = recs[:limit]
	}
	return recs, more, nil
}

// ActionStats derives counters from stored records. Today counts records
// created since midnight UTC on the engine clock; completed and failed are
// all-time totals.
func (e Engine) ActionStats(ctx context.Context, workspaceID, moduleID string) (domain.ActionStats, error) {
	if moduleID != "" {
		if _, err := e.Module(moduleID); err != nil {
			return domain.ActionStats{}, err
		}
	}
	now := e.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	today, completed, failed, err := e.Repo.ActionCounts(ctx, workspaceID, moduleID, domain.FormatTime(midnight))
	if err != nil {
		return domain.ActionStats{}, err
	}
	return domain.ActionStats{
		ModuleID:    moduleID,
		Today:       today,
		Completed:   completed,
		Failed:      failed,
		SuccessRate: SuccessRate(completed, failed),
	}, nil
}

// SuccessRate is round(100*completed/(completed+failed)), 0 with no terminal records.
func SuccessRate(completed, failed int) int {
	total := completed + failed
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}
