package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"pilotdeck/internal/domain"
	"pilotdeck/internal/events"
	"pilotdeck/internal/repo"
)

// ApprovalCreateOptions are parameters the upstream agent submits for a
// proposed action.
type ApprovalCreateOptions struct {
	ID          string          `validate:"omitempty,max=128"`
	WorkspaceID string          `validate:"required"`
	ModuleID    string          `validate:"required"`
	Title       string          `validate:"required,max=300"`
	Description string          `validate:"max=4000"`
	Payload     string          `validate:"max=65536"`
	Priority    domain.Priority `validate:"omitempty,oneof=low medium high urgent"`
	Confidence  *int            `validate:"omitempty,min=0,max=100"`
	ActorID     string
}

// CreateApproval stores a pending item. A caller-supplied ID makes the call
// idempotent: repeating it returns the stored item with created=false.
func (e Engine) CreateApproval(ctx context.Context, opts ApprovalCreateOptions) (domain.ApprovalItem, bool, error) {
	opts.Title = strings.TrimSpace(opts.Title)
	if err := e.check(opts); err != nil {
		return domain.ApprovalItem{}, false, err
	}
	if _, err := e.Module(opts.ModuleID); err != nil {
		return domain.ApprovalItem{}, false, err
	}
	if err := validateJSON("payload", opts.Payload); err != nil {
		return domain.ApprovalItem{}, false, err
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ApprovalItem{}, false, err
	}
	defer tx.Rollback()

	id := opts.ID
	if id != "" {
		existing, err := e.Repo.GetApprovalAnyWorkspace(ctx, tx, id)
		switch {
		case err == nil && existing.WorkspaceID == opts.WorkspaceID:
			return existing, false, nil
		case err == nil:
			return domain.ApprovalItem{}, false, fmt.Errorf("%w: approval id %s already used", ErrConflict, id)
		case !errors.Is(err, repo.ErrNotFound):
			return domain.ApprovalItem{}, false, err
		}
	} else {
		id = uuid.NewString()
	}
	item := domain.ApprovalItem{
		ID:          id,
		WorkspaceID: opts.WorkspaceID,
		ModuleID:    opts.ModuleID,
		Title:       opts.Title,
		Description: opts.Description,
		Payload:     opts.Payload,
		Priority:    opts.Priority,
		Confidence:  opts.Confidence,
		Status:      domain.ApprovalPending,
		CreatedBy:   opts.ActorID,
		CreatedAt:   e.stamp(),
	}
	if err := e.Repo.InsertApproval(ctx, tx, item); err != nil {
		return domain.ApprovalItem{}, false, fmt.Errorf("insert approval: %w", err)
	}
	if _, err := e.eventWriter().Append(ctx, tx, events.ApprovalCreated, item.WorkspaceID, "approval", item.ID, opts.ActorID, events.EventPayload{
		"module_id": item.ModuleID,
		"priority":  string(item.Priority),
	}); err != nil {
		return domain.ApprovalItem{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ApprovalItem{}, false, err
	}
	return item, true, nil
}

// ApprovalQuery filters ListApprovals. Status "" means pending and "all"
// disables the status filter.
type ApprovalQuery struct {
	WorkspaceID     string
	ModuleID        string
	Status          string
	Priority        string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListApprovals returns one page of items newest first and whether more remain.
func (e Engine) ListApprovals(ctx context.Context, q ApprovalQuery) ([]domain.ApprovalItem, bool, error) {
	status := q.Status
	switch status {
	case "":
		status = string(domain.ApprovalPending)
	case "all":
		status = ""
	case string(domain.ApprovalPending), string(domain.ApprovalApproved), string(domain.ApprovalRejected):
	default:
		return nil, false, fmt.Errorf("%w: status %q", ErrInvalidInput, q.Status)
	}
	switch domain.Priority(q.Priority) {
	case "", domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh, domain.PriorityUrgent:
	default:
		return nil, false, fmt.Errorf("%w: priority %q", ErrInvalidInput, q.Priority)
	}
	limit := clampLimit(q.Limit)
	items, err := e.Repo.ListApprovals(ctx, repo.ApprovalFilters{
		WorkspaceID:     q.WorkspaceID,
		ModuleID:        q.ModuleID,
		Status:          status,
		Priority:        q.Priority,
		Limit:           limit + 1,
		CursorCreatedAt: q.CursorCreatedAt,
		CursorID:        q.CursorID,
	})
	if err != nil {
		return nil, false, err
	}
	more := len(items) > limit
	if more {
		items = items[:limit]
	}
	return items, more, nil
}

func (e Engine) GetApproval(ctx context.Context, workspaceID, id string) (domain.ApprovalItem, error) {
	return e.Repo.GetApproval(ctx, nil, workspaceID, id)
}

// ResolveApproval applies a decision to a pending item. Exactly one caller
// sees Applied=true; later calls succeed with the stored terminal item. An
// applied approve records a pending action linked to the item and appends
// approval.approved in the same transaction.
func (e Engine) ResolveApproval(ctx context.Context, workspaceID, id string, action domain.ResolveAction, actorID string) (domain.Resolution, error) {
	status, ok := action.Status()
	if !ok {
		return domain.Resolution{}, fmt.Errorf("%w: action %q", ErrInvalidInput, action)
	}
	if strings.TrimSpace(id) == "" {
		return domain.Resolution{}, fmt.Errorf("%w: id required", ErrInvalidInput)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Resolution{}, err
	}
	defer tx.Rollback()

	now := e.stamp()
	applied, err := e.Repo.ResolveApproval(ctx, tx, workspaceID, id, status, actorID, now)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("resolve approval: %w", err)
	}
	item, err := e.Repo.GetApproval(ctx, tx, workspaceID, id)
	if err != nil {
		return domain.Resolution{}, err
	}
	res := domain.Resolution{Item: item, Applied: applied}
	if !applied {
		if item.Status == domain.ApprovalApproved {
			if rec, err := e.Repo.GetActionByApproval(ctx, tx, item.ID); err == nil {
				res.ActionID = rec.ID
			}
		}
		return res, tx.Commit()
	}

	payload := events.EventPayload{"module_id": item.ModuleID, "title": item.Title}
	evtType := events.ApprovalRejected
	if status == domain.ApprovalApproved {
		rec := domain.ActionRecord{
			ID:          uuid.NewString(),
			WorkspaceID: workspaceID,
			ModuleID:    item.ModuleID,
			ApprovalID:  &item.ID,
			Description: item.Title,
			Status:      domain.ActionPending,
			CreatedAt:   now,
		}
		if err := e.Repo.InsertAction(ctx, tx, rec); err != nil {
			return domain.Resolution{}, fmt.Errorf("insert action: %w", err)
		}
		res.ActionID = rec.ID
		evtType = events.ApprovalApproved
		payload["action_id"] = rec.ID
		if item.Payload != "" {
			payload["payload"] = item.Payload
		}
	}
	if _, err := e.eventWriter().Append(ctx, tx, evtType, workspaceID, "approval", item.ID, actorID, payload); err != nil {
		return domain.Resolution{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Resolution{}, err
	}
	e.logger().Info("approval resolved", "workspace", workspaceID, "id", item.ID, "status", item.Status, "actor", actorID)
	return res, nil
}

// ResolveApprovalBatch resolves each id independently. Already-resolved ids
// count as succeeded; unknown ids and per-item errors land in Failed.
func (e Engine) ResolveApprovalBatch(ctx context.Context, workspaceID string, ids []string, action domain.ResolveAction, actorID string) (domain.BatchResult, error) {
	if _, ok := action.Status(); !ok {
		return domain.BatchResult{}, fmt.Errorf("%w: action %q", ErrInvalidInput, action)
	}
	res := domain.BatchResult{Succeeded: []string{}, Failed: []string{}}
	for _, id := range ids {
		if _, err := e.ResolveApproval(ctx, workspaceID, id, action, actorID); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			e.logger().Warn("batch resolve item failed", "workspace", workspaceID, "id", id, "err", err)
			res.Failed = append(res.Failed, id)
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res, nil
}

// CountApprovals aggregates pending items by module. With moduleID set only
// that module is reported. Total always equals the sum of ByModule.
func (e Engine) CountApprovals(ctx context.Context, workspaceID, moduleID string) (domain.ApprovalCounts, error) {
	byModule, err := e.Repo.CountPendingByModule(ctx, workspaceID)
	if err != nil {
		return domain.ApprovalCounts{}, err
	}
	counts := domain.ApprovalCounts{ByModule: map[string]int{}}
	for module, n := range byModule {
		if moduleID != "" && module != moduleID {
			continue
		}
		counts.ByModule[module] = n
		counts.Total += n
	}
	return counts, nil
}
