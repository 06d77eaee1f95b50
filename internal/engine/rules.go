package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"pilotdeck/internal/domain"
	"pilotdeck/internal/events"
)

type RuleCreateOptions struct {
	WorkspaceID string `validate:"required"`
	ModuleID    string `validate:"required"`
	Name        string `validate:"required,max=200"`
	TriggerJSON string `validate:"required"`
	ActionJSON  string `validate:"required"`
	Enabled     *bool
	ActorID     string
}

func (e Engine) CreateRule(ctx context.Context, opts RuleCreateOptions) (domain.Rule, error) {
	opts.Name = strings.TrimSpace(opts.Name)
	if err := e.check(opts); err != nil {
		return domain.Rule{}, err
	}
	if _, err := e.Module(opts.ModuleID); err != nil {
		return domain.Rule{}, err
	}
	if err := validateJSONObject("trigger", opts.TriggerJSON); err != nil {
		return domain.Rule{}, err
	}
	if err := validateJSONObject("action", opts.ActionJSON); err != nil {
		return domain.Rule{}, err
	}
	now := e.stamp()
	rule := domain.Rule{
		ID:          uuid.NewString(),
		WorkspaceID: opts.WorkspaceID,
		ModuleID:    opts.ModuleID,
		Name:        opts.Name,
		TriggerJSON: opts.TriggerJSON,
		ActionJSON:  opts.ActionJSON,
		Enabled:     opts.Enabled == nil || *opts.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Rule{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRule(ctx, tx, rule); err != nil {
		return domain.Rule{}, fmt.Errorf("insert rule: %w", err)
	}
	if _, err := e.eventWriter().Append(ctx, tx, events.RuleCreated, rule.WorkspaceID, "rule", rule.ID, opts.ActorID, events.EventPayload{"module_id": rule.ModuleID, "name": rule.Name}); err != nil {
		return domain.Rule{}, err
	}
	return rule, tx.Commit()
}

func (e Engine) GetRule(ctx context.Context, workspaceID, id string) (domain.Rule, error) {
	return e.Repo.GetRule(ctx, nil, workspaceID, id)
}

func (e Engine) ListRules(ctx context.Context, workspaceID, moduleID string) ([]domain.Rule, error) {
	return e.Repo.ListRules(ctx, workspaceID, moduleID)
}

// RuleUpdateOptions carries a partial update; nil fields are left unchanged.
type RuleUpdateOptions struct {
	Name        *string
	TriggerJSON *string
	ActionJSON  *string
	Enabled     *bool
	ActorID     string
}

func (e Engine) UpdateRule(ctx context.Context, workspaceID, id string, opts RuleUpdateOptions) (domain.Rule, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Rule{}, err
	}
	defer tx.Rollback()
	rule, err := e.Repo.GetRule(ctx, tx, workspaceID, id)
	if err != nil {
		return domain.Rule{}, err
	}
	changed := map[string]any{}
	if opts.Name != nil {
		name := strings.TrimSpace(*opts.Name)
		if name == "" {
			return domain.Rule{}, fmt.Errorf("%w: name required", ErrInvalidInput)
		}
		rule.Name = name
		changed["name"] = name
	}
	if opts.TriggerJSON != nil {
		if strings.TrimSpace(*opts.TriggerJSON) == "" {
			return domain.Rule{}, fmt.Errorf("%w: trigger required", ErrInvalidInput)
		}
		if err := validateJSONObject("trigger", *opts.TriggerJSON); err != nil {
			return domain.Rule{}, err
		}
		rule.TriggerJSON = *opts.TriggerJSON
		changed["trigger"] = true
	}
	if opts.ActionJSON != nil {
		if strings.TrimSpace(*opts.ActionJSON) == "" {
			return domain.Rule{}, fmt.Errorf("%w: action required", ErrInvalidInput)
		}
		if err := validateJSONObject("action", *opts.ActionJSON); err != nil {
			return domain.Rule{}, err
		}
		rule.ActionJSON = *opts.ActionJSON
		changed["action"] = true
	}
	if opts.Enabled != nil {
		rule.Enabled = *opts.Enabled
		changed["enabled"] = rule.Enabled
	}
	if len(changed) == 0 {
		return rule, nil
	}
	rule.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateRule(ctx, tx, rule); err != nil {
		return domain.Rule{}, err
	}
	if _, err := e.eventWriter().Append(ctx, tx, events.RuleUpdated, workspaceID, "rule", id, opts.ActorID, changed); err != nil {
		return domain.Rule{}, err
	}
	return rule, tx.Commit()
}

func (e Engine) DeleteRule(ctx context.Context, workspaceID, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteRule(ctx, tx, workspaceID, id); err != nil {
		return err
	}
	if _, err := e.eventWriter().Append(ctx, tx, events.RuleDeleted, workspaceID, "rule", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}
