package engine

import (
	"context"
	"errors"
	"fmt"

	"pilotdeck/internal/domain"
	"pilotdeck/internal/events"
	"pilotdeck/internal/repo"
)

// Modes returns the mode of every catalog module, manual where none was ever
// set, followed by stored rows of modules that left the catalog.
func (e Engine) Modes(ctx context.Context, workspaceID string) ([]domain.ModeState, error) {
	stored, err := e.Repo.ListModes(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	byModule := make(map[string]domain.ModeState, len(stored))
	for _, m := range stored {
		byModule[m.ModuleID] = m
	}
	var res []domain.ModeState
	for _, mod := range e.Modules() {
		if m, ok := byModule[mod.ID]; ok {
			res = append(res, m)
			delete(byModule, mod.ID)
			continue
		}
		res = append(res, domain.ModeState{WorkspaceID: workspaceID, ModuleID: mod.ID, Mode: domain.ModeManual})
	}
	for _, m := range stored {
		if _, ok := byModule[m.ModuleID]; ok {
			res = append(res, m)
		}
	}
	return res, nil
}

// GetMode never fails for a catalog module; unset modules are manual.
func (e Engine) GetMode(ctx context.Context, workspaceID, moduleID string) (domain.ModeState, error) {
	if _, err := e.Module(moduleID); err != nil {
		return domain.ModeState{}, err
	}
	m, err := e.Repo.GetMode(ctx, nil, workspaceID, moduleID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ModeState{WorkspaceID: workspaceID, ModuleID: moduleID, Mode: domain.ModeManual}, nil
	}
	return m, err
}

// ModeChange is the outcome of SetMode. Changed is false when the stored value
// already equalled the target.
type ModeChange struct {
	State   domain.ModeState
	From    domain.AutomationMode
	Changed bool
}

// SetMode upserts the mode of one module. Setting the current value is a
// successful no-op that writes neither row nor event.
func (e Engine) SetMode(ctx context.Context, workspaceID, moduleID string, mode domain.AutomationMode, actorID string) (ModeChange, error) {
	if !mode.Valid() {
		return ModeChange{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	mod, err := e.Module(moduleID)
	if err != nil {
		return ModeChange{}, err
	}
	if mode != domain.ModeManual && !mod.Automatable {
		return ModeChange{}, fmt.Errorf("%w: %s", ErrNotAutomatable, moduleID)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ModeChange{}, err
	}
	defer tx.Rollback()

	current, err := e.Repo.GetMode(ctx, tx, workspaceID, moduleID)
	if errors.Is(err, repo.ErrNotFound) {
		current = domain.ModeState{WorkspaceID: workspaceID, ModuleID: moduleID, Mode: domain.ModeManual}
	} else if err != nil {
		return ModeChange{}, err
	}
	if current.Mode == mode {
		return ModeChange{State: current, From: current.Mode}, nil
	}
	next := domain.ModeState{
		WorkspaceID: workspaceID,
		ModuleID:    moduleID,
		Mode:        mode,
		UpdatedBy:   actorID,
		UpdatedAt:   e.stamp(),
	}
	if err := e.Repo.UpsertMode(ctx, tx, next); err != nil {
		return ModeChange{}, fmt.Errorf("upsert mode: %w", err)
	}
	if _, err := e.eventWriter().Append(ctx, tx, events.ModeChanged, workspaceID, "module", moduleID, actorID, events.EventPayload{
		"from": string(current.Mode),
		"to":   string(mode),
	}); err != nil {
		return ModeChange{}, err
	}
	if err := tx.Commit(); err != nil {
		return ModeChange{}, err
	}
	e.logger().Info("automation mode changed", "workspace", workspaceID, "module", moduleID, "from", current.Mode, "to", mode, "actor", actorID)
	return ModeChange{State: next, From: current.Mode, Changed: true}, nil
}
