package console

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sdk "pilotdeck/sdk/go"
)

var ErrInvalidMode = errors.New("invalid automation mode")

// ModeRegistry caches the automation mode of every module.
type ModeRegistry struct {
	api API

	mu     sync.RWMutex
	modes  map[string]sdk.Mode
	loaded bool
	// seq orders refresh starts and successful SetMode calls; see
	// ApprovalQueue.
	seq     uint64
	applied uint64

	afterMutation func(context.Context)
}

func NewModeRegistry(api API) *ModeRegistry {
	return &ModeRegistry{api: api, modes: map[string]sdk.Mode{}}
}

// GetMode returns the cached mode, manual when the module is unknown.
func (r *ModeRegistry) GetMode(moduleID string) sdk.Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.modes[moduleID]; ok {
		return m
	}
	return sdk.ModeManual
}

// Modes returns a copy of the cache.
func (r *ModeRegistry) Modes() map[string]sdk.Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]sdk.Mode, len(r.modes))
	for k, v := range r.modes {
		out[k] = v
	}
	return out
}

// Loaded reports whether a refresh has succeeded at least once.
func (r *ModeRegistry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// SetMode persists target upstream and updates the cache only on success.
// Errors are returned to the caller and never retried.
func (r *ModeRegistry) SetMode(ctx context.Context, moduleID string, target sdk.Mode) error {
	if !target.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, target)
	}
	change, err := r.api.SetMode(ctx, moduleID, target)
	if err != nil {
		return fmt.Errorf("set mode %s=%s: %w", moduleID, target, err)
	}
	mode := change.Mode
	if !mode.Valid() {
		mode = target
	}
	r.mu.Lock()
	r.modes[moduleID] = mode
	r.seq++
	r.applied = r.seq
	r.mu.Unlock()
	if r.afterMutation != nil {
		r.afterMutation(ctx)
	}
	return nil
}

// Refresh replaces the cache with the server's view. On error the cache is
// left as it was.
func (r *ModeRegistry) Refresh(ctx context.Context) error {
	r.mu.Lock()
	r.seq++
	mine := r.seq
	r.mu.Unlock()

	states, err := r.api.Modes(ctx)
	if err != nil {
		return err
	}
	next := make(map[string]sdk.Mode, len(states))
	for id, st := range states {
		next[id] = sdk.CoerceMode(string(st.Mode))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if mine < r.applied {
		return nil
	}
	r.applied = mine
	r.modes = next
	r.loaded = true
	return nil
}
