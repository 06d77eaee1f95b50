package console

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sdk "pilotdeck/sdk/go"
)

// ActionStore caches action statistics and the most recent action records.
// Before the first successful load both are zero values.
type ActionStore struct {
	api   API
	limit int

	mu     sync.RWMutex
	stats  sdk.ActionStats
	recent []sdk.Action
	loaded bool

	seq     uint64
	applied uint64
}

func NewActionStore(api API, limit int) *ActionStore {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return &ActionStore{api: api, limit: limit}
}

func (s *ActionStore) Stats() sdk.ActionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *ActionStore) Recent() []sdk.Action {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]sdk.Action{}, s.recent...)
}

func (s *ActionStore) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Refresh reloads stats and recent actions. A pass that finishes after a
// newer one has committed is dropped.
func (s *ActionStore) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.seq++
	mine := s.seq
	s.mu.Unlock()

	stats, statsErr := s.api.ActionStats(ctx, "")
	page, listErr := s.api.ListActions(ctx, sdk.ActionFilter{Limit: s.limit})

	s.mu.Lock()
	if mine < s.applied {
		s.mu.Unlock()
		return nil
	}
	s.applied = mine
	if statsErr == nil {
		s.stats = stats
	}
	if listErr == nil {
		s.recent = append([]sdk.Action{}, page.Items...)
	}
	if statsErr == nil && listErr == nil {
		s.loaded = true
	}
	s.mu.Unlock()

	if statsErr != nil {
		statsErr = fmt.Errorf("action stats: %w", statsErr)
	}
	if listErr != nil {
		listErr = fmt.Errorf("recent actions: %w", listErr)
	}
	return errors.Join(statsErr, listErr)
}
