package console

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	sdk "pilotdeck/sdk/go"
)

var errNetwork = errors.New("network unreachable")

// fakeAPI is an in-memory server with failure injection.
type fakeAPI struct {
	mu          sync.Mutex
	modes       map[string]sdk.Mode
	automatable map[string]bool
	items       map[string]*sdk.Approval
	seq         int
	stats       sdk.ActionStats
	actions     []sdk.Action

	setModeErr  error
	resolveErr  map[string]error
	statsErr    error
	modesErr    error
	setModeHits int
	resolveHits map[string]int
	transitions map[string]int
	refreshHits int

	// A gate holds the next ListApprovals or Modes call after it has read
	// its snapshot. started is closed once that call is holding.
	listGate, listStarted   chan struct{}
	modesGate, modesStarted chan struct{}
}

// holdNextList gates the next ListApprovals call and returns the release
// and started channels.
func (f *fakeAPI) holdNextList() (release, started chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listGate, f.listStarted = make(chan struct{}), make(chan struct{})
	return f.listGate, f.listStarted
}

func (f *fakeAPI) holdNextModes() (release, started chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modesGate, f.modesStarted = make(chan struct{}), make(chan struct{})
	return f.modesGate, f.modesStarted
}

func wait(gate, started chan struct{}) {
	if gate == nil {
		return
	}
	close(started)
	<-gate
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		modes:       map[string]sdk.Mode{},
		automatable: map[string]bool{"content": true, "ads": true, "email": true, "analytics": false},
		items:       map[string]*sdk.Approval{},
		resolveErr:  map[string]error{},
		resolveHits: map[string]int{},
		transitions: map[string]int{},
	}
}

func (f *fakeAPI) add(moduleID, title, priority string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("item-%02d", f.seq)
	f.items[id] = &sdk.Approval{
		ID:        id,
		ModuleID:  moduleID,
		Title:     title,
		Priority:  priority,
		Status:    "pending",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, f.seq, 0, time.UTC).Format(time.RFC3339),
	}
	return id
}

func (f *fakeAPI) Modes(ctx context.Context) (map[string]sdk.ModeState, error) {
	f.mu.Lock()
	f.refreshHits++
	if f.modesErr != nil {
		f.mu.Unlock()
		return nil, f.modesErr
	}
	out := map[string]sdk.ModeState{}
	for id := range f.automatable {
		m := f.modes[id]
		if m == "" {
			m = sdk.ModeManual
		}
		out[id] = sdk.ModeState{ModuleID: id, Mode: m}
	}
	gate, started := f.modesGate, f.modesStarted
	f.modesGate, f.modesStarted = nil, nil
	f.mu.Unlock()
	wait(gate, started)
	return out, nil
}

func (f *fakeAPI) SetMode(ctx context.Context, moduleID string, mode sdk.Mode) (sdk.ModeChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setModeHits++
	if f.setModeErr != nil {
		return sdk.ModeChange{}, f.setModeErr
	}
	prev := f.modes[moduleID]
	if prev == "" {
		prev = sdk.ModeManual
	}
	f.modes[moduleID] = mode
	return sdk.ModeChange{ModeState: sdk.ModeState{ModuleID: moduleID, Mode: mode}, From: prev, Changed: prev != mode}, nil
}

func (f *fakeAPI) pendingLocked(moduleID string) []sdk.Approval {
	var out []sdk.Approval
	for _, it := range f.items {
		if it.Status != "pending" {
			continue
		}
		if moduleID != "" && it.ModuleID != moduleID {
			continue
		}
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

func (f *fakeAPI) ListApprovals(ctx context.Context, filter sdk.ApprovalFilter) (sdk.ApprovalPage, error) {
	f.mu.Lock()
	items := f.pendingLocked(filter.Module)
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	gate, started := f.listGate, f.listStarted
	f.listGate, f.listStarted = nil, nil
	f.mu.Unlock()
	wait(gate, started)
	return sdk.ApprovalPage{Items: items}, nil
}

func (f *fakeAPI) CountApprovals(ctx context.Context, moduleID string) (sdk.ApprovalCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := sdk.ApprovalCounts{ByModule: map[string]int{}}
	for _, it := range f.pendingLocked(moduleID) {
		counts.ByModule[it.ModuleID]++
		counts.Total++
	}
	return counts, nil
}

func (f *fakeAPI) Resolve(ctx context.Context, id string, action sdk.ResolveAction) (sdk.Resolution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveHits[id]++
	if err := f.resolveErr[id]; err != nil {
		return sdk.Resolution{}, err
	}
	it, ok := f.items[id]
	if !ok {
		return sdk.Resolution{}, &sdk.APIError{StatusCode: 404, Body: `{"error":{"code":"not_found"}}`}
	}
	if it.Status != "pending" {
		return sdk.Resolution{Item: *it}, nil
	}
	if action == sdk.ActionApprove {
		it.Status = "approved"
	} else {
		it.Status = "rejected"
	}
	f.transitions[id]++
	return sdk.Resolution{Item: *it, Applied: true}, nil
}

func (f *fakeAPI) ListActions(ctx context.Context, filter sdk.ActionFilter) (sdk.ActionPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sdk.ActionPage{Items: append([]sdk.Action{}, f.actions...)}, nil
}

func (f *fakeAPI) ActionStats(ctx context.Context, moduleID string) (sdk.ActionStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statsErr != nil {
		return sdk.ActionStats{}, f.statsErr
	}
	return f.stats, nil
}

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
