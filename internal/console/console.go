// Package console is the client core of PilotDeck. It keeps cached
// projections of modes, pending approvals and action statistics, applies
// optimistic mutations with compensation, and polls the server to bound
// staleness.
package console

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	sdk "pilotdeck/sdk/go"
)

// API is the part of the PilotDeck client the console depends on.
type API interface {
	Modes(ctx context.Context) (map[string]sdk.ModeState, error)
	SetMode(ctx context.Context, moduleID string, mode sdk.Mode) (sdk.ModeChange, error)
	ListApprovals(ctx context.Context, f sdk.ApprovalFilter) (sdk.ApprovalPage, error)
	CountApprovals(ctx context.Context, moduleID string) (sdk.ApprovalCounts, error)
	Resolve(ctx context.Context, id string, action sdk.ResolveAction) (sdk.Resolution, error)
	ListActions(ctx context.Context, f sdk.ActionFilter) (sdk.ActionPage, error)
	ActionStats(ctx context.Context, moduleID string) (sdk.ActionStats, error)
}

const (
	DefaultConfirmWindow = 4000 * time.Millisecond
	DefaultSyncInterval  = 30 * time.Second
	DefaultPendingLimit  = 50
	DefaultRecentLimit   = 20
	DefaultBatchWorkers  = 4
)

type Options struct {
	ConfirmWindow time.Duration
	SyncInterval  time.Duration
	PendingLimit  int
	BatchWorkers  int
	Modules       []sdk.Module
	Now           func() time.Time
	Logger        *slog.Logger
	Registerer    prometheus.Registerer
}

// Console bundles the stores and the coordinator that refreshes them.
type Console struct {
	Modes   *ModeRegistry
	Confirm *Confirmer
	Queue   *ApprovalQueue
	Actions *ActionStore
	Sync    *Coordinator

	modules []sdk.Module
}

func New(api API, opts Options) *Console {
	if opts.ConfirmWindow <= 0 {
		opts.ConfirmWindow = DefaultConfirmWindow
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}
	if opts.PendingLimit <= 0 {
		opts.PendingLimit = DefaultPendingLimit
	}
	if opts.BatchWorkers <= 0 {
		opts.BatchWorkers = DefaultBatchWorkers
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	modes := NewModeRegistry(api)
	queue := NewApprovalQueue(api, opts.PendingLimit, opts.BatchWorkers)
	actions := NewActionStore(api, DefaultRecentLimit)
	sync := NewCoordinator(opts.SyncInterval, opts.Logger, NewMetrics(opts.Registerer))
	sync.Register("modes", modes)
	sync.Register("approvals", queue)
	sync.Register("actions", actions)

	// Every mutation is followed by an out-of-band refresh.
	modes.afterMutation = sync.refreshAfterMutation
	queue.afterMutation = sync.refreshAfterMutation

	confirm := NewConfirmer(modes, opts.ConfirmWindow, opts.Now)
	sync.onTick = func() { confirm.Sweep() }

	return &Console{
		Modes:   modes,
		Confirm: confirm,
		Queue:   queue,
		Actions: actions,
		Sync:    sync,
		modules: append([]sdk.Module(nil), opts.Modules...),
	}
}

// Snapshot captures every cached projection at one instant.
func (c *Console) Snapshot() Snapshot {
	return Snapshot{
		Ready:   c.Sync.Ready(),
		Modules: append([]sdk.Module(nil), c.modules...),
		Modes:   c.Modes.Modes(),
		Armed:   c.Confirm.ArmedTargets(),
		Pending: c.Queue.Pending(),
		Counts:  c.Queue.Counts(),
		Stats:   c.Actions.Stats(),
		Recent:  c.Actions.Recent(),
	}
}
