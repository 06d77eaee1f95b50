package console

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	sdk "pilotdeck/sdk/go"
)

// ApprovalQueue caches the pending approvals and their counts. Resolutions
// are applied to the cache first and compensated when the server call fails.
type ApprovalQueue struct {
	api     API
	limit   int
	workers int

	mu      sync.RWMutex
	pending []sdk.Approval
	counts  sdk.ApprovalCounts
	loaded  bool
	// gen increments on every refresh. A compensation only applies when no
	// refresh replaced the cache in between.
	gen uint64
	// seq orders refresh starts and local mutations. A refresh commits only
	// when nothing newer has touched the cache since it started.
	seq     uint64
	applied uint64

	afterMutation func(context.Context)
}

func NewApprovalQueue(api API, limit, workers int) *ApprovalQueue {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	if workers <= 0 {
		workers = DefaultBatchWorkers
	}
	return &ApprovalQueue{
		api:     api,
		limit:   limit,
		workers: workers,
		counts:  sdk.ApprovalCounts{ByModule: map[string]int{}},
	}
}

// List reads through to the server.
func (q *ApprovalQueue) List(ctx context.Context, f sdk.ApprovalFilter) ([]sdk.Approval, error) {
	page, err := q.api.ListApprovals(ctx, f)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// Count is the authoritative aggregate read.
func (q *ApprovalQueue) Count(ctx context.Context, moduleID string) (sdk.ApprovalCounts, error) {
	return q.api.CountApprovals(ctx, moduleID)
}

// Pending returns a copy of the cached pending items, newest first.
func (q *ApprovalQueue) Pending() []sdk.Approval {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]sdk.Approval{}, q.pending...)
}

// Counts returns a copy of the cached counts.
func (q *ApprovalQueue) Counts() sdk.ApprovalCounts {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := sdk.ApprovalCounts{Total: q.counts.Total, ByModule: make(map[string]int, len(q.counts.ByModule))}
	for k, v := range q.counts.ByModule {
		out.ByModule[k] = v
	}
	return out
}

func (q *ApprovalQueue) Loaded() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.loaded
}

// Refresh reloads the pending list and counts. Each half keeps its last
// known good value when its request fails.
func (q *ApprovalQueue) Refresh(ctx context.Context) error {
	q.mu.Lock()
	q.seq++
	mine := q.seq
	q.mu.Unlock()

	page, listErr := q.api.ListApprovals(ctx, sdk.ApprovalFilter{Status: "pending", Limit: q.limit})
	counts, countErr := q.api.CountApprovals(ctx, "")

	q.mu.Lock()
	if mine < q.applied {
		// Superseded by a mutation or a newer refresh.
		q.mu.Unlock()
		return nil
	}
	q.applied = mine
	if listErr == nil {
		q.pending = append([]sdk.Approval{}, page.Items...)
	}
	if countErr == nil {
		if counts.ByModule == nil {
			counts.ByModule = map[string]int{}
		}
		q.counts = counts
	}
	if listErr == nil || countErr == nil {
		q.gen++
	}
	if listErr == nil && countErr == nil {
		q.loaded = true
	}
	q.mu.Unlock()

	if listErr != nil {
		listErr = fmt.Errorf("list pending: %w", listErr)
	}
	if countErr != nil {
		countErr = fmt.Errorf("count pending: %w", countErr)
	}
	return errors.Join(listErr, countErr)
}

// Resolve approves or rejects id. The item leaves the cached pending list
// and counts at once; a failed request restores both and returns the error.
// Resolving an already-resolved item succeeds.
func (q *ApprovalQueue) Resolve(ctx context.Context, id string, action sdk.ResolveAction) error {
	if err := q.resolve(ctx, id, action); err != nil {
		return err
	}
	if q.afterMutation != nil {
		q.afterMutation(ctx)
	}
	return nil
}

// ResolveBatch resolves each id independently with bounded concurrency.
// Failed ids stay in the cached pending list.
func (q *ApprovalQueue) ResolveBatch(ctx context.Context, ids []string, action sdk.ResolveAction) sdk.BatchResult {
	errs := make([]error, len(ids))
	var g errgroup.Group
	g.SetLimit(q.workers)
	for i, id := range ids {
		g.Go(func() error {
			errs[i] = q.resolve(ctx, id, action)
			return nil
		})
	}
	g.Wait()

	res := sdk.BatchResult{Succeeded: []string{}, Failed: []string{}}
	for i, id := range ids {
		if errs[i] != nil {
			res.Failed = append(res.Failed, id)
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	if len(res.Succeeded) > 0 && q.afterMutation != nil {
		q.afterMutation(ctx)
	}
	return res
}

func (q *ApprovalQueue) resolve(ctx context.Context, id string, action sdk.ResolveAction) error {
	if action != sdk.ActionApprove && action != sdk.ActionReject {
		return fmt.Errorf("invalid action %q", action)
	}
	undo := q.removeLocal(id)
	_, err := q.api.Resolve(ctx, id, action)
	q.mu.Lock()
	q.markMutated()
	q.mu.Unlock()
	if err != nil {
		undo()
		return fmt.Errorf("%s %s: %w", action, id, err)
	}
	return nil
}

// markMutated invalidates every refresh already in flight. Must be called
// with mu held.
func (q *ApprovalQueue) markMutated() {
	q.seq++
	q.applied = q.seq
}

// removeLocal drops id from the cache and returns the compensating update.
func (q *ApprovalQueue) removeLocal(id string) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.markMutated()
	idx := -1
	for i, it := range q.pending {
		if it.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return func() {}
	}
	item := q.pending[idx]
	q.pending = append(q.pending[:idx:idx], q.pending[idx+1:]...)
	q.adjust(item.ModuleID, -1)
	gen := q.gen

	return func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.gen != gen {
			return
		}
		for _, it := range q.pending {
			if it.ID == item.ID {
				return
			}
		}
		at := idx
		if at > len(q.pending) {
			at = len(q.pending)
		}
		q.pending = append(q.pending[:at:at], append([]sdk.Approval{item}, q.pending[at:]...)...)
		q.adjust(item.ModuleID, 1)
	}
}

// adjust must be called with mu held.
func (q *ApprovalQueue) adjust(moduleID string, delta int) {
	if q.counts.ByModule == nil {
		q.counts.ByModule = map[string]int{}
	}
	n := q.counts.ByModule[moduleID] + delta
	if n < 0 {
		n = 0
	}
	if n == 0 {
		delete(q.counts.ByModule, moduleID)
	} else {
		q.counts.ByModule[moduleID] = n
	}
	total := 0
	for _, v := range q.counts.ByModule {
		total += v
	}
	q.counts.Total = total
}
