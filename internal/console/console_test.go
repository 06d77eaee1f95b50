package console

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdk "pilotdeck/sdk/go"
)

func newTestConsole(t *testing.T, api *fakeAPI, clk *clock) *Console {
	t.Helper()
	return New(api, Options{Now: clk.Now, Registerer: prometheus.NewRegistry()})
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := 0
			for _, lp := range m.GetLabel() {
				if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestModeDefaultsToManual(t *testing.T) {
	c := newTestConsole(t, newFakeAPI(), newClock())
	assert.Equal(t, sdk.ModeManual, c.Modes.GetMode("content"))
	assert.Equal(t, sdk.ModeManual, c.Modes.GetMode("does-not-exist"))
}

func TestSetModeFailureLeavesCacheUntouched(t *testing.T) {
	api := newFakeAPI()
	c := newTestConsole(t, api, newClock())
	ctx := context.Background()

	require.NoError(t, c.Modes.SetMode(ctx, "content", sdk.ModeCopilot))
	assert.Equal(t, sdk.ModeCopilot, c.Modes.GetMode("content"))

	api.setModeErr = errNetwork
	err := c.Modes.SetMode(ctx, "content", sdk.ModeAutopilot)
	require.ErrorIs(t, err, errNetwork)
	assert.Equal(t, sdk.ModeCopilot, c.Modes.GetMode("content"))

	hits := api.setModeHits
	err = c.Modes.SetMode(ctx, "content", sdk.Mode("turbo"))
	require.ErrorIs(t, err, ErrInvalidMode)
	assert.Equal(t, hits, api.setModeHits, "invalid mode must not reach the server")
}

func TestConfirmWindowCommitsSecondPress(t *testing.T) {
	api := newFakeAPI()
	clk := newClock()
	c := newTestConsole(t, api, clk)
	ctx := context.Background()

	out, err := c.Confirm.Request(ctx, "content", sdk.ModeAutopilot)
	require.NoError(t, err)
	assert.Equal(t, OutcomeArmed, out)
	assert.Equal(t, 0, api.setModeHits, "first press must not call the server")
	assert.Equal(t, sdk.ModeManual, c.Modes.GetMode("content"))
	assert.Equal(t, sdk.ModeAutopilot, c.Confirm.Displayed("content"))

	clk.Advance(3999 * time.Millisecond)
	out, err = c.Confirm.Request(ctx, "content", sdk.ModeAutopilot)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, out)
	assert.Equal(t, 1, api.setModeHits)
	assert.Equal(t, sdk.ModeAutopilot, c.Modes.GetMode("content"))
}

func TestConfirmWindowExpiresAndRearms(t *testing.T) {
	api := newFakeAPI()
	clk := newClock()
	c := newTestConsole(t, api, clk)
	ctx := context.Background()

	out, err := c.Confirm.Request(ctx, "ads", sdk.ModeCopilot)
	require.NoError(t, err)
	require.Equal(t, OutcomeArmed, out)

	clk.Advance(4001 * time.Millisecond)
	assert.Equal(t, sdk.ModeManual, c.Confirm.Displayed("ads"), "expired arm shows the prior mode")

	out, err = c.Confirm.Request(ctx, "ads", sdk.ModeCopilot)
	require.NoError(t, err)
	assert.Equal(t, OutcomeArmed, out, "late press re-arms instead of committing")
	assert.Equal(t, 0, api.setModeHits)

	clk.Advance(time.Second)
	out, err = c.Confirm.Request(ctx, "ads", sdk.ModeCopilot)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, out)
	assert.Equal(t, sdk.ModeCopilot, c.Modes.GetMode("ads"))
}

func TestConfirmWindowBoundaryRearms(t *testing.T) {
	api := newFakeAPI()
	clk := newClock()
	c := newTestConsole(t, api, clk)
	ctx := context.Background()

	out, err := c.Confirm.Request(ctx, "content", sdk.ModeCopilot)
	require.NoError(t, err)
	require.Equal(t, OutcomeArmed, out)

	clk.Advance(4000 * time.Millisecond)
	out, err = c.Confirm.Request(ctx, "content", sdk.ModeCopilot)
	require.NoError(t, err)
	assert.Equal(t, OutcomeArmed, out, "the window is open strictly before its end")
	assert.Equal(t, 0, api.setModeHits)
	assert.Equal(t, sdk.ModeManual, c.Modes.GetMode("content"))
}

func TestConfirmDifferentTargetInvalidatesArm(t *testing.T) {
	api := newFakeAPI()
	clk := newClock()
	c := newTestConsole(t, api, clk)
	ctx := context.Background()

	_, err := c.Confirm.Request(ctx, "email", sdk.ModeCopilot)
	require.NoError(t, err)
	out, err := c.Confirm.Request(ctx, "email", sdk.ModeAutopilot)
	require.NoError(t, err)
	assert.Equal(t, OutcomeArmed, out)
	out, err = c.Confirm.Request(ctx, "email", sdk.ModeCopilot)
	require.NoError(t, err)
	assert.Equal(t, OutcomeArmed, out)
	assert.Equal(t, 0, api.setModeHits)

	// Manual is immediate and clears the arm.
	require.NoError(t, c.Modes.SetMode(ctx, "email", sdk.ModeCopilot))
	_, err = c.Confirm.Request(ctx, "email", sdk.ModeAutopilot)
	require.NoError(t, err)
	out, err = c.Confirm.Request(ctx, "email", sdk.ModeManual)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommitted, out)
	assert.Equal(t, sdk.ModeManual, c.Modes.GetMode("email"))
	_, _, armed := c.Confirm.Armed("email")
	assert.False(t, armed)

	out, err = c.Confirm.Request(ctx, "email", sdk.ModeManual)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, out)
}

func TestConfirmCommitFailureClearsArm(t *testing.T) {
	api := newFakeAPI()
	clk := newClock()
	c := newTestConsole(t, api, clk)
	ctx := context.Background()

	_, err := c.Confirm.Request(ctx, "content", sdk.ModeCopilot)
	require.NoError(t, err)
	api.setModeErr = errNetwork
	_, err = c.Confirm.Request(ctx, "content", sdk.ModeCopilot)
	require.ErrorIs(t, err, errNetwork)
	_, _, armed := c.Confirm.Armed("content")
	assert.False(t, armed)
	assert.Equal(t, sdk.ModeManual, c.Modes.GetMode("content"))
}

func TestSweepClearsExpiredArms(t *testing.T) {
	clk := newClock()
	c := newTestConsole(t, newFakeAPI(), clk)
	ctx := context.Background()
	_, _ = c.Confirm.Request(ctx, "content", sdk.ModeCopilot)
	_, _ = c.Confirm.Request(ctx, "ads", sdk.ModeAutopilot)
	assert.Len(t, c.Confirm.ArmedTargets(), 2)
	clk.Advance(DefaultConfirmWindow)
	assert.Equal(t, 2, c.Confirm.Sweep())
	assert.Empty(t, c.Confirm.ArmedTargets())
}

func TestResolveIsIdempotent(t *testing.T) {
	api := newFakeAPI()
	c := newTestConsole(t, api, newClock())
	ctx := context.Background()
	id := api.add("content", "Post", "high")
	require.NoError(t, c.Queue.Refresh(ctx))

	require.NoError(t, c.Queue.Resolve(ctx, id, sdk.ActionApprove))
	require.NoError(t, c.Queue.Resolve(ctx, id, sdk.ActionApprove))
	assert.Equal(t, 1, api.transitions[id])
	assert.Equal(t, 2, api.resolveHits[id])
}

func TestResolveFailureCompensates(t *testing.T) {
	api := newFakeAPI()
	c := newTestConsole(t, api, newClock())
	ctx := context.Background()
	api.add("content", "A", "low")
	b := api.add("ads", "B", "urgent")
	require.NoError(t, c.Queue.Refresh(ctx))
	before := c.Queue.Pending()

	api.resolveErr[b] = errNetwork
	err := c.Queue.Resolve(ctx, b, sdk.ActionReject)
	require.ErrorIs(t, err, errNetwork)
	assert.Equal(t, before, c.Queue.Pending())
	assert.Equal(t, sdk.ApprovalCounts{Total: 2, ByModule: map[string]int{"content": 1, "ads": 1}}, c.Queue.Counts())
}

func TestStalenessBoundAfterResolve(t *testing.T) {
	api := newFakeAPI()
	c := newTestConsole(t, api, newClock())
	ctx := context.Background()
	ids := []string{api.add("content", "1", "low"), api.add("content", "2", "low")}
	require.NoError(t, c.Queue.Refresh(ctx))
	require.Equal(t, 2, c.Queue.Counts().Total)

	require.NoError(t, c.Queue.Resolve(ctx, ids[0], sdk.ActionApprove))
	assert.Equal(t, 1, c.Queue.Counts().Total)
	assert.Equal(t, 1, c.Queue.Counts().ByModule["content"])
	counts, err := c.Queue.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Total)
}

func TestRefreshInFlightDuringResolveIsDropped(t *testing.T) {
	api := newFakeAPI()
	c := newTestConsole(t, api, newClock())
	ctx := context.Background()
	resolved := api.add("content", "Resolved", "low")
	kept := api.add("content", "Kept", "low")
	c.Sync.RefreshNow(ctx)
	require.Len(t, c.Queue.Pending(), 2)

	release, started := api.holdNextList()
	tick := make(chan struct{})
	go func() {
		defer close(tick)
		c.Sync.RefreshNow(ctx)
	}()
	<-started

	done := make(chan error, 1)
	go func() { done <- c.Queue.Resolve(ctx, resolved, sdk.ActionApprove) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("resolve waited on the refresh that was already in flight")
	}
	close(release)
	<-tick

	pending := c.Queue.Pending()
	require.Len(t, pending, 1, "stale refresh must not bring the resolved item back")
	assert.Equal(t, kept, pending[0].ID)
	assert.Equal(t, sdk.ApprovalCounts{Total: 1, ByModule: map[string]int{"content": 1}}, c.Queue.Counts())
}

func TestRefreshInFlightDuringSetModeIsDropped(t *testing.T) {
	api := newFakeAPI()
	c := newTestConsole(t, api, newClock())
	ctx := context.Background()
	c.Sync.RefreshNow(ctx)

	release, started := api.holdNextModes()
	tick := make(chan struct{})
	go func() {
		defer close(tick)
		c.Sync.RefreshNow(ctx)
	}()
	<-started

	done := make(chan error, 1)
	go func() { done <- c.Modes.SetMode(ctx, "content", sdk.ModeCopilot) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("set mode waited on the refresh that was already in flight")
	}
	close(release)
	<-tick

	assert.Equal(t, sdk.ModeCopilot, c.Modes.GetMode("content"))
}

func TestBatchWithAlreadyResolvedItem(t *testing.T) {
	api := newFakeAPI()
	c := newTestConsole(t, api, newClock())
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, api.add("email", "send", "medium"))
	}
	_, err := api.Resolve(ctx, ids[2], sdk.ActionApprove)
	require.NoError(t, err)
	require.NoError(t, c.Queue.Refresh(ctx))

	res := c.Queue.ResolveBatch(ctx, ids, sdk.ActionApprove)
	assert.Len(t, res.Succeeded, 5)
	assert.Empty(t, res.Failed)
	assert.Equal(t, ids, res.Succeeded)
	assert.Equal(t, 0, c.Queue.Counts().Total)
}

func TestBatchPartialNetworkFailure(t *testing.T) {
	api := newFakeAPI()
	c := newTestConsole(t, api, newClock())
	ctx := context.Background()
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, api.add("social", "post", "medium"))
	}
	require.NoError(t, c.Queue.Refresh(ctx))
	api.resolveErr[ids[3]] = errNetwork

	res := c.Queue.ResolveBatch(ctx, ids, sdk.ActionReject)
	assert.Equal(t, []string{ids[3]}, res.Failed)
	assert.Len(t, res.Succeeded, 4)
	assert.NotContains(t, res.Succeeded, ids[3])

	pending := c.Queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, ids[3], pending[0].ID)
	assert.Equal(t, 1, c.Queue.Counts().Total)
}

func TestCountConsistency(t *testing.T) {
	api := newFakeAPI()
	c := newTestConsole(t, api, newClock())
	ctx := context.Background()
	for _, m := range []string{"content", "content", "ads", "email", "email", "email"} {
		api.add(m, "x", "low")
	}
	require.NoError(t, c.Queue.Refresh(ctx))
	counts := c.Queue.Counts()
	sum := 0
	for _, n := range counts.ByModule {
		sum += n
	}
	assert.Equal(t, counts.Total, sum)
	assert.Equal(t, 6, counts.Total)
	assert.Len(t, c.Queue.Pending(), 6)
}

func TestCoordinatorIsolatesFailures(t *testing.T) {
	api := newFakeAPI()
	api.stats = sdk.ActionStats{Today: 3, Completed: 2, Failed: 1, SuccessRate: 67}
	api.add("content", "x", "low")
	reg := prometheus.NewRegistry()
	c := New(api, Options{Registerer: reg, SyncInterval: time.Hour})
	ctx := context.Background()

	assert.False(t, c.Sync.Ready())
	assert.Equal(t, ViewLoading, Dashboard(c.Snapshot()).State)

	h := c.Sync.Start(ctx)
	defer h.Dispose()
	require.True(t, c.Sync.Ready())
	assert.Equal(t, 3, c.Actions.Stats().Today)

	api.mu.Lock()
	api.statsErr = errNetwork
	api.mu.Unlock()
	api.add("content", "y", "high")
	c.Sync.RefreshNow(ctx)

	assert.Equal(t, 3, c.Actions.Stats().Today, "failed store keeps last known good value")
	assert.Equal(t, 2, c.Queue.Counts().Total, "other stores still refresh")
	assert.Equal(t, float64(1), counterValue(t, reg, "pilotdeck_console_refreshes_total", map[string]string{"store": "actions", "result": "error"}))
}

func TestActionStoreZeroDefaultsOnFirstFailure(t *testing.T) {
	api := newFakeAPI()
	api.statsErr = errNetwork
	s := NewActionStore(api, 5)
	err := s.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errNetwork))
	assert.Equal(t, sdk.ActionStats{}, s.Stats())
	assert.False(t, s.Loaded())
}

func TestDisposeStopsPolling(t *testing.T) {
	api := newFakeAPI()
	c := New(api, Options{Registerer: prometheus.NewRegistry(), SyncInterval: 10 * time.Millisecond})
	h := c.Sync.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	h.Dispose()
	h.Dispose()

	api.mu.Lock()
	hits := api.refreshHits
	api.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, hits, api.refreshHits)
}
