package console

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdk "pilotdeck/sdk/go"
)

func readySnapshot() Snapshot {
	return Snapshot{
		Ready:   true,
		Modules: []sdk.Module{{ID: "content", Name: "Content"}, {ID: "ads", Name: "Ads"}},
		Modes:   map[string]sdk.Mode{"content": sdk.ModeCopilot},
		Armed:   map[string]sdk.Mode{},
		Pending: []sdk.Approval{
			{ID: "a", ModuleID: "content", Title: "First", Priority: "low", Status: "pending", CreatedAt: "2026-03-01T09:00:00Z"},
			{ID: "b", ModuleID: "ads", Title: "Second", Priority: "urgent", Status: "pending", CreatedAt: "2026-03-01T09:05:00Z"},
			{ID: "c", ModuleID: "content", Title: "Third", Priority: "urgent", Status: "pending", CreatedAt: "2026-03-01T09:10:00Z"},
		},
		Counts: sdk.ApprovalCounts{Total: 3, ByModule: map[string]int{"content": 2, "ads": 1}},
		Recent: []sdk.Action{
			{ID: "x", ModuleID: "ads", Description: "Paused campaign", Status: sdk.ActionCompleted, CreatedAt: "2026-03-01T09:07:00Z"},
		},
	}
}

func TestViewsLoadingBeforeFirstRefresh(t *testing.T) {
	s := Snapshot{}
	assert.Equal(t, ViewLoading, Dashboard(s).State)
	assert.Equal(t, ViewLoading, Approvals(s, ApprovalsFilter{}).State)
	assert.Equal(t, ViewLoading, Banner(s, "content").State)
}

func TestDashboardEmptyAndReady(t *testing.T) {
	empty := Dashboard(Snapshot{Ready: true, Modes: map[string]sdk.Mode{"content": sdk.ModeManual}})
	assert.Equal(t, ViewEmpty, empty.State)
	require.Len(t, empty.Tiles, 1)
	assert.Equal(t, sdk.ModeManual, empty.Tiles[0].Mode)

	v := Dashboard(readySnapshot())
	assert.Equal(t, ViewReady, v.State)
	assert.Equal(t, 3, v.TotalPending)
	require.Len(t, v.Tiles, 2)
	assert.Equal(t, ModuleTile{ID: "content", Name: "Content", Mode: sdk.ModeCopilot, Pending: 2}, v.Tiles[0])
	assert.Equal(t, sdk.ModeManual, v.Tiles[1].Mode)

	require.Len(t, v.Feed, 4)
	assert.Equal(t, "Third", v.Feed[0].Text)
	assert.Equal(t, "action", v.Feed[1].Kind)
	assert.Equal(t, "First", v.Feed[3].Text)
}

func TestDashboardFeedIsCapped(t *testing.T) {
	s := Snapshot{Ready: true}
	for i := 0; i < 15; i++ {
		s.Pending = append(s.Pending, sdk.Approval{ID: string(rune('a' + i)), CreatedAt: "2026-03-01T09:00:00Z"})
	}
	s.Counts.Total = 15
	assert.Len(t, Dashboard(s).Feed, 10)
}

func TestApprovalsFilterAndOrder(t *testing.T) {
	s := readySnapshot()

	v := Approvals(s, ApprovalsFilter{ModuleID: "content"})
	require.Len(t, v.Items, 2)
	assert.Equal(t, "c", v.Items[0].ID)
	assert.Equal(t, "a", v.Items[1].ID)

	v = Approvals(s, ApprovalsFilter{Priority: "urgent", Ascending: true})
	require.Len(t, v.Items, 2)
	assert.Equal(t, "b", v.Items[0].ID)
	assert.Equal(t, "c", v.Items[1].ID)

	v = Approvals(s, ApprovalsFilter{ModuleID: "email"})
	assert.Equal(t, ViewEmpty, v.State)
	assert.Empty(t, v.Items)
}

func TestBannerMessages(t *testing.T) {
	s := readySnapshot()

	b := Banner(s, "content")
	assert.Equal(t, ViewReady, b.State)
	assert.Equal(t, "Copilot is on. 2 awaiting review", b.Message)

	assert.Equal(t, "Automation is off", Banner(s, "ads").Message)

	s.Modes["ads"] = sdk.ModeAutopilot
	assert.Equal(t, "Autopilot is on. Actions run without review", Banner(s, "ads").Message)

	s.Modes["email"] = sdk.ModeCopilot
	b = Banner(s, "email")
	assert.Equal(t, ViewEmpty, b.State)
	assert.Equal(t, "Copilot is on. Nothing awaiting review", b.Message)

	s.Armed["ads"] = sdk.ModeCopilot
	assert.Equal(t, "Press again to confirm copilot", Banner(s, "ads").Message)
}
