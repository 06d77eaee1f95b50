package console

import (
	"fmt"
	"sort"

	sdk "pilotdeck/sdk/go"
)

// Snapshot is an immutable copy of every store, the input of all views.
type Snapshot struct {
	Ready   bool
	Modules []sdk.Module
	Modes   map[string]sdk.Mode
	Armed   map[string]sdk.Mode
	Pending []sdk.Approval
	Counts  sdk.ApprovalCounts
	Stats   sdk.ActionStats
	Recent  []sdk.Action
}

// ViewState tells a view what to render. Loading is distinct from Empty so
// a view never claims everything is reviewed before the first refresh.
type ViewState string

const (
	ViewLoading ViewState = "loading"
	ViewEmpty   ViewState = "empty"
	ViewReady   ViewState = "ready"
)

type ModuleTile struct {
	ID         string
	Name       string
	Mode       sdk.Mode
	Pending    int
	Confirming sdk.Mode
}

type FeedEntry struct {
	At       string
	Kind     string
	ModuleID string
	Text     string
	Status   string
}

type DashboardView struct {
	State        ViewState
	Tiles        []ModuleTile
	TotalPending int
	Stats        sdk.ActionStats
	Feed         []FeedEntry
}

const feedLimit = 10

// Dashboard builds the overview: one tile per module, totals, and a feed of
// pending items and recent actions, newest first.
func Dashboard(s Snapshot) DashboardView {
	if !s.Ready {
		return DashboardView{State: ViewLoading}
	}
	v := DashboardView{
		State:        ViewReady,
		TotalPending: s.Counts.Total,
		Stats:        s.Stats,
	}
	for _, m := range modulesOf(s) {
		mode := s.Modes[m.ID]
		if !mode.Valid() {
			mode = sdk.ModeManual
		}
		v.Tiles = append(v.Tiles, ModuleTile{
			ID:         m.ID,
			Name:       m.Name,
			Mode:       mode,
			Pending:    s.Counts.ByModule[m.ID],
			Confirming: s.Armed[m.ID],
		})
	}
	for _, it := range s.Pending {
		v.Feed = append(v.Feed, FeedEntry{At: it.CreatedAt, Kind: "approval", ModuleID: it.ModuleID, Text: it.Title, Status: it.Status})
	}
	for _, a := range s.Recent {
		v.Feed = append(v.Feed, FeedEntry{At: a.CreatedAt, Kind: "action", ModuleID: a.ModuleID, Text: a.Description, Status: string(a.Status)})
	}
	sort.SliceStable(v.Feed, func(i, j int) bool { return v.Feed[i].At > v.Feed[j].At })
	if len(v.Feed) > feedLimit {
		v.Feed = v.Feed[:feedLimit]
	}
	if len(v.Feed) == 0 && v.TotalPending == 0 {
		v.State = ViewEmpty
	}
	return v
}

type ApprovalsFilter struct {
	ModuleID  string
	Priority  string
	Ascending bool
}

type ApprovalsView struct {
	State ViewState
	Items []sdk.Approval
}

// Approvals lists the cached pending items matching f, newest first unless
// f.Ascending.
func Approvals(s Snapshot, f ApprovalsFilter) ApprovalsView {
	if !s.Ready {
		return ApprovalsView{State: ViewLoading}
	}
	items := []sdk.Approval{}
	for _, it := range s.Pending {
		if f.ModuleID != "" && it.ModuleID != f.ModuleID {
			continue
		}
		if f.Priority != "" && it.Priority != f.Priority {
			continue
		}
		items = append(items, it)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if f.Ascending {
			return items[i].CreatedAt < items[j].CreatedAt
		}
		return items[i].CreatedAt > items[j].CreatedAt
	})
	state := ViewReady
	if len(items) == 0 {
		state = ViewEmpty
	}
	return ApprovalsView{State: state, Items: items}
}

type BannerView struct {
	State    ViewState
	ModuleID string
	Mode     sdk.Mode
	Pending  int
	Message  string
}

// Banner summarizes one module's automation state.
func Banner(s Snapshot, moduleID string) BannerView {
	if !s.Ready {
		return BannerView{State: ViewLoading, ModuleID: moduleID, Message: "Loading automation status"}
	}
	mode := s.Modes[moduleID]
	if !mode.Valid() {
		mode = sdk.ModeManual
	}
	v := BannerView{State: ViewReady, ModuleID: moduleID, Mode: mode, Pending: s.Counts.ByModule[moduleID]}
	if target, ok := s.Armed[moduleID]; ok {
		v.Message = fmt.Sprintf("Press again to confirm %s", target)
		return v
	}
	switch mode {
	case sdk.ModeCopilot:
		if v.Pending == 0 {
			v.State = ViewEmpty
			v.Message = "Copilot is on. Nothing awaiting review"
		} else {
			v.Message = fmt.Sprintf("Copilot is on. %d awaiting review", v.Pending)
		}
	case sdk.ModeAutopilot:
		v.Message = "Autopilot is on. Actions run without review"
	default:
		v.Message = "Automation is off"
	}
	return v
}

// modulesOf falls back to the modules seen in the mode map, sorted by id,
// when the snapshot carries no catalog.
func modulesOf(s Snapshot) []sdk.Module {
	if len(s.Modules) > 0 {
		return s.Modules
	}
	ids := make([]string, 0, len(s.Modes))
	for id := range s.Modes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]sdk.Module, 0, len(ids))
	for _, id := range ids {
		out = append(out, sdk.Module{ID: id, Name: id})
	}
	return out
}
