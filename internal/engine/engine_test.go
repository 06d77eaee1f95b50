package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pilotdeck/internal/config"
	"pilotdeck/internal/db"
	"pilotdeck/internal/domain"
	"pilotdeck/internal/engine"
	"pilotdeck/internal/migrate"
	"pilotdeck/internal/repo"
)

const ws = "ws-1"

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	clock  *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now advances by one millisecond per call so created_at values are distinct.
func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := &testClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	eng := engine.New(conn, config.Default(ws))
	eng.Now = clock.Now
	ctx := context.Background()
	if err := eng.EnsureWorkspace(ctx, ws, "test", "tester"); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, clock: clock}
}

func (env testEnv) propose(t *testing.T, module string, priority domain.Priority, title string) domain.ApprovalItem {
	t.Helper()
	item, created, err := env.Engine.CreateApproval(env.Ctx, engine.ApprovalCreateOptions{
		WorkspaceID: ws,
		ModuleID:    module,
		Title:       title,
		Priority:    priority,
		ActorID:     "agent",
	})
	if err != nil || !created {
		t.Fatalf("create approval: created=%v err=%v", created, err)
	}
	return item
}

func TestModeDefaultsToManual(t *testing.T) {
	env := newTestEnv(t)
	m, err := env.Engine.GetMode(env.Ctx, ws, "content")
	if err != nil {
		t.Fatalf("get mode: %v", err)
	}
	if m.Mode != domain.ModeManual {
		t.Fatalf("expected manual, got %s", m.Mode)
	}
	modes, err := env.Engine.Modes(env.Ctx, ws)
	if err != nil {
		t.Fatalf("modes: %v", err)
	}
	if len(modes) != len(env.Engine.Modules()) {
		t.Fatalf("expected one mode per catalog module, got %d", len(modes))
	}
	for _, m := range modes {
		if m.Mode != domain.ModeManual {
			t.Fatalf("module %s: expected manual, got %s", m.ModuleID, m.Mode)
		}
	}
	if _, err := env.Engine.GetMode(env.Ctx, ws, "nope"); !errors.Is(err, engine.ErrUnknownModule) {
		t.Fatalf("expected unknown module, got %v", err)
	}
}

func TestSetModeValidationAndIdempotency(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SetMode(env.Ctx, ws, "content", "turbo", "u1"); !errors.Is(err, engine.ErrInvalidMode) {
		t.Fatalf("expected invalid mode, got %v", err)
	}
	if _, err := env.Engine.SetMode(env.Ctx, ws, "analytics", domain.ModeAutopilot, "u1"); !errors.Is(err, engine.ErrNotAutomatable) {
		t.Fatalf("expected not automatable, got %v", err)
	}
	if _, err := env.Engine.SetMode(env.Ctx, ws, "analytics", domain.ModeManual, "u1"); err != nil {
		t.Fatalf("manual must always be allowed: %v", err)
	}

	change, err := env.Engine.SetMode(env.Ctx, ws, "content", domain.ModeCopilot, "u1")
	if err != nil || !change.Changed || change.From != domain.ModeManual {
		t.Fatalf("first set: %+v %v", change, err)
	}
	change, err = env.Engine.SetMode(env.Ctx, ws, "content", domain.ModeCopilot, "u1")
	if err != nil || change.Changed {
		t.Fatalf("repeat set should be a no-op: %+v %v", change, err)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, ws, "mode.changed", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 {
		t.Fatalf("expected 1 mode.changed event, got %d", len(evts))
	}
	m, _ := env.Engine.GetMode(env.Ctx, ws, "content")
	if m.Mode != domain.ModeCopilot || m.UpdatedBy != "u1" {
		t.Fatalf("unexpected stored mode %+v", m)
	}
}

func TestResolveApprovalIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	item := env.propose(t, "content", domain.PriorityHigh, "Publish blog post")

	first, err := env.Engine.ResolveApproval(env.Ctx, ws, item.ID, domain.ActionApprove, "u1")
	if err != nil {
		t.Fatalf("first approve: %v", err)
	}
	if !first.Applied || first.Item.Status != domain.ApprovalApproved || first.ActionID == "" {
		t.Fatalf("unexpected first resolution %+v", first)
	}
	second, err := env.Engine.ResolveApproval(env.Ctx, ws, item.ID, domain.ActionApprove, "u1")
	if err != nil {
		t.Fatalf("second approve should succeed: %v", err)
	}
	if second.Applied || second.ActionID != first.ActionID {
		t.Fatalf("second approve must not apply again: %+v", second)
	}
	rejected, err := env.Engine.ResolveApproval(env.Ctx, ws, item.ID, domain.ActionReject, "u2")
	if err != nil || rejected.Applied || rejected.Item.Status != domain.ApprovalApproved {
		t.Fatalf("reject after approve should report approved: %+v %v", rejected, err)
	}

	actions, _, err := env.Engine.ListActions(env.Ctx, engine.ActionQuery{WorkspaceID: ws})
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 1 || actions[0].ApprovalID == nil || *actions[0].ApprovalID != item.ID {
		t.Fatalf("expected exactly one linked action, got %+v", actions)
	}
	approved, err := env.Engine.ListEvents(env.Ctx, ws, "approval.approved", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(approved) != 1 {
		t.Fatalf("expected one approval.approved event, got %d", len(approved))
	}

	if _, err := env.Engine.ResolveApproval(env.Ctx, ws, "missing", domain.ActionApprove, "u1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConcurrentResolveAppliesOnce(t *testing.T) {
	env := newTestEnv(t)
	item := env.propose(t, "ads", domain.PriorityMedium, "Raise bid")

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan domain.Resolution, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.Engine.ResolveApproval(env.Ctx, ws, item.ID, domain.ActionApprove, "u1")
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)
	applied := 0
	for res := range results {
		if res.Applied {
			applied++
		}
	}
	if applied != 1 {
		t.Fatalf("expected exactly one applied resolution, got %d", applied)
	}
}

func TestContentScenarioCounts(t *testing.T) {
	env := newTestEnv(t)
	env.propose(t, "content", domain.PriorityLow, "low")
	env.propose(t, "content", domain.PriorityHigh, "high")
	urgent := env.propose(t, "content", domain.PriorityUrgent, "urgent")
	env.propose(t, "email", domain.PriorityMedium, "newsletter")

	counts, err := env.Engine.CountApprovals(env.Ctx, ws, "content")
	if err != nil {
		t.Fatal(err)
	}
	if counts.Total != 3 || counts.ByModule["content"] != 3 {
		t.Fatalf("expected 3 pending content items, got %+v", counts)
	}
	if _, err := env.Engine.ResolveApproval(env.Ctx, ws, urgent.ID, domain.ActionApprove, "u1"); err != nil {
		t.Fatal(err)
	}
	counts, _ = env.Engine.CountApprovals(env.Ctx, ws, "content")
	if counts.Total != 2 {
		t.Fatalf("expected 2 after approve, got %+v", counts)
	}
	pending, _, err := env.Engine.ListApprovals(env.Ctx, engine.ApprovalQuery{WorkspaceID: ws, ModuleID: "content"})
	if err != nil {
		t.Fatal(err)
	}
	for _, it := range pending {
		if it.ID == urgent.ID {
			t.Fatalf("approved item still listed as pending")
		}
	}

	all, err := env.Engine.CountApprovals(env.Ctx, ws, "")
	if err != nil {
		t.Fatal(err)
	}
	sum := 0
	for _, n := range all.ByModule {
		sum += n
	}
	if all.Total != sum || all.Total != 3 {
		t.Fatalf("total must equal sum of modules: %+v", all)
	}
}

func TestListApprovalsPagingAndStatus(t *testing.T) {
	env := newTestEnv(t)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, env.propose(t, "seo", domain.PriorityLow, "item").ID)
	}
	if _, err := env.Engine.ResolveApproval(env.Ctx, ws, ids[0], domain.ActionReject, "u1"); err != nil {
		t.Fatal(err)
	}
	page, more, err := env.Engine.ListApprovals(env.Ctx, engine.ApprovalQuery{WorkspaceID: ws, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || !more || page[0].ID != ids[4] {
		t.Fatalf("unexpected first page: more=%v %+v", more, page)
	}
	last := page[len(page)-1]
	page, more, err = env.Engine.ListApprovals(env.Ctx, engine.ApprovalQuery{WorkspaceID: ws, Limit: 2, CursorCreatedAt: last.CreatedAt, CursorID: last.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || more || page[0].ID != ids[2] || page[1].ID != ids[1] {
		t.Fatalf("unexpected second page: more=%v %+v", more, page)
	}
	all, _, err := env.Engine.ListApprovals(env.Ctx, engine.ApprovalQuery{WorkspaceID: ws, Status: "all"})
	if err != nil || len(all) != 5 {
		t.Fatalf("status=all: %d %v", len(all), err)
	}
	if _, _, err := env.Engine.ListApprovals(env.Ctx, engine.ApprovalQuery{WorkspaceID: ws, Status: "bogus"}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCreateApprovalValidationAndIdempotentID(t *testing.T) {
	env := newTestEnv(t)
	bad := 150
	cases := []engine.ApprovalCreateOptions{
		{WorkspaceID: ws, ModuleID: "content"},
		{WorkspaceID: ws, ModuleID: "content", Title: "x", Priority: "critical"},
		{WorkspaceID: ws, ModuleID: "content", Title: "x", Confidence: &bad},
		{WorkspaceID: ws, ModuleID: "content", Title: "x", Payload: "{not json"},
	}
	for i, opts := range cases {
		if _, _, err := env.Engine.CreateApproval(env.Ctx, opts); !errors.Is(err, engine.ErrInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
	if _, _, err := env.Engine.CreateApproval(env.Ctx, engine.ApprovalCreateOptions{WorkspaceID: ws, ModuleID: "nope", Title: "x"}); !errors.Is(err, engine.ErrUnknownModule) {
		t.Fatalf("expected unknown module, got %v", err)
	}

	conf := 87
	opts := engine.ApprovalCreateOptions{ID: "agent-42", WorkspaceID: ws, ModuleID: "email", Title: "Send promo", Confidence: &conf, Payload: `{"list":"vip"}`}
	first, created, err := env.Engine.CreateApproval(env.Ctx, opts)
	if err != nil || !created {
		t.Fatalf("create: %v", err)
	}
	again, created, err := env.Engine.CreateApproval(env.Ctx, opts)
	if err != nil || created || again.ID != first.ID || again.CreatedAt != first.CreatedAt {
		t.Fatalf("repeat create should return stored item: created=%v %+v %v", created, again, err)
	}
	if again.Confidence == nil || *again.Confidence != 87 || again.Priority != domain.PriorityMedium {
		t.Fatalf("unexpected stored fields %+v", again)
	}
}

func TestBatchResolvePartialFailure(t *testing.T) {
	env := newTestEnv(t)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, env.propose(t, "social", domain.PriorityMedium, "post").ID)
	}
	if _, err := env.Engine.ResolveApproval(env.Ctx, ws, ids[2], domain.ActionApprove, "u1"); err != nil {
		t.Fatal(err)
	}
	res, err := env.Engine.ResolveApprovalBatch(env.Ctx, ws, ids, domain.ActionApprove, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Succeeded) != 5 || len(res.Failed) != 0 {
		t.Fatalf("already-resolved item should count as succeeded: %+v", res)
	}
	res, err = env.Engine.ResolveApprovalBatch(env.Ctx, ws, []string{"missing", ids[0]}, domain.ActionReject, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failed) != 1 || res.Failed[0] != "missing" || len(res.Succeeded) != 1 {
		t.Fatalf("unexpected batch result %+v", res)
	}
	if _, err := env.Engine.ResolveApprovalBatch(env.Ctx, ws, ids, "maybe", "u1"); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected invalid action, got %v", err)
	}
}

func TestCompleteActionExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	item := env.propose(t, "ads", domain.PriorityHigh, "Pause campaign")
	res, err := env.Engine.ResolveApproval(env.Ctx, ws, item.ID, domain.ActionApprove, "u1")
	if err != nil {
		t.Fatal(err)
	}
	rec, applied, err := env.Engine.CompleteAction(env.Ctx, ws, res.ActionID, domain.ActionCompleted, 1200, "", "executor")
	if err != nil || !applied || rec.Status != domain.ActionCompleted || rec.CompletedAt == nil {
		t.Fatalf("complete: applied=%v %+v %v", applied, rec, err)
	}
	_, applied, err = env.Engine.CompleteAction(env.Ctx, ws, res.ActionID, domain.ActionCompleted, 1200, "", "executor")
	if err != nil || applied {
		t.Fatalf("repeat complete should be a no-op: %v", err)
	}
	if _, _, err := env.Engine.CompleteAction(env.Ctx, ws, res.ActionID, domain.ActionFailed, 0, "boom", "executor"); !errors.Is(err, engine.ErrActionFinal) {
		t.Fatalf("expected action final, got %v", err)
	}
	if _, _, err := env.Engine.CompleteAction(env.Ctx, ws, res.ActionID, domain.ActionPending, 0, "", "executor"); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, _, err := env.Engine.CompleteAction(env.Ctx, ws, "missing", domain.ActionCompleted, 0, "", "executor"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestActionStats(t *testing.T) {
	env := newTestEnv(t)
	env.clock.Set(time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC))
	if _, err := env.Engine.RecordAction(env.Ctx, engine.ActionRecordOptions{WorkspaceID: ws, ModuleID: "email", Description: "yesterday", Status: domain.ActionFailed}); err != nil {
		t.Fatal(err)
	}
	env.clock.Set(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	for i := 0; i < 3; i++ {
		if _, err := env.Engine.RecordAction(env.Ctx, engine.ActionRecordOptions{WorkspaceID: ws, ModuleID: "email", Description: "sent", Status: domain.ActionCompleted, DurationMs: 40}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := env.Engine.RecordAction(env.Ctx, engine.ActionRecordOptions{WorkspaceID: ws, ModuleID: "seo", Description: "audit"}); err != nil {
		t.Fatal(err)
	}
	stats, err := env.Engine.ActionStats(env.Ctx, ws, "email")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Today != 3 || stats.Completed != 3 || stats.Failed != 1 || stats.SuccessRate != 75 {
		t.Fatalf("unexpected email stats %+v", stats)
	}
	all, err := env.Engine.ActionStats(env.Ctx, ws, "")
	if err != nil {
		t.Fatal(err)
	}
	if all.Today != 4 || all.Completed != 3 || all.Failed != 1 {
		t.Fatalf("unexpected workspace stats %+v", all)
	}
	empty, err := env.Engine.ActionStats(env.Ctx, ws, "ads")
	if err != nil || empty.SuccessRate != 0 || empty.Today != 0 {
		t.Fatalf("unexpected empty stats %+v %v", empty, err)
	}
	if got := engine.SuccessRate(2, 1); got != 67 {
		t.Fatalf("expected 67, got %d", got)
	}
}

func TestRulesCRUD(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateRule(env.Ctx, engine.RuleCreateOptions{WorkspaceID: ws, ModuleID: "ads", Name: "cap", TriggerJSON: `[1]`, ActionJSON: `{}`}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected trigger validation error, got %v", err)
	}
	rule, err := env.Engine.CreateRule(env.Ctx, engine.RuleCreateOptions{WorkspaceID: ws, ModuleID: "ads", Name: "cap", TriggerJSON: `{"cpc_gt":2}`, ActionJSON: `{"pause":true}`})
	if err != nil || !rule.Enabled {
		t.Fatalf("create rule: %+v %v", rule, err)
	}
	off := false
	updated, err := env.Engine.UpdateRule(env.Ctx, ws, rule.ID, engine.RuleUpdateOptions{Enabled: &off})
	if err != nil || updated.Enabled {
		t.Fatalf("update rule: %+v %v", updated, err)
	}
	rules, err := env.Engine.ListRules(env.Ctx, ws, "ads")
	if err != nil || len(rules) != 1 || rules[0].Enabled {
		t.Fatalf("list rules: %+v %v", rules, err)
	}
	if err := env.Engine.DeleteRule(env.Ctx, ws, rule.ID, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.GetRule(env.Ctx, ws, rule.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestEnsureWorkspaceIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.EnsureWorkspace(env.Ctx, ws, "renamed", "tester"); err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	got, err := env.Engine.Repo.GetWorkspace(env.Ctx, ws)
	if err != nil {
		t.Fatalf("get workspace: %v", err)
	}
	if got.Name != "test" {
		t.Fatalf("expected original name kept, got %q", got.Name)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, ws, "workspace.created", 10, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(evts) != 1 {
		t.Fatalf("expected one workspace.created event, got %d", len(evts))
	}
	if _, err := env.Engine.Repo.GetWorkspace(env.Ctx, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
