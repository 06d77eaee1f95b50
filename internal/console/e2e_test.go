package console

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pilotdeck/internal/config"
	"pilotdeck/internal/db"
	"pilotdeck/internal/engine"
	"pilotdeck/internal/migrate"
	"pilotdeck/internal/server"
	sdk "pilotdeck/sdk/go"
)

func newLiveClient(t *testing.T) *sdk.Client {
	t.Helper()
	dir := t.TempDir()
	_, err := db.EnsureWorkspace(dir)
	require.NoError(t, err)
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default("ws-e2e")
	e := engine.New(conn, cfg)
	require.NoError(t, e.EnsureWorkspace(context.Background(), cfg.Workspace.ID, "", "tester"))
	handler, err := server.New(server.Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     server.AuthConfig{JWTSecret: "e2e", AllowLegacyActorHeader: true},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := sdk.New(srv.URL, cfg.Workspace.ID)
	c.ActorID = "reviewer"
	return c
}

func TestContentScenarioAgainstServer(t *testing.T) {
	client := newLiveClient(t)
	ctx := context.Background()
	c := New(client, Options{Registerer: prometheus.NewRegistry()})
	h := c.Sync.Start(ctx)
	defer h.Dispose()

	assert.Equal(t, sdk.ModeManual, c.Modes.GetMode("content"))
	assert.Equal(t, 0, c.Queue.Counts().Total)
	assert.Equal(t, ViewEmpty, Dashboard(c.Snapshot()).State)

	ids := map[string]string{}
	for _, p := range []string{"low", "high", "urgent"} {
		item, err := client.CreateApproval(ctx, sdk.NewApproval{ModuleID: "content", Title: "Draft " + p, Priority: p})
		require.NoError(t, err)
		ids[p] = item.ID
	}

	counts, err := c.Queue.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, sdk.ApprovalCounts{Total: 3, ByModule: map[string]int{"content": 3}}, counts)

	c.Sync.RefreshNow(ctx)
	require.Len(t, c.Queue.Pending(), 3)

	require.NoError(t, c.Queue.Resolve(ctx, ids["urgent"], sdk.ActionApprove))
	assert.Equal(t, sdk.ApprovalCounts{Total: 2, ByModule: map[string]int{"content": 2}}, c.Queue.Counts())

	pending, err := c.Queue.List(ctx, sdk.ApprovalFilter{Status: "pending"})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, it := range pending {
		assert.NotEqual(t, ids["urgent"], it.ID)
	}

	// Double submission is a successful no-op.
	require.NoError(t, c.Queue.Resolve(ctx, ids["urgent"], sdk.ActionApprove))
	stats, err := client.ActionStats(ctx, "content")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Today)
}

func TestConfirmedEscalationReachesServer(t *testing.T) {
	client := newLiveClient(t)
	ctx := context.Background()
	c := New(client, Options{Registerer: prometheus.NewRegistry()})

	out, err := c.Confirm.Request(ctx, "ads", sdk.ModeAutopilot)
	require.NoError(t, err)
	require.Equal(t, OutcomeArmed, out)
	modes, err := client.Modes(ctx)
	require.NoError(t, err)
	assert.Equal(t, sdk.ModeManual, modes["ads"].Mode)

	out, err = c.Confirm.Request(ctx, "ads", sdk.ModeAutopilot)
	require.NoError(t, err)
	require.Equal(t, OutcomeCommitted, out)
	modes, err = client.Modes(ctx)
	require.NoError(t, err)
	assert.Equal(t, sdk.ModeAutopilot, modes["ads"].Mode)

	// analytics is not automatable; the error reaches the caller.
	_, err = c.Confirm.Request(ctx, "analytics", sdk.ModeCopilot)
	require.NoError(t, err)
	_, err = c.Confirm.Request(ctx, "analytics", sdk.ModeCopilot)
	require.Error(t, err)
	assert.Equal(t, sdk.ModeManual, c.Modes.GetMode("analytics"))
}
