package pilotdecksdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsCredentialsAndWorkspace(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"actor_id":"bot","workspace_id":"ws-1","source":"api_key"}`)
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "ws-1")
	c.APIKey = "pd_secret"
	me, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bot", me.ActorID)
	require.NotNil(t, got)
	assert.Equal(t, "/v0/me", got.URL.Path)
	assert.Equal(t, "pd_secret", got.Header.Get("X-Api-Key"))
	assert.Equal(t, "ws-1", got.Header.Get("X-Workspace-Id"))
	assert.Empty(t, got.Header.Get("Authorization"))
}

func TestModesCoercesUnknownValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"workspace_id":"ws-1","modes":{"content":{"mode":"copilot"},"ads":{"mode":"turbo"},"email":{}}}`)
	}))
	defer srv.Close()

	modes, err := New(srv.URL, "ws-1").Modes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeCopilot, modes["content"].Mode)
	assert.Equal(t, ModeManual, modes["ads"].Mode)
	assert.Equal(t, ModeManual, modes["email"].Mode)
	assert.Equal(t, "email", modes["email"].ModuleID)
}

func TestCountsAndListsTolerateMissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v0/automation/approvals/count":
			assert.Equal(t, "content", r.URL.Query().Get("module"))
			io.WriteString(w, `{"total":7,"by_module":{"content":3,"ads":-2}}`)
		case "/v0/automation/approvals":
			io.WriteString(w, `{"items":null}`)
		case "/v0/automation/actions/stats":
			io.WriteString(w, `{"today":-1,"completed":4,"success_rate":250}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := New(srv.URL, "ws-1")
	ctx := context.Background()

	counts, err := c.CountApprovals(ctx, "content")
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total)
	assert.Equal(t, 0, counts.ByModule["ads"])

	page, err := c.ListApprovals(ctx, ApprovalFilter{})
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)

	stats, err := c.ActionStats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, ActionStats{Completed: 4}, stats)
}

func TestCountsAndStatsCoerceMalformedFields(t *testing.T) {
	var countsBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v0/automation/approvals/count":
			io.WriteString(w, countsBody)
		case "/v0/automation/actions/stats":
			io.WriteString(w, `{"today":"many","completed":2.9,"failed":null,"success_rate":[]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := New(srv.URL, "ws-1")
	ctx := context.Background()

	for _, tc := range []struct {
		body string
		want ApprovalCounts
	}{
		{`{"total":3,"by_module":{}}`, ApprovalCounts{Total: 0, ByModule: map[string]int{}}},
		{`{"total":3,"by_module":[]}`, ApprovalCounts{Total: 0, ByModule: map[string]int{}}},
		{`{"total":"3","by_module":{"ads":"x","content":2}}`, ApprovalCounts{Total: 2, ByModule: map[string]int{"ads": 0, "content": 2}}},
		{`{"total":4}`, ApprovalCounts{Total: 4, ByModule: map[string]int{}}},
		{`[]`, ApprovalCounts{ByModule: map[string]int{}}},
	} {
		countsBody = tc.body
		counts, err := c.CountApprovals(ctx, "")
		require.NoError(t, err, tc.body)
		assert.Equal(t, tc.want, counts, tc.body)
	}

	stats, err := c.ActionStats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, ActionStats{Completed: 2}, stats)
}

func TestAPIErrorCarriesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		io.WriteString(w, `{"error":{"code":"not_automatable","message":"module is not automatable: analytics"}}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "ws-1").SetMode(context.Background(), "analytics", ModeAutopilot)
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "not_automatable", apiErr.Code())
}

func TestResolveBatchBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/automation/approvals/batch", r.URL.Path)
		var body struct {
			IDs    []string `json:"ids"`
			Action string   `json:"action"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"a", "b"}, body.IDs)
		assert.Equal(t, "reject", body.Action)
		io.WriteString(w, `{"succeeded":["a"]}`)
	}))
	defer srv.Close()

	res, err := New(srv.URL, "ws-1").ResolveBatch(context.Background(), []string{"a", "b"}, ActionReject)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.Succeeded)
	assert.Equal(t, []string{}, res.Failed)
}

func TestGenerateOpensStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"type\":\"chunk\",\"text\":\"hi\"}\n\n")
	}))
	defer srv.Close()

	body, err := New(srv.URL, "ws-1").Generate(context.Background(), "v0/generate", map[string]any{"prompt": "x"})
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"chunk"`)
}
