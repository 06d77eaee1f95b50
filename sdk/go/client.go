package pilotdecksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal PilotDeck HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	WorkspaceID string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no credential is set. Servers accept
	// it only with the legacy header switch enabled.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, workspaceID string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "v0",
		WorkspaceID: workspaceID,
		Timeout:     10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Code extracts error.code from the response envelope, if any.
func (e *APIError) Code() string {
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.Body), &env); err != nil {
		return ""
	}
	return env.Error.Code
}

// Me returns the principal the server resolved for this client.
func (c *Client) Me(ctx context.Context) (Principal, error) {
	var resp Principal
	err := c.do(ctx, http.MethodGet, c.path("me"), nil, &resp)
	return resp, err
}

// Modules returns the module catalog.
func (c *Client) Modules(ctx context.Context) ([]Module, error) {
	var resp struct {
		Modules []Module `json:"modules"`
	}
	if err := c.do(ctx, http.MethodGet, c.path("automation/modules"), nil, &resp); err != nil {
		return nil, err
	}
	return nonNil(resp.Modules), nil
}

// Modes returns the mode of every module keyed by module id.
func (c *Client) Modes(ctx context.Context) (map[string]ModeState, error) {
	var resp struct {
		Modes map[string]ModeState `json:"modes"`
	}
	if err := c.do(ctx, http.MethodGet, c.path("automation/modes"), nil, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]ModeState, len(resp.Modes))
	for id, st := range resp.Modes {
		if st.ModuleID == "" {
			st.ModuleID = id
		}
		st.Mode = CoerceMode(string(st.Mode))
		out[id] = st
	}
	return out, nil
}

// SetMode stores mode for one module.
func (c *Client) SetMode(ctx context.Context, moduleID string, mode Mode) (ModeChange, error) {
	var resp ModeChange
	endpoint := c.path("automation/modes/" + url.PathEscape(moduleID))
	if err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"mode": mode}, &resp); err != nil {
		return ModeChange{}, err
	}
	resp.Mode = CoerceMode(string(resp.Mode))
	resp.From = CoerceMode(string(resp.From))
	return resp, nil
}

// ListApprovals returns one page of approval items.
func (c *Client) ListApprovals(ctx context.Context, f ApprovalFilter) (ApprovalPage, error) {
	q := url.Values{}
	setQuery(q, "module", f.Module)
	setQuery(q, "status", f.Status)
	setQuery(q, "priority", f.Priority)
	setQuery(q, "cursor", f.Cursor)
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	var resp ApprovalPage
	if err := c.do(ctx, http.MethodGet, withQuery(c.path("automation/approvals"), q), nil, &resp); err != nil {
		return ApprovalPage{}, err
	}
	resp.Items = nonNil(resp.Items)
	for i := range resp.Items {
		resp.Items[i].normalize()
	}
	return resp, nil
}

// GetApproval fetches one item.
func (c *Client) GetApproval(ctx context.Context, id string) (Approval, error) {
	var resp Approval
	err := c.do(ctx, http.MethodGet, c.path("automation/approvals/"+url.PathEscape(id)), nil, &resp)
	resp.normalize()
	return resp, err
}

// CreateApproval submits a proposed action. Repeating a call with the same ID
// returns the stored item.
func (c *Client) CreateApproval(ctx context.Context, in NewApproval) (Approval, error) {
	var resp Approval
	err := c.do(ctx, http.MethodPost, c.path("automation/approvals"), in, &resp)
	resp.normalize()
	return resp, err
}

// CountApprovals returns pending counts, optionally for one module.
func (c *Client) CountApprovals(ctx context.Context, moduleID string) (ApprovalCounts, error) {
	q := url.Values{}
	setQuery(q, "module", moduleID)
	var resp ApprovalCounts
	if err := c.do(ctx, http.MethodGet, withQuery(c.path("automation/approvals/count"), q), nil, &resp); err != nil {
		return ApprovalCounts{ByModule: map[string]int{}}, err
	}
	resp.normalize()
	return resp, nil
}

func (c *Client) Approve(ctx context.Context, id string) (Resolution, error) {
	return c.Resolve(ctx, id, ActionApprove)
}

func (c *Client) Reject(ctx context.Context, id string) (Resolution, error) {
	return c.Resolve(ctx, id, ActionReject)
}

// Resolve approves or rejects an item. Resolving an item twice succeeds with
// Applied=false.
func (c *Client) Resolve(ctx context.Context, id string, action ResolveAction) (Resolution, error) {
	var resp Resolution
	endpoint := c.path(fmt.Sprintf("automation/approvals/%s/%s", url.PathEscape(id), action))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	resp.Item.normalize()
	return resp, err
}

// ResolveBatch resolves ids server-side in one request.
func (c *Client) ResolveBatch(ctx context.Context, ids []string, action ResolveAction) (BatchResult, error) {
	var resp BatchResult
	err := c.do(ctx, http.MethodPost, c.path("automation/approvals/batch"), map[string]any{
		"ids":    ids,
		"action": action,
	}, &resp)
	resp.Succeeded = nonNil(resp.Succeeded)
	resp.Failed = nonNil(resp.Failed)
	return resp, err
}

// ListActions returns recent action records.
func (c *Client) ListActions(ctx context.Context, f ActionFilter) (ActionPage, error) {
	q := url.Values{}
	setQuery(q, "module", f.Module)
	setQuery(q, "status", f.Status)
	setQuery(q, "cursor", f.Cursor)
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	var resp ActionPage
	if err := c.do(ctx, http.MethodGet, withQuery(c.path("automation/actions"), q), nil, &resp); err != nil {
		return ActionPage{}, err
	}
	resp.Items = nonNil(resp.Items)
	return resp, nil
}

// RecordAction appends an action executed by the agent.
func (c *Client) RecordAction(ctx context.Context, in NewAction) (Action, error) {
	var resp Action
	err := c.do(ctx, http.MethodPost, c.path("automation/actions"), in, &resp)
	return resp, err
}

// CompleteAction finalizes a pending action. applied is false when the stored
// outcome already matched.
func (c *Client) CompleteAction(ctx context.Context, id string, status ActionStatus, durationMs int64, errMsg string) (Action, bool, error) {
	var resp struct {
		Action  Action `json:"action"`
		Applied bool   `json:"applied"`
	}
	body := map[string]any{
		"status":      status,
		"duration_ms": durationMs,
	}
	if errMsg != "" {
		body["error"] = errMsg
	}
	endpoint := c.path(fmt.Sprintf("automation/actions/%s/complete", url.PathEscape(id)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp.Action, resp.Applied, err
}

// ActionStats returns statistics for one module, or all modules when
// moduleID is empty.
func (c *Client) ActionStats(ctx context.Context, moduleID string) (ActionStats, error) {
	endpoint := c.path("automation/actions/stats")
	if moduleID != "" {
		endpoint += "/" + url.PathEscape(moduleID)
	}
	var resp ActionStats
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return ActionStats{}, err
	}
	resp.normalize()
	return resp, nil
}

func (c *Client) ListRules(ctx context.Context, moduleID string) ([]Rule, error) {
	q := url.Values{}
	setQuery(q, "module", moduleID)
	var resp struct {
		Items []Rule `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, withQuery(c.path("automation/rules"), q), nil, &resp); err != nil {
		return nil, err
	}
	return nonNil(resp.Items), nil
}

func (c *Client) CreateRule(ctx context.Context, in NewRule) (Rule, error) {
	var resp Rule
	err := c.do(ctx, http.MethodPost, c.path("automation/rules"), in, &resp)
	return resp, err
}

func (c *Client) UpdateRule(ctx context.Context, id string, in RulePatch) (Rule, error) {
	var resp Rule
	err := c.do(ctx, http.MethodPut, c.path("automation/rules/"+url.PathEscape(id)), in, &resp)
	return resp, err
}

func (c *Client) DeleteRule(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.path("automation/rules/"+url.PathEscape(id)), nil, nil)
}

// Events returns the audit log newest first.
func (c *Client) Events(ctx context.Context, evtType string, limit int, cursor string) (EventPage, error) {
	q := url.Values{}
	setQuery(q, "type", evtType)
	setQuery(q, "cursor", cursor)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp EventPage
	if err := c.do(ctx, http.MethodGet, withQuery(c.path("automation/events"), q), nil, &resp); err != nil {
		return EventPage{}, err
	}
	resp.Items = nonNil(resp.Items)
	return resp, nil
}

// Generate opens a server-sent event stream at endpoint. The caller closes
// the returned body; cancelling ctx aborts the connection.
func (c *Client) Generate(ctx context.Context, endpoint string, body any) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	client := c.HTTPClient
	if client == nil {
		// Streams outlive the default request timeout.
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return resp.Body, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	target := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		target = c.base() + "/" + strings.TrimLeft(endpoint, "/")
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	if c.WorkspaceID != "" {
		req.Header.Set("X-Workspace-Id", c.WorkspaceID)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *Client) path(p string) string {
	base := strings.Trim(c.BasePath, "/")
	if base == "" {
		return strings.TrimLeft(p, "/")
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func setQuery(q url.Values, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		q.Set(key, value)
	}
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
