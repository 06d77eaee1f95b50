package server

import (
	"encoding/json"

	"pilotdeck/internal/domain"
)

// Request payloads

type SetModeRequest struct {
	Mode string `json:"mode" enum:"manual,copilot,autopilot"`
}

type CreateApprovalRequest struct {
	ID          *string        `json:"id,omitempty" maxLength:"128"`
	ModuleID    string         `json:"module_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Priority    string         `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Confidence  *int           `json:"confidence,omitempty" minimum:"0" maximum:"100"`
}

type BatchResolveRequest struct {
	IDs    []string `json:"ids" minItems:"1" maxItems:"200"`
	Action string   `json:"action" enum:"approve,reject"`
}

type RecordActionRequest struct {
	ID          *string `json:"id,omitempty" maxLength:"128"`
	ModuleID    string  `json:"module_id"`
	ApprovalID  *string `json:"approval_id,omitempty"`
	Description string  `json:"description"`
	Status      string  `json:"status,omitempty" enum:"pending,completed,failed"`
	DurationMs  int64   `json:"duration_ms,omitempty" minimum:"0"`
	Error       string  `json:"error,omitempty"`
}

type CompleteActionRequest struct {
	Status     string `json:"status" enum:"completed,failed"`
	DurationMs int64  `json:"duration_ms,omitempty" minimum:"0"`
	Error      string `json:"error,omitempty"`
}

type CreateRuleRequest struct {
	ModuleID string         `json:"module_id"`
	Name     string         `json:"name"`
	Trigger  map[string]any `json:"trigger"`
	Action   map[string]any `json:"action"`
	Enabled  *bool          `json:"enabled,omitempty"`
}

type UpdateRuleRequest struct {
	Name    *string        `json:"name,omitempty"`
	Trigger map[string]any `json:"trigger,omitempty"`
	Action  map[string]any `json:"action,omitempty"`
	Enabled *bool          `json:"enabled,omitempty"`
}

type DevLoginRequest struct {
	ActorID     string `json:"actor_id"`
	WorkspaceID string `json:"workspace_id,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID     string `json:"actor_id"`
	WorkspaceID string `json:"workspace_id"`
	Source      string `json:"source"`
}

type ModeResponse struct {
	ModuleID  string `json:"module_id"`
	Mode      string `json:"mode" enum:"manual,copilot,autopilot"`
	UpdatedBy string `json:"updated_by,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty" format:"date-time"`
}

type ModesResponse struct {
	WorkspaceID string                  `json:"workspace_id"`
	Modes       map[string]ModeResponse `json:"modes"`
}

type SetModeResponse struct {
	ModeResponse
	From    string `json:"from" enum:"manual,copilot,autopilot"`
	Changed bool   `json:"changed"`
}

type ApprovalResponse struct {
	ID          string         `json:"id"`
	ModuleID    string         `json:"module_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Priority    string         `json:"priority" enum:"low,medium,high,urgent"`
	Confidence  *int           `json:"confidence,omitempty"`
	Status      string         `json:"status" enum:"pending,approved,rejected"`
	CreatedBy   string         `json:"created_by,omitempty"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	ResolvedBy  string         `json:"resolved_by,omitempty"`
	ResolvedAt  *string        `json:"resolved_at,omitempty" format:"date-time"`
}

type ResolutionResponse struct {
	Item     ApprovalResponse `json:"item"`
	Applied  bool             `json:"applied"`
	ActionID string           `json:"action_id,omitempty"`
}

type RuleResponse struct {
	ID        string         `json:"id"`
	ModuleID  string         `json:"module_id"`
	Name      string         `json:"name"`
	Trigger   map[string]any `json:"trigger"`
	Action    map[string]any `json:"action"`
	Enabled   bool           `json:"enabled"`
	CreatedAt string         `json:"created_at" format:"date-time"`
	UpdatedAt string         `json:"updated_at" format:"date-time"`
}

type EventResponse struct {
	ID          int64          `json:"id"`
	TS          string         `json:"ts" format:"date-time"`
	Type        string         `json:"type"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	EntityKind  string         `json:"entity_kind"`
	EntityID    string         `json:"entity_id,omitempty"`
	ActorID     string         `json:"actor_id"`
	Payload     map[string]any `json:"payload"`
}

type paginatedApprovals struct {
	Items      []ApprovalResponse `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

type paginatedActions struct {
	Items      []domain.ActionRecord `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func modeResponse(m domain.ModeState) ModeResponse {
	return ModeResponse{
		ModuleID:  m.ModuleID,
		Mode:      string(m.Mode),
		UpdatedBy: m.UpdatedBy,
		UpdatedAt: m.UpdatedAt,
	}
}

func approvalResponse(it domain.ApprovalItem) ApprovalResponse {
	return ApprovalResponse{
		ID:          it.ID,
		ModuleID:    it.ModuleID,
		Title:       it.Title,
		Description: it.Description,
		Payload:     decodeObject(it.Payload),
		Priority:    string(it.Priority),
		Confidence:  it.Confidence,
		Status:      string(it.Status),
		CreatedBy:   it.CreatedBy,
		CreatedAt:   it.CreatedAt,
		ResolvedBy:  it.ResolvedBy,
		ResolvedAt:  it.ResolvedAt,
	}
}

func mapApprovals(items []domain.ApprovalItem) []ApprovalResponse {
	out := make([]ApprovalResponse, 0, len(items))
	for _, it := range items {
		out = append(out, approvalResponse(it))
	}
	return out
}

func ruleResponse(r domain.Rule) RuleResponse {
	return RuleResponse{
		ID:        r.ID,
		ModuleID:  r.ModuleID,
		Name:      r.Name,
		Trigger:   nonNilMap(decodeObject(r.TriggerJSON)),
		Action:    nonNilMap(decodeObject(r.ActionJSON)),
		Enabled:   r.Enabled,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:          e.ID,
		TS:          e.TS,
		Type:        e.Type,
		WorkspaceID: e.WorkspaceID,
		EntityKind:  e.EntityKind,
		EntityID:    e.EntityID,
		ActorID:     e.ActorID,
		Payload:     nonNilMap(decodeObject(e.Payload)),
	}
}

// decodeObject returns nil for empty input and wraps non-object JSON under "value".
func decodeObject(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"value": raw}
	}
	return out
}

func encodeObject(m map[string]any) (string, error) {
	if m == nil {
		return "", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
