package domain

import "time"

// TimeLayout is the fixed-width UTC layout used for every stored timestamp.
// Lexical order of formatted values equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a value written by FormatTime. RFC3339 is accepted as well.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// AutomationMode is the autonomy level of a module.
type AutomationMode string

const (
	ModeManual    AutomationMode = "manual"
	ModeCopilot   AutomationMode = "copilot"
	ModeAutopilot AutomationMode = "autopilot"
)

// Valid reports whether m is one of the three known modes.
func (m AutomationMode) Valid() bool {
	switch m {
	case ModeManual, ModeCopilot, ModeAutopilot:
		return true
	}
	return false
}

// Escalating reports whether moving to m requires confirmation.
func (m AutomationMode) Escalating() bool {
	return m == ModeCopilot || m == ModeAutopilot
}

type Module struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Category    string `json:"category,omitempty" yaml:"category"`
	Color       string `json:"color,omitempty" yaml:"color"`
	Automatable bool   `json:"automatable" yaml:"automatable"`
}

type Workspace struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ModeState struct {
	WorkspaceID string         `json:"workspace_id"`
	ModuleID    string         `json:"module_id"`
	Mode        AutomationMode `json:"mode" enum:"manual,copilot,autopilot"`
	UpdatedBy   string         `json:"updated_by,omitempty"`
	UpdatedAt   string         `json:"updated_at,omitempty" format:"date-time"`
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Terminal reports whether s can no longer change.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// ResolveAction is the user decision applied to a pending approval.
type ResolveAction string

const (
	ActionApprove ResolveAction = "approve"
	ActionReject  ResolveAction = "reject"
)

// Status returns the terminal approval status produced by the action.
func (a ResolveAction) Status() (ApprovalStatus, bool) {
	switch a {
	case ActionApprove:
		return ApprovalApproved, true
	case ActionReject:
		return ApprovalRejected, true
	}
	return "", false
}

type ApprovalItem struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	ModuleID    string         `json:"module_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Payload     string         `json:"payload,omitempty"`
	Priority    Priority       `json:"priority" enum:"low,medium,high,urgent"`
	Confidence  *int           `json:"confidence,omitempty" minimum:"0" maximum:"100"`
	Status      ApprovalStatus `json:"status" enum:"pending,approved,rejected"`
	CreatedBy   string         `json:"created_by,omitempty"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	ResolvedBy  string         `json:"resolved_by,omitempty"`
	ResolvedAt  *string        `json:"resolved_at,omitempty" format:"date-time"`
}

// Resolution reports the outcome of a resolve call. Applied is false when the
// item had already left pending before this call.
type Resolution struct {
	Item     ApprovalItem `json:"item"`
	Applied  bool         `json:"applied"`
	ActionID string       `json:"action_id,omitempty"`
}

type BatchResult struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
}

type ApprovalCounts struct {
	Total    int            `json:"total"`
	ByModule map[string]int `json:"by_module"`
}

type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
)

func (s ActionStatus) Terminal() bool {
	return s == ActionCompleted || s == ActionFailed
}

type ActionRecord struct {
	ID          string       `json:"id"`
	WorkspaceID string       `json:"workspace_id"`
	ModuleID    string       `json:"module_id"`
	ApprovalID  *string      `json:"approval_id,omitempty"`
	Description string       `json:"description"`
	Status      ActionStatus `json:"status" enum:"pending,completed,failed"`
	DurationMs  int64        `json:"duration_ms"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   string       `json:"created_at" format:"date-time"`
	CompletedAt *string      `json:"completed_at,omitempty" format:"date-time"`
}

type ActionStats struct {
	ModuleID    string `json:"module_id,omitempty"`
	Today       int    `json:"today"`
	Completed   int    `json:"completed"`
	Failed      int    `json:"failed"`
	SuccessRate int    `json:"success_rate"`
}

type Rule struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	ModuleID    string `json:"module_id"`
	Name        string `json:"name"`
	TriggerJSON string `json:"trigger_json"`
	ActionJSON  string `json:"action_json"`
	Enabled     bool   `json:"enabled"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	ActorID     string `json:"actor_id"`
	Payload     string `json:"payload_json"`
}

type APIKey struct {
	ID          string `json:"id"`
	ActorID     string `json:"actor_id"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	Name        string `json:"name,omitempty"`
	KeyHash     string `json:"key_hash"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}
