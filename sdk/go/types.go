package pilotdecksdk

// Mode is the autonomy level of a module.
type Mode string

const (
	ModeManual    Mode = "manual"
	ModeCopilot   Mode = "copilot"
	ModeAutopilot Mode = "autopilot"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeManual, ModeCopilot, ModeAutopilot:
		return true
	}
	return false
}

// CoerceMode maps unknown or empty values to manual.
func CoerceMode(s string) Mode {
	if m := Mode(s); m.Valid() {
		return m
	}
	return ModeManual
}

type ResolveAction string

const (
	ActionApprove ResolveAction = "approve"
	ActionReject  ResolveAction = "reject"
)

type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionCompleted ActionStatus = "completed"
	ActionFailed    ActionStatus = "failed"
)

type Principal struct {
	ActorID     string `json:"actor_id"`
	WorkspaceID string `json:"workspace_id"`
	Source      string `json:"source"`
}

type Module struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category,omitempty"`
	Color       string `json:"color,omitempty"`
	Automatable bool   `json:"automatable"`
}

type ModeState struct {
	ModuleID  string `json:"module_id"`
	Mode      Mode   `json:"mode"`
	UpdatedBy string `json:"updated_by,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// ModeChange is the result of SetMode. Changed is false when the module
// already had the requested mode.
type ModeChange struct {
	ModeState
	From    Mode `json:"from"`
	Changed bool `json:"changed"`
}

// Approval is an item awaiting (or past) human review.
type Approval struct {
	ID          string         `json:"id"`
	ModuleID    string         `json:"module_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Priority    string         `json:"priority"`
	Confidence  *int           `json:"confidence,omitempty"`
	Status      string         `json:"status"`
	CreatedBy   string         `json:"created_by,omitempty"`
	CreatedAt   string         `json:"created_at"`
	ResolvedBy  string         `json:"resolved_by,omitempty"`
	ResolvedAt  *string        `json:"resolved_at,omitempty"`
}

func (a *Approval) normalize() {
	if a.Priority == "" {
		a.Priority = "medium"
	}
	if a.Status == "" {
		a.Status = "pending"
	}
}

type NewApproval struct {
	ID          string         `json:"id,omitempty"`
	ModuleID    string         `json:"module_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	Confidence  *int           `json:"confidence,omitempty"`
}

type ApprovalFilter struct {
	Module   string
	Status   string
	Priority string
	Limit    int
	Cursor   string
}

type ApprovalPage struct {
	Items      []Approval `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

type ApprovalCounts struct {
	Total    int            `json:"total"`
	ByModule map[string]int `json:"by_module"`
}

// normalize drops negative counts and recomputes Total from ByModule when
// the two disagree.
func (c *ApprovalCounts) normalize() {
	if c.ByModule == nil {
		c.ByModule = map[string]int{}
	}
	sum := 0
	for id, n := range c.ByModule {
		if n < 0 {
			c.ByModule[id] = 0
			continue
		}
		sum += n
	}
	if len(c.ByModule) > 0 || c.Total < 0 {
		c.Total = sum
	}
}

type Resolution struct {
	Item     Approval `json:"item"`
	Applied  bool     `json:"applied"`
	ActionID string   `json:"action_id,omitempty"`
}

type BatchResult struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
}

type Action struct {
	ID          string       `json:"id"`
	ModuleID    string       `json:"module_id"`
	ApprovalID  *string      `json:"approval_id,omitempty"`
	Description string       `json:"description"`
	Status      ActionStatus `json:"status"`
	DurationMs  int64        `json:"duration_ms"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   string       `json:"created_at"`
	CompletedAt *string      `json:"completed_at,omitempty"`
}

type NewAction struct {
	ID          string       `json:"id,omitempty"`
	ModuleID    string       `json:"module_id"`
	ApprovalID  string       `json:"approval_id,omitempty"`
	Description string       `json:"description"`
	Status      ActionStatus `json:"status,omitempty"`
	DurationMs  int64        `json:"duration_ms,omitempty"`
	Error       string       `json:"error,omitempty"`
}

type ActionFilter struct {
	Module string
	Status string
	Limit  int
	Cursor string
}

type ActionPage struct {
	Items      []Action `json:"items"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type ActionStats struct {
	ModuleID    string `json:"module_id,omitempty"`
	Today       int    `json:"today"`
	Completed   int    `json:"completed"`
	Failed      int    `json:"failed"`
	SuccessRate int    `json:"success_rate"`
}

func (s *ActionStats) normalize() {
	for _, n := range []*int{&s.Today, &s.Completed, &s.Failed} {
		if *n < 0 {
			*n = 0
		}
	}
	if s.SuccessRate < 0 || s.SuccessRate > 100 {
		s.SuccessRate = 0
	}
}

type Rule struct {
	ID        string         `json:"id"`
	ModuleID  string         `json:"module_id"`
	Name      string         `json:"name"`
	Trigger   map[string]any `json:"trigger"`
	Action    map[string]any `json:"action"`
	Enabled   bool           `json:"enabled"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

type NewRule struct {
	ModuleID string         `json:"module_id"`
	Name     string         `json:"name"`
	Trigger  map[string]any `json:"trigger"`
	Action   map[string]any `json:"action"`
	Enabled  *bool          `json:"enabled,omitempty"`
}

type RulePatch struct {
	Name    *string        `json:"name,omitempty"`
	Trigger map[string]any `json:"trigger,omitempty"`
	Action  map[string]any `json:"action,omitempty"`
	Enabled *bool          `json:"enabled,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID          int64          `json:"id"`
	TS          string         `json:"ts"`
	Type        string         `json:"type"`
	WorkspaceID string         `json:"workspace_id"`
	EntityKind  string         `json:"entity_kind"`
	EntityID    string         `json:"entity_id"`
	ActorID     string         `json:"actor_id"`
	Payload     map[string]any `json:"payload"`
}

type EventPage struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor,omitempty"`
}
