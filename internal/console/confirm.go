package console

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdk "pilotdeck/sdk/go"
)

// Outcome of a Confirmer request.
type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	OutcomeArmed
	OutcomeCommitted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeArmed:
		return "armed"
	case OutcomeCommitted:
		return "committed"
	default:
		return "unchanged"
	}
}

type arm struct {
	target    sdk.Mode
	expiresAt time.Time
}

// Confirmer enforces the two-press protocol for escalating a module's
// autonomy. Per module it moves Idle -> Armed -> Committed; an arm that is
// not confirmed before expiresAt falls back to Idle.
type Confirmer struct {
	registry *ModeRegistry
	window   time.Duration
	now      func() time.Time

	mu   sync.Mutex
	arms map[string]arm
}

func NewConfirmer(registry *ModeRegistry, window time.Duration, now func() time.Time) *Confirmer {
	if window <= 0 {
		window = DefaultConfirmWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Confirmer{registry: registry, window: window, now: now, arms: map[string]arm{}}
}

// Request records a user's intent to move moduleID to target. Moving to
// manual commits at once. Escalation needs a second request for the same
// target inside the window; only that second request reaches the server.
func (c *Confirmer) Request(ctx context.Context, moduleID string, target sdk.Mode) (Outcome, error) {
	if !target.Valid() {
		return OutcomeUnchanged, fmt.Errorf("%w: %q", ErrInvalidMode, target)
	}
	current := c.registry.GetMode(moduleID)

	c.mu.Lock()
	pending, armed := c.arms[moduleID]
	live := armed && c.now().Before(pending.expiresAt)
	switch {
	case target == sdk.ModeManual, target == current:
		delete(c.arms, moduleID)
		c.mu.Unlock()
		if target == current {
			return OutcomeUnchanged, nil
		}
		if err := c.registry.SetMode(ctx, moduleID, target); err != nil {
			return OutcomeUnchanged, err
		}
		return OutcomeCommitted, nil
	case live && pending.target == target:
		delete(c.arms, moduleID)
		c.mu.Unlock()
		if err := c.registry.SetMode(ctx, moduleID, target); err != nil {
			return OutcomeUnchanged, err
		}
		return OutcomeCommitted, nil
	default:
		c.arms[moduleID] = arm{target: target, expiresAt: c.now().Add(c.window)}
		c.mu.Unlock()
		return OutcomeArmed, nil
	}
}

// Armed returns the pending target of moduleID while its window is open.
func (c *Confirmer) Armed(moduleID string) (sdk.Mode, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.arms[moduleID]
	if !ok || !c.now().Before(a.expiresAt) {
		return "", time.Time{}, false
	}
	return a.target, a.expiresAt, true
}

// ArmedTargets returns the live arms keyed by module.
func (c *Confirmer) ArmedTargets() map[string]sdk.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := map[string]sdk.Mode{}
	for id, a := range c.arms {
		if now.Before(a.expiresAt) {
			out[id] = a.target
		}
	}
	return out
}

// Displayed is the mode a view should show: the armed target while the
// window is open, otherwise the committed mode.
func (c *Confirmer) Displayed(moduleID string) sdk.Mode {
	if target, _, ok := c.Armed(moduleID); ok {
		return target
	}
	return c.registry.GetMode(moduleID)
}

// Cancel drops any arm for moduleID.
func (c *Confirmer) Cancel(moduleID string) {
	c.mu.Lock()
	delete(c.arms, moduleID)
	c.mu.Unlock()
}

// Sweep clears expired arms and returns how many were removed.
func (c *Confirmer) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for id, a := range c.arms {
		if !now.Before(a.expiresAt) {
			delete(c.arms, id)
			n++
		}
	}
	return n
}
