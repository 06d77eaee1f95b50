package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"pilotdeck/internal/config"
	"pilotdeck/internal/domain"
	"pilotdeck/internal/events"
	"pilotdeck/internal/repo"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrInvalidMode    = errors.New("invalid automation mode")
	ErrUnknownModule  = errors.New("unknown module")
	ErrNotAutomatable = errors.New("module is not automatable")
	ErrActionFinal    = errors.New("action already finalized")
	ErrConflict       = errors.New("conflict")
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Engine owns every state change of a workspace. All writes go through a
// transaction that also appends the matching event.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Logger *slog.Logger

	validate *validator.Validate
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{},
		Config:   cfg,
		Now:      time.Now,
		Logger:   slog.Default(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return domain.FormatTime(e.now())
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) eventWriter() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) check(v any) error {
	val := e.validate
	if val == nil {
		val = validator.New(validator.WithRequiredStructEnabled())
	}
	if err := val.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(fields, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// Module returns the catalog entry for id.
func (e Engine) Module(id string) (domain.Module, error) {
	if e.Config == nil {
		return domain.Module{}, errors.New("config not loaded")
	}
	m, ok := e.Config.Module(id)
	if !ok {
		return domain.Module{}, fmt.Errorf("%w: %s", ErrUnknownModule, id)
	}
	return m, nil
}

// Modules returns the static module catalog.
func (e Engine) Modules() []domain.Module {
	if e.Config == nil {
		return nil
	}
	out := make([]domain.Module, len(e.Config.Modules))
	copy(out, e.Config.Modules)
	return out
}

// DefaultWorkspace returns the configured workspace id.
func (e Engine) DefaultWorkspace() string {
	if e.Config == nil {
		return ""
	}
	return e.Config.Workspace.ID
}

// EnsureWorkspace creates the workspace row on first use.
func (e Engine) EnsureWorkspace(ctx context.Context, workspaceID, name, actorID string) error {
	if strings.TrimSpace(workspaceID) == "" {
		return fmt.Errorf("%w: workspace id required", ErrInvalidInput)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	created, err := e.Repo.EnsureWorkspace(ctx, tx, workspaceID, name, e.stamp())
	if err != nil {
		return fmt.Errorf("ensure workspace: %w", err)
	}
	if created {
		if _, err := e.eventWriter().Append(ctx, tx, events.WorkspaceCreated, workspaceID, "workspace", workspaceID, actorID, events.EventPayload{"name": name}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListEvents returns the audit log of a workspace, newest first.
func (e Engine) ListEvents(ctx context.Context, workspaceID, evtType string, limit int, cursor int64) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, clampLimit(limit), cursor, workspaceID, evtType)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// validateJSONObject accepts an empty string or a JSON object.
func validateJSONObject(field, in string) error {
	if strings.TrimSpace(in) == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(in), &obj); err != nil || obj == nil {
		return fmt.Errorf("%w: %s must be a JSON object", ErrInvalidInput, field)
	}
	return nil
}

// validateJSON accepts any JSON value.
func validateJSON(field, in string) error {
	if strings.TrimSpace(in) == "" {
		return nil
	}
	if !json.Valid([]byte(in)) {
		return fmt.Errorf("%w: %s must be valid JSON", ErrInvalidInput, field)
	}
	return nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
