package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"pilotdeck/internal/config"
	"pilotdeck/internal/domain"
	"pilotdeck/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher forwards the events of every workspace to the configured
// webhooks. Each hook keeps a persisted cursor, so a restart neither replays
// nor skips.
type WebhookDispatcher struct {
	engine   engine.Engine
	hooks    []webhook
	client   *http.Client
	metrics  *Metrics
	logger   *slog.Logger
	Interval time.Duration
}

type webhook struct {
	config.WebhookConfig
	filter  eventFilter
	limiter *rate.Limiter
}

// NewWebhookDispatcher returns nil when no hook is enabled.
func NewWebhookDispatcher(e engine.Engine, metrics *Metrics, logger *slog.Logger) *WebhookDispatcher {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	d := &WebhookDispatcher{
		engine:   e,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		metrics:  metrics,
		logger:   logger,
		Interval: defaultWebhookInterval,
	}
	for _, hook := range e.Config.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		limit := rate.Inf
		if hook.RatePerSecond > 0 {
			limit = rate.Limit(hook.RatePerSecond)
		}
		d.hooks = append(d.hooks, webhook{
			WebhookConfig: hook,
			filter:        newEventFilter(hook.Events),
			limiter:       rate.NewLimiter(limit, 1),
		})
	}
	if len(d.hooks) == 0 {
		return nil
	}
	return d
}

// Start polls until ctx is done. Cursors of new hooks start at the latest
// event, so history is never replayed to a freshly added receiver.
func (d *WebhookDispatcher) Start(ctx context.Context) {
	if d == nil {
		return
	}
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		if err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("webhook dispatch failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce runs one delivery pass over every hook.
func (d *WebhookDispatcher) DispatchOnce(ctx context.Context) error {
	if d == nil {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, hook := range d.hooks {
		hook := hook
		g.Go(func() error {
			return d.dispatchWebhook(gctx, hook)
		})
	}
	return g.Wait()
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, hook webhook) error {
	cursor, err := d.cursorFor(ctx, hook)
	if err != nil {
		return fmt.Errorf("init cursor for %s: %w", hook.URL, err)
	}
	evts, err := d.engine.Repo.EventsAfter(ctx, defaultWebhookBatch, cursor, "")
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}
	for _, evt := range evts {
		if hook.filter.match(evt.Type) {
			if err := hook.limiter.Wait(ctx); err != nil {
				return err
			}
			err := d.postEvent(ctx, hook, evt)
			d.metrics.delivery(err)
			if err != nil {
				// Retried from the same cursor on the next tick.
				d.logger.Warn("webhook delivery failed", "url", hook.URL, "event_id", evt.ID, "err", err)
				return nil
			}
		}
		if err := d.engine.Repo.SetWebhookCursor(ctx, hook.URL, evt.ID); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
	}
	return nil
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, hook webhook) (int64, error) {
	cur, ok, err := d.engine.Repo.WebhookCursor(ctx, hook.URL)
	if err != nil {
		return 0, err
	}
	if ok {
		return cur, nil
	}
	cur, err = d.engine.Repo.LatestEventID(ctx, "")
	if err != nil {
		return 0, err
	}
	if err := d.engine.Repo.SetWebhookCursor(ctx, hook.URL, cur); err != nil {
		return 0, err
	}
	return cur, nil
}

type webhookEvent struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	WorkspaceID string          `json:"workspace_id"`
	EntityKind  string          `json:"entity_kind"`
	EntityID    string          `json:"entity_id,omitempty"`
	ActorID     string          `json:"actor_id"`
	TS          string          `json:"ts"`
	Payload     json.RawMessage `json:"payload"`
	PayloadRaw  string          `json:"payload_raw,omitempty"`
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook webhook, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage([]byte(evt.Payload))
		} else {
			raw = evt.Payload
		}
	}
	body := webhookEvent{
		ID:          evt.ID,
		Type:        evt.Type,
		WorkspaceID: evt.WorkspaceID,
		EntityKind:  evt.EntityKind,
		EntityID:    evt.EntityID,
		ActorID:     evt.ActorID,
		TS:          evt.TS,
		Payload:     payload,
		PayloadRaw:  raw,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-PilotDeck-Event", evt.Type)
	req.Header.Set("X-PilotDeck-Delivery", fmt.Sprintf("%d", evt.ID))
	req.Header.Set("X-PilotDeck-Workspace", evt.WorkspaceID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-PilotDeck-Signature", SignPayload(hook.Secret, data))
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

// SignPayload returns the X-PilotDeck-Signature value for body.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
