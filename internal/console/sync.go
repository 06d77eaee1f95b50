package console

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Store is a cached projection the Coordinator keeps fresh.
type Store interface {
	Refresh(ctx context.Context) error
}

type namedStore struct {
	name  string
	store Store
}

// Coordinator refreshes every registered store on a fixed interval and on
// demand after mutations. A failing store is logged and keeps its last known
// good value; it never blocks the others.
type Coordinator struct {
	interval time.Duration
	logger   *slog.Logger
	metrics  *Metrics
	stores   []namedStore
	onTick   func()

	group singleflight.Group
	ready atomic.Bool
}

func NewCoordinator(interval time.Duration, logger *slog.Logger, metrics *Metrics) *Coordinator {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Coordinator{interval: interval, logger: logger, metrics: metrics}
}

// Register adds a store. Call before Start.
func (c *Coordinator) Register(name string, s Store) {
	c.stores = append(c.stores, namedStore{name: name, store: s})
}

// Ready reports whether the initial refresh has run.
func (c *Coordinator) Ready() bool {
	return c.ready.Load()
}

// RefreshNow refreshes every store once. Concurrent callers share a single
// pass.
func (c *Coordinator) RefreshNow(ctx context.Context) {
	c.group.Do("refresh", func() (any, error) {
		c.refreshAll(ctx)
		return nil, nil
	})
}

// refreshAfterMutation starts a new pass instead of joining one already in
// flight, since that pass may have read the server before the mutation.
func (c *Coordinator) refreshAfterMutation(ctx context.Context) {
	c.group.Forget("refresh")
	c.RefreshNow(ctx)
}

func (c *Coordinator) refreshAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, ns := range c.stores {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := ns.store.Refresh(ctx)
			c.metrics.observe(ns.name, time.Since(start).Seconds(), err)
			if err != nil && ctx.Err() == nil {
				c.logger.Warn("store refresh failed", "store", ns.name, "err", err)
			}
		}()
	}
	wg.Wait()
}

// Handle is a running coordinator loop.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Dispose stops the loop and waits for it to exit. Safe to call twice.
func (h *Handle) Dispose() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
	})
}

// Start performs the initial refresh, marks the coordinator ready and then
// refreshes every interval until the handle is disposed or ctx ends.
func (c *Coordinator) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	c.RefreshNow(ctx)
	c.ready.Store(true)
	go func() {
		defer close(h.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.onTick != nil {
					c.onTick()
				}
				c.RefreshNow(ctx)
			}
		}
	}()
	return h
}
