// Package coord reacts to events from other execution contexts (topic
// changes, the enabled toggle, cache clears) and to new posts in the feed.
package coord

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/mfenderov/feedfilter/internal/bus"
	"github.com/mfenderov/feedfilter/internal/events"
	"github.com/mfenderov/feedfilter/internal/pipeline"
	"github.com/mfenderov/feedfilter/internal/scanner"
	"github.com/mfenderov/feedfilter/pkg/models"
)

// State is what the coordinator last knew about the settings.
type State struct {
	Topics  models.TopicSet
	Enabled bool
}

// Config holds coordinator dependencies.
type Config struct {
	Pipeline *pipeline.Pipeline
	Settings pipeline.Settings
	Debounce time.Duration
	// OnRun, if set, receives the outcome of every pipeline run.
	OnRun func(*pipeline.Result, error)
}

// Coordinator owns the feed context's state and serializes pipeline runs.
type Coordinator struct {
	pipeline *pipeline.Pipeline
	settings pipeline.Settings
	onRun    func(*pipeline.Result, error)
	window   time.Duration

	runMu sync.Mutex // one pipeline run at a time

	mu       sync.Mutex
	state    State
	debounce *scanner.Debouncer
	cancel   func()
}

// New creates a Coordinator.
func New(config Config) (*Coordinator, error) {
	if config.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if config.Settings == nil {
		return nil, fmt.Errorf("settings source is required")
	}
	return &Coordinator{
		pipeline: config.Pipeline,
		settings: config.Settings,
		onRun:    config.OnRun,
		window:   config.Debounce,
	}, nil
}

// State returns a copy of the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Topics: append(models.TopicSet(nil), c.state.Topics...), Enabled: c.state.Enabled}
}

// Start loads settings and the durable cache, subscribes to new posts and
// runs the pipeline once if enabled. ctx bounds the lifetime of
// subscription-triggered runs.
func (c *Coordinator) Start(ctx context.Context) error {
	snap, err := c.settings.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if n, err := c.pipeline.Cache().Load(ctx); err == nil {
		slog.Debug("classification cache loaded", "entries", n)
	}

	if !snap.Enabled {
		c.pipeline.Pause()
	}

	c.mu.Lock()
	c.state = State{Topics: snap.Topics.Normalize(), Enabled: snap.Enabled}
	c.debounce = scanner.Debounce(c.window, func() { c.OnNewItems(ctx) })
	c.cancel = c.pipeline.ObserveNewPosts(c.debounce.Trigger)
	c.mu.Unlock()

	if snap.Enabled {
		c.run(ctx, false)
	}
	return nil
}

// Stop cancels subscriptions and any pending debounced run.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.debounce != nil {
		c.debounce.Stop()
	}
}

// Flush runs a pending debounced scan immediately.
func (c *Coordinator) Flush() {
	c.mu.Lock()
	d := c.debounce
	c.mu.Unlock()
	if d != nil {
		d.Flush()
	}
}

// OnNewItems is the debounced scan trigger. It does nothing while disabled.
func (c *Coordinator) OnNewItems(ctx context.Context) {
	if !c.State().Enabled {
		return
	}
	c.run(ctx, false)
}

// TopicsChanged applies a new topic selection. When topics were added,
// cached classifications cannot answer for them, so the cache is
// invalidated and every post rescanned. Otherwise only visibility changes.
//
// Invalidation waits for the run in flight, so a batch sent with the old
// topics is settled before the cache is cleared.
func (c *Coordinator) TopicsChanged(ctx context.Context, topics models.TopicSet) (invalidated bool, err error) {
	topics = topics.Normalize()

	c.mu.Lock()
	prev := c.state.Topics
	c.state.Topics = topics
	c.mu.Unlock()

	added := models.Added(prev, topics)
	if len(added) == 0 {
		if c.State().Enabled {
			n := c.pipeline.ApplyVisibility(topics)
			slog.Debug("topics narrowed, visibility updated", "mutations", n)
		}
		return false, nil
	}

	c.runMu.Lock()
	defer c.runMu.Unlock()

	slog.Info("topics added, invalidating classifications", "added", added)
	if err := c.pipeline.Cache().InvalidateAll(ctx); err != nil {
		slog.Warn("failed to invalidate classifications", "error", err)
	}
	if c.State().Enabled {
		c.runLocked(ctx, true)
	}
	return true, nil
}

// ExtensionStateChanged gates scanning. Disabling shows every post at once,
// even while a run is classifying; enabling rescans so posts seen while
// disabled are handled.
func (c *Coordinator) ExtensionStateChanged(ctx context.Context, enabled bool) {
	c.mu.Lock()
	was := c.state.Enabled
	c.state.Enabled = enabled
	topics := c.state.Topics
	c.mu.Unlock()

	if was == enabled {
		return
	}
	slog.Info("extension state changed", "enabled", enabled)
	if !enabled {
		n := c.pipeline.Pause()
		slog.Debug("filtering paused", "mutations", n)
		return
	}
	c.pipeline.Resume()
	c.pipeline.ApplyVisibility(topics)
	c.run(ctx, true)
}

// ClearClassificationCache drops the local cache tier once the run in flight
// has finished. The durable mapping is cleared by whoever sent the message.
func (c *Coordinator) ClearClassificationCache(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.pipeline.Cache().Forget()
	slog.Debug("local classification cache cleared")
	if c.State().Enabled {
		c.runLocked(ctx, true)
	}
}

// UpdateVisibility recomputes visibility with the current topics.
func (c *Coordinator) UpdateVisibility(ctx context.Context) int {
	state := c.State()
	if !state.Enabled {
		return 0
	}
	return c.pipeline.ApplyVisibility(state.Topics)
}

// run executes one pipeline pass. Panics are recovered and logged.
func (c *Coordinator) run(ctx context.Context, rescan bool) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	c.runLocked(ctx, rescan)
}

func (c *Coordinator) runLocked(ctx context.Context, rescan bool) {
	var result *pipeline.Result
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("pipeline panic: %v", r)
				slog.Error("pipeline panic", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		if rescan {
			result, err = c.pipeline.Rescan(ctx)
		} else {
			result, err = c.pipeline.Run(ctx)
		}
	}()

	if err != nil {
		slog.Warn("pipeline run failed", "error", err)
	} else {
		for _, e := range result.Errors {
			slog.Warn("pipeline error", "error", e)
		}
	}
	if c.onRun != nil {
		c.onRun(result, err)
	}
}

// Register subscribes the coordinator to the feed-context messages on b.
// Every handler validates its payload first.
func (c *Coordinator) Register(b *bus.Bus) (cancel func()) {
	cancels := []func(){
		b.Handle(events.KindTopicsUpdated, func(ctx context.Context, msg events.Message) (any, error) {
			var p events.TopicsUpdated
			if err := msg.Decode(&p); err != nil {
				return nil, err
			}
			_, err := c.TopicsChanged(ctx, p.Topics)
			return nil, err
		}),
		b.Handle(events.KindExtensionStateChanged, func(ctx context.Context, msg events.Message) (any, error) {
			var p events.ExtensionStateChanged
			if err := msg.Decode(&p); err != nil {
				return nil, err
			}
			c.ExtensionStateChanged(ctx, *p.Enabled)
			return nil, nil
		}),
		b.Handle(events.KindClearClassificationCache, func(ctx context.Context, msg events.Message) (any, error) {
			if err := msg.Decode(&events.Empty{}); err != nil {
				return nil, err
			}
			c.ClearClassificationCache(ctx)
			return nil, nil
		}),
		b.Handle(events.KindUpdateVisibility, func(ctx context.Context, msg events.Message) (any, error) {
			if err := msg.Decode(&events.Empty{}); err != nil {
				return nil, err
			}
			return c.UpdateVisibility(ctx), nil
		}),
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}
