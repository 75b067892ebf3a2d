// Package cache holds item classifications in two tiers: a process-local map
// and the durable "classifications" mapping shared by every context.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mfenderov/feedfilter/internal/kvstore"
	"github.com/mfenderov/feedfilter/pkg/models"
)

// State describes what the cache knows about an id.
type State int

const (
	Absent State = iota
	Pending
	Resolved
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	default:
		return "absent"
	}
}

type entry struct {
	pending        bool
	classification models.Classification
}

// Cache maps item ids to classifications.
//
// An id is reserved (pending) before it is sent for classification so that
// overlapping runs never request it twice. Pending entries live only in the
// local tier.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	store   kvstore.Store
}

// New creates a Cache backed by store. A nil store keeps everything local.
func New(store kvstore.Store) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		store:   store,
	}
}

// Lookup returns the classification for id and its state.
func (c *Cache) Lookup(id string) (models.Classification, State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	switch {
	case !ok:
		return nil, Absent
	case e.pending:
		return nil, Pending
	default:
		return e.classification, Resolved
	}
}

// Reserve marks an absent id as pending. It reports false if the id is
// already pending or resolved.
func (c *Cache) Reserve(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[id]; ok {
		return false
	}
	c.entries[id] = entry{pending: true}
	return true
}

// Release drops a pending reservation so the id can be retried later.
// Resolved entries are left untouched.
func (c *Cache) Release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[id]; ok && e.pending {
		delete(c.entries, id)
	}
}

// ErrNotPending is returned by Resolve when id holds no reservation, for
// example because the cache was invalidated while it was being classified.
var ErrNotPending = errors.New("id is not pending")

// Resolve settles the reservation for id and merges the classification into
// the durable mapping. The local tier is updated even when the durable write
// fails.
func (c *Cache) Resolve(ctx context.Context, id string, classification models.Classification) error {
	n, err := c.ResolveAll(ctx, map[string]models.Classification{id: classification})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotPending, id)
	}
	return nil
}

// ResolveAll settles several reservations with a single durable merge. Ids
// that are no longer pending are dropped, so results computed before an
// invalidation never reach either tier. It returns how many ids were settled.
func (c *Cache) ResolveAll(ctx context.Context, classifications map[string]models.Classification) (int, error) {
	fields := make(map[string]json.RawMessage, len(classifications))
	c.mu.Lock()
	for id, cl := range classifications {
		if e, ok := c.entries[id]; !ok || !e.pending {
			slog.Debug("dropping classification without reservation", "id", id)
			continue
		}
		if cl == nil {
			cl = models.Classification{}
		}
		data, err := json.Marshal(cl)
		if err != nil {
			c.mu.Unlock()
			return 0, fmt.Errorf("failed to encode classification %s: %w", id, err)
		}
		c.entries[id] = entry{classification: cl}
		fields[id] = data
	}
	c.mu.Unlock()

	if len(fields) == 0 || c.store == nil {
		return len(fields), nil
	}
	if err := c.store.MergeFields(ctx, kvstore.KeyClassifications, fields); err != nil {
		slog.Warn("failed to persist classifications", "count", len(fields), "error", err)
		return len(fields), fmt.Errorf("failed to persist classifications: %w", err)
	}
	return len(fields), nil
}

// InvalidateAll drops every entry locally and durably.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	c.Forget()

	if c.store == nil {
		return nil
	}
	if err := c.store.Remove(ctx, kvstore.KeyClassifications); err != nil {
		slog.Warn("failed to clear stored classifications", "error", err)
		return fmt.Errorf("failed to clear stored classifications: %w", err)
	}
	return nil
}

// Forget drops every local entry, pending ones included.
func (c *Cache) Forget() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Load hydrates the local tier from the durable mapping. Entries already
// present locally are kept. A failed read leaves the cache empty-handed
// rather than failing the caller.
func (c *Cache) Load(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}

	var stored map[string]json.RawMessage
	found, err := kvstore.GetJSON(ctx, c.store, kvstore.KeyClassifications, &stored)
	if err != nil {
		slog.Warn("failed to load classifications", "error", err)
		return 0, fmt.Errorf("failed to load classifications: %w", err)
	}
	if !found {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	loaded := 0
	for id, raw := range stored {
		if _, ok := c.entries[id]; ok {
			continue
		}
		var cl models.Classification
		if err := json.Unmarshal(raw, &cl); err != nil {
			slog.Debug("skipping malformed stored classification", "id", id, "error", err)
			continue
		}
		if cl == nil {
			cl = models.Classification{}
		}
		c.entries[id] = entry{classification: cl}
		loaded++
	}
	return loaded, nil
}

// Stats reports how many entries are resolved and pending.
func (c *Cache) Stats() (resolved, pending int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.pending {
			pending++
		} else {
			resolved++
		}
	}
	return resolved, pending
}
