// Package pipeline runs one scan-triggered pass over the feed: scan, look
// up the cache, classify the misses, store the results and apply visibility.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mfenderov/feedfilter/internal/cache"
	"github.com/mfenderov/feedfilter/internal/classifier"
	"github.com/mfenderov/feedfilter/internal/platform"
	"github.com/mfenderov/feedfilter/internal/scanner"
	"github.com/mfenderov/feedfilter/internal/settings"
	"github.com/mfenderov/feedfilter/internal/visibility"
	"github.com/mfenderov/feedfilter/pkg/models"
)

// ErrNoTopics is returned when the topic selection is empty.
var ErrNoTopics = errors.New("no topics selected")

// Settings supplies the settings each run starts from.
type Settings interface {
	Load(ctx context.Context) (settings.Snapshot, error)
}

// Classifier classifies items with a given credential.
type Classifier interface {
	Classify(ctx context.Context, items []models.Item, topics models.TopicSet, apiKey string) (*classifier.Result, error)
}

// Archive records resolved classifications somewhere searchable.
type Archive interface {
	IndexClassifications(ctx context.Context, records []models.ClassificationRecord) error
}

// Config holds pipeline dependencies.
type Config struct {
	Adapter       platform.Adapter
	Settings      Settings
	Classifier    Classifier
	Cache         *cache.Cache // optional, a local-only cache if nil
	Archive       Archive      // optional
	MaxIDAttempts int
	APIKey        string // overrides the stored key when set
}

// Result holds the outcome of one run.
type Result struct {
	Scanned    int
	CacheHits  int
	InFlight   int // ids another run is already classifying
	Classified int
	Failed     int
	Mutations  int
	Skipped    bool // the extension is disabled or the pipeline paused
	Duration   time.Duration
	Errors     []error
}

// Pipeline wires scanner, cache, classifier and visibility engine together.
type Pipeline struct {
	adapter    platform.Adapter
	scanner    *scanner.Scanner
	cache      *cache.Cache
	classifier Classifier
	visibility *visibility.Engine
	settings   Settings
	archive    Archive
	apiKey     string

	visMu  sync.Mutex // orders visibility changes against Pause
	paused bool
}

// New creates a Pipeline. It fails when the adapter cannot scan.
func New(config Config) (*Pipeline, error) {
	sc, err := scanner.New(config.Adapter, scanner.Config{MaxIDAttempts: config.MaxIDAttempts})
	if err != nil {
		return nil, err
	}
	if config.Settings == nil {
		return nil, fmt.Errorf("settings source is required")
	}
	if config.Classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}

	c := config.Cache
	if c == nil {
		c = cache.New(nil)
	}

	return &Pipeline{
		adapter:    config.Adapter,
		scanner:    sc,
		cache:      c,
		classifier: config.Classifier,
		visibility: visibility.New(c),
		settings:   config.Settings,
		archive:    config.Archive,
		apiKey:     config.APIKey,
	}, nil
}

// Cache returns the pipeline's classification cache.
func (p *Pipeline) Cache() *cache.Cache { return p.cache }

// Scanner returns the pipeline's scanner.
func (p *Pipeline) Scanner() *scanner.Scanner { return p.scanner }

// ObserveNewPosts calls fn whenever the adapter reports inserted content.
func (p *Pipeline) ObserveNewPosts(fn func()) (cancel func()) {
	return p.adapter.ObserveNewPosts(fn)
}

// Run processes every unprocessed container once.
//
// Configuration problems (no API key, no topics) abort the run before any
// container is touched. Items whose batch fails are released and unmarked so
// a later run retries them.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{}

	if p.Paused() {
		result.Skipped = true
		return result, nil
	}

	snap, err := p.settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if !snap.Enabled {
		result.Skipped = true
		return result, nil
	}
	apiKey := snap.APIKey
	if p.apiKey != "" {
		apiKey = p.apiKey
	}
	if apiKey == "" {
		slog.Warn("skipping run", "reason", "missing API key")
		return nil, classifier.ErrNoAPIKey
	}
	topics := snap.Topics.Normalize()
	if len(topics) == 0 {
		slog.Warn("skipping run", "reason", "no topics selected")
		return nil, ErrNoTopics
	}

	items := p.scanner.Scan()
	result.Scanned = len(items)
	if len(items) == 0 {
		result.Duration = time.Since(start)
		return result, nil
	}
	p.visibility.Track(items...)
	p.refreshMisses(ctx, items)

	var toClassify []models.Item
	for _, item := range items {
		switch _, state := p.cache.Lookup(item.ID); state {
		case cache.Resolved:
			result.CacheHits++
		case cache.Pending:
			result.InFlight++
		case cache.Absent:
			if p.cache.Reserve(item.ID) {
				toClassify = append(toClassify, item.Item)
			} else {
				result.InFlight++
			}
		}
	}
	p.scanner.MarkProcessed(items...)

	slog.Debug("scan complete",
		"scanned", result.Scanned,
		"hits", result.CacheHits,
		"in_flight", result.InFlight,
		"to_classify", len(toClassify))

	if len(toClassify) > 0 {
		p.classify(ctx, toClassify, topics, apiKey, result)
	}

	result.Mutations = p.ApplyVisibility(topics)
	result.Duration = time.Since(start)
	return result, nil
}

// refreshMisses pulls entries other contexts stored durably into the local
// tier when any scanned id is unknown locally. A failed read counts as a miss.
func (p *Pipeline) refreshMisses(ctx context.Context, items []scanner.Item) {
	for _, item := range items {
		if _, state := p.cache.Lookup(item.ID); state == cache.Absent {
			if n, err := p.cache.Load(ctx); err == nil && n > 0 {
				slog.Debug("loaded classifications stored by other contexts", "entries", n)
			}
			return
		}
	}
}

func (p *Pipeline) classify(ctx context.Context, items []models.Item, topics models.TopicSet, apiKey string, result *Result) {
	classified, err := p.classifier.Classify(ctx, items, topics, apiKey)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("failed to classify: %w", err))
		p.release(items)
		result.Failed += len(items)
		return
	}
	result.Errors = append(result.Errors, classified.Errors...)

	resolved := make(map[string]models.Classification, len(classified.Classifications))
	var unresolved []models.Item
	for _, item := range items {
		if cl, ok := classified.Classifications[item.ID]; ok {
			resolved[item.ID] = cl
		} else {
			unresolved = append(unresolved, item)
		}
	}

	settled, err := p.cache.ResolveAll(ctx, resolved)
	if err != nil {
		result.Errors = append(result.Errors, err)
	}
	result.Classified = settled
	if settled < len(resolved) {
		p.unmarkStale(resolved)
	}

	if len(unresolved) > 0 {
		p.release(unresolved)
		result.Failed += len(unresolved)
	}

	if p.archive != nil && len(resolved) > 0 {
		p.archiveResolved(ctx, items, resolved, topics, result)
	}
}

// release drops reservations and unmarks every container showing the items,
// including ones another run saw while the id was pending, so a later scan
// picks them up again.
func (p *Pipeline) release(items []models.Item) {
	for _, item := range items {
		p.cache.Release(item.ID)
		for _, c := range p.visibility.Containers(item.ID) {
			c.SetProcessed(false)
		}
	}
}

// unmarkStale unmarks containers whose result was dropped because the cache
// was invalidated while the batch ran.
func (p *Pipeline) unmarkStale(resolved map[string]models.Classification) {
	for id := range resolved {
		if _, state := p.cache.Lookup(id); state == cache.Resolved {
			continue
		}
		slog.Debug("discarding result computed before invalidation", "id", id)
		delete(resolved, id)
		for _, c := range p.visibility.Containers(id) {
			c.SetProcessed(false)
		}
	}
}

func (p *Pipeline) archiveResolved(ctx context.Context, items []models.Item, resolved map[string]models.Classification, topics models.TopicSet, result *Result) {
	now := time.Now()
	records := make([]models.ClassificationRecord, 0, len(resolved))
	for _, item := range items {
		cl, ok := resolved[item.ID]
		if !ok {
			continue
		}
		records = append(records, models.ClassificationRecord{
			ID:           item.ID,
			Text:         item.Text,
			Topics:       cl,
			Requested:    topics,
			Host:         p.adapter.Host(),
			ClassifiedAt: now,
		})
	}
	if err := p.archive.IndexClassifications(ctx, records); err != nil {
		slog.Warn("failed to archive classifications", "count", len(records), "error", err)
		result.Errors = append(result.Errors, err)
	}
}

// Rescan unmarks every container and runs again, so every post is looked up
// or classified anew.
func (p *Pipeline) Rescan(ctx context.Context) (*Result, error) {
	n := p.scanner.Reset()
	slog.Debug("forcing rescan", "containers", n)
	return p.Run(ctx)
}

// ApplyVisibility recomputes visibility for tracked posts. It does nothing
// while the pipeline is paused.
func (p *Pipeline) ApplyVisibility(topics models.TopicSet) int {
	p.visMu.Lock()
	defer p.visMu.Unlock()
	if p.paused {
		return 0
	}
	return p.visibility.Apply(topics.Normalize())
}

// Pause shows every tracked post and keeps it shown: runs started before the
// pause still store their results but no longer change visibility, and new
// runs are skipped until Resume.
func (p *Pipeline) Pause() int {
	p.visMu.Lock()
	defer p.visMu.Unlock()
	p.paused = true
	return p.visibility.Apply(nil)
}

// Resume lifts Pause. Visibility is not recomputed until the next run or
// ApplyVisibility.
func (p *Pipeline) Resume() {
	p.visMu.Lock()
	p.paused = false
	p.visMu.Unlock()
}

// Paused reports whether the pipeline is paused.
func (p *Pipeline) Paused() bool {
	p.visMu.Lock()
	defer p.visMu.Unlock()
	return p.paused
}
