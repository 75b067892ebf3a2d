// Package scanner finds posts in a live document that the pipeline has not
// handled yet.
package scanner

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/mfenderov/feedfilter/internal/platform"
	"github.com/mfenderov/feedfilter/pkg/models"
)

// ErrNoAdapter is returned when the scanner has nothing to scan with.
var ErrNoAdapter = errors.New("platform adapter is required")

// DefaultMaxIDAttempts bounds how many scans may fail to find a container's id
// before the container is abandoned.
const DefaultMaxIDAttempts = 5

// Item is a scanned post together with the container it was read from.
type Item struct {
	models.Item
	Container platform.Container
}

// Config holds scanner configuration.
type Config struct {
	MaxIDAttempts int
}

// Scanner yields the unprocessed posts of a document.
type Scanner struct {
	adapter       platform.Adapter
	maxIDAttempts int

	mu     sync.Mutex
	misses map[platform.Container]int
}

// New creates a Scanner over adapter.
func New(adapter platform.Adapter, config Config) (*Scanner, error) {
	if adapter == nil || adapter.ContainerSelector() == "" {
		return nil, ErrNoAdapter
	}
	if config.MaxIDAttempts <= 0 {
		config.MaxIDAttempts = DefaultMaxIDAttempts
	}
	return &Scanner{
		adapter:       adapter,
		maxIDAttempts: config.MaxIDAttempts,
		misses:        make(map[platform.Container]int),
	}, nil
}

// Scan returns an item for every container not yet marked processed.
// Containers without an id are skipped; after MaxIDAttempts such scans the
// container is marked processed and never looked at again.
//
// Scan does not mark anything itself, so scanning twice without new
// insertions or MarkProcessed calls yields the same items.
func (s *Scanner) Scan() []Item {
	var items []Item

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.adapter.Containers() {
		if c.Processed() {
			continue
		}

		id, ok := s.adapter.PostID(c)
		if !ok {
			s.misses[c]++
			if s.misses[c] >= s.maxIDAttempts {
				slog.Debug("abandoning container without post id", "attempts", s.misses[c])
				c.SetProcessed(true)
				delete(s.misses, c)
			}
			continue
		}
		delete(s.misses, c)

		items = append(items, Item{
			Item:      models.Item{ID: id, Text: s.adapter.PostText(c)},
			Container: c,
		})
	}
	return items
}

// MarkProcessed flags the items' containers so later scans skip them.
func (s *Scanner) MarkProcessed(items ...Item) {
	for _, item := range items {
		if item.Container != nil {
			item.Container.SetProcessed(true)
		}
	}
}

// Reset unmarks every container so the next scan yields all of them again.
func (s *Scanner) Reset() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.adapter.Containers() {
		if c.Processed() {
			c.SetProcessed(false)
			n++
		}
	}
	s.misses = make(map[platform.Container]int)
	return n
}

// Subscribe scans after every insertion into the document and calls onBatch
// with the items found, if any.
func (s *Scanner) Subscribe(onBatch func([]Item)) (cancel func()) {
	return s.adapter.ObserveNewPosts(func() {
		if items := s.Scan(); len(items) > 0 {
			onBatch(items)
		}
	})
}
