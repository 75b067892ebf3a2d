// Package visibility hides tracked posts whose classification matches a
// selected topic and shows the rest.
package visibility

import (
	"log/slog"
	"sync"

	"github.com/mfenderov/feedfilter/internal/cache"
	"github.com/mfenderov/feedfilter/internal/platform"
	"github.com/mfenderov/feedfilter/internal/scanner"
	"github.com/mfenderov/feedfilter/pkg/models"
)

// Classifications looks up cached classifications.
type Classifications interface {
	Lookup(id string) (models.Classification, cache.State)
}

// Engine applies visibility decisions to tracked containers.
type Engine struct {
	cache Classifications

	mu      sync.Mutex
	tracked map[string][]platform.Container
}

// New creates an Engine reading classifications from c.
func New(c Classifications) *Engine {
	return &Engine{
		cache:   c,
		tracked: make(map[string][]platform.Container),
	}
}

// Track remembers the containers of items so Apply can reach them.
func (e *Engine) Track(items ...scanner.Item) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, item := range items {
		if item.Container == nil {
			continue
		}
		containers := e.tracked[item.ID]
		seen := false
		for _, c := range containers {
			if c == item.Container {
				seen = true
				break
			}
		}
		if !seen {
			e.tracked[item.ID] = append(containers, item.Container)
		}
	}
}

// Containers returns the containers tracked for id.
func (e *Engine) Containers(id string) []platform.Container {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]platform.Container(nil), e.tracked[id]...)
}

// Tracked returns the number of tracked ids.
func (e *Engine) Tracked() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tracked)
}

// Apply hides every tracked container whose classification intersects
// selected and un-hides the others. Ids that are absent or pending in the
// cache are never hidden: a post hidden on a classification that has since
// been dropped is shown again. It returns the number of containers changed,
// so a second call with the same selection returns 0.
func (e *Engine) Apply(selected models.TopicSet) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	mutations := 0
	for id, containers := range e.tracked {
		var matching []string
		if classification, state := e.cache.Lookup(id); state == cache.Resolved {
			matching = classification.Matching(selected)
		}
		hide := len(matching) > 0
		for _, c := range containers {
			if !c.SetHidden(hide) {
				continue
			}
			mutations++
			if hide {
				slog.Info("hiding post", "id", id, "topics", matching)
			} else {
				slog.Debug("showing post", "id", id)
			}
		}
	}
	return mutations
}
