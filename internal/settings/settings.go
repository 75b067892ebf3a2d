// Package settings owns the user-editable state: the topic selection, the
// API key and the enabled flag. Every change is persisted and then announced
// on the bus so the feed context can react.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/mfenderov/feedfilter/internal/bus"
	"github.com/mfenderov/feedfilter/internal/events"
	"github.com/mfenderov/feedfilter/internal/kvstore"
	"github.com/mfenderov/feedfilter/pkg/models"
)

// MaxTopics bounds the topic selection.
const MaxTopics = 20

// ErrTopicLimit is returned when no topic could be added because the
// selection is full.
var ErrTopicLimit = errors.New("topic limit reached")

var topicPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// DefaultTopics returns the selection used until the user picks one.
func DefaultTopics() models.TopicSet {
	return models.TopicSet{"nsfw", "spam", "controversy", "clickbait", "politics"}
}

// KeyValidator checks a credential against the classification provider.
type KeyValidator interface {
	ValidateKey(ctx context.Context, key string) bool
}

// Snapshot is the full settings state.
type Snapshot struct {
	Topics  models.TopicSet `json:"topics"`
	APIKey  string          `json:"-"`
	Enabled bool            `json:"enabled"`
}

// HasAPIKey reports whether a key is configured.
func (s Snapshot) HasAPIKey() bool { return s.APIKey != "" }

// AddResult describes what AddTopics did.
type AddResult struct {
	Added     models.TopicSet
	Requested int // valid topics parsed from the input
	Truncated bool
}

// Service reads and writes settings.
type Service struct {
	store     kvstore.Store
	bus       *bus.Bus
	validator KeyValidator

	mu sync.Mutex
}

// New creates a Service. bus and validator may be nil.
func New(store kvstore.Store, b *bus.Bus, validator KeyValidator) *Service {
	return &Service{store: store, bus: b, validator: validator}
}

// Load returns the current settings with defaults applied.
func (s *Service) Load(ctx context.Context) (Snapshot, error) {
	topics, err := s.Topics(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	key, err := s.APIKey(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	enabled, err := s.Enabled(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Topics: topics, APIKey: key, Enabled: enabled}, nil
}

// Topics returns the selected topics, or the defaults when none are stored.
// An empty stored selection is reset to the defaults.
func (s *Service) Topics(ctx context.Context) (models.TopicSet, error) {
	var topics models.TopicSet
	found, err := kvstore.GetJSON(ctx, s.store, kvstore.KeySelectedTopics, &topics)
	if err != nil {
		return nil, fmt.Errorf("failed to read topics: %w", err)
	}
	if !found {
		return DefaultTopics(), nil
	}
	if len(topics) == 0 {
		if err := kvstore.SetJSON(ctx, s.store, kvstore.KeySelectedTopics, DefaultTopics()); err != nil {
			return nil, fmt.Errorf("failed to reset topics: %w", err)
		}
		return DefaultTopics(), nil
	}
	return topics, nil
}

// SetTopics stores a new selection and announces it.
func (s *Service) SetTopics(ctx context.Context, topics models.TopicSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setTopics(ctx, topics)
}

func (s *Service) setTopics(ctx context.Context, topics models.TopicSet) error {
	topics = topics.Normalize()
	if len(topics) > MaxTopics {
		return fmt.Errorf("%w: %d topics, max %d", ErrTopicLimit, len(topics), MaxTopics)
	}
	if err := kvstore.SetJSON(ctx, s.store, kvstore.KeySelectedTopics, topics); err != nil {
		return fmt.Errorf("failed to save topics: %w", err)
	}
	slog.Debug("topics saved", "topics", topics)
	s.publish(ctx, events.KindTopicsUpdated, events.TopicsUpdated{Topics: topics})
	return nil
}

// ParseTopics splits comma separated input into valid lowercase topic names.
// Invalid names are dropped.
func ParseTopics(input string) models.TopicSet {
	var out models.TopicSet
	for _, part := range strings.Split(strings.ToLower(input), ",") {
		part = strings.TrimSpace(part)
		if topicPattern.MatchString(part) && !out.Contains(part) {
			out = append(out, part)
		}
	}
	return out
}

// AddTopics appends the valid new topics in input, up to MaxTopics.
func (s *Service) AddTopics(ctx context.Context, input string) (*AddResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	requested := ParseTopics(input)
	current, err := s.Topics(ctx)
	if err != nil {
		return nil, err
	}

	result := &AddResult{Requested: len(requested)}
	fresh := models.Added(current, requested)
	room := MaxTopics - len(current)
	if room <= 0 {
		if len(fresh) > 0 {
			return result, ErrTopicLimit
		}
		return result, nil
	}
	if len(fresh) > room {
		fresh = fresh[:room]
		result.Truncated = true
	}
	if len(fresh) == 0 {
		return result, nil
	}

	next := append(append(models.TopicSet{}, current...), fresh...)
	if err := s.setTopics(ctx, next); err != nil {
		return nil, err
	}
	result.Added = fresh
	return result, nil
}

// RemoveTopic drops topic from the selection.
func (s *Service) RemoveTopic(ctx context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Topics(ctx)
	if err != nil {
		return err
	}
	next := make(models.TopicSet, 0, len(current))
	for _, t := range current {
		if t != topic {
			next = append(next, t)
		}
	}
	if len(next) == len(current) {
		return nil
	}
	return s.setTopics(ctx, next)
}

// RestoreDefaults replaces the selection with DefaultTopics.
func (s *Service) RestoreDefaults(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setTopics(ctx, DefaultTopics())
}

// APIKey returns the stored key, or "" when none is set.
func (s *Service) APIKey(ctx context.Context) (string, error) {
	var key string
	if _, err := kvstore.GetJSON(ctx, s.store, kvstore.KeyAPIKey, &key); err != nil {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}
	return key, nil
}

// SaveAPIKey validates key and stores it. An invalid key is stored as empty.
func (s *Service) SaveAPIKey(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	valid := key != "" && (s.validator == nil || s.validator.ValidateKey(ctx, key))
	stored := key
	if !valid {
		stored = ""
	}
	if err := kvstore.SetJSON(ctx, s.store, kvstore.KeyAPIKey, stored); err != nil {
		return false, fmt.Errorf("failed to save API key: %w", err)
	}
	if !valid {
		slog.Warn("invalid API key")
	}
	return valid, nil
}

// Enabled returns the enabled flag, true when unset.
func (s *Service) Enabled(ctx context.Context) (bool, error) {
	enabled := true
	if _, err := kvstore.GetJSON(ctx, s.store, kvstore.KeyExtensionEnabled, &enabled); err != nil {
		return false, fmt.Errorf("failed to read enabled flag: %w", err)
	}
	return enabled, nil
}

// SetEnabled stores the enabled flag and announces it.
func (s *Service) SetEnabled(ctx context.Context, enabled bool) error {
	if err := kvstore.SetJSON(ctx, s.store, kvstore.KeyExtensionEnabled, enabled); err != nil {
		return fmt.Errorf("failed to save enabled flag: %w", err)
	}
	s.publish(ctx, events.KindExtensionStateChanged, events.ExtensionStateChanged{Enabled: &enabled})
	return nil
}

// ClearClassifications drops the durable classification mapping and tells
// the feed context to drop its local copy.
func (s *Service) ClearClassifications(ctx context.Context) error {
	if err := s.store.Remove(ctx, kvstore.KeyClassifications); err != nil {
		return fmt.Errorf("failed to clear classifications: %w", err)
	}
	s.publish(ctx, events.KindClearClassificationCache, nil)
	return nil
}

func (s *Service) publish(ctx context.Context, kind events.Kind, payload any) {
	if s.bus == nil {
		return
	}
	if _, err := s.bus.Publish(ctx, kind, payload); err != nil {
		slog.Warn("failed to publish settings change", "kind", kind, "error", err)
	}
}
