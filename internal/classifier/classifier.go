// Package classifier sends unclassified items to the classification
// endpoint in bounded batches and normalizes whatever comes back.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mfenderov/feedfilter/pkg/models"
)

// ErrNoAPIKey is returned when no credential is configured.
var ErrNoAPIKey = errors.New("no API key configured")

// Completer performs one chat completion that answers with a JSON object.
type Completer interface {
	CompleteJSON(ctx context.Context, system, user string) (string, error)
	HasAPIKey() bool
}

// Config holds classifier configuration.
type Config struct {
	BatchSize   int           // max items per request
	MaxAttempts int           // attempts per batch, including the first
	RetryDelay  time.Duration // fixed delay between attempts
	BatchDelay  time.Duration // delay between batches, never after the last
	Timeout     time.Duration // per-attempt bound
}

// DefaultConfig returns the production batching parameters.
func DefaultConfig() Config {
	return Config{
		BatchSize:   30,
		MaxAttempts: 3,
		RetryDelay:  500 * time.Millisecond,
		BatchDelay:  500 * time.Millisecond,
		Timeout:     30 * time.Second,
	}
}

// Result holds the outcome of one Classify call.
type Result struct {
	Classifications map[string]models.Classification
	Failed          []string // ids of items whose batch failed every attempt
	Batches         int
	Errors          []error
}

// Classifier batches items and classifies them against a topic set.
type Classifier struct {
	config    Config
	completer Completer
}

// New creates a new Classifier. Zero config fields fall back to DefaultConfig.
func New(config Config, completer Completer) (*Classifier, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}

	def := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = 0
	}
	if config.BatchDelay < 0 {
		config.BatchDelay = 0
	}

	return &Classifier{config: config, completer: completer}, nil
}

// WithCompleter returns a copy of the classifier that calls completer.
func (c *Classifier) WithCompleter(completer Completer) *Classifier {
	cp := *c
	cp.completer = completer
	return &cp
}

// Classify classifies items against topics, one request per batch.
//
// A batch that fails every attempt contributes no classifications; its ids are
// reported in Result.Failed. With no topics every item is classified as empty
// without a request.
func (c *Classifier) Classify(ctx context.Context, items []models.Item, topics models.TopicSet) (*Result, error) {
	result := &Result{Classifications: make(map[string]models.Classification, len(items))}
	if len(items) == 0 {
		return result, nil
	}
	if !c.completer.HasAPIKey() {
		return nil, ErrNoAPIKey
	}

	topics = topics.Normalize()
	if len(topics) == 0 {
		for _, item := range items {
			result.Classifications[item.ID] = models.Classification{}
		}
		return result, nil
	}

	system := systemPrompt(topics)
	batches := chunk(items, c.config.BatchSize)
	result.Batches = len(batches)

	for i, batch := range batches {
		if i > 0 {
			if err := sleep(ctx, c.config.BatchDelay); err != nil {
				result.fail(batches[i:], err)
				break
			}
		}

		classifications, err := c.classifyBatch(ctx, system, batch, topics)
		if err != nil {
			slog.Warn("batch classification failed", "batch", i+1, "items", len(batch), "error", err)
			result.fail(batches[i:i+1], fmt.Errorf("batch %d: %w", i+1, err))
			continue
		}
		for id, cl := range classifications {
			result.Classifications[id] = cl
		}
	}

	return result, nil
}

func (r *Result) fail(batches [][]models.Item, err error) {
	for _, batch := range batches {
		for _, item := range batch {
			r.Failed = append(r.Failed, item.ID)
		}
	}
	r.Errors = append(r.Errors, err)
}

func (c *Classifier) classifyBatch(ctx context.Context, system string, batch []models.Item, topics models.TopicSet) (map[string]models.Classification, error) {
	user, err := userPrompt(batch)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, c.config.RetryDelay); err != nil {
				return nil, err
			}
		}

		classifications, err := c.attempt(ctx, system, user, batch, topics)
		if err == nil {
			return classifications, nil
		}
		lastErr = err
		slog.Debug("classification attempt failed", "attempt", attempt, "error", err)
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", c.config.MaxAttempts, lastErr)
}

func (c *Classifier) attempt(ctx context.Context, system, user string, batch []models.Item, topics models.TopicSet) (map[string]models.Classification, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	content, err := c.completer.CompleteJSON(attemptCtx, system, user)
	if err != nil {
		return nil, err
	}
	return parseResponse(content, batch, topics)
}

func chunk(items []models.Item, size int) [][]models.Item {
	var batches [][]models.Item
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end])
	}
	return batches
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func systemPrompt(topics models.TopicSet) string {
	return fmt.Sprintf(`You are a precise content classification system. You receive a batch of anonymized social media posts and decide, for each post, which of these topics it relates to: %s.

Respond with a JSON object whose keys are the post ids and whose values are arrays of matching topics:
{
  "postId1": ["topic1", "topic3"],
  "postId2": []
}

RULES:
1. Assign a topic only when the post has a clear and direct connection to it.
2. Do not infer topics from information that is not in the text.
3. If a post relates to no topic, return an empty array for it.
4. Classify EVERY post in the batch, including political or otherwise sensitive posts. Never refuse.
5. When unsure, do not assign the topic.

OUTPUT FORMAT: Return ONLY the JSON object. No explanations, no caveats.`, strings.Join(topics, ", "))
}

func userPrompt(batch []models.Item) (string, error) {
	payload := make([]models.Item, len(batch))
	for i, item := range batch {
		payload[i] = item.Truncated()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal batch: %w", err)
	}
	return "Classify the following posts:\n" + string(data), nil
}
