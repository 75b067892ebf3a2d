package pipeline

import (
	"context"
	"fmt"

	"github.com/mfenderov/feedfilter/internal/bus"
	"github.com/mfenderov/feedfilter/internal/classifier"
	"github.com/mfenderov/feedfilter/internal/events"
	"github.com/mfenderov/feedfilter/internal/llm"
	"github.com/mfenderov/feedfilter/pkg/models"
)

// Direct classifies in-process with an LLM client.
type Direct struct {
	Classifier *classifier.Classifier
	Client     *llm.Client
}

var _ Classifier = (*Direct)(nil)

func (d *Direct) Classify(ctx context.Context, items []models.Item, topics models.TopicSet, apiKey string) (*classifier.Result, error) {
	return d.Classifier.WithCompleter(d.Client.WithAPIKey(apiKey)).Classify(ctx, items, topics)
}

// Remote asks the background context to classify over the bus.
type Remote struct {
	Bus *bus.Bus
}

var _ Classifier = (*Remote)(nil)

func (r *Remote) Classify(ctx context.Context, items []models.Item, topics models.TopicSet, apiKey string) (*classifier.Result, error) {
	var resp events.ClassifyPostsResponse
	err := r.Bus.Request(ctx, events.KindClassifyPosts, events.ClassifyPosts{
		Posts:  items,
		Topics: topics,
		APIKey: apiKey,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("background classification failed: %s", resp.Error)
	}

	result := &classifier.Result{
		Classifications: resp.Classifications,
		Failed:          resp.Failed,
	}
	if result.Classifications == nil {
		result.Classifications = make(map[string]models.Classification)
	}
	return result, nil
}
