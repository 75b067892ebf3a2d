package coord

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mfenderov/feedfilter/internal/bus"
	"github.com/mfenderov/feedfilter/internal/events"
	"github.com/mfenderov/feedfilter/internal/pipeline"
	"github.com/mfenderov/feedfilter/pkg/models"
)

// EnabledSource reports whether filtering is switched on.
type EnabledSource interface {
	Enabled(ctx context.Context) (bool, error)
}

// Background answers classification requests on behalf of feed contexts
// that must not hold the credential-bearing client themselves.
type Background struct {
	Settings   EnabledSource
	Classifier pipeline.Classifier
}

// Register installs the classifyPosts handler on b.
func (bg *Background) Register(b *bus.Bus) (cancel func()) {
	return b.Handle(events.KindClassifyPosts, func(ctx context.Context, msg events.Message) (any, error) {
		return bg.classifyPosts(ctx, msg), nil
	})
}

func (bg *Background) classifyPosts(ctx context.Context, msg events.Message) events.ClassifyPostsResponse {
	enabled, err := bg.Settings.Enabled(ctx)
	if err != nil {
		return events.ClassifyPostsResponse{Error: err.Error()}
	}
	if !enabled {
		return events.ClassifyPostsResponse{Error: "Extension is disabled"}
	}

	var req events.ClassifyPosts
	if err := msg.Decode(&req); err != nil {
		return events.ClassifyPostsResponse{Error: err.Error()}
	}

	result, err := bg.Classifier.Classify(ctx, req.Posts, models.TopicSet(req.Topics), req.APIKey)
	if err != nil {
		slog.Warn("background classification failed", "posts", len(req.Posts), "error", err)
		return events.ClassifyPostsResponse{Error: err.Error()}
	}
	if len(result.Failed) > 0 {
		slog.Warn("some batches failed", "failed", len(result.Failed), "error", errors.Join(result.Errors...))
	}

	return events.ClassifyPostsResponse{
		Success:         true,
		Classifications: result.Classifications,
		Failed:          result.Failed,
	}
}
