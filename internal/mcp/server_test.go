package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mfenderov/feedfilter/internal/cache"
	"github.com/mfenderov/feedfilter/internal/classifier"
	"github.com/mfenderov/feedfilter/internal/elasticsearch"
	"github.com/mfenderov/feedfilter/internal/kvstore"
	"github.com/mfenderov/feedfilter/internal/settings"
	"github.com/mfenderov/feedfilter/pkg/models"
)

type staticSettings settings.Snapshot

func (s staticSettings) Load(context.Context) (settings.Snapshot, error) {
	return settings.Snapshot(s), nil
}

type stubClassifier struct {
	calls  [][]string
	topics []models.TopicSet
	err    error
}

func (s *stubClassifier) Classify(_ context.Context, items []models.Item, topics models.TopicSet, _ string) (*classifier.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	ids := make([]string, len(items))
	result := &classifier.Result{Classifications: make(map[string]models.Classification)}
	for i, item := range items {
		ids[i] = item.ID
		if item.Text == "buy now" {
			result.Classifications[item.ID] = models.Classification{"spam"}
		} else {
			result.Classifications[item.ID] = models.Classification{}
		}
	}
	s.calls = append(s.calls, ids)
	s.topics = append(s.topics, topics)
	return result, nil
}

type stubArchive struct {
	records map[string]models.ClassificationRecord
	queries []elasticsearch.SearchQuery
}

func (a *stubArchive) Search(_ context.Context, q elasticsearch.SearchQuery) ([]models.ClassificationRecord, error) {
	a.queries = append(a.queries, q)
	var out []models.ClassificationRecord
	for _, r := range a.records {
		out = append(out, r)
	}
	return out, nil
}

func (a *stubArchive) GetClassification(_ context.Context, id string) (*models.ClassificationRecord, error) {
	r, ok := a.records[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func newServer(t *testing.T, snap settings.Snapshot) (*Server, *stubClassifier, *cache.Cache) {
	t.Helper()
	cls := &stubClassifier{}
	c := cache.New(kvstore.NewMemory())
	s, err := NewServer(Config{
		Name:       "feedfilter",
		Version:    "1.0.0",
		Settings:   staticSettings(snap),
		Classifier: cls,
		Cache:      c,
		Archive: &stubArchive{records: map[string]models.ClassificationRecord{
			"archived": {ID: "archived", Topics: []string{"politics"}},
		}},
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return s, cls, c
}

func callTool(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content = %T, want TextContent", res.Content[0])
	}
	return text.Text
}

func TestServer_Creation(t *testing.T) {
	s, _, _ := newServer(t, settings.Snapshot{Topics: []string{"spam"}, APIKey: "key", Enabled: true})
	if s.mcpServer == nil {
		t.Error("mcpServer should not be nil")
	}

	if _, err := NewServer(Config{Name: "feedfilter"}); err == nil {
		t.Error("NewServer() without settings should fail")
	}
}

func TestHandleClassify_UsesCache(t *testing.T) {
	s, cls, c := newServer(t, settings.Snapshot{Topics: []string{"spam"}, APIKey: "key", Enabled: true})
	ctx := context.Background()

	posts := []models.Item{{ID: "1", Text: "buy now"}, {ID: "2", Text: "hello"}}
	out, err := s.handleClassify(ctx, posts, nil)
	if err != nil {
		t.Fatalf("handleClassify() error = %v", err)
	}
	if !reflect.DeepEqual(out.Classifications["1"], models.Classification{"spam"}) {
		t.Errorf("classification of 1 = %v", out.Classifications["1"])
	}
	if _, state := c.Lookup("2"); state != cache.Resolved {
		t.Errorf("post 2 state = %v, want resolved", state)
	}

	if _, err := s.handleClassify(ctx, posts, nil); err != nil {
		t.Fatalf("second handleClassify() error = %v", err)
	}
	if len(cls.calls) != 1 {
		t.Errorf("classifier calls = %d, want 1 (second call served from cache)", len(cls.calls))
	}
}

func TestHandleClassify_ExplicitTopicsBypassCache(t *testing.T) {
	s, cls, c := newServer(t, settings.Snapshot{Topics: []string{"spam"}, APIKey: "key", Enabled: true})

	_, err := s.handleClassify(context.Background(), []models.Item{{ID: "1", Text: "buy now"}}, models.TopicSet{"politics"})
	if err != nil {
		t.Fatalf("handleClassify() error = %v", err)
	}
	if !reflect.DeepEqual(cls.topics[0], models.TopicSet{"politics"}) {
		t.Errorf("topics = %v, want [politics]", cls.topics[0])
	}
	if _, state := c.Lookup("1"); state != cache.Absent {
		t.Errorf("state = %v, want absent for explicit topics", state)
	}
}

func TestHandleClassify_FailureReleasesReservations(t *testing.T) {
	s, cls, c := newServer(t, settings.Snapshot{Topics: []string{"spam"}, APIKey: "key", Enabled: true})
	cls.err = errors.New("upstream unavailable")

	if _, err := s.handleClassify(context.Background(), []models.Item{{ID: "1", Text: "buy now"}}, nil); err == nil {
		t.Fatal("handleClassify() error = nil, want classifier error")
	}
	if _, state := c.Lookup("1"); state != cache.Absent {
		t.Errorf("state = %v, want absent after a failed call", state)
	}
}

func TestHandleClassify_NoAPIKey(t *testing.T) {
	s, _, _ := newServer(t, settings.Snapshot{Topics: []string{"spam"}, Enabled: true})
	_, err := s.handleClassify(context.Background(), []models.Item{{ID: "1"}}, nil)
	if !errors.Is(err, classifier.ErrNoAPIKey) {
		t.Errorf("error = %v, want ErrNoAPIKey", err)
	}
}

func TestClassifyHandler(t *testing.T) {
	s, _, _ := newServer(t, settings.Snapshot{Topics: []string{"spam"}, APIKey: "key", Enabled: true})

	res, err := s.classifyHandler(context.Background(), callTool("classify_posts", map[string]any{
		"posts": []any{map[string]any{"id": "1", "text": "buy now"}},
	}))
	if err != nil {
		t.Fatalf("classifyHandler() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", resultText(t, res))
	}

	var out ClassifyResult
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(out.Classifications["1"], models.Classification{"spam"}) {
		t.Errorf("classifications = %v", out.Classifications)
	}

	res, _ = s.classifyHandler(context.Background(), callTool("classify_posts", map[string]any{}))
	if !res.IsError {
		t.Error("missing posts should be a tool error")
	}
}

func TestGetClassification(t *testing.T) {
	s, _, c := newServer(t, settings.Snapshot{Topics: []string{"spam"}, APIKey: "key", Enabled: true})
	ctx := context.Background()
	c.Reserve("cached")
	if err := c.Resolve(ctx, "cached", models.Classification{"spam"}); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	tests := []struct {
		id         string
		wantTopics []string
		wantErr    bool
	}{
		{"cached", []string{"spam"}, false},
		{"archived", []string{"politics"}, false},
		{"unknown", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			res, err := s.getClassificationHandler(ctx, callTool("get_classification", map[string]any{"id": tt.id}))
			if err != nil {
				t.Fatalf("handler error = %v", err)
			}
			if res.IsError != tt.wantErr {
				t.Fatalf("IsError = %v, want %v", res.IsError, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			var rec models.ClassificationRecord
			if err := json.Unmarshal([]byte(resultText(t, res)), &rec); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !reflect.DeepEqual(rec.Topics, tt.wantTopics) {
				t.Errorf("topics = %v, want %v", rec.Topics, tt.wantTopics)
			}
		})
	}
}

func TestListTopicsAndSearch(t *testing.T) {
	s, _, _ := newServer(t, settings.Snapshot{Topics: []string{"spam", "politics"}, APIKey: "key", Enabled: true})
	ctx := context.Background()

	res, _ := s.listTopicsHandler(ctx, callTool("list_topics", nil))
	var topics struct {
		Topics  []string `json:"topics"`
		Enabled bool     `json:"enabled"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &topics); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(topics.Topics, []string{"spam", "politics"}) || !topics.Enabled {
		t.Errorf("list_topics = %+v", topics)
	}

	res, _ = s.searchHandler(ctx, callTool("search_classifications", map[string]any{"topic": "politics", "limit": 5}))
	if res.IsError {
		t.Fatalf("search error: %s", resultText(t, res))
	}
	q := s.archive.(*stubArchive).queries[0]
	if !reflect.DeepEqual(q.Topics, []string{"politics"}) || q.Limit != 5 {
		t.Errorf("query = %+v", q)
	}
}
