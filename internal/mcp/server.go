// Package mcp exposes classification and the archive as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mfenderov/feedfilter/internal/cache"
	"github.com/mfenderov/feedfilter/internal/classifier"
	"github.com/mfenderov/feedfilter/internal/elasticsearch"
	"github.com/mfenderov/feedfilter/internal/pipeline"
	"github.com/mfenderov/feedfilter/pkg/models"
)

// Archive is the searchable record of past classifications.
type Archive interface {
	Search(ctx context.Context, q elasticsearch.SearchQuery) ([]models.ClassificationRecord, error)
	GetClassification(ctx context.Context, id string) (*models.ClassificationRecord, error)
}

// Config holds MCP server configuration.
type Config struct {
	Name       string
	Version    string
	Settings   pipeline.Settings
	Classifier pipeline.Classifier
	Cache      *cache.Cache // optional
	Archive    Archive      // optional, enables search_classifications
}

// Server wraps the MCP server.
type Server struct {
	mcpServer  *server.MCPServer
	settings   pipeline.Settings
	classifier pipeline.Classifier
	cache      *cache.Cache
	archive    Archive
}

// NewServer creates a new MCP server with classification tools.
func NewServer(config Config) (*Server, error) {
	if config.Settings == nil {
		return nil, fmt.Errorf("settings source is required")
	}
	if config.Classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}

	mcpServer := server.NewMCPServer(
		config.Name,
		config.Version,
		server.WithToolCapabilities(true),
	)

	s := &Server{
		mcpServer:  mcpServer,
		settings:   config.Settings,
		classifier: config.Classifier,
		cache:      config.Cache,
		archive:    config.Archive,
	}

	classifyTool := mcp.NewTool("classify_posts",
		mcp.WithDescription("Classify posts against the selected topics. Returns a map of post id to matching topics."),
		mcp.WithArray("posts",
			mcp.Required(),
			mcp.Description(`Posts to classify, each an object {"id": "...", "text": "..."}`),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":   map[string]any{"type": "string"},
					"text": map[string]any{"type": "string"},
				},
				"required": []string{"id"},
			}),
		),
		mcp.WithArray("topics",
			mcp.Description("Topics to classify against (default: the selected topics)"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	)
	mcpServer.AddTool(classifyTool, s.classifyHandler)

	getTool := mcp.NewTool("get_classification",
		mcp.WithDescription("Get the classification of a post by id"),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Post id"),
		),
	)
	mcpServer.AddTool(getTool, s.getClassificationHandler)

	topicsTool := mcp.NewTool("list_topics",
		mcp.WithDescription("List the selected topics and whether filtering is enabled"),
	)
	mcpServer.AddTool(topicsTool, s.listTopicsHandler)

	if s.archive != nil {
		searchTool := mcp.NewTool("search_classifications",
			mcp.WithDescription("Search archived posts by text and topic"),
			mcp.WithString("query",
				mcp.Description("Full-text query on the post text"),
			),
			mcp.WithString("topic",
				mcp.Description("Only posts classified under this topic"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of results to return (default: 10)"),
			),
		)
		mcpServer.AddTool(searchTool, s.searchHandler)
	}

	return s, nil
}

func (s *Server) classifyHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	raw, ok := args["posts"]
	if !ok {
		return mcp.NewToolResultError("posts parameter is required"), nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid posts: %v", err)), nil
	}
	var posts []models.Item
	if err := json.Unmarshal(data, &posts); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid posts: %v", err)), nil
	}

	result, err := s.handleClassify(ctx, posts, req.GetStringSlice("topics", nil))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("classification failed: %v", err)), nil
	}
	return jsonResult(result)
}

func (s *Server) getClassificationHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id parameter is required"), nil
	}

	rec, err := s.handleGetClassification(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get classification failed: %v", err)), nil
	}
	if rec == nil {
		return mcp.NewToolResultError(fmt.Sprintf("classification not found: %s", id)), nil
	}
	return jsonResult(rec)
}

func (s *Server) listTopicsHandler(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap, err := s.settings.Load(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load settings: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"topics":  snap.Topics,
		"enabled": snap.Enabled,
	})
}

func (s *Server) searchHandler(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := elasticsearch.SearchQuery{
		Text:  req.GetString("query", ""),
		Limit: req.GetInt("limit", 10),
	}
	if topic := req.GetString("topic", ""); topic != "" {
		q.Topics = []string{topic}
	}

	records, err := s.archive.Search(ctx, q)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	return jsonResult(records)
}

// ClassifyResult is the classify_posts tool output.
type ClassifyResult struct {
	Classifications map[string]models.Classification `json:"classifications"`
	Failed          []string                         `json:"failed,omitempty"`
}

// handleClassify classifies posts, answering from the cache where it can.
// Empty topics fall back to the stored selection.
func (s *Server) handleClassify(ctx context.Context, posts []models.Item, topics models.TopicSet) (*ClassifyResult, error) {
	snap, err := s.settings.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if !snap.HasAPIKey() {
		return nil, classifier.ErrNoAPIKey
	}
	explicit := len(topics) > 0
	if !explicit {
		topics = snap.Topics
	}
	topics = topics.Normalize()

	useCache := !explicit && s.cache != nil
	if useCache {
		s.cache.Load(ctx) // entries other processes stored since the last call
	}

	for _, post := range posts {
		if post.ID == "" {
			return nil, fmt.Errorf("post without id")
		}
	}

	out := &ClassifyResult{Classifications: make(map[string]models.Classification, len(posts))}
	var misses []models.Item
	var reserved []string
	for _, post := range posts {
		if useCache {
			if cl, state := s.cache.Lookup(post.ID); state == cache.Resolved {
				out.Classifications[post.ID] = cl
				continue
			}
			if s.cache.Reserve(post.ID) {
				reserved = append(reserved, post.ID)
			}
		}
		misses = append(misses, post)
	}
	if len(misses) == 0 {
		return out, nil
	}

	result, err := s.classifier.Classify(ctx, misses, topics, snap.APIKey)
	if err == nil && useCache {
		// Only results for the stored selection are valid cache entries.
		s.cache.ResolveAll(ctx, result.Classifications)
	}
	for _, id := range reserved {
		s.cache.Release(id)
	}
	if err != nil {
		return nil, err
	}

	for id, cl := range result.Classifications {
		out.Classifications[id] = cl
	}
	out.Failed = result.Failed
	return out, nil
}

// handleGetClassification checks the cache first, then the archive.
func (s *Server) handleGetClassification(ctx context.Context, id string) (*models.ClassificationRecord, error) {
	if s.cache != nil {
		if cl, state := s.cache.Lookup(id); state == cache.Resolved {
			return &models.ClassificationRecord{ID: id, Topics: cl}, nil
		}
	}
	if s.archive == nil {
		return nil, nil
	}
	return s.archive.GetClassification(ctx, id)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ServeStdio starts the MCP server using stdio transport.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
