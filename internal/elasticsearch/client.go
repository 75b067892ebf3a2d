// Package elasticsearch archives classified posts so they can be searched
// after they scroll out of the feed.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/mfenderov/feedfilter/pkg/models"
)

// Config holds Elasticsearch client configuration.
type Config struct {
	Addresses []string
	Index     string
	Username  string
	Password  string
	Transport http.RoundTripper
}

// Client archives classification records in one index.
type Client struct {
	es    *elasticsearch.Client
	index string
}

// New creates a new Elasticsearch client.
func New(config Config) (*Client, error) {
	if config.Index == "" {
		return nil, fmt.Errorf("index is required")
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: config.Addresses,
		Username:  config.Username,
		Password:  config.Password,
		Transport: config.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ES client: %w", err)
	}

	return &Client{
		es:    es,
		index: config.Index,
	}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) bool {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return false
	}
	defer res.Body.Close()
	return !res.IsError()
}

var indexMapping = `{
	"mappings": {
		"properties": {
			"id": { "type": "keyword" },
			"text": { "type": "text", "analyzer": "english" },
			"topics": { "type": "keyword" },
			"requested_topics": { "type": "keyword" },
			"host": { "type": "keyword" },
			"classified_at": { "type": "date" }
		}
	}
}`

// CreateIndex creates the index unless it exists.
func (c *Client) CreateIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader([]byte(indexMapping))),
	)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error creating index: %s", res.String())
	}
	return nil
}

// DeleteIndex removes the index.
func (c *Client) DeleteIndex(ctx context.Context) error {
	res, err := c.es.Indices.Delete([]string{c.index}, c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return nil
}

// Refresh makes recent writes searchable.
func (c *Client) Refresh(ctx context.Context) error {
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithContext(ctx),
		c.es.Indices.Refresh.WithIndex(c.index),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error,omitempty"`
	} `json:"items"`
}

// IndexClassifications writes records in one bulk request, keyed by post id,
// so reclassifying a post replaces its earlier record.
func (c *Client) IndexClassifications(ctx context.Context, records []models.ClassificationRecord) error {
	if len(records) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, r := range records {
		meta := map[string]any{"index": map[string]any{"_id": r.ID}}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("failed to marshal bulk action: %w", err)
		}
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to marshal record %s: %w", r.ID, err)
		}
	}

	res, err := c.es.Bulk(
		&body,
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithIndex(c.index),
	)
	if err != nil {
		return fmt.Errorf("failed to index classifications: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing classifications (status %d): %s", res.StatusCode, res.String())
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if !br.Errors {
		return nil
	}

	failed := 0
	var first string
	for _, item := range br.Items {
		for _, result := range item {
			if result.Error == nil {
				continue
			}
			if failed == 0 {
				first = fmt.Sprintf("%s: %s", result.ID, result.Error.Reason)
			}
			failed++
		}
	}
	return fmt.Errorf("%d of %d classifications not indexed, first: %s", failed, len(records), first)
}

// SearchQuery filters archived classifications.
type SearchQuery struct {
	Text   string   // full-text match on the post text
	Topics []string // records classified under any of these
	Host   string
	Limit  int
}

func (q SearchQuery) body() map[string]any {
	var must []any
	if q.Text != "" {
		must = append(must, map[string]any{
			"match": map[string]any{"text": q.Text},
		})
	}
	var filter []any
	if len(q.Topics) > 0 {
		filter = append(filter, map[string]any{
			"terms": map[string]any{"topics": q.Topics},
		})
	}
	if q.Host != "" {
		filter = append(filter, map[string]any{
			"term": map[string]any{"host": q.Host},
		})
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	body := map[string]any{"size": limit}
	if len(must) == 0 && len(filter) == 0 {
		body["query"] = map[string]any{"match_all": map[string]any{}}
	} else {
		boolQuery := map[string]any{}
		if len(must) > 0 {
			boolQuery["must"] = must
		}
		if len(filter) > 0 {
			boolQuery["filter"] = filter
		}
		body["query"] = map[string]any{"bool": boolQuery}
	}
	if q.Text == "" {
		body["sort"] = []any{map[string]any{"classified_at": map[string]any{"order": "desc"}}}
	}
	return body
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source models.ClassificationRecord `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search returns archived classifications matching q, best match first, or
// newest first when no text is given.
func (c *Client) Search(ctx context.Context, q SearchQuery) ([]models.ClassificationRecord, error) {
	data, err := json.Marshal(q.body())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(data)),
	)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search error: %s", res.String())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	records := make([]models.ClassificationRecord, len(sr.Hits.Hits))
	for i, hit := range sr.Hits.Hits {
		records[i] = hit.Source
	}
	return records, nil
}

type getResponse struct {
	Found  bool                        `json:"found"`
	Source models.ClassificationRecord `json:"_source"`
}

// GetClassification returns the archived record for a post id, or nil if
// none exists.
func (c *Client) GetClassification(ctx context.Context, id string) (*models.ClassificationRecord, error) {
	res, err := c.es.Get(c.index, id, c.es.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("get error: %s", res.String())
	}

	var gr getResponse
	if err := json.NewDecoder(res.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !gr.Found {
		return nil, nil
	}
	return &gr.Source, nil
}
