package classifier

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mfenderov/feedfilter/pkg/models"
)

// parseResponse decodes the completion content as a JSON object keyed by item id.
//
// Only an unparsable envelope is an error. Per-item problems are coerced:
// ids outside the batch are dropped, batch ids missing from the response and
// values of an unexpected shape become the empty classification.
func parseResponse(content string, batch []models.Item, topics models.TopicSet) (map[string]models.Classification, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse classification response: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("classification response is not an object")
	}

	out := make(map[string]models.Classification, len(batch))
	for _, item := range batch {
		value, ok := raw[item.ID]
		if !ok {
			slog.Debug("item missing from classification response", "id", item.ID)
			out[item.ID] = models.Classification{}
			continue
		}
		out[item.ID] = coerce(value, topics)
	}

	if extra := len(raw) - countPresent(raw, batch); extra > 0 {
		slog.Debug("ignoring unknown ids in classification response", "count", extra)
	}
	return out, nil
}

func countPresent(raw map[string]json.RawMessage, batch []models.Item) int {
	n := 0
	for _, item := range batch {
		if _, ok := raw[item.ID]; ok {
			n++
		}
	}
	return n
}

// coerce turns one response value into a classification restricted to topics.
// Accepted shapes are an array of topic names or a topic to bool map.
func coerce(value json.RawMessage, topics models.TopicSet) models.Classification {
	var list []string
	if err := json.Unmarshal(value, &list); err == nil {
		out := models.Classification{}
		for _, name := range list {
			if topic, ok := lookupTopic(topics, name); ok && !models.TopicSet(out).Contains(topic) {
				out = append(out, topic)
			}
		}
		return out
	}

	var flags map[string]bool
	if err := json.Unmarshal(value, &flags); err == nil && flags != nil {
		normalized := make(map[string]bool, len(flags))
		for name, set := range flags {
			if topic, ok := lookupTopic(topics, name); ok && set {
				normalized[topic] = true
			}
		}
		out := models.Classification{}
		for _, topic := range topics {
			if normalized[topic] {
				out = append(out, topic)
			}
		}
		return out
	}

	return models.Classification{}
}

func lookupTopic(topics models.TopicSet, name string) (string, bool) {
	name = strings.TrimSpace(name)
	for _, topic := range topics {
		if strings.EqualFold(topic, name) {
			return topic, true
		}
	}
	return "", false
}
