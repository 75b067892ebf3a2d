// Package kvstore defines the durable key-value store shared by the
// feed-observing context and the settings context.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Persisted keys.
const (
	KeySelectedTopics   = "selectedTopics"
	KeyAPIKey           = "GROQ_API_KEY"
	KeyClassifications  = "classifications"
	KeyExtensionEnabled = "extensionEnabled"
)

// ErrNotFound is returned by GetJSON callers that require a key to exist.
var ErrNotFound = errors.New("key not found")

// Store is an asynchronous key-value store without transactions.
//
// A key holds either a whole value written with Set, or a mapping whose
// entries are written individually with MergeFields. Get returns mapping
// keys assembled as a JSON object. MergeFields is the only safe way for
// concurrent writers to add entries to a shared mapping: it never rewrites
// entries it was not given.
type Store interface {
	// Get returns the stored values for keys. With no keys, every key is returned.
	// Missing keys are absent from the result.
	Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)
	// Set replaces the values of the given keys.
	Set(ctx context.Context, values map[string]json.RawMessage) error
	// Remove deletes keys. Missing keys are ignored.
	Remove(ctx context.Context, keys ...string) error
	// Clear deletes everything.
	Clear(ctx context.Context) error
	// MergeFields upserts entries of the mapping stored under key. A whole
	// value previously written with Set becomes the mapping's initial entries
	// when it is a JSON object and is dropped otherwise.
	MergeFields(ctx context.Context, key string, fields map[string]json.RawMessage) error
	// RemoveFields deletes entries of the mapping stored under key.
	RemoveFields(ctx context.Context, key string, fields ...string) error
	// Close releases backend resources.
	Close() error
}

// GetJSON decodes the value under key into v. It reports whether the key existed.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	values, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	raw, ok := values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Set(ctx, map[string]json.RawMessage{key: data})
}

// FoldValue returns the entries of a whole JSON object value overlaid with
// fields. A value that is not an object contributes nothing.
func FoldValue(value json.RawMessage, fields map[string]json.RawMessage) map[string]json.RawMessage {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(value, &entries); err != nil || entries == nil {
		return fields
	}
	for name, v := range fields {
		entries[name] = v
	}
	return entries
}
