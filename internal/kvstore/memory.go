package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory is an in-process Store. It backs tests and the "memory" backend.
type Memory struct {
	mu     sync.Mutex
	values map[string]json.RawMessage
	fields map[string]map[string]json.RawMessage
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]json.RawMessage),
		fields: make(map[string]map[string]json.RawMessage),
	}
}

func (m *Memory) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(keys) == 0 {
		for k := range m.values {
			keys = append(keys, k)
		}
		for k := range m.fields {
			keys = append(keys, k)
		}
	}

	out := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		if v, ok := m.values[key]; ok {
			out[key] = clone(v)
			continue
		}
		if f, ok := m.fields[key]; ok {
			data, err := json.Marshal(f)
			if err != nil {
				return nil, fmt.Errorf("failed to assemble %s: %w", key, err)
			}
			out[key] = data
		}
	}
	return out, nil
}

func (m *Memory) Set(ctx context.Context, values map[string]json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range values {
		delete(m.fields, k)
		m.values[k] = clone(v)
	}
	return nil
}

func (m *Memory) Remove(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.values, k)
		delete(m.fields, k)
	}
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values = make(map[string]json.RawMessage)
	m.fields = make(map[string]map[string]json.RawMessage)
	return nil
}

func (m *Memory) MergeFields(ctx context.Context, key string, fields map[string]json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.values[key]; ok {
		fields = FoldValue(v, fields)
		delete(m.values, key)
	}
	f, ok := m.fields[key]
	if !ok {
		f = make(map[string]json.RawMessage, len(fields))
		m.fields[key] = f
	}
	for name, v := range fields {
		f[name] = clone(v)
	}
	return nil
}

func (m *Memory) RemoveFields(ctx context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.fields[key]
	if !ok {
		return nil
	}
	for _, name := range fields {
		delete(f, name)
	}
	return nil
}

func (m *Memory) Close() error { return nil }

func clone(v json.RawMessage) json.RawMessage {
	return append(json.RawMessage(nil), v...)
}
