package store

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/quantmesh/sentinel/internal/errdefs"
)

// Memory is an in-process Store backed by maps. It is the default
// backend for tests and ephemeral runs.
type Memory struct {
	mu     sync.RWMutex
	kv     map[string]string
	hashes map[string]map[string]string
	lists  map[string][]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		kv:     make(map[string]string),
		hashes: make(map[string]map[string]string),
		lists:  make(map[string][]string),
	}
}

// Get returns the value at key, or errdefs.ErrNotFound.
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.kv[key]
	if !ok {
		return "", fmt.Errorf("key %s: %w", key, errdefs.ErrNotFound)
	}
	return v, nil
}

// Set writes the value at key.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

// Delete removes key from every namespace.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	delete(m.hashes, key)
	delete(m.lists, key)
	return nil
}

// HGet returns a single hash field.
func (m *Memory) HGet(_ context.Context, key, field string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hashes[key]
	if !ok {
		return "", fmt.Errorf("hash %s: %w", key, errdefs.ErrNotFound)
	}
	v, ok := h[field]
	if !ok {
		return "", fmt.Errorf("hash %s field %s: %w", key, field, errdefs.ErrNotFound)
	}
	return v, nil
}

// HSet writes a single hash field.
func (m *Memory) HSet(_ context.Context, key, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	h[field] = value
	return nil
}

// HGetAll returns a copy of all fields of a hash.
func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.hashes[key]))
	for f, v := range m.hashes[key] {
		out[f] = v
	}
	return out, nil
}

// Keys returns all keys in any namespace matching the glob pattern.
func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	seen := make(map[string]bool)
	match := func(key string) {
		if seen[key] {
			return
		}
		if ok, err := path.Match(pattern, key); err == nil && ok {
			seen[key] = true
			out = append(out, key)
		}
	}
	for k := range m.kv {
		match(k)
	}
	for k := range m.hashes {
		match(k)
	}
	for k := range m.lists {
		match(k)
	}
	return out, nil
}

// ListPush prepends value to the list at key.
func (m *Memory) ListPush(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append([]string{value}, m.lists[key]...)
	return nil
}

// ListTrim keeps only the elements between start and stop inclusive.
func (m *Memory) ListTrim(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	n := int64(len(list))
	start, stop = normalizeRange(start, stop, n)
	if start > stop || start >= n {
		delete(m.lists, key)
		return nil
	}
	m.lists[key] = list[start : stop+1]
	return nil
}

// ListRange returns the elements between start and stop inclusive.
func (m *Memory) ListRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.lists[key]
	n := int64(len(list))
	start, stop = normalizeRange(start, stop, n)
	if start > stop || start >= n {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

// Close is a no-op for the in-memory backend.
func (m *Memory) Close() error { return nil }

// normalizeRange resolves negative indices against a list of length n
// and clamps the result to valid bounds, following Redis semantics.
func normalizeRange(start, stop, n int64) (int64, int64) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	return start, stop
}
