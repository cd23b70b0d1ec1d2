/*
Copyright 2026 The Qserv Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package css

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemKV is an in-memory KV backend seeded from a map. It is used in
// tests and by tools that load a catalog dump instead of talking to
// etcd.
type MemKV struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemKV returns a backend holding a copy of data. Keys must be
// absolute paths; values may be empty (a key can exist purely as a
// directory marker).
func NewMemKV(data map[string]string) *MemKV {
	m := &MemKV{data: make(map[string]string, len(data))}
	for k, v := range data {
		m.data[k] = v
	}
	return m
}

// Set adds or replaces a key. Meant for test setup.
func (m *MemKV) Set(path, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[path] = value
}

// Exists is part of the KV interface.
func (m *MemKV) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.data[path]; ok {
		return true, nil
	}
	prefix := path + "/"
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			return true, nil
		}
	}
	return false, nil
}

// Get is part of the KV interface.
func (m *MemKV) Get(ctx context.Context, path string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[path]
	if !ok {
		return "", ErrNoNode
	}
	return v, nil
}

// ListDir is part of the KV interface.
func (m *MemKV) ListDir(ctx context.Context, path string) ([]string, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	names := childNames(path, keys)
	if len(names) == 0 {
		return nil, ErrNoNode
	}
	return names, nil
}

// Close is part of the KV interface.
func (m *MemKV) Close() error { return nil }
