package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aura-webinar/livesession/pkg/apperr"
)

// Memory is an in-process Store. It backs single-instance deployments (STORE_DRIVER=memory)
// and tests.
type Memory struct {
	mu      sync.RWMutex
	docs    map[string]Document
	watcher *Watcher
}

// NewMemory creates an empty in-memory store.
func NewMemory(watcher *Watcher) *Memory {
	if watcher == nil {
		watcher = NewWatcher(nil)
	}
	return &Memory{docs: make(map[string]Document), watcher: watcher}
}

func (m *Memory) Get(_ context.Context, path string, dst interface{}) error {
	m.mu.RLock()
	doc, ok := m.docs[path]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, path)
	}
	return doc.Decode(dst)
}

func (m *Memory) Set(_ context.Context, path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	m.put(path, data)
	return nil
}

func (m *Memory) Update(_ context.Context, path string, fields map[string]interface{}) error {
	m.mu.Lock()
	merged, err := mergeFields(m.docs[path].Data, fields)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("update %s: %w", path, err)
	}
	m.docs[path] = Document{Path: path, Data: merged, UpdatedAt: time.Now()}
	m.mu.Unlock()
	m.watcher.Notify(Change{Path: path, Kind: ChangeSet, Data: merged})
	return nil
}

func (m *Memory) Increment(_ context.Context, path, field string, delta int64) error {
	m.mu.Lock()
	current := map[string]json.RawMessage{}
	if raw := m.docs[path].Data; len(raw) > 0 {
		if err := json.Unmarshal(raw, &current); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("increment %s: %w", path, err)
		}
	}
	var n int64
	if raw, ok := current[field]; ok {
		if err := json.Unmarshal(raw, &n); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("increment %s.%s: %w", path, field, err)
		}
	}
	current[field] = json.RawMessage(strconv.FormatInt(n+delta, 10))
	data, _ := json.Marshal(current)
	m.docs[path] = Document{Path: path, Data: data, UpdatedAt: time.Now()}
	m.mu.Unlock()
	m.watcher.Notify(Change{Path: path, Kind: ChangeSet, Data: data})
	return nil
}

func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	for p := range m.docs {
		if Under(p, path) {
			delete(m.docs, p)
		}
	}
	m.mu.Unlock()
	m.watcher.Notify(Change{Path: path, Kind: ChangeDelete})
	return nil
}

func (m *Memory) List(_ context.Context, collection string) ([]Document, error) {
	m.mu.RLock()
	var out []Document
	for p, doc := range m.docs {
		if Parent(p) == collection {
			out = append(out, doc)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *Memory) Subscribe(prefix string, fn func(Change)) (cancel func()) {
	return m.watcher.Subscribe(prefix, fn)
}

func (m *Memory) put(path string, data []byte) {
	m.mu.Lock()
	m.docs[path] = Document{Path: path, Data: data, UpdatedAt: time.Now()}
	m.mu.Unlock()
	m.watcher.Notify(Change{Path: path, Kind: ChangeSet, Data: data})
}

func mergeFields(existing json.RawMessage, fields map[string]interface{}) (json.RawMessage, error) {
	current := map[string]json.RawMessage{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &current); err != nil {
			return nil, err
		}
	}
	for k, v := range fields {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		current[k] = raw
	}
	return json.Marshal(current)
}
