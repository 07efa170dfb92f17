package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	content   string
	updatedAt time.Time
}

// Memory keeps documents in a map. Save fails for documents that were never
// created, matching the SQLite store.
type Memory struct {
	mu    sync.RWMutex
	files map[int64]memoryEntry
}

func NewMemory() *Memory {
	return &Memory{files: make(map[int64]memoryEntry)}
}

func (m *Memory) Load(_ context.Context, fileID int64) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.files[fileID]
	if !ok {
		return "", fmt.Errorf("file %d: %w", fileID, ErrNotFound)
	}
	return e.content, nil
}

func (m *Memory) Save(_ context.Context, fileID int64, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[fileID]; !ok {
		return fmt.Errorf("file %d: %w", fileID, ErrNotFound)
	}
	m.files[fileID] = memoryEntry{content: content, updatedAt: time.Now()}
	return nil
}

func (m *Memory) Create(_ context.Context, fileID int64, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[fileID]; ok {
		return fmt.Errorf("file %d: %w", fileID, ErrExists)
	}
	m.files[fileID] = memoryEntry{content: content, updatedAt: time.Now()}
	return nil
}

func (m *Memory) List(_ context.Context) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.files))
	for id, e := range m.files {
		out = append(out, Info{FileID: id, Size: len(e.content), Compression: CompressionNone, Digest: Digest(e.content), UpdatedAt: e.updatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileID < out[j].FileID })
	return out, nil
}
