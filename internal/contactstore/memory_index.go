package contactstore

import (
	"context"
	"strings"
	"sync"
)

// MemoryIndex 在进程内保存账户到 blob ID 的映射。
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemoryIndex 创建空的内存索引。
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]string)}
}

// Get 返回账户当前的 blob ID。
func (m *MemoryIndex) Get(_ context.Context, account string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.entries[strings.ToLower(account)]
	return id, ok, nil
}

// Set 覆盖账户的 blob ID。
func (m *MemoryIndex) Set(_ context.Context, account, blobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[strings.ToLower(account)] = blobID
	return nil
}

// Delete 移除账户的索引记录。
func (m *MemoryIndex) Delete(_ context.Context, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, strings.ToLower(account))
	return nil
}
