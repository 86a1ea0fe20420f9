// Package index defines the downstream consumer contract. The
// orchestration core calls it but does not own its storage; every write
// is idempotent by internal id.
package index

import (
	"context"
	"sync"
	"time"
)

// NodeUpsert is the payload for a folder/container upsert.
type NodeUpsert struct {
	InternalID string    `json:"internalId"`
	Parents    []string  `json:"parents"`
	Title      string    `json:"title"`
	MimeType   string    `json:"mimeType,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// DocumentUpsert is the payload for a document or table upsert.
type DocumentUpsert struct {
	InternalID string    `json:"internalId"`
	Parents    []string  `json:"parents"`
	Title      string    `json:"title"`
	SourceURL  string    `json:"sourceUrl,omitempty"`
	MimeType   string    `json:"mimeType,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Index is the downstream indexing pipeline surface.
type Index interface {
	UpsertNode(ctx context.Context, upsert NodeUpsert) error
	UpsertDocument(ctx context.Context, upsert DocumentUpsert) error
	DeleteNode(ctx context.Context, internalID string) error
}

// MemoryIndex is an in-process Index for tests and local runs.
type MemoryIndex struct {
	mu        sync.Mutex
	nodes     map[string]NodeUpsert
	documents map[string]DocumentUpsert
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		nodes:     make(map[string]NodeUpsert),
		documents: make(map[string]DocumentUpsert),
	}
}

func (m *MemoryIndex) UpsertNode(ctx context.Context, upsert NodeUpsert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[upsert.InternalID] = upsert
	return nil
}

func (m *MemoryIndex) UpsertDocument(ctx context.Context, upsert DocumentUpsert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[upsert.InternalID] = upsert
	return nil
}

func (m *MemoryIndex) DeleteNode(ctx context.Context, internalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, internalID)
	delete(m.documents, internalID)
	return nil
}

// Len returns the number of distinct indexed entries.
func (m *MemoryIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nodes) + len(m.documents)
}

// Document returns the indexed document for an internal id.
func (m *MemoryIndex) Document(internalID string) (DocumentUpsert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[internalID]
	return d, ok
}

// Node returns the indexed node for an internal id.
func (m *MemoryIndex) Node(internalID string) (NodeUpsert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[internalID]
	return n, ok
}
