// Package storage contains the in-memory document and export row stores. They
// back tests and processes started with ITERA_SQLITE_PATH=memory.
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/IteraFlow/internal/apperr"
	"github.com/dharsanguruparan/IteraFlow/internal/model"
)

// MemoryStore keeps documents and export rows in maps guarded by one RWMutex,
// so each single-document update is atomic.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*model.Document
	rows map[string][]model.ExportRow
	now  func() time.Time
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]*model.Document),
		rows: make(map[string][]model.ExportRow),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Add inserts or replaces a document. Missing id and timestamps are filled in.
func (m *MemoryStore) Add(_ context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(doc)
	return nil
}

// AddMany inserts all documents under a single lock.
func (m *MemoryStore) AddMany(_ context.Context, docs []*model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range docs {
		m.put(doc)
	}
	return nil
}

func (m *MemoryStore) put(doc *model.Document) {
	now := m.now()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.Status == "" {
		doc.Status = string(model.StateNotUploaded)
	}
	doc.UpdatedAt = now
	m.docs[doc.ID] = cloneDoc(doc)
}

// GetByID returns a copy of the document or apperr.ErrNotFound.
func (m *MemoryStore) GetByID(_ context.Context, id string) (*model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, apperr.NotFound("document", id)
	}
	return cloneDoc(doc), nil
}

// GetByIDs returns the documents that exist, in request order. Unknown ids are
// skipped.
func (m *MemoryStore) GetByIDs(_ context.Context, ids []string) ([]model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Document, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		doc, ok := m.docs[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, *cloneDoc(doc))
	}
	return out, nil
}

// GetAll returns every document, oldest first.
func (m *MemoryStore) GetAll(_ context.Context) ([]model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Document, 0, len(m.docs))
	for _, doc := range m.docs {
		out = append(out, *cloneDoc(doc))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateRemoteStatus records the remote id and status label and starts a new
// processing attempt: processed and error are cleared.
func (m *MemoryStore) UpdateRemoteStatus(_ context.Context, id string, remoteID *string, status string) error {
	return m.update(id, func(doc *model.Document) {
		doc.RemoteID = cloneString(remoteID)
		doc.Status = status
		doc.Processed = false
		doc.ErrorMessage = nil
	})
}

// MarkProcessed flags the document as successfully processed.
func (m *MemoryStore) MarkProcessed(_ context.Context, id string) error {
	return m.update(id, func(doc *model.Document) {
		doc.Processed = true
		doc.ErrorMessage = nil
	})
}

// MarkError records a failure message.
func (m *MemoryStore) MarkError(_ context.Context, id, message string) error {
	return m.update(id, func(doc *model.Document) {
		doc.ErrorMessage = &message
		doc.Processed = false
	})
}

func (m *MemoryStore) update(id string, fn func(*model.Document)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return apperr.NotFound("document", id)
	}
	fn(doc)
	doc.UpdatedAt = m.now()
	return nil
}

// GetRowsByDocumentID returns the stored rows in insertion order.
func (m *MemoryStore) GetRowsByDocumentID(_ context.Context, documentID string) ([]model.ExportRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.rows[documentID]
	out := make([]model.ExportRow, len(rows))
	copy(out, rows)
	return out, nil
}

// DeleteRowsByDocumentID drops all rows of a document.
func (m *MemoryStore) DeleteRowsByDocumentID(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, documentID)
	return nil
}

// AddRows appends rows, grouping them by DocumentID.
func (m *MemoryStore) AddRows(_ context.Context, rows []model.ExportRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		m.rows[row.DocumentID] = append(m.rows[row.DocumentID], m.stamp(row))
	}
	return nil
}

// ReplaceRows swaps a document's rows for rows under one lock, so readers see
// either the old set or the new one.
func (m *MemoryStore) ReplaceRows(_ context.Context, documentID string, rows []model.ExportRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ExportRow, 0, len(rows))
	for _, row := range rows {
		row.DocumentID = documentID
		out = append(out, m.stamp(row))
	}
	m.rows[documentID] = out
	return nil
}

func (m *MemoryStore) stamp(row model.ExportRow) model.ExportRow {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = m.now()
	}
	return row
}

func cloneDoc(doc *model.Document) *model.Document {
	c := *doc
	c.RemoteID = cloneString(doc.RemoteID)
	c.ErrorMessage = cloneString(doc.ErrorMessage)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
