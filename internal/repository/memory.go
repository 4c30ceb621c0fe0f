package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/feichai0017/medical-document-processor/internal/models"
)

// MemoryGateway keeps records in process. It backs local runs and tests.
type MemoryGateway struct {
	mu     sync.RWMutex
	docs   map[string]models.DocumentRecord
	fields map[string][]models.ExtractedField
	now    func() time.Time
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		docs:   make(map[string]models.DocumentRecord),
		fields: make(map[string][]models.ExtractedField),
		now:    time.Now,
	}
}

func (m *MemoryGateway) DocumentExists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.docs[id]
	return ok, nil
}

func (m *MemoryGateway) CreateDocument(_ context.Context, d models.DocumentDescriptor) (CreateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[d.DocumentID]; ok {
		return AlreadyExists, nil
	}
	now := m.now()
	m.docs[d.DocumentID] = models.DocumentRecord{
		ID:        d.DocumentID,
		Tenant:    d.Tenant,
		ObjectKey: d.StorageKey,
		SHA256:    d.ContentHash,
		Status:    models.StatusReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return Created, nil
}

func (m *MemoryGateway) UpdateStatus(_ context.Context, id string, u models.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = u.Status
	r.ErrorMessage = u.ErrorMessage
	r.Pages = u.Pages
	r.ProcessingTimeSeconds = u.ProcessingTimeSeconds
	if u.ModelVersion != nil {
		r.ModelVersion = u.ModelVersion
	}
	r.UpdatedAt = m.now()
	m.docs[id] = r
	return nil
}

func (m *MemoryGateway) SaveFields(_ context.Context, id string, fields []models.ExtractedField) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[id]; !ok {
		return ErrNotFound
	}
	m.fields[id] = slices.Clone(fields)
	return nil
}

func (m *MemoryGateway) GetDocument(_ context.Context, id string) (*models.DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryGateway) ListFields(_ context.Context, id string) ([]models.ExtractedField, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.fields[id]), nil
}
