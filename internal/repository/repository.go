// Package repository persists document records and their extracted fields.
package repository

import (
	"context"
	"errors"

	"github.com/feichai0017/medical-document-processor/internal/models"
)

var ErrNotFound = errors.New("document not found")

// CreateResult tells a fresh insert apart from an idempotent no-op.
type CreateResult int

const (
	Created CreateResult = iota
	AlreadyExists
)

func (r CreateResult) String() string {
	if r == AlreadyExists {
		return "already_exists"
	}
	return "created"
}

// Gateway is the persistence contract of the pipeline.
type Gateway interface {
	DocumentExists(ctx context.Context, id string) (bool, error)
	// CreateDocument inserts a RECEIVED record. An existing id is not an error.
	CreateDocument(ctx context.Context, d models.DocumentDescriptor) (CreateResult, error)
	UpdateStatus(ctx context.Context, id string, u models.StatusUpdate) error
	// SaveFields replaces the document's field set atomically.
	SaveFields(ctx context.Context, id string, fields []models.ExtractedField) error

	GetDocument(ctx context.Context, id string) (*models.DocumentRecord, error)
	ListFields(ctx context.Context, id string) ([]models.ExtractedField, error)
}
