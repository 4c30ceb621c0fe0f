// Package document drives one uploaded document through the processing
// pipeline and its status lifecycle.
package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feichai0017/medical-document-processor/internal/models"
)

// DocumentProcessor is the orchestrator contract shared by the queue worker
// and the command line.
type DocumentProcessor interface {
	// HandleDocument runs one attempt. attempt is 1-based.
	HandleDocument(ctx context.Context, d models.DocumentDescriptor, attempt int) (*Result, error)
	// ProcessWithRetry runs attempts in process until one succeeds or the
	// retry budget is spent.
	ProcessWithRetry(ctx context.Context, d models.DocumentDescriptor) (*Result, error)
	// ShouldRetry reports whether err from HandleDocument warrants another attempt.
	ShouldRetry(err error) bool
}

// Result is the outcome of a successful attempt.
type Result struct {
	DocumentID string                  `json:"document_id"`
	Status     models.DocumentStatus   `json:"status"`
	Pages      int                     `json:"pages"`
	Fields     []models.ExtractedField `json:"fields"`
	Duration   time.Duration           `json:"duration"`
	Attempts   int                     `json:"attempts"`
}

// Stage names the pipeline step an error came from.
type Stage string

const (
	StageRecord     Stage = "record"
	StageDetect     Stage = "detect"
	StageFetch      Stage = "fetch"
	StageValidate   Stage = "validate"
	StageRasterize  Stage = "rasterize"
	StagePreprocess Stage = "preprocess"
	StageRecognize  Stage = "recognize"
	StagePersist    Stage = "persist"
	StageTimeout    Stage = "timeout"
)

// ProcessingError is a failed attempt. Permanent errors come from the
// content itself and will fail the same way on every attempt.
type ProcessingError struct {
	Stage     Stage
	Err       error
	Permanent bool
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

func transient(stage Stage, err error) *ProcessingError {
	return &ProcessingError{Stage: stage, Err: err}
}

func permanent(stage Stage, err error) *ProcessingError {
	return &ProcessingError{Stage: stage, Err: err, Permanent: true}
}

// IsPermanent reports whether err carries a permanent ProcessingError.
func IsPermanent(err error) bool {
	var pe *ProcessingError
	return errors.As(err, &pe) && pe.Permanent
}
