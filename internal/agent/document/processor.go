package document

import (
	"context"
	"image"

	"github.com/feichai0017/medical-document-processor/internal/models"
)

// PageSource turns the raw bytes of one document kind into ordered pages.
type PageSource interface {
	// Kind is the file kind this source handles
	Kind() models.FileKind

	// Pages returns the page rasters, first page first
	Pages(ctx context.Context, data []byte) ([]image.Image, error)
}
