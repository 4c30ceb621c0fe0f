package agent

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/feichai0017/medical-document-processor/internal/agent/document"
	"github.com/feichai0017/medical-document-processor/internal/models"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
)

// ErrUnsupportedKind is returned when neither the key nor the content type
// names a kind the pipeline handles.
var ErrUnsupportedKind = errors.New("unsupported file kind")

var extToKind = map[string]models.FileKind{
	".pdf":  models.PDF,
	".png":  models.Image,
	".jpg":  models.Image,
	".jpeg": models.Image,
}

var mimeToKind = map[string]models.FileKind{
	"application/pdf": models.PDF,
	"image/png":       models.Image,
	"image/jpeg":      models.Image,
	"image/jpg":       models.Image,
}

// ProcessorFactory resolves a document to the page source for its kind.
type ProcessorFactory struct {
	sources map[models.FileKind]document.PageSource
	logger  logger.Logger
}

func NewProcessorFactory(log logger.Logger, sources ...document.PageSource) *ProcessorFactory {
	factory := &ProcessorFactory{
		sources: make(map[models.FileKind]document.PageSource, len(sources)),
		logger:  log.Named("factory"),
	}
	for _, s := range sources {
		factory.sources[s.Kind()] = s
	}
	return factory
}

// DetectKind uses the storage key extension first and falls back to the
// declared content type when the extension is not recognized.
func (f *ProcessorFactory) DetectKind(storageKey, contentType string) (models.FileKind, error) {
	ext := strings.ToLower(filepath.Ext(storageKey))
	if kind, ok := extToKind[ext]; ok {
		return kind, nil
	}

	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	if kind, ok := mimeToKind[mediaType]; ok {
		f.logger.Debug("Kind taken from content type",
			logger.String("key", storageKey),
			logger.String("content_type", contentType),
		)
		return kind, nil
	}

	return "", fmt.Errorf("%w: key %q, content type %q", ErrUnsupportedKind, storageKey, contentType)
}

func (f *ProcessorFactory) GetSource(kind models.FileKind) (document.PageSource, error) {
	source, ok := f.sources[kind]
	if !ok {
		return nil, fmt.Errorf("%w: no page source for %q", ErrUnsupportedKind, kind)
	}
	return source, nil
}
