package ocr

import (
	"context"
	"image"
	"strings"

	"github.com/feichai0017/medical-document-processor/internal/models"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
)

// Recognizer runs the printed engine and, when configured, the handwriting
// engine on the same page and merges the results.
type Recognizer struct {
	printed     Engine
	handwriting Engine
	logger      logger.Logger
}

// NewRecognizer builds a recognizer. handwriting may be nil.
func NewRecognizer(printed, handwriting Engine, log logger.Logger) *Recognizer {
	return &Recognizer{
		printed:     printed,
		handwriting: handwriting,
		logger:      log.Named("recognizer"),
	}
}

func (r *Recognizer) Recognize(ctx context.Context, img image.Image) models.RecognitionResult {
	printed := r.printed.Recognize(ctx, img)

	var handwritten models.RecognitionResult
	if r.handwriting != nil {
		handwritten = r.handwriting.Recognize(ctx, img)
	}

	combined := Combine(printed, handwritten)
	if combined.Text == "" {
		r.logger.Warn("Page produced no text")
	}
	return combined
}

// Combine concatenates printed and handwritten text. The confidence is the
// larger of the two when handwriting produced a score, otherwise the printed one.
// Word boxes come from the printed engine.
func Combine(printed, handwritten models.RecognitionResult) models.RecognitionResult {
	confidence := printed.Confidence
	if handwritten.Confidence > 0 {
		confidence = max(printed.Confidence, handwritten.Confidence)
	}
	return models.RecognitionResult{
		Text:       strings.TrimSpace(printed.Text + "\n" + handwritten.Text),
		Confidence: confidence,
		Words:      printed.Words,
	}
}
