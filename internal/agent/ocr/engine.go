// Package ocr recognizes text on preprocessed pages.
//
// Engines never fail: any problem degrades to an empty result so a bad page
// cannot fail the document at this layer.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/feichai0017/medical-document-processor/internal/models"
)

// Engine recognizes the text of one page image.
type Engine interface {
	Recognize(ctx context.Context, img image.Image) models.RecognitionResult
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, img image.Image) models.RecognitionResult

func (f EngineFunc) Recognize(ctx context.Context, img image.Image) models.RecognitionResult {
	return f(ctx, img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode page: %w", err)
	}
	return buf.Bytes(), nil
}

// meanConfidence averages the scores above zero and scales them from
// percent to [0,1]. Zero usable scores yield 0.
func meanConfidence(scores []float64) float64 {
	var sum float64
	var n int
	for _, s := range scores {
		if s > 0 {
			sum += s
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return clamp01(sum / float64(n) / 100)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
