// Package image prepares page rasters for text recognition.
package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"

	"github.com/feichai0017/medical-document-processor/internal/models"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
)

// ImagePreprocessor is one stage of the preprocessing pipeline.
type ImagePreprocessor interface {
	Process(img image.Image) (image.Image, error)
}

type PreprocessOptions struct {
	DenoiseSigma   float64
	Deskew         bool
	DeskewDeadband float64
	DeskewMaxLines int
}

func DefaultPreprocessOptions() *PreprocessOptions {
	return &PreprocessOptions{
		DenoiseSigma:   0.5,
		Deskew:         false,
		DeskewDeadband: 0.5,
		DeskewMaxLines: 20,
	}
}

// Preprocessor runs grayscale, denoise, optional deskew and binarization.
// The output has the input's dimensions and only 0/255 pixels.
type Preprocessor struct {
	logger        logger.Logger
	preprocessors []ImagePreprocessor
}

func NewPreprocessor(log logger.Logger, opts *PreprocessOptions) *Preprocessor {
	if opts == nil {
		opts = DefaultPreprocessOptions()
	}

	preprocessors := []ImagePreprocessor{
		NewGrayscaleProcessor(),
		NewDenoiseProcessor(opts.DenoiseSigma),
	}
	if opts.Deskew {
		preprocessors = append(preprocessors, NewDeskewProcessor(opts.DeskewDeadband, opts.DeskewMaxLines))
	}
	preprocessors = append(preprocessors, NewOtsuProcessor())

	return &Preprocessor{
		logger:        log.Named("preprocess"),
		preprocessors: preprocessors,
	}
}

func (p *Preprocessor) Process(img image.Image) (*image.Gray, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("input image is empty")
	}

	var err error
	result := img
	for _, processor := range p.preprocessors {
		result, err = processor.Process(result)
		if err != nil {
			p.logger.Error("Preprocessing failed", logger.Error(err))
			return nil, fmt.Errorf("preprocessing failed: %w", err)
		}
		if result == nil {
			return nil, fmt.Errorf("preprocessor returned nil image")
		}
	}

	return toGray(result), nil
}

// Decode reads a PNG or JPEG page, applying EXIF orientation.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// Source serves a single image file as a one-page document.
type Source struct{}

func NewSource() *Source {
	return &Source{}
}

func (s *Source) Kind() models.FileKind {
	return models.Image
}

func (s *Source) Pages(ctx context.Context, data []byte) ([]image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return []image.Image{img}, nil
}
