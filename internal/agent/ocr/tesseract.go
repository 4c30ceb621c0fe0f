package ocr

import (
	"context"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/feichai0017/medical-document-processor/internal/models"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
)

// Legacy plus LSTM recognition. Tesseract only reads the engine mode at
// init, so it goes through a config file.
const tesseractOEMConfig = "tessedit_ocr_engine_mode 2\n"

type TesseractOptions struct {
	Languages      string
	PageSegMode    gosseract.PageSegMode
	TessdataPrefix string
}

// TesseractEngine runs one Tesseract client per call so it is safe for
// concurrent use.
type TesseractEngine struct {
	logger     logger.Logger
	languages  []string
	psm        gosseract.PageSegMode
	tessdata   string
	configPath string
}

func NewTesseractEngine(log logger.Logger, opts TesseractOptions) (*TesseractEngine, error) {
	if opts.Languages == "" {
		opts.Languages = "por+eng"
	}
	if opts.PageSegMode == 0 {
		opts.PageSegMode = gosseract.PSM_SINGLE_BLOCK
	}

	f, err := os.CreateTemp("", "tesseract-oem-*.cfg")
	if err != nil {
		return nil, fmt.Errorf("failed to create tesseract config: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(tesseractOEMConfig); err != nil {
		return nil, fmt.Errorf("failed to write tesseract config: %w", err)
	}

	return &TesseractEngine{
		logger:     log.Named("tesseract"),
		languages:  strings.Split(opts.Languages, "+"),
		psm:        opts.PageSegMode,
		tessdata:   opts.TessdataPrefix,
		configPath: f.Name(),
	}, nil
}

func (e *TesseractEngine) Recognize(ctx context.Context, img image.Image) (result models.RecognitionResult) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("Tesseract panicked", logger.Any("panic", rec))
			result = models.RecognitionResult{}
		}
	}()

	if err := ctx.Err(); err != nil {
		return models.RecognitionResult{}
	}

	res, err := e.recognize(img)
	if err != nil {
		e.logger.Error("Tesseract recognition failed", logger.Error(err))
		return models.RecognitionResult{}
	}
	return res
}

func (e *TesseractEngine) recognize(img image.Image) (models.RecognitionResult, error) {
	data, err := encodePNG(img)
	if err != nil {
		return models.RecognitionResult{}, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if e.tessdata != "" {
		if err := client.SetTessdataPrefix(e.tessdata); err != nil {
			return models.RecognitionResult{}, fmt.Errorf("failed to set tessdata prefix: %w", err)
		}
	}
	if err := client.SetConfigFile(e.configPath); err != nil {
		return models.RecognitionResult{}, fmt.Errorf("failed to set config file: %w", err)
	}
	if err := client.SetLanguage(e.languages...); err != nil {
		return models.RecognitionResult{}, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(e.psm); err != nil {
		return models.RecognitionResult{}, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return models.RecognitionResult{}, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return models.RecognitionResult{}, fmt.Errorf("failed to get text: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		e.logger.Warn("Failed to get word boxes", logger.Error(err))
		return models.RecognitionResult{Text: text}, nil
	}

	words, confidence := wordsFromBoxes(boxes)
	return models.RecognitionResult{
		Text:       text,
		Confidence: confidence,
		Words:      words,
	}, nil
}

// wordsFromBoxes converts word boxes and averages their usable confidences.
func wordsFromBoxes(boxes []gosseract.BoundingBox) ([]models.Word, float64) {
	words := make([]models.Word, 0, len(boxes))
	scores := make([]float64, 0, len(boxes))
	for _, b := range boxes {
		scores = append(scores, b.Confidence)
		if strings.TrimSpace(b.Word) == "" {
			continue
		}
		words = append(words, models.Word{
			Text:       b.Word,
			Confidence: clamp01(b.Confidence / 100),
			Box: models.BoundingBox{
				X: b.Box.Min.X,
				Y: b.Box.Min.Y,
				W: b.Box.Dx(),
				H: b.Box.Dy(),
			},
		})
	}
	return words, meanConfidence(scores)
}

// Close removes the engine's config file.
func (e *TesseractEngine) Close() error {
	return os.Remove(e.configPath)
}
