package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/feichai0017/medical-document-processor/internal/models"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
)

// TextractAPI is the subset of the Textract client the engine calls.
type TextractAPI interface {
	DetectDocumentText(ctx context.Context, params *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
}

type TextractConfig struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// TextractEngine sends each page to AWS Textract for printed text detection.
type TextractEngine struct {
	client TextractAPI
	logger logger.Logger
}

func NewTextractClient(ctx context.Context, cfg TextractConfig) (*textract.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return textract.NewFromConfig(awsCfg, func(o *textract.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func NewTextractEngine(client TextractAPI, log logger.Logger) *TextractEngine {
	return &TextractEngine{
		client: client,
		logger: log.Named("textract"),
	}
}

func (e *TextractEngine) Recognize(ctx context.Context, img image.Image) models.RecognitionResult {
	data, err := encodePNG(img)
	if err != nil {
		e.logger.Error("Failed to encode page for textract", logger.Error(err))
		return models.RecognitionResult{}
	}

	out, err := e.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{Bytes: data},
	})
	if err != nil {
		e.logger.Error("Textract detection failed", logger.Error(err))
		return models.RecognitionResult{}
	}

	b := img.Bounds()
	return processBlocks(out.Blocks, b.Dx(), b.Dy())
}

// processBlocks joins LINE blocks and collects WORD blocks with pixel boxes.
func processBlocks(blocks []types.Block, width, height int) models.RecognitionResult {
	var (
		lines  []string
		words  []models.Word
		scores []float64
	)
	for _, block := range blocks {
		switch block.BlockType {
		case types.BlockTypeLine:
			if block.Text != nil {
				lines = append(lines, *block.Text)
			}
		case types.BlockTypeWord:
			if block.Confidence == nil || block.Text == nil {
				continue
			}
			conf := float64(*block.Confidence)
			scores = append(scores, conf)
			w := models.Word{Text: *block.Text, Confidence: clamp01(conf / 100)}
			if block.Geometry != nil && block.Geometry.BoundingBox != nil {
				bb := block.Geometry.BoundingBox
				w.Box = models.BoundingBox{
					X: int(bb.Left * float32(width)),
					Y: int(bb.Top * float32(height)),
					W: max(int(bb.Width*float32(width)), 1),
					H: max(int(bb.Height*float32(height)), 1),
				}
			}
			words = append(words, w)
		}
	}

	return models.RecognitionResult{
		Text:       strings.Join(lines, "\n"),
		Confidence: meanConfidence(scores),
		Words:      words,
	}
}
