// Package pdf renders PDF pages to rasters and reads document metadata.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"

	"github.com/feichai0017/medical-document-processor/internal/models"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
)

// PDF user space is 72 units per inch.
const baseDPI = 72

// ErrNoPages is returned for a PDF that opens but has nothing to render.
var ErrNoPages = errors.New("pdf has no pages")

type Rasterizer struct {
	logger logger.Logger
	dpi    int
}

func NewRasterizer(log logger.Logger, dpi int) *Rasterizer {
	if dpi <= 0 {
		dpi = 300
	}
	return &Rasterizer{
		logger: log.Named("rasterizer"),
		dpi:    dpi,
	}
}

// Scale is the render scale relative to PDF user space.
func (r *Rasterizer) Scale() float64 {
	return float64(r.dpi) / baseDPI
}

// Rasterize renders every page in document order. Either all pages are
// returned or an error.
func (r *Rasterizer) Rasterize(ctx context.Context, data []byte) ([]image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer doc.Close()

	numPages := doc.NumPage()
	if numPages == 0 {
		return nil, ErrNoPages
	}
	pages := make([]image.Image, 0, numPages)
	for i := 0; i < numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := doc.ImageDPI(i, float64(r.dpi))
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", i+1, err)
		}
		pages = append(pages, img)
	}

	r.logger.Debug("Rasterized pdf",
		logger.Int("pages", numPages),
		logger.Int("dpi", r.dpi),
	)
	return pages, nil
}

// Inspect reads the page count and Info dictionary without rendering.
func Inspect(data []byte) (info models.PDFInfo, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("failed to inspect pdf: %v", rec)
		}
	}()

	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return models.PDFInfo{}, fmt.Errorf("failed to open pdf: %w", err)
	}

	info.Pages = pdfReader.NumPage()

	trailer := pdfReader.Trailer()
	if !trailer.IsNull() {
		meta := trailer.Key("Info")
		if !meta.IsNull() {
			if title := meta.Key("Title"); !title.IsNull() {
				info.Title = title.Text()
			}
			if author := meta.Key("Author"); !author.IsNull() {
				info.Author = author.Text()
			}
		}
	}
	return info, nil
}

func (r *Rasterizer) Kind() models.FileKind {
	return models.PDF
}

// Pages implements document.PageSource.
func (r *Rasterizer) Pages(ctx context.Context, data []byte) ([]image.Image, error) {
	return r.Rasterize(ctx, data)
}
