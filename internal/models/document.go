package models

import (
	"time"
)

// FileKind is the content family a document is processed as.
type FileKind string

const (
	PDF   FileKind = "pdf"
	Image FileKind = "image"
)

// DocumentStatus is the lifecycle state of a document record.
type DocumentStatus string

const (
	StatusReceived   DocumentStatus = "RECEIVED"
	StatusProcessing DocumentStatus = "PROCESSING"
	StatusDone       DocumentStatus = "DONE"
	StatusFailed     DocumentStatus = "FAILED"
)

// Terminal reports whether no further transition happens without redelivery.
func (s DocumentStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// DocumentDescriptor identifies one uploaded document. It is immutable and
// passed by value through the pipeline.
type DocumentDescriptor struct {
	DocumentID  string `json:"document_id"`
	Tenant      string `json:"tenant"`
	StorageKey  string `json:"object_key"`
	ContentHash string `json:"sha256"`
	ContentType string `json:"content_type"`
}

// WorkItem is the queue payload published after upload.
type WorkItem struct {
	DocumentID  string `json:"document_id"`
	Tenant      string `json:"tenant"`
	ObjectKey   string `json:"object_key"`
	SHA256      string `json:"sha256"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type"`
}

func (w WorkItem) Descriptor() DocumentDescriptor {
	return DocumentDescriptor{
		DocumentID:  w.DocumentID,
		Tenant:      w.Tenant,
		StorageKey:  w.ObjectKey,
		ContentHash: w.SHA256,
		ContentType: w.ContentType,
	}
}

// BoundingBox is a pixel rectangle on the rasterized page.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Valid reports whether the box has a non-negative origin and positive size.
func (b BoundingBox) Valid() bool {
	return b.X >= 0 && b.Y >= 0 && b.W > 0 && b.H > 0
}

// Union returns the smallest box covering both.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	x0, y0 := min(b.X, o.X), min(b.Y, o.Y)
	x1, y1 := max(b.X+b.W, o.X+o.W), max(b.Y+b.H, o.Y+o.H)
	return BoundingBox{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// ExtractedField is one normalized value found on a page.
type ExtractedField struct {
	Name       string       `json:"field_name"`
	Value      *string      `json:"field_value"`
	Confidence *float64     `json:"confidence"`
	Page       *int         `json:"page"`
	BBox       *BoundingBox `json:"bbox"`

	// Raw is the matched text before normalization, used to locate the box.
	Raw string `json:"-"`
}

// Word is one recognized token with its location, when the engine reports it.
type Word struct {
	Text       string
	Confidence float64
	Box        BoundingBox
}

// RecognitionResult is the text of a page and a confidence in [0,1].
type RecognitionResult struct {
	Text       string
	Confidence float64
	Words      []Word
}

// DocumentRecord is the persisted row of a document.
type DocumentRecord struct {
	ID                    string         `json:"id"`
	Tenant                string         `json:"tenant"`
	ObjectKey             string         `json:"object_key"`
	SHA256                string         `json:"sha256"`
	Status                DocumentStatus `json:"status"`
	ErrorMessage          *string        `json:"error_message,omitempty"`
	Pages                 *int           `json:"pages,omitempty"`
	ProcessingTimeSeconds *float64       `json:"processing_time_seconds,omitempty"`
	ModelVersion          *string        `json:"model_version,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// StatusUpdate carries the optional columns written with a status change.
type StatusUpdate struct {
	Status                DocumentStatus
	ErrorMessage          *string
	Pages                 *int
	ProcessingTimeSeconds *float64
	ModelVersion          *string
}

// PDFInfo is what inspection learns about a PDF without rendering it.
type PDFInfo struct {
	Pages  int
	Title  string
	Author string
}
