package validator

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/feichai0017/medical-document-processor/internal/models"
)

var (
	ErrEmptyContent     = errors.New("document content is empty")
	ErrInvalidSignature = errors.New("invalid file signature")
)

var (
	pdfMagic  = []byte("%PDF")
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}

	sha256Re = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
)

// ValidationError describes one rejected field of a work item.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// ValidationErrors is returned when a work item fails validation.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = fmt.Sprintf("%s: %s", v.Field, v.Message)
	}
	return "invalid work item: " + strings.Join(msgs, "; ")
}

// ValidateWorkItem checks the fields the pipeline relies on.
func ValidateWorkItem(item models.WorkItem) error {
	var errs ValidationErrors

	if _, err := uuid.Parse(item.DocumentID); err != nil {
		errs = append(errs, ValidationError{
			Code:    "INVALID_DOCUMENT_ID",
			Message: fmt.Sprintf("document_id %q is not a uuid", item.DocumentID),
			Field:   "document_id",
		})
	}
	if strings.TrimSpace(item.ObjectKey) == "" {
		errs = append(errs, ValidationError{
			Code:    "MISSING_OBJECT_KEY",
			Message: "object_key is required",
			Field:   "object_key",
		})
	}
	if item.SHA256 != "" && !sha256Re.MatchString(item.SHA256) {
		errs = append(errs, ValidationError{
			Code:    "INVALID_SHA256",
			Message: "sha256 must be 64 hex characters",
			Field:   "sha256",
		})
	}
	if item.FileSize < 0 {
		errs = append(errs, ValidationError{
			Code:    "INVALID_FILE_SIZE",
			Message: "file_size must not be negative",
			Field:   "file_size",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateSignature checks the magic bytes for the expected kind. The
// declared content type plays no part.
func ValidateSignature(kind models.FileKind, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyContent
	}

	var ok bool
	switch kind {
	case models.PDF:
		ok = bytes.HasPrefix(data, pdfMagic)
	case models.Image:
		ok = bytes.HasPrefix(data, pngMagic) || bytes.HasPrefix(data, jpegMagic)
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidSignature, kind)
	}

	if !ok {
		return fmt.Errorf("%w: expected %s, content looks like %s", ErrInvalidSignature, kind, mimetype.Detect(data).String())
	}
	return nil
}

// ContentHash returns the lowercase hex SHA-256 of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyHash recomputes the hash of data and compares it with expected,
// ignoring case. An empty expected hash never matches.
func VerifyHash(data []byte, expected string) (string, bool) {
	actual := ContentHash(data)
	return actual, expected != "" && strings.EqualFold(actual, expected)
}
