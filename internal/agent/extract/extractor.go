// Package extract maps recognized page text to structured medical fields.
package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/feichai0017/medical-document-processor/internal/models"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
)

var (
	disallowedRe = regexp.MustCompile(`[^\p{L}\p{N}_\s:\[\]()\-/.,]`)
	wsRunRe      = regexp.MustCompile(`\s+`)

	// With line breaks collapsed, a capture can run into the label of the
	// next line ("Maria Souza Data: ...") or a title ("... Dr. Lima").
	labelNextRe = regexp.MustCompile(`^\s*:`)
	lastWordRe  = regexp.MustCompile(`\s+\p{L}+$`)
	honorificRe = regexp.MustCompile(`(?i)\s+(?:dr|dra|sr|sra)\.?$`)
)

// Extractor applies a catalog to page text. It is stateless after
// construction and safe for concurrent use.
type Extractor struct {
	catalog Catalog
	logger  logger.Logger
}

func NewExtractor(catalog Catalog, log logger.Logger) *Extractor {
	if len(catalog) == 0 {
		catalog = DefaultCatalog()
	}
	return &Extractor{
		catalog: catalog,
		logger:  log.Named("extractor"),
	}
}

func (e *Extractor) Catalog() Catalog {
	return e.catalog
}

// Extract returns at most one field per catalog entry, in catalog order.
// Every field carries the given page and confidence.
func (e *Extractor) Extract(text string, page int, confidence float64) []models.ExtractedField {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	cleaned := cleanText(text)

	var fields []models.ExtractedField
	for _, rule := range e.catalog {
		for _, re := range rule.Patterns {
			raw, ok := firstMatch(re, cleaned)
			if !ok {
				raw, ok = firstMatch(re, text)
			}
			if !ok {
				continue
			}

			value, ok := rule.Normalize(raw)
			if !ok || utf8.RuneCountInString(value) <= 2 {
				e.logger.Debug("Rejected match",
					logger.String("field", rule.Name),
					logger.String("pattern", re.String()),
					logger.Int("page", page),
				)
				continue
			}

			v, c, p := value, confidence, page
			fields = append(fields, models.ExtractedField{
				Name:       rule.Name,
				Value:      &v,
				Confidence: &c,
				Page:       &p,
				Raw:        raw,
			})
			e.logger.Debug("Extracted field",
				logger.String("field", rule.Name),
				logger.Int("page", page),
			)
			break
		}
	}
	return fields
}

// ExtractPage runs Extract on a recognition result and attaches word boxes
// where the matched text can be located.
func (e *Extractor) ExtractPage(result models.RecognitionResult, page int) []models.ExtractedField {
	fields := e.Extract(result.Text, page, result.Confidence)
	if len(result.Words) == 0 {
		return fields
	}
	for i := range fields {
		fields[i].BBox = Locate(fields[i].Raw, result.Words)
	}
	return fields
}

func firstMatch(re *regexp.Regexp, s string) (string, bool) {
	loc := re.FindStringSubmatchIndex(s)
	if loc == nil {
		return "", false
	}
	start, end := loc[0], loc[1]
	if len(loc) > 2 {
		if loc[2] < 0 {
			return "", true
		}
		start, end = loc[2], loc[3]
	}

	raw := s[start:end]
	if end == loc[1] && labelNextRe.MatchString(s[end:]) {
		raw = lastWordRe.ReplaceAllString(raw, "")
	}
	raw = honorificRe.ReplaceAllString(raw, "")
	return strings.TrimSpace(raw), true
}

// cleanText blanks characters outside the allowed set and collapses every
// whitespace run to one space.
func cleanText(s string) string {
	s = disallowedRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(wsRunRe.ReplaceAllString(s, " "))
}
