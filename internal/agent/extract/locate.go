package extract

import (
	"strings"
	"unicode"

	"github.com/feichai0017/medical-document-processor/internal/models"
)

// Locate finds the first run of words spelling raw and returns the union of
// their boxes, or nil when the text cannot be found.
func Locate(raw string, words []models.Word) *models.BoundingBox {
	target := tokens(raw)
	if len(target) == 0 {
		return nil
	}

	type indexed struct {
		token string
		box   models.BoundingBox
	}
	page := make([]indexed, 0, len(words))
	for _, w := range words {
		if t := tokenKey(w.Text); t != "" {
			page = append(page, indexed{token: t, box: w.Box})
		}
	}

	for start := 0; start+len(target) <= len(page); start++ {
		matched := true
		for j, t := range target {
			if page[start+j].token != t {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}

		box := page[start].box
		for _, w := range page[start+1 : start+len(target)] {
			box = box.Union(w.box)
		}
		if !box.Valid() {
			return nil
		}
		return &box
	}
	return nil
}

func tokens(s string) []string {
	var out []string
	for _, f := range strings.Fields(s) {
		if t := tokenKey(f); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func tokenKey(s string) string {
	return strings.ToLower(strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) && r != '-' && r != '/'
	}))
}
