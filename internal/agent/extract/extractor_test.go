package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/medical-document-processor/internal/models"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
)

func newTestExtractor() *Extractor {
	return NewExtractor(nil, logger.NewNop())
}

func valuesByName(fields []models.ExtractedField) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		out[f.Name] = *f.Value
	}
	return out
}

func TestExtractEmptyText(t *testing.T) {
	e := newTestExtractor()
	assert.Empty(t, e.Extract("", 1, 0.9))
	assert.Empty(t, e.Extract(" \n\t  ", 1, 0.9))
}

func TestExtractSingleCPF(t *testing.T) {
	e := newTestExtractor()

	fields := e.Extract("CPF: 123.456.789-01", 3, 0.73)
	require.Len(t, fields, 1)

	f := fields[0]
	assert.Equal(t, "cpf", f.Name)
	assert.Equal(t, "123.456.789-01", *f.Value)
	assert.InDelta(t, 0.73, *f.Confidence, 1e-9)
	assert.Equal(t, 3, *f.Page)
	assert.Nil(t, f.BBox)
}

func TestExtractFullPage(t *testing.T) {
	e := newTestExtractor()
	text := "Paciente: João Silva da Costa, CPF: 123.456.789-01, Data: 15/03/2024"

	got := valuesByName(e.Extract(text, 1, 0.9))

	assert.Equal(t, "João Silva da Costa", got["patient_name"])
	assert.Equal(t, "123.456.789-01", got["cpf"])
	assert.Equal(t, "15/03/2024", got["date"])
	assert.NotContains(t, got, "phone")
	assert.NotContains(t, got, "crm")
}

func TestExtractCatalogOrder(t *testing.T) {
	e := newTestExtractor()
	text := `HOSPITAL SÃO LUCAS
Tipo: Receita médica
Paciente: Maria Souza
Dr. Carlos Lima CRM: 123456 SP
Telefone: (11) 98888-7777
Data: 2024-03-15`

	fields := e.Extract(text, 2, 0.8)

	var names []string
	for _, f := range fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"patient_name", "crm", "date", "phone", "document_type", "institution"}, names)

	got := valuesByName(fields)
	assert.Equal(t, "Maria Souza", got["patient_name"])
	assert.Equal(t, "CRM 123456 SP", got["crm"])
	assert.Equal(t, "15/03/2024", got["date"])
	assert.Equal(t, "(11) 98888-7777", got["phone"])
	assert.Equal(t, "Receita médica", got["document_type"])
	assert.Equal(t, "HOSPITAL SÃO LUCAS", got["institution"])
}

func TestExtractUppercaseName(t *testing.T) {
	e := newTestExtractor()
	got := valuesByName(e.Extract("NOME DO PACIENTE: JOSÉ DOS SANTOS", 1, 0.5))
	assert.Equal(t, "JOSÉ DOS SANTOS", got["patient_name"])
}

func TestExtractLabelAndValueOnSeparateLines(t *testing.T) {
	e := newTestExtractor()

	tests := []struct {
		text  string
		field string
		want  string
	}{
		{"Paciente:\nJOÃO DA SILVA", "patient_name", "JOÃO DA SILVA"},
		{"Paciente:\nJOÃO DA SILVA\nCPF: 123.456.789-01", "patient_name", "JOÃO DA SILVA"},
		{"Paciente:\n  Ana Paula Reis\nData: 01/02/2024", "patient_name", "Ana Paula Reis"},
		{"Instituição:\nSanta Casa", "institution", "Santa Casa"},
		{"Instituição:\nSanta Casa\nTipo: Laudo", "institution", "Santa Casa"},
		{"Tipo de documento:\r\n\tAtestado médico", "document_type", "Atestado médico"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := valuesByName(e.Extract(tt.text, 1, 0.9))
			assert.Equal(t, tt.want, got[tt.field])
		})
	}
}

func TestCleanTextCollapsesLineBreaks(t *testing.T) {
	assert.Equal(t, "Paciente: JOÃO DA SILVA CPF: 1", cleanText("Paciente:\n\n  JOÃO DA SILVA\r\nCPF: 1"))
	assert.Equal(t, "a b", cleanText("a # b"))
}

func TestExtractDropsTrailingTitle(t *testing.T) {
	e := newTestExtractor()
	got := valuesByName(e.Extract("Paciente: Maria Souza\nDr. Carlos Lima", 1, 0.9))
	assert.Equal(t, "Maria Souza", got["patient_name"])
}

func TestExtractFirstMatchWinsPerField(t *testing.T) {
	e := newTestExtractor()
	text := "CPF: 111.222.333-44\nOutro documento 555.666.777-88"

	fields := e.Extract(text, 1, 0.9)
	require.Len(t, fields, 1)
	assert.Equal(t, "111.222.333-44", *fields[0].Value)
}

func TestExtractRejectsUnnormalizableDate(t *testing.T) {
	e := newTestExtractor()
	got := valuesByName(e.Extract("Data: 1/3/2024", 1, 0.9))
	assert.NotContains(t, got, "date")
}

func TestExtractFallsBackToOriginalText(t *testing.T) {
	fields, err := ParseCatalog([]byte(`
fields:
  - name: code
    normalizer: text
    patterns:
      - 'ref#([A-Z]{4})'
`))
	require.NoError(t, err)
	e := NewExtractor(fields, logger.NewNop())

	// '#' is blanked in the cleaned text, so only the original matches.
	got := valuesByName(e.Extract("ref#ABCD", 1, 0.9))
	assert.Equal(t, "ABCD", got["code"])
}

func TestExtractRejectsShortValues(t *testing.T) {
	catalog, err := ParseCatalog([]byte(`
fields:
  - name: initials
    patterns:
      - 'iniciais: (\w+)'
`))
	require.NoError(t, err)
	e := NewExtractor(catalog, logger.NewNop())

	assert.Empty(t, e.Extract("iniciais: JS", 1, 0.9))
	assert.Len(t, e.Extract("iniciais: JSC", 1, 0.9), 1)
}

func TestExtractPageAttachesBoxes(t *testing.T) {
	e := newTestExtractor()
	result := models.RecognitionResult{
		Text:       "CPF: 123.456.789-01",
		Confidence: 0.9,
		Words: []models.Word{
			{Text: "CPF:", Confidence: 0.95, Box: models.BoundingBox{X: 10, Y: 20, W: 40, H: 12}},
			{Text: "123.456.789-01", Confidence: 0.9, Box: models.BoundingBox{X: 60, Y: 21, W: 120, H: 12}},
		},
	}

	fields := e.ExtractPage(result, 1)
	require.Len(t, fields, 1)
	require.NotNil(t, fields[0].BBox)
	assert.Equal(t, models.BoundingBox{X: 60, Y: 21, W: 120, H: 12}, *fields[0].BBox)
}

func TestLocate(t *testing.T) {
	words := []models.Word{
		{Text: "Dr.", Box: models.BoundingBox{X: 0, Y: 0, W: 20, H: 10}},
		{Text: "CRM:", Box: models.BoundingBox{X: 30, Y: 0, W: 30, H: 10}},
		{Text: "123456", Box: models.BoundingBox{X: 70, Y: 2, W: 50, H: 10}},
		{Text: "SP", Box: models.BoundingBox{X: 130, Y: 1, W: 20, H: 12}},
	}

	box := Locate("CRM: 123456 SP", words)
	require.NotNil(t, box)
	assert.Equal(t, models.BoundingBox{X: 30, Y: 0, W: 120, H: 13}, *box)

	assert.Nil(t, Locate("CRM 999", words))
	assert.Nil(t, Locate("", words))
}

func TestParseCatalogErrors(t *testing.T) {
	tests := map[string]string{
		"empty":              `fields: []`,
		"unknown normalizer": "fields:\n  - name: x\n    normalizer: iban\n    patterns: ['(x+)']\n",
		"bad regex":          "fields:\n  - name: x\n    patterns: ['(x']\n",
		"no patterns":        "fields:\n  - name: x\n",
		"two groups":         "fields:\n  - name: x\n    patterns: ['(a)(b)']\n",
		"duplicate":          "fields:\n  - name: x\n    patterns: ['(a)']\n  - name: x\n    patterns: ['(b)']\n",
		"not yaml":           "fields: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fields:
  - name: cpf
    normalizer: cpf
    patterns:
      - 'CPF (\d{11})'
  - name: phone
    normalizer: phone
    patterns:
      - 'tel (\d{10,11})'
`), 0o644))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"cpf", "phone"}, catalog.Names())

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultCatalogOrder(t *testing.T) {
	assert.Equal(t,
		[]string{"patient_name", "cpf", "crm", "date", "phone", "document_type", "institution"},
		DefaultCatalog().Names(),
	)
}
