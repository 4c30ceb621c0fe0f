package extract

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/feichai0017/medical-document-processor/internal/agent/normalize"
)

// FieldRule is one catalog entry: a field name, its normalizer and the
// patterns tried in order. Each pattern has at most one capture group.
type FieldRule struct {
	Name           string
	NormalizerName string
	Normalize      normalize.Func
	Patterns       []*regexp.Regexp
}

// Catalog is the ordered list of fields the extractor looks for.
type Catalog []FieldRule

const (
	namePart   = `\p{Lu}\p{Ll}+`
	nameJoiner = `[ \t]+(?:(?:da|de|do|das|dos|e)[ \t]+)?`
	upperPart  = `\p{Lu}{2,}`
	upperJoin  = `[ \t]+(?:(?:DA|DE|DO|DAS|DOS|E)[ \t]+)?`
	freeText   = `\p{L}[\p{L}\p{N}.]*(?:[ \t]+\p{L}[\p{L}\p{N}.]*){0,5}`
)

var defaultFields = []struct {
	name       string
	normalizer string
	patterns   []string
}{
	{
		name:       "patient_name",
		normalizer: "text",
		patterns: []string{
			`(?i:paciente|nome|patient)[:\s]+(` + namePart + `(?:` + nameJoiner + namePart + `)+)`,
			`(?i:paciente|nome|patient)[ \t]*:[ \t]*(` + upperPart + `(?:` + upperJoin + upperPart + `)+)`,
		},
	},
	{
		name:       "cpf",
		normalizer: "cpf",
		patterns: []string{
			`(?i:cpf)[:\s]*(\d{3}\.?\d{3}\.?\d{3}-?\d{2})`,
			`(?:^|[^\d.])(\d{3}\.?\d{3}\.?\d{3}-?\d{2})(?:[^\d]|$)`,
		},
	},
	{
		name:       "crm",
		normalizer: "crm",
		patterns: []string{
			`((?i:crm)[:\s]*\d+(?:[ \t/-]*[A-Z]{2}\b)?)`,
			`((?i:crm)[/-][A-Z]{2}[:\s]*\d+)`,
		},
	},
	{
		name:       "date",
		normalizer: "date",
		patterns: []string{
			`(?i:data|date)[:\s]+(\d{1,4}[/-]\d{1,2}[/-]\d{1,4})`,
			`(?:^|[^\d])(\d{1,4}[/-]\d{1,2}[/-]\d{1,4})(?:[^\d]|$)`,
		},
	},
	{
		name:       "phone",
		normalizer: "phone",
		patterns: []string{
			`(?i:telefone|tel|fone|phone|celular)[.:\s]+(\(?\d{2}\)?\s?\d{4,5}-?\d{4})`,
			`(?:^|[^\d.])(\(?\d{2}\)?\s?\d{4,5}-?\d{4})(?:[^\d.-]|$)`,
		},
	},
	{
		name:       "document_type",
		normalizer: "text",
		patterns: []string{
			`(?i:tipo de documento|tipo|documento)[ \t]*:[ \t]*(` + freeText + `)`,
			`((?i:receita|atestado|laudo|prescri[çc][ãa]o|relat[óo]rio|encaminhamento|requisi[çc][ãa]o|pedido)(?:[ \t]+(?i:m[ée]dic[ao]|de exames?|de exame))?)`,
		},
	},
	{
		name:       "institution",
		normalizer: "text",
		patterns: []string{
			`(?i:institui[çc][ãa]o|hospital|cl[íi]nica)[ \t]*:[ \t]*(` + freeText + `)`,
			`((?i:hospital|cl[íi]nica|policl[íi]nica|laborat[óo]rio|instituto|santa casa|centro m[ée]dico)(?:` + nameJoiner + `\p{Lu}[\p{L}]*){1,5})`,
		},
	},
}

// DefaultCatalog returns the built-in catalog in its fixed field order.
func DefaultCatalog() Catalog {
	catalog := make(Catalog, 0, len(defaultFields))
	for _, f := range defaultFields {
		rule, err := newFieldRule(f.name, f.normalizer, f.patterns)
		if err != nil {
			panic(err)
		}
		catalog = append(catalog, rule)
	}
	return catalog
}

// Names returns the field names in catalog order.
func (c Catalog) Names() []string {
	names := make([]string, len(c))
	for i, f := range c {
		names[i] = f.Name
	}
	return names
}

func newFieldRule(name, normalizerName string, patterns []string) (FieldRule, error) {
	if name == "" {
		return FieldRule{}, fmt.Errorf("field name is required")
	}
	if normalizerName == "" {
		normalizerName = "text"
	}
	fn, ok := normalize.Lookup(normalizerName)
	if !ok {
		return FieldRule{}, fmt.Errorf("field %s: unknown normalizer %q", name, normalizerName)
	}
	if len(patterns) == 0 {
		return FieldRule{}, fmt.Errorf("field %s: at least one pattern is required", name)
	}

	rule := FieldRule{Name: name, NormalizerName: normalizerName, Normalize: fn}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return FieldRule{}, fmt.Errorf("field %s: invalid pattern %q: %w", name, p, err)
		}
		if re.NumSubexp() > 1 {
			return FieldRule{}, fmt.Errorf("field %s: pattern %q has more than one capture group", name, p)
		}
		rule.Patterns = append(rule.Patterns, re)
	}
	return rule, nil
}

type catalogFile struct {
	Fields []struct {
		Name       string   `yaml:"name"`
		Normalizer string   `yaml:"normalizer"`
		Patterns   []string `yaml:"patterns"`
	} `yaml:"fields"`
}

// LoadCatalog reads a YAML catalog. Field order in the file is the match order.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog is LoadCatalog on in-memory YAML.
func ParseCatalog(data []byte) (Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(file.Fields) == 0 {
		return nil, fmt.Errorf("catalog has no fields")
	}

	seen := make(map[string]struct{}, len(file.Fields))
	catalog := make(Catalog, 0, len(file.Fields))
	for _, f := range file.Fields {
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field %s", f.Name)
		}
		seen[f.Name] = struct{}{}

		rule, err := newFieldRule(f.Name, f.Normalizer, f.Patterns)
		if err != nil {
			return nil, err
		}
		catalog = append(catalog, rule)
	}
	return catalog, nil
}
