// Package normalizer maps noisy bank spreadsheet headers to canonical field names
// and decodes the loosely typed cell values those sheets carry.
package normalizer

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Canonical field names
const (
	FieldStatus           = "estado"
	FieldCurrency         = "moneda"
	FieldPaymentMethod    = "forma_pago"
	FieldAmount           = "valor_cobrado"
	FieldAccountCode      = "cod_tercero"
	FieldPayerName        = "nom_terc"
	FieldTransmissionDate = "fecha_transmision"
	FieldPaymentDate      = "fecha_pago"
	FieldBankName         = "banco"
	FieldAccountType      = "tipo_cuenta"
	FieldAccountNumber    = "num_cuenta"
	FieldNotes            = "observaciones"
)

// RequiredFields must all be present in the header row for an import to proceed.
var RequiredFields = []string{FieldStatus, FieldAccountCode, FieldTransmissionDate}

// Synonyms maps a normalized header spelling to its canonical field name.
type Synonyms map[string]string

// DefaultSynonyms returns the header spellings seen in bank exports so far,
// including the truncations the bank's spreadsheet tool produces.
func DefaultSynonyms() Synonyms {
	return Synonyms{
		"estado": FieldStatus,

		"moneda": FieldCurrency,

		"forma":      FieldPaymentMethod,
		"forma_pago": FieldPaymentMethod,
		"formapago":  FieldPaymentMethod,

		"valor":         FieldAmount,
		"valor_cobrado": FieldAmount,

		"cod_tercero": FieldAccountCode,
		"cod_tercer":  FieldAccountCode,
		"codtercero":  FieldAccountCode,
		"cod_terc":    FieldAccountCode,

		"nom_terc":    FieldPayerName,
		"nomterc":     FieldPayerName,
		"nom_tercero": FieldPayerName,

		"fecha_transmision": FieldTransmissionDate,
		"fechatransmision":  FieldTransmissionDate,
		"fch_transmision":   FieldTransmissionDate,
		"fch_transm":        FieldTransmissionDate,
		"fecha_tra":         FieldTransmissionDate,
		"fecha_transm":      FieldTransmissionDate,
		"fch_tra":           FieldTransmissionDate,
		"fecha_trasm":       FieldTransmissionDate,

		"banco":     FieldBankName,
		"banco_pld": FieldBankName,

		"tipo_cta":    FieldAccountType,
		"tipocta":     FieldAccountType,
		"tipo_cuenta": FieldAccountType,

		"num_cta":    FieldAccountNumber,
		"numcta":     FieldAccountNumber,
		"num_cuenta": FieldAccountNumber,

		// the bank sometimes appends the day of month to the payment column
		"fch_pago":    FieldPaymentDate,
		"fchpago":     FieldPaymentDate,
		"fecha_pago":  FieldPaymentDate,
		"fechapago":   FieldPaymentDate,
		"fch_pago_26": FieldPaymentDate,

		"observaciones": FieldNotes,
	}
}

type synonymsFile struct {
	Synonyms map[string]string `yaml:"synonyms"`
}

// LoadSynonyms reads a YAML file of extra header spellings and merges it over
// DefaultSynonyms. An empty path returns the defaults.
func LoadSynonyms(path string) (Synonyms, error) {
	synonyms := DefaultSynonyms()
	if path == "" {
		return synonyms, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read synonyms file: %w", err)
	}

	var file synonymsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse synonyms file: %w", err)
	}

	for header, field := range file.Synonyms {
		field = strings.TrimSpace(field)
		if field == "" {
			return nil, fmt.Errorf("synonym %q maps to an empty field", header)
		}
		synonyms[header] = field
	}

	return synonyms, nil
}

// HeaderNormalizer turns raw header text into canonical field names.
// It is safe for concurrent use; the synonym table is copied at construction.
type HeaderNormalizer struct {
	synonyms  map[string]string
	canonical map[string]struct{}
}

// NewHeaderNormalizer builds a normalizer over the given table. Keys are
// normalized with the same rules as headers, so they may be written as they
// appear in the sheet.
func NewHeaderNormalizer(synonyms Synonyms) *HeaderNormalizer {
	n := &HeaderNormalizer{
		synonyms:  make(map[string]string, len(synonyms)),
		canonical: make(map[string]struct{}, len(synonyms)),
	}
	for key, field := range synonyms {
		n.synonyms[fold(key)] = field
		n.canonical[field] = struct{}{}
	}
	return n
}

// Normalize returns the canonical name for header, or the folded header
// itself when no synonym matches.
func (n *HeaderNormalizer) Normalize(header string) string {
	key := fold(header)
	if field, ok := n.synonyms[key]; ok {
		return field
	}
	return key
}

// NormalizeAll normalizes a header row, preserving positions.
func (n *HeaderNormalizer) NormalizeAll(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = n.Normalize(h)
	}
	return out
}

// Validate checks that the raw header row covers every required field.
func (n *HeaderNormalizer) Validate(headers []string) error {
	found := n.NormalizeAll(headers)

	var missing []string
	for _, field := range RequiredFields {
		if !slices.Contains(found, field) {
			missing = append(missing, field)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var unmapped []string
	for i, field := range found {
		if _, ok := n.canonical[field]; !ok && field != "" {
			unmapped = append(unmapped, headers[i])
		}
	}

	suggestions := make(map[string]string)
	for _, field := range missing {
		if s := closestHeader(field, unmapped); s != "" {
			suggestions[field] = s
		}
	}

	return &SchemaError{
		Reason:      "missing required columns",
		Missing:     missing,
		Found:       found,
		Suggestions: suggestions,
	}
}

// closestHeader picks the unmapped header most likely meant as field.
func closestHeader(field string, candidates []string) string {
	best, bestDist := "", -1
	for _, c := range candidates {
		key := fold(c)
		if !fuzzy.MatchNormalizedFold(key, field) && !fuzzy.MatchNormalizedFold(field, key) {
			continue
		}
		d := fuzzy.LevenshteinDistance(key, field)
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// fold lower-cases s, strips accents and reduces separators to single
// underscores, keeping only [a-z0-9_].
func fold(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if folded, _, err := transform.String(accentFolder, s); err == nil {
		s = folded
	}

	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		case r == '_' || unicode.IsSpace(r) || unicode.IsPunct(r):
			pendingSep = true
		}
	}
	return b.String()
}

// SchemaError reports a workbook whose structure cannot be imported.
type SchemaError struct {
	Reason      string            `json:"reason,omitempty"`
	Missing     []string          `json:"missing,omitempty"`
	Found       []string          `json:"found,omitempty"`
	Suggestions map[string]string `json:"suggestions,omitempty"`
}

func (e *SchemaError) Error() string {
	if len(e.Missing) == 0 {
		return "schema error: " + e.Reason
	}

	msg := fmt.Sprintf("schema error: %s: %s", e.Reason, strings.Join(e.Missing, ", "))
	if len(e.Suggestions) > 0 {
		keys := make([]string, 0, len(e.Suggestions))
		for k := range e.Suggestions {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		hints := make([]string, 0, len(keys))
		for _, k := range keys {
			hints = append(hints, fmt.Sprintf("%s (did you mean %q?)", k, e.Suggestions[k]))
		}
		msg += "; " + strings.Join(hints, ", ")
	}
	return msg
}
