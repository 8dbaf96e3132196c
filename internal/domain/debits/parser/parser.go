// Package parser turns a bank debit-collection workbook into canonical rows.
// It reads only the first sheet, treats the first row as the header and every
// following non-blank row as one collection attempt.
package parser

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/normalizer"
)

// ErrUnreadableWorkbook is returned when the bytes are not a workbook we can open.
var ErrUnreadableWorkbook = errors.New("unreadable workbook")

// Format is the container format of an uploaded workbook.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
)

// CanonicalRow is one data row after header normalization and coercion.
type CanonicalRow struct {
	SourceRow           int               `json:"source_row"`
	RawStatus           string            `json:"raw_status"`
	Currency            string            `json:"currency"`
	PaymentMethod       string            `json:"payment_method"`
	Amount              decimal.Decimal   `json:"amount"`
	ExternalAccountCode string            `json:"external_account_code"`
	PayerName           string            `json:"payer_name,omitempty"`
	TransmissionDate    *time.Time        `json:"transmission_date,omitempty"`
	PaymentDate         *time.Time        `json:"payment_date,omitempty"`
	BankName            string            `json:"bank_name,omitempty"`
	AccountType         string            `json:"account_type,omitempty"`
	AccountNumber       string            `json:"account_number,omitempty"`
	Notes               string            `json:"notes,omitempty"`
	Extra               map[string]string `json:"extra,omitempty"`
}

// ParsedWorkbook is the in-memory result of parsing one upload.
type ParsedWorkbook struct {
	SourceFileName string         `json:"source_file_name"`
	SheetName      string         `json:"sheet_name"`
	Format         Format         `json:"format"`
	Headers        []string       `json:"headers"`
	Rows           []CanonicalRow `json:"rows"`
	ContentHash    string         `json:"content_hash"`
	RowCount       int            `json:"row_count"`
}

// TransmissionDates returns the transmission date of every row in sheet order,
// nil where the date could not be parsed.
func (w *ParsedWorkbook) TransmissionDates() []*time.Time {
	dates := make([]*time.Time, len(w.Rows))
	for i := range w.Rows {
		dates[i] = w.Rows[i].TransmissionDate
	}
	return dates
}

// Config holds the values used when optional columns are blank.
// CurrencyAliases maps the bank's currency spellings, matched without regard
// to case, onto ISO codes.
type Config struct {
	Currency        string
	PaymentMethod   string
	AccountType     string
	CurrencyAliases map[string]string
}

// DefaultConfig returns the defaults used for the bank's debit files.
func DefaultConfig() Config {
	return Config{
		Currency:        "USD",
		PaymentMethod:   "DEBIT",
		AccountType:     "DEBIT",
		CurrencyAliases: DefaultCurrencyAliases(),
	}
}

// DefaultCurrencyAliases returns the spellings the bank uses in the moneda column.
func DefaultCurrencyAliases() map[string]string {
	return map[string]string{
		"DOLAR":   "USD",
		"DOLARES": "USD",
		"DÓLAR":   "USD",
		"DÓLARES": "USD",
		"US$":     "USD",
	}
}

// WorkbookParser parses debit-collection workbooks.
type WorkbookParser struct {
	headers *normalizer.HeaderNormalizer
	config  Config
}

// NewWorkbookParser creates a parser using the given header normalizer.
func NewWorkbookParser(headers *normalizer.HeaderNormalizer, config Config) *WorkbookParser {
	return &WorkbookParser{headers: headers, config: config}
}

// Config returns the defaults applied to blank optional columns.
func (p *WorkbookParser) Config() Config {
	return p.config
}

// Parse reads the first sheet of data. It fails with *normalizer.SchemaError
// when the sheet has no data rows or lacks required columns.
func (p *WorkbookParser) Parse(data []byte, fileName string) (*ParsedWorkbook, error) {
	sheet, err := readFirstSheet(data)
	if err != nil {
		return nil, err
	}

	if len(sheet.rows) == 0 {
		return nil, &normalizer.SchemaError{Reason: "workbook has no header row"}
	}

	rawHeaders := make([]string, len(sheet.rows[0]))
	for i, c := range sheet.rows[0] {
		rawHeaders[i] = c.String()
	}

	dataRows := 0
	for _, row := range sheet.rows[1:] {
		if !isBlank(row) {
			dataRows++
		}
	}
	if dataRows == 0 {
		return nil, &normalizer.SchemaError{Reason: "workbook has no data rows"}
	}

	if err := p.headers.Validate(rawHeaders); err != nil {
		return nil, err
	}
	fields := p.headers.NormalizeAll(rawHeaders)

	rows := make([]CanonicalRow, 0, dataRows)
	for i, cells := range sheet.rows[1:] {
		if isBlank(cells) {
			continue
		}
		// header is sheet row 1, so data index 0 is sheet row 2
		rows = append(rows, p.canonicalize(fields, cells, i+2))
	}

	return &ParsedWorkbook{
		SourceFileName: fileName,
		SheetName:      sheet.name,
		Format:         sheet.format,
		Headers:        fields,
		Rows:           rows,
		ContentHash:    Fingerprint(data),
		RowCount:       len(rows),
	}, nil
}

func (p *WorkbookParser) canonicalize(fields []string, cells []normalizer.Cell, sourceRow int) CanonicalRow {
	values := make(map[string]normalizer.Cell, len(fields))
	for i, field := range fields {
		if field == "" || i >= len(cells) {
			continue
		}
		// first non-empty column mapped to a field wins
		if existing, ok := values[field]; ok && !existing.IsEmpty() {
			continue
		}
		values[field] = cells[i]
	}

	text := func(field string) string {
		return values[field].String()
	}
	orDefault := func(field, fallback string) string {
		if v := text(field); v != "" {
			return v
		}
		return fallback
	}

	row := CanonicalRow{
		SourceRow:           sourceRow,
		RawStatus:           text(normalizer.FieldStatus),
		Currency:            p.currency(orDefault(normalizer.FieldCurrency, p.config.Currency)),
		PaymentMethod:       orDefault(normalizer.FieldPaymentMethod, p.config.PaymentMethod),
		Amount:              parseAmount(values[normalizer.FieldAmount]),
		ExternalAccountCode: text(normalizer.FieldAccountCode),
		PayerName:           text(normalizer.FieldPayerName),
		BankName:            text(normalizer.FieldBankName),
		AccountType:         orDefault(normalizer.FieldAccountType, p.config.AccountType),
		AccountNumber:       text(normalizer.FieldAccountNumber),
		Notes:               text(normalizer.FieldNotes),
	}

	if t, ok := normalizer.ParseDate(values[normalizer.FieldTransmissionDate]); ok {
		row.TransmissionDate = &t
	}
	if t, ok := normalizer.ParseDate(values[normalizer.FieldPaymentDate]); ok {
		row.PaymentDate = &t
	} else if row.TransmissionDate != nil {
		t := *row.TransmissionDate
		row.PaymentDate = &t
	}

	for field, c := range values {
		if isKnownField(field) || c.IsEmpty() {
			continue
		}
		if row.Extra == nil {
			row.Extra = make(map[string]string)
		}
		row.Extra[field] = c.String()
	}

	return row
}

// currency maps a raw currency value onto its ISO code. Unknown values pass through.
func (p *WorkbookParser) currency(raw string) string {
	if iso, ok := p.config.CurrencyAliases[strings.ToUpper(raw)]; ok {
		return iso
	}
	return raw
}

var knownFields = map[string]struct{}{
	normalizer.FieldStatus:           {},
	normalizer.FieldCurrency:         {},
	normalizer.FieldPaymentMethod:    {},
	normalizer.FieldAmount:           {},
	normalizer.FieldAccountCode:      {},
	normalizer.FieldPayerName:        {},
	normalizer.FieldTransmissionDate: {},
	normalizer.FieldPaymentDate:      {},
	normalizer.FieldBankName:         {},
	normalizer.FieldAccountType:      {},
	normalizer.FieldAccountNumber:    {},
	normalizer.FieldNotes:            {},
}

func isKnownField(field string) bool {
	_, ok := knownFields[field]
	return ok
}

// parseAmount reads a collected amount, returning zero when the cell is not a number.
func parseAmount(c normalizer.Cell) decimal.Decimal {
	switch c.Kind() {
	case normalizer.KindNumber:
		if d, err := decimal.NewFromString(c.String()); err == nil {
			return d
		}
		v, _ := c.Number()
		return decimal.NewFromFloat(v)
	case normalizer.KindText:
		if d, ok := parseAmountText(c.String()); ok {
			return d
		}
	}
	return decimal.Zero
}

func parseAmountText(s string) (decimal.Decimal, bool) {
	for _, sym := range []string{"US$", "USD", "$"} {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.Trim(s, "()")
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0 && lastComma > lastDot:
		// 1.234,56
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case lastComma >= 0 && lastDot < 0 && len(s)-lastComma-1 != 3:
		// 12,5 is a decimal comma; 1,234 is a thousands separator
		s = strings.Replace(s, ",", ".", 1)
	default:
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

func isBlank(cells []normalizer.Cell) bool {
	for _, c := range cells {
		if !c.IsEmpty() {
			return false
		}
	}
	return true
}

func unreadable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnreadableWorkbook, fmt.Sprintf(format, args...))
}
