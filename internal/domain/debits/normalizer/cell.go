package normalizer

import (
	"strconv"
	"strings"
	"time"
)

// Kind identifies which variant a Cell holds.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindText
	KindNumber
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	default:
		return "empty"
	}
}

// Cell is a spreadsheet value resolved once into one of Empty, Text, Number or
// Date. Raw keeps the text as stored in the sheet so codes such as "00123"
// survive a numeric classification.
type Cell struct {
	kind Kind
	raw  string
	num  float64
	date time.Time
}

// EmptyCell returns a cell with no value.
func EmptyCell() Cell { return Cell{} }

// TextCell wraps raw text. Blank text yields an empty cell.
func TextCell(raw string) Cell {
	if strings.TrimSpace(raw) == "" {
		return Cell{}
	}
	return Cell{kind: KindText, raw: raw}
}

// NumberCell wraps a numeric value.
func NumberCell(v float64) Cell {
	return Cell{kind: KindNumber, raw: strconv.FormatFloat(v, 'f', -1, 64), num: v}
}

// DateCell wraps a structured date/time value.
func DateCell(t time.Time) Cell {
	return Cell{kind: KindDate, raw: t.Format(time.RFC3339), date: t}
}

// ClassifyText turns untyped sheet text into a cell: numeric-looking text
// becomes a Number that keeps its original spelling.
func ClassifyText(raw string) Cell {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Cell{}
	}
	if v, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return Cell{kind: KindNumber, raw: trimmed, num: v}
	}
	return Cell{kind: KindText, raw: raw}
}

// Kind reports the variant held by c.
func (c Cell) Kind() Kind { return c.kind }

// IsEmpty reports whether c holds no value.
func (c Cell) IsEmpty() bool { return c.kind == KindEmpty }

// Number returns the numeric value of a Number cell.
func (c Cell) Number() (float64, bool) {
	return c.num, c.kind == KindNumber
}

// Date returns the value of a Date cell.
func (c Cell) Date() (time.Time, bool) {
	return c.date, c.kind == KindDate
}

// String returns the trimmed text of the cell as it appeared in the sheet.
func (c Cell) String() string {
	if c.kind == KindDate {
		return c.date.Format("2006-01-02")
	}
	return strings.TrimSpace(c.raw)
}
