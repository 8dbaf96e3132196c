package parser

import (
	"bytes"
	"time"

	"github.com/shakinm/xlsReader/xls"
	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/normalizer"
)

var (
	ole2Signature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	zipSignature  = []byte("PK\x03\x04")
)

// sheet is the first worksheet of a workbook as typed cells; rows[i] is sheet row i+1.
type sheet struct {
	name   string
	format Format
	rows   [][]normalizer.Cell
}

func readFirstSheet(data []byte) (*sheet, error) {
	switch {
	case len(data) == 0:
		return nil, unreadable("empty file")
	case bytes.HasPrefix(data, ole2Signature):
		return readXLS(data)
	case bytes.HasPrefix(data, zipSignature):
		return readXLSX(data)
	default:
		return nil, unreadable("unsupported file format")
	}
}

func readXLSX(data []byte) (*sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, unreadable("failed to open xlsx: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, unreadable("workbook has no sheets")
	}
	name := sheets[0]

	raw, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, unreadable("failed to read sheet %s: %v", name, err)
	}

	rows := make([][]normalizer.Cell, len(raw))
	for r, values := range raw {
		cells := make([]normalizer.Cell, len(values))
		for c, value := range values {
			axis, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, unreadable("bad cell reference: %v", err)
			}
			typ, err := f.GetCellType(name, axis)
			if err != nil {
				return nil, unreadable("failed to read cell %s: %v", axis, err)
			}
			cells[c] = xlsxCell(typ, value)
		}
		rows[r] = cells
	}

	return &sheet{name: name, format: FormatXLSX, rows: rows}, nil
}

// xlsxCell resolves a raw xlsx value using the cell's stored type. Numeric
// cells have no explicit type in most writers, so unset is treated as number.
func xlsxCell(typ excelize.CellType, value string) normalizer.Cell {
	switch typ {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString,
		excelize.CellTypeFormula, excelize.CellTypeBool, excelize.CellTypeError:
		return normalizer.TextCell(value)
	case excelize.CellTypeDate:
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, value); err == nil {
				return normalizer.DateCell(t)
			}
		}
		return normalizer.ClassifyText(value)
	default:
		c := normalizer.ClassifyText(value)
		if c.Kind() == normalizer.KindNumber {
			return c
		}
		return normalizer.TextCell(value)
	}
}

func readXLS(data []byte) (*sheet, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, unreadable("failed to open xls: %v", err)
	}
	if len(wb.GetSheets()) == 0 {
		return nil, unreadable("workbook has no sheets")
	}

	ws, err := wb.GetSheet(0)
	if err != nil {
		return nil, unreadable("failed to read first sheet: %v", err)
	}

	var rows [][]normalizer.Cell
	for _, row := range ws.GetRows() {
		var cells []normalizer.Cell
		for _, col := range row.GetCols() {
			if col == nil {
				cells = append(cells, normalizer.EmptyCell())
				continue
			}
			// BIFF cells carry no reliable type through the reader, so classify by content
			cells = append(cells, normalizer.ClassifyText(col.GetString()))
		}
		rows = append(rows, cells)
	}

	return &sheet{name: ws.GetName(), format: FormatXLS, rows: rows}, nil
}
