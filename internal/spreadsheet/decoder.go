// Package spreadsheet decodes the first sheet of an XLSX export into rows of typed cells.
package spreadsheet

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/xuri/excelize/v2"
)

const (
	defaultHeaderScanRows = 10
	defaultMinHeaderCells = 3
)

var plainNumber = regexp.MustCompile(`^-?\d+(\.\d+)?([eE][-+]?\d+)?$`)

// Decoder opens workbooks. The zero value is not usable; call NewDecoder.
type Decoder struct {
	// HeaderScanRows bounds how many leading rows are searched for the header.
	HeaderScanRows int
	// MinHeaderCells is the minimum number of non-blank cells a header row must have.
	MinHeaderCells int
}

// NewDecoder returns a decoder with default header detection.
func NewDecoder() *Decoder {
	return &Decoder{
		HeaderScanRows: defaultHeaderScanRows,
		MinHeaderCells: defaultMinHeaderCells,
	}
}

// Decode opens data as a workbook and positions it after the header row of the first sheet.
// Zero sheets, an empty first sheet, or unreadable bytes yield a *domain.MalformedFileError.
func (d *Decoder) Decode(data []byte) (*Workbook, error) {
	if len(data) == 0 {
		return nil, &domain.MalformedFileError{Reason: "file is empty"}
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &domain.MalformedFileError{Reason: "not a readable workbook", Err: err}
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, &domain.MalformedFileError{Reason: "workbook has no sheets"}
	}
	sheetName := sheets[0]

	rows, err := f.Rows(sheetName)
	if err != nil {
		f.Close()
		return nil, &domain.MalformedFileError{Reason: fmt.Sprintf("reading sheet %q", sheetName), Err: err}
	}

	wb := &Workbook{SheetName: sheetName, file: f, rows: rows}

	scan := d.HeaderScanRows
	if scan <= 0 {
		scan = defaultHeaderScanRows
	}
	minCells := d.MinHeaderCells
	if minCells <= 0 {
		minCells = defaultMinHeaderCells
	}

	sawData := false
	for i := 0; i < scan; i++ {
		row, ok := wb.read()
		if !ok {
			break
		}
		if row.NonBlank() > 0 {
			sawData = true
		}
		if row.NonBlank() >= minCells {
			wb.header = row
			wb.headerRow = wb.rowNum
			return wb, nil
		}
	}

	wb.Close()
	if wb.err != nil {
		return nil, &domain.MalformedFileError{Reason: fmt.Sprintf("reading sheet %q", sheetName), Err: wb.err}
	}
	if !sawData {
		return nil, &domain.MalformedFileError{Reason: fmt.Sprintf("sheet %q is empty", sheetName)}
	}
	return nil, &domain.MalformedFileError{Reason: fmt.Sprintf("no header row found in the first %d rows of sheet %q", scan, sheetName)}
}

// Workbook is a single-pass cursor over the data rows of the first sheet.
// Iterating again requires decoding the bytes again.
type Workbook struct {
	SheetName string

	file      *excelize.File
	rows      *excelize.Rows
	header    domain.Row
	headerRow int
	rowNum    int
	err       error
	closed    bool
}

// Header returns the detected header row.
func (w *Workbook) Header() domain.Row {
	return w.header
}

// HeaderRowNumber is the 1-based sheet row of the header.
func (w *Workbook) HeaderRowNumber() int {
	return w.headerRow
}

// Next returns the next non-blank data row and its 1-based sheet row number.
func (w *Workbook) Next() (domain.Row, int, bool) {
	for {
		row, ok := w.read()
		if !ok {
			return nil, 0, false
		}
		if row.NonBlank() == 0 {
			continue
		}
		return row, w.rowNum, true
	}
}

// Err returns the first read error hit by Next.
func (w *Workbook) Err() error {
	return w.err
}

// Close releases the underlying workbook.
func (w *Workbook) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var firstErr error
	if w.rows != nil {
		firstErr = w.rows.Close()
	}
	if err := w.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (w *Workbook) read() (domain.Row, bool) {
	if w.closed || w.err != nil || !w.rows.Next() {
		if w.rows != nil && w.err == nil {
			w.err = w.rows.Error()
		}
		return nil, false
	}
	cols, err := w.rows.Columns(excelize.Options{RawCellValue: true})
	if err != nil {
		w.err = err
		return nil, false
	}
	w.rowNum++

	row := make(domain.Row, len(cols))
	for i, v := range cols {
		row[i] = toCell(v, w.numeric(i))
	}
	return row, true
}

// numeric reports whether column col of the current row is stored as a
// number. Text cells such as "1.500" stay text so the amount parser sees
// them as written.
func (w *Workbook) numeric(col int) bool {
	name, err := excelize.CoordinatesToCellName(col+1, w.rowNum)
	if err != nil {
		return false
	}
	typ, err := w.file.GetCellType(w.SheetName, name)
	if err != nil {
		return false
	}
	return typ == excelize.CellTypeUnset || typ == excelize.CellTypeNumber
}

func toCell(v string, numeric bool) domain.Cell {
	t := strings.TrimSpace(v)
	if t == "" {
		return domain.Cell{Kind: domain.CellBlank}
	}
	if numeric && plainNumber.MatchString(t) {
		if n, err := strconv.ParseFloat(t, 64); err == nil {
			return domain.Cell{Kind: domain.CellNumber, Number: n, Text: t}
		}
	}
	return domain.StringCell(v)
}
