package domain

import (
	"strconv"
	"strings"
)

// CellKind identifies the type of value held by a spreadsheet cell.
type CellKind int

const (
	CellBlank CellKind = iota
	CellString
	CellNumber
)

// Cell is a single decoded spreadsheet value.
type Cell struct {
	Kind   CellKind
	Text   string
	Number float64
}

// StringCell builds a text cell. Whitespace-only text becomes a blank cell.
func StringCell(s string) Cell {
	if strings.TrimSpace(s) == "" {
		return Cell{Kind: CellBlank}
	}
	return Cell{Kind: CellString, Text: s}
}

// NumberCell builds a numeric cell.
func NumberCell(n float64) Cell {
	return Cell{Kind: CellNumber, Number: n, Text: strconv.FormatFloat(n, 'f', -1, 64)}
}

// IsBlank reports whether the cell carries no value.
func (c Cell) IsBlank() bool {
	return c.Kind == CellBlank
}

// String returns the trimmed textual form of the cell. Numeric cells keep
// their source text so codes such as "00123" survive.
func (c Cell) String() string {
	switch c.Kind {
	case CellNumber:
		if c.Text != "" {
			return strings.TrimSpace(c.Text)
		}
		return strconv.FormatFloat(c.Number, 'f', -1, 64)
	case CellString:
		return strings.TrimSpace(c.Text)
	default:
		return ""
	}
}

// Row is an ordered sequence of cells.
type Row []Cell

// At returns the cell at index i, or a blank cell when i is out of range.
func (r Row) At(i int) Cell {
	if i < 0 || i >= len(r) {
		return Cell{Kind: CellBlank}
	}
	return r[i]
}

// NonBlank counts the cells that hold a value.
func (r Row) NonBlank() int {
	n := 0
	for _, c := range r {
		if !c.IsBlank() {
			n++
		}
	}
	return n
}
