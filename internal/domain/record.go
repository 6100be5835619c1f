package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Nature classifies a financial line as revenue or cost.
type Nature string

const (
	NatureRevenue Nature = "REVENUE"
	NatureCost    Nature = "COST"
)

// FinancialRecord is one canonical DRE line produced by the record mapper.
// It is not a storage row; the loader turns it into a FactRow.
type FinancialRecord struct {
	ProjectCode        string
	ProjectName        string
	ClientName         string
	ClientType         string // from "tipo", "Mercado" when blank
	AccountCode        string
	AccountDescription string
	AccountGrouping    string
	BusinessLine       string
	Amount             decimal.Decimal // signed
	Nature             Nature
	Year               int
	Month              int
	PeriodLabel        string // raw "periodo" text
	ResourceID         string // optional
	ResourceName       string
	RowNumber          int // 1-based sheet row
	RawFields          map[string]string
}

// Validate checks the invariants every mapped record must hold.
func (r *FinancialRecord) Validate() error {
	if r.Month < 1 || r.Month > 12 {
		return fmt.Errorf("row %d: month %d out of range", r.RowNumber, r.Month)
	}
	if r.Year < 1900 || r.Year > 9999 {
		return fmt.Errorf("row %d: year %d out of range", r.RowNumber, r.Year)
	}
	if r.Nature != NatureRevenue && r.Nature != NatureCost {
		return fmt.Errorf("row %d: invalid nature %q", r.RowNumber, r.Nature)
	}
	return nil
}

// Period returns the period dimension value for the record.
func (r *FinancialRecord) Period() Period {
	return Period{Year: r.Year, Month: r.Month}
}
