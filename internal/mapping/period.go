package mapping

import (
	"regexp"
	"strings"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/xuri/excelize/v2"
)

var (
	yearPattern  = regexp.MustCompile(`\b(20\d{2})\b`)
	monthPattern = regexp.MustCompile(`\b(0?[1-9]|1[0-2])\b`)
	monthNames   = regexp.MustCompile(`\b(jan|fev|mar|abr|mai|jun|jul|ago|set|out|nov|dez)`)
)

var monthByAbbrev = map[string]int{
	"jan": 1, "fev": 2, "mar": 3, "abr": 4, "mai": 5, "jun": 6,
	"jul": 7, "ago": 8, "set": 9, "out": 10, "nov": 11, "dez": 12,
}

// Excel serial day numbers for 1954-10-04 and 2119-01-06. Numeric period cells
// inside this window are treated as dates rather than text.
const (
	minDateSerial = 20000
	maxDateSerial = 80000
)

// periodResult carries the parsed period and whether any part fell back to the clock.
type periodResult struct {
	Year, Month   int
	YearFallback  bool
	MonthFallback bool
}

func (p periodResult) fellBack() bool { return p.YearFallback || p.MonthFallback }

// ExtractPeriod derives year and month from a period cell.
// Text is matched for a 20xx year, then a 1-12 month number, then a Portuguese month
// abbreviation. Missing parts fall back to now.
func ExtractPeriod(c domain.Cell, now time.Time) (year, month int, fellBack bool) {
	p := extractPeriod(c, now)
	return p.Year, p.Month, p.fellBack()
}

func extractPeriod(c domain.Cell, now time.Time) periodResult {
	if c.Kind == domain.CellNumber && c.Number >= minDateSerial && c.Number < maxDateSerial {
		if t, err := excelize.ExcelDateToTime(c.Number, false); err == nil {
			return periodResult{Year: t.Year(), Month: int(t.Month())}
		}
	}

	text := c.String()
	res := periodResult{}

	rest := text
	if loc := yearPattern.FindStringSubmatchIndex(text); loc != nil {
		res.Year = atoi(text[loc[2]:loc[3]])
		rest = text[:loc[0]] + " " + text[loc[1]:]
	}

	if m := monthPattern.FindStringSubmatch(rest); m != nil {
		res.Month = atoi(m[1])
	} else if m := monthNames.FindStringSubmatch(foldText(rest)); m != nil {
		res.Month = monthByAbbrev[m[1]]
	}

	if res.Year == 0 {
		res.Year = now.Year()
		res.YearFallback = true
	}
	if res.Month == 0 {
		res.Month = int(now.Month())
		res.MonthFallback = true
	}
	return res
}

// foldText lower-cases and strips accents while keeping separators, so word boundaries survive.
func foldText(s string) string {
	var b strings.Builder
	for _, word := range strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '/' || r == '-' || r == '.' }) {
		b.WriteString(NormalizeKey(word))
		b.WriteByte(' ')
	}
	return b.String()
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
