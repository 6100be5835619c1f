package mapping

import (
	"strings"

	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/shopspring/decimal"
)

// ParseAmount converts a localized money string to a decimal.
// "R$ 1.234,56" -> 1234.56, "(100,00)" -> -100, "1,234.56" -> 1234.56.
// The last of '.' or ',' is the decimal separator when both appear. A lone ','
// is decimal; a lone '.' followed by exactly three digits is a thousands mark.
// Unparseable input yields zero and ok=false.
func ParseAmount(s string) (d decimal.Decimal, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	s = strings.NewReplacer("R$", "", "$", "", " ", "", "\u00a0", "").Replace(s)
	if strings.HasSuffix(s, "-") {
		negative = !negative
		s = strings.TrimSuffix(s, "-")
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		if strings.Count(s, ".") > 1 || len(s)-lastDot-1 == 3 {
			s = strings.ReplaceAll(s, ".", "")
		}
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

// amountFromCell uses numeric cells directly and parses text otherwise.
func amountFromCell(c domain.Cell) (decimal.Decimal, bool) {
	if c.Kind == domain.CellNumber {
		return decimal.NewFromFloat(c.Number), true
	}
	return ParseAmount(c.String())
}

// ClassifyNature maps the natureza text to a Nature, falling back to the amount's sign.
func ClassifyNature(text string, amount decimal.Decimal) domain.Nature {
	t := strings.ToUpper(NormalizeKey(text))
	switch {
	case strings.Contains(t, "RECEITA"), strings.Contains(t, "REVENUE"):
		return domain.NatureRevenue
	case strings.Contains(t, "CUSTO"), strings.Contains(t, "DESPESA"),
		strings.Contains(t, "COST"), strings.Contains(t, "EXPENSE"):
		return domain.NatureCost
	}
	if amount.Sign() < 0 {
		return domain.NatureCost
	}
	return domain.NatureRevenue
}
