package mapping

import (
	"strings"
	"unicode"

	"github.com/dvloznov/dre-pipeline/internal/domain"
	"golang.org/x/text/unicode/norm"
)

// NormalizeKey folds a raw header into its lookup key: accents removed,
// lower-cased, and everything outside [a-z0-9] dropped. "Linha Negócio" -> "linhanegocio".
func NormalizeKey(raw string) string {
	decomposed := norm.NFD.String(raw)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// HeaderMap maps a column index to its canonical field.
type HeaderMap map[int]domain.Field

// Column returns the index of the column mapped to f.
func (h HeaderMap) Column(f domain.Field) (int, bool) {
	best := -1
	for i, field := range h {
		if field == f && (best == -1 || i < best) {
			best = i
		}
	}
	return best, best >= 0
}

// Has reports whether any column maps to f.
func (h HeaderMap) Has(f domain.Field) bool {
	_, ok := h.Column(f)
	return ok
}

// HeaderNormalizer maps raw header rows onto canonical fields using a profile registry.
type HeaderNormalizer struct {
	registry *Registry
}

func NewHeaderNormalizer(registry *Registry) *HeaderNormalizer {
	return &HeaderNormalizer{registry: registry}
}

// Normalize builds the column map for header. Unknown headers are dropped;
// when two columns resolve to the same field the leftmost wins.
func (n *HeaderNormalizer) Normalize(header domain.Row, profile string) (HeaderMap, error) {
	p, err := n.registry.Get(profile)
	if err != nil {
		return nil, err
	}

	out := HeaderMap{}
	taken := map[domain.Field]bool{}
	for i, cell := range header {
		if cell.IsBlank() {
			continue
		}
		f, ok := p.Lookup(NormalizeKey(cell.String()))
		if !ok || taken[f] {
			continue
		}
		taken[f] = true
		out[i] = f
	}
	return out, nil
}
