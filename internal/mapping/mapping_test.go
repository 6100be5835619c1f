package mapping

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/config"
	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/shopspring/decimal"
)

func textRow(values ...string) domain.Row {
	row := make(domain.Row, len(values))
	for i, v := range values {
		row[i] = domain.StringCell(v)
	}
	return row
}

func mustRegistry(t *testing.T, extra ...config.ProfileConfig) *Registry {
	t.Helper()
	r, err := NewRegistry(extra)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Linha Negócio", "linhanegocio"},
		{"Responsável Área", "responsavelarea"},
		{"  DENOMINAÇÃO_CONTA ", "denominacaoconta"},
		{"Período", "periodo"},
		{"Lançamento", "lancamento"},
		{"ID HOMS", "idhoms"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeKey(tt.in); got != tt.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHeaderNormalizer_Normalize(t *testing.T) {
	n := NewHeaderNormalizer(mustRegistry(t))
	header := textRow("Projeto", "Coluna Extra", "Conta Resumo", "Período", "Lançamento", "Natureza", "projeto", "")

	hm, err := n.Normalize(header, "dre")
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	want := map[int]domain.Field{
		0: domain.FieldProjeto,
		2: domain.FieldContaResumo,
		3: domain.FieldPeriodo,
		4: domain.FieldLancamento,
		5: domain.FieldNatureza,
	}
	if len(hm) != len(want) {
		t.Fatalf("len(HeaderMap) = %d, want %d: %v", len(hm), len(want), hm)
	}
	for i, f := range want {
		if hm[i] != f {
			t.Errorf("column %d = %v, want %v", i, hm[i], f)
		}
	}

	again, _ := n.Normalize(header, "dre")
	for i, f := range hm {
		if again[i] != f {
			t.Error("Normalize is not deterministic")
		}
	}

	if _, err := n.Normalize(header, "nope"); err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestNewRegistry_ConfiguredProfiles(t *testing.T) {
	r := mustRegistry(t, config.ProfileConfig{
		Name:    "dre-v2",
		Extends: "dre",
		Headers: map[string]string{"Valor Lançado": "lancamento"},
	})

	p, err := r.Get("dre-v2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if f, ok := p.Lookup("valorlancado"); !ok || f != domain.FieldLancamento {
		t.Errorf("Lookup(valorlancado) = %v, %v", f, ok)
	}
	if f, ok := p.Lookup("contaresumo"); !ok || f != domain.FieldContaResumo {
		t.Error("extended profile lost base headers")
	}

	base, _ := r.Get("dre")
	if _, ok := base.Lookup("valorlancado"); ok {
		t.Error("extending a profile mutated the base profile")
	}

	if _, err := NewRegistry([]config.ProfileConfig{{Name: "x", Headers: map[string]string{"a": "bogus"}}}); err == nil {
		t.Error("expected error for unknown canonical field")
	}
	if _, err := NewRegistry([]config.ProfileConfig{{Name: "x", Extends: "missing"}}); err == nil {
		t.Error("expected error for unknown base profile")
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1.234,56", "1234.56", true},
		{"1.500,00", "1500", true},
		{"R$ 2.000,10", "2000.1", true},
		{"-1.234,56", "-1234.56", true},
		{"(100,00)", "-100", true},
		{"1,234.56", "1234.56", true},
		{"1234,5", "1234.5", true},
		{"1.234", "1234", true},
		{"1.234.567", "1234567", true},
		{"1.5", "1.5", true},
		{"1.234.567,89", "1234567.89", true},
		{"abc", "0", false},
		{"", "0", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseAmount(tt.in)
			if ok != tt.ok {
				t.Errorf("ok = %v, want %v", ok, tt.ok)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestClassifyNature(t *testing.T) {
	tests := []struct {
		text   string
		amount string
		want   domain.Nature
	}{
		{"RECEITA", "-10", domain.NatureRevenue},
		{"Receita Bruta", "10", domain.NatureRevenue},
		{"CUSTO", "10", domain.NatureCost},
		{"Despesa", "10", domain.NatureCost},
		{"", "-5", domain.NatureCost},
		{"OUTROS", "5", domain.NatureRevenue},
	}

	for _, tt := range tests {
		got := ClassifyNature(tt.text, decimal.RequireFromString(tt.amount))
		if got != tt.want {
			t.Errorf("ClassifyNature(%q, %s) = %s, want %s", tt.text, tt.amount, got, tt.want)
		}
	}
}

func TestExtractPeriod(t *testing.T) {
	now := time.Date(2025, time.July, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		cell     domain.Cell
		year     int
		month    int
		fellBack bool
	}{
		{"mm/yyyy", domain.StringCell("03/2024"), 2024, 3, false},
		{"yyyy-mm", domain.StringCell("2024-11"), 2024, 11, false},
		{"single digit month", domain.StringCell("2/2023"), 2023, 2, false},
		{"pt month name", domain.StringCell("Março/2024"), 2024, 3, false},
		{"pt month abbrev", domain.StringCell("dez 2023"), 2023, 12, false},
		{"year only", domain.StringCell("2024"), 2024, 7, true},
		{"garbage", domain.StringCell("n/a"), 2025, 7, true},
		{"blank", domain.Cell{}, 2025, 7, true},
		{"excel serial", domain.NumberCell(45352), 2024, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			y, m, fb := ExtractPeriod(tt.cell, now)
			if y != tt.year || m != tt.month || fb != tt.fellBack {
				t.Errorf("ExtractPeriod() = %d/%d fallback=%v, want %d/%d fallback=%v", y, m, fb, tt.year, tt.month, tt.fellBack)
			}
		})
	}
}

func dreHeaders() HeaderMap {
	return HeaderMap{
		0: domain.FieldProjeto,
		1: domain.FieldCliente,
		2: domain.FieldContaResumo,
		3: domain.FieldDenominacaoConta,
		4: domain.FieldPeriodo,
		5: domain.FieldLancamento,
		6: domain.FieldNatureza,
		7: domain.FieldIDRecurso,
		8: domain.FieldRecurso,
		9: domain.FieldTipo,
	}
}

func TestRecordMapper_MapRow(t *testing.T) {
	now := time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC)
	m := NewRecordMapper(mustRegistry(t), MapperOptions{Now: func() time.Time { return now }})

	row := textRow("P001 - Projeto Alpha", "ACME", "4.1.01", "Receita de Serviços", "03/2024", "1.500,00", "RECEITA", "", "", "")
	rec, err := m.MapRow(row, dreHeaders(), "dre")
	if err != nil {
		t.Fatalf("MapRow() error = %v", err)
	}
	if rec == nil {
		t.Fatal("MapRow() skipped a valid row")
	}

	if !rec.Amount.Equal(decimal.RequireFromString("1500.00")) {
		t.Errorf("Amount = %s, want 1500.00", rec.Amount)
	}
	if rec.Nature != domain.NatureRevenue {
		t.Errorf("Nature = %s, want REVENUE", rec.Nature)
	}
	if rec.Year != 2024 || rec.Month != 3 {
		t.Errorf("period = %d/%d, want 2024/3", rec.Year, rec.Month)
	}
	if rec.ProjectCode != "P001" || rec.ProjectName != "Projeto Alpha" {
		t.Errorf("project = %q / %q", rec.ProjectCode, rec.ProjectName)
	}
	if rec.ClientType != domain.DefaultClientType {
		t.Errorf("ClientType = %q, want %q", rec.ClientType, domain.DefaultClientType)
	}
	if rec.RawFields["lancamento"] != "1.500,00" {
		t.Errorf("RawFields[lancamento] = %q", rec.RawFields["lancamento"])
	}
	if err := rec.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestRecordMapper_SkipRules(t *testing.T) {
	m := NewRecordMapper(mustRegistry(t), MapperOptions{})

	tests := []struct {
		name   string
		row    domain.Row
		reason string
	}{
		{
			name:   "blank lancamento",
			row:    textRow("P001", "ACME", "4.1.01", "Receita", "03/2024", "", "RECEITA"),
			reason: SkipMissingRequired + ": lancamento",
		},
		{
			name:   "blank natureza",
			row:    textRow("P001", "ACME", "4.1.01", "Receita", "03/2024", "10,00", "  "),
			reason: SkipMissingRequired + ": natureza",
		},
		{
			name:   "no project",
			row:    textRow("", "ACME", "4.1.01", "Receita", "03/2024", "10,00", "RECEITA"),
			reason: SkipMissingProject,
		},
		{
			name:   "no account",
			row:    textRow("P001", "ACME", "", "", "03/2024", "10,00", "RECEITA"),
			reason: SkipMissingAccount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := m.MapRowAt(tt.row, 7, dreHeaders(), "dre")
			if err != nil {
				t.Fatalf("MapRowAt() error = %v", err)
			}
			if !out.Skipped() {
				t.Fatal("expected row to be skipped")
			}
			if out.SkipReason != tt.reason {
				t.Errorf("SkipReason = %q, want %q", out.SkipReason, tt.reason)
			}

			rec, err := m.MapRow(tt.row, dreHeaders(), "dre")
			if rec != nil || err != nil {
				t.Errorf("MapRow() = %v, %v; want nil, nil", rec, err)
			}
		})
	}
}

func TestRecordMapper_RequiredFieldsSkipRegardlessOfOtherColumns(t *testing.T) {
	m := NewRecordMapper(mustRegistry(t), MapperOptions{})
	present := [5]string{"P001", "ACME", "4.1.01", "Receita", "03/2024"}

	cases := []struct {
		name       string
		lancamento string
		natureza   string
		reasons    []string
	}{
		{"blank lancamento", "", "RECEITA", []string{SkipMissingRequired + ": lancamento"}},
		{"whitespace lancamento", "   ", "RECEITA", []string{SkipMissingRequired + ": lancamento"}},
		{"blank natureza", "10,00", "", []string{SkipMissingRequired + ": natureza"}},
		{"whitespace natureza", "10,00", " \t", []string{SkipMissingRequired + ": natureza"}},
		{"both blank", "", "", []string{SkipMissingRequired + ": lancamento", SkipMissingRequired + ": natureza"}},
	}

	for _, tc := range cases {
		for mask := 0; mask < 1<<len(present); mask++ {
			values := make([]string, 0, len(present)+2)
			for i, v := range present {
				if mask&(1<<i) != 0 {
					v = ""
				}
				values = append(values, v)
			}
			values = append(values, tc.lancamento, tc.natureza)

			t.Run(fmt.Sprintf("%s/blank=%05b", tc.name, mask), func(t *testing.T) {
				out, err := m.MapRowAt(textRow(values...), 9, dreHeaders(), "dre")
				if err != nil {
					t.Fatalf("MapRowAt() error = %v", err)
				}
				if !out.Skipped() {
					t.Fatalf("row %q was not skipped", values)
				}
				if !slices.Contains(tc.reasons, out.SkipReason) {
					t.Errorf("SkipReason = %q, want one of %q", out.SkipReason, tc.reasons)
				}
			})
		}
	}
}

func TestRecordMapper_StrictPeriod(t *testing.T) {
	row := textRow("P001", "ACME", "4.1.01", "Receita", "sem data", "10,00", "RECEITA")

	lenient := NewRecordMapper(mustRegistry(t), MapperOptions{})
	out, _ := lenient.MapRowAt(row, 2, dreHeaders(), "dre")
	if out.Skipped() || !out.PeriodFallback {
		t.Errorf("lenient mapper: skipped=%v fallback=%v", out.Skipped(), out.PeriodFallback)
	}

	strict := NewRecordMapper(mustRegistry(t), MapperOptions{StrictPeriod: true})
	out, _ = strict.MapRowAt(row, 2, dreHeaders(), "dre")
	if !out.Skipped() || out.SkipReason != SkipInvalidPeriod {
		t.Errorf("strict mapper: skipped=%v reason=%q", out.Skipped(), out.SkipReason)
	}
}

func TestRecordMapper_FinancialProfile(t *testing.T) {
	m := NewRecordMapper(mustRegistry(t), MapperOptions{})
	n := NewHeaderNormalizer(mustRegistry(t))

	header := textRow("Código", "Descrição", "Valor", "Período", "Tipo")
	hm, err := n.Normalize(header, "financial")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	out, err := m.MapRowAt(textRow("3.1", "Folha", "(2.500,00)", "05/2024", "Despesa"), 2, hm, "financial")
	if err != nil {
		t.Fatalf("MapRowAt: %v", err)
	}
	if out.Skipped() {
		t.Fatalf("row skipped: %s", out.SkipReason)
	}
	rec := out.Record
	if rec.ProjectCode != "GERAL" || rec.AccountCode != "3.1" || rec.Nature != domain.NatureCost {
		t.Errorf("record = %+v", rec)
	}
	if !rec.Amount.Equal(decimal.RequireFromString("-2500")) {
		t.Errorf("Amount = %s, want -2500", rec.Amount)
	}
}

func TestSplitProject(t *testing.T) {
	tests := []struct {
		code, project, wantCode, wantName string
	}{
		{"C1", "Alpha", "C1", "Alpha"},
		{"C1", "", "C1", "C1"},
		{"", "P9 - Beta", "P9", "Beta"},
		{"", "Gamma", "Gamma", "Gamma"},
		{"", "", "", ""},
	}

	for _, tt := range tests {
		c, n := splitProject(tt.code, tt.project)
		if c != tt.wantCode || n != tt.wantName {
			t.Errorf("splitProject(%q, %q) = %q, %q", tt.code, tt.project, c, n)
		}
	}
}
