package mapping

import (
	"strings"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/domain"
)

// DefaultClientName is used when a row carries no client.
const DefaultClientName = "NÃO INFORMADO"

// Skip reasons reported for rows that are intentionally excluded.
const (
	SkipMissingRequired = "missing required field"
	SkipMissingProject  = "missing project"
	SkipMissingAccount  = "missing account"
	SkipInvalidPeriod   = "unparseable period"
)

// Outcome is the result of mapping one row. Record is nil when the row was skipped.
type Outcome struct {
	Record         *domain.FinancialRecord
	SkipReason     string
	PeriodFallback bool
	AmountInvalid  bool
}

// Skipped reports whether the row was excluded by a business rule.
func (o Outcome) Skipped() bool {
	return o.Record == nil
}

// MapperOptions configures a RecordMapper.
type MapperOptions struct {
	// Now supplies the fallback date for unparseable periods. Defaults to time.Now.
	Now func() time.Time
	// StrictPeriod skips rows whose period cannot be parsed instead of falling back.
	StrictPeriod bool
}

// RecordMapper turns spreadsheet rows into financial records. It performs no I/O.
type RecordMapper struct {
	registry *Registry
	opts     MapperOptions
}

func NewRecordMapper(registry *Registry, opts MapperOptions) *RecordMapper {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RecordMapper{registry: registry, opts: opts}
}

// MapRow maps a row without a known row number. It returns (nil, nil) for a skipped row.
func (m *RecordMapper) MapRow(row domain.Row, headers HeaderMap, profile string) (*domain.FinancialRecord, error) {
	out, err := m.MapRowAt(row, 0, headers, profile)
	if err != nil {
		return nil, err
	}
	return out.Record, nil
}

// MapRowAt maps a row and reports why it was skipped, if it was.
// An error is returned only for an unknown profile.
func (m *RecordMapper) MapRowAt(row domain.Row, rowNumber int, headers HeaderMap, profile string) (Outcome, error) {
	p, err := m.registry.Get(profile)
	if err != nil {
		return Outcome{}, err
	}

	cells := make(map[domain.Field]domain.Cell, len(headers))
	raw := make(map[string]string, len(headers))
	for idx, f := range headers {
		c := row.At(idx)
		cells[f] = c
		raw[f.String()] = c.String()
	}
	text := func(f domain.Field) string { return cells[f].String() }

	for _, f := range p.Required() {
		if text(f) == "" {
			return Outcome{SkipReason: SkipMissingRequired + ": " + f.String()}, nil
		}
	}

	projectCode, projectName := splitProject(text(domain.FieldCodigoProjeto), text(domain.FieldProjeto))
	if projectCode == "" {
		if p.DefaultProject == "" {
			return Outcome{SkipReason: SkipMissingProject}, nil
		}
		projectCode, projectName = p.DefaultProject, p.DefaultProject
	}

	accountCode := text(domain.FieldContaResumo)
	accountDesc := text(domain.FieldDenominacaoConta)
	if accountCode == "" {
		accountCode = accountDesc
	}
	if accountCode == "" {
		return Outcome{SkipReason: SkipMissingAccount}, nil
	}
	if accountDesc == "" {
		accountDesc = accountCode
	}

	period := extractPeriod(cells[domain.FieldPeriodo], m.opts.Now())
	if period.fellBack() && m.opts.StrictPeriod {
		return Outcome{SkipReason: SkipInvalidPeriod, PeriodFallback: true}, nil
	}

	amount, amountOK := amountFromCell(cells[domain.FieldLancamento])
	nature := ClassifyNature(text(domain.FieldNatureza), amount)

	clientName := text(domain.FieldCliente)
	if clientName == "" {
		clientName = DefaultClientName
	}
	clientType := domain.DefaultClientType
	if p.Name != "financial" {
		if t := text(domain.FieldTipo); t != "" {
			clientType = t
		}
	}

	rec := &domain.FinancialRecord{
		ProjectCode:        projectCode,
		ProjectName:        projectName,
		ClientName:         clientName,
		ClientType:         clientType,
		AccountCode:        accountCode,
		AccountDescription: accountDesc,
		AccountGrouping:    text(domain.FieldRelatorio),
		BusinessLine:       text(domain.FieldLinhaNegocio),
		Amount:             amount,
		Nature:             nature,
		Year:               period.Year,
		Month:              period.Month,
		PeriodLabel:        text(domain.FieldPeriodo),
		ResourceID:         text(domain.FieldIDRecurso),
		ResourceName:       text(domain.FieldRecurso),
		RowNumber:          rowNumber,
		RawFields:          raw,
	}
	if rec.PeriodLabel == "" {
		rec.PeriodLabel = rec.Period().Label()
	}

	return Outcome{Record: rec, PeriodFallback: period.fellBack(), AmountInvalid: !amountOK}, nil
}

// splitProject resolves project code and name. An explicit code column wins;
// otherwise "CODE - Description" in the project column is split.
func splitProject(code, project string) (string, string) {
	if code != "" {
		if project == "" {
			return code, code
		}
		return code, project
	}
	if project == "" {
		return "", ""
	}
	if c, name, ok := strings.Cut(project, " - "); ok && strings.TrimSpace(c) != "" {
		name = strings.TrimSpace(name)
		if name == "" {
			name = strings.TrimSpace(c)
		}
		return strings.TrimSpace(c), name
	}
	return project, project
}
