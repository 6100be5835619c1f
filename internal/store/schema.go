package store

import "github.com/dvloznov/dre-pipeline/internal/domain"

// Table names shared by the SQL backends and migrations.
const (
	FactTable          = "fact_dre"
	ExecutionsTable    = "dre_executions"
	ExecutionLogsTable = "dre_execution_logs"
)

// DimensionTable describes how a dimension type is laid out in a SQL backend.
type DimensionTable struct {
	Name       string
	KeyColumn  string // surrogate key
	NaturalKey string // unique natural key column
	Attrs      []string
}

// DimensionTables maps each dimension type to its table. Attribute column names
// equal the domain.Attr* keys.
var DimensionTables = map[domain.DimensionType]DimensionTable{
	domain.DimProject: {
		Name:       domain.DimProject.Table(),
		KeyColumn:  "project_key",
		NaturalKey: "code",
		Attrs:      []string{domain.AttrName, domain.AttrBusinessType, domain.AttrBusinessLine},
	},
	domain.DimClient: {
		Name:       domain.DimClient.Table(),
		KeyColumn:  "client_key",
		NaturalKey: "name",
		Attrs:      []string{domain.AttrClientType},
	},
	domain.DimAccount: {
		Name:       domain.DimAccount.Table(),
		KeyColumn:  "account_key",
		NaturalKey: "code",
		Attrs:      []string{domain.AttrDescription, domain.AttrGrouping, domain.AttrNature},
	},
	domain.DimPeriod: {
		Name:       domain.DimPeriod.Table(),
		KeyColumn:  "period_key",
		NaturalKey: "period_code",
		Attrs: []string{
			domain.AttrYear, domain.AttrMonth, domain.AttrQuarter, domain.AttrSemester,
			domain.AttrMonthName, domain.AttrQuarterName, domain.AttrStartDate, domain.AttrEndDate, domain.AttrLabel,
		},
	},
	domain.DimResource: {
		Name:       domain.DimResource.Table(),
		KeyColumn:  "resource_key",
		NaturalKey: "natural_key",
		Attrs:      []string{domain.AttrResourceID, domain.AttrName, domain.AttrResourceType},
	},
}

// AttrValues returns dim's attributes in table column order.
func (t DimensionTable) AttrValues(dim domain.DimensionValue) []any {
	out := make([]any, len(t.Attrs))
	for i, a := range t.Attrs {
		out[i] = dim.Attrs[a]
	}
	return out
}
