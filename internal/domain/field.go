package domain

import "fmt"

// Field is a canonical column of the DRE export.
type Field int

const (
	FieldUnknown Field = iota
	FieldRelatorio
	FieldTipo
	FieldCliente
	FieldLinhaNegocio
	FieldResponsavelArea
	FieldResponsavelDelivery
	FieldResponsavelDevengado
	FieldIDHoms
	FieldCodigoProjeto
	FieldProjeto
	FieldFilialFaturamento
	FieldImposto
	FieldContaResumo
	FieldDenominacaoConta
	FieldIDRecurso
	FieldRecurso
	FieldLancamento
	FieldPeriodo
	FieldNatureza
)

var fieldNames = map[Field]string{
	FieldRelatorio:            "relatorio",
	FieldTipo:                 "tipo",
	FieldCliente:              "cliente",
	FieldLinhaNegocio:         "linha_negocio",
	FieldResponsavelArea:      "responsavel_area",
	FieldResponsavelDelivery:  "responsavel_delivery",
	FieldResponsavelDevengado: "responsavel_devengado",
	FieldIDHoms:               "id_homs",
	FieldCodigoProjeto:        "codigo_projeto",
	FieldProjeto:              "projeto",
	FieldFilialFaturamento:    "filial_faturamento",
	FieldImposto:              "imposto",
	FieldContaResumo:          "conta_resumo",
	FieldDenominacaoConta:     "denominacao_conta",
	FieldIDRecurso:            "id_recurso",
	FieldRecurso:              "recurso",
	FieldLancamento:           "lancamento",
	FieldPeriodo:              "periodo",
	FieldNatureza:             "natureza",
}

var fieldsByName = func() map[string]Field {
	m := make(map[string]Field, len(fieldNames))
	for f, n := range fieldNames {
		m[n] = f
	}
	return m
}()

// String returns the snake_case canonical name.
func (f Field) String() string {
	if n, ok := fieldNames[f]; ok {
		return n
	}
	return "unknown"
}

// ParseField resolves a canonical field name such as "linha_negocio".
func ParseField(name string) (Field, error) {
	if f, ok := fieldsByName[name]; ok {
		return f, nil
	}
	return FieldUnknown, fmt.Errorf("unknown canonical field %q", name)
}
