package mapping

import (
	"fmt"
	"sort"

	"github.com/dvloznov/dre-pipeline/internal/config"
	"github.com/dvloznov/dre-pipeline/internal/domain"
)

// Profile is an immutable header dictionary for one export layout.
type Profile struct {
	Name string

	// DefaultProject is used when a row has no project columns. Empty means such rows are skipped.
	DefaultProject string

	headers  map[string]domain.Field // normalized header -> field
	required []domain.Field
}

// Lookup returns the canonical field for a normalized header key.
func (p *Profile) Lookup(key string) (domain.Field, bool) {
	f, ok := p.headers[key]
	return f, ok
}

// Required returns the fields whose blank value makes a row skippable.
func (p *Profile) Required() []domain.Field {
	out := make([]domain.Field, len(p.required))
	copy(out, p.required)
	return out
}

// Keys returns the normalized header keys, sorted.
func (p *Profile) Keys() []string {
	keys := make([]string, 0, len(p.headers))
	for k := range p.headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newProfile(name, defaultProject string, headers map[string]domain.Field, required ...domain.Field) *Profile {
	p := &Profile{
		Name:           name,
		DefaultProject: defaultProject,
		headers:        make(map[string]domain.Field, len(headers)),
		required:       required,
	}
	for raw, f := range headers {
		p.headers[NormalizeKey(raw)] = f
	}
	return p
}

func dreProfile() *Profile {
	return newProfile("dre", "", map[string]domain.Field{
		"relatorio":            domain.FieldRelatorio,
		"tipo":                 domain.FieldTipo,
		"cliente":              domain.FieldCliente,
		"linhanegocio":         domain.FieldLinhaNegocio,
		"responsavelarea":      domain.FieldResponsavelArea,
		"responsaveldelivery":  domain.FieldResponsavelDelivery,
		"responsaveldevengado": domain.FieldResponsavelDevengado,
		"idhoms":               domain.FieldIDHoms,
		"codigoprojeto":        domain.FieldCodigoProjeto,
		"projeto":              domain.FieldProjeto,
		"filialfaturamento":    domain.FieldFilialFaturamento,
		"imposto":              domain.FieldImposto,
		"contaresumo":          domain.FieldContaResumo,
		"denominacaoconta":     domain.FieldDenominacaoConta,
		"idrecurso":            domain.FieldIDRecurso,
		"recurso":              domain.FieldRecurso,
		"lancamento":           domain.FieldLancamento,
		"periodo":              domain.FieldPeriodo,
		"natureza":             domain.FieldNatureza,
	}, domain.FieldLancamento, domain.FieldNatureza)
}

func financialProfile() *Profile {
	return newProfile("financial", "GERAL", map[string]domain.Field{
		"código":      domain.FieldContaResumo,
		"code":        domain.FieldContaResumo,
		"conta":       domain.FieldContaResumo,
		"nome":        domain.FieldDenominacaoConta,
		"name":        domain.FieldDenominacaoConta,
		"descrição":   domain.FieldDenominacaoConta,
		"description": domain.FieldDenominacaoConta,
		"valor":       domain.FieldLancamento,
		"amount":      domain.FieldLancamento,
		"montante":    domain.FieldLancamento,
		"saldo":       domain.FieldLancamento,
		"período":     domain.FieldPeriodo,
		"period":      domain.FieldPeriodo,
		"natureza":    domain.FieldNatureza,
		"nature":      domain.FieldNatureza,
		"tipo":        domain.FieldNatureza,
		"type":        domain.FieldNatureza,
		"resumo":      domain.FieldRelatorio,
		"summary":     domain.FieldRelatorio,
		"categoria":   domain.FieldRelatorio,
		"category":    domain.FieldRelatorio,
		"cliente":     domain.FieldCliente,
		"projeto":     domain.FieldProjeto,
	}, domain.FieldLancamento)
}

// Registry holds the profiles available to a run. It is built once and never mutated.
type Registry struct {
	profiles map[string]*Profile
}

// NewRegistry returns the built-in profiles extended by configured ones.
// A configured profile with the name of an existing one replaces its header entries
// key by key; Extends copies another profile first.
func NewRegistry(extra []config.ProfileConfig) (*Registry, error) {
	r := &Registry{profiles: map[string]*Profile{}}
	for _, p := range []*Profile{dreProfile(), financialProfile()} {
		r.profiles[p.Name] = p
	}

	for _, pc := range extra {
		base := r.profiles[pc.Name]
		if pc.Extends != "" {
			var ok bool
			if base, ok = r.profiles[pc.Extends]; !ok {
				return nil, fmt.Errorf("NewRegistry: profile %q extends unknown profile %q", pc.Name, pc.Extends)
			}
		}

		headers := map[string]domain.Field{}
		var required []domain.Field
		defaultProject := ""
		if base != nil {
			for k, f := range base.headers {
				headers[k] = f
			}
			required = base.Required()
			defaultProject = base.DefaultProject
		}

		for raw, name := range pc.Headers {
			f, err := domain.ParseField(name)
			if err != nil {
				return nil, fmt.Errorf("NewRegistry: profile %q header %q: %w", pc.Name, raw, err)
			}
			headers[NormalizeKey(raw)] = f
		}
		if len(pc.Required) > 0 {
			required = required[:0]
			for _, name := range pc.Required {
				f, err := domain.ParseField(name)
				if err != nil {
					return nil, fmt.Errorf("NewRegistry: profile %q required: %w", pc.Name, err)
				}
				required = append(required, f)
			}
		}

		r.profiles[pc.Name] = &Profile{
			Name:           pc.Name,
			DefaultProject: defaultProject,
			headers:        headers,
			required:       required,
		}
	}
	return r, nil
}

// Get returns a profile by name.
func (r *Registry) Get(name string) (*Profile, error) {
	p, ok := r.profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown mapping profile %q", name)
	}
	return p, nil
}

// Names lists the registered profiles, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for n := range r.profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
