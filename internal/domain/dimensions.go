package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// DimensionType names one of the dimension tables.
type DimensionType string

const (
	DimProject  DimensionType = "project"
	DimClient   DimensionType = "client"
	DimAccount  DimensionType = "account"
	DimPeriod   DimensionType = "period"
	DimResource DimensionType = "resource"
)

// AllDimensions lists the dimension types in resolution order.
var AllDimensions = []DimensionType{DimProject, DimClient, DimAccount, DimPeriod, DimResource}

// Table returns the backing table name.
func (d DimensionType) Table() string {
	return "dim_" + string(d)
}

// DefaultResourceName is used when a row carries neither a resource id nor a name.
const DefaultResourceName = "NÃO IDENTIFICADO"

// DefaultClientType is the business type assumed when "tipo" is blank.
const DefaultClientType = "Mercado"

// Resource types inferred from the resource columns.
const (
	ResourceTypeSubcontracted = "Subcontratado"
	ResourceTypeCLT           = "CLT"
	ResourceTypeOther         = "Outros"
)

// Project is keyed by Code.
type Project struct {
	Code         string
	Name         string
	BusinessType string
	BusinessLine string
}

// Client is keyed by Name.
type Client struct {
	Name       string
	ClientType string
}

// Account is keyed by Code.
type Account struct {
	Code        string
	Description string
	Grouping    string
	Nature      Nature
}

// Resource is keyed by ID, or by Name when ID is blank.
type Resource struct {
	ID           string
	Name         string
	ResourceType string
}

// Natural key prefixes keep an id and a name with the same text apart.
const (
	resourceIDPrefix   = "id:"
	resourceNamePrefix = "name:"
)

// NaturalKey returns "id:<ID>", or "name:<Name>" when ID is blank.
func (r Resource) NaturalKey() string {
	if r.ID != "" {
		return resourceIDPrefix + r.ID
	}
	if r.Name != "" {
		return resourceNamePrefix + r.Name
	}
	return resourceNamePrefix + DefaultResourceName
}

// ResourceFor builds the resource dimension value for a record.
func ResourceFor(id, name string) Resource {
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	if id == "" && name == "" {
		return Resource{Name: DefaultResourceName, ResourceType: ResourceTypeOther}
	}
	res := Resource{ID: id, Name: name, ResourceType: ResourceTypeOther}
	switch {
	case strings.Contains(strings.ToLower(name), "subcontrat"):
		res.ResourceType = ResourceTypeSubcontracted
	case id != "":
		res.ResourceType = ResourceTypeCLT
	}
	if res.Name == "" {
		res.Name = id
	}
	return res
}

var monthNames = [12]string{
	"Janeiro", "Fevereiro", "Março", "Abril", "Maio", "Junho",
	"Julho", "Agosto", "Setembro", "Outubro", "Novembro", "Dezembro",
}

// Period is keyed by (Year, Month).
type Period struct {
	Year  int
	Month int
}

// NaturalKey returns "YYYY-MM".
func (p Period) NaturalKey() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Label returns "MM/YYYY".
func (p Period) Label() string {
	return fmt.Sprintf("%02d/%04d", p.Month, p.Year)
}

func (p Period) Quarter() int  { return (p.Month-1)/3 + 1 }
func (p Period) Semester() int { return (p.Month-1)/6 + 1 }

// QuarterName returns "T1".."T4".
func (p Period) QuarterName() string {
	return "T" + strconv.Itoa(p.Quarter())
}

// MonthName returns the pt-BR month name.
func (p Period) MonthName() string {
	if p.Month < 1 || p.Month > 12 {
		return ""
	}
	return monthNames[p.Month-1]
}

// StartDate is the first day of the month.
func (p Period) StartDate() civil.Date {
	return civil.Date{Year: p.Year, Month: time.Month(p.Month), Day: 1}
}

// EndDate is the last day of the month.
func (p Period) EndDate() civil.Date {
	last := time.Date(p.Year, time.Month(p.Month)+1, 0, 0, 0, 0, 0, time.UTC)
	return civil.DateOf(last)
}

// ParsePeriodKey parses a "YYYY-MM" natural key.
func ParsePeriodKey(key string) (Period, error) {
	var p Period
	if _, err := fmt.Sscanf(key, "%04d-%02d", &p.Year, &p.Month); err != nil {
		return Period{}, fmt.Errorf("ParsePeriodKey: %q: %w", key, err)
	}
	if p.Month < 1 || p.Month > 12 {
		return Period{}, fmt.Errorf("ParsePeriodKey: %q: month out of range", key)
	}
	return p, nil
}

// DimensionKeys holds the surrogate keys resolved for one record.
type DimensionKeys struct {
	ProjectKey  int64
	ClientKey   int64
	AccountKey  int64
	PeriodKey   int64
	ResourceKey int64
}

// DimensionValue is a dimension entity ready for upsert: its natural key plus descriptive attributes.
type DimensionValue struct {
	Type       DimensionType
	NaturalKey string
	Attrs      map[string]any
}

// Attribute keys carried in DimensionValue.Attrs.
const (
	AttrName         = "name"
	AttrBusinessType = "business_type"
	AttrBusinessLine = "business_line"
	AttrClientType   = "client_type"
	AttrDescription  = "description"
	AttrGrouping     = "account_grouping"
	AttrNature       = "nature"
	AttrYear         = "year"
	AttrMonth        = "month"
	AttrQuarter      = "quarter"
	AttrSemester     = "semester"
	AttrMonthName    = "month_name"
	AttrQuarterName  = "quarter_name"
	AttrStartDate    = "start_date"
	AttrEndDate      = "end_date"
	AttrLabel        = "label"
	AttrResourceID   = "resource_id"
	AttrResourceType = "resource_type"
)

func (p Project) Value() DimensionValue {
	return DimensionValue{Type: DimProject, NaturalKey: p.Code, Attrs: map[string]any{
		AttrName:         p.Name,
		AttrBusinessType: p.BusinessType,
		AttrBusinessLine: p.BusinessLine,
	}}
}

func (c Client) Value() DimensionValue {
	return DimensionValue{Type: DimClient, NaturalKey: c.Name, Attrs: map[string]any{
		AttrClientType: c.ClientType,
	}}
}

func (a Account) Value() DimensionValue {
	return DimensionValue{Type: DimAccount, NaturalKey: a.Code, Attrs: map[string]any{
		AttrDescription: a.Description,
		AttrGrouping:    a.Grouping,
		AttrNature:      string(a.Nature),
	}}
}

func (p Period) Value() DimensionValue {
	return DimensionValue{Type: DimPeriod, NaturalKey: p.NaturalKey(), Attrs: map[string]any{
		AttrYear:        p.Year,
		AttrMonth:       p.Month,
		AttrQuarter:     p.Quarter(),
		AttrSemester:    p.Semester(),
		AttrMonthName:   p.MonthName(),
		AttrQuarterName: p.QuarterName(),
		AttrStartDate:   p.StartDate(),
		AttrEndDate:     p.EndDate(),
		AttrLabel:       p.Label(),
	}}
}

func (r Resource) Value() DimensionValue {
	return DimensionValue{Type: DimResource, NaturalKey: r.NaturalKey(), Attrs: map[string]any{
		AttrResourceID:   r.ID,
		AttrName:         r.Name,
		AttrResourceType: r.ResourceType,
	}}
}

// StringAttr reads a string attribute, returning "" when absent.
func (v DimensionValue) StringAttr(key string) string {
	s, _ := v.Attrs[key].(string)
	return s
}

// IntAttr reads an int attribute, returning 0 when absent.
func (v DimensionValue) IntAttr(key string) int {
	n, _ := v.Attrs[key].(int)
	return n
}
