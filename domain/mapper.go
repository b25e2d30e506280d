package domain

import (
	"fmt"

	om "github.com/cevaris/ordered_map"
)

const (
	HashColumnName         = "content_hash"
	AnalyticsSnapshotTable = "analytics_unidades"
)

// FactMapper maps a NormalizedRecord into one domain's destination fact-table shape.
// Implementations are selected by a table keyed on the domain so destination shape
// polymorphism stays out of the write path.
type FactMapper interface {
	Domain() Domain
	FactTable() string
	AuditTable() string
	// PeriodColumn names the destination column holding the MM/YYYY period key,
	// used by the replacement-window delete phase.
	PeriodColumn() string
	// KeyCols and OtherCols describe the destination columns for the DML generators.
	// Values returns one row of values in the same order: key columns then other columns.
	KeyCols() *om.OrderedMap
	OtherCols() *om.OrderedMap
	Values(rec NormalizedRecord) []interface{}
}

var mappers = map[Domain]FactMapper{
	DomainCartera:   carteraMapper{},
	DomainCobranzas: gestionMapper{domain: DomainCobranzas},
	DomainContratos: gestionMapper{domain: DomainContratos},
	DomainGestores:  gestionMapper{domain: DomainGestores},
	DomainAnalytics: gestionMapper{domain: DomainAnalytics},
}

// MapperFor returns the FactMapper for the given domain.
func MapperFor(d Domain) (FactMapper, error) {
	m, ok := mappers[d]
	if !ok {
		return nil, fmt.Errorf("no fact mapper registered for domain %q", d)
	}
	return m, nil
}

// carteraMapper writes portfolio rows keyed by contract + close date and
// partitioned by close month.
type carteraMapper struct{}

func (carteraMapper) Domain() Domain       { return DomainCartera }
func (carteraMapper) FactTable() string    { return "fact_cartera" }
func (carteraMapper) AuditTable() string   { return "audit_cartera" }
func (carteraMapper) PeriodColumn() string { return "mes_cierre" }

func (carteraMapper) KeyCols() *om.OrderedMap {
	o := om.NewOrderedMap()
	o.Set("contractId", "contrato")
	o.Set("closeDate", "fecha_cierre")
	return o
}

func (carteraMapper) OtherCols() *om.OrderedMap {
	o := om.NewOrderedMap()
	o.Set("closeMonth", "mes_cierre")
	o.Set("gestionMonth", "mes_gestion")
	o.Set("supervisor", "supervisor")
	o.Set("unit", "unidad")
	o.Set("channel", "canal")
	o.Set("tranche", "tramo")
	o.Set("quantity", "cantidad")
	o.Set("amountTotal", "monto_total")
	o.Set("amountPaid", "monto_pagado")
	o.Set("contentHash", HashColumnName)
	return o
}

func (carteraMapper) Values(rec NormalizedRecord) []interface{} {
	return []interface{}{
		rec.ContractID, rec.CloseDate,
		rec.CloseMonth, rec.GestionMonth, rec.Supervisor, rec.Unit, rec.Channel,
		rec.Tranche, rec.Quantity, rec.AmountTotal, rec.AmountPaid, rec.ContentHash,
	}
}

// gestionMapper covers the management-style domains which share one shape:
// keyed by the full management tuple and partitioned by gestion month.
type gestionMapper struct {
	domain Domain
}

func (m gestionMapper) Domain() Domain       { return m.domain }
func (m gestionMapper) FactTable() string    { return "fact_" + m.domain.String() }
func (m gestionMapper) AuditTable() string   { return "audit_" + m.domain.String() }
func (m gestionMapper) PeriodColumn() string { return "mes_gestion" }

func (m gestionMapper) KeyCols() *om.OrderedMap {
	o := om.NewOrderedMap()
	o.Set("contractId", "contrato")
	o.Set("gestionMonth", "mes_gestion")
	o.Set("supervisor", "supervisor")
	o.Set("unit", "unidad")
	o.Set("channel", "canal")
	o.Set("tranche", "tramo")
	return o
}

func (m gestionMapper) OtherCols() *om.OrderedMap {
	o := om.NewOrderedMap()
	o.Set("quantity", "cantidad")
	o.Set("amountTotal", "monto_total")
	o.Set("amountPaid", "monto_pagado")
	o.Set("contentHash", HashColumnName)
	return o
}

func (m gestionMapper) Values(rec NormalizedRecord) []interface{} {
	return []interface{}{
		rec.ContractID, rec.GestionMonth, rec.Supervisor, rec.Unit, rec.Channel, rec.Tranche,
		rec.Quantity, rec.AmountTotal, rec.AmountPaid, rec.ContentHash,
	}
}
