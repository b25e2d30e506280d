package domain

import "testing"

func TestMapperValuesMatchColumnLists(t *testing.T) {
	rec := NormalizedRecord{
		Domain:       DomainCartera,
		ContractID:   "C1",
		CloseDate:    "2026-01-31",
		GestionMonth: "01/2026",
		CloseMonth:   "01/2026",
		Supervisor:   "lopez",
		Unit:         "norte",
		Channel:      "call",
		Tranche:      2,
		Quantity:     1,
		AmountTotal:  10,
		AmountPaid:   5,
		ContentHash:  "abc",
	}
	for _, d := range AllDomains() {
		m, err := MapperFor(d)
		if err != nil {
			t.Fatal(err)
		}
		rec.Domain = d
		want := m.KeyCols().Len() + m.OtherCols().Len()
		if got := len(m.Values(rec)); got != want {
			t.Fatalf("domain %v: Values() returned %v values for %v columns", d, got, want)
		}
		if m.FactTable() == "" || m.AuditTable() == "" || m.PeriodColumn() == "" {
			t.Fatalf("domain %v: mapper is missing table metadata", d)
		}
	}
}

func TestMapperForUnknownDomain(t *testing.T) {
	if _, err := MapperFor(Domain("desconocido")); err == nil {
		t.Fatal("unknown domain should error")
	}
}
