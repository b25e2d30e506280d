package domain

import (
	"fmt"
	"strings"
)

// NormalizedRecord is the canonical unit moved through the pipeline, produced by
// the normalizer from one raw source row. It is transient: owned by the run and
// discarded (or deleted from spill storage) at run end.
type NormalizedRecord struct {
	Domain       Domain  `json:"domain"`
	ContractID   string  `json:"contractId"`
	CloseDate    string  `json:"closeDate"`    // YYYY-MM-DD; the cartera business-key date.
	GestionMonth string  `json:"gestionMonth"` // MM/YYYY
	CloseMonth   string  `json:"closeMonth"`   // MM/YYYY
	Supervisor   string  `json:"supervisor"`
	Unit         string  `json:"unit"`
	Channel      string  `json:"channel"`
	Tranche      int     `json:"tranche"` // aging bucket clamped to [0,7].
	Quantity     int64   `json:"quantity"`
	AmountTotal  float64 `json:"amountTotal"`
	AmountPaid   float64 `json:"amountPaid"`
	ContentHash  string  `json:"contentHash"` // digest of the canonicalised raw payload.
	RawPayload   string  `json:"rawPayload"`  // original row serialised for forward compatibility.
	Seq          int64   `json:"seq"`         // position of the row within the extraction, for diagnostics.
}

// BusinessKey returns the canonical string identity of the record within its domain.
// Cartera rows are keyed by contract and close date; every other domain is keyed by
// the full management tuple.
func (r NormalizedRecord) BusinessKey() string {
	if r.Domain == DomainCartera {
		return strings.Join([]string{r.ContractID, r.CloseDate}, "|")
	}
	return strings.Join([]string{
		r.Domain.String(),
		r.ContractID,
		r.GestionMonth,
		r.Supervisor,
		r.Unit,
		r.Channel,
		fmt.Sprintf("%d", r.Tranche),
	}, "|")
}

// PeriodKey returns the MM/YYYY label that places the record inside (or outside)
// a replacement window: the close month for cartera, else the gestion month.
func (r NormalizedRecord) PeriodKey() string {
	if r.Domain == DomainCartera {
		return r.CloseMonth
	}
	return r.GestionMonth
}
