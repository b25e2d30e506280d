package domain

import (
	"fmt"
	"strings"
)

// Domain is one logical dataset mirrored from the legacy store.
// Each domain maps to exactly one extraction query and one destination fact-table shape.
type Domain string

const (
	DomainCartera   Domain = "cartera" // portfolio; keyed by contract + close date with close-month replacement semantics.
	DomainCobranzas Domain = "cobranzas"
	DomainContratos Domain = "contratos"
	DomainGestores  Domain = "gestores"
	DomainAnalytics Domain = "analytics" // aggregated facts that feed the per-unit snapshot table.
)

// AllDomains returns the fixed set of synchronisable domains.
func AllDomains() []Domain {
	return []Domain{DomainCartera, DomainCobranzas, DomainContratos, DomainGestores, DomainAnalytics}
}

func ParseDomain(s string) (Domain, error) {
	d := Domain(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range AllDomains() {
		if d == v {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown domain %q", s)
}

func (d Domain) String() string {
	return string(d)
}
