package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/espejodata/espejo/stream"
	"github.com/pkg/errors"
)

// Legacy extracts arrive with inconsistent column names per query, so each logical
// field is resolved through an ordered list of candidate column names. The first
// present, non-empty candidate wins. Matching is case-insensitive.
var (
	contractCandidates     = []string{"contrato", "contrato_id", "id_contrato", "nro_contrato", "contract_id"}
	closeDateCandidates    = []string{"fecha_cierre", "fec_cierre", "cierre"}
	closeMonthCandidates   = []string{"mes_cierre", "periodo_cierre"}
	gestionMonthCandidates = []string{"mes_gestion", "periodo_gestion", "mes", "periodo"}
	supervisorCandidates   = []string{"supervisor", "jefe_grupo", "supervisor_nombre"}
	unitCandidates         = []string{"unidad", "unidad_negocio", "sucursal"}
	channelCandidates      = []string{"canal", "canal_gestion"}
	trancheCandidates      = []string{"tramo", "tranche"}
	carteraAgingCandidates = []string{"cuotas_vencidas", "cuotas_impagas", "nro_cuotas_vencidas"}
	quantityCandidates     = []string{"cantidad", "unidades", "q"}
	amountTotalCandidates  = []string{"monto_total", "monto", "importe"}
	amountPaidCandidates   = []string{"monto_pagado", "importe_pagado", "pagado"}
	closeDateLayouts       = []string{"2006-01-02", "2006-01-02T15:04:05Z07:00", "02/01/2006", "20060102"}
)

// Normalize maps one raw source row into a NormalizedRecord for the given domain.
// It is a pure function of its inputs; now supplies the clock for the last-resort
// period fallback so every row still lands somewhere.
func Normalize(d Domain, row stream.Record, seq int64, now time.Time) (NormalizedRecord, error) {
	payload, hash, err := CanonicalPayload(row)
	if err != nil {
		return NormalizedRecord{}, errors.Wrap(err, "unable to canonicalise raw row")
	}
	rec := NormalizedRecord{
		Domain:      d,
		ContractID:  resolveString(row, contractCandidates),
		Supervisor:  resolveString(row, supervisorCandidates),
		Unit:        resolveString(row, unitCandidates),
		Channel:     resolveString(row, channelCandidates),
		Quantity:    resolveInt(row, quantityCandidates),
		AmountTotal: resolveFloat(row, amountTotalCandidates),
		AmountPaid:  resolveFloat(row, amountPaidCandidates),
		ContentHash: hash,
		RawPayload:  payload,
		Seq:         seq,
	}
	if rec.Quantity == 0 { // aggregated rows default to representing one unit of work.
		rec.Quantity = 1
	}
	// Close date and periods.
	closeDate, closeDateOk := resolveCloseDate(row)
	rec.CloseDate = closeDate
	rec.CloseMonth = resolvePeriod(row, closeMonthCandidates)
	rec.GestionMonth = resolvePeriod(row, gestionMonthCandidates)
	if rec.CloseMonth == "" && closeDateOk { // synthesize the close month from the close date...
		if t, ok := parseCloseDate(closeDate); ok {
			rec.CloseMonth = PeriodFromTime(t)
		}
	}
	if rec.CloseMonth == "" { // last resort so the row still lands somewhere.
		rec.CloseMonth = PeriodFromTime(now)
	}
	if rec.GestionMonth == "" {
		rec.GestionMonth = rec.CloseMonth
	}
	// Aging bucket. Cartera uses the overdue-installments counter, other domains a generic tranche column.
	if d == DomainCartera {
		rec.Tranche = ClampTranche(resolveFloat(row, carteraAgingCandidates))
	} else {
		rec.Tranche = ClampTranche(resolveFloat(row, trancheCandidates))
	}
	if d == DomainCartera && rec.CloseDate == "" { // cartera is keyed on close date, so make it deterministic when missing.
		rec.CloseDate = now.Format("2006-01-02")
	}
	return rec, nil
}

// ClampTranche rounds t and clamps it to [0,7]: negatives floor at 0, large buckets saturate at 7.
func ClampTranche(t float64) int {
	v := int(math.Round(t))
	if v < 0 {
		return 0
	}
	if v > 7 {
		return 7
	}
	return v
}

// CanonicalPayload serialises the raw row as canonical JSON with deterministically
// sorted keys and returns the serialisation plus its sha256 hex digest. The same
// source row always yields the same hash regardless of map iteration order.
func CanonicalPayload(row stream.Record) (payload string, hash string, err error) {
	m := make(map[string]interface{}, row.GetDataLen())
	for _, k := range row.GetDataKeys() {
		m[k] = canonicalValue(row.GetData(k))
	}
	b, err := json.Marshal(m) // encoding/json sorts map keys.
	if err != nil {
		return "", "", err
	}
	sum := sha256.Sum256(b)
	return string(b), hex.EncodeToString(sum[:]), nil
}

// canonicalValue converts driver-scanned values into stable JSON-friendly forms.
func canonicalValue(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return x
	}
}

// resolveString returns the first present, non-empty candidate column as a trimmed string.
func resolveString(row stream.Record, candidates []string) string {
	v, ok := resolveValue(row, candidates)
	if !ok {
		return ""
	}
	return strings.TrimSpace(valueToString(v))
}

func resolveFloat(row stream.Record, candidates []string) float64 {
	v, ok := resolveValue(row, candidates)
	if !ok {
		return 0
	}
	return valueToFloat(v)
}

func resolveInt(row stream.Record, candidates []string) int64 {
	return int64(math.Round(resolveFloat(row, candidates)))
}

// resolvePeriod returns the first candidate that holds a valid MM/YYYY label.
func resolvePeriod(row stream.Record, candidates []string) string {
	s := resolveString(row, candidates)
	if s == "" || !IsValidPeriod(s) {
		return ""
	}
	return s
}

func resolveCloseDate(row stream.Record) (string, bool) {
	v, ok := resolveValue(row, closeDateCandidates)
	if !ok {
		return "", false
	}
	if t, isTime := v.(time.Time); isTime {
		return t.Format("2006-01-02"), true
	}
	s := strings.TrimSpace(valueToString(v))
	if s == "" {
		return "", false
	}
	if t, parsed := parseCloseDate(s); parsed { // normalise recognisable layouts to YYYY-MM-DD...
		return t.Format("2006-01-02"), true
	}
	return s, true // keep the raw value so the business key stays stable.
}

func parseCloseDate(s string) (time.Time, bool) {
	for _, layout := range closeDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// resolveValue performs the ordered, case-insensitive candidate lookup.
func resolveValue(row stream.Record, candidates []string) (interface{}, bool) {
	lower := make(map[string]string, row.GetDataLen())
	for _, k := range row.GetDataKeys() {
		lower[strings.ToLower(k)] = k
	}
	for _, c := range candidates { // for each candidate column name in priority order...
		if k, ok := lower[strings.ToLower(c)]; ok {
			v := row.GetData(k)
			if v == nil {
				continue
			}
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" { // skip present-but-empty values.
				continue
			}
			return v, true
		}
	}
	return nil, false
}

func valueToString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format("2006-01-02")
	default:
		return fmt.Sprintf("%v", x)
	}
}

func valueToFloat(v interface{}) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case []byte:
		return stringToFloat(string(x))
	case string:
		return stringToFloat(x)
	default:
		return 0
	}
}

func stringToFloat(s string) float64 {
	s = strings.TrimSpace(strings.Replace(s, ",", ".", 1)) // legacy exports use comma decimals.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil { // non-numeric coerces to zero rather than failing the row.
		return 0
	}
	return f
}
