package window

import (
	"fmt"
	"strings"

	"github.com/espejodata/espejo/domain"
	"github.com/pkg/errors"
)

// Mode describes how much of a domain's destination a run is authorised to replace.
type Mode string

const (
	ModeFullAll     Mode = "full_all"     // unrestricted: the entire domain.
	ModeFullYear    Mode = "full_year"    // all periods of one year.
	ModeFullMonth   Mode = "full_month"   // one explicit period.
	ModeRangeMonths Mode = "range_months" // a contiguous period range.
)

// ErrWindowConflict marks run scopes rejected before any side effect.
var ErrWindowConflict = errors.New("window conflict")

// Window is the set of destination period keys a run may delete and repopulate.
// A run never deletes or writes outside its window; rows whose derived period
// falls outside it are discarded, not written.
type Window struct {
	Mode    Mode
	Year    int      // populated for full_year.
	Periods []string // populated for full_month and range_months.
}

// Plan computes the replacement window for one run.
// The close-month parameters carry cartera's closure-month semantics: equal from/to
// collapse to a single month, differing ones form a range, a single one selects
// that month. Every other domain is scoped by year only.
func Plan(d domain.Domain, yearFrom int, closeMonthFrom string, closeMonthTo string) (Window, error) {
	closeMonthFrom = strings.TrimSpace(closeMonthFrom)
	closeMonthTo = strings.TrimSpace(closeMonthTo)
	if d != domain.DomainCartera && (closeMonthFrom != "" || closeMonthTo != "") {
		return Window{}, errors.Wrapf(ErrWindowConflict, "close month scope only applies to the %v domain", domain.DomainCartera)
	}
	if closeMonthFrom != "" && closeMonthTo != "" {
		if closeMonthFrom == closeMonthTo { // if both months are given and equal...
			return monthWindow(closeMonthFrom)
		}
		periods, err := domain.PeriodsBetween(closeMonthFrom, closeMonthTo)
		if err != nil { // inverted or malformed ranges are rejected before any extraction begins.
			return Window{}, errors.Wrap(ErrWindowConflict, err.Error())
		}
		return Window{Mode: ModeRangeMonths, Periods: periods}, nil
	}
	if closeMonthFrom != "" {
		return monthWindow(closeMonthFrom)
	}
	if closeMonthTo != "" {
		return monthWindow(closeMonthTo)
	}
	if yearFrom != 0 {
		if _, _, err := domain.ParsePeriod(fmt.Sprintf("01/%04d", yearFrom)); err != nil {
			return Window{}, errors.Wrapf(ErrWindowConflict, "year %v out of range", yearFrom)
		}
		return Window{Mode: ModeFullYear, Year: yearFrom}, nil
	}
	return Window{Mode: ModeFullAll}, nil
}

func monthWindow(period string) (Window, error) {
	if _, _, err := domain.ParsePeriod(period); err != nil {
		return Window{}, errors.Wrap(ErrWindowConflict, err.Error())
	}
	return Window{Mode: ModeFullMonth, Periods: []string{period}}, nil
}

// Contains reports whether the period key lies inside the window.
func (w Window) Contains(period string) bool {
	switch w.Mode {
	case ModeFullAll:
		return true
	case ModeFullYear:
		year, err := domain.PeriodYear(period)
		return err == nil && year == w.Year
	default:
		for _, p := range w.Periods {
			if p == period {
				return true
			}
		}
		return false
	}
}

// DeletePredicate renders the window as a SQL predicate over the given period
// column, with args to bind. An empty predicate means the whole table is in scope.
func (w Window) DeletePredicate(periodCol string) (string, []interface{}) {
	switch w.Mode {
	case ModeFullAll:
		return "", nil
	case ModeFullYear:
		// Period labels are MM/YYYY so the year starts at offset 4 (1-based in sqlite).
		return fmt.Sprintf("substr(%v,4,4) = ?", periodCol), []interface{}{fmt.Sprintf("%04d", w.Year)}
	default:
		placeholders := make([]string, len(w.Periods))
		args := make([]interface{}, len(w.Periods))
		for i, p := range w.Periods {
			placeholders[i] = "?"
			args[i] = p
		}
		return fmt.Sprintf("%v in (%v)", periodCol, strings.Join(placeholders, ",")), args
	}
}

func (w Window) String() string {
	switch w.Mode {
	case ModeFullAll:
		return string(w.Mode)
	case ModeFullYear:
		return fmt.Sprintf("%v year=%v", w.Mode, w.Year)
	default:
		return fmt.Sprintf("%v periods=%v", w.Mode, w.Periods)
	}
}
