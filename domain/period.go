package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/espejodata/espejo/constants"
	"github.com/pkg/errors"
)

// Periods are MM/YYYY labels identifying the reporting month a record belongs to.

// ParsePeriod validates an MM/YYYY label and returns its month and year.
// Month must be in [1,12] and year in [2000,2100].
func ParsePeriod(s string) (month int, year int, err error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("period %q is not in MM/YYYY format", s)
	}
	month, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, errors.Wrapf(err, "period %q has a bad month", s)
	}
	year, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, errors.Wrapf(err, "period %q has a bad year", s)
	}
	if month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("period %q month out of range", s)
	}
	if year < constants.PeriodYearMin || year > constants.PeriodYearMax {
		return 0, 0, fmt.Errorf("period %q year out of range", s)
	}
	return month, year, nil
}

// IsValidPeriod reports whether s is a well formed MM/YYYY label.
func IsValidPeriod(s string) bool {
	_, _, err := ParsePeriod(s)
	return err == nil
}

// FormatPeriod renders MM/YYYY from a month and year.
func FormatPeriod(month int, year int) string {
	return fmt.Sprintf("%02d/%04d", month, year)
}

// PeriodFromTime derives the MM/YYYY label for the month containing t.
func PeriodFromTime(t time.Time) string {
	return t.Format(constants.PeriodFormat)
}

// PeriodYear extracts the year component of a valid period label.
func PeriodYear(s string) (int, error) {
	_, year, err := ParsePeriod(s)
	return year, err
}

// PeriodsBetween returns the contiguous inclusive range of period labels from..to.
// An inverted range (from after to) is an error.
func PeriodsBetween(from string, to string) ([]string, error) {
	fm, fy, err := ParsePeriod(from)
	if err != nil {
		return nil, err
	}
	tm, ty, err := ParsePeriod(to)
	if err != nil {
		return nil, err
	}
	if fy > ty || (fy == ty && fm > tm) { // if the range is inverted...
		return nil, fmt.Errorf("period range %v..%v is inverted", from, to)
	}
	periods := make([]string, 0, (ty-fy)*12+(tm-fm)+1)
	m, y := fm, fy
	for {
		periods = append(periods, FormatPeriod(m, y))
		if m == tm && y == ty {
			break
		}
		m++
		if m > 12 {
			m = 1
			y++
		}
	}
	return periods, nil
}
