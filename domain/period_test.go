package domain

import "testing"

func TestParsePeriod(t *testing.T) {
	month, year, err := ParsePeriod("01/2026")
	if err != nil {
		t.Fatal(err)
	}
	if month != 1 || year != 2026 {
		t.Fatalf("got %v/%v", month, year)
	}
	bad := []string{"", "2026", "13/2026", "00/2026", "01/1999", "01/2101", "1/x"}
	for _, s := range bad {
		if _, _, err := ParsePeriod(s); err == nil {
			t.Fatalf("period %q should be rejected", s)
		}
	}
}

func TestPeriodsBetween(t *testing.T) {
	got, err := PeriodsBetween("11/2025", "02/2026")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"11/2025", "12/2025", "01/2026", "02/2026"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}

	// A single month range is allowed.
	got, err = PeriodsBetween("01/2026", "01/2026")
	if err != nil || len(got) != 1 {
		t.Fatalf("got %v, %v", got, err)
	}

	// Inverted ranges must be rejected before anything runs.
	if _, err := PeriodsBetween("02/2026", "01/2026"); err == nil {
		t.Fatal("inverted range should be rejected")
	}
}
