package spill

import (
	"os"
	"testing"

	"github.com/espejodata/espejo/domain"
	"github.com/sirupsen/logrus"
)

func makeRecord(contract string, gestionMonth string) domain.NormalizedRecord {
	return domain.NormalizedRecord{
		Domain:       domain.DomainCobranzas,
		ContractID:   contract,
		GestionMonth: gestionMonth,
		ContentHash:  "hash-" + contract,
	}
}

func TestDiskSpillRoundTrip(t *testing.T) {
	log := logrus.New()
	s, err := NewDiskSpill(log)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Dispose()

	for i, contract := range []string{"C1", "C2", "C3", "C4", "C5"} {
		period := "01/2026"
		if i >= 3 {
			period = "02/2026"
		}
		if err := s.Append(makeRecord(contract, period)); err != nil {
			t.Fatal(err)
		}
	}
	if s.Count() != 5 {
		t.Fatal("expected 5 staged records, got ", s.Count())
	}

	// Chunked replay preserves insertion order and respects the chunk size.
	var chunks [][]domain.NormalizedRecord
	if err := s.IterateChunks(2, func(recs []domain.NormalizedRecord) error {
		chunk := make([]domain.NormalizedRecord, len(recs))
		copy(chunk, recs)
		chunks = append(chunks, chunk)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 { // 2 + 2 + 1
		t.Fatal("expected 3 chunks, got ", len(chunks))
	}
	if chunks[0][0].ContractID != "C1" || chunks[2][0].ContractID != "C5" {
		t.Fatal("records replayed out of order: ", chunks)
	}

	// The per-period pre-count matches what the period replay yields.
	counts, err := s.CountByPeriod()
	if err != nil {
		t.Fatal(err)
	}
	if counts["01/2026"] != 3 || counts["02/2026"] != 2 {
		t.Fatal("unexpected per-period counts: ", counts)
	}
	var got int
	if err := s.IteratePeriod("02/2026", 10, func(recs []domain.NormalizedRecord) error {
		got += len(recs)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Fatal("expected 2 records for 02/2026, got ", got)
	}
}

func TestDiskSpillDisposeRemovesFile(t *testing.T) {
	log := logrus.New()
	s, err := NewDiskSpill(log)
	if err != nil {
		t.Fatal(err)
	}
	name := s.file.Name()
	if err := s.Append(makeRecord("C1", "01/2026")); err != nil {
		t.Fatal(err)
	}
	s.Dispose()
	s.Dispose() // second dispose is a no-op.
	if _, err := os.Stat(name); !os.IsNotExist(err) {
		t.Fatal("spill file should be removed on dispose")
	}
}

func TestMemorySpillMatchesDiskBehaviour(t *testing.T) {
	s := NewMemorySpill()
	_ = s.Append(makeRecord("C1", "01/2026"))
	_ = s.Append(makeRecord("C2", "02/2026"))
	counts, err := s.CountByPeriod()
	if err != nil {
		t.Fatal(err)
	}
	if counts["01/2026"] != 1 || counts["02/2026"] != 1 {
		t.Fatal("unexpected counts: ", counts)
	}
	if err := s.IterateChunks(0, func([]domain.NormalizedRecord) error { return nil }); err == nil {
		t.Fatal("chunk size 0 must be rejected")
	}
	s.Dispose()
	if s.Count() != 0 {
		t.Fatal("dispose should drop staged records")
	}
}
