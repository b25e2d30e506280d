package spill

import "github.com/espejodata/espejo/domain"

// MemorySpill is an in-memory Staging implementation used under test and for
// very small extracts where a temp file is not worth it.
type MemorySpill struct {
	records []domain.NormalizedRecord
}

func NewMemorySpill() *MemorySpill {
	return &MemorySpill{}
}

func (s *MemorySpill) Append(rec domain.NormalizedRecord) error {
	s.records = append(s.records, rec)
	return nil
}

func (s *MemorySpill) Count() int64 {
	return int64(len(s.records))
}

func (s *MemorySpill) scan(fn func(rec domain.NormalizedRecord) error) error {
	for _, rec := range s.records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemorySpill) IterateChunks(chunkSize int, fn func(recs []domain.NormalizedRecord) error) error {
	return iterateChunks(s, "", chunkSize, fn)
}

func (s *MemorySpill) CountByPeriod() (map[string]int64, error) {
	counts := make(map[string]int64)
	err := s.scan(func(rec domain.NormalizedRecord) error {
		counts[rec.PeriodKey()]++
		return nil
	})
	return counts, err
}

func (s *MemorySpill) IteratePeriod(period string, chunkSize int, fn func(recs []domain.NormalizedRecord) error) error {
	return iterateChunks(s, period, chunkSize, fn)
}

func (s *MemorySpill) Dispose() {
	s.records = nil
}
