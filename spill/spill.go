package spill

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/espejodata/espejo/domain"
	"github.com/espejodata/espejo/logger"
	"github.com/pkg/errors"
)

// Staging buffers normalized records between the extraction and upsert phases so
// peak memory stays O(chunk size) instead of O(row count). Implementations must
// be disposable on every exit path, success or failure.
type Staging interface {
	Append(rec domain.NormalizedRecord) error
	Count() int64
	// IterateChunks replays all staged records in insertion order, in chunks of at
	// most chunkSize records.
	IterateChunks(chunkSize int, fn func(recs []domain.NormalizedRecord) error) error
	// CountByPeriod scans the staged records once and returns counts per period key,
	// so per-period progress reporting is possible without holding records in memory.
	CountByPeriod() (map[string]int64, error)
	// IteratePeriod replays only the records whose period key matches period.
	IteratePeriod(period string, chunkSize int, fn func(recs []domain.NormalizedRecord) error) error
	Dispose()
}

// maxLineBytes bounds a single serialised record; raw legacy rows are wide but not huge.
const maxLineBytes = 1024 * 1024

// DiskSpill persists records one JSON object per line to a private temporary file.
type DiskSpill struct {
	log      logger.Logger
	file     *os.File
	writer   *bufio.Writer
	count    int64
	disposed bool
}

// NewDiskSpill creates the backing temporary file in the OS temp directory.
func NewDiskSpill(log logger.Logger) (*DiskSpill, error) {
	f, err := os.CreateTemp("", "espejo-spill-*.jsonl")
	if err != nil {
		return nil, errors.Wrap(err, "unable to create spill file")
	}
	log.Debug("created spill file ", f.Name())
	return &DiskSpill{log: log, file: f, writer: bufio.NewWriter(f)}, nil
}

func (s *DiskSpill) Append(rec domain.NormalizedRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "unable to serialise record for spill")
	}
	if _, err := s.writer.Write(b); err != nil {
		return errors.Wrap(err, "unable to write to spill file")
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return errors.Wrap(err, "unable to write to spill file")
	}
	s.count++
	return nil
}

func (s *DiskSpill) Count() int64 {
	return s.count
}

// scan replays every staged record through fn in file order.
func (s *DiskSpill) scan(fn func(rec domain.NormalizedRecord) error) error {
	if err := s.writer.Flush(); err != nil {
		return errors.Wrap(err, "unable to flush spill file")
	}
	if _, err := s.file.Seek(0, 0); err != nil {
		return errors.Wrap(err, "unable to rewind spill file")
	}
	scanner := bufio.NewScanner(s.file)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		var rec domain.NormalizedRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return errors.Wrap(err, "corrupt record in spill file")
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *DiskSpill) IterateChunks(chunkSize int, fn func(recs []domain.NormalizedRecord) error) error {
	return iterateChunks(s, "", chunkSize, fn)
}

func (s *DiskSpill) CountByPeriod() (map[string]int64, error) {
	counts := make(map[string]int64)
	err := s.scan(func(rec domain.NormalizedRecord) error {
		counts[rec.PeriodKey()]++
		return nil
	})
	return counts, err
}

func (s *DiskSpill) IteratePeriod(period string, chunkSize int, fn func(recs []domain.NormalizedRecord) error) error {
	return iterateChunks(s, period, chunkSize, fn)
}

// Dispose removes the backing file. It is safe to call more than once.
func (s *DiskSpill) Dispose() {
	if s.disposed {
		return
	}
	s.disposed = true
	name := s.file.Name()
	_ = s.file.Close()
	if err := os.Remove(name); err != nil {
		s.log.Warn("unable to remove spill file ", name, ": ", err)
	} else {
		s.log.Debug("removed spill file ", name)
	}
}

// scanner is the internal replay contract shared by the chunking helper.
type scanner interface {
	scan(fn func(rec domain.NormalizedRecord) error) error
}

// iterateChunks batches the replayed records, optionally filtered to one period.
func iterateChunks(s scanner, period string, chunkSize int, fn func(recs []domain.NormalizedRecord) error) error {
	if chunkSize < 1 {
		return errors.New("spill chunk size must be at least 1")
	}
	chunk := make([]domain.NormalizedRecord, 0, chunkSize)
	err := s.scan(func(rec domain.NormalizedRecord) error {
		if period != "" && rec.PeriodKey() != period { // if we're filtering and this record is for another period...
			return nil
		}
		chunk = append(chunk, rec)
		if len(chunk) == chunkSize { // if the chunk is full, release it downstream...
			if err := fn(chunk); err != nil {
				return err
			}
			chunk = chunk[:0]
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(chunk) > 0 { // flush the final partial chunk.
		return fn(chunk)
	}
	return nil
}
