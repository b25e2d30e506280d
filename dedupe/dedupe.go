package dedupe

import "github.com/espejodata/espejo/domain"

// Deduper collapses records sharing a business key within one run: the first
// record per key is kept, later repeats are dropped and counted. This guards the
// upsert layer against receiving two payloads for the same key inside one
// statement batch, which the destination rejects.
type Deduper struct {
	seen       map[string]struct{}
	duplicates int64
}

func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]struct{})}
}

// Keep reports whether rec is the first occurrence of its business key in this run.
// Repeats increment the duplicate counter and should be dropped by the caller.
func (d *Deduper) Keep(rec domain.NormalizedRecord) bool {
	key := rec.BusinessKey()
	if _, ok := d.seen[key]; ok { // if we have already passed this key downstream...
		d.duplicates++
		return false
	}
	d.seen[key] = struct{}{}
	return true
}

// Duplicates returns how many records were dropped so far.
func (d *Deduper) Duplicates() int64 {
	return d.duplicates
}

// Seen returns how many distinct business keys passed through so far.
func (d *Deduper) Seen() int64 {
	return int64(len(d.seen))
}
