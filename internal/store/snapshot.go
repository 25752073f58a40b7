// Package store holds the ordered comic metadata collection shared by the
// file and Postgres backends. A Snapshot is immutable; backends publish a new
// one after every successful Append so readers never need to hold a lock
// while scanning.
package store

import "github.com/JakeFAU/xkcd-mirror/internal/comic"

// Snapshot is an immutable, insertion-ordered view of the metadata.
type Snapshot struct {
	records []comic.Record
	index   map[int]int
}

// NewSnapshot builds a snapshot, keeping the first record seen for each number.
func NewSnapshot(records []comic.Record) *Snapshot {
	s := &Snapshot{
		records: make([]comic.Record, 0, len(records)),
		index:   make(map[int]int, len(records)),
	}
	for _, rec := range records {
		if _, dup := s.index[rec.Number]; dup {
			continue
		}
		s.index[rec.Number] = len(s.records)
		s.records = append(s.records, rec)
	}
	return s
}

// Records returns a copy of the ordered records.
func (s *Snapshot) Records() []comic.Record {
	out := make([]comic.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	return len(s.records)
}

// Find looks a record up by comic number.
func (s *Snapshot) Find(number int) (comic.Record, bool) {
	i, ok := s.index[number]
	if !ok {
		return comic.Record{}, false
	}
	return s.records[i], true
}

// Numbers returns the set of comic numbers present.
func (s *Snapshot) Numbers() map[int]struct{} {
	out := make(map[int]struct{}, len(s.index))
	for n := range s.index {
		out[n] = struct{}{}
	}
	return out
}

// Extend returns a new snapshot with batch appended in order. Records whose
// number is already present (or repeated within batch) are dropped; the
// accepted ones are returned alongside.
func (s *Snapshot) Extend(batch []comic.Record) (*Snapshot, []comic.Record) {
	var added []comic.Record
	seen := make(map[int]struct{}, len(batch))
	for _, rec := range batch {
		if _, ok := s.index[rec.Number]; ok {
			continue
		}
		if _, ok := seen[rec.Number]; ok {
			continue
		}
		seen[rec.Number] = struct{}{}
		added = append(added, rec)
	}
	if len(added) == 0 {
		return s, nil
	}

	next := &Snapshot{
		records: make([]comic.Record, 0, len(s.records)+len(added)),
		index:   make(map[int]int, len(s.index)+len(added)),
	}
	next.records = append(next.records, s.records...)
	for n, i := range s.index {
		next.index[n] = i
	}
	for _, rec := range added {
		next.index[rec.Number] = len(next.records)
		next.records = append(next.records, rec)
	}
	return next, added
}
