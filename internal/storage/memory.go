package storage

import (
	"iter"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"logpipe/internal/metrics"
	"logpipe/internal/schema"
)

// SortTimestamp orders query results by record timestamp.
const SortTimestamp = "timestamp"

// Filter selects records. Zero-valued fields match everything and set
// fields are ANDed.
type Filter struct {
	Category      string
	Severity      string // case-insensitive
	Username      string
	IsBlacklisted *bool
	Limit         int    // <= 0 means unlimited
	Sort          string // SortTimestamp or insertion order
}

func (f Filter) matches(rec *schema.StoredRecord) bool {
	if f.Category != "" && rec.EventCategory != f.Category {
		return false
	}
	if f.Severity != "" && !strings.EqualFold(rec.Severity, f.Severity) {
		return false
	}
	if f.Username != "" && (rec.Username == nil || *rec.Username != f.Username) {
		return false
	}
	if f.IsBlacklisted != nil && rec.IsBlacklisted != *f.IsBlacklisted {
		return false
	}
	return true
}

// MemoryStore is an append-only, insertion-ordered record store. It expects
// a single writer and any number of concurrent readers.
type MemoryStore struct {
	mu      sync.RWMutex
	records []schema.StoredRecord

	total      atomic.Int64
	countersMu sync.RWMutex
	byCategory map[string]*atomic.Int64
	bySeverity map[string]*atomic.Int64

	pipeline *metrics.Pipeline
}

// NewMemoryStore creates an empty store. pipeline may be nil.
func NewMemoryStore(pipeline *metrics.Pipeline) *MemoryStore {
	return &MemoryStore{
		records:    make([]schema.StoredRecord, 0, 1024),
		byCategory: make(map[string]*atomic.Int64),
		bySeverity: make(map[string]*atomic.Int64),
		pipeline:   pipeline,
	}
}

// Append stores a copy of rec whose Seq is its 1-based insertion position.
// rec itself is not modified.
func (s *MemoryStore) Append(rec *schema.StoredRecord) error {
	if rec == nil {
		return &StorageError{Op: "Append", Err: ErrInvalidData}
	}

	stored := *rec
	s.mu.Lock()
	stored.Seq = uint64(len(s.records)) + 1
	s.records = append(s.records, stored)
	s.mu.Unlock()

	s.total.Add(1)
	s.counter(s.byCategory, rec.EventCategory).Add(1)
	s.counter(s.bySeverity, strings.ToLower(rec.Severity)).Add(1)
	s.pipeline.Stored(rec.EventCategory)

	return nil
}

func (s *MemoryStore) counter(m map[string]*atomic.Int64, key string) *atomic.Int64 {
	s.countersMu.RLock()
	c, ok := m[key]
	s.countersMu.RUnlock()
	if ok {
		return c
	}

	s.countersMu.Lock()
	defer s.countersMu.Unlock()
	if c, ok = m[key]; !ok {
		c = new(atomic.Int64)
		m[key] = c
	}
	return c
}

// snapshot returns the records appended so far. Stored elements are never
// rewritten, so the returned slice stays valid while appends continue.
func (s *MemoryStore) snapshot() []schema.StoredRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[:len(s.records):len(s.records)]
}

// Query returns the records matching f. The sequence is lazy and each
// range over it re-reads the current store contents.
func (s *MemoryStore) Query(f Filter) iter.Seq[schema.StoredRecord] {
	return func(yield func(schema.StoredRecord) bool) {
		records := s.snapshot()

		if f.Sort != SortTimestamp {
			n := 0
			for i := range records {
				if !f.matches(&records[i]) {
					continue
				}
				if !yield(records[i]) {
					return
				}
				n++
				if f.Limit > 0 && n >= f.Limit {
					return
				}
			}
			return
		}

		matched := make([]*schema.StoredRecord, 0)
		for i := range records {
			if f.matches(&records[i]) {
				matched = append(matched, &records[i])
			}
		}
		slices.SortStableFunc(matched, compareTimestamp)

		if f.Limit > 0 && len(matched) > f.Limit {
			matched = matched[:f.Limit]
		}
		for _, rec := range matched {
			if !yield(*rec) {
				return
			}
		}
	}
}

// compareTimestamp orders by timestamp string with empty timestamps last.
func compareTimestamp(a, b *schema.StoredRecord) int {
	switch {
	case a.Timestamp == b.Timestamp:
		return 0
	case a.Timestamp == "":
		return 1
	case b.Timestamp == "":
		return -1
	}
	return strings.Compare(a.Timestamp, b.Timestamp)
}

// Metrics returns a snapshot of the counters. Concurrent appends may land
// between individual reads.
func (s *MemoryStore) Metrics() schema.MetricsState {
	s.countersMu.RLock()
	defer s.countersMu.RUnlock()

	state := schema.MetricsState{
		TotalProcessed: s.total.Load(),
		ByCategory:     make(map[string]int64, len(s.byCategory)),
		BySeverity:     make(map[string]int64, len(s.bySeverity)),
	}
	for k, v := range s.byCategory {
		state.ByCategory[k] = v.Load()
	}
	for k, v := range s.bySeverity {
		state.BySeverity[k] = v.Load()
	}
	return state
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
