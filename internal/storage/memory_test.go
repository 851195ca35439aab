package storage

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"logpipe/internal/schema"
)

func mkRecord(category, severity, username, ts string, blacklisted bool) *schema.StoredRecord {
	rec := schema.Record{
		Timestamp:       ts,
		EventCategory:   category,
		EventSourceType: schema.SourceUnknown,
		Severity:        severity,
		RawMessage:      fmt.Sprintf("%s %s %s", category, severity, username),
		IsBlacklisted:   blacklisted,
	}
	if username != "" {
		rec.Username = schema.StringPtr(username)
	}
	return schema.NewStoredRecord(rec, time.Now())
}

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(nil)
	records := []*schema.StoredRecord{
		mkRecord(schema.CategoryLinuxLogin, "DEBUG", "root", "2024-01-01T00:00:03.000000000Z", true),
		mkRecord(schema.CategoryWindowsLogin, "INFO", "Motadata", "2024-01-01T00:00:01.000000000Z", false),
		mkRecord(schema.CategoryLinuxLogin, "INFO", "alice", "", false),
		mkRecord(schema.CategoryLinuxLogout, "WARN", "root", "2024-01-01T00:00:02.000000000Z", true),
		mkRecord(schema.CategoryUnknown, "ERROR", "", "2024-01-01T00:00:00.000000000Z", false),
		mkRecord(schema.CategoryLinuxLogin, "DEBUG", "admin", "2024-01-01T00:00:01.000000000Z", true),
	}
	for _, r := range records {
		if err := s.Append(r); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	return s
}

func boolPtr(b bool) *bool { return &b }

func seqs(s *MemoryStore, f Filter) []uint64 {
	var out []uint64
	for rec := range s.Query(f) {
		out = append(out, rec.Seq)
	}
	return out
}

func TestMemoryStore_AppendAssignsSeq(t *testing.T) {
	s := NewMemoryStore(nil)
	rec := mkRecord(schema.CategoryUnknown, "INFO", "", "", false)
	if err := s.Append(rec); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(rec); err != nil {
		t.Fatal(err)
	}
	if rec.Seq != 0 {
		t.Errorf("Append() modified the caller's record: Seq = %d", rec.Seq)
	}
	if got := seqs(s, Filter{}); !slices.Equal(got, []uint64{1, 2}) {
		t.Errorf("seqs = %v, want [1 2]", got)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
}

func TestMemoryStore_AppendNil(t *testing.T) {
	s := NewMemoryStore(nil)
	err := s.Append(nil)
	if !errors.Is(err, ErrInvalidData) {
		t.Errorf("Append(nil) error = %v, want ErrInvalidData", err)
	}
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "Append" {
		t.Errorf("Append(nil) error = %v, want *StorageError{Op: Append}", err)
	}
}

func TestMemoryStore_QueryFilters(t *testing.T) {
	s := seedStore(t)

	tests := []struct {
		name   string
		filter Filter
		want   []uint64
	}{
		{"no filter", Filter{}, []uint64{1, 2, 3, 4, 5, 6}},
		{"category", Filter{Category: schema.CategoryLinuxLogin}, []uint64{1, 3, 6}},
		{"category is exact", Filter{Category: "LINUX_LOGIN"}, nil},
		{"severity ignores case", Filter{Severity: "debug"}, []uint64{1, 6}},
		{"username exact", Filter{Username: "root"}, []uint64{1, 4}},
		{"username case matters", Filter{Username: "motadata"}, nil},
		{"blacklisted", Filter{IsBlacklisted: boolPtr(true)}, []uint64{1, 4, 6}},
		{"not blacklisted", Filter{IsBlacklisted: boolPtr(false)}, []uint64{2, 3, 5}},
		{"category and severity", Filter{Category: schema.CategoryLinuxLogin, Severity: "INFO"}, []uint64{3}},
		{"limit", Filter{Limit: 2}, []uint64{1, 2}},
		{"limit larger than result", Filter{Category: schema.CategoryLinuxLogout, Limit: 10}, []uint64{4}},
		{"unknown sort keeps insertion order", Filter{Sort: "severity"}, []uint64{1, 2, 3, 4, 5, 6}},
		{"sort by timestamp", Filter{Sort: SortTimestamp}, []uint64{5, 2, 6, 4, 1, 3}},
		{"sort then limit", Filter{Sort: SortTimestamp, Limit: 3}, []uint64{5, 2, 6}},
		{"sort with filter", Filter{Sort: SortTimestamp, Category: schema.CategoryLinuxLogin}, []uint64{6, 1, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := seqs(s, tt.filter); !slices.Equal(got, tt.want) {
				t.Errorf("Query(%+v) = %v, want %v", tt.filter, got, tt.want)
			}
		})
	}
}

func TestMemoryStore_FiltersAreConjunctive(t *testing.T) {
	s := seedStore(t)

	singles := []Filter{
		{Category: schema.CategoryLinuxLogin},
		{Severity: "debug"},
		{Username: "root"},
		{IsBlacklisted: boolPtr(true)},
	}
	for i := range singles {
		for j := range singles {
			if i == j {
				continue
			}
			a, b := seqs(s, singles[i]), seqs(s, singles[j])
			var want []uint64
			for _, x := range a {
				if slices.Contains(b, x) {
					want = append(want, x)
				}
			}

			combined := singles[i]
			if singles[j].Category != "" {
				combined.Category = singles[j].Category
			}
			if singles[j].Severity != "" {
				combined.Severity = singles[j].Severity
			}
			if singles[j].Username != "" {
				combined.Username = singles[j].Username
			}
			if singles[j].IsBlacklisted != nil {
				combined.IsBlacklisted = singles[j].IsBlacklisted
			}

			if got := seqs(s, combined); !slices.Equal(got, want) {
				t.Errorf("Query(%+v) = %v, want intersection %v", combined, got, want)
			}
		}
	}
}

func TestMemoryStore_SortNonDecreasingEmptyLast(t *testing.T) {
	s := NewMemoryStore(nil)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		ts := ""
		if i%7 != 0 {
			ts = schema.FormatTimestamp(base.Add(time.Duration((i*37)%50) * time.Millisecond))
		}
		s.Append(mkRecord(schema.CategoryUnknown, "INFO", "", ts, false))
	}

	var got []string
	for rec := range s.Query(Filter{Sort: SortTimestamp}) {
		got = append(got, rec.Timestamp)
	}
	if len(got) != 50 {
		t.Fatalf("got %d records, want 50", len(got))
	}

	seenEmpty := false
	for i, ts := range got {
		if ts == "" {
			seenEmpty = true
			continue
		}
		if seenEmpty {
			t.Fatalf("non-empty timestamp at %d after an empty one", i)
		}
		if i > 0 && got[i-1] > ts {
			t.Fatalf("timestamps decrease at %d: %s > %s", i, got[i-1], ts)
		}
	}
}

func TestMemoryStore_QueryIsRestartable(t *testing.T) {
	s := seedStore(t)
	seq := s.Query(Filter{Category: schema.CategoryLinuxLogin})

	first := 0
	for range seq {
		first++
	}

	s.Append(mkRecord(schema.CategoryLinuxLogin, "INFO", "bob", "", false))

	second := 0
	for range seq {
		second++
	}
	if first != 3 || second != 4 {
		t.Errorf("first = %d, second = %d, want 3 and 4", first, second)
	}

	// Early break stops iteration.
	n := 0
	for range seq {
		n++
		break
	}
	if n != 1 {
		t.Errorf("break yielded %d, want 1", n)
	}
}

func TestMemoryStore_Metrics(t *testing.T) {
	s := NewMemoryStore(nil)
	for _, c := range []string{schema.CategoryLinuxLogin, schema.CategoryWindowsLogin, schema.CategoryLinuxLogin} {
		s.Append(mkRecord(c, "INFO", "", "", false))
	}
	s.Append(mkRecord(schema.CategoryUnknown, "WARN", "", "", false))

	m := s.Metrics()
	if m.TotalProcessed != 4 {
		t.Errorf("TotalProcessed = %d, want 4", m.TotalProcessed)
	}
	if m.ByCategory[schema.CategoryLinuxLogin] != 2 || m.ByCategory[schema.CategoryWindowsLogin] != 1 {
		t.Errorf("ByCategory = %v", m.ByCategory)
	}
	if m.BySeverity["info"] != 3 || m.BySeverity["warn"] != 1 {
		t.Errorf("BySeverity = %v, want lower-cased keys", m.BySeverity)
	}

	// Returned maps are copies.
	m.ByCategory[schema.CategoryLinuxLogin] = 100
	if s.Metrics().ByCategory[schema.CategoryLinuxLogin] != 2 {
		t.Error("Metrics() exposed internal state")
	}
}

func TestMemoryStore_ConcurrentReadersSingleWriter(t *testing.T) {
	s := NewMemoryStore(nil)
	const n = 2000

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for range s.Query(Filter{Sort: SortTimestamp, Limit: 10}) {
				}
				_ = s.Metrics()
			}
		}()
	}

	for i := 0; i < n; i++ {
		s.Append(mkRecord(schema.CategoryUnknown, "INFO", "", schema.FormatTimestamp(time.Now()), false))
	}
	close(stop)
	wg.Wait()

	m := s.Metrics()
	var sumCat, sumSev int64
	for _, v := range m.ByCategory {
		sumCat += v
	}
	for _, v := range m.BySeverity {
		sumSev += v
	}
	if m.TotalProcessed != n || sumCat != n || sumSev != n {
		t.Errorf("total = %d, sum(category) = %d, sum(severity) = %d, want %d", m.TotalProcessed, sumCat, sumSev, n)
	}
}
