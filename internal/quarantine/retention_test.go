package quarantine

import (
	"context"
	"testing"
	"time"
)

type fakeRetentionStore struct {
	records []Record
	purged  []time.Time
}

func (f *fakeRetentionStore) Insert(ctx context.Context, rec Record) error { return nil }

func (f *fakeRetentionStore) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	return f.records, nil
}

func (f *fakeRetentionStore) Get(ctx context.Context, id string) (Record, error) {
	return Record{}, nil
}

func (f *fakeRetentionStore) CountByPayloadRef(ctx context.Context, ref string) (int, error) {
	return 0, nil
}

func (f *fakeRetentionStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	f.purged = append(f.purged, cutoff)
	var refs []string
	kept := f.records[:0]
	for _, rec := range f.records {
		if rec.QuarantinedAt.Before(cutoff) {
			refs = append(refs, rec.PayloadRef)
			continue
		}
		kept = append(kept, rec)
	}
	f.records = kept
	return refs, nil
}

func (f *fakeRetentionStore) Close() error { return nil }

type fakeReaper struct {
	referenced map[string]bool
	reaped     int
}

func (f *fakeReaper) ReapOrphans(referenced map[string]bool) (int, error) {
	f.referenced = referenced
	return f.reaped, nil
}

func testRetentionPurgesByAge(t *testing.T) {
	now := time.Now()
	store := &fakeRetentionStore{records: []Record{
		{ID: "old", PayloadRef: "ref-old", QuarantinedAt: now.AddDate(0, 0, -40)},
		{ID: "new", PayloadRef: "ref-new", QuarantinedAt: now},
	}}
	reaper := &fakeReaper{reaped: 1}
	r := NewRetention(store, reaper, nil, time.Hour, 30, 0)

	r.Sweep(context.Background())

	if len(store.records) != 1 || store.records[0].ID != "new" {
		t.Fatalf("expected only the new record to survive, got %+v", store.records)
	}
	if !reaper.referenced["ref-new"] {
		t.Fatal("expected surviving record's ref to be passed to the reaper as referenced")
	}
	if reaper.referenced["ref-old"] {
		t.Fatal("expected purged record's ref not to be marked referenced")
	}
}

func testRetentionSkipsWhenNothingExpired(t *testing.T) {
	store := &fakeRetentionStore{records: []Record{
		{ID: "new", PayloadRef: "ref-new", QuarantinedAt: time.Now()},
	}}
	reaper := &fakeReaper{}
	r := NewRetention(store, reaper, nil, time.Hour, 30, 0)

	r.Sweep(context.Background())

	if reaper.referenced != nil {
		t.Fatal("expected reaper not to be invoked when nothing was purged")
	}
}

func testRetentionEvictsOldestFirstWhenOverSizeCeiling(t *testing.T) {
	now := time.Now()
	store := &fakeRetentionStore{records: []Record{
		{ID: "newest", PayloadRef: "ref-3", QuarantinedAt: now, PayloadSize: 100},
		{ID: "middle", PayloadRef: "ref-2", QuarantinedAt: now.Add(-time.Minute), PayloadSize: 100},
		{ID: "oldest", PayloadRef: "ref-1", QuarantinedAt: now.Add(-2 * time.Minute), PayloadSize: 100},
	}}
	reaper := &fakeReaper{}
	// cleanup_days disabled, max_size forces eviction of the oldest
	// record even though none of them is expired by age.
	r := NewRetention(store, reaper, nil, time.Hour, 0, 250)

	r.Sweep(context.Background())

	if len(store.records) != 2 {
		t.Fatalf("expected one record evicted to satisfy the size ceiling, got %d remaining", len(store.records))
	}
	for _, rec := range store.records {
		if rec.ID == "oldest" {
			t.Fatal("expected the oldest record to be evicted first")
		}
	}
}

func testRetentionDisabledWhenUnconfigured(t *testing.T) {
	store := &fakeRetentionStore{records: []Record{
		{ID: "old", PayloadRef: "ref-old", QuarantinedAt: time.Now().AddDate(-1, 0, 0)},
	}}
	r := NewRetention(store, nil, nil, time.Hour, 0, 0)

	r.Sweep(context.Background())

	if len(store.purged) != 0 {
		t.Fatal("expected no purge when both cleanup_days and max_size are unset")
	}
}

func TestRetention(t *testing.T) {
	tests := []struct {
		name string
		fct  func(t *testing.T)
	}{
		{"purges by age", testRetentionPurgesByAge},
		{"skips when nothing expired", testRetentionSkipsWhenNothingExpired},
		{"evicts oldest first when over size ceiling", testRetentionEvictsOldestFirstWhenOverSizeCeiling},
		{"disabled when unconfigured", testRetentionDisabledWhenUnconfigured},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.fct(t)
		})
	}
}
