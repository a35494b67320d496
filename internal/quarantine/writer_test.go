package quarantine

import (
	"context"
	"testing"
	"time"
)

type fakeStore struct {
	inserted []Record
}

func (f *fakeStore) Insert(ctx context.Context, rec Record) error {
	f.inserted = append(f.inserted, rec)
	return nil
}
func (f *fakeStore) List(ctx context.Context, filter ListFilter) ([]Record, error) { return nil, nil }
func (f *fakeStore) Get(ctx context.Context, id string) (Record, error)            { return Record{}, nil }
func (f *fakeStore) CountByPayloadRef(ctx context.Context, ref string) (int, error) {
	return 0, nil
}
func (f *fakeStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	return nil, nil
}
func (f *fakeStore) Close() error { return nil }

type fakeBlobs struct {
	put []byte
}

func (f *fakeBlobs) Put(ctx context.Context, payload []byte) (string, error) {
	f.put = payload
	return "ref-123", nil
}

func testQuarantineStampsPayloadRef(t *testing.T) {
	store := &fakeStore{}
	blobs := &fakeBlobs{}
	w := NewWriter(store, blobs)

	rec, err := NewRecord("a/b", "client-1", 0, false, ReasonInternalError, "boom", "", "", 3, time.Now())
	if err != nil {
		t.Fatalf("NewRecord: %s", err)
	}
	if err := w.Quarantine(context.Background(), rec, []byte("abc")); err != nil {
		t.Fatalf("Quarantine: %s", err)
	}

	if len(store.inserted) != 1 {
		t.Fatalf("expected 1 inserted record, got %d", len(store.inserted))
	}
	if store.inserted[0].PayloadRef != "ref-123" {
		t.Fatalf("expected payload ref to be stamped, got %q", store.inserted[0].PayloadRef)
	}
	if string(blobs.put) != "abc" {
		t.Fatalf("expected payload to be forwarded to blob store, got %q", blobs.put)
	}
}

func testQuarantineSkipsBlobForEmptyPayload(t *testing.T) {
	store := &fakeStore{}
	blobs := &fakeBlobs{}
	w := NewWriter(store, blobs)

	rec, err := NewRecord("a/b", "client-1", 0, false, ReasonTopicNotAllowed, "", "", "", 0, time.Now())
	if err != nil {
		t.Fatalf("NewRecord: %s", err)
	}
	if err := w.Quarantine(context.Background(), rec, nil); err != nil {
		t.Fatalf("Quarantine: %s", err)
	}
	if store.inserted[0].PayloadRef != "" {
		t.Fatalf("expected no payload ref when payload is empty, got %q", store.inserted[0].PayloadRef)
	}
}

func TestWriter(t *testing.T) {
	tests := []struct {
		name string
		fct  func(t *testing.T)
	}{
		{"quarantine stamps payload ref", testQuarantineStampsPayloadRef},
		{"quarantine skips blob for empty payload", testQuarantineSkipsBlobForEmptyPayload},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.fct(t)
		})
	}
}
