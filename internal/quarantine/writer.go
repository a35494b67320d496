package quarantine

import (
	"context"
	"fmt"
)

// BlobPutter persists a payload and returns its content address. Satisfied
// by blobstore.Store.
type BlobPutter interface {
	Put(ctx context.Context, payload []byte) (ref string, err error)
}

// Writer combines a metadata Store with a BlobPutter into the single
// Quarantine operation the pipeline calls: persist the payload blob (if
// any), stamp the record with its content address, then insert the
// record.
type Writer struct {
	store Store
	blobs BlobPutter
}

// NewWriter returns a Writer backed by store and blobs.
func NewWriter(store Store, blobs BlobPutter) *Writer {
	return &Writer{store: store, blobs: blobs}
}

// Quarantine persists payload to the blob store (when non-empty and a
// blob store is configured) and records rec with the resulting reference.
func (w *Writer) Quarantine(ctx context.Context, rec Record, payload []byte) error {
	if w.blobs != nil && len(payload) > 0 {
		ref, err := w.blobs.Put(ctx, payload)
		if err != nil {
			return fmt.Errorf("quarantine: failed to persist payload: %w", err)
		}
		rec.PayloadRef = ref
	}
	if err := w.store.Insert(ctx, rec); err != nil {
		return fmt.Errorf("quarantine: failed to insert record: %w", err)
	}
	return nil
}
