package quarantine

import (
	"context"
	"time"

	"github.com/mqttgov/proxy/internal/logger"
)

// BlobReaper deletes blobs no longer referenced by any quarantine record.
// Satisfied by blobstore.Store.
type BlobReaper interface {
	ReapOrphans(referenced map[string]bool) (int, error)
}

// Retention periodically purges quarantine records older than
// cleanupDays and, when the recorded payload size total exceeds
// maxSizeBytes, evicts the oldest records first even before cleanupDays
// is reached. Blobs left with no referencing record after a purge are
// reaped from the blob store.
type Retention struct {
	store Store
	blobs BlobReaper
	lg    logger.Logger

	interval     time.Duration
	cleanupDays  int
	maxSizeBytes int64
}

// NewRetention returns a Retention sweeper. A non-positive cleanupDays
// disables the age-based purge; a non-positive maxSizeBytes disables the
// size-based eviction. blobs may be nil, in which case purged records'
// blobs are never reaped.
func NewRetention(store Store, blobs BlobReaper, lg logger.Logger, interval time.Duration, cleanupDays int, maxSizeBytes int64) *Retention {
	if lg == nil {
		lg = logger.Null
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Retention{
		store:        store,
		blobs:        blobs,
		lg:           lg,
		interval:     interval,
		cleanupDays:  cleanupDays,
		maxSizeBytes: maxSizeBytes,
	}
}

// Run sweeps at the configured interval until ctx is cancelled. It does
// nothing if neither cleanupDays nor maxSizeBytes is set.
func (r *Retention) Run(ctx context.Context) {
	if r.cleanupDays <= 0 && r.maxSizeBytes <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one purge-and-reap pass immediately.
func (r *Retention) Sweep(ctx context.Context) {
	cutoff, err := r.cutoff(ctx)
	if err != nil {
		r.lg.WithError(err).Printf("quarantine retention: failed to compute purge cutoff")
		return
	}
	if cutoff.IsZero() {
		return
	}

	refs, err := r.store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		r.lg.WithError(err).Printf("quarantine retention: failed to purge expired records")
		return
	}
	if len(refs) == 0 || r.blobs == nil {
		return
	}

	remaining, err := r.store.List(ctx, ListFilter{})
	if err != nil {
		r.lg.WithError(err).Printf("quarantine retention: failed to list remaining records")
		return
	}
	referenced := make(map[string]bool, len(remaining))
	for _, rec := range remaining {
		if rec.PayloadRef != "" {
			referenced[rec.PayloadRef] = true
		}
	}

	reaped, err := r.blobs.ReapOrphans(referenced)
	if err != nil {
		r.lg.WithError(err).Printf("quarantine retention: failed to reap orphaned blobs")
		return
	}
	r.lg.Printf("quarantine retention: purged records holding %d payload ref(s), reaped %d orphaned blob(s)", len(refs), reaped)
}

// cutoff returns the effective purge cutoff: the age-based cleanupDays
// cutoff, or later still if max_size is exceeded and oldest-first
// eviction needs to reach further back to bring the recorded payload
// size total back under the ceiling.
func (r *Retention) cutoff(ctx context.Context) (time.Time, error) {
	var ageCutoff time.Time
	if r.cleanupDays > 0 {
		ageCutoff = time.Now().AddDate(0, 0, -r.cleanupDays)
	}
	if r.maxSizeBytes <= 0 {
		return ageCutoff, nil
	}

	records, err := r.store.List(ctx, ListFilter{})
	if err != nil {
		return time.Time{}, err
	}

	var total int64
	for _, rec := range records {
		total += int64(rec.PayloadSize)
	}
	if total <= r.maxSizeBytes {
		return ageCutoff, nil
	}

	// List orders newest-first; walk from the tail (oldest) forward,
	// evicting until the total drops back under the ceiling.
	sizeCutoff := ageCutoff
	for i := len(records) - 1; i >= 0 && total > r.maxSizeBytes; i-- {
		total -= int64(records[i].PayloadSize)
		sizeCutoff = records[i].QuarantinedAt.Add(time.Nanosecond)
	}
	if sizeCutoff.After(ageCutoff) {
		return sizeCutoff, nil
	}
	return ageCutoff, nil
}
