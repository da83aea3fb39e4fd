package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// OriginalChecker reports whether an original file record exists.
// *database.Repository implements it.
type OriginalChecker interface {
	OriginalExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// CleanupService periodically removes orphaned content blobs: blobs
// whose original record is gone. Orphans appear when a delete commits
// its metadata but the physical removal afterwards fails, which the
// delete engine deliberately swallows. Blobs younger than minAge are
// left alone so in-flight uploads (blob written, transaction not yet
// committed) are never touched.
type CleanupService struct {
	repo     OriginalChecker
	store    Store
	interval time.Duration
	minAge   time.Duration
	done     chan struct{}
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(repo OriginalChecker, store Store, interval, minAge time.Duration) *CleanupService {
	return &CleanupService{
		repo:     repo,
		store:    store,
		interval: interval,
		minAge:   minAge,
		done:     make(chan struct{}),
	}
}

// Start begins the cleanup loop in a background goroutine.
func (cs *CleanupService) Start(ctx context.Context) {
	slog.Info("cleanup service started", "interval", cs.interval, "min_age", cs.minAge)

	go func() {
		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		// Run once immediately on start
		cs.runCleanup(ctx)

		for {
			select {
			case <-ticker.C:
				cs.runCleanup(ctx)
			case <-ctx.Done():
				slog.Info("cleanup service stopping")
				close(cs.done)
				return
			}
		}
	}()
}

// Wait blocks until the cleanup service has fully stopped.
func (cs *CleanupService) Wait() {
	<-cs.done
}

func (cs *CleanupService) runCleanup(ctx context.Context) {
	blobs, err := cs.store.List()
	if err != nil {
		slog.Error("failed to list blobs", "error", err)
		return
	}

	cutoff := time.Now().Add(-cs.minAge)
	var removed, failed int
	for _, blob := range blobs {
		if blob.ModTime.After(cutoff) {
			continue
		}

		id, err := uuid.Parse(blob.FileID)
		if err != nil {
			// Not one of ours; leave it.
			continue
		}

		exists, err := cs.repo.OriginalExists(ctx, id)
		if err != nil {
			slog.Error("failed to check blob record", "file_id", blob.FileID, "error", err)
			failed++
			continue
		}
		if exists {
			continue
		}

		if err := cs.store.Delete(blob.FileID); err != nil {
			slog.Error("failed to remove orphaned blob", "file_id", blob.FileID, "error", err)
			failed++
			continue
		}

		removed++
		slog.Info("removed orphaned blob", "file_id", blob.FileID)
	}

	if removed > 0 || failed > 0 {
		slog.Info("cleanup cycle complete", "removed", removed, "failed", failed, "scanned", len(blobs))
	}
}
