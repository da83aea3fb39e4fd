package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeChecker struct {
	live map[uuid.UUID]bool
}

func (f *fakeChecker) OriginalExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return f.live[id], nil
}

func writeAgedBlob(t *testing.T, dir, name string, age time.Duration) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("blob data"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-age)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
}

func TestCleanupService_RunCleanup(t *testing.T) {
	t.Run("removes aged orphans and keeps live blobs", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		liveID := uuid.New()
		orphanID := uuid.New()
		writeAgedBlob(t, dir, liveID.String(), time.Hour)
		writeAgedBlob(t, dir, orphanID.String(), time.Hour)

		checker := &fakeChecker{live: map[uuid.UUID]bool{liveID: true}}
		cs := NewCleanupService(checker, store, time.Minute, 10*time.Minute)
		cs.runCleanup(context.Background())

		if _, err := os.Stat(filepath.Join(dir, liveID.String())); err != nil {
			t.Error("live blob must survive")
		}
		if _, err := os.Stat(filepath.Join(dir, orphanID.String())); !os.IsNotExist(err) {
			t.Error("orphaned blob should be removed")
		}
	})

	t.Run("spares blobs younger than the grace period", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		// Fresh orphan, as left by an upload whose transaction has not
		// committed yet.
		freshID := uuid.New()
		writeAgedBlob(t, dir, freshID.String(), time.Minute)

		checker := &fakeChecker{live: map[uuid.UUID]bool{}}
		cs := NewCleanupService(checker, store, time.Minute, 10*time.Minute)
		cs.runCleanup(context.Background())

		if _, err := os.Stat(filepath.Join(dir, freshID.String())); err != nil {
			t.Error("fresh blob must not be touched")
		}
	})

	t.Run("ignores files it does not own", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		writeAgedBlob(t, dir, "lost+found", time.Hour)

		checker := &fakeChecker{live: map[uuid.UUID]bool{}}
		cs := NewCleanupService(checker, store, time.Minute, 10*time.Minute)
		cs.runCleanup(context.Background())

		if _, err := os.Stat(filepath.Join(dir, "lost+found")); err != nil {
			t.Error("non-blob files must be left alone")
		}
	})
}

func TestCleanupService_StartAndStop(t *testing.T) {
	dir := t.TempDir()
	store := NewFileSystemStore(dir)
	checker := &fakeChecker{live: map[uuid.UUID]bool{}}

	cs := NewCleanupService(checker, store, time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cs.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		cs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cleanup service did not stop")
	}
}
