package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSystemStore_Save(t *testing.T) {
	t.Run("saves blob to disk", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		data := bytes.NewReader([]byte("test content"))
		n, err := store.Save("abc123", data)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if n != 12 {
			t.Errorf("expected 12 bytes written, got %d", n)
		}

		// Verify blob exists on disk under the file id
		content, err := os.ReadFile(filepath.Join(dir, "abc123"))
		if err != nil {
			t.Fatalf("failed to read saved blob: %v", err)
		}
		if string(content) != "test content" {
			t.Errorf("expected 'test content', got %q", content)
		}
	})

	t.Run("saves large content", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		largeContent := strings.Repeat("x", 1024*1024) // 1MB
		data := bytes.NewReader([]byte(largeContent))
		n, err := store.Save("large", data)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if n != int64(len(largeContent)) {
			t.Errorf("expected %d bytes, got %d", len(largeContent), n)
		}
	})
}

func TestFileSystemStore_GetPath(t *testing.T) {
	t.Run("returns path for existing blob", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		// Create the blob first
		blobPath := filepath.Join(dir, "test123")
		os.WriteFile(blobPath, []byte("data"), 0644)

		path, err := store.GetPath("test123")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if path != blobPath {
			t.Errorf("expected %s, got %s", blobPath, path)
		}
	})

	t.Run("returns error for missing blob", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		_, err := store.GetPath("nonexistent")
		if err == nil {
			t.Error("expected error for nonexistent blob")
		}
	})
}

func TestFileSystemStore_Delete(t *testing.T) {
	t.Run("deletes existing blob", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		// Create the blob
		blobPath := filepath.Join(dir, "del123")
		os.WriteFile(blobPath, []byte("data"), 0644)

		if err := store.Delete("del123"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// Verify blob is gone
		if _, err := os.Stat(blobPath); !os.IsNotExist(err) {
			t.Error("expected blob to be deleted")
		}
	})

	t.Run("no error for missing blob", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		if err := store.Delete("nonexistent"); err != nil {
			t.Errorf("expected no error for missing blob, got: %v", err)
		}
	})
}

func TestFileSystemStore_List(t *testing.T) {
	t.Run("lists every blob with mod times", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		os.WriteFile(filepath.Join(dir, "blob1"), []byte("one"), 0644)
		os.WriteFile(filepath.Join(dir, "blob2"), []byte("two"), 0644)
		os.Mkdir(filepath.Join(dir, "subdir"), 0755)

		blobs, err := store.List()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(blobs) != 2 {
			t.Fatalf("expected 2 blobs, got %d", len(blobs))
		}
		seen := make(map[string]bool)
		for _, b := range blobs {
			seen[b.FileID] = true
			if b.ModTime.IsZero() {
				t.Errorf("blob %s has no mod time", b.FileID)
			}
		}
		if !seen["blob1"] || !seen["blob2"] {
			t.Errorf("expected blob1 and blob2, got %v", blobs)
		}
	})

	t.Run("empty directory lists nothing", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		blobs, err := store.List()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(blobs) != 0 {
			t.Errorf("expected no blobs, got %d", len(blobs))
		}
	})
}

func TestFileSystemStore_EnsureDir(t *testing.T) {
	t.Run("creates directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "storage", "path")
		store := NewFileSystemStore(dir)

		if err := store.EnsureDir(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected a directory")
		}
	})

	t.Run("succeeds if directory exists", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		if err := store.EnsureDir(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
