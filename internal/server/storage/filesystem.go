package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Store defines the interface for content blob backends.
// This allows swapping filesystem for S3 or other backends later.
// Blobs are keyed by the owning file record's id; only original
// records ever have a blob.
type Store interface {
	Save(fileID string, data io.Reader) (int64, error)
	GetPath(fileID string) (string, error)
	Delete(fileID string) error
	List() ([]BlobInfo, error)
	EnsureDir() error
}

// BlobInfo describes one stored blob.
type BlobInfo struct {
	FileID  string
	ModTime time.Time
}

// FileSystemStore stores content blobs on the local filesystem.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Save writes data from a reader to a blob named after the file id.
// Returns the number of bytes written.
func (fs *FileSystemStore) Save(fileID string, data io.Reader) (int64, error) {
	filePath := fs.filePath(fileID)

	file, err := os.Create(filePath)
	if err != nil {
		return 0, fmt.Errorf("failed to create file %s: %w", filePath, err)
	}
	defer file.Close()

	n, err := io.Copy(file, data)
	if err != nil {
		// Clean up partial file on error
		os.Remove(filePath)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}

	return n, nil
}

// GetPath returns the absolute path to a stored blob.
// Returns an error if the blob does not exist.
func (fs *FileSystemStore) GetPath(fileID string) (string, error) {
	filePath := fs.filePath(fileID)

	if _, err := os.Stat(filePath); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("content not found for file %s", fileID)
		}
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	return filePath, nil
}

// Delete removes the blob for a file record.
func (fs *FileSystemStore) Delete(fileID string) error {
	filePath := fs.filePath(fileID)
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}
	return nil
}

// List returns every blob currently on disk.
func (fs *FileSystemStore) List() ([]BlobInfo, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	var blobs []BlobInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", entry.Name(), err)
		}
		blobs = append(blobs, BlobInfo{FileID: entry.Name(), ModTime: info.ModTime()})
	}
	return blobs, nil
}

func (fs *FileSystemStore) filePath(fileID string) string {
	return filepath.Join(fs.basePath, fileID)
}
