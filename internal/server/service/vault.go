package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"time"

	"filevault/internal/server/config"
	"filevault/internal/server/database"
	"filevault/internal/server/storage"

	"github.com/google/uuid"
)

const (
	maxFilenameLength = 255
	maxFileTypeLength = 100
)

// UploadInput describes an incoming file: declared metadata plus
// re-readable content. The declared size is trusted for accounting.
type UploadInput struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.ReadSeeker
}

// FileInfo is the caller-facing view of a file record.
type FileInfo struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	FileType         string    `json:"file_type"`
	Size             int64     `json:"size"`
	UploadedAt       time.Time `json:"uploaded_at"`
	UserID           string    `json:"user_id"`
	FileHash         string    `json:"file_hash"`
	IsReference      bool      `json:"is_reference"`
	OriginalFileID   *string   `json:"original_file"`
	ReferenceCount   int64     `json:"reference_count"`
	DownloadURL      string    `json:"download_url"`
}

// StorageStats is the caller-facing view of a user's dedup savings.
type StorageStats struct {
	UserID              string  `json:"user_id"`
	TotalStorageUsed    int64   `json:"total_storage_used"`
	OriginalStorageUsed int64   `json:"original_storage_used"`
	StorageSavings      int64   `json:"storage_savings"`
	SavingsPercentage   float64 `json:"savings_percentage"`
}

// VaultService contains the deduplication and quota-accounting engine.
type VaultService struct {
	store database.Store
	blobs storage.Store
	cfg   *config.Config
}

// NewVaultService creates a new vault service.
func NewVaultService(store database.Store, blobs storage.Store, cfg *config.Config) *VaultService {
	return &VaultService{
		store: store,
		blobs: blobs,
		cfg:   cfg,
	}
}

// Upload stores an incoming file for userID. Content already present
// anywhere in the vault (matched by SHA-256) produces a reference row
// with no physical copy; new content produces an original, charged
// against the user's quota. The record insert, both counter updates,
// and the quota check commit or roll back as one transaction.
func (s *VaultService) Upload(ctx context.Context, userID string, in UploadInput) (*FileInfo, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	hash, err := hashContent(in.Content)
	if err != nil {
		return nil, err
	}

	created, err := s.uploadTx(ctx, userID, in, hash)
	if errors.Is(err, database.ErrDuplicateContent) {
		// Lost the race against a concurrent upload of the same new
		// content. The winner's original is committed now, so a second
		// pass records a reference.
		slog.Info("concurrent duplicate upload, retrying as reference", "user_id", userID, "hash", hash)
		if _, err := in.Content.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to rewind content: %w", err)
		}
		created, err = s.uploadTx(ctx, userID, in, hash)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	slog.Info("upload processed",
		"file_id", created.ID,
		"user_id", userID,
		"filename", created.OriginalFilename,
		"size", created.Size,
		"is_reference", created.IsReference,
	)
	return s.toFileInfo(created), nil
}

func (s *VaultService) uploadTx(ctx context.Context, userID string, in UploadInput, hash string) (*database.File, error) {
	var created *database.File
	var savedBlob string

	err := s.store.Transact(ctx, func(q database.Querier) error {
		// Lock order: files rows first, then the user's stats row.
		original, err := q.FindOriginalByHash(ctx, hash)
		if err != nil {
			return err
		}

		stats, err := q.LockStats(ctx, userID)
		if err != nil {
			return err
		}

		// Every upload counts toward what it would have cost without
		// dedup, reference or not. Rolled back with the rest on failure.
		stats.OriginalStorageUsed += in.Size

		file := &database.File{
			ID:               uuid.New(),
			OriginalFilename: sanitizeFilename(in.Filename),
			FileType:         truncate(in.ContentType, maxFileTypeLength),
			Size:             in.Size,
			UserID:           userID,
			FileHash:         hash,
			UploadedAt:       time.Now().UTC(),
		}

		if original != nil {
			slog.Info("duplicate detected, creating reference",
				"user_id", userID, "original_id", original.ID, "hash", hash)
			file.IsReference = true
			id := original.ID
			file.OriginalFileID = &id
			if err := q.InsertFile(ctx, file); err != nil {
				return err
			}
			if err := q.SaveStats(ctx, stats); err != nil {
				return err
			}
			created = file
			return nil
		}

		// New original: quota check before anything is committed.
		// Landing exactly on the ceiling is allowed.
		quota := s.cfg.QuotaBytes()
		if stats.TotalStorageUsed+in.Size > quota {
			slog.Warn("storage quota exceeded",
				"user_id", userID,
				"current", stats.TotalStorageUsed,
				"requested", in.Size,
				"quota", quota,
			)
			return ErrQuotaExceeded
		}

		if err := q.InsertFile(ctx, file); err != nil {
			return err
		}
		stats.TotalStorageUsed += in.Size
		if err := q.SaveStats(ctx, stats); err != nil {
			return err
		}

		// Persist content last; an I/O failure here aborts the
		// transaction so no record ever points at missing bytes.
		if _, err := s.blobs.Save(file.ID.String(), in.Content); err != nil {
			return fmt.Errorf("failed to store content: %w", err)
		}
		savedBlob = file.ID.String()

		created = file
		return nil
	})
	if err != nil {
		if savedBlob != "" {
			// The blob survived a failed commit; remove it best-effort,
			// the sweeper catches anything left behind.
			if cleanupErr := s.blobs.Delete(savedBlob); cleanupErr != nil {
				slog.Warn("failed to clean up blob after aborted upload",
					"file_id", savedBlob, "error", cleanupErr)
			}
		}
		return nil, err
	}
	return created, nil
}

// Delete removes a file record owned by userID. A reference only gives
// back its no-dedup accounting; an original gives back both counters
// and its physical content, but is refused while any user still
// references it. Physical removal happens after the metadata commit
// and its failure is swallowed: the record is the source of truth and
// the sweeper reclaims the leaked blob later.
func (s *VaultService) Delete(ctx context.Context, userID, fileID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrInvalidUserID
	}

	id, err := uuid.Parse(fileID)
	if err != nil {
		return ErrNotFound
	}

	var removeBlob string
	err = s.store.Transact(ctx, func(q database.Querier) error {
		file, err := q.LockFileForUser(ctx, id, userID)
		if err != nil {
			if errors.Is(err, database.ErrFileNotFound) {
				return ErrNotFound
			}
			return err
		}

		stats, err := q.LockStats(ctx, userID)
		if err != nil {
			return err
		}

		if file.IsReference {
			stats.OriginalStorageUsed = floorZero(stats.OriginalStorageUsed - file.Size)
			if err := q.SaveStats(ctx, stats); err != nil {
				return err
			}
			return q.DeleteFile(ctx, id)
		}

		// Original: refuse while anyone, including other users, still
		// points at it.
		hasRefs, err := q.HasReferences(ctx, id)
		if err != nil {
			return err
		}
		if hasRefs {
			slog.Warn("refusing to delete original with references", "file_id", id, "user_id", userID)
			return ErrHasReferences
		}

		if err := q.DeleteFile(ctx, id); err != nil {
			return err
		}
		stats.OriginalStorageUsed = floorZero(stats.OriginalStorageUsed - file.Size)
		stats.TotalStorageUsed = floorZero(stats.TotalStorageUsed - file.Size)
		if err := q.SaveStats(ctx, stats); err != nil {
			return err
		}

		removeBlob = file.ID.String()
		return nil
	})
	if err != nil {
		return err
	}

	if removeBlob != "" {
		if err := s.blobs.Delete(removeBlob); err != nil {
			slog.Warn("failed to remove content blob", "file_id", removeBlob, "error", err)
		}
	}

	slog.Info("file deleted", "file_id", fileID, "user_id", userID)
	return nil
}

// StorageStats reports the user's dedup savings. Unknown users get a
// zeroed stats row rather than an error.
func (s *VaultService) StorageStats(ctx context.Context, userID string) (*StorageStats, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	stats, err := s.store.GetOrCreateStats(ctx, userID)
	if err != nil {
		return nil, err
	}

	savings := stats.OriginalStorageUsed - stats.TotalStorageUsed
	if savings < 0 {
		savings = 0
	}

	var pct float64
	if stats.OriginalStorageUsed > 0 {
		pct = math.Round(float64(savings)/float64(stats.OriginalStorageUsed)*100*100) / 100
	}

	return &StorageStats{
		UserID:              userID,
		TotalStorageUsed:    stats.TotalStorageUsed,
		OriginalStorageUsed: stats.OriginalStorageUsed,
		StorageSavings:      savings,
		SavingsPercentage:   pct,
	}, nil
}

// ListFiles returns the user's files matching filter, annotated with
// reference counts.
func (s *VaultService) ListFiles(ctx context.Context, userID string, filter database.FileFilter) ([]*FileInfo, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	files, err := s.store.ListFiles(ctx, userID, filter)
	if err != nil {
		return nil, err
	}

	infos := make([]*FileInfo, 0, len(files))
	for _, f := range files {
		infos = append(infos, s.toFileInfo(f))
	}
	return infos, nil
}

// GetFile returns a single file record scoped to its owner.
func (s *VaultService) GetFile(ctx context.Context, userID, fileID string) (*FileInfo, error) {
	file, err := s.getOwned(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	return s.toFileInfo(file), nil
}

// Download resolves the on-disk path of a file's content. For a
// reference the original's blob is served.
func (s *VaultService) Download(ctx context.Context, userID, fileID string) (path, filename string, err error) {
	file, err := s.getOwned(ctx, userID, fileID)
	if err != nil {
		return "", "", err
	}

	blobID := file.ID
	if file.IsReference {
		blobID = *file.OriginalFileID
	}

	path, err = s.blobs.GetPath(blobID.String())
	if err != nil {
		return "", "", fmt.Errorf("content not found on disk: %w", err)
	}
	return path, file.OriginalFilename, nil
}

// FileTypes returns the distinct MIME types of the user's files.
func (s *VaultService) FileTypes(ctx context.Context, userID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	return s.store.DistinctFileTypes(ctx, userID)
}

func (s *VaultService) getOwned(ctx context.Context, userID, fileID string) (*database.File, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	id, err := uuid.Parse(fileID)
	if err != nil {
		return nil, ErrNotFound
	}

	file, err := s.store.GetFileForUser(ctx, id, userID)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return file, nil
}

func (s *VaultService) toFileInfo(f *database.File) *FileInfo {
	info := &FileInfo{
		ID:               f.ID.String(),
		OriginalFilename: f.OriginalFilename,
		FileType:         f.FileType,
		Size:             f.Size,
		UploadedAt:       f.UploadedAt,
		UserID:           f.UserID,
		FileHash:         f.FileHash,
		IsReference:      f.IsReference,
		ReferenceCount:   f.ReferenceCount,
		DownloadURL:      fmt.Sprintf("%s/api/files/%s/download", s.cfg.BaseURL, f.ID),
	}
	if f.OriginalFileID != nil {
		id := f.OriginalFileID.String()
		info.OriginalFileID = &id
	}
	return info
}

func floorZero(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes to forward slashes before
	// calling filepath.Base, which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")

	// Take only the base name
	name = filepath.Base(name)

	// Limit length
	if len(name) > maxFilenameLength {
		ext := filepath.Ext(name)
		name = name[:maxFilenameLength-len(ext)] + ext
	}

	if name == "" || name == "." || name == "/" {
		name = "upload"
	}

	return name
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
