package database

import (
	"time"

	"github.com/google/uuid"
)

// File represents a single upload record. An original row owns physical
// content; a reference row points at an original's content via
// OriginalFileID and stores no bytes of its own.
type File struct {
	ID               uuid.UUID
	OriginalFilename string
	FileType         string
	Size             int64
	UserID           string
	FileHash         string
	IsReference      bool
	OriginalFileID   *uuid.UUID // set iff IsReference
	UploadedAt       time.Time

	// ReferenceCount is derived on list reads only; it is not stored.
	ReferenceCount int64
}

// UserStats holds the per-user aggregate storage counters.
// TotalStorageUsed counts bytes physically stored for the user's
// originals; OriginalStorageUsed counts what every upload would have
// cost without deduplication.
type UserStats struct {
	UserID              string
	TotalStorageUsed    int64
	OriginalStorageUsed int64
	UpdatedAt           time.Time
}

// FileFilter narrows a per-user file listing. Zero values mean
// "no constraint" for string fields; nil means the same for the rest.
type FileFilter struct {
	Search    string // case-insensitive filename substring
	FileType  string // case-insensitive exact MIME type
	MinSize   *int64
	MaxSize   *int64
	StartDate *time.Time
	EndDate   *time.Time
}
