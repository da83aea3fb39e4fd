package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// hashContent computes the SHA-256 hex digest of r. The content is
// streamed through the hash in fixed-size chunks, so memory stays
// bounded regardless of input size, and r is seeked back to the start
// afterwards so the same bytes can be persisted.
func hashContent(r io.ReadSeeker) (string, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind content: %w", err)
	}

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind content: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
