package service

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestHashContent(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "known vector",
			content:  "hello world",
			expected: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
		{
			name:     "empty content",
			content:  "",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := hashContent(strings.NewReader(tt.content))
			if err != nil {
				t.Fatalf("hashContent failed: %v", err)
			}
			if hash != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, hash)
			}
		})
	}
}

func TestHashContent_RewindsReader(t *testing.T) {
	r := bytes.NewReader([]byte("content to hash"))

	if _, err := hashContent(r); err != nil {
		t.Fatalf("hashContent failed: %v", err)
	}

	// The reader must be positioned at the start afterwards so the
	// same stream can be written to storage.
	remaining, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read after hashing failed: %v", err)
	}
	if string(remaining) != "content to hash" {
		t.Errorf("expected full content after hashing, got %q", remaining)
	}
}

func TestHashContent_IgnoresCurrentPosition(t *testing.T) {
	r := bytes.NewReader([]byte("positioned content"))
	if _, err := r.Seek(5, io.SeekStart); err != nil {
		t.Fatal(err)
	}

	hash, err := hashContent(r)
	if err != nil {
		t.Fatalf("hashContent failed: %v", err)
	}

	fresh, err := hashContent(bytes.NewReader([]byte("positioned content")))
	if err != nil {
		t.Fatal(err)
	}
	if hash != fresh {
		t.Error("hash must cover the whole stream regardless of prior position")
	}
}

func TestHashContent_LargeInput(t *testing.T) {
	content := bytes.Repeat([]byte("abcdef"), 1<<18)

	h1, err := hashContent(bytes.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}
	h2, err := hashContent(bytes.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Error("hashing must be deterministic")
	}
	if len(h1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(h1))
	}
}
