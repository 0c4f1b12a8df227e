// Package photos implements the attachment sync sub-engine: local binary
// storage, upload with independent retry/backoff, post-upload reference
// patching, and orphan detection.
package photos

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore keeps photo binaries on disk, keyed by the photo's local ID.
// Writes are atomic (temp file + rename) so a crash never leaves a partial
// binary behind.
type BlobStore struct {
	root string
}

// NewBlobStore opens a blob store rooted at dir, creating it if needed.
func NewBlobStore(dir string) (*BlobStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("blob directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &BlobStore{root: dir}, nil
}

func (b *BlobStore) pathFor(localID string) (string, error) {
	if localID == "" || strings.ContainsAny(localID, "/\\") || strings.Contains(localID, "..") {
		return "", fmt.Errorf("invalid blob key %q", localID)
	}
	return filepath.Join(b.root, localID), nil
}

// Put stores a binary under the given local ID, returning its size.
func (b *BlobStore) Put(localID string, r io.Reader) (int64, error) {
	path, err := b.pathFor(localID)
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(b.root, ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp blob: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	size, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("failed to write blob %s: %w", localID, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("failed to store blob %s: %w", localID, err)
	}
	return size, nil
}

// Open returns a reader over the stored binary.
func (b *BlobStore) Open(localID string) (io.ReadCloser, error) {
	path, err := b.pathFor(localID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", localID, err)
	}
	return f, nil
}

// Exists reports whether a binary is stored under the local ID.
func (b *BlobStore) Exists(localID string) bool {
	path, err := b.pathFor(localID)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Delete removes the stored binary. Deleting a missing blob is not an
// error.
func (b *BlobStore) Delete(localID string) error {
	path, err := b.pathFor(localID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", localID, err)
	}
	return nil
}

// Clear removes every stored binary. Used on sign-out.
func (b *BlobStore) Clear() error {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return fmt.Errorf("failed to read blob directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(b.root, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove blob %s: %w", entry.Name(), err)
		}
	}
	return nil
}
