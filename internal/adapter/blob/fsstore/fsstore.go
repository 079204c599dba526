// Package fsstore stores uploaded document blobs on the local filesystem.
//
// Paths returned by Upload are relative to the store root so the database
// stays portable across hosts sharing the same volume.
package fsstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/fairyhunter13/ai-essay-detector/internal/domain"
)

// Store is a filesystem-backed blob store rooted at a single directory.
type Store struct {
	root string
}

// New creates the root directory if needed and returns a Store.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("op=blob.new: %w: empty root", domain.ErrInvalidArgument)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("op=blob.new: %w", err)
	}
	return &Store{root: root}, nil
}

// Upload writes data under a random name that keeps the original extension,
// and returns the relative blob path.
func (s *Store) Upload(ctx domain.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("op=blob.upload: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(name))
	rel := uuid.New().String() + ext
	dst := filepath.Join(s.root, rel)
	if err := os.WriteFile(dst, data, 0o640); err != nil {
		return "", fmt.Errorf("op=blob.upload: %w", err)
	}
	return rel, nil
}

// Download reads a blob by its relative path. A missing blob surfaces as
// ErrNotFound: the file is gone for good and retrying cannot bring it back.
// Other read failures map to ErrBlobUnavailable, which is transient.
func (s *Store) Download(ctx domain.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("op=blob.download: %w", err)
	}
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("op=blob.download: %w: %s", domain.ErrNotFound, path)
		}
		return nil, fmt.Errorf("op=blob.download: %w: %v", domain.ErrBlobUnavailable, err)
	}
	return data, nil
}

// Delete removes a blob. Missing blobs are not an error; deletion is
// idempotent so retries after a partial cleanup succeed.
func (s *Store) Delete(ctx domain.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("op=blob.delete: %w", err)
	}
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("op=blob.delete: %w", err)
	}
	return nil
}

// resolve joins the path under the root and rejects traversal outside it.
func (s *Store) resolve(path string) (string, error) {
	if path == "" || filepath.IsAbs(path) || strings.Contains(path, "..") {
		return "", fmt.Errorf("op=blob.resolve: %w: path escapes store root", domain.ErrInvalidArgument)
	}
	return filepath.Join(s.root, path), nil
}
