// Package storage provides the local content store. It persists raw blob
// bytes under a single configurable root; blob names are random and
// decoupled from metadata ids and file names.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/filedepot/filedepot/internal/metrics"
)

// ErrNoContent is returned when a recorded blob path does not resolve to
// a regular file.
var ErrNoContent = fmt.Errorf("content not found")

// Store writes and resolves blobs under one root directory.
type Store struct {
	root string
}

// New creates a content store rooted at root, creating it if missing.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Root returns the storage root directory.
func (s *Store) Root() string { return s.root }

// WriteBlob persists data under a freshly generated name and returns the
// recorded path. Writes go through a temp file and rename.
func (s *Store) WriteBlob(data []byte) (string, error) {
	path := filepath.Join(s.root, uuid.NewString())

	tmp, err := os.CreateTemp(s.root, ".blob-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close temp blob: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename temp blob: %w", err)
	}
	metrics.RecordUpload(int64(len(data)))
	return path, nil
}

// VariantPath returns the conventional path of a derived variant.
// Variants are produced out of process; this store only resolves them.
func VariantPath(localPath, variant string) string {
	if variant == "" {
		return localPath
	}
	return localPath + "_" + variant
}

// ResolveContent checks that the blob at localPath (or its variant) exists
// and is a regular file, and returns its canonical absolute path.
func (s *Store) ResolveContent(localPath, variant string) (string, error) {
	path := VariantPath(localPath, variant)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoContent
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return "", ErrNoContent
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", fmt.Errorf("absolute path for %s: %w", path, err)
	}
	return abs, nil
}

// ReadBlob returns the full contents of the blob at localPath.
func (s *Store) ReadBlob(localPath string) ([]byte, error) {
	f, err := os.Open(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoContent
		}
		return nil, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", localPath, err)
	}
	return data, nil
}

// WriteVariant persists derived bytes next to the original blob using the
// variant naming convention. Used by the worker, never by the server.
func (s *Store) WriteVariant(localPath, variant string, data []byte) error {
	path := VariantPath(localPath, variant)
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".variant-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp variant: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write variant: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp variant: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp variant: %w", err)
	}
	return nil
}
