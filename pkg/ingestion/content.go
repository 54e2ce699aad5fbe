package ingestion

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ContentStore keeps upload bytes between submission and execution.
type ContentStore interface {
	// Put stores content for an archivo and returns the reference Open takes.
	Put(ctx context.Context, archivoID string, content []byte) (string, error)
	Open(ref string) (io.ReadCloser, error)
	Remove(ref string) error
}

// LocalContentStore writes one file per archivo under dir. Several replicas
// consuming the same jobs topic need dir on a shared volume.
type LocalContentStore struct {
	dir string
}

func NewLocalContentStore(dir string) (*LocalContentStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	return &LocalContentStore{dir: dir}, nil
}

// Put names the file after the archivo id, never after the client filename.
func (s *LocalContentStore) Put(_ context.Context, archivoID string, content []byte) (string, error) {
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating upload file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing upload file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("writing upload file: %w", err)
	}

	path := filepath.Join(s.dir, filepath.Base(archivoID))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("storing upload file: %w", err)
	}
	return path, nil
}

func (s *LocalContentStore) Open(ref string) (io.ReadCloser, error) {
	return os.Open(filepath.Clean(ref))
}

func (s *LocalContentStore) Remove(ref string) error {
	err := os.Remove(filepath.Clean(ref))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
