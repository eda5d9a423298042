package blobstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Disk is the default blob store: files are written to a temporary name in
// the same directory and renamed into place, so a concurrent reader never
// observes a partial write (spec §5).
type Disk struct {
	dir string
}

func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("blobstore: NewDisk: %w", err)
	}
	return &Disk{dir: dir}, nil
}

func randomName() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (d *Disk) Put(_ context.Context, data []byte) (string, error) {
	name, err := randomName()
	if err != nil {
		return "", fmt.Errorf("blobstore: Put: %w", err)
	}
	final := filepath.Join(d.dir, name)
	tmp := final + ".tmp"

	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("blobstore: Put: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("blobstore: Put: %w", err)
	}
	return name, nil
}

func (d *Disk) Get(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.dir, name))
	if err != nil {
		return nil, fmt.Errorf("blobstore: Get: %w", err)
	}
	return data, nil
}

func (d *Disk) Delete(_ context.Context, name string) error {
	err := os.Remove(filepath.Join(d.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: Delete: %w", err)
	}
	return nil
}
