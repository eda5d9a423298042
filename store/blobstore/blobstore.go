// Package blobstore defines the write-once, content-addressed blob store
// contract of spec §5 and ships two implementations: a default disk store
// (write-temp-then-rename, so readers never see partial writes) and an S3
// store behind the same interface for embedders that keep attachments off
// the local disk.
package blobstore

import "context"

// Store is the contract the core requires from a blob collaborator: write
// once under a random content-addressed name, read back by that name.
type Store interface {
	// Put writes data under a new random name and returns that name.
	Put(ctx context.Context, data []byte) (name string, err error)
	// Get returns the bytes previously stored under name.
	Get(ctx context.Context, name string) ([]byte, error)
	// Delete removes the blob. Deleting a name that doesn't exist is not
	// an error.
	Delete(ctx context.Context, name string) error
}
