// Package storage provides C2's local-disk blob store for generated
// artifacts. The SurrealDB adapters for C1/C3/C4 live in
// internal/storage/surrealdb and the S3 blob store in internal/storage/s3blob.
package storage

import "errors"

// ErrBlobNotFound is returned when a blob key has no backing object.
var ErrBlobNotFound = errors.New("blob not found")

// BlobMetadata describes a stored artifact.
type BlobMetadata struct {
	Key         string
	Size        int64
	ContentType string
}
