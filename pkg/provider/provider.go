// Package provider defines the blob stores that hold artifact payloads.
//
// A payload is written once under its object key and never rewritten.
// Backends that support object metadata keep the payload's SHA-256 next to
// it, so a reader learns the stored digest before streaming the body.
package provider

import (
	"context"
	"io"
	"path"
	"time"
)

// DigestMetaKey is the user-metadata key carrying the hex SHA-256 of a payload.
const DigestMetaKey = "sha256"

// BlobStore holds artifact payloads. Implementations are safe for
// concurrent use.
type BlobStore interface {
	// Put writes body under key, replacing any existing object.
	Put(ctx context.Context, key string, body io.Reader, info PutInfo) error

	// Open streams the payload stored under key. Returns ErrNotFound if
	// the key holds nothing. The caller closes the returned Blob.
	Open(ctx context.Context, key string) (*Blob, error)

	// Stat describes the payload under key without reading it.
	Stat(ctx context.Context, key string) (*BlobInfo, error)

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Ping checks that the backend answers and that its bucket (or root
	// directory) is usable for keys under prefix.
	Ping(ctx context.Context, prefix string) error

	Kind() Kind
	Close() error
}

// PutInfo describes a payload being written.
type PutInfo struct {
	// Size in bytes, or -1 when unknown.
	Size int64

	// Digest is the hex SHA-256 of the payload; empty skips recording it.
	Digest string

	// ContentType defaults to ContentTypeFor(key).
	ContentType string
}

// BlobInfo describes a stored payload.
type BlobInfo struct {
	Key     string
	Size    int64
	Digest  string // empty when the backend holds no recorded digest
	ModTime time.Time
}

// Blob is an open payload stream.
type Blob struct {
	Body io.ReadCloser
	Info BlobInfo
}

func (b *Blob) Read(p []byte) (int, error) { return b.Body.Read(p) }

func (b *Blob) Close() error { return b.Body.Close() }

// Kind identifies a blob store backend.
type Kind string

const (
	// KindS3 is AWS S3 or an S3-compatible store reached through the AWS SDK.
	KindS3 Kind = "s3"

	// KindMinIO is MinIO (or another S3-compatible store) through minio-go.
	KindMinIO Kind = "minio"

	// KindFile is a local directory.
	KindFile Kind = "file"
)

func (k Kind) String() string { return string(k) }

// ContentTypeFor picks a MIME type from the extension of key.
func ContentTypeFor(key string) string {
	switch path.Ext(key) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".jsonl":
		return "application/x-ndjson"
	case ".parquet":
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}

// ContentTypeOr returns info.ContentType, falling back to ContentTypeFor(key).
func (info PutInfo) ContentTypeOr(key string) string {
	if info.ContentType != "" {
		return info.ContentType
	}
	return ContentTypeFor(key)
}
