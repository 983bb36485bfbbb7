// Package minio stores artifact payloads in MinIO (or another S3-compatible
// service) through minio-go.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/3leaps/cleanstep/pkg/provider"
)

// Config configures a Store.
type Config struct {
	// Endpoint is host[:port] without a scheme, e.g. localhost:9000.
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string

	// EnsureBucket creates Bucket in New when it is missing.
	EnsureBucket bool
}

func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Endpoint) == "":
		return errors.New("minio endpoint is required")
	case strings.Contains(c.Endpoint, "://"):
		return fmt.Errorf("minio endpoint must not include scheme: %q", c.Endpoint)
	case strings.TrimSpace(c.Bucket) == "":
		return errors.New("minio bucket is required")
	case (c.AccessKey == "") != (c.SecretKey == ""):
		return errors.New("minio access key and secret key must be set together")
	}
	return nil
}

// Store implements provider.BlobStore with minio-go.
type Store struct {
	client *minio.Client
	bucket string
}

var _ provider.BlobStore = (*Store)(nil)

// New connects to cfg.Endpoint. Without static keys, credentials come from
// MINIO_ACCESS_KEY / MINIO_SECRET_KEY.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	creds := credentials.NewEnvMinio()
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     creds,
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, provider.Wrap(provider.KindMinIO, "New", cfg.Bucket, "", err, nil)
	}

	s := &Store{client: client, bucket: cfg.Bucket}
	if cfg.EnsureBucket {
		if err := s.ensureBucket(ctx, cfg.Region); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return s.wrap("EnsureBucket", "", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return s.wrap("EnsureBucket", "", err)
	}
	return nil
}

func (s *Store) Kind() provider.Kind { return provider.KindMinIO }

func (s *Store) Close() error { return nil }

// Put uploads body; info.Size may be -1, in which case minio-go streams a
// multipart upload.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, info provider.PutInfo) error {
	opts := minio.PutObjectOptions{ContentType: info.ContentTypeOr(key)}
	if info.Digest != "" {
		opts.UserMetadata = map[string]string{provider.DigestMetaKey: info.Digest}
	}
	if _, err := s.client.PutObject(ctx, s.bucket, key, body, info.Size, opts); err != nil {
		return s.wrap("Put", key, err)
	}
	return nil
}

// Open stats the object before handing it out; minio-go's GetObject is
// lazy and would otherwise report a missing key on first Read.
func (s *Store) Open(ctx context.Context, key string) (*provider.Blob, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrap("Open", key, err)
	}
	st, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, s.wrap("Open", key, err)
	}
	return &provider.Blob{Body: obj, Info: blobInfo(key, st)}, nil
}

func (s *Store) Stat(ctx context.Context, key string) (*provider.BlobInfo, error) {
	st, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, s.wrap("Stat", key, err)
	}
	info := blobInfo(key, st)
	return &info, nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return s.wrap("Remove", key, err)
	}
	return nil
}

// Ping checks the bucket exists. The prefix is not consulted; MinIO
// policies are bucket-scoped in practice.
func (s *Store) Ping(ctx context.Context, _ string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return s.wrap("Ping", "", err)
	}
	if !exists {
		return provider.Wrap(provider.KindMinIO, "Ping", s.bucket, "", provider.ErrBucketNotFound, provider.ErrBucketNotFound)
	}
	return nil
}

func blobInfo(key string, st minio.ObjectInfo) provider.BlobInfo {
	return provider.BlobInfo{
		Key:     key,
		Size:    st.Size,
		Digest:  metaDigest(st.UserMetadata),
		ModTime: st.LastModified,
	}
}

// metaDigest finds the digest regardless of how the server canonicalized
// the metadata key.
func metaDigest(meta map[string]string) string {
	for k, v := range meta {
		if strings.EqualFold(strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-"), provider.DigestMetaKey) {
			return v
		}
	}
	return ""
}

func (s *Store) wrap(op, key string, err error) error {
	return provider.Wrap(provider.KindMinIO, op, s.bucket, key, err, classify(err))
}

// classify maps a minio error response onto provider sentinels, or nil.
func classify(err error) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		return provider.ErrNotFound
	case "NoSuchBucket":
		return provider.ErrBucketNotFound
	case "AccessDenied":
		return provider.ErrAccessDenied
	case "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return provider.ErrInvalidCredentials
	case "SlowDown", "SlowDownRead", "SlowDownWrite", "RequestLimitExceeded":
		return provider.ErrThrottled
	case "ServiceUnavailable", "InternalError", "XMinioServerNotInitialized":
		return provider.ErrUnavailable
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return provider.ErrNotFound
	case http.StatusForbidden:
		return provider.ErrAccessDenied
	case http.StatusTooManyRequests:
		return provider.ErrThrottled
	case http.StatusServiceUnavailable:
		return provider.ErrUnavailable
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
