package s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/cleanstep/pkg/provider"
)

// Store implements provider.BlobStore on an S3 bucket.
type Store struct {
	client *s3.Client
	bucket string
}

var _ provider.BlobStore = (*Store)(nil)

// New builds an S3 client from cfg. It does not contact the service; use
// Ping for that.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, provider.Wrap(provider.KindS3, "New", cfg.Bucket, "", err, nil)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// resolveRegion keeps whatever the SDK resolved. Only plain AWS S3 gets a
// fallback; S3-compatible endpoints usually ignore the region.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" || endpoint != "" {
		return sdkRegion
	}
	return DefaultAWSRegion
}

func (s *Store) Kind() provider.Kind { return provider.KindS3 }

func (s *Store) Close() error { return nil }

// Put uploads body with the payload digest as user metadata.
//
// A negative info.Size leaves ContentLength unset; the SDK then needs a
// seekable body.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, info provider.PutInfo) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(info.ContentTypeOr(key)),
	}
	if info.Size >= 0 {
		input.ContentLength = aws.Int64(info.Size)
	}
	if info.Digest != "" {
		input.Metadata = map[string]string{provider.DigestMetaKey: info.Digest}
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return s.wrap("Put", key, err)
	}
	return nil
}

func (s *Store) Open(ctx context.Context, key string) (*provider.Blob, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.wrap("Open", key, err)
	}
	return &provider.Blob{
		Body: out.Body,
		Info: provider.BlobInfo{
			Key:     key,
			Size:    aws.ToInt64(out.ContentLength),
			Digest:  out.Metadata[provider.DigestMetaKey],
			ModTime: aws.ToTime(out.LastModified),
		},
	}, nil
}

func (s *Store) Stat(ctx context.Context, key string) (*provider.BlobInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.wrap("Stat", key, err)
	}
	return &provider.BlobInfo{
		Key:     key,
		Size:    aws.ToInt64(out.ContentLength),
		Digest:  out.Metadata[provider.DigestMetaKey],
		ModTime: aws.ToTime(out.LastModified),
	}, nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return s.wrap("Remove", key, err)
	}
	return nil
}

// Ping lists at most one key under prefix, which proves the bucket exists
// and the caller may read it.
func (s *Store) Ping(ctx context.Context, prefix string) error {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(1),
	}
	if prefix = strings.TrimPrefix(prefix, "/"); prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if _, err := s.client.ListObjectsV2(ctx, input); err != nil {
		return s.wrap("Ping", prefix, err)
	}
	return nil
}

func (s *Store) wrap(op, key string, err error) error {
	return provider.Wrap(provider.KindS3, op, s.bucket, key, err, classify(err))
}

// classify maps SDK errors onto provider sentinels, trying modeled error
// types, then API error codes, then the HTTP status. Returns nil when
// nothing matches.
func classify(err error) error {
	var (
		notFound     *types.NotFound
		noSuchKey    *types.NoSuchKey
		noSuchBucket *types.NoSuchBucket
	)
	switch {
	case errors.As(err, &noSuchBucket):
		return provider.ErrBucketNotFound
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		return provider.ErrNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if sentinel, ok := errorCodes[apiErr.ErrorCode()]; ok {
			return sentinel
		}
	}

	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		return statusSentinel(status.HTTPStatusCode())
	}
	return nil
}

var errorCodes = map[string]error{
	"NoSuchKey":             provider.ErrNotFound,
	"NotFound":              provider.ErrNotFound,
	"NoSuchBucket":          provider.ErrBucketNotFound,
	"AccessDenied":          provider.ErrAccessDenied,
	"Forbidden":             provider.ErrAccessDenied,
	"InvalidAccessKeyId":    provider.ErrInvalidCredentials,
	"SignatureDoesNotMatch": provider.ErrInvalidCredentials,
	"ExpiredToken":          provider.ErrInvalidCredentials,
	"SlowDown":              provider.ErrThrottled,
	"Throttling":            provider.ErrThrottled,
	"RequestLimitExceeded":  provider.ErrThrottled,
	"ServiceUnavailable":    provider.ErrUnavailable,
	"InternalError":         provider.ErrUnavailable,
}

func statusSentinel(code int) error {
	switch {
	case code == http.StatusNotFound:
		return provider.ErrNotFound
	case code == http.StatusForbidden:
		return provider.ErrAccessDenied
	case code == http.StatusTooManyRequests:
		return provider.ErrThrottled
	case code >= http.StatusInternalServerError:
		return provider.ErrUnavailable
	}
	return nil
}
