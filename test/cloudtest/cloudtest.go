// Package cloudtest runs artifact store tests against a local moto S3
// server. Callers carry the cloudintegration build tag and skip when moto
// is not listening:
//
//	store, bucket := cloudtest.NewStore(t, ctx)
//	cloudtest.Overwrite(t, ctx, bucket, key, tampered)
package cloudtest

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	blobs3 "github.com/3leaps/cleanstep/pkg/provider/s3"
)

// moto accepts any static credentials.
const (
	AccessKeyID     = "testing"
	SecretAccessKey = "testing"
)

var (
	// Endpoint defaults to port 5555; override with MOTO_ENDPOINT.
	Endpoint = envOr("MOTO_ENDPOINT", "http://localhost:5555")
	Region   = envOr("MOTO_REGION", "us-east-1")

	adminOnce sync.Once
	admin     *s3.Client
	adminErr  error
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SkipIfUnavailable skips t unless the moto control API answers.
func SkipIfUnavailable(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, Endpoint+"/moto-api/", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Skipf("moto not reachable at %s (set MOTO_ENDPOINT): %v", Endpoint, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Skipf("moto at %s answered %s", Endpoint, resp.Status)
	}
}

// adminClient talks to moto directly, bypassing the store under test.
func adminClient(t *testing.T) *s3.Client {
	t.Helper()
	adminOnce.Do(func() {
		cfg, err := config.LoadDefaultConfig(context.Background(),
			config.WithRegion(Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(AccessKeyID, SecretAccessKey, "")),
		)
		if err != nil {
			adminErr = err
			return
		}
		admin = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(Endpoint)
			o.UsePathStyle = true
		})
	})
	require.NoError(t, adminErr, "load moto client config")
	return admin
}

// CreateBucket makes a uniquely named bucket that is emptied and removed
// when t ends.
func CreateBucket(t *testing.T, ctx context.Context) string {
	t.Helper()
	c := adminClient(t)

	name := "cleanstep-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	_, err := c.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)})
	require.NoError(t, err, "create bucket %s", name)

	t.Cleanup(func() { dropBucket(t, c, name) })
	return name
}

// NewStore returns an S3 artifact store on a fresh bucket.
func NewStore(t *testing.T, ctx context.Context) (*blobs3.Store, string) {
	t.Helper()
	SkipIfUnavailable(t)

	bucket := CreateBucket(t, ctx)
	store, err := blobs3.New(ctx, blobs3.Config{
		Bucket:          bucket,
		Endpoint:        Endpoint,
		Region:          Region,
		AccessKeyID:     AccessKeyID,
		SecretAccessKey: SecretAccessKey,
		ForcePathStyle:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, bucket
}

// Overwrite replaces the object at key with content and no user metadata,
// as an out-of-band writer would.
func Overwrite(t *testing.T, ctx context.Context, bucket, key string, content []byte) {
	t.Helper()
	_, err := adminClient(t).PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(content),
	})
	require.NoError(t, err, "overwrite %s/%s", bucket, key)
}

// ContentType returns the stored Content-Type of key.
func ContentType(t *testing.T, ctx context.Context, bucket, key string) string {
	t.Helper()
	out, err := adminClient(t).HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	require.NoError(t, err, "head %s/%s", bucket, key)
	return aws.ToString(out.ContentType)
}

func dropBucket(t *testing.T, c *s3.Client, bucket string) {
	ctx := context.Background()
	pages := s3.NewListObjectsV2Paginator(c, &s3.ListObjectsV2Input{Bucket: aws.String(bucket)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			t.Logf("cloudtest: list %s: %v", bucket, err)
			return
		}
		if len(page.Contents) == 0 {
			continue
		}
		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		_, err = c.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			t.Logf("cloudtest: empty %s: %v", bucket, err)
		}
	}
	if _, err := c.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Logf("cloudtest: delete bucket %s: %v", bucket, err)
	}
}
