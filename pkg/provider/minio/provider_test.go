package minio

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/cleanstep/pkg/provider"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "valid", cfg: Config{Endpoint: "localhost:9000", Bucket: "artifacts"}},
		{name: "missing endpoint", cfg: Config{Bucket: "artifacts"}, wantErr: "endpoint is required"},
		{name: "scheme in endpoint", cfg: Config{Endpoint: "http://localhost:9000", Bucket: "artifacts"}, wantErr: "must not include scheme"},
		{name: "missing bucket", cfg: Config{Endpoint: "localhost:9000"}, wantErr: "bucket is required"},
		{name: "half credentials", cfg: Config{Endpoint: "localhost:9000", Bucket: "a", AccessKey: "k"}, wantErr: "set together"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew_WithoutEnsureBucketDoesNotDial(t *testing.T) {
	s, err := New(context.Background(), Config{Endpoint: "localhost:9", Bucket: "artifacts", AccessKey: "k", SecretKey: "s"})
	require.NoError(t, err)
	assert.Equal(t, provider.KindMinIO, s.Kind())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "no such key", err: minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}, want: provider.ErrNotFound},
		{name: "no such bucket", err: minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: http.StatusNotFound}, want: provider.ErrBucketNotFound},
		{name: "access denied", err: minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, want: provider.ErrAccessDenied},
		{name: "bad signature", err: minio.ErrorResponse{Code: "SignatureDoesNotMatch", StatusCode: http.StatusForbidden}, want: provider.ErrInvalidCredentials},
		{name: "slow down", err: minio.ErrorResponse{Code: "SlowDownWrite", StatusCode: http.StatusServiceUnavailable}, want: provider.ErrThrottled},
		{name: "status only 404", err: minio.ErrorResponse{StatusCode: http.StatusNotFound}, want: provider.ErrNotFound},
		{name: "status only 503", err: minio.ErrorResponse{StatusCode: http.StatusServiceUnavailable}, want: provider.ErrUnavailable},
		{name: "unclassified", err: minio.ErrorResponse{StatusCode: http.StatusBadRequest}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestWrap_KeepsUnclassified(t *testing.T) {
	s := &Store{bucket: "artifacts"}
	base := errors.New("connection reset")

	err := s.wrap("Put", "k", base)
	assert.ErrorIs(t, err, base)
	assert.False(t, provider.IsRetryable(err))

	var serr *provider.StoreError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, provider.KindMinIO, serr.Backend)
	assert.Equal(t, "artifacts", serr.Bucket)
}

func TestMetaDigest(t *testing.T) {
	assert.Equal(t, "abc", metaDigest(map[string]string{"Sha256": "abc"}))
	assert.Equal(t, "abc", metaDigest(map[string]string{"X-Amz-Meta-Sha256": "abc"}))
	assert.Equal(t, "abc", metaDigest(map[string]string{"sha256": "abc", "Owner": "x"}))
	assert.Empty(t, metaDigest(nil))
}
