// Package s3 stores artifact payloads in AWS S3 or an S3-compatible service
// through the AWS SDK v2.
package s3

import "errors"

// DefaultAWSRegion applies when neither config, environment nor profile
// names a region and no custom endpoint is set.
const DefaultAWSRegion = "us-east-1"

// Config configures a Store.
//
// Credentials come from the SDK default chain (env, shared profile, IMDS)
// unless AccessKeyID and SecretAccessKey are both set.
type Config struct {
	Bucket string
	Region string

	// Endpoint targets an S3-compatible service (MinIO, moto, Wasabi).
	Endpoint string

	// Profile selects a shared config profile.
	Profile string

	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle puts the bucket in the path; most S3-compatible
	// services need it.
	ForcePathStyle bool
}

// ConfigError names the invalid field.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string { return "s3 config " + e.Field + ": " + e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

var (
	errBucketRequired = errors.New("bucket name is required")
	errHalfCreds      = errors.New("access key id and secret access key must be set together")
)

func (c Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "bucket", Err: errBucketRequired}
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return &ConfigError{Field: "access_key_id", Err: errHalfCreds}
	}
	return nil
}
