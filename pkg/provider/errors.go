package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the key holds no payload.
	ErrNotFound = errors.New("payload not found")

	// ErrBucketNotFound indicates the bucket (or root directory) is missing.
	ErrBucketNotFound = errors.New("bucket not found")

	ErrAccessDenied       = errors.New("access denied")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrThrottled and ErrUnavailable are transient; see IsRetryable.
	ErrThrottled   = errors.New("request throttled")
	ErrUnavailable = errors.New("blob store unavailable")
)

// StoreError records the backend call that failed and the key it touched.
type StoreError struct {
	Op      string
	Backend Kind
	Bucket  string
	Key     string
	Err     error
}

func (e *StoreError) Error() string {
	loc := e.Key
	switch {
	case e.Bucket != "" && e.Key != "":
		loc = e.Bucket + "/" + e.Key
	case e.Bucket != "":
		loc = e.Bucket
	}
	if loc == "" {
		return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Backend, e.Op, loc, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Wrap builds a StoreError. A non-nil sentinel is matched by errors.Is
// while the backend's message is kept.
func Wrap(backend Kind, op, bucket, key string, err, sentinel error) error {
	switch {
	case sentinel == nil:
	case err == nil || err == sentinel:
		err = sentinel
	default:
		err = fmt.Errorf("%w: %v", sentinel, err)
	}
	return &StoreError{Op: op, Backend: backend, Bucket: bucket, Key: key, Err: err}
}

// IsNotFound reports whether err means the payload is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether err is throttling or temporary unavailability.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrUnavailable)
}

// IsAuth reports whether err is a credential or permission failure.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrInvalidCredentials)
}
