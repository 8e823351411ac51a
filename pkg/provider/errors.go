package provider

import (
	"errors"
	"strings"
)

// Backend-neutral failure classes. Providers map their native errors onto
// these so the publisher can decide what to skip, retry or report.
var (
	ErrNotFound            = errors.New("object not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrBucketNotFound      = errors.New("bucket not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrThrottled           = errors.New("request throttled")
)

// ProviderError records which publish operation failed and on what. Err is
// one of the sentinels above when the backend error could be classified,
// otherwise the backend error itself.
type ProviderError struct {
	Provider ProviderType
	Op       string
	Bucket   string
	Key      string
	Err      error
}

// Error renders "<provider> <op> [bucket/key]: <err>".
func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Provider))
	b.WriteByte(' ')
	b.WriteString(e.Op)
	if target := e.target(); target != "" {
		b.WriteByte(' ')
		b.WriteString(target)
	}
	b.WriteString(": ")
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString("unknown error")
	}
	return b.String()
}

func (e *ProviderError) target() string {
	switch {
	case e.Bucket != "" && e.Key != "":
		return e.Bucket + "/" + strings.TrimPrefix(e.Key, "/")
	case e.Bucket != "":
		return e.Bucket
	default:
		return e.Key
	}
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Retryable reports whether repeating the same request may succeed. Only
// throttling and transient unavailability qualify; auth and missing-bucket
// failures will not fix themselves.
func Retryable(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrProviderUnavailable)
}
