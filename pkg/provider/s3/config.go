// Package s3 publishes batch artifacts to AWS S3 or an S3-compatible store.
package s3

import (
	"net/url"
	"strings"
)

// DefaultAWSRegion is used for AWS S3 when neither the config nor the SDK
// credential chain yields a region.
const DefaultAWSRegion = "us-east-1"

// Config selects the bucket that receives published artifacts.
//
// Credentials come from the SDK default chain (environment, shared files,
// profile, instance role) unless an explicit key pair is set. Endpoint
// switches to an S3-compatible store such as MinIO, which usually also
// needs ForcePathStyle.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string
	Profile  string

	// AccessKeyID and SecretAccessKey must be set together.
	AccessKeyID     string
	SecretAccessKey string

	ForcePathStyle bool
}

// Validate rejects configs that cannot address a bucket.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Bucket) == "" {
		return &ConfigError{Field: "bucket", Message: "required"}
	}
	if strings.ContainsAny(c.Bucket, "/ ") {
		return &ConfigError{Field: "bucket", Message: "must be a bare bucket name, put key paths in publish.prefix"}
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return &ConfigError{Field: "credentials", Message: "access key id and secret access key must be set together"}
	}
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ConfigError{Field: "endpoint", Message: "must be an http or https URL"}
		}
	}
	return nil
}

// ConfigError names the offending publish setting.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 publish config: " + e.Field + ": " + e.Message
}
