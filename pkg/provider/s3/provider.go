package s3

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/3leaps/verifarm/pkg/provider"
)

// Provider publishes artifacts into a single bucket.
type Provider struct {
	client *s3.Client
	bucket string
}

var _ provider.Provider = (*Provider)(nil)

// New validates cfg and builds an S3 client from the SDK default chain,
// overridden by the explicit region, profile, key pair and endpoint in cfg.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &provider.ProviderError{Provider: provider.ProviderS3, Op: "New", Bucket: cfg.Bucket, Err: err}
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Provider{client: client, bucket: cfg.Bucket}, nil
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

// Head is used by skip-existing publishing to detect artifacts already in
// the bucket.
func (p *Provider) Head(ctx context.Context, key string) (*provider.ObjectMeta, error) {
	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, p.wrapError("Head", key, err)
	}
	return &provider.ObjectMeta{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		ETag:         cleanETag(aws.ToString(out.ETag)),
		LastModified: aws.ToTime(out.LastModified),
		ContentType:  aws.ToString(out.ContentType),
		Metadata:     out.Metadata,
	}, nil
}

// PutObject uploads one artifact in a single request. Reports, archives and
// logs stay well under the single-PUT limit.
func (p *Provider) PutObject(ctx context.Context, key string, body io.Reader, contentLength int64, opts provider.PutOptions) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(contentLength),
		Metadata:      opts.Metadata,
	}
	if opts.ContentType != "" {
		in.ContentType = aws.String(opts.ContentType)
	}
	if _, err := p.client.PutObject(ctx, in); err != nil {
		return p.wrapError("PutObject", key, err)
	}
	return nil
}

func (p *Provider) Close() error {
	return nil
}

// errorClasses maps S3 error codes onto provider sentinels. The HTTP status
// entries only match raw response errors that carry no API code.
var errorClasses = []struct {
	sentinel error
	codes    []string
}{
	{provider.ErrNotFound, []string{"NoSuchKey", "NotFound", "StatusCode: 404"}},
	{provider.ErrBucketNotFound, []string{"NoSuchBucket"}},
	{provider.ErrAccessDenied, []string{"AccessDenied", "Forbidden", "StatusCode: 403"}},
	{provider.ErrInvalidCredentials, []string{"InvalidAccessKeyId", "SignatureDoesNotMatch"}},
	{provider.ErrThrottled, []string{"SlowDown", "Throttling", "RequestLimitExceeded", "StatusCode: 429"}},
	{provider.ErrProviderUnavailable, []string{"ServiceUnavailable", "InternalError", "StatusCode: 503"}},
}

// classify returns the sentinel for err, or nil when it matches none.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		for _, c := range errorClasses {
			if slices.Contains(c.codes, code) {
				return c.sentinel
			}
		}
	}
	msg := err.Error()
	for _, c := range errorClasses {
		for _, code := range c.codes {
			if strings.Contains(msg, code) {
				return c.sentinel
			}
		}
	}
	return nil
}

func (p *Provider) wrapError(op, key string, err error) error {
	wrapped := &provider.ProviderError{Provider: provider.ProviderS3, Op: op, Bucket: p.bucket, Key: key, Err: err}
	if sentinel := classify(err); sentinel != nil {
		wrapped.Err = sentinel
	}
	return wrapped
}

func cleanETag(etag string) string {
	return strings.Trim(etag, `"`)
}

// resolveRegion applies the us-east-1 fallback for AWS S3 when the SDK chain,
// which already includes an explicit Config.Region, produced none.
// S3-compatible endpoints get no default.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}
