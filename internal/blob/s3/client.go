// Package s3blob stores the exported sale ledger in S3 or an S3-compatible
// object store (MinIO, R2) using AWS SDK v2.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds the configuration for connecting to the object store.
// Endpoint is empty for AWS S3.
type ClientConfig struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool // scheme used when Endpoint has none
	ForcePathStyle bool // bucket in the path; required by MinIO
}

func (cfg ClientConfig) validate() error {
	var errs []error
	if cfg.Bucket == "" {
		errs = append(errs, errors.New("bucket is required"))
	}
	if cfg.Region == "" {
		errs = append(errs, errors.New("region is required"))
	}
	return errors.Join(errs...)
}

// s3Options applies the custom endpoint and addressing style.
func (cfg ClientConfig) s3Options(o *s3.Options) {
	if cfg.Endpoint != "" {
		o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
	}
	o.UsePathStyle = cfg.ForcePathStyle
}

// Client is the ledger bucket handle shared by Reader and Writer.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New creates a client with static credentials for the ledger bucket.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("s3blob: %w", err)
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	return &Client{
		s3:     s3.NewFromConfig(awsCfg, cfg.s3Options),
		bucket: cfg.Bucket,
	}, nil
}

// Ping checks that the ledger bucket is reachable with the configured
// credentials; the health endpoint calls it.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

// normaliseEndpoint prepends http:// or https:// when endpoint has no
// scheme. "minio:9000" has none even though url.Parse reads "minio" as one.
func normaliseEndpoint(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
