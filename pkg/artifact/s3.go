package artifact

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the subset of the S3 client used by S3Store.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store uploads artifacts to a bucket under an optional key prefix.
type S3Store struct {
	bucket string
	prefix string
	client s3API
}

// NewS3Store loads the default AWS configuration (environment, shared
// config, instance role) and returns a store for bucket.
func NewS3Store(ctx context.Context, bucket, prefix string, opts ...func(*s3.Options)) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifact: load aws config: %w", err)
	}
	return NewS3StoreFromConfig(bucket, prefix, cfg, opts...), nil
}

// NewS3StoreFromConfig builds a store from an existing AWS configuration.
func NewS3StoreFromConfig(bucket, prefix string, cfg aws.Config, opts ...func(*s3.Options)) *S3Store {
	return &S3Store{bucket: bucket, prefix: prefix, client: s3.NewFromConfig(cfg, opts...)}
}

// Put uploads data and returns its s3:// URI.
func (s *S3Store) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	base, err := cleanName(name)
	if err != nil {
		return "", err
	}
	key := base
	if s.prefix != "" {
		key = path.Join(s.prefix, base)
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("artifact: put s3://%s/%s: %w", s.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
