package media

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher loads artifact payloads from s3:// locations. Bare keys resolve
// against the default bucket.
type S3Fetcher struct {
	client        s3API
	defaultBucket string
}

// NewS3Fetcher creates a fetcher backed by the given S3 client.
func NewS3Fetcher(client s3API, defaultBucket string) *S3Fetcher {
	if client == nil {
		panic("media: s3 client cannot be nil")
	}
	return &S3Fetcher{client: client, defaultBucket: defaultBucket}
}

// Fetch downloads the object at the location URI.
func (f *S3Fetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	bucket, key, err := f.resolve(location)
	if err != nil {
		return nil, err
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("media: get object s3://%s/%s: %w", bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("media: read object body: %w", err)
	}
	return data, nil
}

func (f *S3Fetcher) resolve(location string) (bucket, key string, err error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", "", fmt.Errorf("media: empty location")
	}
	if rest, ok := strings.CutPrefix(location, "s3://"); ok {
		bucket, key, found := strings.Cut(rest, "/")
		if !found || bucket == "" || key == "" {
			return "", "", fmt.Errorf("media: malformed s3 location %q", location)
		}
		return bucket, key, nil
	}
	if f.defaultBucket == "" {
		return "", "", fmt.Errorf("media: no bucket for location %q", location)
	}
	return f.defaultBucket, strings.TrimPrefix(location, "/"), nil
}
