package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store is an optional alternate Store backend (SPEC_FULL.md §2), grounded
// in the pack's danielloader-oci-pull-through internal/cache/s3.go. Selected
// via CACHE_BACKEND=s3; the spec-mandated filesystem layout remains default.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates an S3-backed Store. Credentials/region/endpoint are
// resolved via the standard AWS SDK default credential chain.
func NewS3Store(ctx context.Context, bucket string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg)
	return &S3Store{client: client, bucket: bucket}, nil
}

// EnsureBucket creates the bucket if it doesn't already exist.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var baoby *types.BucketAlreadyOwnedByYou
		var bae *types.BucketAlreadyExists
		if errors.As(err, &baoby) || errors.As(err, &bae) {
			return nil
		}
		return err
	}
	return nil
}

func (s *S3Store) key(backendName, image, version string) string {
	return Sanitize(backendName) + "/" + Sanitize(image) + "/" + versionSegment(version) + ".json"
}

// Read implements Store. Any error (missing key, network failure,
// malformed JSON) is treated as a cache miss, never surfaced as a 500
// (spec.md §9 "Cache corruption").
func (s *S3Store) Read(backendName, image, version string) (json.RawMessage, bool) {
	ctx := context.Background()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(backendName, image, version)),
	})
	if err != nil {
		return nil, false
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil || !json.Valid(data) {
		return nil, false
	}
	return json.RawMessage(data), true
}

// Write best-effort uploads a document; failures are logged, not surfaced.
func (s *S3Store) Write(backendName, image, version string, document json.RawMessage) error {
	ctx := context.Background()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(backendName, image, version)),
		Body:        bytes.NewReader(document),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		log.Printf("cache: s3 write failed for %s/%s/%s: %v", backendName, image, version, err)
	}
	return err
}
