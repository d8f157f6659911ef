package storage

import (
	"context"

	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/granary-db/granary/errors"
	"github.com/granary-db/granary/pkg/s3io"
)

type S3Engine struct {
	client s3iface.S3API
}

var _ Engine = (*S3Engine)(nil)

func NewS3() *S3Engine {
	return &S3Engine{client: s3io.NewClient(nil)}
}

func NewS3WithClient(client s3iface.S3API) *S3Engine {
	return &S3Engine{client: client}
}

func (s *S3Engine) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	b, err := s3io.Get(ctx, s.client, bucket, key)
	return b, wrapErr(bucket, key, err)
}

// Put streams the object through the s3manager uploader so large
// partition rewrites do not buffer a second copy in the SDK.
func (s *S3Engine) Put(_ context.Context, bucket, key string, b []byte) error {
	w := s3io.NewWriter(s.client, bucket, key)
	_, err := w.Write(b)
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	return wrapErr(bucket, key, err)
}

func (s *S3Engine) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	keys, err := s3io.ListKeys(ctx, s.client, bucket, prefix)
	return keys, wrapErr(bucket, prefix, err)
}

func (s *S3Engine) ListPrefixes(ctx context.Context, bucket, parent string) ([]string, error) {
	prefixes, err := s3io.ListPrefixes(ctx, s.client, bucket, parent, "/")
	return prefixes, wrapErr(bucket, parent, err)
}

func wrapErr(bucket, key string, err error) error {
	switch {
	case err == nil:
		return nil
	case s3io.IsNoSuchKey(err):
		return gerr.E(gerr.NotFound, "s3://%s/%s", bucket, key)
	case !s3io.IsAWSError(err):
		// A failure below the service layer (reset connection, EOF)
		// is worth a retry; a recognized service error is not.
		return gerr.E(gerr.Transient, err)
	}
	return err
}
