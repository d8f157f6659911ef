package s3io

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// NewClient creates an S3 API client from the ambient AWS environment.
// cfg may be nil. AWS_REGION from the environment is used only when cfg
// sets no region.
func NewClient(cfg *aws.Config) s3iface.S3API {
	if cfg == nil {
		cfg = &aws.Config{}
	}
	if region := os.Getenv("AWS_REGION"); region != "" && cfg.Region == nil {
		cfg.Region = aws.String(region)
	}
	sess := session.Must(session.NewSession(cfg))
	return s3.New(sess)
}

// Get fetches an entire object.
func Get(ctx context.Context, client s3iface.S3API, bucket, key string) ([]byte, error) {
	out, err := client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// ListKeys lists every key under prefix.
func ListKeys(ctx context.Context, client s3iface.S3API, bucket, prefix string) ([]string, error) {
	var keys []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	err := client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, obj := range page.Contents {
				keys = append(keys, aws.StringValue(obj.Key))
			}
			return true
		})
	return keys, err
}

// ListPrefixes lists the immediate child prefixes of parent using the
// given delimiter.
func ListPrefixes(ctx context.Context, client s3iface.S3API, bucket, parent, delimiter string) ([]string, error) {
	var prefixes []string
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(bucket),
		Prefix:    aws.String(parent),
		Delimiter: aws.String(delimiter),
	}
	err := client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *s3.ListObjectsV2Output, lastPage bool) bool {
			for _, p := range page.CommonPrefixes {
				prefixes = append(prefixes, aws.StringValue(p.Prefix))
			}
			return true
		})
	return prefixes, err
}

// IsNoSuchKey reports whether err is the service's missing-object
// condition, which also appears as a bare 404 from HeadObject.
func IsNoSuchKey(err error) bool {
	var aerr awserr.Error
	if ok := asAWSError(err, &aerr); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

// IsAWSError reports whether err was produced by the AWS SDK, meaning the
// request reached the service and retrying will not change the answer.
func IsAWSError(err error) bool {
	var aerr awserr.Error
	return asAWSError(err, &aerr)
}

func asAWSError(err error, target *awserr.Error) bool {
	for err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			*target = aerr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Writer streams an upload through s3manager so large objects do not
// buffer in memory.
type Writer struct {
	writer   *io.PipeWriter
	uploader *s3manager.Uploader
	bucket   string
	key      string
	once     sync.Once
	done     chan struct{}
	err      error
}

func NewWriter(client s3iface.S3API, bucket, key string) *Writer {
	return &Writer{
		bucket:   bucket,
		key:      key,
		uploader: s3manager.NewUploaderWithClient(client),
		done:     make(chan struct{}),
	}
}

func (w *Writer) init() {
	pr, pw := io.Pipe()
	w.writer = pw
	go func() {
		_, err := w.uploader.Upload(&s3manager.UploadInput{
			Bucket: aws.String(w.bucket),
			Key:    aws.String(w.key),
			Body:   pr,
		})
		w.err = err
		close(w.done)
		_ = pr.CloseWithError(err) // can ignore, return value will always be nil
	}()
}

func (w *Writer) Write(b []byte) (int, error) {
	w.once.Do(w.init)
	return w.writer.Write(b)
}

func (w *Writer) Close() error {
	w.once.Do(w.init)
	err := w.writer.Close()
	<-w.done
	if err != nil {
		return err
	}
	return w.err
}
