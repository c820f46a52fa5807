package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/soilflow/soilflow/pkg/config"
	"github.com/soilflow/soilflow/pkg/errors"
)

// S3 reads and writes objects in one bucket. Credentials come from the
// default AWS chain; endpoint and addressing style are configurable for
// S3-compatible services like MinIO.
type S3 struct {
	bucket string
	client *s3.Client
}

// NewS3 creates a store for the given bucket.
func NewS3(bucket string, cfg config.S3Config) (*S3, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, errors.InputError("s3://"+bucket, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
	})
	return &S3{bucket: bucket, client: client}, nil
}

func (s *S3) Scheme() string { return "s3" }

func (s *S3) Reader(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, errors.InputError(fmt.Sprintf("s3://%s/%s", s.bucket, key), err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// Writer buffers the object and uploads it in one PutObject on Close.
// Outputs are a single spreadsheet, so multipart is not worth carrying.
func (s *S3) Writer(ctx context.Context, key string) (io.WriteCloser, error) {
	return &s3Writer{ctx: ctx, store: s, key: key}, nil
}

type s3Writer struct {
	ctx   context.Context
	store *S3
	key   string

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, fmt.Errorf("writer is closed")
	}
	return w.buf.Write(p)
}

func (w *s3Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	_, err := w.store.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.store.bucket),
		Key:    aws.String(w.key),
		Body:   bytes.NewReader(w.buf.Bytes()),
	})
	if err != nil {
		return errors.OutputError(fmt.Sprintf("s3://%s/%s", w.store.bucket, w.key), err)
	}
	return nil
}
