package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/varfish-case-importer/internal/domain"
)

const defaultS3Endpoint = "s3.amazonaws.com"

// DefaultPartSize bounds the memory a streamed upload buffers per part.
const DefaultPartSize uint64 = 16 << 20

type s3Backend struct {
	client   *minio.Client
	partSize uint64
	log      *logrus.Logger
}

func newS3Backend(opts Options, logger *logrus.Logger) (backend, error) {
	// Empty keys make the static provider sign requests anonymously.
	client, err := minio.New(s3Endpoint(opts), &minio.Options{
		Creds:  credentials.NewStaticV4(opts.User, opts.Password, ""),
		Secure: opts.UseHTTPS,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}
	partSize := opts.PartSize
	if partSize == 0 {
		partSize = DefaultPartSize
	}
	return &s3Backend{client: client, partSize: partSize, log: logger}, nil
}

// s3Endpoint builds the custom endpoint used for S3 compatible stores.
func s3Endpoint(opts Options) string {
	if opts.Host == "" {
		return defaultS3Endpoint
	}
	if opts.Port != 0 {
		return fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	}
	return opts.Host
}

// splitBucketKey splits "bucket/key/parts" (optionally with an s3:// scheme).
func splitBucketKey(path string) (string, string, error) {
	path = strings.TrimPrefix(path, "s3://")
	path = strings.TrimPrefix(path, "/")
	bucket, key, ok := strings.Cut(path, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 path %q, expected bucket/key", path)
	}
	return bucket, key, nil
}

func (b *s3Backend) openRead(ctx context.Context, path string) (io.ReadCloser, error) {
	bucket, key, err := splitBucketKey(path)
	if err != nil {
		return nil, err
	}
	obj, err := b.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy, Stat surfaces missing objects before the first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrNotFound)
		}
		return nil, err
	}
	return obj, nil
}

func (b *s3Backend) openWrite(ctx context.Context, path string) (io.WriteCloser, error) {
	bucket, key, err := splitBucketKey(path)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	w := newPipeWriter(pw)
	go func() {
		info, err := b.client.PutObject(ctx, bucket, key, pr, -1, minio.PutObjectOptions{PartSize: b.partSize})
		pr.CloseWithError(err)
		if err == nil {
			b.log.WithFields(logrus.Fields{
				"bucket": bucket,
				"key":    key,
				"size":   info.Size,
			}).Debug("Uploaded object")
		}
		w.done <- err
	}()
	return w, nil
}
