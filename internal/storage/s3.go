package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// S3Store keeps files in an S3-compatible bucket.
type S3Store struct {
	client *minio.Client
	bucket string
}

// NewS3Store connects to the endpoint and creates the bucket when missing.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3Store) Put(ctx context.Context, originalName string, r io.Reader) (Object, error) {
	clean, ext, handle, err := prepare(originalName)
	if err != nil {
		return Object{}, err
	}
	// Buffer up to the ceiling so oversize uploads never reach the bucket.
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return Object{}, err
	}
	if n > MaxUploadBytes {
		return Object{}, ErrTooLarge
	}
	if n == 0 {
		return Object{}, ErrEmpty
	}
	ct := ContentType(ext)
	_, err = s.client.PutObject(ctx, s.bucket, handle, bytes.NewReader(buf.Bytes()), n, minio.PutObjectOptions{
		ContentType:  ct,
		UserMetadata: map[string]string{"original-name": clean},
	})
	if err != nil {
		return Object{}, fmt.Errorf("put %s: %w", handle, err)
	}
	return Object{Handle: handle, OriginalName: clean, ContentType: ct, Size: n}, nil
}

func (s *S3Store) stat(ctx context.Context, handle string) (minio.ObjectInfo, error) {
	if !validHandle(handle) {
		return minio.ObjectInfo{}, ErrNotFound
	}
	info, err := s.client.StatObject(ctx, s.bucket, handle, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return info, ErrNotFound
		}
		return info, err
	}
	return info, nil
}

func (s *S3Store) Open(ctx context.Context, handle string) (io.ReadCloser, error) {
	if _, err := s.stat(ctx, handle); err != nil {
		return nil, err
	}
	return s.client.GetObject(ctx, s.bucket, handle, minio.GetObjectOptions{})
}

func (s *S3Store) Size(ctx context.Context, handle string) (int64, error) {
	info, err := s.stat(ctx, handle)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

func (s *S3Store) Delete(ctx context.Context, handle string) error {
	if !validHandle(handle) {
		return ErrNotFound
	}
	return s.client.RemoveObject(ctx, s.bucket, handle, minio.RemoveObjectOptions{})
}
