package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultKeyPrefix = "books"

// MinioStore keeps book files in MinIO/S3 compatible storage, one object per book.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: bucket, prefix: defaultKeyPrefix}, nil
}

// ObjectKey returns the object name holding a book's file.
func ObjectKey(prefix, bookID string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return bookID
	}
	return prefix + "/" + bookID
}

// PutBlob uploads the file. The reader is drained before returning, so
// the caller's buffer is never retained.
func (m *MinioStore) PutBlob(ctx context.Context, bookID string, data []byte) error {
	key := ObjectKey(m.prefix, bookID)
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// GetBlob downloads the file; a missing object reports false.
func (m *MinioStore) GetBlob(ctx context.Context, bookID string) ([]byte, bool, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, ObjectKey(m.prefix, bookID), minio.GetObjectOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read object: %w", err)
	}
	return data, true, nil
}

// DeleteBlob removes the file. Removing a missing object succeeds.
func (m *MinioStore) DeleteBlob(ctx context.Context, bookID string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, ObjectKey(m.prefix, bookID), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// PresignGet generates a pre-signed GET URL for a book's file.
func (m *MinioStore) PresignGet(ctx context.Context, bookID string, expiry time.Duration) (string, error) {
	url, err := m.client.PresignedGetObject(ctx, m.bucket, ObjectKey(m.prefix, bookID), expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return url.String(), nil
}
