package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/you-humble/apsplot/internal/libs/mio"
)

// minioStore mirrors artifacts into an S3-compatible bucket.
type minioStore struct {
	db     *minio.Client
	bucket string
	prefix string
}

func NewMinIOStore(ctx context.Context, cfg mio.Config) (*minioStore, error) {
	client, err := mio.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &minioStore{
		db:     client,
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

func (s *minioStore) Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}
	objectName, err := s.objectName(filename)
	if err != nil {
		return 0, "", err
	}

	putSize := size
	if putSize <= 0 {
		putSize = -1
	}

	hasher := sha256.New()
	info, err := s.db.PutObject(ctx, s.bucket, objectName, io.TeeReader(reader, hasher), putSize, minio.PutObjectOptions{
		ContentType: contentType(filename),
	})
	if err != nil {
		return 0, "", fmt.Errorf("put object %s: %w", objectName, err)
	}
	return info.Size, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (s *minioStore) Open(ctx context.Context, filename string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	objectName, err := s.objectName(filename)
	if err != nil {
		return nil, 0, err
	}

	obj, err := s.db.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("get object %s: %w", objectName, err)
	}
	st, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == minio.NoSuchKey {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, filename)
		}
		return nil, 0, fmt.Errorf("stat object %s: %w", objectName, err)
	}
	return obj, st.Size, nil
}

// CleanupOlderThan removes mirrored artifacts past maxAge.
func (s *minioStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)
	opts := minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: true,
	}

	var errs []error
	for obj := range s.db.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			errs = append(errs, fmt.Errorf("list objects: %w", obj.Err))
			break
		}
		if !obj.LastModified.Before(cutoff) {
			continue
		}
		if err := s.db.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			errs = append(errs, fmt.Errorf("remove old object %s: %w", obj.Key, err))
		}
	}
	return errors.Join(errs...)
}

func (s *minioStore) objectName(filename string) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", fmt.Errorf("empty filename")
	}
	clean := path.Clean(strings.ReplaceAll(filename, `\`, "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid filename: %s", filename)
	}
	return s.prefix + strings.TrimLeft(clean, "/"), nil
}

func contentType(filename string) string {
	if strings.EqualFold(path.Ext(filename), ".pdf") {
		return "application/pdf"
	}
	return "application/octet-stream"
}
