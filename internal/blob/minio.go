// Package blob archives uploaded proposal PDFs in S3-compatible object
// storage so the original bytes survive re-extraction.
package blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store wraps a MinIO client. A nil Store disables archiving; callers treat
// missing object storage as non-fatal.
type Store struct {
	client *minio.Client
	bucket string
}

// NewStore connects to MinIO and creates the bucket if needed. Returns
// (nil, nil) when no endpoint is configured.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect minio: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// PDFKey is the object key for an uploaded proposal PDF.
func PDFKey(proposalID int64, sha256Hex string) string {
	return fmt.Sprintf("proposals/%d/%s.pdf", proposalID, sha256Hex)
}

// PutPDF stores PDF bytes under the content-addressed key for a proposal.
func (s *Store) PutPDF(ctx context.Context, proposalID int64, sha256Hex string, data []byte) (string, error) {
	key := PDFKey(proposalID, sha256Hex)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/pdf",
	})
	if err != nil {
		return "", fmt.Errorf("put %q: %w", key, err)
	}
	return key, nil
}

// GetPDF retrieves previously archived PDF bytes.
func (s *Store) GetPDF(ctx context.Context, proposalID int64, sha256Hex string) ([]byte, error) {
	key := PDFKey(proposalID, sha256Hex)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(obj); err != nil {
		return nil, fmt.Errorf("read %q: %w", key, err)
	}
	return buf.Bytes(), nil
}
