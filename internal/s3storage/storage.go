// Package s3storage archives original uploads and mapping payloads in
// MinIO/S3.
package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/IteraFlow/internal/config"
	"github.com/dharsanguruparan/IteraFlow/internal/model"
)

// Storage wraps MinIO/S3 interactions for raw documents and processed
// artifacts.
type Storage struct {
	client          *minio.Client
	rawBucket       string
	processedBucket string
	region          string
}

// New creates a MinIO client from the S3 settings.
func New(cfg config.S3) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:          client,
		rawBucket:       cfg.RawBucket,
		processedBucket: cfg.ProcessedBucket,
		region:          cfg.Region,
	}, nil
}

// EnsureBuckets makes sure the raw/processed buckets exist before use.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.rawBucket, s.processedBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
				return fmt.Errorf("make bucket %s: %w", bucket, err)
			}
		}
	}
	return nil
}

// ArchiveDocument stores the original upload in the raw bucket and returns
// its object key.
func (s *Storage) ArchiveDocument(ctx context.Context, doc *model.Document) (string, error) {
	key := DocumentKey(doc.ID, doc.Filename)
	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	opts := minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"tax-id": doc.TaxID, "filename": doc.Filename},
	}
	_, err := s.client.PutObject(ctx, s.rawBucket, key, bytes.NewReader(doc.Content), int64(len(doc.Content)), opts)
	if err != nil {
		return "", fmt.Errorf("upload raw object: %w", err)
	}
	return key, nil
}

// ArchiveMapping stores a mapping payload in the processed bucket.
func (s *Storage) ArchiveMapping(ctx context.Context, documentID string, mapping []byte) (string, error) {
	key := MappingKey(documentID)
	opts := minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"}
	_, err := s.client.PutObject(ctx, s.processedBucket, key, bytes.NewReader(mapping), int64(len(mapping)), opts)
	if err != nil {
		return "", fmt.Errorf("upload processed object: %w", err)
	}
	return key, nil
}

// ArchiveExport stores a rendered export workbook in the processed bucket.
func (s *Storage) ArchiveExport(ctx context.Context, documentID string, workbook []byte) (string, error) {
	key := ExportKey(documentID)
	opts := minio.PutObjectOptions{ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"}
	_, err := s.client.PutObject(ctx, s.processedBucket, key, bytes.NewReader(workbook), int64(len(workbook)), opts)
	if err != nil {
		return "", fmt.Errorf("upload export object: %w", err)
	}
	return key, nil
}

// DocumentKey is the raw bucket key of an upload.
func DocumentKey(documentID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "document"
	}
	return path.Join("documents", documentID, name)
}

// MappingKey is the processed bucket key of a mapping payload.
func MappingKey(documentID string) string {
	return path.Join("mappings", documentID+".txt")
}

// ExportKey is the processed bucket key of an export workbook.
func ExportKey(documentID string) string {
	return path.Join("exports", documentID+".xlsx")
}
