// Package archive uploads submitted result sets to S3-compatible object
// storage.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrNotConfigured = errors.New("archive is not configured")

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func (c Config) IsConfigured() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Store struct {
	client objectStore
	bucket string
}

func New(cfg Config) (*Store, error) {
	if !cfg.IsConfigured() {
		return nil, ErrNotConfigured
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *Store) Bucket() string {
	return s.bucket
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Submission is one archived result set.
type Submission struct {
	SessionID   string
	Experiment  string
	SubmittedAt time.Time
	CSV         []byte
	JSON        []byte
}

// Keys returns the object names for a submission's CSV and JSON files.
func Keys(experiment, sessionID string, submittedAt time.Time) (csvKey, jsonKey string) {
	if experiment == "" {
		experiment = "default"
	}
	base := path.Join(experiment, submittedAt.UTC().Format("2006/01/02"), sessionID)
	return base + ".csv", base + ".json"
}

// Put uploads both renderings of a submission and returns the object keys.
func (s *Store) Put(ctx context.Context, sub Submission) ([]string, error) {
	csvKey, jsonKey := Keys(sub.Experiment, sub.SessionID, sub.SubmittedAt)
	uploads := []struct {
		key         string
		contentType string
		body        []byte
	}{
		{csvKey, "text/csv; charset=utf-8", sub.CSV},
		{jsonKey, "application/json", sub.JSON},
	}
	keys := make([]string, 0, len(uploads))
	for _, u := range uploads {
		if u.body == nil {
			continue
		}
		_, err := s.client.PutObject(ctx, s.bucket, u.key, bytes.NewReader(u.body), int64(len(u.body)), minio.PutObjectOptions{
			ContentType:  u.contentType,
			UserMetadata: map[string]string{"session-id": sub.SessionID},
		})
		if err != nil {
			return keys, fmt.Errorf("upload %s: %w", u.key, err)
		}
		keys = append(keys, u.key)
	}
	return keys, nil
}
