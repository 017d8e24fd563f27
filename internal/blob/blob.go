// Package blob stores document version snapshots and attachments in
// S3-compatible object storage. Version history rides on bucket versioning:
// every save of a document overwrites one object and the bucket keeps the
// older generations.
package blob

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrVersionNotFound = errors.New("version not found")

type Version struct {
	ID        string
	Size      int64
	IsLatest  bool
	CreatedAt time.Time
}

// MediaAuth carries a presigned download URL plus the headers a fronting
// proxy must forward verbatim for the signature to hold.
type MediaAuth struct {
	URL     string
	Headers map[string]string
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Store struct {
	client *minio.Client
	bucket string
}

func NewStore(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket with versioning enabled if it does not
// exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("make bucket: %w", err)
		}
	}
	if err := s.client.EnableVersioning(ctx, s.bucket); err != nil {
		return fmt.Errorf("enable versioning: %w", err)
	}
	return nil
}

func versionKey(nodeID string) string {
	return nodeID + "/file"
}

// ListVersions returns the stored versions of a document, newest first.
func (s *Store) ListVersions(ctx context.Context, nodeID string) ([]Version, error) {
	key := versionKey(nodeID)
	versions := make([]Version, 0)
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:       key,
		WithVersions: true,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list versions: %w", info.Err)
		}
		if info.Key != key || info.IsDeleteMarker {
			continue
		}
		versions = append(versions, Version{
			ID:        info.VersionID,
			Size:      info.Size,
			IsLatest:  info.IsLatest,
			CreatedAt: info.LastModified,
		})
	}
	return versions, nil
}

func (s *Store) StatVersion(ctx context.Context, nodeID, versionID string) (Version, error) {
	info, err := s.client.StatObject(ctx, s.bucket, versionKey(nodeID), minio.StatObjectOptions{
		VersionID: versionID,
	})
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && (resp.StatusCode == 404 || resp.Code == "NoSuchVersion") {
			return Version{}, ErrVersionNotFound
		}
		return Version{}, fmt.Errorf("stat version: %w", err)
	}
	return Version{
		ID:        info.VersionID,
		Size:      info.Size,
		IsLatest:  info.IsLatest,
		CreatedAt: info.LastModified,
	}, nil
}

func (s *Store) DeleteVersion(ctx context.Context, nodeID, versionID string) error {
	err := s.client.RemoveObject(ctx, s.bucket, versionKey(nodeID), minio.RemoveObjectOptions{
		VersionID: versionID,
	})
	if err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	return nil
}

// PresignVersion signs a short-lived GET for one version of the document
// snapshot.
func (s *Store) PresignVersion(ctx context.Context, nodeID, versionID string, ttl time.Duration) (string, error) {
	params := url.Values{}
	params.Set("versionId", versionID)
	signed, err := s.client.PresignedGetObject(ctx, s.bucket, versionKey(nodeID), ttl, params)
	if err != nil {
		return "", fmt.Errorf("presign version: %w", err)
	}
	return signed.String(), nil
}

// PresignMedia signs a short-lived GET for an attachment key.
func (s *Store) PresignMedia(ctx context.Context, key string, ttl time.Duration) (MediaAuth, error) {
	signed, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, nil)
	if err != nil {
		return MediaAuth{}, fmt.Errorf("presign media: %w", err)
	}
	return MediaAuth{
		URL: signed.String(),
		Headers: map[string]string{
			"X-Accel-Redirect": "/media-storage/" + key,
		},
	}, nil
}
