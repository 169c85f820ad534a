package storage

import (
	"context"
	"fmt"
	"path"
	"time"

	"promohive/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("storage",
	fx.Provide(NewObjectStore),
)

// ObjectStore hands out short lived upload URLs for proof attachments.
type ObjectStore interface {
	PresignUpload(ctx context.Context, objectKey string) (string, error)
}

type MinioStore struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

func NewObjectStore(c *config.Config) (ObjectStore, error) {
	if c.Minio.Endpoint == "" {
		zap.L().Warn("[Storage] MINIO.ENDPOINT not set, proof uploads disabled")
		return DisabledStore{}, nil
	}

	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(context.Background(), c.Minio.BucketName)
	if err != nil {
		zap.L().Warn("[Storage] failed to check bucket", zap.String("bucket", c.Minio.BucketName), zap.Error(err))
	}
	zap.L().Info("[Storage] MinIO client initialized", zap.String("endpoint", c.Minio.Endpoint), zap.Bool("bucket_exists", exists))

	return &MinioStore{client: client, bucket: c.Minio.BucketName, expiry: c.Minio.UploadExpiry}, nil
}

func (s *MinioStore) PresignUpload(ctx context.Context, objectKey string) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, objectKey, s.expiry)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// ProofObjectKey is proofs/{userID}/{assignmentID}/{base(filename)}.
func ProofObjectKey(userID, assignmentID, filename string) string {
	return path.Join("proofs", userID, assignmentID, path.Base("/"+filename))
}

type DisabledStore struct{}

func (DisabledStore) PresignUpload(context.Context, string) (string, error) {
	return "", fmt.Errorf("object storage is not configured")
}
