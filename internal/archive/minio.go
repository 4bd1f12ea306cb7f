package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dynamicworkspace/presence-sensor/internal/calibration"
	"github.com/dynamicworkspace/presence-sensor/internal/posture"
)

// MinIOConfig mirrors this codebase's config.MinIOConfig shape.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// MinIORecorder stores one quality-metrics snapshot image per completed
// calibration phase, for later review of why a calibration run produced a
// poor separation. Grounded on storage.MinIOStore's client/EnsureBucket/
// PutObject idiom; posture transitions are a no-op here since they have no
// associated image.
type MinIORecorder struct {
	client *minio.Client
	bucket string
}

// NewMinIORecorder builds the client and does not itself touch the network;
// call EnsureBucket once at startup.
func NewMinIORecorder(cfg MinIOConfig) (*MinIORecorder, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIORecorder{client: client, bucket: cfg.Bucket}, nil
}

func (r *MinIORecorder) EnsureBucket(ctx context.Context) error {
	exists, err := r.client.BucketExists(ctx, r.bucket)
	if err != nil {
		return fmt.Errorf("check calibration snapshot bucket: %w", err)
	}
	if !exists {
		if err := r.client.MakeBucket(ctx, r.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create calibration snapshot bucket: %w", err)
		}
	}
	return nil
}

func (r *MinIORecorder) RecordTransition(context.Context, uuid.UUID, posture.Transition) error {
	return nil
}

func (r *MinIORecorder) RecordCalibration(ctx context.Context, sessionID uuid.UUID, phase calibration.Phase, snapshot []byte, _ calibration.Profile) error {
	if len(snapshot) == 0 {
		return nil
	}
	key := fmt.Sprintf("%s/%s.png", sessionID, phase)
	_, err := r.client.PutObject(ctx, r.bucket, key, bytes.NewReader(snapshot), int64(len(snapshot)), minio.PutObjectOptions{
		ContentType: "image/png",
	})
	if err != nil {
		return fmt.Errorf("put calibration snapshot %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity for the readiness endpoint.
func (r *MinIORecorder) Ping(ctx context.Context) error {
	_, err := r.client.BucketExists(ctx, r.bucket)
	return err
}

func (r *MinIORecorder) Close() {}
