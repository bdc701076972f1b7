package minio

import (
	"context"

	"reviewhub/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Client = fx.Module("minio.client", fx.Provide(registerClient))

func registerClient(lc fx.Lifecycle, c *config.Config) (*minio.Client, error) {
	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
	})
	if err != nil {
		zap.L().Error("failed to create MinIO client", zap.String("endpoint", c.Minio.Endpoint), zap.Error(err))
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return EnsureBucket(ctx, client, c.Minio.BucketName)
		},
	})

	return client, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func EnsureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		zap.L().Error("failed to check if bucket exists", zap.String("bucket", bucket), zap.Error(err))
		return err
	}

	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			zap.L().Error("failed to create bucket", zap.String("bucket", bucket), zap.Error(err))
			return err
		}
	}

	zap.L().Info("MinIO client initialized", zap.String("endpoint", client.EndpointURL().Host), zap.String("bucket", bucket), zap.Bool("created", !exists))
	return nil
}
