package review

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"reviewhub/pkg/config"

	"github.com/gosimple/slug"
	"github.com/minio/minio-go/v7"
	"go.uber.org/fx"
)

//go:generate mockgen -source=proofstore.go -destination=mock_proofstore_test.go -package=review

// ProofStorage keeps proof screenshots and hands out durable public URLs.
type ProofStorage interface {
	Upload(ctx context.Context, objectPath string, data []byte) (string, error)
	PublicURL(objectPath string) string
}

type minioProofStorage struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

type ProofStorageParams struct {
	fx.In
	Config *config.Config
	Client *minio.Client
}

func NewProofStorage(p ProofStorageParams) ProofStorage {
	base := p.Config.Minio.PublicURL
	if base == "" {
		scheme := "http"
		if p.Config.Minio.Secure {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s", scheme, p.Config.Minio.Endpoint)
	}

	return &minioProofStorage{
		client:  p.Client,
		bucket:  p.Config.Minio.BucketName,
		baseURL: strings.TrimRight(base, "/"),
	}
}

func (s *minioProofStorage) Upload(ctx context.Context, objectPath string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, objectPath, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: http.DetectContentType(data),
	})
	if err != nil {
		return "", err
	}
	return s.PublicURL(objectPath), nil
}

func (s *minioProofStorage) PublicURL(objectPath string) string {
	return fmt.Sprintf("%s/%s/%s", s.baseURL, s.bucket, strings.TrimLeft(objectPath, "/"))
}

// ProofObjectPath builds "{taskID}/{unixMillis}-{slug}{ext}" for an uploaded file name.
func ProofObjectPath(taskID, filename string, at time.Time) string {
	ext := strings.ToLower(path.Ext(filename))
	name := slug.Make(strings.TrimSuffix(path.Base(filename), path.Ext(filename)))
	if name == "" {
		name = "screenshot"
	}
	return fmt.Sprintf("%s/%d-%s%s", taskID, at.UnixMilli(), name, ext)
}
