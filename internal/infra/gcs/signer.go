package gcs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"road_anomaly_reconciler/internal/infra/config"

	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// objectSigner is the subset of *storage.BucketHandle used here.
type objectSigner interface {
	SignedURL(object string, opts *storage.SignedURLOptions) (string, error)
}

// Signer issues V4 signed GET URLs for report media stored in a GCS bucket.
type Signer struct {
	bucket objectSigner
	client *storage.Client
	log    *logrus.Entry
}

// ClientOptions picks credentials from config. JSON content wins over a file path;
// with neither set the client falls back to application default credentials.
func ClientOptions(cfg config.MediaConfig) []option.ClientOption {
	if creds := strings.TrimSpace(cfg.CredentialsJSON); creds != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	if path := strings.TrimSpace(cfg.CredentialsFile); path != "" {
		if strings.HasPrefix(path, "{") {
			return []option.ClientOption{option.WithCredentialsJSON([]byte(path))}
		}
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func NewSigner(ctx context.Context, cfg config.MediaConfig, log *logrus.Entry) (*Signer, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("media bucket is not configured")
	}
	opts := append(ClientOptions(cfg), option.WithScopes(storage.ScopeReadOnly))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	log.Infof("Media signer ready for bucket %s", cfg.Bucket)
	return &Signer{bucket: client.Bucket(cfg.Bucket), client: client, log: log}, nil
}

// Resolve returns a signed URL for reference valid for ttl. An empty
// reference resolves to an empty URL.
func (s *Signer) Resolve(ctx context.Context, reference string, ttl time.Duration) (string, error) {
	reference = strings.TrimLeft(strings.TrimSpace(reference), "/")
	if reference == "" {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	url, err := s.bucket.SignedURL(reference, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign media %s: %w", reference, err)
	}
	return url, nil
}

func (s *Signer) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
