package gcs

import (
	"context"
	"errors"
	"testing"
	"time"

	"road_anomaly_reconciler/internal/infra/config"

	"cloud.google.com/go/storage"
)

type fakeBucket struct {
	object string
	opts   *storage.SignedURLOptions
	err    error
}

func (f *fakeBucket) SignedURL(object string, opts *storage.SignedURLOptions) (string, error) {
	f.object, f.opts = object, opts
	if f.err != nil {
		return "", f.err
	}
	return "https://storage.example/" + object + "?sig=1", nil
}

func TestResolveSignsV4GetURL(t *testing.T) {
	fb := &fakeBucket{}
	s := &Signer{bucket: fb}

	before := time.Now()
	url, err := s.Resolve(context.Background(), "/reports/abc.jpg", 10*time.Minute)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if url != "https://storage.example/reports/abc.jpg?sig=1" {
		t.Fatalf("unexpected url %q", url)
	}
	if fb.object != "reports/abc.jpg" {
		t.Fatalf("leading slash should be trimmed, got %q", fb.object)
	}
	if fb.opts.Scheme != storage.SigningSchemeV4 || fb.opts.Method != "GET" {
		t.Fatalf("unexpected options %+v", fb.opts)
	}
	if exp := fb.opts.Expires.Sub(before); exp < 10*time.Minute || exp > 11*time.Minute {
		t.Fatalf("expiry %s not around 10m", exp)
	}
}

func TestResolveEmptyReference(t *testing.T) {
	fb := &fakeBucket{}
	s := &Signer{bucket: fb}
	url, err := s.Resolve(context.Background(), "  ", time.Minute)
	if err != nil || url != "" {
		t.Fatalf("got url=%q err=%v", url, err)
	}
	if fb.opts != nil {
		t.Fatalf("bucket should not be called for an empty reference")
	}
}

func TestResolveSigningError(t *testing.T) {
	s := &Signer{bucket: &fakeBucket{err: errors.New("no private key")}}
	if _, err := s.Resolve(context.Background(), "a.jpg", time.Minute); err == nil {
		t.Fatalf("expected signing error")
	}
}

func TestClientOptions(t *testing.T) {
	if got := ClientOptions(config.MediaConfig{}); got != nil {
		t.Fatalf("expected default credentials, got %d options", len(got))
	}
	if got := ClientOptions(config.MediaConfig{CredentialsJSON: `{"type":"service_account"}`}); len(got) != 1 {
		t.Fatalf("expected one option for JSON credentials")
	}
	if got := ClientOptions(config.MediaConfig{CredentialsFile: "/etc/sa.json"}); len(got) != 1 {
		t.Fatalf("expected one option for a credentials file")
	}
}
