package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen/internal/config"
)

// ObjectStore is the subset of the MinIO client used for uploads.
// *minio.Client satisfies it.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, key string, expires time.Duration, params url.Values) (*url.URL, error)
}

// Uploaded describes an export pushed to object storage.
type Uploaded struct {
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Uploader stores rendered exports and hands out presigned download links.
type Uploader struct {
	store  ObjectStore
	bucket string
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewUploader wraps an ObjectStore. A non-positive ttl defaults to one hour.
func NewUploader(store ObjectStore, bucket, prefix string, ttl time.Duration) *Uploader {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Uploader{
		store:  store,
		bucket: bucket,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
	}
}

// NewMinIOUploader builds an Uploader backed by a MinIO/S3 client.
func NewMinIOUploader(cfg config.ExportConfig) (*Uploader, error) {
	if !cfg.UploadEnabled() {
		return nil, eris.New("export: upload bucket not configured")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, eris.Wrap(err, "export: create object store client")
	}
	return NewUploader(client, cfg.Bucket, cfg.Prefix, time.Duration(cfg.PresignTTLMins)*time.Minute), nil
}

// Key returns the object key for a run's export rendered at t.
func (u *Uploader) Key(runID string, f Format, t time.Time) string {
	name := fmt.Sprintf("leads-%s.%s", t.UTC().Format("20060102T150405Z"), f)
	return path.Join(strings.TrimSuffix(u.prefix, "/"), runID, name)
}

// Upload stores data under a run-scoped key and presigns a GET for it.
func (u *Uploader) Upload(ctx context.Context, runID string, f Format, data []byte) (*Uploaded, error) {
	now := u.now()
	key := u.Key(runID, f, now)
	log := zap.L().With(zap.String("component", "export"), zap.String("run_id", runID), zap.String("key", key))

	info, err := u.store.PutObject(ctx, u.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: f.ContentType(),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "export: put object %s", key)
	}

	link, err := u.store.PresignedGetObject(ctx, u.bucket, key, u.ttl, presignParams(runID, f))
	if err != nil {
		return nil, eris.Wrapf(err, "export: presign %s", key)
	}

	log.Info("export uploaded", zap.Int64("size", info.Size))
	return &Uploaded{
		Bucket:    u.bucket,
		Key:       key,
		Size:      info.Size,
		URL:       link.String(),
		ExpiresAt: now.Add(u.ttl),
	}, nil
}

func presignParams(runID string, f Format) url.Values {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", f.Filename(runID)))
	return params
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
