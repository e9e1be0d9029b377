// Package logexport uploads full run logs to object storage and hands back a
// time-limited download link.
package logexport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/bmess/blueocean-plugin/internal/address"
	"github.com/bmess/blueocean-plugin/internal/platform/objectstore"
	"github.com/bmess/blueocean-plugin/internal/service/views"
)

var ErrNotConfigured = errors.New("log export is not configured")

// ErrInvalidKey is returned when a pipeline or file name would not map to a
// key under the pipeline's own prefix.
var ErrInvalidKey = errors.New("invalid object key")

// LogSource loads a run log; views.Loader implements it.
type LogSource interface {
	RunLog(ctx context.Context, c address.Context, active bool) (views.RunLogFile, error)
}

type Config struct {
	Bucket string
	URLTTL time.Duration
}

type Exporter struct {
	logs   LogSource
	store  objectstore.Store
	bucket string
	ttl    time.Duration
	logger *slog.Logger
}

type Result struct {
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	FileName  string    `json:"file_name"`
	Size      int64     `json:"size_bytes"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func New(logs LogSource, store objectstore.Store, cfg Config, logger *slog.Logger) (*Exporter, error) {
	if logs == nil {
		return nil, errors.New("log source is required")
	}
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{logs: logs, store: store, bucket: cfg.Bucket, ttl: cfg.URLTTL, logger: logger}, nil
}

// Export uploads the run log to {bucket}/{pipeline}/{file name} and returns a
// presigned GET URL for it. A nil Exporter returns ErrNotConfigured.
func (e *Exporter) Export(ctx context.Context, c address.Context, active bool) (Result, error) {
	if e == nil {
		return Result{}, ErrNotConfigured
	}
	if _, err := objectKey(c.Pipeline, "log.txt"); err != nil {
		return Result{}, err
	}
	file, err := e.logs.RunLog(ctx, c, active)
	if err != nil {
		return Result{}, err
	}

	key, err := objectKey(c.Pipeline, file.FileName)
	if err != nil {
		return Result{}, err
	}
	size := int64(len(file.Text))
	if err := e.store.Put(ctx, e.bucket, key, strings.NewReader(file.Text), size, "text/plain; charset=utf-8"); err != nil {
		return Result{}, fmt.Errorf("upload %s/%s: %w", e.bucket, key, err)
	}
	url, err := e.store.PresignGet(ctx, e.bucket, key, e.ttl)
	if err != nil {
		return Result{}, fmt.Errorf("presign %s/%s: %w", e.bucket, key, err)
	}

	e.logger.Info("run log exported", "bucket", e.bucket, "key", key, "size_bytes", size)
	return Result{
		Bucket:    e.bucket,
		Key:       key,
		FileName:  file.FileName,
		Size:      size,
		URL:       url,
		ExpiresAt: time.Now().UTC().Add(e.ttl),
	}, nil
}

// objectKey joins pipeline and fileName into {pipeline}/{fileName}. Empty,
// "." and ".." segments are rejected so the key never leaves the prefix.
func objectKey(pipeline, fileName string) (string, error) {
	for _, part := range []string{pipeline, fileName} {
		for _, seg := range strings.Split(part, "/") {
			if seg == "" || seg == "." || seg == ".." {
				return "", fmt.Errorf("%w: %q", ErrInvalidKey, part)
			}
		}
	}
	return path.Join(pipeline, fileName), nil
}

// Ready reports whether the export bucket is reachable.
func (e *Exporter) Ready(ctx context.Context) error {
	if e == nil {
		return ErrNotConfigured
	}
	ok, err := e.store.BucketExists(ctx, e.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %q does not exist", e.bucket)
	}
	return nil
}
