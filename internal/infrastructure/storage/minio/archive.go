package minio

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	domainRenewal "github.com/turtacn/keyip-renewals/internal/domain/renewal"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/keyip-renewals/pkg/errors"
)

const exportPrefix = "exports/"

// ExportArchive keeps generated export files in the export bucket and hands
// back a presigned download URL.
type ExportArchive struct {
	client *Client
	logger logging.Logger
	now    func() time.Time
}

var _ domainRenewal.ExportArchive = (*ExportArchive)(nil)

func NewExportArchive(client *Client, logger logging.Logger) *ExportArchive {
	return &ExportArchive{client: client, logger: logger, now: time.Now}
}

// Store uploads body under exports/YYYY/MM/DD/<uuid>-<name>. size may be -1
// when unknown.
func (a *ExportArchive) Store(ctx context.Context, name, contentType string, body io.Reader, size int64) (string, error) {
	if a.client.isClosed() {
		return "", ErrClientClosed
	}
	if strings.TrimSpace(name) == "" {
		return "", errors.NewValidationError("name", "export file name is required")
	}

	key := a.objectKey(name)
	bucket := a.client.config.Bucket
	info, err := a.client.api.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{
		ContentType:        contentType,
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", path.Base(name)),
		UserMetadata:       map[string]string{"source": "renewal-export"},
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExternalService, "failed to upload export")
	}

	u, err := a.client.api.PresignedGetObject(ctx, bucket, key, a.client.config.PresignExpiry, nil)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExternalService, "failed to presign export url")
	}

	a.logger.Info("Export archived",
		logging.String("bucket", bucket),
		logging.String("key", key),
		logging.Int64("size", info.Size))
	return u.String(), nil
}

// Remove deletes an archived export by object key.
func (a *ExportArchive) Remove(ctx context.Context, key string) error {
	if err := a.client.api.RemoveObject(ctx, a.client.config.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "failed to remove export")
	}
	return nil
}

func (a *ExportArchive) objectKey(name string) string {
	return exportPrefix + a.now().UTC().Format("2006/01/02") + "/" + uuid.NewString() + "-" + path.Base(name)
}
