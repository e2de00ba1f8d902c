package minio

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/keyip-renewals/internal/config"
	"github.com/turtacn/keyip-renewals/internal/infrastructure/monitoring/logging"
	appErrors "github.com/turtacn/keyip-renewals/pkg/errors"
)

func newTestArchive(api *MockObjectAPI) *ExportArchive {
	c := NewClientWithAPI(api, config.MinIOConfig{Bucket: "exports", PresignExpiry: time.Hour}, logging.NewNopLogger())
	a := NewExportArchive(c, logging.NewNopLogger())
	a.now = func() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC) }
	return a
}

func TestStore(t *testing.T) {
	api := new(MockObjectAPI)
	a := newTestArchive(api)

	var key string
	api.On("PutObject", mock.Anything, "exports", mock.AnythingOfType("string"), mock.Anything, int64(11), mock.MatchedBy(func(o minio.PutObjectOptions) bool {
		return o.ContentType == "text/csv"
	})).Run(func(args mock.Arguments) { key = args.String(2) }).
		Return(minio.UploadInfo{Bucket: "exports", Size: 11}, nil)
	signed, _ := url.Parse("https://s3.local/exports/file?X-Amz-Signature=abc")
	api.On("PresignedGetObject", mock.Anything, "exports", mock.AnythingOfType("string"), time.Hour, url.Values(nil)).Return(signed, nil)

	got, err := a.Store(context.Background(), "renewals.csv", "text/csv", strings.NewReader("a;b\n1;2\n..."), 11)
	require.NoError(t, err)
	assert.Equal(t, signed.String(), got)
	assert.True(t, strings.HasPrefix(key, "exports/2026/05/04/"), key)
	assert.True(t, strings.HasSuffix(key, "-renewals.csv"), key)
	api.AssertExpectations(t)
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()

	api := new(MockObjectAPI)
	a := newTestArchive(api)
	_, err := a.Store(ctx, " ", "text/csv", strings.NewReader(""), 0)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeValidation))

	api.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, errors.New("access denied"))
	_, err = a.Store(ctx, "x.csv", "text/csv", strings.NewReader("x"), 1)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrCodeExternalService))

	api2 := new(MockObjectAPI)
	b := newTestArchive(api2)
	api2.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, nil)
	api2.On("PresignedGetObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("bad credentials"))
	_, err = b.Store(ctx, "x.csv", "text/csv", strings.NewReader("x"), 1)
	assert.Error(t, err)

	require.NoError(t, b.client.Close())
	_, err = b.Store(ctx, "x.csv", "text/csv", strings.NewReader("x"), 1)
	assert.Equal(t, ErrClientClosed, err)
}

func TestRemove(t *testing.T) {
	api := new(MockObjectAPI)
	a := newTestArchive(api)
	api.On("RemoveObject", mock.Anything, "exports", "exports/k", mock.Anything).Return(nil)
	assert.NoError(t, a.Remove(context.Background(), "exports/k"))
}
