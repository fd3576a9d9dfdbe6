package storage

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/teamspace/pkg/config"
)

func newTestS3Backend(t *testing.T, prefix string) *s3Backend {
	t.Helper()

	// A MinIO-style endpoint lets presigning work without real AWS creds.
	b, err := newS3Backend(logrus.New(), &config.APIS3Config{
		Enabled:         true,
		Bucket:          "team-files",
		Region:          "us-east-1",
		Prefix:          prefix,
		EndpointURL:     "http://localhost:9000",
		ForcePathStyle:  true,
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		PresignedURLs: config.APIS3PresignedURLConfig{
			Expiry: "1h",
		},
	})
	require.NoError(t, err)

	return b
}

func TestS3Backend_ObjectKey(t *testing.T) {
	b := newTestS3Backend(t, "/teamspace/")

	key, err := b.objectKey("files/abc")
	require.NoError(t, err)
	assert.Equal(t, "teamspace/files/abc", key)

	_, err = b.objectKey("../abc")
	require.Error(t, err)

	bare := newTestS3Backend(t, "")

	key, err = bare.objectKey("files/abc")
	require.NoError(t, err)
	assert.Equal(t, "files/abc", key)
}

func TestS3Backend_CachesURLs(t *testing.T) {
	b := newTestS3Backend(t, "shared")
	ctx := context.Background()

	url1, err := b.URL(ctx, "files/a.txt")
	require.NoError(t, err)
	assert.Contains(t, url1, "/team-files/shared/files/a.txt")

	url2, err := b.URL(ctx, "files/a.txt")
	require.NoError(t, err)
	assert.Equal(t, url1, url2, "expected cached URL to be identical")

	url3, err := b.URL(ctx, "files/b.txt")
	require.NoError(t, err)
	assert.NotEqual(t, url1, url3)

	_, err = b.URL(ctx, "files/../../etc")
	require.Error(t, err)
}

func TestS3Backend_InvalidExpiry(t *testing.T) {
	_, err := newS3Backend(logrus.New(), &config.APIS3Config{
		Bucket:        "b",
		PresignedURLs: config.APIS3PresignedURLConfig{Expiry: "soon"},
	})
	require.Error(t, err)
}
