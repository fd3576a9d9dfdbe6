package api

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/teamspace/pkg/api/storage"
	"github.com/ethpandaops/teamspace/pkg/api/store"
	"github.com/ethpandaops/teamspace/pkg/config"
)

func (c *client) upload(name string, content []byte) response {
	c.t.Helper()

	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile(uploadFormField, name)
	require.NoError(c.t, err)

	_, err = part.Write(content)
	require.NoError(c.t, err)
	require.NoError(c.t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, c.env.ts.URL+"/api/v1/files", &buf)
	require.NoError(c.t, err)

	req.Header.Set("Content-Type", mw.FormDataContentType())

	return c.send(req)
}

func TestFiles(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceP := env.signup(t, "alice", "p@ss1")
	bob, _ := env.signup(t, "bob", "p@ss1")

	resp := alice.upload("notes.txt", []byte("hello world"))
	require.Equal(t, http.StatusCreated, resp.status, "body: %s", resp.body)

	var file store.FileObject
	resp.decode(t, &file)

	assert.Equal(t, "notes.txt", file.Name)
	assert.Equal(t, int64(len("hello world")), file.Size)
	assert.Equal(t, aliceP.ID, file.AuthorID)
	assert.NotContains(t, string(resp.body), fileKeyPrefix)

	t.Run("download streams local content", func(t *testing.T) {
		resp := bob.do(http.MethodGet, "/api/v1/files/"+file.ID, nil)
		require.Equal(t, http.StatusOK, resp.status)
		assert.Equal(t, "hello world", string(resp.body))
		assert.Contains(t, resp.header.Get("Content-Disposition"), "notes.txt")
	})

	t.Run("listed", func(t *testing.T) {
		var files []store.FileObject
		resp := bob.do(http.MethodGet, "/api/v1/files", nil)
		require.Equal(t, http.StatusOK, resp.status)
		resp.decode(t, &files)
		require.Len(t, files, 1)
	})

	t.Run("too large", func(t *testing.T) {
		resp := alice.upload("big.bin", bytes.Repeat([]byte("x"), 2048))
		require.Equal(t, http.StatusRequestEntityTooLarge, resp.status)

		count, err := env.srv.store.CountFiles(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("missing file field", func(t *testing.T) {
		var buf bytes.Buffer

		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("other", "value"))
		require.NoError(t, mw.Close())

		req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/api/v1/files", &buf)
		require.NoError(t, err)
		req.Header.Set("Content-Type", mw.FormDataContentType())

		assert.Equal(t, http.StatusBadRequest, alice.send(req).status)
	})

	t.Run("only author or admin deletes", func(t *testing.T) {
		resp := bob.do(http.MethodDelete, "/api/v1/files/"+file.ID, nil)
		require.Equal(t, http.StatusForbidden, resp.status)

		resp = alice.do(http.MethodDelete, "/api/v1/files/"+file.ID, nil)
		require.Equal(t, http.StatusOK, resp.status)

		resp = alice.do(http.MethodGet, "/api/v1/files/"+file.ID, nil)
		assert.Equal(t, http.StatusNotFound, resp.status)
	})
}

// presignedBackend wraps a backend and hands out fixed download URLs.
type presignedBackend struct {
	storage.Backend
}

func (presignedBackend) URL(_ context.Context, key string) (string, error) {
	return "https://cdn.example/" + key, nil
}

func TestFiles_PresignedDownload(t *testing.T) {
	env := newTestEnv(t)
	env.srv.files = presignedBackend{Backend: env.srv.files}

	alice, _ := env.signup(t, "alice", "p@ss1")

	resp := alice.upload("a.txt", []byte("a"))
	require.Equal(t, http.StatusCreated, resp.status, "body: %s", resp.body)

	var file store.FileObject
	resp.decode(t, &file)

	resp = alice.do(http.MethodGet, "/api/v1/files/"+file.ID, nil)
	require.Equal(t, http.StatusFound, resp.status)
	assert.True(t, strings.HasPrefix(resp.header.Get("Location"), "https://cdn.example/"+fileKeyPrefix))

	resp = alice.do(http.MethodGet, "/api/v1/files/"+file.ID+"?redirect=false", nil)
	require.Equal(t, http.StatusOK, resp.status)

	var out fileURLResponse
	resp.decode(t, &out)
	assert.True(t, strings.HasPrefix(out.URL, "https://cdn.example/"+fileKeyPrefix))
}

func TestFiles_DisabledWithoutBackend(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.API.Storage.Local = nil
	})

	alice, _ := env.signup(t, "alice", "p@ss1")

	resp := alice.do(http.MethodGet, "/api/v1/files", nil)
	assert.Equal(t, http.StatusNotFound, resp.status)
}
