package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citizenportal/internal/config"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 64)...)

func TestLocalUploadAndDelete(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir, "/files/")
	require.NoError(t, err)

	res, err := l.Upload(context.Background(), FolderReports, "a.png", pngBytes)
	require.NoError(t, err)
	assert.Equal(t, "reports/a.png", res.Path)
	assert.Equal(t, "/files/reports/a.png", res.URL)

	got, err := os.ReadFile(filepath.Join(dir, "reports", "a.png"))
	require.NoError(t, err)
	assert.Equal(t, pngBytes, got)

	require.NoError(t, l.Delete(context.Background(), res.Path))
	_, err = os.Stat(filepath.Join(dir, "reports", "a.png"))
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, l.Delete(context.Background(), res.Path))
}

func TestLocalRejectsEscapes(t *testing.T) {
	l, err := NewLocal(t.TempDir(), "/files")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = l.Upload(ctx, "../etc", "x.png", pngBytes)
	assert.ErrorIs(t, err, ErrInvalidFile)
	_, err = l.Upload(ctx, FolderRepairs, "../x.png", pngBytes)
	assert.ErrorIs(t, err, ErrInvalidFile)
	_, err = l.Upload(ctx, FolderRepairs, ".hidden", pngBytes)
	assert.ErrorIs(t, err, ErrInvalidFile)
	assert.ErrorIs(t, l.Delete(ctx, "reports"), ErrInvalidFile)
	assert.ErrorIs(t, l.Delete(ctx, "etc/passwd"), ErrInvalidFile)
}

func TestNewSelectsBackend(t *testing.T) {
	u, err := New(config.UploadConfig{Backend: "local", Dir: t.TempDir(), BaseURL: "/files"})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, u)

	u, err = New(config.UploadConfig{Backend: "FTP", FTPHost: "ftp.example", FTPPort: "21", BaseURL: "https://cdn.example"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/repairs/b.jpg", u.URL("repairs/b.jpg"))

	_, err = New(config.UploadConfig{Backend: "s3"})
	assert.Error(t, err)
}

func multipartBody(t *testing.T, folder string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if folder != "" {
		require.NoError(t, mw.WriteField("folder", folder))
	}
	fw, err := mw.CreateFormFile("file", "photo.bin")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHandler(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir, "/files")
	require.NoError(t, err)
	r := chi.NewRouter()
	NewHandler(l, 1024, nil).Routes(r, nil)

	post := func(folder string, data []byte) *httptest.ResponseRecorder {
		body, ct := multipartBody(t, folder, data)
		req := httptest.NewRequest(http.MethodPost, "/api/uploads", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := post(FolderRepairs, pngBytes)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, strings.HasPrefix(res.Path, "repairs/"))
	assert.True(t, strings.HasSuffix(res.Path, ".png"))
	assert.FileExists(t, filepath.Join(dir, filepath.FromSlash(res.Path)))

	rec = post("", pngBytes)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"path":"reports/`)

	assert.Equal(t, http.StatusUnsupportedMediaType, post("", []byte("just some text, not an image")).Code)
	assert.Equal(t, http.StatusBadRequest, post("secrets", pngBytes).Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, post("", append(pngBytes, make([]byte, 2048)...)).Code)
}
