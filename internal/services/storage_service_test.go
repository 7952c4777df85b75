package services

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storageRequest struct {
	method string
	path   string
	auth   string
	body   []byte
}

func newStorageServer(t *testing.T, status int) (*httptest.Server, *[]storageRequest) {
	t.Helper()

	requests := make([]storageRequest, 0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, storageRequest{
			method: r.Method,
			path:   r.URL.Path,
			auth:   r.Header.Get("Authorization"),
			body:   body,
		})
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func TestSupabaseUploadFile(t *testing.T) {
	server, requests := newStorageServer(t, http.StatusOK)
	storage := NewSupabaseStorageService(server.URL+"/", "market", "service-key")

	fileURL, err := storage.UploadFile(context.Background(), nopFile{bytes.NewReader([]byte("image-bytes"))}, "a.png", "/chat/7/")
	require.NoError(t, err)

	assert.Equal(t, server.URL+"/storage/v1/object/public/market/chat/7/a.png", fileURL)
	require.Len(t, *requests, 1)
	got := (*requests)[0]
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/storage/v1/object/market/chat/7/a.png", got.path)
	assert.Equal(t, "Bearer service-key", got.auth)
	assert.Equal(t, []byte("image-bytes"), got.body)
}

func TestSupabaseUploadFileSurfacesStatus(t *testing.T) {
	server, _ := newStorageServer(t, http.StatusForbidden)
	storage := NewSupabaseStorageService(server.URL, "market", "service-key")

	_, err := storage.UploadFile(context.Background(), nopFile{bytes.NewReader([]byte("x"))}, "a.png", "avatars")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestSupabaseDeleteFile(t *testing.T) {
	server, requests := newStorageServer(t, http.StatusNotFound)
	storage := NewSupabaseStorageService(server.URL, "market", "service-key")

	err := storage.DeleteFile(context.Background(), server.URL+"/storage/v1/object/public/market/avatars/1/old.png")
	require.NoError(t, err, "missing objects are already deleted")
	require.Len(t, *requests, 1)
	assert.Equal(t, "/storage/v1/object/market/avatars/1/old.png", (*requests)[0].path)

	err = storage.DeleteFile(context.Background(), "https://elsewhere.example.com/storage/v1/object/public/other/x.png")
	assert.Error(t, err)
}

func TestImageUploadValidate(t *testing.T) {
	tests := []struct {
		name    string
		upload  ImageUpload
		wantExt string
		wantErr bool
	}{
		{name: "png", upload: ImageUpload{Filename: "a.PNG", Size: 10}, wantExt: ".png"},
		{name: "webp", upload: ImageUpload{Filename: "a.webp", Size: MaxImageSizeBytes}, wantExt: ".webp"},
		{name: "empty", upload: ImageUpload{Filename: "a.png", Size: 0}, wantErr: true},
		{name: "too large", upload: ImageUpload{Filename: "a.png", Size: MaxImageSizeBytes + 1}, wantErr: true},
		{name: "wrong type", upload: ImageUpload{Filename: "a.exe", Size: 10}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := tt.upload.Validate("image")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantExt, ext)
		})
	}
}
