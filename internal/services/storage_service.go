package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MaxImageSizeBytes = 5 * 1024 * 1024

	AvatarFolder    = "avatars"
	ChatImageFolder = "chat"
	ItemImageFolder = "items"
)

var allowedImageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
	".gif":  {},
}

type StorageService interface {
	UploadFile(ctx context.Context, file multipart.File, filename string, folder string) (string, error)
	DeleteFile(ctx context.Context, fileURL string) error
}

// ImageUpload is an image taken from a multipart form, not yet stored.
type ImageUpload struct {
	File     multipart.File
	Filename string
	Size     int64
}

// Validate checks size and extension and returns the normalized extension.
func (u *ImageUpload) Validate(field string) (string, error) {
	if u.Size <= 0 {
		return "", NewValidationError(field, "file is empty")
	}
	if u.Size > MaxImageSizeBytes {
		return "", NewValidationError(field, "file exceeds 5MB limit")
	}
	ext := strings.ToLower(filepath.Ext(u.Filename))
	if _, ok := allowedImageExtensions[ext]; !ok {
		return "", NewValidationError(field, "must be a jpg, jpeg, png, webp, or gif file")
	}
	return ext, nil
}

// NewObjectName returns a collision free object name keeping the extension.
func NewObjectName(ext string) string {
	return uuid.NewString() + ext
}

// storeImage validates and uploads an image, returning its public URL.
func storeImage(ctx context.Context, storage StorageService, upload *ImageUpload, field, folder string) (string, error) {
	if storage == nil {
		return "", ErrStorageUnavailable
	}
	ext, err := upload.Validate(field)
	if err != nil {
		return "", err
	}
	fileURL, err := storage.UploadFile(ctx, upload.File, NewObjectName(ext), folder)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", field, err)
	}
	return fileURL, nil
}

type SupabaseStorageService struct {
	baseURL    string
	bucket     string
	serviceKey string
	httpClient *http.Client
}

func NewSupabaseStorageService(baseURL, bucket, serviceKey string) *SupabaseStorageService {
	return &SupabaseStorageService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		bucket:     bucket,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *SupabaseStorageService) UploadFile(ctx context.Context, file multipart.File, filename string, folder string) (string, error) {
	objectPath := path.Join(strings.Trim(folder, "/"), filename)

	content, err := io.ReadAll(io.LimitReader(file, MaxImageSizeBytes+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}

	req, err := s.newObjectRequest(ctx, http.MethodPost, objectPath, bytes.NewReader(content))
	if err != nil {
		return "", err
	}
	req.Header.Set("x-upsert", "true")
	req.Header.Set("Content-Type", http.DetectContentType(content))

	if err := s.do(req, "upload file"); err != nil {
		return "", err
	}

	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, objectPath), nil
}

// DeleteFile removes a previously uploaded object. Missing objects are not an error.
func (s *SupabaseStorageService) DeleteFile(ctx context.Context, fileURL string) error {
	objectPath, err := s.objectPathFromURL(fileURL)
	if err != nil {
		return err
	}

	req, err := s.newObjectRequest(ctx, http.MethodDelete, objectPath, nil)
	if err != nil {
		return err
	}
	return s.do(req, "delete file")
}

func (s *SupabaseStorageService) newObjectRequest(ctx context.Context, method, objectPath string, body io.Reader) (*http.Request, error) {
	objectURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, s.bucket, objectPath)
	req, err := http.NewRequestWithContext(ctx, method, objectURL, body)
	if err != nil {
		return nil, fmt.Errorf("build storage request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
	return req, nil
}

func (s *SupabaseStorageService) do(req *http.Request, action string) error {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()

	if req.Method == http.MethodDelete && resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%s: status %d: %s", action, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func (s *SupabaseStorageService) objectPathFromURL(fileURL string) (string, error) {
	parsed, err := url.Parse(fileURL)
	if err != nil {
		return "", fmt.Errorf("parse file url: %w", err)
	}

	for _, prefix := range []string{
		"/storage/v1/object/public/" + s.bucket + "/",
		"/storage/v1/object/" + s.bucket + "/",
	} {
		if strings.HasPrefix(parsed.Path, prefix) {
			return strings.TrimPrefix(parsed.Path, prefix), nil
		}
	}
	return "", fmt.Errorf("file url does not belong to configured bucket")
}
