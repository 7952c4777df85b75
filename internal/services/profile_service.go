package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/unimarket/campus-market/internal/models"
	"github.com/unimarket/campus-market/internal/repository"
)

type ProfileStore interface {
	GetByUserID(ctx context.Context, userID int64) (*models.Profile, error)
	GetPublic(ctx context.Context, userID int64) (*models.PublicProfile, error)
	UpdatePartial(ctx context.Context, userID int64, req repository.UpdateProfileInput) (*models.Profile, error)
}

type ProfileService struct {
	profiles ProfileStore
	storage  StorageService
}

func NewProfileService(profiles ProfileStore, storage StorageService) *ProfileService {
	return &ProfileService{
		profiles: profiles,
		storage:  storage,
	}
}

func (s *ProfileService) GetOwn(ctx context.Context, userID int64) (*models.Profile, error) {
	profile, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}
	return profile, nil
}

func (s *ProfileService) GetPublic(ctx context.Context, userID int64) (*models.PublicProfile, error) {
	profile, err := s.profiles.GetPublic(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load public profile: %w", err)
	}
	return profile, nil
}

func (s *ProfileService) Update(ctx context.Context, userID int64, req repository.UpdateProfileInput) (*models.Profile, error) {
	profile, err := s.profiles.UpdatePartial(ctx, userID, req)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return profile, nil
}

// UploadAvatar stores the new image, points the profile at it and removes
// the previous avatar object.
func (s *ProfileService) UploadAvatar(ctx context.Context, userID int64, upload *ImageUpload) (*models.Profile, error) {
	current, err := s.GetOwn(ctx, userID)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(upload.Filename), ".gif") {
		return nil, NewValidationError("avatar", "must be a jpg, jpeg, png, or webp file")
	}

	folder := AvatarFolder + "/" + strconv.FormatInt(userID, 10)
	avatarURL, err := storeImage(ctx, s.storage, upload, "avatar", folder)
	if err != nil {
		return nil, err
	}

	profile, err := s.Update(ctx, userID, repository.UpdateProfileInput{AvatarURL: &avatarURL})
	if err != nil {
		_ = s.storage.DeleteFile(ctx, avatarURL)
		return nil, err
	}

	if current.AvatarURL != nil && *current.AvatarURL != "" && *current.AvatarURL != avatarURL {
		_ = s.storage.DeleteFile(ctx, *current.AvatarURL)
	}
	return profile, nil
}
