package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/unimarket/campus-market/internal/models"
)

type ProfileRepository struct {
	db DBTX
}

func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

const profileColumns = `user_id, display_name, avatar_url, major, graduation_year,
			   phone_number, linkedin_url, instagram_handle, created_at, updated_at`

func (r *ProfileRepository) CreateEmpty(ctx context.Context, userID int64, displayName string) error {
	query := `INSERT INTO profiles (user_id, display_name) VALUES ($1, NULLIF($2, ''))`
	_, err := r.db.Exec(ctx, query, userID, displayName)
	return err
}

func (r *ProfileRepository) GetByUserID(ctx context.Context, userID int64) (*models.Profile, error) {
	query := `
		SELECT ` + profileColumns + `
		FROM profiles
		WHERE user_id = $1
	`
	return scanProfile(r.db.QueryRow(ctx, query, userID))
}

func (r *ProfileRepository) GetPublic(ctx context.Context, userID int64) (*models.PublicProfile, error) {
	query := `
		SELECT u.id, u.username, COALESCE(NULLIF(p.display_name, ''), u.username),
			   p.avatar_url, p.major, p.graduation_year
		FROM users u
		LEFT JOIN profiles p ON p.user_id = u.id
		WHERE u.id = $1
	`
	var profile models.PublicProfile
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&profile.UserID,
		&profile.Username,
		&profile.DisplayName,
		&profile.AvatarURL,
		&profile.Major,
		&profile.GraduationYear,
	)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *ProfileRepository) UpdatePartial(ctx context.Context, userID int64, req UpdateProfileInput) (*models.Profile, error) {
	query := `
		UPDATE profiles
		SET display_name = COALESCE($1, display_name),
			avatar_url = COALESCE($2, avatar_url),
			major = COALESCE($3, major),
			graduation_year = COALESCE($4, graduation_year),
			phone_number = COALESCE($5, phone_number),
			linkedin_url = COALESCE($6, linkedin_url),
			instagram_handle = COALESCE($7, instagram_handle),
			updated_at = NOW()
		WHERE user_id = $8
		RETURNING ` + profileColumns + `
	`
	return scanProfile(r.db.QueryRow(ctx, query,
		req.DisplayName,
		req.AvatarURL,
		req.Major,
		req.GraduationYear,
		req.PhoneNumber,
		req.LinkedInURL,
		req.InstagramHandle,
		userID,
	))
}

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var profile models.Profile
	err := row.Scan(
		&profile.UserID,
		&profile.DisplayName,
		&profile.AvatarURL,
		&profile.Major,
		&profile.GraduationYear,
		&profile.PhoneNumber,
		&profile.LinkedInURL,
		&profile.InstagramHandle,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

type UpdateProfileInput struct {
	DisplayName     *string
	AvatarURL       *string
	Major           *string
	GraduationYear  *int
	PhoneNumber     *string
	LinkedInURL     *string
	InstagramHandle *string
}
