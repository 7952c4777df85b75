package models

import "time"

type Profile struct {
	UserID          int64     `json:"user_id"`
	DisplayName     *string   `json:"display_name"`
	AvatarURL       *string   `json:"avatar_url"`
	Major           *string   `json:"major"`
	GraduationYear  *int      `json:"graduation_year"`
	PhoneNumber     *string   `json:"phone_number,omitempty"`
	LinkedInURL     *string   `json:"linkedin_url"`
	InstagramHandle *string   `json:"instagram_handle"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PublicProfile is what other users may see; contact details stay private.
type PublicProfile struct {
	UserID         int64   `json:"user_id"`
	Username       string  `json:"username"`
	DisplayName    string  `json:"display_name"`
	AvatarURL      *string `json:"avatar_url,omitempty"`
	Major          *string `json:"major,omitempty"`
	GraduationYear *int    `json:"graduation_year,omitempty"`
}
