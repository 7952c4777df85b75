package handlers

import (
	"net/url"
	"strings"
)

const (
	minGraduationYear = 1950
	maxGraduationYear = 2100
	maxNameLength     = 150
)

// validateProfileUpdateRequest trims the present fields in place and returns
// per-field messages.
func validateProfileUpdateRequest(req *updateProfileRequest) map[string]string {
	fields := make(map[string]string)

	if req.DisplayName != nil {
		trimmed := strings.TrimSpace(*req.DisplayName)
		req.DisplayName = &trimmed
		if len(trimmed) > maxNameLength {
			fields["display_name"] = "must be at most 150 characters"
		}
	}
	if req.Major != nil {
		trimmed := strings.TrimSpace(*req.Major)
		req.Major = &trimmed
	}
	if req.GraduationYear != nil {
		year := *req.GraduationYear
		if year < minGraduationYear || year > maxGraduationYear {
			fields["graduation_year"] = "must be between 1950 and 2100"
		}
	}
	if req.PhoneNumber != nil {
		trimmed := strings.TrimSpace(*req.PhoneNumber)
		req.PhoneNumber = &trimmed
	}
	if req.LinkedInURL != nil {
		trimmed := strings.TrimSpace(*req.LinkedInURL)
		req.LinkedInURL = &trimmed
		if trimmed != "" && !isHTTPURL(trimmed) {
			fields["linkedin_url"] = "must be an http or https URL"
		}
	}
	if req.InstagramHandle != nil {
		trimmed := strings.TrimSpace(*req.InstagramHandle)
		req.InstagramHandle = &trimmed
		if strings.Contains(trimmed, "@") {
			fields["instagram_handle"] = "must not contain @"
		}
	}

	return fields
}

func isHTTPURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}
