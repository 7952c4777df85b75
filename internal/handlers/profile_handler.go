package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/unimarket/campus-market/internal/models"
	"github.com/unimarket/campus-market/internal/repository"
	"github.com/unimarket/campus-market/internal/services"
	"go.uber.org/zap"
)

type profileApplicationService interface {
	GetOwn(ctx context.Context, userID int64) (*models.Profile, error)
	GetPublic(ctx context.Context, userID int64) (*models.PublicProfile, error)
	Update(ctx context.Context, userID int64, req repository.UpdateProfileInput) (*models.Profile, error)
	UploadAvatar(ctx context.Context, userID int64, upload *services.ImageUpload) (*models.Profile, error)
}

type ProfileHandler struct {
	service profileApplicationService
	log     *zap.Logger
}

func NewProfileHandler(service profileApplicationService, log *zap.Logger) *ProfileHandler {
	return &ProfileHandler{
		service: service,
		log:     log,
	}
}

type updateProfileRequest struct {
	DisplayName     *string `json:"display_name"`
	Major           *string `json:"major"`
	GraduationYear  *int    `json:"graduation_year"`
	PhoneNumber     *string `json:"phone_number"`
	LinkedInURL     *string `json:"linkedin_url"`
	InstagramHandle *string `json:"instagram_handle"`
}

func (h *ProfileHandler) GetProfile(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	profile, err := h.service.GetOwn(c.Context(), userID)
	if err != nil {
		return h.mapProfileError(c, err)
	}
	return c.JSON(fiber.Map{"profile": profile})
}

func (h *ProfileHandler) UpdateProfile(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req updateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if fields := validateProfileUpdateRequest(&req); len(fields) > 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"errors": fields})
	}

	profile, err := h.service.Update(c.Context(), userID, repository.UpdateProfileInput{
		DisplayName:     req.DisplayName,
		Major:           req.Major,
		GraduationYear:  req.GraduationYear,
		PhoneNumber:     req.PhoneNumber,
		LinkedInURL:     req.LinkedInURL,
		InstagramHandle: req.InstagramHandle,
	})
	if err != nil {
		return h.mapProfileError(c, err)
	}
	return c.JSON(fiber.Map{"profile": profile})
}

func (h *ProfileHandler) GetPublicProfile(c *fiber.Ctx) error {
	userID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || userID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}

	profile, err := h.service.GetPublic(c.Context(), userID)
	if err != nil {
		return h.mapProfileError(c, err)
	}
	return c.JSON(fiber.Map{"profile": profile})
}

func (h *ProfileHandler) UploadAvatar(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	upload, err := formImage(c, "avatar")
	if err != nil || upload == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"errors": fiber.Map{"avatar": "file is required"}})
	}
	defer upload.File.Close()

	profile, err := h.service.UploadAvatar(c.Context(), userID, upload)
	if err != nil {
		return h.mapProfileError(c, err)
	}

	return c.JSON(fiber.Map{
		"avatar_url": profile.AvatarURL,
		"profile":    profile,
	})
}

func (h *ProfileHandler) mapProfileError(c *fiber.Ctx, err error) error {
	var validationErr *services.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"errors": validationErr.Fields})
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Profile not found"})
	case errors.Is(err, services.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
	case errors.Is(err, services.ErrStorageUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Storage service is not configured"})
	default:
		h.log.Error("profile request failed",
			zap.String("path", c.Path()),
			zap.Any("user_id", c.Locals("user_id")),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process profile request"})
	}
}

// currentUserID reads the id the auth middleware stored on the request.
func currentUserID(c *fiber.Ctx) (int64, error) {
	userIDStr, ok := c.Locals("user_id").(string)
	if !ok {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(userIDStr, 10, 64)
}

// formImage returns the named file from a multipart form, or nil when the
// request carries none.
func formImage(c *fiber.Ctx, field string) (*services.ImageUpload, error) {
	contentType := string(c.Request().Header.ContentType())
	if !strings.HasPrefix(contentType, fiber.MIMEMultipartForm) {
		return nil, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}
	headers := form.File[field]
	if len(headers) == 0 || headers[0].Filename == "" {
		return nil, nil
	}

	fileHeader := headers[0]
	file, err := fileHeader.Open()
	if err != nil {
		return nil, err
	}
	return &services.ImageUpload{
		File:     file,
		Filename: fileHeader.Filename,
		Size:     fileHeader.Size,
	}, nil
}
