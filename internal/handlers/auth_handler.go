package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/unimarket/campus-market/internal/middleware"
	"github.com/unimarket/campus-market/internal/models"
	"github.com/unimarket/campus-market/internal/services"
	"github.com/unimarket/campus-market/pkg/utils"
	"go.uber.org/zap"
)

type authApplicationService interface {
	Register(ctx context.Context, input services.RegisterInput) (*services.AuthResult, error)
	Login(ctx context.Context, email, password string) (*services.AuthResult, error)
	Me(ctx context.Context, userID int64) (*models.User, *models.Profile, error)
}

type AuthHandler struct {
	service      authApplicationService
	secureCookie bool
	log          *zap.Logger
}

// NewAuthHandler builds the auth endpoints. secureCookie marks the session
// cookie Secure and should be false only for local http development.
func NewAuthHandler(service authApplicationService, secureCookie bool, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		service:      service,
		secureCookie: secureCookie,
		log:          log,
	}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	result, err := h.service.Register(c.Context(), services.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		return h.mapAuthError(c, err)
	}

	h.setSessionCookie(c, result.Token, time.Now().Add(utils.TokenTTL))
	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	result, err := h.service.Login(c.Context(), req.Email, req.Password)
	if err != nil {
		return h.mapAuthError(c, err)
	}

	h.setSessionCookie(c, result.Token, time.Now().Add(utils.TokenTTL))
	return c.JSON(result)
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	user, profile, err := h.service.Me(c.Context(), userID)
	if err != nil {
		return h.mapAuthError(c, err)
	}

	return c.JSON(fiber.Map{
		"user":    user,
		"profile": profile,
	})
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	h.setSessionCookie(c, "", time.Unix(0, 0))
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *AuthHandler) setSessionCookie(c *fiber.Ctx, token string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.AccessTokenCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		Secure:   h.secureCookie,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (h *AuthHandler) mapAuthError(c *fiber.Ctx, err error) error {
	var validationErr *services.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"errors": validationErr.Fields})
	case errors.Is(err, services.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Email or username already exists"})
	case errors.Is(err, services.ErrInvalidCredentials):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid email or password"})
	case errors.Is(err, services.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
	default:
		h.log.Error("auth request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process request"})
	}
}
