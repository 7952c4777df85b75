package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/unimarket/campus-market/internal/models"
	"github.com/unimarket/campus-market/internal/repository"
	"github.com/unimarket/campus-market/pkg/utils"
)

const minPasswordLength = 8

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,150}$`)

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type accountStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

type profileLookup interface {
	GetByUserID(ctx context.Context, userID int64) (*models.Profile, error)
}

type AuthService struct {
	db        txBeginner
	users     accountStore
	profiles  profileLookup
	jwtSecret string
}

func NewAuthService(db txBeginner, users accountStore, profiles profileLookup, jwtSecret string) *AuthService {
	return &AuthService{
		db:        db,
		users:     users,
		profiles:  profiles,
		jwtSecret: jwtSecret,
	}
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
	Role     string
}

type AuthResult struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// NormalizeRegistration trims and validates the input in place.
func NormalizeRegistration(input *RegisterInput) error {
	fields := make(map[string]string)

	input.Username = strings.TrimSpace(input.Username)
	if !usernamePattern.MatchString(input.Username) {
		fields["username"] = "must be 3-150 letters, digits, dots, dashes or underscores"
	}

	email, err := NormalizeEmail(input.Email)
	if err != nil {
		fields["email"] = "invalid email format"
	}
	input.Email = email

	if len(input.Password) < minPasswordLength {
		fields["password"] = "must be at least 8 characters"
	}

	input.Role = strings.TrimSpace(strings.ToLower(input.Role))
	switch input.Role {
	case "":
		input.Role = models.RoleStudent
	case models.RoleStudent, models.RoleCompany:
	default:
		fields["role"] = "must be student or company"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func NormalizeEmail(raw string) (string, error) {
	parsed, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(parsed.Address), nil
}

// Register creates the account and its empty profile in one transaction.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	if err := NormalizeRegistration(&input); err != nil {
		return nil, err
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hashed,
		Role:         input.Role,
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := repository.NewUserRepository(tx).CreateUser(ctx, user); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if err := repository.NewProfileRepository(tx).CreateEmpty(ctx, user.ID, ""); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit registration: %w", err)
	}

	return s.issue(user)
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, NewValidationError("email", "invalid email format")
	}

	user, err := s.users.GetByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !utils.CheckPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return s.issue(user)
}

// Me returns the account and its profile. A missing profile is not an error.
func (s *AuthService) Me(ctx context.Context, userID int64) (*models.User, *models.Profile, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, fmt.Errorf("load user: %w", err)
	}

	profile, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user, nil, nil
		}
		return nil, nil, fmt.Errorf("load profile: %w", err)
	}
	return user, profile, nil
}

func (s *AuthService) issue(user *models.User) (*AuthResult, error) {
	token, err := utils.GenerateToken(strconv.FormatInt(user.ID, 10), user.Role, s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return &AuthResult{Token: token, User: user}, nil
}
