// Package auth handles account registration, OTP verification, and
// credential login.
package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/medifusion/triage-api/internal/email"
	"github.com/medifusion/triage-api/internal/model"
	"github.com/medifusion/triage-api/internal/repository"
	jwtauth "github.com/medifusion/triage-api/pkg/auth"
	apperrors "github.com/medifusion/triage-api/pkg/errors"
)

const (
	otpTTL    = 10 * time.Minute
	otpLength = 6
)

type Service struct {
	users  repository.UserRepository
	jwt    jwtauth.JWTService
	email  email.Service
	otps   *cache.Cache
	logger *zerolog.Logger
}

func NewService(users repository.UserRepository, jwt jwtauth.JWTService, mailer email.Service, logger *zerolog.Logger) *Service {
	return &Service{
		users:  users,
		jwt:    jwt,
		email:  mailer,
		otps:   cache.New(otpTTL, 5*time.Minute),
		logger: logger,
	}
}

// Register creates an account and mails a verification code. Doctors and
// lab techs must present a license code.
func (s *Service) Register(ctx context.Context, req *model.RegisterRequest) (*model.User, error) {
	if !req.Role.Valid() || req.Role == model.RoleAdmin {
		return nil, apperrors.Validation("invalid role", nil)
	}
	if (req.Role == model.RoleDoctor || req.Role == model.RoleLabTech) && req.LicenseCode == "" {
		return nil, apperrors.Validation("license code required for clinical roles", nil)
	}

	if _, err := s.users.GetByUsername(ctx, req.Username); err == nil {
		return nil, apperrors.Conflict("username already taken")
	}
	if _, err := s.users.GetByEmail(ctx, req.Email); err == nil {
		return nil, apperrors.Conflict("email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	user := &model.User{
		Base:         model.Base{ID: uuid.New()},
		Username:     req.Username,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Email:        req.Email,
		Role:         req.Role,
		Specialty:    req.Specialty,
		LicenseCode:  req.LicenseCode,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, apperrors.Internal(err)
	}

	code, err := generateOTP()
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	s.otps.Set(req.Email, code, otpTTL)

	if err := s.email.SendOTP(ctx, req.Email, code); err != nil {
		// Account exists either way; the code can be re-requested.
		s.logger.Error().Err(err).Str("email", req.Email).Msg("failed to send verification code")
	}

	return user, nil
}

// VerifyOTP consumes the emailed code and marks the account verified.
func (s *Service) VerifyOTP(ctx context.Context, req *model.VerifyOTPRequest) error {
	stored, ok := s.otps.Get(req.Email)
	if !ok || stored.(string) != req.Code {
		return apperrors.Validation("invalid or expired verification code", nil)
	}
	s.otps.Delete(req.Email)

	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.NotFound("account", err)
		}
		return apperrors.Internal(err)
	}

	user.IsVerified = true
	if err := s.users.Update(ctx, user); err != nil {
		return apperrors.Internal(err)
	}
	return nil
}

// Login checks credentials and issues an access token.
func (s *Service) Login(ctx context.Context, req *model.LoginRequest) (*model.TokenResponse, error) {
	user, err := s.users.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.Authorization("invalid credentials")
		}
		return nil, apperrors.Internal(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, apperrors.Authorization("invalid credentials")
	}

	token, expiresAt, err := s.jwt.GenerateAccessToken(user)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	now := time.Now()
	user.LastLoginAt = &now
	if err := s.users.Update(ctx, user); err != nil {
		s.logger.Warn().Err(err).Str("username", user.Username).Msg("failed to record last login")
	}

	return &model.TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
		User:        user,
	}, nil
}

func generateOTP() (string, error) {
	code := make([]byte, otpLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}
