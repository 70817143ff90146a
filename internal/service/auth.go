// Package service implements the Conectados use cases on top of the record store.
package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var authTracer = otel.Tracer("service/auth")

const (
	bcryptCost            = 12
	servicePasswordLength = 10
	passwordAlphabet      = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// AuthService handles administrator login and JWT access tokens. Member
// service accounts share the auth_users table.
type AuthService struct {
	store     port.RecordStore
	jwtSecret []byte
	accessTTL time.Duration
	logger    *zap.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(store port.RecordStore, jwtSecret string, accessTTL time.Duration, logger *zap.Logger) *AuthService {
	return &AuthService{
		store:     store,
		jwtSecret: []byte(jwtSecret),
		accessTTL: accessTTL,
		logger:    logger,
	}
}

// ============================================================
// Login - POST /v1/auth/login
// ============================================================

func (s *AuthService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.Login")
	defer span.End()

	username := strings.TrimSpace(req.Username)
	span.SetAttributes(attribute.String("username", username))
	if username == "" || req.Password == "" {
		return nil, &domain.ErrValidation{Field: "username", Message: "Usuário e senha são obrigatórios"}
	}

	var users []domain.AuthUser
	if _, err := s.store.Select(ctx, port.TableAuthUsers, port.Where(port.Eq("username", username)).WithLimit(1), &users); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if len(users) == 0 {
		return nil, &domain.ErrUnauthorized{Message: "Credenciais inválidas"}
	}
	user := users[0]

	if !user.IsActive {
		s.logger.Warn("login: inactive account", zap.String("user_id", user.ID))
		return nil, &domain.ErrUnauthorized{Message: "Conta desativada"}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.Warn("login: failed password attempt", zap.String("user_id", user.ID))
		return nil, &domain.ErrUnauthorized{Message: "Credenciais inválidas"}
	}

	_ = s.store.Update(ctx, port.TableAuthUsers, map[string]any{
		"last_login": time.Now().UTC().Format(time.RFC3339),
	}, port.Eq("id", user.ID))

	accessToken, err := s.signAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	s.logger.Info("user logged in", zap.String("user_id", user.ID), zap.String("role", user.Role))

	return &domain.LoginResponse{
		AccessToken: accessToken,
		ExpiresIn:   int(s.accessTTL.Seconds()),
		UserID:      user.ID,
		Name:        user.Name,
		Role:        user.Role,
	}, nil
}

// EnsureAdmin creates an active admin account when username is not taken.
// It reports whether a row was inserted.
func (s *AuthService) EnsureAdmin(ctx context.Context, username, password, name string) (bool, error) {
	ctx, span := authTracer.Start(ctx, "AuthService.EnsureAdmin")
	defer span.End()

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return false, &domain.ErrValidation{Field: "username", Message: "Usuário e senha são obrigatórios"}
	}

	n, err := countRows(ctx, s.store, port.TableAuthUsers, port.Eq("username", username))
	if err != nil {
		return false, fmt.Errorf("get user: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	if name == "" {
		name = username
	}
	admin := domain.AuthUser{
		ID:           uuid.New().String(),
		Username:     username,
		Name:         name,
		Role:         domain.RoleAdmin,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.Insert(ctx, port.TableAuthUsers, admin, nil); err != nil {
		return false, fmt.Errorf("insert admin: %w", err)
	}

	s.logger.Info("admin account created", zap.String("user_id", admin.ID), zap.String("username", username))
	return true, nil
}

// ============================================================
// Password helpers
// ============================================================

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// GeneratePassword returns a random password of n characters without
// look-alike characters.
func GeneratePassword(n int) (string, error) {
	limit := big.NewInt(int64(len(passwordAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = passwordAlphabet[idx.Int64()]
	}
	return string(b), nil
}
