package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/infra/memstore"
	"github.com/conectados/conectados-api/internal/port"
	"github.com/conectados/conectados-api/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const authSecret = "auth-test-secret"

func newAuth(t *testing.T) (*service.AuthService, *memstore.Store) {
	t.Helper()
	mem := memstore.New()
	return service.NewAuthService(mem, authSecret, time.Hour, zap.NewNop()), mem
}

func TestEnsureAdmin_Idempotent(t *testing.T) {
	auth, mem := newAuth(t)
	ctx := context.Background()

	created, err := auth.EnsureAdmin(ctx, " admin ", "s3nha-forte", "")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = auth.EnsureAdmin(ctx, "admin", "outra-senha", "")
	require.NoError(t, err)
	assert.False(t, created)

	var users []domain.AuthUser
	_, err = mem.Select(ctx, port.TableAuthUsers, port.Query{}, &users)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "admin", users[0].Username)
	assert.Equal(t, "admin", users[0].Name)
	assert.Equal(t, domain.RoleAdmin, users[0].Role)
	assert.NotEqual(t, "s3nha-forte", users[0].PasswordHash)

	_, err = auth.EnsureAdmin(ctx, "", "x", "")
	var verr *domain.ErrValidation
	assert.True(t, errors.As(err, &verr))
}

func TestLogin_IssuesValidToken(t *testing.T) {
	auth, _ := newAuth(t)
	ctx := context.Background()
	_, err := auth.EnsureAdmin(ctx, "admin", "s3nha-forte", "Administrador")
	require.NoError(t, err)

	resp, err := auth.Login(ctx, &domain.LoginRequest{Username: "admin", Password: "s3nha-forte"})
	require.NoError(t, err)
	assert.Equal(t, "Administrador", resp.Name)
	assert.Equal(t, domain.RoleAdmin, resp.Role)
	assert.Equal(t, 3600, resp.ExpiresIn)

	claims, err := auth.ValidateAccessToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.UserID, claims.Sub)
	assert.Equal(t, domain.RoleAdmin, claims.Role)
}

func TestLogin_Rejections(t *testing.T) {
	auth, mem := newAuth(t)
	ctx := context.Background()
	_, err := auth.EnsureAdmin(ctx, "admin", "s3nha-forte", "")
	require.NoError(t, err)

	hash, err := service.HashPassword("senha-membro")
	require.NoError(t, err)
	require.NoError(t, mem.Insert(ctx, port.TableAuthUsers, domain.AuthUser{
		ID: "u-off", Username: "inativo", Role: domain.RoleMember, PasswordHash: hash, IsActive: false,
	}, nil))

	tests := []struct {
		name     string
		req      domain.LoginRequest
		wantAuth bool
	}{
		{"empty", domain.LoginRequest{}, false},
		{"unknown user", domain.LoginRequest{Username: "ninguem", Password: "x"}, true},
		{"wrong password", domain.LoginRequest{Username: "admin", Password: "errada"}, true},
		{"inactive", domain.LoginRequest{Username: "inativo", Password: "senha-membro"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Login(ctx, &tt.req)
			require.Error(t, err)
			var uerr *domain.ErrUnauthorized
			assert.Equal(t, tt.wantAuth, errors.As(err, &uerr))
		})
	}
}

func TestValidateAccessToken_Rejects(t *testing.T) {
	auth, _ := newAuth(t)

	sign := func(secret string, claims service.JWTClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return s
	}
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", sign("other", service.JWTClaims{Sub: "u", Type: "access", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}})},
		{"refresh type", sign(authSecret, service.JWTClaims{Sub: "u", Type: "refresh", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}})},
		{"expired", sign(authSecret, service.JWTClaims{Sub: "u", Type: "access", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.ValidateAccessToken(tt.token)
			var uerr *domain.ErrUnauthorized
			assert.True(t, errors.As(err, &uerr))
		})
	}
}

func TestGeneratePassword(t *testing.T) {
	a, err := service.GeneratePassword(10)
	require.NoError(t, err)
	b, err := service.GeneratePassword(10)
	require.NoError(t, err)
	assert.Len(t, a, 10)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "0")
	assert.NotContains(t, a, "O")
	assert.NotContains(t, a, "l")
}
