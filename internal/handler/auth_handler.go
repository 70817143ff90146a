package handler

import (
	"net/http"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// 9. Autenticação
// ============================================================

func authLoginHandler(authSvc *service.AuthService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/auth/login")
		defer span.End()

		var req domain.LoginRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		resp, err := authSvc.Login(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func authMeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"user_id": UserIDFromContext(r.Context()),
			"role":    RoleFromContext(r.Context()),
		})
	}
}
