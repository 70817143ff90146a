package handler

import (
	"net/http"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/port"
	"github.com/conectados/conectados-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// 1. Cadastro público
// ============================================================

func registerHandler(regSvc *service.RegistrationService, settingsSvc *service.SettingsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/register/{linkId}")
		defer span.End()

		linkID := chi.URLParam(r, "linkId")
		span.SetAttributes(attribute.String("link.id", linkID))

		var req domain.RegistrationRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		settings, err := settingsSvc.Get(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		result, err := regSvc.Register(ctx, linkID, &req, settings)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusCreated, result)
	}
}

// ============================================================
// 2. Links
// ============================================================

func linkInfoHandler(linkSvc *service.LinkService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/links/{linkId}")
		defer span.End()

		info, err := linkSvc.Info(ctx, chi.URLParam(r, "linkId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, info)
	}
}

func linkQRCodeHandler(linkSvc *service.LinkService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/links/{linkId}/qrcode")
		defer span.End()

		png, err := linkSvc.QRCode(ctx, chi.URLParam(r, "linkId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.WriteHeader(http.StatusOK)
		w.Write(png)
	}
}

// ============================================================
// 3. CEP
// ============================================================

func cepLookupHandler(postal port.PostalLookup, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cep/{cep}")
		defer span.End()

		if postal == nil {
			writeError(w, http.StatusServiceUnavailable, "consulta de CEP indisponível")
			return
		}

		addr, err := postal.Lookup(ctx, chi.URLParam(r, "cep"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, addr)
	}
}
