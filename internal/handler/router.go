package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/infra/observability"
	"github.com/conectados/conectados-api/internal/port"
	"github.com/conectados/conectados-api/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Pinger is implemented by record stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles the use cases exposed over HTTP.
type Services struct {
	Registration *service.RegistrationService
	Links        *service.LinkService
	Campaigns    *service.CampaignService
	Settings     *service.SettingsService
	Members      *service.MemberService
	Auth         *service.AuthService
	Postal       port.PostalLookup
	Store        Pinger
}

// Options tunes the router's outer middleware.
type Options struct {
	CORSAllowedOrigins []string
	RegisterRateLimit  float64
	RegisterRateBurst  int
}

// NewRouter creates the HTTP router with all routes and middleware.
// Routes follow the API contract of the Conectados frontend.
func NewRouter(svc Services, opts Options, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	origins := opts.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svc.Store))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	publicLimit := RateLimitMiddleware(opts.RegisterRateLimit, opts.RegisterRateBurst, logger)

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// 1. Cadastro público
		// POST /v1/register/{linkId}
		// =============================================
		r.With(publicLimit).Post("/register/{linkId}", registerHandler(svc.Registration, svc.Settings, logger))

		// =============================================
		// 2. Links
		// GET /v1/links/{linkId}
		// GET /v1/links/{linkId}/qrcode
		// =============================================
		r.Get("/links/{linkId}", linkInfoHandler(svc.Links, logger))
		r.Get("/links/{linkId}/qrcode", linkQRCodeHandler(svc.Links, logger))

		// =============================================
		// 3. CEP
		// GET /v1/cep/{cep}
		// =============================================
		r.With(publicLimit).Get("/cep/{cep}", cepLookupHandler(svc.Postal, logger))

		// =============================================
		// 9. Autenticação
		// POST /v1/auth/login
		// =============================================
		r.With(publicLimit).Post("/auth/login", authLoginHandler(svc.Auth, logger))

		// =============================================
		// 4-8. Admin (JWT, role admin)
		// =============================================
		r.Route("/admin", func(r chi.Router) {
			r.Use(JWTAuthMiddleware(svc.Auth, logger))
			r.Use(RequireRole(domain.RoleAdmin, logger))

			r.Get("/me", authMeHandler())
			r.Get("/metrics", registrationMetricsHandler(metrics))

			r.Get("/settings", getSettingsHandler(svc.Settings, logger))
			r.Put("/settings", updateSettingsHandler(svc.Settings, logger))

			r.Get("/campaigns", listCampaignsHandler(svc.Campaigns, logger))
			r.Post("/campaigns", createCampaignHandler(svc.Campaigns, logger))
			r.Patch("/campaigns/{id}", updateCampaignHandler(svc.Campaigns, logger))
			r.Delete("/campaigns/{id}", deactivateCampaignHandler(svc.Campaigns, logger))
			r.Get("/campaigns/{code}/stats", campaignStatsHandler(svc.Campaigns, logger))
			r.Get("/plans", listPlansHandler(svc.Campaigns, logger))

			r.Get("/links", listLinksHandler(svc.Links, logger))
			r.Post("/links", createLinkHandler(svc.Links, svc.Settings, logger))
			r.Delete("/links/{linkId}", deactivateLinkHandler(svc.Links, logger))

			r.Get("/ranking", rankingHandler(svc.Members, logger))
			r.Post("/ranking/recompute", recomputeRankingHandler(svc.Members, logger))
			r.Get("/members/{id}", getMemberHandler(svc.Members, logger))
			r.Get("/members/{id}/friends", listMemberFriendsHandler(svc.Members, logger))
			r.Delete("/members/{id}", deleteMemberHandler(svc.Members, logger))
			r.Post("/members/{id}/reconcile", reconcileMemberHandler(svc.Members, logger))
			r.Delete("/friends/{id}", deleteFriendHandler(svc.Members, logger))

			r.Get("/reports/summary", reportSummaryHandler(svc.Members, logger))
		})
	})

	return r
}

// ============================================================
// Operational
// ============================================================

func healthzHandler(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "conectados-api", Status: "healthy", LatencyMs: 0, LastChecked: now},
		}

		if store != nil {
			start := time.Now()
			err := store.Ping(r.Context())
			status := "healthy"
			if err != nil {
				status = "degraded"
			}
			services = append(services, domain.ServiceHealth{
				Name: "record-store", Status: status,
				LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
