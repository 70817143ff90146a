package handler

import (
	"net/http"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/infra/observability"
	"github.com/conectados/conectados-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// 4. Admin - Configurações
// ============================================================

func getSettingsHandler(settingsSvc *service.SettingsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/settings")
		defer span.End()

		settings, err := settingsSvc.Get(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	}
}

func updateSettingsHandler(settingsSvc *service.SettingsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/admin/settings")
		defer span.End()

		var req domain.SystemSettings
		if !decodeJSON(w, r, &req) {
			return
		}

		settings, err := settingsSvc.Update(ctx, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	}
}

// ============================================================
// 5. Admin - Campanhas e planos
// ============================================================

func listCampaignsHandler(campaignSvc *service.CampaignService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/campaigns")
		defer span.End()

		activeOnly := r.URL.Query().Get("active") == "true"
		campaigns, err := campaignSvc.List(ctx, activeOnly)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if campaigns == nil {
			campaigns = []domain.Campaign{}
		}
		writeJSON(w, http.StatusOK, campaigns)
	}
}

func createCampaignHandler(campaignSvc *service.CampaignService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/campaigns")
		defer span.End()

		var req domain.Campaign
		if !decodeJSON(w, r, &req) {
			return
		}

		campaign, err := campaignSvc.Create(ctx, &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, campaign)
	}
}

func updateCampaignHandler(campaignSvc *service.CampaignService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/admin/campaigns/{id}")
		defer span.End()

		var updates map[string]any
		if !decodeJSON(w, r, &updates) {
			return
		}

		campaign, err := campaignSvc.Update(ctx, chi.URLParam(r, "id"), updates)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, campaign)
	}
}

func deactivateCampaignHandler(campaignSvc *service.CampaignService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/admin/campaigns/{id}")
		defer span.End()

		id := chi.URLParam(r, "id")
		if err := campaignSvc.Deactivate(ctx, id); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "Campanha desativada", ID: id})
	}
}

func campaignStatsHandler(campaignSvc *service.CampaignService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/campaigns/{code}/stats")
		defer span.End()

		stats, err := campaignSvc.Stats(ctx, chi.URLParam(r, "code"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func listPlansHandler(campaignSvc *service.CampaignService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/plans")
		defer span.End()

		plans, err := campaignSvc.ListPlans(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if plans == nil {
			plans = []domain.Plan{}
		}
		writeJSON(w, http.StatusOK, plans)
	}
}

// ============================================================
// 6. Admin - Links
// ============================================================

func createLinkHandler(linkSvc *service.LinkService, settingsSvc *service.SettingsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/links")
		defer span.End()

		var req domain.CreateLinkRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		settings, err := settingsSvc.Get(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		link, err := linkSvc.CreateForAdmin(ctx, &req, settings)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"link": link,
			"url":  linkSvc.URL(link.LinkID),
		})
	}
}

func listLinksHandler(linkSvc *service.LinkService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/links")
		defer span.End()

		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user_id é obrigatório")
			return
		}
		links, err := linkSvc.ListByUser(ctx, userID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if links == nil {
			links = []domain.UserLink{}
		}
		writeJSON(w, http.StatusOK, links)
	}
}

func deactivateLinkHandler(linkSvc *service.LinkService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/admin/links/{linkId}")
		defer span.End()

		linkID := chi.URLParam(r, "linkId")
		if err := linkSvc.Deactivate(ctx, linkID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "Link desativado", ID: linkID})
	}
}

// ============================================================
// 7. Admin - Membros, amigos e ranking
// ============================================================

func rankingHandler(memberSvc *service.MemberService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/ranking")
		defer span.End()

		page, pageSize := parsePagination(r)
		resp, err := memberSvc.Ranking(ctx, r.URL.Query().Get("campaign"), page, pageSize)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func recomputeRankingHandler(memberSvc *service.MemberService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/ranking/recompute")
		defer span.End()

		if err := memberSvc.RecomputeRanking(ctx); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "Ranking atualizado"})
	}
}

func getMemberHandler(memberSvc *service.MemberService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/members/{id}")
		defer span.End()

		member, err := memberSvc.GetMember(ctx, chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, member)
	}
}

func listMemberFriendsHandler(memberSvc *service.MemberService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/members/{id}/friends")
		defer span.End()

		friends, err := memberSvc.ListFriends(ctx, chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, friends)
	}
}

func deleteMemberHandler(memberSvc *service.MemberService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/admin/members/{id}")
		defer span.End()

		id := chi.URLParam(r, "id")
		if err := memberSvc.SoftDeleteMember(ctx, id); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "Membro removido", ID: id})
	}
}

func reconcileMemberHandler(memberSvc *service.MemberService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/members/{id}/reconcile")
		defer span.End()

		member, err := memberSvc.Reconcile(ctx, chi.URLParam(r, "id"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, member)
	}
}

func deleteFriendHandler(memberSvc *service.MemberService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/admin/friends/{id}")
		defer span.End()

		id := chi.URLParam(r, "id")
		if err := memberSvc.SoftDeleteFriend(ctx, id); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "Amigo removido", ID: id})
	}
}

// ============================================================
// 8. Admin - Relatórios e métricas
// ============================================================

func reportSummaryHandler(memberSvc *service.MemberService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/reports/summary")
		defer span.End()

		summary, err := memberSvc.Summary(ctx, r.URL.Query().Get("campaign"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func registrationMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}
