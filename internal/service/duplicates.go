package service

import (
	"context"
	"fmt"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/infra/observability"
	"github.com/conectados/conectados-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var duplicateTracer = otel.Tracer("service/duplicates")

// scanPageSize bounds each page of the registrant scan. PostgREST caps
// responses at 1000 rows by default.
const scanPageSize = 1000

// DuplicateValidator detects phone/Instagram collisions against every active
// member and friend, scoped by campaign.
//
// Within a campaign only a complete duplicate blocks. Collisions with other
// campaigns are reported as warnings unless BlockCrossCampaign is set, in
// which case complete and partial collisions both block.
type DuplicateValidator struct {
	store              port.RecordStore
	metrics            *observability.Metrics
	logger             *zap.Logger
	BlockCrossCampaign bool
}

// NewDuplicateValidator creates a new duplicate validator.
func NewDuplicateValidator(store port.RecordStore, metrics *observability.Metrics, logger *zap.Logger) *DuplicateValidator {
	return &DuplicateValidator{store: store, metrics: metrics, logger: logger}
}

// Validate scans existing registrants and returns the field errors for cand.
// Store failures are returned as errors; an allowed registration yields a
// report with an empty Errors map.
func (v *DuplicateValidator) Validate(ctx context.Context, cand domain.DuplicateCandidate) (*domain.DuplicateReport, error) {
	ctx, span := duplicateTracer.Start(ctx, "DuplicateValidator.Validate")
	defer span.End()
	span.SetAttributes(attribute.String("campaign.code", cand.CampaignCode))

	cand.Phone = NormalizePhone(cand.Phone)
	cand.CouplePhone = NormalizePhone(cand.CouplePhone)
	cand.Instagram = NormalizeInstagram(cand.Instagram)
	cand.CoupleInstagram = NormalizeInstagram(cand.CoupleInstagram)

	report := &domain.DuplicateReport{
		Outcome:  domain.DuplicateAllowed,
		Errors:   make(map[string]string),
		Warnings: make(map[string]string),
	}

	if same(cand.Phone, cand.CouplePhone) {
		report.Errors["couple_phone"] = "O telefone da dupla deve ser diferente do seu telefone"
	}
	if same(cand.Instagram, cand.CoupleInstagram) {
		report.Errors["couple_instagram"] = "O Instagram da dupla deve ser diferente do seu Instagram"
	}
	if len(report.Errors) > 0 {
		report.Outcome = domain.DuplicateInvalidPair
		return report, nil
	}

	existing, err := v.loadRegistrants(ctx)
	if err != nil {
		return nil, fmt.Errorf("load registrants: %w", err)
	}
	span.SetAttributes(attribute.Int("registrants.scanned", len(existing)))

	classifyDuplicates(cand, existing, v.BlockCrossCampaign, report)

	span.SetAttributes(attribute.String("duplicate.outcome", string(report.Outcome)))
	if !report.Allowed() {
		v.metrics.IncrDuplicate(report.Outcome)
		v.logger.Info("registration blocked by duplicate scan",
			zap.String("campaign_code", cand.CampaignCode),
			zap.String("outcome", string(report.Outcome)),
			zap.Int("fields", len(report.Errors)),
		)
	}
	return report, nil
}

// classifyDuplicates walks existing in order and fills report. The first
// blocking complete duplicate stops the scan; partial findings accumulate.
func classifyDuplicates(cand domain.DuplicateCandidate, existing []domain.Registrant, blockCross bool, report *domain.DuplicateReport) {
	for _, ex := range existing {
		exPhone := NormalizePhone(ex.Phone)
		exInstagram := NormalizeInstagram(ex.Instagram)
		exCouplePhone := NormalizePhone(ex.CouplePhone)
		exCoupleInstagram := NormalizeInstagram(ex.CoupleInstagram)

		primaryComplete := same(cand.Phone, exPhone) && same(cand.Instagram, exInstagram)
		coupleComplete := same(cand.CouplePhone, exCouplePhone) && same(cand.CoupleInstagram, exCoupleInstagram)

		if sameCampaign(cand, ex) {
			if primaryComplete || coupleComplete {
				msg := "Esta dupla já está cadastrada nesta campanha"
				setComplete(report.Errors, primaryComplete, coupleComplete, msg)
				report.Outcome = domain.DuplicateBlockedSameCampaign
				return
			}
			flagPartials(cand, exPhone, exInstagram, exCouplePhone, exCoupleInstagram, report.Warnings,
				"Este telefone já está cadastrado nesta campanha",
				"Este Instagram já está cadastrado nesta campanha")
			continue
		}

		campaign := campaignLabel(ex)
		target := report.Warnings
		if blockCross {
			target = report.Errors
		}

		if primaryComplete || coupleComplete {
			msg := fmt.Sprintf("Estes dados já estão cadastrados na campanha %s", campaign)
			setComplete(target, primaryComplete, coupleComplete, msg)
			if blockCross {
				report.Outcome = domain.DuplicateBlockedCrossCampaign
				return
			}
			continue
		}

		hit := flagPartials(cand, exPhone, exInstagram, exCouplePhone, exCoupleInstagram, target,
			fmt.Sprintf("Este telefone já está cadastrado na campanha %s", campaign),
			fmt.Sprintf("Este Instagram já está cadastrado na campanha %s", campaign))
		if hit && blockCross {
			report.Outcome = domain.DuplicateBlockedCrossCampaign
		}
	}
}

func setComplete(into map[string]string, primary, couple bool, msg string) {
	if primary {
		into["phone"] = msg
		into["instagram"] = msg
	}
	if couple {
		into["couple_phone"] = msg
		into["couple_instagram"] = msg
	}
}

// flagPartials records phone-only and Instagram-only collisions in every
// direction (primary and partner, against primary and partner). Earlier
// messages for a field win.
func flagPartials(cand domain.DuplicateCandidate, exPhone, exInstagram, exCouplePhone, exCoupleInstagram string,
	into map[string]string, phoneMsg, instagramMsg string) bool {
	hit := false
	flag := func(match bool, field, msg string) {
		if !match {
			return
		}
		hit = true
		if _, ok := into[field]; !ok {
			into[field] = msg
		}
	}

	flag(same(cand.Phone, exPhone), "phone", phoneMsg)
	flag(same(cand.Instagram, exInstagram), "instagram", instagramMsg)
	flag(same(cand.CouplePhone, exCouplePhone), "couple_phone", phoneMsg)
	flag(same(cand.CoupleInstagram, exCoupleInstagram), "couple_instagram", instagramMsg)
	flag(same(cand.Phone, exCouplePhone), "phone", phoneMsg)
	flag(same(cand.CouplePhone, exPhone), "couple_phone", phoneMsg)
	flag(same(cand.Instagram, exCoupleInstagram), "instagram", instagramMsg)
	flag(same(cand.CoupleInstagram, exInstagram), "couple_instagram", instagramMsg)
	return hit
}

// sameCampaign compares by id when both rows carry one, by code when
// neither does. Id asymmetry counts as different campaigns.
func sameCampaign(cand domain.DuplicateCandidate, ex domain.Registrant) bool {
	candHasID := cand.CampaignID != nil && *cand.CampaignID != ""
	exHasID := ex.CampaignID != nil && *ex.CampaignID != ""
	switch {
	case candHasID && exHasID:
		return *cand.CampaignID == *ex.CampaignID
	case !candHasID && !exHasID:
		return cand.CampaignCode == ex.Campaign
	default:
		return false
	}
}

func campaignLabel(ex domain.Registrant) string {
	if ex.Campaign != "" {
		return ex.Campaign
	}
	return "sem campanha"
}

// same treats empty values as never equal, so rows missing a partner do not collide.
func same(a, b string) bool {
	return a != "" && a == b
}

// loadRegistrants reads active members and friends concurrently and returns
// members first, then friends.
func (v *DuplicateValidator) loadRegistrants(ctx context.Context) ([]domain.Registrant, error) {
	var members []domain.Member
	var friends []domain.Friend

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := scanAll[domain.Member](gctx, v.store, port.TableMembers)
		members = rows
		return err
	})
	g.Go(func() error {
		rows, err := scanAll[domain.Friend](gctx, v.store, port.TableFriends)
		friends = rows
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]domain.Registrant, 0, len(members)+len(friends))
	for _, m := range members {
		out = append(out, domain.RegistrantFromMember(m))
	}
	for _, f := range friends {
		out = append(out, domain.RegistrantFromFriend(f))
	}
	return out, nil
}

// scanAll pages through every active, non-deleted row of table in insertion
// order. Rows sharing a created_at come back ordered by id, which keeps
// paging stable but does not reflect which of them was written first.
func scanAll[T any](ctx context.Context, store port.RecordStore, table string) ([]T, error) {
	var all []T
	for offset := 0; ; offset += scanPageSize {
		var page []T
		q := port.Where(port.ActiveRows()...).
			OrderBy("created_at", false).
			OrderBy("id", false).
			WithLimit(scanPageSize).
			WithOffset(offset)
		if _, err := store.Select(ctx, table, q, &page); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		all = append(all, page...)
		if len(page) < scanPageSize {
			return all, nil
		}
	}
}
