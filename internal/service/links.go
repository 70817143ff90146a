package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/port"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var linkTracer = otel.Tracer("service/links")

const (
	linkPrefix        = "link-"
	maxLinkIDLength   = 100
	maxSuffixAttempts = 100
	qrCodeSize        = 256
)

// LinkService generates, resolves and renders referral links.
type LinkService struct {
	store     port.RecordStore
	campaigns *CampaignService
	origin    string
	logger    *zap.Logger
	now       func() time.Time
}

// NewLinkService creates a new link service. origin is the public frontend
// origin links are built on, e.g. https://conectados.app.
func NewLinkService(store port.RecordStore, campaigns *CampaignService, origin string, logger *zap.Logger) *LinkService {
	return &LinkService{
		store:     store,
		campaigns: campaigns,
		origin:    strings.TrimRight(origin, "/"),
		logger:    logger,
		now:       time.Now,
	}
}

// URL returns the public registration URL for a link id.
func (s *LinkService) URL(linkID string) string {
	return s.origin + "/cadastro/" + linkID
}

// ============================================================
// Link id generation
// ============================================================

// Slugify lowercases name, strips accents and joins alphanumeric runs with '-'.
func Slugify(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// GenerateLinkID derives a unique link id from name: "link-<slug>", then
// "-1".."-100" on collision, then a unix-millisecond suffix.
func (s *LinkService) GenerateLinkID(ctx context.Context, name string) (string, error) {
	ctx, span := linkTracer.Start(ctx, "LinkService.GenerateLinkID")
	defer span.End()

	slug := Slugify(name)
	if slug == "" {
		slug = "membro"
	}
	base := linkPrefix + slug

	candidate := truncateLinkID(base, "")
	taken, err := s.linkExists(ctx, candidate)
	if err != nil {
		return "", err
	}
	if !taken {
		return candidate, nil
	}

	for i := 1; i <= maxSuffixAttempts; i++ {
		candidate = truncateLinkID(base, fmt.Sprintf("-%d", i))
		taken, err := s.linkExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}

	candidate = truncateLinkID(base, fmt.Sprintf("-%d", s.now().UnixMilli()))
	s.logger.Warn("link id suffixes exhausted, using timestamp",
		zap.String("base", base),
		zap.String("link_id", candidate),
	)
	return candidate, nil
}

// truncateLinkID keeps base+suffix within maxLinkIDLength by shortening base.
func truncateLinkID(base, suffix string) string {
	if room := maxLinkIDLength - len(suffix); len(base) > room {
		base = strings.TrimRight(base[:room], "-")
	}
	return base + suffix
}

func (s *LinkService) linkExists(ctx context.Context, linkID string) (bool, error) {
	var rows []domain.UserLink
	n, err := s.store.Select(ctx, port.TableUserLinks, port.Where(port.Eq("link_id", linkID)).WithLimit(1), &rows)
	if err != nil {
		return false, fmt.Errorf("check link id: %w", err)
	}
	return n > 0, nil
}

// ============================================================
// Creation
// ============================================================

// NewLink describes a link to create.
type NewLink struct {
	UserID     string
	MemberID   *string
	OwnerName  string
	LinkType   string
	Campaign   string
	CampaignID *string
}

// Create generates a link id for the owner and stores the link row.
func (s *LinkService) Create(ctx context.Context, nl NewLink) (*domain.UserLink, error) {
	ctx, span := linkTracer.Start(ctx, "LinkService.Create")
	defer span.End()
	span.SetAttributes(attribute.String("link.type", nl.LinkType))

	linkID, err := s.GenerateLinkID(ctx, nl.OwnerName)
	if err != nil {
		return nil, err
	}

	link := domain.UserLink{
		ID:           uuid.New().String(),
		LinkID:       linkID,
		UserID:       nl.UserID,
		MemberID:     nl.MemberID,
		LinkType:     nl.LinkType,
		ReferrerName: nl.OwnerName,
		Campaign:     nl.Campaign,
		CampaignID:   nl.CampaignID,
		IsActive:     true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Insert(ctx, port.TableUserLinks, link, nil); err != nil {
		return nil, fmt.Errorf("insert link: %w", err)
	}

	s.logger.Info("link created",
		zap.String("link_id", linkID),
		zap.String("user_id", nl.UserID),
		zap.String("link_type", nl.LinkType),
		zap.String("campaign_code", nl.Campaign),
	)
	return &link, nil
}

// CreateForAdmin handles POST /v1/admin/links. The link type falls back to
// the settings value when the request leaves it empty.
func (s *LinkService) CreateForAdmin(ctx context.Context, req *domain.CreateLinkRequest, settings domain.SystemSettings) (*domain.UserLink, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, &domain.ErrValidation{Field: "user_id", Message: "user_id é obrigatório"}
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "name é obrigatório"}
	}
	linkType := req.LinkType
	if linkType == "" {
		linkType = settings.MemberLinksType
	}
	if err := ValidateLinkType(linkType); err != nil {
		return nil, err
	}

	nl := NewLink{UserID: req.UserID, OwnerName: NormalizeName(req.Name), LinkType: linkType}
	if req.Campaign != "" {
		c, err := s.campaigns.GetByCode(ctx, req.Campaign)
		if err != nil {
			return nil, err
		}
		nl.Campaign = c.Code
		nl.CampaignID = &c.ID
	}

	// Links issued to a member's service account carry the member id.
	owner, err := findMemberByName(ctx, s.store, s.logger, nl.OwnerName, nl.OwnerName)
	if err != nil {
		return nil, fmt.Errorf("resolve link owner: %w", err)
	}
	if owner != nil {
		nl.MemberID = &owner.ID
	}

	return s.Create(ctx, nl)
}

// ValidateLinkType accepts "members" and "friends".
func ValidateLinkType(linkType string) error {
	switch linkType {
	case domain.LinkTypeMembers, domain.LinkTypeFriends:
		return nil
	}
	return &domain.ErrValidation{Field: "link_type", Message: "link_type deve ser 'members' ou 'friends'"}
}

// ============================================================
// Resolution
// ============================================================

// Get reads a link by link id regardless of state.
func (s *LinkService) Get(ctx context.Context, linkID string) (*domain.UserLink, error) {
	var rows []domain.UserLink
	if _, err := s.store.Select(ctx, port.TableUserLinks, port.Where(port.Eq("link_id", linkID)).WithLimit(1), &rows); err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "link", ID: linkID}
	}
	return &rows[0], nil
}

// Resolve returns an active, non-deleted link.
func (s *LinkService) Resolve(ctx context.Context, linkID string) (*domain.UserLink, error) {
	ctx, span := linkTracer.Start(ctx, "LinkService.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("link.id", linkID))

	link, err := s.Get(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if !link.IsActive || link.DeletedAt != nil {
		return nil, &domain.ErrLinkInactive{LinkID: linkID}
	}
	return link, nil
}

// Info handles GET /v1/links/{linkId}: link data plus campaign branding.
// The click counter is incremented best-effort.
func (s *LinkService) Info(ctx context.Context, linkID string) (*domain.LinkInfo, error) {
	ctx, span := linkTracer.Start(ctx, "LinkService.Info")
	defer span.End()

	link, err := s.Resolve(ctx, linkID)
	if err != nil {
		return nil, err
	}

	info := &domain.LinkInfo{
		LinkID:       link.LinkID,
		LinkType:     link.LinkType,
		ReferrerName: link.ReferrerName,
		Campaign:     link.Campaign,
		CampaignID:   link.CampaignID,
		URL:          s.URL(link.LinkID),
	}
	if link.Campaign != "" {
		if c, err := s.campaigns.GetByCode(ctx, link.Campaign); err == nil {
			info.CampaignName = c.Name
			info.PrimaryColor = c.PrimaryColor
			info.SecondaryColor = c.SecondaryColor
		} else {
			s.logger.Warn("link campaign lookup failed",
				zap.String("link_id", linkID),
				zap.String("campaign_code", link.Campaign),
				zap.Error(err),
			)
		}
	}

	s.bumpCounter(ctx, link, "click_count", link.ClickCount+1)
	return info, nil
}

// RecordRegistration increments the link's registration counter best-effort.
func (s *LinkService) RecordRegistration(ctx context.Context, link *domain.UserLink) {
	s.bumpCounter(ctx, link, "registration_count", link.RegistrationCount+1)
}

func (s *LinkService) bumpCounter(ctx context.Context, link *domain.UserLink, column string, value int) {
	if err := s.store.Update(ctx, port.TableUserLinks, map[string]any{column: value}, port.Eq("id", link.ID)); err != nil {
		s.logger.Warn("link counter update failed",
			zap.String("link_id", link.LinkID),
			zap.String("column", column),
			zap.Error(err),
		)
	}
}

// QRCode renders the registration URL of an active link as a PNG.
func (s *LinkService) QRCode(ctx context.Context, linkID string) ([]byte, error) {
	ctx, span := linkTracer.Start(ctx, "LinkService.QRCode")
	defer span.End()

	link, err := s.Resolve(ctx, linkID)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(s.URL(link.LinkID), qrcode.Medium, qrCodeSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}
	return png, nil
}

// Deactivate soft-deletes a link.
func (s *LinkService) Deactivate(ctx context.Context, linkID string) error {
	ctx, span := linkTracer.Start(ctx, "LinkService.Deactivate")
	defer span.End()

	link, err := s.Get(ctx, linkID)
	if err != nil {
		return err
	}
	update := map[string]any{
		"is_active":  false,
		"deleted_at": s.now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.store.Update(ctx, port.TableUserLinks, update, port.Eq("id", link.ID)); err != nil {
		return fmt.Errorf("deactivate link: %w", err)
	}
	s.logger.Info("link deactivated", zap.String("link_id", linkID))
	return nil
}

// ListByUser returns the active links of a user.
func (s *LinkService) ListByUser(ctx context.Context, userID string) ([]domain.UserLink, error) {
	var rows []domain.UserLink
	q := port.Where(port.Eq("user_id", userID), port.IsNull("deleted_at")).OrderBy("created_at", true)
	if _, err := s.store.Select(ctx, port.TableUserLinks, q, &rows); err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return rows, nil
}
