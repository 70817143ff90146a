package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/infra/observability"
	"github.com/conectados/conectados-api/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var registrationTracer = otel.Tracer("service/registration")

// DefaultLinkReadbackDelay is how long to wait before re-reading a freshly
// created link that is not yet visible.
const DefaultLinkReadbackDelay = 500 * time.Millisecond

// RegistrationService sequences a public registration submission: field
// validation, duplicate scan, persistence and counter reconciliation.
type RegistrationService struct {
	store         port.RecordStore
	validator     *DuplicateValidator
	reconciler    *ReferralReconciler
	links         *LinkService
	campaigns     *CampaignService
	postal        port.PostalLookup
	metrics       *observability.Metrics
	logger        *zap.Logger
	readbackDelay time.Duration
	now           func() time.Time
}

// NewRegistrationService creates a new registration orchestrator. postal may be nil.
func NewRegistrationService(
	store port.RecordStore,
	validator *DuplicateValidator,
	reconciler *ReferralReconciler,
	links *LinkService,
	campaigns *CampaignService,
	postal port.PostalLookup,
	metrics *observability.Metrics,
	logger *zap.Logger,
	readbackDelay time.Duration,
) *RegistrationService {
	return &RegistrationService{
		store:         store,
		validator:     validator,
		reconciler:    reconciler,
		links:         links,
		campaigns:     campaigns,
		postal:        postal,
		metrics:       metrics,
		logger:        logger,
		readbackDelay: readbackDelay,
		now:           time.Now,
	}
}

// ============================================================
// Register - POST /v1/register/{linkId}
// ============================================================

// Register validates and persists a submission made through linkID.
// settings is read once by the caller for the whole request.
func (s *RegistrationService) Register(ctx context.Context, linkID string, req *domain.RegistrationRequest, settings domain.SystemSettings) (*domain.RegistrationResult, error) {
	ctx, span := registrationTracer.Start(ctx, "RegistrationService.Register")
	defer span.End()
	span.SetAttributes(attribute.String("link.id", linkID))

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("register", time.Since(start)) }()

	link, err := s.links.Resolve(ctx, linkID)
	if err != nil {
		return nil, err
	}

	linkType := link.LinkType
	if linkType == "" {
		linkType = settings.MemberLinksType
	}
	kind := domain.ResultMember
	if linkType == domain.LinkTypeFriends {
		kind = domain.ResultFriend
	}
	span.SetAttributes(
		attribute.String("registration.kind", kind),
		attribute.String("campaign.code", link.Campaign),
	)

	s.fillAddress(ctx, req)

	fieldErrs := ValidateRegistrationFields(req)
	report, err := s.validator.Validate(ctx, domain.DuplicateCandidate{
		Phone:           req.Phone,
		Instagram:       req.Instagram,
		CouplePhone:     req.CouplePhone,
		CoupleInstagram: req.CoupleInstagram,
		CampaignCode:    link.Campaign,
		CampaignID:      link.CampaignID,
	})
	if err != nil {
		s.recordFailure(kind, err)
		return nil, fmt.Errorf("duplicate scan: %w", err)
	}
	for field, msg := range report.Errors {
		if _, ok := fieldErrs[field]; !ok {
			fieldErrs[field] = msg
		}
	}
	if len(fieldErrs) > 0 {
		s.metrics.IncrRegistration(kind, "invalid")
		return nil, &domain.ErrFieldErrors{Fields: fieldErrs, Duplicate: !report.Allowed()}
	}

	var result *domain.RegistrationResult
	if kind == domain.ResultFriend {
		result, err = s.registerFriend(ctx, link, req)
	} else {
		result, err = s.registerMember(ctx, link, req, settings)
	}
	if err != nil {
		var capErr *domain.ErrCapacity
		if errors.As(err, &capErr) {
			s.metrics.IncrRegistration(kind, "capacity")
		} else {
			s.recordFailure(kind, err)
		}
		return nil, err
	}

	if len(report.Warnings) > 0 {
		result.Warnings = report.Warnings
	}
	s.metrics.IncrRegistration(kind, "success")
	s.links.RecordRegistration(ctx, link)
	return result, nil
}

func (s *RegistrationService) recordFailure(kind string, err error) {
	s.metrics.IncrRegistration(kind, "error")
	var ext *domain.ErrExternalService
	if errors.As(err, &ext) {
		s.metrics.IncrExternalError(ext.Service)
	}
}

// ============================================================
// Friends path
// ============================================================

func (s *RegistrationService) registerFriend(ctx context.Context, link *domain.UserLink, req *domain.RegistrationRequest) (*domain.RegistrationResult, error) {
	ctx, span := registrationTracer.Start(ctx, "RegistrationService.registerFriend")
	defer span.End()

	owner, err := s.resolveLinkOwner(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("resolve link owner: %w", err)
	}

	friend := domain.Friend{Member: s.newRegistrant(req, link, owner)}
	ownerID := ""
	if owner != nil {
		ownerID = owner.ID
		friend.MemberID = &owner.ID
	}

	if err := s.store.Insert(ctx, port.TableFriends, friend, nil); err != nil {
		return nil, fmt.Errorf("insert friend: %w", err)
	}

	s.logger.Info("friend registered",
		zap.String("friend_id", friend.ID),
		zap.String("member_id", ownerID),
		zap.String("link_id", link.LinkID),
		zap.String("campaign_code", link.Campaign),
	)

	s.reconciler.Reconcile(ctx, friend.Referrer, ownerID)

	return &domain.RegistrationResult{
		Kind:    domain.ResultFriend,
		ID:      friend.ID,
		Message: "Cadastro realizado com sucesso! Obrigado por fazer parte.",
	}, nil
}

// ============================================================
// Members path
// ============================================================

func (s *RegistrationService) registerMember(ctx context.Context, link *domain.UserLink, req *domain.RegistrationRequest, settings domain.SystemSettings) (*domain.RegistrationResult, error) {
	ctx, span := registrationTracer.Start(ctx, "RegistrationService.registerMember")
	defer span.End()

	if err := s.campaigns.CheckCapacity(ctx, link.Campaign); err != nil {
		return nil, err
	}

	owner, err := s.resolveLinkOwner(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("resolve link owner: %w", err)
	}
	member := s.newRegistrant(req, link, owner)

	username, err := s.uniqueUsername(ctx, member.Instagram, member.Phone)
	if err != nil {
		return nil, err
	}
	password, err := GeneratePassword(servicePasswordLength)
	if err != nil {
		return nil, fmt.Errorf("generate password: %w", err)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	account := domain.AuthUser{
		ID:           uuid.New().String(),
		Username:     username,
		Name:         member.Name,
		Role:         domain.RoleMember,
		PasswordHash: hash,
		Instagram:    member.Instagram,
		Phone:        member.Phone,
		Campaign:     member.Campaign,
		IsActive:     true,
		CreatedAt:    member.CreatedAt,
	}

	nextLinkType := settings.MemberLinksType
	if ValidateLinkType(nextLinkType) != nil {
		nextLinkType = domain.LinkTypeMembers
	}

	var created *domain.UserLink
	sg := newSaga(s.logger.With(zap.String("member_id", member.ID)))

	steps := []sagaStep{
		{
			name:     "insert member",
			critical: true,
			run: func(ctx context.Context) error {
				return s.store.Insert(ctx, port.TableMembers, member, nil)
			},
			compensate: func(ctx context.Context) error {
				return s.store.Delete(ctx, port.TableMembers, port.Eq("id", member.ID))
			},
		},
		{
			name: "mirror users",
			run: func(ctx context.Context) error {
				return s.store.Insert(ctx, port.TableUsers, map[string]any{
					"id":         member.ID,
					"name":       member.Name,
					"phone":      member.Phone,
					"instagram":  member.Instagram,
					"campaign":   member.Campaign,
					"created_at": member.CreatedAt.Format(time.RFC3339Nano),
				}, nil)
			},
			compensate: func(ctx context.Context) error {
				return s.store.Delete(ctx, port.TableUsers, port.Eq("id", member.ID))
			},
		},
		{
			name:     "create service account",
			critical: true,
			run: func(ctx context.Context) error {
				return s.store.Insert(ctx, port.TableAuthUsers, account, nil)
			},
			compensate: func(ctx context.Context) error {
				return s.store.Delete(ctx, port.TableAuthUsers, port.Eq("id", account.ID))
			},
		},
		{
			name:     "create referral link",
			critical: true,
			run: func(ctx context.Context) error {
				l, err := s.links.Create(ctx, NewLink{
					UserID:     account.ID,
					MemberID:   &member.ID,
					OwnerName:  member.Name,
					LinkType:   nextLinkType,
					Campaign:   member.Campaign,
					CampaignID: member.CampaignID,
				})
				created = l
				return err
			},
			compensate: func(ctx context.Context) error {
				if created == nil {
					return nil
				}
				return s.store.Delete(ctx, port.TableUserLinks, port.Eq("id", created.ID))
			},
		},
	}
	for _, step := range steps {
		if err := sg.run(ctx, step); err != nil {
			s.logger.Error("member registration rolled back",
				zap.String("member_id", member.ID),
				zap.String("link_id", link.LinkID),
				zap.Error(err),
			)
			return nil, fmt.Errorf("register member: %w", err)
		}
	}

	s.awaitLink(ctx, created.LinkID)

	s.logger.Info("member registered",
		zap.String("member_id", member.ID),
		zap.String("link_id", created.LinkID),
		zap.String("referrer", member.Referrer),
		zap.String("campaign_code", member.Campaign),
	)

	ownerID := ""
	if owner != nil {
		ownerID = owner.ID
	}
	if member.Referrer != "" || ownerID != "" {
		s.reconciler.Reconcile(ctx, member.Referrer, ownerID)
	}

	return &domain.RegistrationResult{
		Kind:     domain.ResultMember,
		ID:       member.ID,
		Message:  "Cadastro realizado com sucesso! Compartilhe seu link para convidar outras pessoas.",
		LinkID:   created.LinkID,
		LinkURL:  s.links.URL(created.LinkID),
		Username: username,
		Password: password,
	}, nil
}

// awaitLink re-reads a just-created link once after readbackDelay when the
// first read does not see it.
func (s *RegistrationService) awaitLink(ctx context.Context, linkID string) {
	if _, err := s.links.Get(ctx, linkID); err == nil {
		return
	}
	timer := time.NewTimer(s.readbackDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	if _, err := s.links.Get(ctx, linkID); err != nil {
		s.logger.Warn("new link not visible after read-back delay",
			zap.String("link_id", linkID),
			zap.Duration("delay", s.readbackDelay),
			zap.Error(err),
		)
	}
}

// uniqueUsername picks a service-account username from the Instagram handle.
func (s *RegistrationService) uniqueUsername(ctx context.Context, handle, phone string) (string, error) {
	candidates := []string{handle}
	if len(phone) >= 4 {
		candidates = append(candidates, handle+phone[len(phone)-4:])
	}
	for _, c := range candidates {
		var rows []domain.AuthUser
		n, err := s.store.Select(ctx, port.TableAuthUsers, port.Where(port.Eq("username", c)).WithLimit(1), &rows)
		if err != nil {
			return "", fmt.Errorf("check username: %w", err)
		}
		if n == 0 {
			return c, nil
		}
	}
	return fmt.Sprintf("%s%d", handle, s.now().UnixMilli()%100000), nil
}

// ============================================================
// Shared helpers
// ============================================================

// resolveLinkOwner finds the member that owns link: by member id when the
// link carries one, else by the name of the generating user.
func (s *RegistrationService) resolveLinkOwner(ctx context.Context, link *domain.UserLink) (*domain.Member, error) {
	if link.MemberID != nil && *link.MemberID != "" {
		var rows []domain.Member
		q := port.Where(port.ActiveRows(port.Eq("id", *link.MemberID))...).WithLimit(1)
		if _, err := s.store.Select(ctx, port.TableMembers, q, &rows); err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return &rows[0], nil
		}
	}

	name := link.ReferrerName
	if link.UserID != "" {
		var users []domain.AuthUser
		if _, err := s.store.Select(ctx, port.TableAuthUsers, port.Where(port.Eq("id", link.UserID)).WithLimit(1), &users); err != nil {
			return nil, err
		}
		if len(users) > 0 && users[0].Name != "" {
			name = users[0].Name
		}
	}
	if strings.TrimSpace(name) == "" {
		return nil, nil
	}
	return findMemberByName(ctx, s.store, s.logger, StripReferrerSuffix(name), strings.TrimSpace(name))
}

// newRegistrant builds the row shared by members and friends.
func (s *RegistrationService) newRegistrant(req *domain.RegistrationRequest, link *domain.UserLink, owner *domain.Member) domain.Member {
	now := s.now().UTC()
	m := domain.Member{
		ID:               uuid.New().String(),
		Name:             NormalizeName(req.Name),
		Phone:            NormalizePhone(req.Phone),
		Instagram:        NormalizeInstagram(req.Instagram),
		CEP:              NormalizePhone(req.CEP),
		City:             strings.TrimSpace(req.City),
		Sector:           strings.TrimSpace(req.Sector),
		Referrer:         StripReferrerSuffix(link.ReferrerName),
		Campaign:         link.Campaign,
		CampaignID:       link.CampaignID,
		Status:           domain.StatusActive,
		RankingStatus:    domain.RankingStatusFor(0),
		CoupleName:       NormalizeName(req.CoupleName),
		CouplePhone:      NormalizePhone(req.CouplePhone),
		CoupleInstagram:  NormalizeInstagram(req.CoupleInstagram),
		CoupleCity:       strings.TrimSpace(req.CoupleCity),
		CoupleSector:     strings.TrimSpace(req.CoupleSector),
		RegistrationDate: now.Format(time.DateOnly),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if owner != nil {
		m.Referrer = owner.Name
		m.ReferrerID = &owner.ID
	}
	return m
}

// fillAddress completes city and sector from the postal lookup. Lookup
// results win over submitted values; lookup failures keep them. A partner
// without a CEP inherits the primary address.
func (s *RegistrationService) fillAddress(ctx context.Context, req *domain.RegistrationRequest) {
	lookup := func(cep string, city, sector *string) {
		if s.postal == nil || ValidateCEP(cep) != "" {
			return
		}
		addr, err := s.postal.Lookup(ctx, cep)
		if err != nil {
			s.logger.Warn("postal lookup failed", zap.String("cep", cep), zap.Error(err))
			return
		}
		if addr.City != "" {
			*city = addr.City
		}
		if addr.Sector != "" {
			*sector = addr.Sector
		}
	}

	lookup(req.CEP, &req.City, &req.Sector)
	if strings.TrimSpace(req.CoupleCEP) != "" {
		lookup(req.CoupleCEP, &req.CoupleCity, &req.CoupleSector)
		return
	}
	if strings.TrimSpace(req.CoupleCity) == "" {
		req.CoupleCity = req.City
	}
	if strings.TrimSpace(req.CoupleSector) == "" {
		req.CoupleSector = req.Sector
	}
}
