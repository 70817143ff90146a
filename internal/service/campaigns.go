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
	"golang.org/x/sync/errgroup"
)

var campaignTracer = otel.Tracer("service/campaigns")

const (
	defaultPrimaryColor   = "#1e40af"
	defaultSecondaryColor = "#f59e0b"
)

// CampaignService manages campaigns and plans and enforces plan capacity.
type CampaignService struct {
	store   port.RecordStore
	cache   port.Cache[*domain.Campaign]
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewCampaignService creates a new campaign service. cache may be nil.
func NewCampaignService(store port.RecordStore, cache port.Cache[*domain.Campaign], metrics *observability.Metrics, logger *zap.Logger) *CampaignService {
	return &CampaignService{store: store, cache: cache, metrics: metrics, logger: logger}
}

// ============================================================
// Campaigns
// ============================================================

// List returns campaigns ordered by name.
func (s *CampaignService) List(ctx context.Context, activeOnly bool) ([]domain.Campaign, error) {
	ctx, span := campaignTracer.Start(ctx, "CampaignService.List")
	defer span.End()

	q := port.Query{}
	if activeOnly {
		q = port.Where(port.Eq("is_active", true))
	}
	var rows []domain.Campaign
	if _, err := s.store.Select(ctx, port.TableCampaigns, q.OrderBy("name", false), &rows); err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return rows, nil
}

// GetByCode returns a campaign by code, cached.
func (s *CampaignService) GetByCode(ctx context.Context, code string) (*domain.Campaign, error) {
	ctx, span := campaignTracer.Start(ctx, "CampaignService.GetByCode")
	defer span.End()
	span.SetAttributes(attribute.String("campaign.code", code))

	if s.cache != nil {
		if c, ok := s.cache.Get(code); ok {
			s.metrics.IncrCacheHit("campaigns")
			return c, nil
		}
		s.metrics.IncrCacheMiss("campaigns")
	}

	var rows []domain.Campaign
	if _, err := s.store.Select(ctx, port.TableCampaigns, port.Where(port.Eq("code", code)).WithLimit(1), &rows); err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "campaign", ID: code}
	}
	c := &rows[0]
	if s.cache != nil {
		s.cache.Set(code, c)
	}
	return c, nil
}

// GetByID returns a campaign by id.
func (s *CampaignService) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	var rows []domain.Campaign
	if _, err := s.store.Select(ctx, port.TableCampaigns, port.Where(port.Eq("id", id)).WithLimit(1), &rows); err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "campaign", ID: id}
	}
	return &rows[0], nil
}

// Create stores a new campaign. Codes are unique and normalized to upper case.
func (s *CampaignService) Create(ctx context.Context, c *domain.Campaign) (*domain.Campaign, error) {
	ctx, span := campaignTracer.Start(ctx, "CampaignService.Create")
	defer span.End()

	c.Name = strings.TrimSpace(c.Name)
	c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
	if c.Name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "Nome da campanha é obrigatório"}
	}
	if c.Code == "" {
		return nil, &domain.ErrValidation{Field: "code", Message: "Código da campanha é obrigatório"}
	}
	if c.PlanID != nil && *c.PlanID != "" {
		if _, err := s.GetPlan(ctx, *c.PlanID); err != nil {
			return nil, err
		}
	}

	var existing []domain.Campaign
	if _, err := s.store.Select(ctx, port.TableCampaigns, port.Where(port.Eq("code", c.Code)).WithLimit(1), &existing); err != nil {
		return nil, fmt.Errorf("check campaign code: %w", err)
	}
	if len(existing) > 0 {
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("Já existe uma campanha com o código %s", c.Code)}
	}

	c.ID = uuid.New().String()
	c.IsActive = true
	c.CreatedAt = time.Now().UTC()
	if c.PrimaryColor == "" {
		c.PrimaryColor = defaultPrimaryColor
	}
	if c.SecondaryColor == "" {
		c.SecondaryColor = defaultSecondaryColor
	}
	if err := s.store.Insert(ctx, port.TableCampaigns, c, nil); err != nil {
		return nil, fmt.Errorf("insert campaign: %w", err)
	}

	s.logger.Info("campaign created", zap.String("campaign_code", c.Code), zap.String("campaign_id", c.ID))
	return c, nil
}

// campaignUpdatable lists the columns an administrator may change.
var campaignUpdatable = map[string]bool{
	"name":            true,
	"description":     true,
	"primary_color":   true,
	"secondary_color": true,
	"plan_id":         true,
	"is_active":       true,
}

// Update applies a partial update. The code is immutable since registrants reference it.
func (s *CampaignService) Update(ctx context.Context, id string, updates map[string]any) (*domain.Campaign, error) {
	ctx, span := campaignTracer.Start(ctx, "CampaignService.Update")
	defer span.End()

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	patch := make(map[string]any, len(updates))
	for k, v := range updates {
		if !campaignUpdatable[k] {
			return nil, &domain.ErrValidation{Field: k, Message: "campo não pode ser alterado"}
		}
		patch[k] = v
	}
	if len(patch) == 0 {
		return current, nil
	}
	if err := s.store.Update(ctx, port.TableCampaigns, patch, port.Eq("id", id)); err != nil {
		return nil, fmt.Errorf("update campaign: %w", err)
	}
	s.invalidate(current.Code)
	return s.GetByID(ctx, id)
}

// Deactivate marks a campaign inactive.
func (s *CampaignService) Deactivate(ctx context.Context, id string) error {
	_, err := s.Update(ctx, id, map[string]any{"is_active": false})
	return err
}

func (s *CampaignService) invalidate(code string) {
	if s.cache != nil {
		s.cache.Delete(code)
	}
}

// ============================================================
// Plans
// ============================================================

// ListPlans returns active plans ordered by price.
func (s *CampaignService) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	var rows []domain.Plan
	q := port.Where(port.Eq("is_active", true)).OrderBy("price", false)
	if _, err := s.store.Select(ctx, port.TablePlans, q, &rows); err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return rows, nil
}

// GetPlan returns a plan by id.
func (s *CampaignService) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	var rows []domain.Plan
	if _, err := s.store.Select(ctx, port.TablePlans, port.Where(port.Eq("id", id)).WithLimit(1), &rows); err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "plan", ID: id}
	}
	return &rows[0], nil
}

// ============================================================
// Capacity
// ============================================================

// campaignScope returns the filter that attributes registrants to a
// campaign. Older rows carry only the code.
func campaignScope(code string, id *string) port.Filter {
	if id != nil && *id != "" {
		return port.Or(port.Eq("campaign_id", *id), port.Eq("campaign", code))
	}
	return port.Eq("campaign", code)
}

// planFor returns the campaign's plan, or nil when it has none.
func (s *CampaignService) planFor(ctx context.Context, c *domain.Campaign) (*domain.Plan, error) {
	if c.PlanID == nil || *c.PlanID == "" {
		return nil, nil
	}
	return s.GetPlan(ctx, *c.PlanID)
}

// CheckCapacity rejects a new member when the campaign's active member count
// has reached its plan limit. Campaigns without a plan or with a
// non-positive limit are unlimited, and so are codes with no campaign row.
// An empty code means no campaign.
func (s *CampaignService) CheckCapacity(ctx context.Context, code string) error {
	ctx, span := campaignTracer.Start(ctx, "CampaignService.CheckCapacity")
	defer span.End()
	span.SetAttributes(attribute.String("campaign.code", code))

	if code == "" {
		return nil
	}
	c, err := s.GetByCode(ctx, code)
	var nf *domain.ErrNotFound
	if errors.As(err, &nf) {
		s.logger.Warn("capacity check: campaign not registered, no limit applied",
			zap.String("campaign_code", code),
		)
		return nil
	}
	if err != nil {
		return err
	}
	plan, err := s.planFor(ctx, c)
	if err != nil {
		return err
	}
	if plan == nil || plan.MaxMembers <= 0 {
		return nil
	}

	var rows []domain.Member
	q := port.Where(port.ActiveRows(campaignScope(c.Code, &c.ID))...).WithLimit(1).WithCount()
	current, err := s.store.Select(ctx, port.TableMembers, q, &rows)
	if err != nil {
		return fmt.Errorf("count campaign members: %w", err)
	}
	if current >= plan.MaxMembers {
		s.logger.Warn("campaign at capacity",
			zap.String("campaign_code", c.Code),
			zap.Int("current", current),
			zap.Int("limit", plan.MaxMembers),
		)
		return &domain.ErrCapacity{Campaign: c.Code, Limit: plan.MaxMembers, Current: current}
	}
	return nil
}

// Stats returns active member and friend counts against the plan limit.
func (s *CampaignService) Stats(ctx context.Context, code string) (*domain.CampaignStats, error) {
	ctx, span := campaignTracer.Start(ctx, "CampaignService.Stats")
	defer span.End()

	c, err := s.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	plan, err := s.planFor(ctx, c)
	if err != nil {
		return nil, err
	}

	scope := campaignScope(c.Code, &c.ID)
	var members, friends int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		members, err = countRows(gctx, s.store, port.TableMembers, port.ActiveRows(scope)...)
		return err
	})
	g.Go(func() (err error) {
		friends, err = countRows(gctx, s.store, port.TableFriends, port.ActiveRows(scope)...)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("campaign stats: %w", err)
	}

	stats := &domain.CampaignStats{
		Campaign:      *c,
		Plan:          plan,
		ActiveMembers: members,
		ActiveFriends: friends,
	}
	if plan != nil && plan.MaxMembers > 0 {
		stats.MemberLimit = plan.MaxMembers
		stats.AtCapacity = members >= plan.MaxMembers
	}
	return stats, nil
}

// countRows returns the number of rows matching filters.
func countRows(ctx context.Context, store port.RecordStore, table string, filters ...port.Filter) (int, error) {
	var rows []map[string]any
	return store.Select(ctx, table, port.Where(filters...).WithLimit(1).WithCount(), &rows)
}
