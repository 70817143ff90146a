package service

import (
	"context"
	"fmt"
	"time"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var memberTracer = otel.Tracer("service/members")

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// MemberService backs the administrator views of members and friends.
type MemberService struct {
	store      port.RecordStore
	reconciler *ReferralReconciler
	logger     *zap.Logger
	now        func() time.Time
}

// NewMemberService creates a new member admin service.
func NewMemberService(store port.RecordStore, reconciler *ReferralReconciler, logger *zap.Logger) *MemberService {
	return &MemberService{store: store, reconciler: reconciler, logger: logger, now: time.Now}
}

// ============================================================
// Ranking
// ============================================================

// Ranking lists active members by contracts_completed desc, oldest first on ties.
// An empty campaign lists every campaign.
func (s *MemberService) Ranking(ctx context.Context, campaign string, page, pageSize int) (*domain.ListResponse[domain.Member], error) {
	ctx, span := memberTracer.Start(ctx, "MemberService.Ranking")
	defer span.End()
	span.SetAttributes(attribute.String("campaign.code", campaign))

	page, pageSize = clampPage(page, pageSize)

	filters := port.ActiveRows()
	if campaign != "" {
		filters = append(filters, port.Eq("campaign", campaign))
	}
	q := port.Where(filters...).
		OrderBy("contracts_completed", true).
		OrderBy("created_at", false).
		WithLimit(pageSize).
		WithOffset((page - 1) * pageSize).
		WithCount()

	var rows []domain.Member
	total, err := s.store.Select(ctx, port.TableMembers, q, &rows)
	if err != nil {
		return nil, fmt.Errorf("list ranking: %w", err)
	}
	if rows == nil {
		rows = []domain.Member{}
	}
	return &domain.ListResponse[domain.Member]{
		Data:     rows,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
		HasMore:  page*pageSize < total,
	}, nil
}

func clampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// ============================================================
// Members / Friends
// ============================================================

// GetMember returns a non-deleted member by id.
func (s *MemberService) GetMember(ctx context.Context, id string) (*domain.Member, error) {
	var rows []domain.Member
	q := port.Where(port.Eq("id", id), port.IsNull("deleted_at")).WithLimit(1)
	if _, err := s.store.Select(ctx, port.TableMembers, q, &rows); err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "member", ID: id}
	}
	return &rows[0], nil
}

// ListFriends returns the active friends attributed to a member.
func (s *MemberService) ListFriends(ctx context.Context, memberID string) ([]domain.Friend, error) {
	ctx, span := memberTracer.Start(ctx, "MemberService.ListFriends")
	defer span.End()

	member, err := s.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}

	q := port.Where(port.ActiveRows(port.Or(
		port.Eq("member_id", member.ID),
		port.Eq("referrer", member.Name),
	))...).OrderBy("created_at", false)

	var rows []domain.Friend
	if _, err := s.store.Select(ctx, port.TableFriends, q, &rows); err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}
	if rows == nil {
		rows = []domain.Friend{}
	}
	return rows, nil
}

// SoftDeleteMember marks a member deleted and deactivates the links it owns.
func (s *MemberService) SoftDeleteMember(ctx context.Context, id string) error {
	ctx, span := memberTracer.Start(ctx, "MemberService.SoftDeleteMember")
	defer span.End()

	if _, err := s.GetMember(ctx, id); err != nil {
		return err
	}
	now := s.now().UTC().Format(time.RFC3339Nano)
	if err := s.store.Update(ctx, port.TableMembers, map[string]any{"deleted_at": now, "updated_at": now}, port.Eq("id", id)); err != nil {
		return fmt.Errorf("soft delete member: %w", err)
	}

	if err := s.store.Update(ctx, port.TableUserLinks,
		map[string]any{"is_active": false, "deleted_at": now},
		port.Eq("member_id", id), port.IsNull("deleted_at")); err != nil {
		s.logger.Warn("deactivate member links failed", zap.String("member_id", id), zap.Error(err))
	}

	s.logger.Info("member soft-deleted", zap.String("member_id", id))
	return nil
}

// SoftDeleteFriend marks a friend deleted and reconciles its owning member.
func (s *MemberService) SoftDeleteFriend(ctx context.Context, id string) error {
	ctx, span := memberTracer.Start(ctx, "MemberService.SoftDeleteFriend")
	defer span.End()

	var rows []domain.Friend
	q := port.Where(port.Eq("id", id), port.IsNull("deleted_at")).WithLimit(1)
	if _, err := s.store.Select(ctx, port.TableFriends, q, &rows); err != nil {
		return fmt.Errorf("get friend: %w", err)
	}
	if len(rows) == 0 {
		return &domain.ErrNotFound{Resource: "friend", ID: id}
	}
	friend := rows[0]

	now := s.now().UTC().Format(time.RFC3339Nano)
	if err := s.store.Update(ctx, port.TableFriends, map[string]any{"deleted_at": now, "updated_at": now}, port.Eq("id", id)); err != nil {
		return fmt.Errorf("soft delete friend: %w", err)
	}

	ownerID := ""
	if friend.MemberID != nil {
		ownerID = *friend.MemberID
	}
	s.reconciler.Reconcile(ctx, friend.Referrer, ownerID)

	s.logger.Info("friend soft-deleted", zap.String("friend_id", id), zap.String("member_id", ownerID))
	return nil
}

// Reconcile recomputes one member's counter on demand.
func (s *MemberService) Reconcile(ctx context.Context, memberID string) (*domain.Member, error) {
	return s.reconciler.ReconcileMember(ctx, memberID)
}

// RecomputeRanking runs the global ranking procedure.
func (s *MemberService) RecomputeRanking(ctx context.Context) error {
	ctx, span := memberTracer.Start(ctx, "MemberService.RecomputeRanking")
	defer span.End()

	if err := s.store.RPC(ctx, port.RPCUpdateCompleteRanking, nil, nil); err != nil {
		return fmt.Errorf("recompute ranking: %w", err)
	}
	s.logger.Info("ranking recomputed")
	return nil
}

// ============================================================
// Reports
// ============================================================

// Summary counts members, friends and members per ranking status. The
// counts run concurrently.
func (s *MemberService) Summary(ctx context.Context, campaign string) (*domain.ReportSummary, error) {
	ctx, span := memberTracer.Start(ctx, "MemberService.Summary")
	defer span.End()

	scoped := func(extra ...port.Filter) []port.Filter {
		if campaign != "" {
			extra = append(extra, port.Eq("campaign", campaign))
		}
		return port.ActiveRows(extra...)
	}

	summary := &domain.ReportSummary{Campaign: campaign}
	counts := []struct {
		table   string
		filters []port.Filter
		into    *int
	}{
		{port.TableMembers, scoped(), &summary.TotalMembers},
		{port.TableFriends, scoped(), &summary.TotalFriends},
		{port.TableMembers, scoped(port.Eq("ranking_status", string(domain.RankingGreen))), &summary.GreenMembers},
		{port.TableMembers, scoped(port.Eq("ranking_status", string(domain.RankingYellow))), &summary.YellowMembers},
		{port.TableMembers, scoped(port.Eq("ranking_status", string(domain.RankingRed))), &summary.RedMembers},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range counts {
		c := c
		g.Go(func() error {
			n, err := countRows(gctx, s.store, c.table, c.filters...)
			if err != nil {
				return err
			}
			*c.into = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("report summary: %w", err)
	}
	return summary, nil
}
