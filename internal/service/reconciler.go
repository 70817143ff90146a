package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/infra/observability"
	"github.com/conectados/conectados-api/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var reconcileTracer = otel.Tracer("service/reconciler")

// referrerSuffixes are role labels appended to referrer names by older link flows.
var referrerSuffixes = []string{" - Membro", " - Amigo", " - Administrador", " - Admin"}

// ReferralReconciler recomputes a member's completed-referral counter and
// ranking status from the live friends table.
type ReferralReconciler struct {
	store   port.RecordStore
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewReferralReconciler creates a new reconciler.
func NewReferralReconciler(store port.RecordStore, metrics *observability.Metrics, logger *zap.Logger) *ReferralReconciler {
	return &ReferralReconciler{store: store, metrics: metrics, logger: logger, now: time.Now}
}

// Reconcile resynchronizes the referrer identified by id or, failing that, by
// name. It never fails: errors are logged and swallowed so a mis-attributed
// referral does not affect the registration that triggered it.
func (r *ReferralReconciler) Reconcile(ctx context.Context, referrerName, referrerMemberID string) {
	ctx, span := reconcileTracer.Start(ctx, "ReferralReconciler.Reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("referrer.name", referrerName),
		attribute.String("referrer.member_id", referrerMemberID),
	)

	member, err := r.reconcile(ctx, referrerName, referrerMemberID)
	switch {
	case err != nil:
		r.metrics.IncrReconcile("failed")
		r.logger.Warn("reconcile: failed",
			zap.String("referrer", referrerName),
			zap.String("member_id", referrerMemberID),
			zap.Error(err),
		)
	case member == nil:
		r.metrics.IncrReconcile("skipped")
		r.logger.Info("reconcile: referrer not found",
			zap.String("referrer", referrerName),
			zap.String("member_id", referrerMemberID),
		)
	default:
		r.metrics.IncrReconcile("ok")
	}
}

// ReconcileMember resynchronizes one member by id and returns the updated row.
// Unlike Reconcile it reports failures to the caller.
func (r *ReferralReconciler) ReconcileMember(ctx context.Context, memberID string) (*domain.Member, error) {
	ctx, span := reconcileTracer.Start(ctx, "ReferralReconciler.ReconcileMember")
	defer span.End()
	span.SetAttributes(attribute.String("member.id", memberID))

	member, err := r.reconcile(ctx, "", memberID)
	if err != nil {
		r.metrics.IncrReconcile("failed")
		return nil, err
	}
	if member == nil {
		r.metrics.IncrReconcile("skipped")
		return nil, &domain.ErrNotFound{Resource: "member", ID: memberID}
	}
	r.metrics.IncrReconcile("ok")
	return member, nil
}

// reconcile returns (nil, nil) when the referrer cannot be resolved.
func (r *ReferralReconciler) reconcile(ctx context.Context, referrerName, referrerMemberID string) (*domain.Member, error) {
	member, err := r.resolveReferrer(ctx, referrerName, referrerMemberID)
	if err != nil {
		return nil, fmt.Errorf("resolve referrer: %w", err)
	}
	if member == nil {
		return nil, nil
	}

	count, err := r.countFriends(ctx, member, referrerName)
	if err != nil {
		return nil, fmt.Errorf("count friends: %w", err)
	}

	status := domain.RankingStatusFor(count)
	now := r.now().UTC()
	update := map[string]any{
		"contracts_completed": count,
		"ranking_status":      string(status),
		"updated_at":          now.Format(time.RFC3339Nano),
	}
	if err := r.store.Update(ctx, port.TableMembers, update, port.Eq("id", member.ID)); err != nil {
		return nil, fmt.Errorf("update member counter: %w", err)
	}

	previous := member.ContractsCompleted
	member.ContractsCompleted = count
	member.RankingStatus = status
	member.UpdatedAt = now

	r.logger.Info("reconcile: counter updated",
		zap.String("member_id", member.ID),
		zap.Int("previous", previous),
		zap.Int("contracts_completed", count),
		zap.String("ranking_status", string(status)),
	)

	if err := r.store.RPC(ctx, port.RPCUpdateCompleteRanking, nil, nil); err != nil {
		r.logger.Warn("reconcile: ranking recompute failed", zap.Error(err))
	}
	return member, nil
}

// StripReferrerSuffix removes a trailing role label from a referrer name.
func StripReferrerSuffix(name string) string {
	n := strings.TrimSpace(name)
	for _, suffix := range referrerSuffixes {
		if strings.HasSuffix(n, suffix) {
			return strings.TrimSpace(strings.TrimSuffix(n, suffix))
		}
	}
	return n
}

// resolveReferrer finds the active referrer row. Id wins; names are the
// fallback for referrals recorded before member ids were carried on links.
func (r *ReferralReconciler) resolveReferrer(ctx context.Context, name, memberID string) (*domain.Member, error) {
	if memberID != "" {
		var rows []domain.Member
		q := port.Where(port.ActiveRows(port.Eq("id", memberID))...).WithLimit(1)
		if _, err := r.store.Select(ctx, port.TableMembers, q, &rows); err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, nil
		}
		return &rows[0], nil
	}

	if strings.TrimSpace(name) == "" {
		return nil, nil
	}
	return findMemberByName(ctx, r.store, r.logger, StripReferrerSuffix(name), strings.TrimSpace(name))
}

// findMemberByName looks up an active member by exact bare name, then by a
// case-insensitive match on the original name. When several members share
// the name the oldest wins.
func findMemberByName(ctx context.Context, store port.RecordStore, logger *zap.Logger, bare, original string) (*domain.Member, error) {
	lookups := []port.Filter{port.Eq("name", bare), port.ILike("name", escapeLike(original))}
	for _, f := range lookups {
		var rows []domain.Member
		q := port.Where(port.ActiveRows(f)...).
			OrderBy("created_at", false).
			WithLimit(2)
		if _, err := store.Select(ctx, port.TableMembers, q, &rows); err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			continue
		}
		if len(rows) > 1 {
			logger.Warn("referrer name is ambiguous, using oldest member",
				zap.String("name", original),
				zap.String("member_id", rows[0].ID),
			)
		}
		return &rows[0], nil
	}
	return nil, nil
}

// countFriends counts active friends by member_id, falling back to the
// referrer name for rows that predate the member_id column.
func (r *ReferralReconciler) countFriends(ctx context.Context, member *domain.Member, referrerName string) (int, error) {
	var byID []domain.Friend
	q := port.Where(port.ActiveRows(port.Eq("member_id", member.ID))...).WithLimit(1).WithCount()
	count, err := r.store.Select(ctx, port.TableFriends, q, &byID)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return count, nil
	}

	names := []any{member.Name}
	if original := strings.TrimSpace(referrerName); original != "" && original != member.Name {
		names = append(names, original)
	}
	var byName []domain.Friend
	q = port.Where(port.ActiveRows(port.In("referrer", names...))...).WithLimit(1).WithCount()
	return r.store.Select(ctx, port.TableFriends, q, &byName)
}

// escapeLike quotes LIKE metacharacters so s matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
