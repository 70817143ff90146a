package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/infra/cache"
	"github.com/conectados/conectados-api/internal/infra/memstore"
	"github.com/conectados/conectados-api/internal/infra/observability"
	"github.com/conectados/conectados-api/internal/port"
	"github.com/conectados/conectados-api/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testOrigin = "https://conectados.test"

// --- Fixture ---

type fixture struct {
	mem          *memstore.Store
	metrics      *observability.Metrics
	campaigns    *service.CampaignService
	links        *service.LinkService
	validator    *service.DuplicateValidator
	reconciler   *service.ReferralReconciler
	registration *service.RegistrationService
	members      *service.MemberService
	settings     *service.SettingsService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memstore.New()
	return newFixtureWith(t, mem, mem, nil)
}

// newFixtureWith wires every service on store; mem is the memstore behind it
// for assertions.
func newFixtureWith(t *testing.T, mem *memstore.Store, store port.RecordStore, postal port.PostalLookup) *fixture {
	t.Helper()
	metrics := observability.NewMetrics()
	logger := zap.NewNop()

	campaigns := service.NewCampaignService(store, cache.New[*domain.Campaign](time.Minute), metrics, logger)
	links := service.NewLinkService(store, campaigns, testOrigin, logger)
	validator := service.NewDuplicateValidator(store, metrics, logger)
	reconciler := service.NewReferralReconciler(store, metrics, logger)

	return &fixture{
		mem:          mem,
		metrics:      metrics,
		campaigns:    campaigns,
		links:        links,
		validator:    validator,
		reconciler:   reconciler,
		registration: service.NewRegistrationService(store, validator, reconciler, links, campaigns, postal, metrics, logger, 10*time.Millisecond),
		members:      service.NewMemberService(store, reconciler, logger),
		settings:     service.NewSettingsService(store, logger),
	}
}

var seedClock = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

// seedMember inserts an active member, filling id, status and a
// monotonically increasing created_at when unset.
func (f *fixture) seedMember(t *testing.T, m domain.Member) domain.Member {
	t.Helper()
	fillRegistrant(&m)
	require.NoError(t, f.mem.Insert(context.Background(), port.TableMembers, m, nil))
	return m
}

func (f *fixture) seedFriend(t *testing.T, fr domain.Friend) domain.Friend {
	t.Helper()
	fillRegistrant(&fr.Member)
	require.NoError(t, f.mem.Insert(context.Background(), port.TableFriends, fr, nil))
	return fr
}

func (f *fixture) seedLink(t *testing.T, l domain.UserLink) domain.UserLink {
	t.Helper()
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	l.IsActive = true
	require.NoError(t, f.mem.Insert(context.Background(), port.TableUserLinks, l, nil))
	return l
}

func (f *fixture) seedCampaign(t *testing.T, code string, maxMembers int) domain.Campaign {
	t.Helper()
	ctx := context.Background()
	c := domain.Campaign{ID: "camp-" + code, Name: "Campanha " + code, Code: code, IsActive: true}
	if maxMembers > 0 {
		plan := domain.Plan{ID: "plan-" + code, Name: "Plano " + code, MaxMembers: maxMembers, IsActive: true}
		require.NoError(t, f.mem.Insert(ctx, port.TablePlans, plan, nil))
		c.PlanID = &plan.ID
	}
	require.NoError(t, f.mem.Insert(ctx, port.TableCampaigns, c, nil))
	return c
}

func (f *fixture) member(t *testing.T, id string) domain.Member {
	t.Helper()
	var rows []domain.Member
	_, err := f.mem.Select(context.Background(), port.TableMembers, port.Where(port.Eq("id", id)), &rows)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0]
}

func fillRegistrant(m *domain.Member) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Status == "" {
		m.Status = domain.StatusActive
	}
	if m.RankingStatus == "" {
		m.RankingStatus = domain.RankingRed
	}
	if m.CreatedAt.IsZero() {
		seedClock = seedClock.Add(time.Minute)
		m.CreatedAt = seedClock
	}
}

func validRequest() domain.RegistrationRequest {
	return domain.RegistrationRequest{
		Name:            "Maria Silva",
		Phone:           "(11) 98765-4321",
		Instagram:       "@maria.silva",
		CEP:             "01001-000",
		City:            "São Paulo",
		Sector:          "Sé",
		CoupleName:      "João Souza",
		CouplePhone:     "11912345678",
		CoupleInstagram: "joao.souza",
		CoupleCity:      "São Paulo",
		CoupleSector:    "Sé",
	}
}

func ptr[T any](v T) *T { return &v }

// --- Store wrappers ---

var errInjected = errors.New("injected store failure")

// failingStore fails every insert into one table.
type failingStore struct {
	port.RecordStore
	failInsert string
}

func (s *failingStore) Insert(ctx context.Context, table string, rows any, dest any) error {
	if table == s.failInsert {
		return errInjected
	}
	return s.RecordStore.Insert(ctx, table, rows, dest)
}

// laggingStore hides a freshly inserted link from the next hidden reads of user_links.
type laggingStore struct {
	port.RecordStore
	mu       sync.Mutex
	pending  int
	hidden   int
	lagReads int
}

func (s *laggingStore) Insert(ctx context.Context, table string, rows any, dest any) error {
	if err := s.RecordStore.Insert(ctx, table, rows, dest); err != nil {
		return err
	}
	if table == port.TableUserLinks {
		s.mu.Lock()
		s.pending = s.lagReads
		s.mu.Unlock()
	}
	return nil
}

func (s *laggingStore) Select(ctx context.Context, table string, q port.Query, dest any) (int, error) {
	if table == port.TableUserLinks {
		s.mu.Lock()
		hide := s.pending > 0
		if hide {
			s.pending--
			s.hidden++
		}
		s.mu.Unlock()
		if hide {
			return 0, nil
		}
	}
	return s.RecordStore.Select(ctx, table, q, dest)
}

// stubPostal answers every lookup with addr, or err when set.
type stubPostal struct {
	addr  *domain.PostalAddress
	err   error
	calls []string
}

func (p *stubPostal) Lookup(_ context.Context, cep string) (*domain.PostalAddress, error) {
	p.calls = append(p.calls, cep)
	if p.err != nil {
		return nil, p.err
	}
	return p.addr, nil
}

// cappedStore truncates every friends read to maxRows, like a PostgREST
// max-rows setting. Counts still report the full total.
type cappedStore struct {
	port.RecordStore
	maxRows int
}

func (s *cappedStore) Select(ctx context.Context, table string, q port.Query, dest any) (int, error) {
	if table == port.TableFriends && (q.Limit == 0 || q.Limit > s.maxRows) {
		q.Limit = s.maxRows
	}
	return s.RecordStore.Select(ctx, table, q, dest)
}
