package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCampaignCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.campaigns.Create(ctx, &domain.Campaign{Name: " Verão 2026 ", Code: " verao "})
	require.NoError(t, err)
	assert.Equal(t, "VERAO", c.Code)
	assert.Equal(t, "Verão 2026", c.Name)
	assert.Equal(t, "#1e40af", c.PrimaryColor)
	assert.Equal(t, "#f59e0b", c.SecondaryColor)
	assert.True(t, c.IsActive)
	assert.NotEmpty(t, c.ID)

	_, err = f.campaigns.Create(ctx, &domain.Campaign{Name: "Outra", Code: "Verao"})
	var conflict *domain.ErrConflict
	assert.ErrorAs(t, err, &conflict)
	assert.Equal(t, 1, f.mem.Len(port.TableCampaigns))
}

func TestCampaignCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.campaigns.Create(ctx, &domain.Campaign{Code: "X"})
	var ve *domain.ErrValidation
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "name", ve.Field)

	_, err = f.campaigns.Create(ctx, &domain.Campaign{Name: "X"})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "code", ve.Field)

	_, err = f.campaigns.Create(ctx, &domain.Campaign{Name: "X", Code: "X", PlanID: ptr("plan-missing")})
	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestCampaignUpdate_InvalidatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCampaign(t, "VERAO", 0)

	cached, err := f.campaigns.GetByCode(ctx, "VERAO")
	require.NoError(t, err)
	assert.Equal(t, "Campanha VERAO", cached.Name)

	updated, err := f.campaigns.Update(ctx, c.ID, map[string]any{"name": "Verão Forte"})
	require.NoError(t, err)
	assert.Equal(t, "Verão Forte", updated.Name)

	again, err := f.campaigns.GetByCode(ctx, "VERAO")
	require.NoError(t, err)
	assert.Equal(t, "Verão Forte", again.Name)
}

func TestCampaignUpdate_RejectsImmutableColumns(t *testing.T) {
	f := newFixture(t)
	c := f.seedCampaign(t, "VERAO", 0)

	_, err := f.campaigns.Update(context.Background(), c.ID, map[string]any{"code": "INVERNO"})

	var ve *domain.ErrValidation
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "code", ve.Field)
}

func TestCampaignDeactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCampaign(t, "VERAO", 0)
	f.seedCampaign(t, "INVERNO", 0)

	require.NoError(t, f.campaigns.Deactivate(ctx, c.ID))

	active, err := f.campaigns.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "INVERNO", active[0].Code)

	all, err := f.campaigns.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCheckCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	limited := f.seedCampaign(t, "VERAO", 2)
	f.seedCampaign(t, "LIVRE", 0)

	assert.NoError(t, f.campaigns.CheckCapacity(ctx, ""))
	assert.NoError(t, f.campaigns.CheckCapacity(ctx, "LIVRE"))

	// A code with no campaign row has no plan to enforce.
	assert.NoError(t, f.campaigns.CheckCapacity(ctx, "NOPE"))

	// Legacy rows carry only the code; deleted and inactive rows do not count.
	f.seedMember(t, domain.Member{Name: "A", Campaign: limited.Code, CampaignID: &limited.ID})
	f.seedMember(t, domain.Member{Name: "B", Campaign: limited.Code, DeletedAt: ptr(time.Now())})
	f.seedMember(t, domain.Member{Name: "C", Campaign: limited.Code, Status: domain.StatusInactive})
	assert.NoError(t, f.campaigns.CheckCapacity(ctx, limited.Code))

	f.seedMember(t, domain.Member{Name: "D", Campaign: limited.Code})
	var capErr *domain.ErrCapacity
	require.ErrorAs(t, f.campaigns.CheckCapacity(ctx, limited.Code), &capErr)
	assert.Equal(t, domain.ErrCapacity{Campaign: "VERAO", Limit: 2, Current: 2}, *capErr)
}

func TestCampaignStats(t *testing.T) {
	f := newFixture(t)
	c := f.seedCampaign(t, "VERAO", 3)
	f.seedMember(t, domain.Member{Name: "A", Campaign: c.Code, CampaignID: &c.ID})
	f.seedMember(t, domain.Member{Name: "B", Campaign: c.Code})
	f.seedMember(t, domain.Member{Name: "C", Campaign: "OUTRA"})
	f.seedFriend(t, domain.Friend{Member: domain.Member{Name: "F", Campaign: c.Code}})

	stats, err := f.campaigns.Stats(context.Background(), "VERAO")

	require.NoError(t, err)
	assert.Equal(t, 2, stats.ActiveMembers)
	assert.Equal(t, 1, stats.ActiveFriends)
	assert.Equal(t, 3, stats.MemberLimit)
	assert.False(t, stats.AtCapacity)
	require.NotNil(t, stats.Plan)
	assert.Equal(t, "plan-VERAO", stats.Plan.ID)
}

func TestListPlans_ActiveByPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, p := range []domain.Plan{
		{ID: "p-pro", Name: "Pro", Price: 99.9, MaxMembers: 500, IsActive: true},
		{ID: "p-free", Name: "Free", Price: 0, MaxMembers: 20, IsActive: true},
		{ID: "p-old", Name: "Old", Price: 10, IsActive: false},
	} {
		require.NoError(t, f.mem.Insert(ctx, port.TablePlans, p, nil))
	}

	plans, err := f.campaigns.ListPlans(ctx)

	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "p-free", plans[0].ID)
	assert.Equal(t, "p-pro", plans[1].ID)
}
