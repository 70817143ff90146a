package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/infra/memstore"
	"github.com/conectados/conectados-api/internal/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	membersSettings = domain.SystemSettings{MemberLinksType: domain.LinkTypeMembers}
	friendsSettings = domain.SystemSettings{MemberLinksType: domain.LinkTypeFriends}
)

func friends(t *testing.T, mem *memstore.Store) []domain.Friend {
	t.Helper()
	var rows []domain.Friend
	_, err := mem.Select(context.Background(), port.TableFriends, port.Query{}, &rows)
	require.NoError(t, err)
	return rows
}

func assertNoWrites(t *testing.T, mem *memstore.Store, links int) {
	t.Helper()
	assert.Zero(t, mem.Len(port.TableMembers), "members")
	assert.Zero(t, mem.Len(port.TableFriends), "friends")
	assert.Zero(t, mem.Len(port.TableUsers), "users")
	assert.Zero(t, mem.Len(port.TableAuthUsers), "auth_users")
	assert.Equal(t, links, mem.Len(port.TableUserLinks), "user_links")
}

// --- Validation ---

func TestRegister_InvalidFormWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.seedLink(t, domain.UserLink{LinkID: "link-ana", LinkType: domain.LinkTypeMembers})

	req := validRequest()
	req.Phone = "123"
	req.Instagram = "maria silva"

	_, err := f.registration.Register(context.Background(), "link-ana", &req, membersSettings)

	var fe *domain.ErrFieldErrors
	require.ErrorAs(t, err, &fe)
	assert.False(t, fe.Duplicate)
	assert.Contains(t, fe.Fields, "phone")
	assert.Contains(t, fe.Fields, "instagram")
	assertNoWrites(t, f.mem, 1)
}

func TestRegister_InactiveLink(t *testing.T) {
	f := newFixture(t)
	f.seedLink(t, domain.UserLink{LinkID: "link-ana", LinkType: domain.LinkTypeFriends})
	require.NoError(t, f.links.Deactivate(context.Background(), "link-ana"))

	req := validRequest()
	_, err := f.registration.Register(context.Background(), "link-ana", &req, membersSettings)

	var inactive *domain.ErrLinkInactive
	assert.ErrorAs(t, err, &inactive)
	assertNoWrites(t, f.mem, 1)
}

func TestRegister_SameCampaignDuplicateRejected(t *testing.T) {
	f := newFixture(t)
	f.seedMember(t, domain.Member{Name: "Maria S.", Phone: "11987654321", Instagram: "maria.silva", Campaign: "A"})
	f.seedLink(t, domain.UserLink{LinkID: "link-a", LinkType: domain.LinkTypeFriends, Campaign: "A"})

	req := validRequest()
	_, err := f.registration.Register(context.Background(), "link-a", &req, membersSettings)

	var fe *domain.ErrFieldErrors
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Duplicate)
	assert.Equal(t, "Esta dupla já está cadastrada nesta campanha", fe.Fields["phone"])
	assert.Zero(t, f.mem.Len(port.TableFriends))
}

func TestRegister_CrossCampaignSucceedsWithWarnings(t *testing.T) {
	f := newFixture(t)
	f.seedMember(t, domain.Member{Name: "Maria S.", Phone: "11987654321", Instagram: "maria.silva", Campaign: "A"})
	f.seedLink(t, domain.UserLink{LinkID: "link-b", LinkType: domain.LinkTypeFriends, Campaign: "B"})

	req := validRequest()
	res, err := f.registration.Register(context.Background(), "link-b", &req, membersSettings)

	require.NoError(t, err)
	assert.Equal(t, domain.ResultFriend, res.Kind)
	assert.Equal(t, "Estes dados já estão cadastrados na campanha A", res.Warnings["phone"])
	assert.Equal(t, 1, f.mem.Len(port.TableFriends))
}

// --- Friends path ---

func TestRegister_FriendAttributedAndReconciled(t *testing.T) {
	f := newFixture(t)
	owner := f.seedMember(t, domain.Member{Name: "Carla Dias", Phone: "11955554444", Instagram: "carla.dias"})
	f.seedLink(t, domain.UserLink{LinkID: "link-carla", LinkType: domain.LinkTypeFriends, ReferrerName: "Carla Dias", MemberID: &owner.ID})

	req := validRequest()
	res, err := f.registration.Register(context.Background(), "link-carla", &req, membersSettings)

	require.NoError(t, err)
	assert.Equal(t, domain.ResultFriend, res.Kind)
	assert.Equal(t, "Cadastro realizado com sucesso! Obrigado por fazer parte.", res.Message)
	assert.Empty(t, res.Username)
	assert.Empty(t, res.LinkID)

	rows := friends(t, f.mem)
	require.Len(t, rows, 1)
	fr := rows[0]
	assert.Equal(t, res.ID, fr.ID)
	require.NotNil(t, fr.MemberID)
	assert.Equal(t, owner.ID, *fr.MemberID)
	assert.Equal(t, "Carla Dias", fr.Referrer)
	assert.Equal(t, "11987654321", fr.Phone)
	assert.Equal(t, "maria.silva", fr.Instagram)
	assert.Equal(t, domain.StatusActive, fr.Status)

	updated := f.member(t, owner.ID)
	assert.Equal(t, 1, updated.ContractsCompleted)
	assert.Equal(t, domain.RankingYellow, updated.RankingStatus)

	link, err := f.links.Get(context.Background(), "link-carla")
	require.NoError(t, err)
	assert.Equal(t, 1, link.RegistrationCount)

	s := f.metrics.Snapshot()
	assert.Equal(t, int64(1), s.FriendsRegistered)
	assert.Equal(t, int64(1), s.ReconcileOK)
	assert.Equal(t, 1, f.mem.Len(port.TableMembers), "the friends path creates no member row")
}

func TestRegister_EmptyLinkTypeUsesSettings(t *testing.T) {
	f := newFixture(t)
	f.seedLink(t, domain.UserLink{LinkID: "link-ana", ReferrerName: "Ana"})

	req := validRequest()
	res, err := f.registration.Register(context.Background(), "link-ana", &req, friendsSettings)

	require.NoError(t, err)
	assert.Equal(t, domain.ResultFriend, res.Kind)
	assert.Equal(t, 1, f.mem.Len(port.TableFriends))
	assert.Zero(t, f.mem.Len(port.TableMembers))
}

// --- Members path ---

func TestRegister_MemberCreatesAccountAndLink(t *testing.T) {
	f := newFixture(t)
	owner := f.seedMember(t, domain.Member{Name: "Ana Paula", Phone: "11955554444", Instagram: "ana.paula"})
	f.seedLink(t, domain.UserLink{LinkID: "link-ana-paula", LinkType: domain.LinkTypeMembers, ReferrerName: "Ana Paula - Membro"})

	req := validRequest()
	res, err := f.registration.Register(context.Background(), "link-ana-paula", &req, friendsSettings)

	require.NoError(t, err)
	assert.Equal(t, domain.ResultMember, res.Kind)
	assert.Equal(t, "Cadastro realizado com sucesso! Compartilhe seu link para convidar outras pessoas.", res.Message)
	assert.Equal(t, "link-maria-silva", res.LinkID)
	assert.Equal(t, testOrigin+"/cadastro/link-maria-silva", res.LinkURL)
	assert.Equal(t, "maria.silva", res.Username)
	assert.Len(t, res.Password, 10)

	m := f.member(t, res.ID)
	assert.Equal(t, "Maria Silva", m.Name)
	assert.Equal(t, "Ana Paula", m.Referrer)
	require.NotNil(t, m.ReferrerID)
	assert.Equal(t, owner.ID, *m.ReferrerID)
	assert.Equal(t, domain.RankingRed, m.RankingStatus)
	assert.Equal(t, "joao.souza", m.CoupleInstagram)

	var accounts []domain.AuthUser
	_, err = f.mem.Select(context.Background(), port.TableAuthUsers, port.Where(port.Eq("username", "maria.silva")), &accounts)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, domain.RoleMember, accounts[0].Role)
	assert.NotEqual(t, res.Password, accounts[0].PasswordHash)

	created, err := f.links.Get(context.Background(), "link-maria-silva")
	require.NoError(t, err)
	assert.Equal(t, domain.LinkTypeFriends, created.LinkType, "new links follow the settings link type")
	assert.Equal(t, accounts[0].ID, created.UserID)
	require.NotNil(t, created.MemberID)
	assert.Equal(t, res.ID, *created.MemberID)

	assert.Equal(t, 1, f.mem.Len(port.TableUsers))
	assert.Equal(t, int64(1), f.metrics.Snapshot().MembersRegistered)
}

func TestRegister_UsernameCollisionUsesPhoneSuffix(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mem.Insert(context.Background(), port.TableAuthUsers,
		domain.AuthUser{ID: "u-existing", Username: "maria.silva", Role: domain.RoleMember}, nil))
	f.seedLink(t, domain.UserLink{LinkID: "link-x", LinkType: domain.LinkTypeMembers})

	req := validRequest()
	res, err := f.registration.Register(context.Background(), "link-x", &req, membersSettings)

	require.NoError(t, err)
	assert.Equal(t, "maria.silva4321", res.Username)
}

func TestRegister_CapacityReached(t *testing.T) {
	tests := []struct {
		name  string
		limit int
	}{
		{"single slot", 1},
		{"plan of 25 full", 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.seedCampaign(t, "VERAO", tt.limit)
			for i := 0; i < tt.limit; i++ {
				f.seedMember(t, domain.Member{
					Name:       fmt.Sprintf("Membro %02d", i),
					Phone:      fmt.Sprintf("119000000%02d", i),
					Instagram:  fmt.Sprintf("membro%02d", i),
					Campaign:   c.Code,
					CampaignID: &c.ID,
				})
			}
			f.seedLink(t, domain.UserLink{LinkID: "link-verao", LinkType: domain.LinkTypeMembers, Campaign: c.Code, CampaignID: &c.ID})

			req := validRequest()
			_, err := f.registration.Register(context.Background(), "link-verao", &req, membersSettings)

			var capErr *domain.ErrCapacity
			require.ErrorAs(t, err, &capErr)
			assert.Equal(t, tt.limit, capErr.Limit)
			assert.Equal(t, tt.limit, capErr.Current)
			assert.Equal(t, tt.limit, f.mem.Len(port.TableMembers))
			assert.Zero(t, f.mem.Len(port.TableAuthUsers))
			assert.Zero(t, f.mem.Len(port.TableUsers))
			assert.Equal(t, 1, f.mem.Len(port.TableUserLinks))
			assert.Equal(t, int64(1), f.metrics.Snapshot().CapacityRejected)
		})
	}
}

func TestRegister_UnregisteredCampaignHasNoLimit(t *testing.T) {
	tests := []struct {
		linkType string
		want     string
	}{
		{domain.LinkTypeMembers, domain.ResultMember},
		{domain.LinkTypeFriends, domain.ResultFriend},
	}
	for _, tt := range tests {
		t.Run(tt.linkType, func(t *testing.T) {
			f := newFixture(t)
			owner := f.seedMember(t, domain.Member{Name: "Carla Dias", Phone: "11955554444", Instagram: "carla.dias", Campaign: "LEGADO"})
			f.seedLink(t, domain.UserLink{
				LinkID: "link-legado", LinkType: tt.linkType, Campaign: "LEGADO",
				UserID: "user-carla", MemberID: &owner.ID, ReferrerName: owner.Name,
			})

			req := validRequest()
			res, err := f.registration.Register(context.Background(), "link-legado", &req, membersSettings)

			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Kind)
			assert.Zero(t, f.metrics.Snapshot().CapacityRejected)
		})
	}
}

func TestRegister_LinkFailureRollsBackMember(t *testing.T) {
	mem := memstore.New()
	f := newFixtureWith(t, mem, &failingStore{RecordStore: mem, failInsert: port.TableUserLinks}, nil)
	f.seedLink(t, domain.UserLink{LinkID: "link-x", LinkType: domain.LinkTypeMembers})

	req := validRequest()
	_, err := f.registration.Register(context.Background(), "link-x", &req, membersSettings)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errInjected))
	assertNoWrites(t, mem, 1)
	assert.Equal(t, int64(1), f.metrics.Snapshot().RegistrationsFailed)
}

func TestRegister_MirrorFailureIsNotFatal(t *testing.T) {
	mem := memstore.New()
	f := newFixtureWith(t, mem, &failingStore{RecordStore: mem, failInsert: port.TableUsers}, nil)
	f.seedLink(t, domain.UserLink{LinkID: "link-x", LinkType: domain.LinkTypeMembers})

	req := validRequest()
	res, err := f.registration.Register(context.Background(), "link-x", &req, membersSettings)

	require.NoError(t, err)
	assert.Equal(t, domain.ResultMember, res.Kind)
	assert.Equal(t, 1, mem.Len(port.TableMembers))
	assert.Zero(t, mem.Len(port.TableUsers))
	assert.Equal(t, 1, mem.Len(port.TableAuthUsers))
}

func TestRegister_WaitsForLinkReadback(t *testing.T) {
	mem := memstore.New()
	lag := &laggingStore{RecordStore: mem, lagReads: 1}
	f := newFixtureWith(t, mem, lag, nil)
	f.seedLink(t, domain.UserLink{LinkID: "link-x", LinkType: domain.LinkTypeMembers})

	req := validRequest()
	res, err := f.registration.Register(context.Background(), "link-x", &req, membersSettings)

	require.NoError(t, err)
	assert.Equal(t, "link-maria-silva", res.LinkID)
	assert.Equal(t, 1, lag.hidden)
	assert.Equal(t, 2, mem.Len(port.TableUserLinks))
}

// --- Address completion ---

func TestRegister_PostalLookupFillsAddress(t *testing.T) {
	mem := memstore.New()
	postal := &stubPostal{addr: &domain.PostalAddress{CEP: "20040020", City: "Rio de Janeiro", Sector: "Centro"}}
	f := newFixtureWith(t, mem, mem, postal)
	f.seedLink(t, domain.UserLink{LinkID: "link-x", LinkType: domain.LinkTypeFriends})

	req := validRequest()
	req.CoupleCity = ""
	req.CoupleSector = ""
	_, err := f.registration.Register(context.Background(), "link-x", &req, membersSettings)

	require.NoError(t, err)
	assert.Equal(t, []string{"01001-000"}, postal.calls)
	rows := friends(t, mem)
	require.Len(t, rows, 1)
	assert.Equal(t, "Rio de Janeiro", rows[0].City)
	assert.Equal(t, "Centro", rows[0].Sector)
	assert.Equal(t, "Rio de Janeiro", rows[0].CoupleCity)
	assert.Equal(t, "Centro", rows[0].CoupleSector)
}

func TestRegister_PostalFailureKeepsSubmittedAddress(t *testing.T) {
	mem := memstore.New()
	postal := &stubPostal{err: &domain.ErrExternalService{Service: "viacep", Err: errInjected}}
	f := newFixtureWith(t, mem, mem, postal)
	f.seedLink(t, domain.UserLink{LinkID: "link-x", LinkType: domain.LinkTypeFriends})

	req := validRequest()
	_, err := f.registration.Register(context.Background(), "link-x", &req, membersSettings)

	require.NoError(t, err)
	rows := friends(t, mem)
	require.Len(t, rows, 1)
	assert.Equal(t, "São Paulo", rows[0].City)
	assert.Equal(t, "Sé", rows[0].Sector)
}
