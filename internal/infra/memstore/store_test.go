package memstore_test

import (
	"context"
	"testing"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/infra/memstore"
	"github.com/conectados/conectados-api/internal/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type person struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Score     int     `json:"score"`
	Status    string  `json:"status,omitempty"`
	DeletedAt *string `json:"deleted_at,omitempty"`
	CreatedAt string  `json:"created_at,omitempty"`
}

func seed(t *testing.T, s *memstore.Store, rows ...person) {
	t.Helper()
	require.NoError(t, s.Insert(context.Background(), "people", rows, nil))
}

func names(rows []person) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Name)
	}
	return out
}

func TestInsert_FillsDefaultsAndRejectsDuplicateID(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	var stored []person
	require.NoError(t, s.Insert(ctx, "people", person{Name: "Ana"}, &stored))
	require.Len(t, stored, 1)
	assert.NotEmpty(t, stored[0].ID)
	assert.NotEmpty(t, stored[0].CreatedAt)

	err := s.Insert(ctx, "people", person{ID: stored[0].ID, Name: "Ana again"}, nil)
	var conflict *domain.ErrConflict
	assert.ErrorAs(t, err, &conflict)
	assert.Equal(t, 1, s.Len("people"))
}

func TestSelect_FiltersOrderAndPaging(t *testing.T) {
	s := memstore.New()
	deleted := "2026-01-01T00:00:00Z"
	seed(t, s,
		person{ID: "1", Name: "Ana", Score: 3, Status: "Ativo"},
		person{ID: "2", Name: "Bruno", Score: 10, Status: "Ativo"},
		person{ID: "3", Name: "Carla", Score: 7, Status: "Inativo"},
		person{ID: "4", Name: "Davi", Score: 7, Status: "Ativo", DeletedAt: &deleted},
		person{ID: "5", Name: "Eva", Score: 7, Status: "Ativo"},
	)
	ctx := context.Background()

	var rows []person
	n, err := s.Select(ctx, "people", port.Where(port.ActiveRows()...).OrderBy("score", true), &rows)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"Bruno", "Eva", "Ana"}, names(rows))

	rows = nil
	n, err = s.Select(ctx, "people", port.Query{}.OrderBy("name", false).WithLimit(2).WithOffset(1).WithCount(), &rows)
	require.NoError(t, err)
	assert.Equal(t, 5, n, "count reports the total regardless of limit")
	assert.Equal(t, []string{"Bruno", "Carla"}, names(rows))

	rows = nil
	_, err = s.Select(ctx, "people", port.Where(port.Eq("score", 7), port.Neq("name", "Eva")), &rows)
	require.NoError(t, err)
	assert.Equal(t, []string{"Carla", "Davi"}, names(rows))

	rows = nil
	_, err = s.Select(ctx, "people", port.Where(port.NotNull("deleted_at")), &rows)
	require.NoError(t, err)
	assert.Equal(t, []string{"Davi"}, names(rows))

	rows = nil
	_, err = s.Select(ctx, "people", port.Where(port.In("name", "Ana", "Eva", "Zé")), &rows)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ana", "Eva"}, names(rows))

	rows = nil
	_, err = s.Select(ctx, "people", port.Where(port.Or(port.Eq("name", "Ana"), port.Eq("score", 10))), &rows)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ana", "Bruno"}, names(rows))
}

func TestSelect_ILike(t *testing.T) {
	s := memstore.New()
	seed(t, s,
		person{ID: "1", Name: "Ana Paula"},
		person{ID: "2", Name: "ANA_PAULA"},
		person{ID: "3", Name: "100% Ana"},
	)
	ctx := context.Background()

	tests := []struct {
		pattern string
		want    []string
	}{
		{"ana paula", []string{"Ana Paula"}},
		{"ana%", []string{"Ana Paula", "ANA_PAULA"}},
		{"ana_paula", []string{"Ana Paula", "ANA_PAULA"}},
		{`ana\_paula`, []string{"ANA_PAULA"}},
		{`100\% ana`, []string{"100% Ana"}},
		{"paula", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			var rows []person
			_, err := s.Select(ctx, "people", port.Where(port.ILike("name", tt.pattern)), &rows)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(rows))
		})
	}
}

func TestUpdateAndDelete(t *testing.T) {
	s := memstore.New()
	seed(t, s, person{ID: "1", Name: "Ana", Score: 1}, person{ID: "2", Name: "Bruno", Score: 2})
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, "people", map[string]any{"score": 42}, port.Eq("id", "1")))

	var rows []person
	_, err := s.Select(ctx, "people", port.Where(port.Eq("score", 42)), &rows)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ana"}, names(rows))

	require.NoError(t, s.Delete(ctx, "people", port.Eq("id", "2")))
	assert.Equal(t, 1, s.Len("people"))
}

func TestUpdateAndDelete_RequireFilters(t *testing.T) {
	s := memstore.New()
	seed(t, s, person{ID: "1", Name: "Ana"})
	ctx := context.Background()

	var ve *domain.ErrValidation
	assert.ErrorAs(t, s.Update(ctx, "people", map[string]any{"name": "x"}), &ve)
	assert.ErrorAs(t, s.Delete(ctx, "people"), &ve)
	assert.Equal(t, 1, s.Len("people"))
}

func TestRPC(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	var nf *domain.ErrNotFound
	assert.ErrorAs(t, s.RPC(ctx, "missing_fn", nil, nil), &nf)

	s.RegisterProcedure("echo", func(_ map[string][]map[string]any, params map[string]any) (any, error) {
		return params, nil
	})
	var out map[string]any
	require.NoError(t, s.RPC(ctx, "echo", map[string]any{"x": "y"}, &out))
	assert.Equal(t, map[string]any{"x": "y"}, out)
}

func TestUpdateCompleteRanking(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	members := []domain.Member{
		{ID: "m1", Name: "Old", Status: domain.StatusActive, ContractsCompleted: 5},
		{ID: "m2", Name: "Top", Status: domain.StatusActive, ContractsCompleted: 15},
		{ID: "m3", Name: "Idle", Status: domain.StatusInactive, ContractsCompleted: 50},
		{ID: "m4", Name: "Zero", Status: domain.StatusActive},
	}
	for _, m := range members {
		require.NoError(t, s.Insert(ctx, port.TableMembers, m, nil))
	}

	require.NoError(t, s.RPC(ctx, port.RPCUpdateCompleteRanking, nil, nil))

	var rows []domain.Member
	_, err := s.Select(ctx, port.TableMembers, port.Where(port.NotNull("ranking_position")).OrderBy("ranking_position", false), &rows)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "m2", rows[0].ID)
	assert.Equal(t, domain.RankingGreen, rows[0].RankingStatus)
	assert.True(t, rows[0].IsTopPerformer)
	assert.Equal(t, "m1", rows[1].ID)
	assert.Equal(t, domain.RankingYellow, rows[1].RankingStatus)
	assert.Equal(t, "m4", rows[2].ID)
	assert.Equal(t, domain.RankingRed, rows[2].RankingStatus)
	assert.False(t, rows[2].IsTopPerformer)
}

func TestCancelledContext(t *testing.T) {
	s := memstore.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var rows []person
	_, err := s.Select(ctx, "people", port.Query{}, &rows)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Ping(ctx), context.Canceled)
}
