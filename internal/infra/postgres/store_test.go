package postgres

import (
	"testing"

	"github.com/conectados/conectados-api/internal/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSelect_FiltersOrderLimit(t *testing.T) {
	q := port.Where(port.ActiveRows(port.Eq("campaign", "A"))...).
		OrderBy("contracts_completed", true).
		WithLimit(10).
		WithOffset(20)

	sqlText, args, err := buildSelect(port.TableMembers, q)
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT row_to_json(t)::text FROM (SELECT * FROM "members" WHERE "status" = ? AND "deleted_at" IS NULL AND "campaign" = ? ORDER BY "contracts_completed" DESC LIMIT 10 OFFSET 20) t`,
		sqlText)
	assert.Equal(t, []any{"Ativo", "A"}, args)
}

func TestBuildWhere_OrAndIn(t *testing.T) {
	where, args, err := buildWhere([]port.Filter{
		port.Or(port.Eq("phone", "62999990000"), port.ILike("instagram", "joao%")),
		port.In("status", "Ativo", "Inativo"),
	})
	require.NoError(t, err)

	assert.Equal(t, ` WHERE ("phone" = ? OR "instagram" ILIKE ?) AND "status" IN (?, ?)`, where)
	assert.Equal(t, []any{"62999990000", "joao%", "Ativo", "Inativo"}, args)
}

func TestBuildSelect_RejectsUnknownTableAndColumn(t *testing.T) {
	_, _, err := buildSelect("pg_shadow", port.Query{})
	assert.Error(t, err)

	_, _, err = buildSelect(port.TableMembers, port.Where(port.Eq("name; drop table members", "x")))
	assert.Error(t, err)
}

func TestBuildCount(t *testing.T) {
	sqlText, args, err := buildCount(port.TableFriends, []port.Filter{port.Eq("member_id", "m1")})
	require.NoError(t, err)
	assert.Equal(t, `SELECT count(*) FROM "friends" WHERE "member_id" = ?`, sqlText)
	assert.Equal(t, []any{"m1"}, args)
}
