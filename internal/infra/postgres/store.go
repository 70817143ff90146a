// Package postgres provides a RecordStore that talks to the Conectados database
// directly (bypassing PostgREST) using sqlx and lib/pq.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/port"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("postgres")

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var knownTables = map[string]bool{
	port.TableMembers:        true,
	port.TableFriends:        true,
	port.TableCampaigns:      true,
	port.TablePlans:          true,
	port.TableUserLinks:      true,
	port.TableAuthUsers:      true,
	port.TableUsers:          true,
	port.TableSystemSettings: true,
}

// Store is a RecordStore over a *sqlx.DB.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

var _ port.RecordStore = (*Store)(nil)

// Open connects to Postgres with the given DSN.
func Open(ctx context.Context, dsn string, maxConns int, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns / 2)
	}
	return New(db, logger), nil
}

// New wraps an existing connection.
func New(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Select implements port.RecordStore.
func (s *Store) Select(ctx context.Context, table string, q port.Query, dest any) (int, error) {
	ctx, span := tracer.Start(ctx, "Postgres.Select")
	defer span.End()
	span.SetAttributes(attribute.String("table", table))

	sqlText, args, err := buildSelect(table, q)
	if err != nil {
		return 0, err
	}

	var rows []string
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(sqlText), args...); err != nil {
		return 0, s.wrap(table, err)
	}
	if err := json.Unmarshal([]byte("["+strings.Join(rows, ",")+"]"), dest); err != nil {
		return 0, fmt.Errorf("decode %s: %w", table, err)
	}

	if !q.Count {
		return len(rows), nil
	}
	countSQL, countArgs, err := buildCount(table, q.Filters)
	if err != nil {
		return 0, err
	}
	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(countSQL), countArgs...); err != nil {
		return 0, s.wrap(table, err)
	}
	return total, nil
}

// Insert implements port.RecordStore. Multi-row inserts run in one transaction.
func (s *Store) Insert(ctx context.Context, table string, rows any, dest any) error {
	ctx, span := tracer.Start(ctx, "Postgres.Insert")
	defer span.End()
	span.SetAttributes(attribute.String("table", table))

	if err := checkTable(table); err != nil {
		return err
	}
	decoded, err := toRows(rows)
	if err != nil {
		return fmt.Errorf("encode %s rows: %w", table, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.wrap(table, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stored := make([]string, 0, len(decoded))
	for _, r := range decoded {
		cols := make([]string, 0, len(r))
		for k := range r {
			if !identRe.MatchString(k) {
				return &domain.ErrValidation{Field: k, Message: "invalid column name"}
			}
			cols = append(cols, k)
		}
		sort.Strings(cols)

		quoted := make([]string, len(cols))
		marks := make([]string, len(cols))
		args := make([]any, len(cols))
		for i, c := range cols {
			quoted[i] = pq.QuoteIdentifier(c)
			marks[i] = "?"
			args[i] = sqlValue(r[c])
		}
		sqlText := fmt.Sprintf("INSERT INTO %s AS t (%s) VALUES (%s) RETURNING row_to_json(t)::text",
			pq.QuoteIdentifier(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))

		var out string
		if err := tx.GetContext(ctx, &out, tx.Rebind(sqlText), args...); err != nil {
			return s.wrap(table, err)
		}
		stored = append(stored, out)
	}

	if err := tx.Commit(); err != nil {
		return s.wrap(table, err)
	}
	if dest == nil {
		return nil
	}
	return json.Unmarshal([]byte("["+strings.Join(stored, ",")+"]"), dest)
}

// Update implements port.RecordStore.
func (s *Store) Update(ctx context.Context, table string, data map[string]any, filters ...port.Filter) error {
	ctx, span := tracer.Start(ctx, "Postgres.Update")
	defer span.End()
	span.SetAttributes(attribute.String("table", table))

	if err := checkTable(table); err != nil {
		return err
	}
	if len(filters) == 0 {
		return &domain.ErrValidation{Field: "filters", Message: "update without filters is not allowed"}
	}
	if len(data) == 0 {
		return nil
	}

	cols := make([]string, 0, len(data))
	for k := range data {
		if !identRe.MatchString(k) {
			return &domain.ErrValidation{Field: k, Message: "invalid column name"}
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols))
	for i, c := range cols {
		sets[i] = pq.QuoteIdentifier(c) + " = ?"
		args = append(args, sqlValue(data[c]))
	}

	where, whereArgs, err := buildWhere(filters)
	if err != nil {
		return err
	}
	sqlText := fmt.Sprintf("UPDATE %s SET %s%s", pq.QuoteIdentifier(table), strings.Join(sets, ", "), where)

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(sqlText), append(args, whereArgs...)...); err != nil {
		return s.wrap(table, err)
	}
	return nil
}

// Delete implements port.RecordStore.
func (s *Store) Delete(ctx context.Context, table string, filters ...port.Filter) error {
	ctx, span := tracer.Start(ctx, "Postgres.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("table", table))

	if err := checkTable(table); err != nil {
		return err
	}
	if len(filters) == 0 {
		return &domain.ErrValidation{Field: "filters", Message: "delete without filters is not allowed"}
	}

	where, args, err := buildWhere(filters)
	if err != nil {
		return err
	}
	sqlText := fmt.Sprintf("DELETE FROM %s%s", pq.QuoteIdentifier(table), where)
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(sqlText), args...); err != nil {
		return s.wrap(table, err)
	}
	return nil
}

// RPC implements port.RecordStore using named-argument notation.
func (s *Store) RPC(ctx context.Context, function string, params map[string]any, dest any) error {
	ctx, span := tracer.Start(ctx, "Postgres.RPC")
	defer span.End()
	span.SetAttributes(attribute.String("function", function))

	if !identRe.MatchString(function) {
		return &domain.ErrValidation{Field: "function", Message: "invalid function name"}
	}

	names := make([]string, 0, len(params))
	for k := range params {
		if !identRe.MatchString(k) {
			return &domain.ErrValidation{Field: k, Message: "invalid parameter name"}
		}
		names = append(names, k)
	}
	sort.Strings(names)

	named := make([]string, len(names))
	args := make([]any, len(names))
	for i, n := range names {
		named[i] = fmt.Sprintf("%s => ?", pq.QuoteIdentifier(n))
		args[i] = sqlValue(params[n])
	}
	call := fmt.Sprintf("%s(%s)", pq.QuoteIdentifier(function), strings.Join(named, ", "))

	if dest == nil {
		if _, err := s.db.ExecContext(ctx, s.db.Rebind("SELECT "+call), args...); err != nil {
			return s.wrap("rpc/"+function, err)
		}
		return nil
	}

	var out string
	sqlText := fmt.Sprintf("SELECT coalesce(json_agg(r), '[]'::json)::text FROM %s AS r", call)
	if err := s.db.GetContext(ctx, &out, s.db.Rebind(sqlText), args...); err != nil {
		return s.wrap("rpc/"+function, err)
	}
	return json.Unmarshal([]byte(out), dest)
}

func (s *Store) wrap(service string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return &domain.ErrConflict{Message: pqErr.Message}
	}
	s.logger.Warn("postgres: query failed", zap.String("target", service), zap.Error(err))
	return &domain.ErrExternalService{Service: "postgres/" + service, Err: err}
}

// ============================================================
// SQL building
// ============================================================

func checkTable(table string) error {
	if !knownTables[table] {
		return &domain.ErrValidation{Field: "table", Message: "unknown table " + table}
	}
	return nil
}

func buildSelect(table string, q port.Query) (string, []any, error) {
	if err := checkTable(table); err != nil {
		return "", nil, err
	}
	where, args, err := buildWhere(q.Filters)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT row_to_json(t)::text FROM (SELECT * FROM %s%s", pq.QuoteIdentifier(table), where)
	if len(q.Order) > 0 {
		parts := make([]string, 0, len(q.Order))
		for _, o := range q.Order {
			if !identRe.MatchString(o.Column) {
				return "", nil, &domain.ErrValidation{Field: o.Column, Message: "invalid order column"}
			}
			dir := "ASC"
			if o.Descending {
				dir = "DESC"
			}
			parts = append(parts, pq.QuoteIdentifier(o.Column)+" "+dir)
		}
		b.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		b.WriteString(" OFFSET " + strconv.Itoa(q.Offset))
	}
	b.WriteString(") t")
	return b.String(), args, nil
}

func buildCount(table string, filters []port.Filter) (string, []any, error) {
	where, args, err := buildWhere(filters)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT count(*) FROM %s%s", pq.QuoteIdentifier(table), where), args, nil
}

func buildWhere(filters []port.Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	clauses := make([]string, 0, len(filters))
	var args []any
	for _, f := range filters {
		c, a, err := buildPredicate(f)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, c)
		args = append(args, a...)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func buildPredicate(f port.Filter) (string, []any, error) {
	if f.Kind == port.FilterOr {
		if len(f.Or) == 0 {
			return "FALSE", nil, nil
		}
		parts := make([]string, 0, len(f.Or))
		var args []any
		for _, sub := range f.Or {
			c, a, err := buildPredicate(sub)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, c)
			args = append(args, a...)
		}
		return "(" + strings.Join(parts, " OR ") + ")", args, nil
	}

	if !identRe.MatchString(f.Column) {
		return "", nil, &domain.ErrValidation{Field: f.Column, Message: "invalid filter column"}
	}
	col := pq.QuoteIdentifier(f.Column)

	switch f.Kind {
	case port.FilterEq:
		return col + " = ?", []any{sqlValue(f.Value)}, nil
	case port.FilterNeq:
		return col + " <> ?", []any{sqlValue(f.Value)}, nil
	case port.FilterIsNull:
		return col + " IS NULL", nil, nil
	case port.FilterNotNull:
		return col + " IS NOT NULL", nil, nil
	case port.FilterILike:
		return col + " ILIKE ?", []any{sqlValue(f.Value)}, nil
	case port.FilterIn:
		if len(f.Values) == 0 {
			return "FALSE", nil, nil
		}
		marks := make([]string, len(f.Values))
		args := make([]any, len(f.Values))
		for i, v := range f.Values {
			marks[i] = "?"
			args[i] = sqlValue(v)
		}
		return col + " IN (" + strings.Join(marks, ", ") + ")", args, nil
	}
	return "", nil, &domain.ErrValidation{Field: "filter", Message: fmt.Sprintf("unsupported filter kind %d", f.Kind)}
}

// sqlValue converts decoded JSON values into driver arguments. Objects and
// arrays are passed as JSON text for json/jsonb columns.
func sqlValue(v any) any {
	switch t := v.(type) {
	case *string:
		if t == nil {
			return nil
		}
		return *t
	case map[string]any, []any:
		raw, _ := json.Marshal(t)
		return string(raw)
	}
	return v
}

func toRows(v any) ([]map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
		var rows []map[string]any
		err := json.Unmarshal(raw, &rows)
		return rows, err
	}
	var single map[string]any
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return []map[string]any{single}, nil
}
