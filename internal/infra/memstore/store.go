// Package memstore is an in-process RecordStore used for local development
// (STORE_BACKEND=memory) and as the backing store in tests.
// Rows are kept as decoded JSON objects so filters behave the way they do
// against PostgREST.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/port"

	"github.com/google/uuid"
)

type row = map[string]any

// zeroTime is how an unset time.Time field encodes.
const zeroTime = "0001-01-01T00:00:00Z"

// Procedure is a stored-procedure implementation. It runs with the store lock held.
type Procedure func(tables map[string][]row, params map[string]any) (any, error)

// Store is a thread-safe in-memory RecordStore.
type Store struct {
	mu     sync.RWMutex
	tables map[string][]row
	procs  map[string]Procedure
	now    func() time.Time
}

var _ port.RecordStore = (*Store)(nil)

// New creates an empty store with the ranking recompute procedure registered.
func New() *Store {
	s := &Store{
		tables: make(map[string][]row),
		procs:  make(map[string]Procedure),
		now:    time.Now,
	}
	s.procs[port.RPCUpdateCompleteRanking] = updateCompleteRanking
	return s
}

// RegisterProcedure adds or replaces a stored procedure.
func (s *Store) RegisterProcedure(name string, p Procedure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs[name] = p
}

// Select implements port.RecordStore.
func (s *Store) Select(ctx context.Context, table string, q port.Query, dest any) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]row, 0)
	for _, r := range s.tables[table] {
		ok, err := matchAll(r, q.Filters)
		if err != nil {
			return 0, err
		}
		if ok {
			matched = append(matched, r)
		}
	}

	if len(q.Order) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, o := range q.Order {
				c := compare(matched[i][o.Column], matched[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Descending {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	total := len(matched)
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = matched[:0]
		} else {
			matched = matched[q.Offset:]
		}
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	if err := transcode(matched, dest); err != nil {
		return 0, fmt.Errorf("decode %s: %w", table, err)
	}
	if q.Count {
		return total, nil
	}
	return len(matched), nil
}

// Insert implements port.RecordStore. Missing id, created_at and updated_at are filled in.
func (s *Store) Insert(ctx context.Context, table string, rows any, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	decoded, err := toRows(rows)
	if err != nil {
		return fmt.Errorf("encode %s rows: %w", table, err)
	}

	now := s.now().UTC().Format(time.RFC3339Nano)
	for _, r := range decoded {
		if id, _ := r["id"].(string); id == "" {
			r["id"] = uuid.New().String()
		}
		for _, col := range []string{"created_at", "updated_at"} {
			if v, ok := r[col]; !ok || v == nil || v == zeroTime {
				r[col] = now
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range decoded {
		id := r["id"]
		for _, existing := range s.tables[table] {
			if valueString(existing["id"]) == valueString(id) {
				return &domain.ErrConflict{Message: fmt.Sprintf("duplicate key on %s.id: %v", table, id)}
			}
		}
	}
	s.tables[table] = append(s.tables[table], decoded...)

	if dest == nil {
		return nil
	}
	return transcode(decoded, dest)
}

// Update implements port.RecordStore.
func (s *Store) Update(ctx context.Context, table string, data map[string]any, filters ...port.Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(filters) == 0 {
		return &domain.ErrValidation{Field: "filters", Message: "update without filters is not allowed"}
	}
	patch, err := toRows(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.tables[table] {
		ok, err := matchAll(r, filters)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		for k, v := range patch[0] {
			r[k] = v
		}
	}
	return nil
}

// Delete implements port.RecordStore.
func (s *Store) Delete(ctx context.Context, table string, filters ...port.Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(filters) == 0 {
		return &domain.ErrValidation{Field: "filters", Message: "delete without filters is not allowed"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tables[table][:0]
	for _, r := range s.tables[table] {
		ok, err := matchAll(r, filters)
		if err != nil {
			return err
		}
		if !ok {
			kept = append(kept, r)
		}
	}
	s.tables[table] = kept
	return nil
}

// RPC implements port.RecordStore.
func (s *Store) RPC(ctx context.Context, function string, params map[string]any, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	proc, ok := s.procs[function]
	if !ok {
		s.mu.Unlock()
		return &domain.ErrNotFound{Resource: "function", ID: function}
	}
	out, err := proc(s.tables, params)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if dest == nil || out == nil {
		return nil
	}
	return transcode(out, dest)
}

// Len returns the number of rows in a table.
func (s *Store) Len(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables[table])
}

// updateCompleteRanking assigns ranking_position 1..n to active members ordered by
// contracts_completed desc, created_at asc, and refreshes ranking_status.
func updateCompleteRanking(tables map[string][]row, _ map[string]any) (any, error) {
	active := make([]row, 0)
	for _, r := range tables[port.TableMembers] {
		if valueString(r["status"]) == domain.StatusActive && r["deleted_at"] == nil {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if c := compare(active[i]["contracts_completed"], active[j]["contracts_completed"]); c != 0 {
			return c > 0
		}
		return compare(active[i]["created_at"], active[j]["created_at"]) < 0
	})
	for i, r := range active {
		count := int(toFloat(r["contracts_completed"]))
		r["ranking_position"] = float64(i + 1)
		r["ranking_status"] = string(domain.RankingStatusFor(count))
		r["is_top_performer"] = i < 10 && count > 0
	}
	return nil, nil
}

// ============================================================
// Filter evaluation
// ============================================================

func matchAll(r row, filters []port.Filter) (bool, error) {
	for _, f := range filters {
		ok, err := match(r, f)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func match(r row, f port.Filter) (bool, error) {
	switch f.Kind {
	case port.FilterOr:
		for _, sub := range f.Or {
			ok, err := match(r, sub)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case port.FilterEq:
		v, present := r[f.Column]
		return present && v != nil && valueString(v) == valueString(normalize(f.Value)), nil
	case port.FilterNeq:
		v, present := r[f.Column]
		return present && v != nil && valueString(v) != valueString(normalize(f.Value)), nil
	case port.FilterIsNull:
		return r[f.Column] == nil, nil
	case port.FilterNotNull:
		return r[f.Column] != nil, nil
	case port.FilterILike:
		v := r[f.Column]
		if v == nil {
			return false, nil
		}
		re, err := likePattern(fmt.Sprint(f.Value))
		if err != nil {
			return false, err
		}
		return re.MatchString(valueString(v)), nil
	case port.FilterIn:
		v := r[f.Column]
		if v == nil {
			return false, nil
		}
		for _, candidate := range f.Values {
			if valueString(v) == valueString(normalize(candidate)) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, &domain.ErrValidation{Field: "filter", Message: fmt.Sprintf("unsupported filter kind %d", f.Kind)}
}

// likePattern compiles a SQL LIKE pattern: '%' is any run, '_' any single
// character, and '\\' escapes the next character.
func likePattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?is)^")
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			b.WriteString(".*")
		case r == '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// normalize converts Go filter values into their JSON-decoded equivalents.
func normalize(v any) any {
	switch t := v.(type) {
	case *string:
		if t == nil {
			return nil
		}
		return *t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	}
	return v
}

func valueString(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err == nil {
			return f
		}
	}
	return math.NaN()
}

// compare orders nulls last, numbers numerically, timestamps chronologically
// and everything else as strings.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	fa, aNum := a.(float64)
	fb, bNum := b.(float64)
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	as, bs := valueString(a), valueString(b)
	if ta, err := time.Parse(time.RFC3339Nano, as); err == nil {
		if tb, err := time.Parse(time.RFC3339Nano, bs); err == nil {
			return ta.Compare(tb)
		}
	}
	return strings.Compare(as, bs)
}

// ============================================================
// JSON plumbing
// ============================================================

func toRows(v any) ([]row, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var rows []row
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}
	var single row
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return []row{single}, nil
}

func transcode(src, dest any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// Ping implements the health check of the other backends.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}
