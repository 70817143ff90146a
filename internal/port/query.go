package port

// FilterKind enumerates the filter operators a RecordStore understands.
type FilterKind int

const (
	FilterEq FilterKind = iota
	FilterNeq
	FilterIsNull
	FilterNotNull
	FilterILike
	FilterIn
	FilterOr
)

// Filter is one predicate on a column. Or holds sub-filters for FilterOr
// (Column and Value are ignored there). FilterIn takes Values.
type Filter struct {
	Kind   FilterKind
	Column string
	Value  any
	Values []any
	Or     []Filter
}

// Eq builds column = value.
func Eq(column string, value any) Filter { return Filter{Kind: FilterEq, Column: column, Value: value} }

// Neq builds column <> value.
func Neq(column string, value any) Filter { return Filter{Kind: FilterNeq, Column: column, Value: value} }

// IsNull builds column IS NULL.
func IsNull(column string) Filter { return Filter{Kind: FilterIsNull, Column: column} }

// NotNull builds column IS NOT NULL.
func NotNull(column string) Filter { return Filter{Kind: FilterNotNull, Column: column} }

// ILike builds a case-insensitive pattern match. '%' is the wildcard.
func ILike(column, pattern string) Filter {
	return Filter{Kind: FilterILike, Column: column, Value: pattern}
}

// In builds column IN (values...).
func In(column string, values ...any) Filter {
	return Filter{Kind: FilterIn, Column: column, Values: values}
}

// Or builds a disjunction of filters.
func Or(filters ...Filter) Filter { return Filter{Kind: FilterOr, Or: filters} }

// Order sorts results by a column.
type Order struct {
	Column     string
	Descending bool
}

// Query describes a select, update or delete target.
// Limit and Offset are ignored when zero. Count asks the store to report the
// total number of matching rows regardless of Limit.
type Query struct {
	Filters []Filter
	Order   []Order
	Limit   int
	Offset  int
	Count   bool
}

// Where starts a query from filters.
func Where(filters ...Filter) Query { return Query{Filters: filters} }

// OrderBy appends an order clause.
func (q Query) OrderBy(column string, descending bool) Query {
	q.Order = append(q.Order, Order{Column: column, Descending: descending})
	return q
}

// WithLimit sets the limit.
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// WithOffset sets the offset.
func (q Query) WithOffset(n int) Query {
	q.Offset = n
	return q
}

// WithCount requests the total count.
func (q Query) WithCount() Query {
	q.Count = true
	return q
}

// ActiveRows is the common "Ativo and not soft-deleted" predicate.
func ActiveRows(extra ...Filter) []Filter {
	return append([]Filter{Eq("status", "Ativo"), IsNull("deleted_at")}, extra...)
}
