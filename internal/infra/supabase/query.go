package supabase

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/port"
)

// encodeQuery translates a typed Query into PostgREST query parameters.
func encodeQuery(q port.Query) (url.Values, error) {
	params := url.Values{}
	for _, f := range q.Filters {
		if f.Kind == port.FilterOr {
			expr, err := encodeOr(f.Or)
			if err != nil {
				return nil, err
			}
			params.Add("or", expr)
			continue
		}
		if f.Column == "" {
			return nil, &domain.ErrValidation{Field: "filter", Message: "missing column"}
		}
		op, err := encodeOperator(f, false)
		if err != nil {
			return nil, err
		}
		params.Add(f.Column, op)
	}

	if len(q.Order) > 0 {
		parts := make([]string, 0, len(q.Order))
		for _, o := range q.Order {
			dir := "asc"
			if o.Descending {
				dir = "desc"
			}
			parts = append(parts, o.Column+"."+dir)
		}
		params.Set("order", strings.Join(parts, ","))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	return params, nil
}

// encodeOr renders "(a.eq.1,b.is.null)". Nested or-groups become or(...).
func encodeOr(filters []port.Filter) (string, error) {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		if f.Kind == port.FilterOr {
			inner, err := encodeOr(f.Or)
			if err != nil {
				return "", err
			}
			parts = append(parts, "or"+inner)
			continue
		}
		op, err := encodeOperator(f, true)
		if err != nil {
			return "", err
		}
		parts = append(parts, f.Column+"."+op)
	}
	return "(" + strings.Join(parts, ",") + ")", nil
}

// encodeOperator renders the right-hand side of a filter ("eq.value").
// Inside or-groups values with reserved characters are double-quoted.
func encodeOperator(f port.Filter, nested bool) (string, error) {
	switch f.Kind {
	case port.FilterEq:
		return "eq." + formatValue(f.Value, nested), nil
	case port.FilterNeq:
		return "neq." + formatValue(f.Value, nested), nil
	case port.FilterIsNull:
		return "is.null", nil
	case port.FilterNotNull:
		return "not.is.null", nil
	case port.FilterILike:
		return "ilike." + quoteIf(fmt.Sprint(f.Value), nested), nil
	case port.FilterIn:
		vals := make([]string, 0, len(f.Values))
		for _, v := range f.Values {
			vals = append(vals, formatValue(v, true))
		}
		return "in.(" + strings.Join(vals, ",") + ")", nil
	}
	return "", &domain.ErrValidation{Field: "filter", Message: fmt.Sprintf("unsupported filter kind %d", f.Kind)}
}

func formatValue(v any, nested bool) string {
	var s string
	switch t := v.(type) {
	case nil:
		s = "null"
	case string:
		s = t
	case *string:
		if t == nil {
			s = "null"
		} else {
			s = *t
		}
	case bool:
		s = strconv.FormatBool(t)
	case time.Time:
		s = t.UTC().Format(time.RFC3339Nano)
	default:
		s = fmt.Sprint(t)
	}
	return quoteIf(s, nested)
}

func quoteIf(s string, nested bool) string {
	if nested && strings.ContainsAny(s, ",.:()\" ") {
		return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return s
}
