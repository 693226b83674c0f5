package backend

import (
	"fmt"
	"slices"
	"strings"
)

// Op is a filter operator.
type Op string

const (
	OpEqual Op = "=="
	OpIn    Op = "in"
)

// Filter restricts a query to documents whose Field matches Value.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Where builds an equality filter.
func Where(field string, value any) Filter {
	return Filter{Field: field, Op: OpEqual, Value: value}
}

// WhereIn builds a membership filter.
func WhereIn(field string, values ...string) Filter {
	return Filter{Field: field, Op: OpIn, Value: values}
}

// Query selects documents from one collection.
type Query struct {
	Collection string
	Where      []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Validate checks that the query is expressible by every provider.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Collection) == "" {
		return fmt.Errorf("query collection is required")
	}
	for _, f := range q.Where {
		if f.Field == "" {
			return fmt.Errorf("filter field is required")
		}
		switch f.Op {
		case OpEqual:
		case OpIn:
			if _, ok := f.Value.([]string); !ok {
				return fmt.Errorf("filter %s: in requires []string, got %T", f.Field, f.Value)
			}
		default:
			return fmt.Errorf("filter %s: unsupported operator %q", f.Field, f.Op)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	return nil
}

// Matches reports whether fields satisfy every filter.
func (q Query) Matches(fields Fields) bool {
	for _, f := range q.Where {
		got := fields.String(f.Field)
		switch f.Op {
		case OpEqual:
			if got != fmt.Sprint(f.Value) {
				return false
			}
		case OpIn:
			values, _ := f.Value.([]string)
			if !slices.Contains(values, got) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Evaluate applies the query's filters, ordering and limit to docs. Documents
// with equal order keys are ordered by id so results are deterministic.
func Evaluate(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if q.Matches(doc.Fields) {
			out = append(out, doc)
		}
	}
	slices.SortStableFunc(out, func(a, b Document) int {
		if q.OrderBy != "" {
			ka, kb := sortKey(a.Fields[q.OrderBy]), sortKey(b.Fields[q.OrderBy])
			if c := strings.Compare(ka, kb); c != 0 {
				if q.Descending {
					return -c
				}
				return c
			}
		}
		return strings.Compare(a.ID, b.ID)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
