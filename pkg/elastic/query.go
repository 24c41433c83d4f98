package elastic

import (
	"github.com/Vaayujeet/encore/pkg/types"
)

// Query is a JSON query fragment.
type Query = map[string]any

// Term matches the exact keyword value of a field.
func Term(field string, value any) Query {
	return Query{"term": Query{field + ".keyword": value}}
}

// TermCI matches a keyword value ignoring case. Asset identifiers arrive
// in whatever casing the monitor tool uses.
func TermCI(field, value string) Query {
	return Query{"term": Query{field + ".keyword": Query{
		"value":            value,
		"case_insensitive": true,
	}}}
}

// Exists matches documents that carry the field.
func Exists(field string) Query {
	return Query{"exists": Query{"field": field}}
}

// RangeLTE matches field values at or before the bound.
func RangeLTE(field string, bound any) Query {
	return Query{"range": Query{field: Query{"lte": bound}}}
}

// SortBy builds one sort clause. order is "asc" or "desc".
func SortBy(field, order string) Query {
	return Query{field: Query{"order": order}}
}

// Bool accumulates clauses for a bool query.
type Bool struct {
	must      []Query
	mustNot   []Query
	should    []Query
	minShould int
}

// NewBool returns an empty bool query builder.
func NewBool() *Bool {
	return &Bool{}
}

// Must adds required clauses.
func (b *Bool) Must(clauses ...Query) *Bool {
	b.must = append(b.must, clauses...)
	return b
}

// MustNot adds excluded clauses.
func (b *Bool) MustNot(clauses ...Query) *Bool {
	b.mustNot = append(b.mustNot, clauses...)
	return b
}

// Should adds optional clauses and requires at least one to match.
func (b *Bool) Should(clauses ...Query) *Bool {
	b.should = append(b.should, clauses...)
	b.minShould = 1
	return b
}

// Build assembles the bool query.
func (b *Bool) Build() Query {
	inner := Query{}
	if len(b.must) > 0 {
		inner["must"] = b.must
	}
	if len(b.mustNot) > 0 {
		inner["must_not"] = b.mustNot
	}
	if len(b.should) > 0 {
		inner["should"] = b.should
		inner["minimum_should_match"] = b.minShould
	}
	return Query{"bool": inner}
}

// StatusShould returns one should clause per status, so a query can match
// any of them.
func StatusShould(statuses []types.EventStatus) []Query {
	clauses := make([]Query, 0, len(statuses))
	for _, s := range statuses {
		clauses = append(clauses, Term(types.FieldEventStatus, string(s)))
	}
	return clauses
}
