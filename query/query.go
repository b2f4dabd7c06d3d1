// Package query defines the boolean predicates used as FILTER clauses and as
// the base query of a scan.
//
// A Query is a closed union: exactly one of its fields is set. The zero Query
// matches every document.
package query

import (
	"fmt"
	"strings"

	"github.com/hupe1980/searchexec/model"
)

// Doc exposes the field values of one document.
type Doc interface {
	Value(field string) model.Value
}

// Query is a document predicate.
type Query struct {
	All    bool        `json:"all,omitempty" yaml:"all,omitempty"`
	Term   *TermQuery  `json:"term,omitempty" yaml:"term,omitempty"`
	Range  *RangeQuery `json:"range,omitempty" yaml:"range,omitempty"`
	Exists string      `json:"exists,omitempty" yaml:"exists,omitempty"`
	And    []Query     `json:"and,omitempty" yaml:"and,omitempty"`
	Or     []Query     `json:"or,omitempty" yaml:"or,omitempty"`
	Not    *Query      `json:"not,omitempty" yaml:"not,omitempty"`
}

// TermQuery matches documents whose field equals Value.
type TermQuery struct {
	Field string `json:"field" yaml:"field"`
	Value any    `json:"value" yaml:"value"`
}

// RangeQuery matches documents whose field lies within the given bounds.
type RangeQuery struct {
	Field string `json:"field" yaml:"field"`
	GT    any    `json:"gt,omitempty" yaml:"gt,omitempty"`
	GTE   any    `json:"gte,omitempty" yaml:"gte,omitempty"`
	LT    any    `json:"lt,omitempty" yaml:"lt,omitempty"`
	LTE   any    `json:"lte,omitempty" yaml:"lte,omitempty"`
}

func MatchAll() Query                { return Query{All: true} }
func Term(field string, v any) Query { return Query{Term: &TermQuery{Field: field, Value: v}} }
func Exists(field string) Query      { return Query{Exists: field} }
func And(qs ...Query) Query          { return Query{And: qs} }
func Or(qs ...Query) Query           { return Query{Or: qs} }
func Not(q Query) Query              { return Query{Not: &q} }

// Range builds a half-open [gte, lt) range. A nil bound is unbounded.
func Range(field string, gte, lt any) Query {
	return Query{Range: &RangeQuery{Field: field, GTE: gte, LT: lt}}
}

// IsMatchAll reports whether q matches every document.
func (q Query) IsMatchAll() bool {
	return q.Term == nil && q.Range == nil && q.Exists == "" && q.And == nil && q.Or == nil && q.Not == nil
}

// Validate checks that at most one variant is set, recursively.
func (q Query) Validate() error {
	n := 0
	if q.All {
		n++
	}
	if q.Term != nil {
		n++
		if q.Term.Field == "" {
			return fmt.Errorf("term query without field")
		}
	}
	if q.Range != nil {
		n++
		if q.Range.Field == "" {
			return fmt.Errorf("range query without field")
		}
	}
	if q.Exists != "" {
		n++
	}
	if q.And != nil {
		n++
	}
	if q.Or != nil {
		n++
	}
	if q.Not != nil {
		n++
		if err := q.Not.Validate(); err != nil {
			return err
		}
	}
	if n > 1 {
		return fmt.Errorf("query sets %d variants, want at most one", n)
	}
	for _, c := range q.And {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	for _, c := range q.Or {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Matches evaluates q against doc.
func (q Query) Matches(doc Doc) bool {
	switch {
	case q.Term != nil:
		v := doc.Value(q.Term.Field)
		c, ok := compareLiteral(v, q.Term.Value)
		return ok && c == 0
	case q.Range != nil:
		return q.Range.matches(doc.Value(q.Range.Field))
	case q.Exists != "":
		return !doc.Value(q.Exists).IsNull()
	case q.And != nil:
		for _, c := range q.And {
			if !c.Matches(doc) {
				return false
			}
		}
		return true
	case q.Or != nil:
		for _, c := range q.Or {
			if c.Matches(doc) {
				return true
			}
		}
		return false
	case q.Not != nil:
		return !q.Not.Matches(doc)
	default:
		return true
	}
}

func (r *RangeQuery) matches(v model.Value) bool {
	if v.IsNull() {
		return false
	}
	check := func(bound any, ok func(int) bool) bool {
		if bound == nil {
			return true
		}
		c, valid := compareLiteral(v, bound)
		return valid && ok(c)
	}
	return check(r.GT, func(c int) bool { return c > 0 }) &&
		check(r.GTE, func(c int) bool { return c >= 0 }) &&
		check(r.LT, func(c int) bool { return c < 0 }) &&
		check(r.LTE, func(c int) bool { return c <= 0 })
}

func (q Query) String() string {
	switch {
	case q.Term != nil:
		return fmt.Sprintf("%s:%v", q.Term.Field, q.Term.Value)
	case q.Range != nil:
		return fmt.Sprintf("%s:[%v..%v]", q.Range.Field, firstNonNil(q.Range.GTE, q.Range.GT), firstNonNil(q.Range.LTE, q.Range.LT))
	case q.Exists != "":
		return "exists(" + q.Exists + ")"
	case q.And != nil:
		return "(" + join(q.And, " AND ") + ")"
	case q.Or != nil:
		return "(" + join(q.Or, " OR ") + ")"
	case q.Not != nil:
		return "NOT " + q.Not.String()
	default:
		return "*"
	}
}

func join(qs []Query, sep string) string {
	parts := make([]string, len(qs))
	for i, q := range qs {
		parts[i] = q.String()
	}
	return strings.Join(parts, sep)
}

func firstNonNil(a, b any) any {
	if a != nil {
		return a
	}
	return b
}
