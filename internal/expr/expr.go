// Package expr implements the small AND/OR/NOT/size/one/all assertion
// language evaluated against collector buckets by the wait evaluator
// (spec.md §4.2).
package expr

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/blackjack-test/blackjack/internal/match"
)

type kind int

const (
	kindAnd kind = iota
	kindOr
	kindNot
	kindSize
	kindOne
	kindAll
)

// Expr is a tagged-union assertion node. It decodes from the untagged YAML
// form described in spec.md §3 — discriminated by which one of
// and/or/not/size/one/all is present — via UnmarshalJSON (sigs.k8s.io/yaml
// converts YAML to JSON before decoding, so implementing json.Unmarshaler
// is sufficient).
type Expr struct {
	kind kind
	and  []Expr
	or   []Expr
	not  *Expr
	size int
	// pattern holds the one/all comparison value.
	pattern any
}

// And builds a conjunction of sub-expressions.
func And(exprs ...Expr) Expr { return Expr{kind: kindAnd, and: exprs} }

// Or builds a disjunction of sub-expressions.
func Or(exprs ...Expr) Expr { return Expr{kind: kindOr, or: exprs} }

// Not negates a sub-expression.
func Not(e Expr) Expr { return Expr{kind: kindNot, not: &e} }

// Size asserts the observed value count equals n exactly.
func Size(n int) Expr { return Expr{kind: kindSize, size: n} }

// One asserts at least one observed value contains pattern.
func One(pattern any) Expr { return Expr{kind: kindOne, pattern: pattern} }

// All asserts every observed value contains pattern (vacuously true when
// there are no observed values).
func All(pattern any) Expr { return Expr{kind: kindAll, pattern: pattern} }

// UnmarshalJSON discriminates the variant by which key is present in the
// decoded object, per spec.md §3's "YAML form is untagged" requirement.
// When more than one key is present, the first in and/or/not/size/one/all
// order is used and the others are ignored.
func (e *Expr) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch {
	case raw["and"] != nil:
		var list []Expr
		if err := json.Unmarshal(raw["and"], &list); err != nil {
			return fmt.Errorf("expr: decoding and: %w", err)
		}
		e.kind, e.and = kindAnd, list
	case raw["or"] != nil:
		var list []Expr
		if err := json.Unmarshal(raw["or"], &list); err != nil {
			return fmt.Errorf("expr: decoding or: %w", err)
		}
		e.kind, e.or = kindOr, list
	case raw["not"] != nil:
		var inner Expr
		if err := json.Unmarshal(raw["not"], &inner); err != nil {
			return fmt.Errorf("expr: decoding not: %w", err)
		}
		e.kind, e.not = kindNot, &inner
	case raw["size"] != nil:
		var n int
		if err := json.Unmarshal(raw["size"], &n); err != nil {
			return fmt.Errorf("expr: decoding size: %w", err)
		}
		e.kind, e.size = kindSize, n
	case raw["one"] != nil:
		var p any
		if err := json.Unmarshal(raw["one"], &p); err != nil {
			return fmt.Errorf("expr: decoding one: %w", err)
		}
		e.kind, e.pattern = kindOne, p
	case raw["all"] != nil:
		var p any
		if err := json.Unmarshal(raw["all"], &p); err != nil {
			return fmt.Errorf("expr: decoding all: %w", err)
		}
		e.kind, e.pattern = kindAll, p
	default:
		return fmt.Errorf("expr: one of and/or/not/size/one/all must be set")
	}
	return nil
}

// Failure is the structured diagnostic produced when an Expr fails to hold.
// It names the (sub)expression that failed and the input values it was
// evaluated against.
type Failure struct {
	Expr   string
	Values []any
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failed against %v", f.Expr, f.Values)
}

// Assert evaluates e against values, returning nil on success or a Failure
// describing the first (or, for Or, the outermost) unsatisfied condition.
func Assert(e Expr, values []any, env map[string]string) *Failure {
	switch e.kind {
	case kindAnd:
		for _, sub := range e.and {
			if f := Assert(sub, values, env); f != nil {
				return f
			}
		}
		return nil

	case kindOr:
		for _, sub := range e.or {
			if Assert(sub, values, env) == nil {
				return nil
			}
		}
		return &Failure{Expr: e.Display(), Values: values}

	case kindNot:
		if Assert(*e.not, values, env) == nil {
			return &Failure{Expr: e.Display(), Values: values}
		}
		return nil

	case kindSize:
		if len(values) != e.size {
			return &Failure{Expr: e.Display(), Values: []any{len(values)}}
		}
		return nil

	case kindOne:
		for _, v := range values {
			if match.Contains(v, e.pattern, env) {
				return nil
			}
		}
		return &Failure{Expr: e.Display(), Values: values}

	case kindAll:
		if len(values) == 0 {
			return nil
		}
		for _, v := range values {
			if !match.Contains(v, e.pattern, env) {
				return &Failure{Expr: e.Display(), Values: values}
			}
		}
		return nil

	default:
		return &Failure{Expr: "<invalid>", Values: values}
	}
}

// Display renders e the way diagnostics and logs show it:
// AND(a, b), OR(...), NOT(...), "size == n", ANY(<json>), ALL(<json>).
func (e Expr) Display() string {
	switch e.kind {
	case kindAnd:
		return "AND(" + joinDisplay(e.and) + ")"
	case kindOr:
		return "OR(" + joinDisplay(e.or) + ")"
	case kindNot:
		return "NOT(" + e.not.Display() + ")"
	case kindSize:
		return fmt.Sprintf("size == %d", e.size)
	case kindOne:
		return "ANY(" + marshalPattern(e.pattern) + ")"
	case kindAll:
		return "ALL(" + marshalPattern(e.pattern) + ")"
	default:
		return "<invalid>"
	}
}

func joinDisplay(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, sub := range exprs {
		parts[i] = sub.Display()
	}
	return strings.Join(parts, ", ")
}

func marshalPattern(p any) string {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprintf("%v", p)
	}
	return string(b)
}
