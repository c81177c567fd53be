// Package match implements the deep JSON containment relation used by the
// wait/assertion evaluator (spec.md §4.1).
package match

import (
	"reflect"

	"github.com/blackjack-test/blackjack/internal/envsubst"
)

// Contains decides whether input structurally "contains" pattern.
//
//   - objects: every key of pattern must exist in input with a value that
//     contains the pattern value.
//   - arrays: pattern is a sub-multiset of input matched element-wise by
//     containment (not identity); an empty pattern array always matches.
//   - strings: "${VAR}" references in pattern are substituted from env
//     before an exact-equality comparison; if any reference fails to
//     resolve, input and pattern are compared literally instead.
//   - everything else: deep equality, with the special case that a nil
//     pattern and nil input are equal.
//
// Mismatched types (object vs scalar, array vs object, ...) never match.
func Contains(input, pattern any, env map[string]string) bool {
	if pattern == nil && input == nil {
		return true
	}

	switch p := pattern.(type) {
	case map[string]any:
		in, ok := input.(map[string]any)
		if !ok {
			return false
		}
		for k, pv := range p {
			iv, present := in[k]
			if !present {
				return false
			}
			if !Contains(iv, pv, env) {
				return false
			}
		}
		return true

	case []any:
		in, ok := input.([]any)
		if !ok {
			return false
		}
		for _, pe := range p {
			if !anyElementContains(in, pe, env) {
				return false
			}
		}
		return true

	case string:
		in, ok := input.(string)
		if !ok {
			return false
		}
		substituted, resolved := envsubst.SubstituteChecked(p, env)
		if resolved {
			return substituted == in
		}
		return p == in

	default:
		return reflect.DeepEqual(input, pattern)
	}
}

func anyElementContains(haystack []any, needle any, env map[string]string) bool {
	for _, h := range haystack {
		if Contains(h, needle, env) {
			return true
		}
	}
	return false
}
