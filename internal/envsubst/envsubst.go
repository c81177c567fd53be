// Package envsubst is the injectable "${VAR}" substitution collaborator
// named in spec.md §6. The runner only ever substitutes the "${NAME}" form;
// a bare "$NAME" is left untouched (Testable Property 3).
package envsubst

import (
	"regexp"
)

var ref = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Substituter replaces "${NAME}" references in a string using an env map.
// Unknown variables leave the original reference unchanged, matching §6's
// "unknown variables leave the original string unchanged" contract.
type Substituter interface {
	Substitute(s string, env map[string]string) string
}

// Default is the package-level Substituter used by callers that don't need
// to inject a fake for testing.
var Default Substituter = DefaultSubstituter{}

// DefaultSubstituter implements Substituter with a single regexp pass.
type DefaultSubstituter struct{}

// Substitute replaces every "${NAME}" occurrence in s whose NAME is present
// in env; references to undefined names are left as-is.
func (DefaultSubstituter) Substitute(s string, env map[string]string) string {
	return ref.ReplaceAllStringFunc(s, func(m string) string {
		name := ref.FindStringSubmatch(m)[1]
		if v, ok := env[name]; ok {
			return v
		}
		return m
	})
}

// Substitute is a convenience wrapper around Default.Substitute.
func Substitute(s string, env map[string]string) string {
	return Default.Substitute(s, env)
}

// SubstituteChecked behaves like Substitute but also reports whether every
// "${NAME}" reference in s resolved against env. Callers that need to treat
// an undefined variable as outright substitution failure (§4.1's "if
// substitution fails, fall back to comparing the original strings
// literally") use this instead of Substitute.
func SubstituteChecked(s string, env map[string]string) (result string, ok bool) {
	ok = true
	result = ref.ReplaceAllStringFunc(s, func(m string) string {
		name := ref.FindStringSubmatch(m)[1]
		if v, found := env[name]; found {
			return v
		}
		ok = false
		return m
	})
	return result, ok
}
