package constraint

import "strings"

// Rule templates for the logic-query compilation path. A template is a
// generic term tree (strings, slices, maps); placeholder terms are strings
// with a leading '?' sigil, e.g. "?min_wage". Substitution with a params
// map yields a concrete rule term tree.

// PlaceholderSigil marks a template parameter.
const PlaceholderSigil = "?"

// CompileTemplate substitutes named parameters into a template term tree.
// Placeholders whose stripped name keys into params are replaced by the
// parameter value; unmatched placeholders are left as-is so that a missing
// parameter surfaces at query time instead of being silently defaulted.
// The template is never mutated; the result shares no mutable state with it.
func CompileTemplate(term any, params map[string]Value) any {
	switch t := term.(type) {
	case string:
		if !strings.HasPrefix(t, PlaceholderSigil) {
			return t
		}
		if v, ok := params[strings.TrimPrefix(t, PlaceholderSigil)]; ok {
			return v
		}
		return t
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = CompileTemplate(el, params)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, el := range t {
			out[k] = CompileTemplate(el, params)
		}
		return out
	default:
		return term
	}
}
