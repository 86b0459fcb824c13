package predicate

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/edgecomet/imposter/pkg/types"
)

// ObjectPredicateKind selects which object-predicate variant a compiled
// ObjectPredicate enforces.
type ObjectPredicateKind int

const (
	ObjEquals ObjectPredicateKind = iota
	ObjDeepEquals
	ObjContains
	ObjMatches
)

// objectValue is a parsed-once mirror of the pattern a body predicate was
// declared with: maps and arrays recurse, scalars are pre-stringified (and,
// for ObjMatches, pre-compiled into a regex) so nothing is re-parsed or
// re-compiled per request.
type objectValue struct {
	isMap bool
	isArr bool
	m     map[string]*objectValue
	a     []*objectValue
	s     string
	re    *regexp.Regexp
}

func compileObjectValue(v any, kind ObjectPredicateKind, caseInsensitive bool) (*objectValue, error) {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]*objectValue, len(t))
		for k, raw := range t {
			cv, err := compileObjectValue(raw, kind, caseInsensitive)
			if err != nil {
				return nil, err
			}
			m[k] = cv
		}
		return &objectValue{isMap: true, m: m}, nil
	case []any:
		arr := make([]*objectValue, len(t))
		for i, raw := range t {
			cv, err := compileObjectValue(raw, kind, caseInsensitive)
			if err != nil {
				return nil, err
			}
			arr[i] = cv
		}
		return &objectValue{isArr: true, a: arr}, nil
	default:
		s := valueToString(v)
		ov := &objectValue{s: s}
		if kind == ObjMatches {
			pattern := s
			if caseInsensitive {
				pattern = "(?i)" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, err
			}
			ov.re = re
		}
		return ov, nil
	}
}

// ObjectPredicate matches a field's parsed JSON value against a pattern
// built from the predicate's declared value. It is built once, at rule
// compile time.
type ObjectPredicate struct {
	kind            ObjectPredicateKind
	value           *objectValue
	caseInsensitive bool
}

// CompileObjectPredicate parses raw (a map[string]any or []any produced by
// the config loader's generic JSON/YAML decode) into a compiled pattern.
// The only failure mode is an invalid regex inside an ObjMatches pattern.
func CompileObjectPredicate(kind ObjectPredicateKind, raw any, caseInsensitive bool) (*ObjectPredicate, error) {
	v, err := compileObjectValue(raw, kind, caseInsensitive)
	if err != nil {
		return nil, fmt.Errorf("predicate: object pattern regex failed to compile: %w", err)
	}
	return &ObjectPredicate{kind: kind, value: v, caseInsensitive: caseInsensitive}, nil
}

// Matches parses actualRaw as JSON and evaluates it against the compiled
// pattern. Invalid JSON never matches, regardless of kind.
func (p *ObjectPredicate) Matches(actualRaw []byte) bool {
	var actual any
	if err := json.Unmarshal(actualRaw, &actual); err != nil {
		return false
	}
	switch p.kind {
	case ObjEquals:
		return p.matchSubset(p.value, actual, false)
	case ObjContains:
		return p.matchSubset(p.value, actual, true)
	case ObjDeepEquals:
		return p.matchDeepEquals(p.value, actual)
	case ObjMatches:
		return p.matchRegexes(p.value, actual)
	default:
		return false
	}
}

// matchSubset implements Equals (substr=false) and Contains (substr=true):
// every key/index the pattern declares must be present in actual and match;
// extra keys/elements in actual are ignored.
func (p *ObjectPredicate) matchSubset(pattern *objectValue, actual any, substr bool) bool {
	switch {
	case pattern.isMap:
		am, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, pv := range pattern.m {
			av, ok := am[k]
			if !ok || !p.matchSubset(pv, av, substr) {
				return false
			}
		}
		return true
	case pattern.isArr:
		aa, ok := actual.([]any)
		if !ok || len(aa) < len(pattern.a) {
			return false
		}
		for i, pv := range pattern.a {
			if !p.matchSubset(pv, aa[i], substr) {
				return false
			}
		}
		return true
	default:
		av := valueToString(actual)
		if substr {
			return p.scalarContains(av, pattern.s)
		}
		return p.scalarEquals(av, pattern.s)
	}
}

// matchDeepEquals requires an exact structural match: same keys (no extras
// at any level) and same array lengths.
func (p *ObjectPredicate) matchDeepEquals(pattern *objectValue, actual any) bool {
	switch {
	case pattern.isMap:
		am, ok := actual.(map[string]any)
		if !ok || len(am) != len(pattern.m) {
			return false
		}
		for k, pv := range pattern.m {
			av, ok := am[k]
			if !ok || !p.matchDeepEquals(pv, av) {
				return false
			}
		}
		return true
	case pattern.isArr:
		aa, ok := actual.([]any)
		if !ok || len(aa) != len(pattern.a) {
			return false
		}
		for i, pv := range pattern.a {
			if !p.matchDeepEquals(pv, aa[i]) {
				return false
			}
		}
		return true
	default:
		return p.scalarEquals(valueToString(actual), pattern.s)
	}
}

// matchRegexes implements Matches: every pattern field's value is a regex
// tested against the corresponding actual field, recursing through nested
// objects/arrays the same way the other kinds do.
func (p *ObjectPredicate) matchRegexes(pattern *objectValue, actual any) bool {
	switch {
	case pattern.isMap:
		am, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, pv := range pattern.m {
			av, ok := am[k]
			if !ok || !p.matchRegexes(pv, av) {
				return false
			}
		}
		return true
	case pattern.isArr:
		aa, ok := actual.([]any)
		if !ok || len(aa) < len(pattern.a) {
			return false
		}
		for i, pv := range pattern.a {
			if !p.matchRegexes(pv, aa[i]) {
				return false
			}
		}
		return true
	default:
		return pattern.re.MatchString(valueToString(actual))
	}
}

func (p *ObjectPredicate) scalarEquals(actual, pattern string) bool {
	if !p.caseInsensitive {
		return actual == pattern
	}
	return len(actual) == len(pattern) && asciiEqualFoldStrings(actual, pattern)
}

func (p *ObjectPredicate) scalarContains(actual, pattern string) bool {
	if !p.caseInsensitive {
		return strings.Contains(actual, pattern)
	}
	return strings.Contains(asciiLowerKey(actual), asciiLowerKey(pattern))
}

func asciiEqualFoldStrings(a, b string) bool {
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// isStructuredValue reports whether v is a parsed JSON object or array
// (as opposed to a string/number/bool scalar), the trigger for routing a
// body predicate's value through ObjectPredicate instead of the string
// matcher.
func isStructuredValue(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}

// objectKindForOp maps a content operator to the ObjectPredicate kind it
// builds when its value is structured. startsWith/endsWith have no object
// variant and are left to the caller's existing string-matcher fallback.
func objectKindForOp(op string) (ObjectPredicateKind, bool) {
	switch op {
	case types.OpEquals:
		return ObjEquals, true
	case types.OpContains:
		return ObjContains, true
	case types.OpMatches:
		return ObjMatches, true
	default:
		return 0, false
	}
}
