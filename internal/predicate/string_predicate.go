// Package predicate implements the optimized per-field predicate tree and
// the builder that folds a declarative predicate list into it.
package predicate

import (
	"regexp"

	"github.com/edgecomet/imposter/pkg/stringmatch"
)

// Kind discriminates the representation chosen for a field's string
// predicate: the build phase always picks the tightest one that covers the
// operations actually installed.
type Kind int

const (
	// KindNever rejects every value unconditionally. This is the
	// error-policy collapse target when a regex or except pattern fails to
	// compile.
	KindNever Kind = iota
	KindSimple
	KindRegexes
	KindCombined
)

// SimplePredicate holds the non-regex string operators for one field.
// Matching order follows a fast-fail heuristic: equals, startsWith,
// endsWith, then every contains finder.
type SimplePredicate struct {
	Equals     *stringmatch.CaseAwareString
	StartsWith *stringmatch.CaseAwareString
	EndsWith   *stringmatch.CaseAwareString
	Contains   []stringmatch.Finder
}

func (s *SimplePredicate) matches(value string) bool {
	if s == nil {
		return true
	}
	if s.Equals != nil && !s.Equals.Equals(value) {
		return false
	}
	if s.StartsWith != nil && !s.StartsWith.StartsWith(value) {
		return false
	}
	if s.EndsWith != nil && !s.EndsWith.EndsWith(value) {
		return false
	}
	for _, c := range s.Contains {
		if !c.Contains(value) {
			return false
		}
	}
	return true
}

func (s *SimplePredicate) isEmpty() bool {
	return s == nil || (s.Equals == nil && s.StartsWith == nil && s.EndsWith == nil && len(s.Contains) == 0)
}

// RegexSet is a multi-pattern matcher that tests each pattern against the
// value in turn. Go's regexp package has no direct analogue of Rust's regex::RegexSet
// (a single compiled automaton over all alternatives); this sequential
// evaluation over pre-compiled patterns is the justified stand-in (see
// DESIGN.md) since no library in the retrieved corpus supplies a true
// multi-pattern NFA with capture-group and case-insensitive-flag support.
type RegexSet struct {
	patterns []*regexp.Regexp
	// RequireAll is true for AND composition (the default from top-level
	// `matches`), false when built from a leaf-level `or` alternative list.
	RequireAll bool
}

func NewRegexSet(patterns []*regexp.Regexp, requireAll bool) *RegexSet {
	return &RegexSet{patterns: patterns, RequireAll: requireAll}
}

func (r *RegexSet) matches(value string) bool {
	if r == nil || len(r.patterns) == 0 {
		return true
	}
	if r.RequireAll {
		for _, p := range r.patterns {
			if !p.MatchString(value) {
				return false
			}
		}
		return true
	}
	for _, p := range r.patterns {
		if p.MatchString(value) {
			return true
		}
	}
	return false
}

// CombinedStringPredicate is the field-level matcher: Simple, Regexes, a mix
// of both (Combined), or Never.
type CombinedStringPredicate struct {
	Kind    Kind
	Simple  *SimplePredicate
	Regexes *RegexSet
}

// Matches evaluates value, which is nil when the field was absent from the
// request. A missing field fails any content predicate installed on it.
func (c *CombinedStringPredicate) Matches(value *string) bool {
	if c == nil {
		return true
	}
	if c.Kind == KindNever {
		return false
	}
	if value == nil {
		return false
	}
	v := *value
	switch c.Kind {
	case KindSimple:
		return c.Simple.matches(v)
	case KindRegexes:
		return c.Regexes.matches(v)
	case KindCombined:
		return c.Simple.matches(v) && c.Regexes.matches(v)
	default:
		return false
	}
}
