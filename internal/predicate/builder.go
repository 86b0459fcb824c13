package predicate

import (
	"fmt"
	"regexp"

	"github.com/edgecomet/imposter/pkg/stringmatch"
)

// fieldBuilder accumulates operations for one field (or one selector
// partition of a field) before the build phase picks the tightest
// CombinedStringPredicate representation.
type fieldBuilder struct {
	equals     *stringmatch.CaseAwareString
	startsWith *stringmatch.CaseAwareString
	endsWith   *stringmatch.CaseAwareString
	contains   []stringmatch.Finder
	// regexSrc holds every regex source this field accumulated; a
	// case-insensitive source carries its own "(?i)" prefix. requireAll is false
	// only when the field was populated from a leaf-level `or` alternative
	// list.
	regexSrc   []string
	requireAll bool
}

func newFieldBuilder() *fieldBuilder {
	return &fieldBuilder{requireAll: true}
}

func (b *fieldBuilder) addEquals(pattern string, caseInsensitive bool) {
	c := stringmatch.New(pattern, caseInsensitive)
	b.equals = &c
}

func (b *fieldBuilder) addStartsWith(pattern string, caseInsensitive bool) {
	c := stringmatch.New(pattern, caseInsensitive)
	b.startsWith = &c
}

func (b *fieldBuilder) addEndsWith(pattern string, caseInsensitive bool) {
	c := stringmatch.New(pattern, caseInsensitive)
	b.endsWith = &c
}

// addContains installs a contains operator. A case-insensitive contains is
// never implemented as double-lowercase-then-search: it is folded into the
// regex bucket as an escaped, inline-case-insensitive pattern instead of
// the Finder bucket.
func (b *fieldBuilder) addContains(pattern string, caseInsensitive bool) {
	if caseInsensitive {
		b.regexSrc = append(b.regexSrc, "(?i)"+regexp.QuoteMeta(pattern))
		return
	}
	b.contains = append(b.contains, stringmatch.NewFinder(pattern))
}

func (b *fieldBuilder) addRegex(pattern string) {
	b.regexSrc = append(b.regexSrc, pattern)
}

func (b *fieldBuilder) isEmpty() bool {
	return b.equals == nil && b.startsWith == nil && b.endsWith == nil &&
		len(b.contains) == 0 && len(b.regexSrc) == 0
}

func (b *fieldBuilder) hasSimple() bool {
	return b.equals != nil || b.startsWith != nil || b.endsWith != nil || len(b.contains) > 0
}

// build compiles the accumulated operations into the tightest representation
// available. Regex compile failure collapses the field to KindNever and
// returns a warning for the caller to log rather than failing the whole
// rule.
func (b *fieldBuilder) build() (*CombinedStringPredicate, error) {
	if b.isEmpty() {
		return nil, nil
	}
	c := &CombinedStringPredicate{}

	var regexes *RegexSet
	if len(b.regexSrc) > 0 {
		compiled := make([]*regexp.Regexp, 0, len(b.regexSrc))
		for _, src := range b.regexSrc {
			re, err := regexp.Compile(src)
			if err != nil {
				c.Kind = KindNever
				return c, fmt.Errorf("predicate: regex %q failed to compile, field collapsed to never-match: %w", src, err)
			}
			compiled = append(compiled, re)
		}
		regexes = NewRegexSet(compiled, b.requireAll)
	}

	hasSimple := b.hasSimple()
	switch {
	case !hasSimple && regexes == nil:
		// Nothing at all was installed; the caller should not have created
		// this builder, but treat it defensively as Never.
		c.Kind = KindNever
	case hasSimple && regexes == nil:
		c.Kind = KindSimple
		c.Simple = &SimplePredicate{Equals: b.equals, StartsWith: b.startsWith, EndsWith: b.endsWith, Contains: b.contains}
	case !hasSimple && regexes != nil:
		c.Kind = KindRegexes
		c.Regexes = regexes
	default:
		c.Kind = KindCombined
		c.Simple = &SimplePredicate{Equals: b.equals, StartsWith: b.startsWith, EndsWith: b.endsWith, Contains: b.contains}
		c.Regexes = regexes
	}
	return c, nil
}
