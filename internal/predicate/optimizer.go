package predicate

import (
	"fmt"
	"regexp"

	"github.com/edgecomet/imposter/pkg/types"
)

// compiledExcept strips a matched substring before the rest of a field's
// predicate runs. A failed compile collapses to an always-failing field;
// the caller installs KindNever directly rather than going through
// compiledExcept.
type compiledExcept struct {
	re *regexp.Regexp
}

func (c *compiledExcept) strip(v string) string {
	if c == nil || c.re == nil {
		return v
	}
	return c.re.ReplaceAllString(v, "")
}

// partitionKey groups leaf predicates destined for the same field into the
// selector (and except) partition they share: two predicates with the same
// selector string coalesce into one partition.
type partitionKey struct {
	selectorKey string
	except      string
}

// fieldAccumulator collects every partition for one field across the whole
// predicate tree before the build phase runs.
type fieldAccumulator struct {
	order      []partitionKey
	partitions map[partitionKey]*partitionBuilder
}

type partitionBuilder struct {
	selector *types.Selector
	except   string
	builder  *fieldBuilder
	// objects accumulates object-valued predicates installed on this
	// partition; currently only reachable for the body field, since
	// query/headers/form decompose their object value into per-key string
	// predicates before reaching a partition at all.
	objects []objectLeaf
}

// objectLeaf is one not-yet-compiled object predicate queued for a
// partition; compiled once, at build time, alongside everything else in
// fieldBuilder.
type objectLeaf struct {
	kind            ObjectPredicateKind
	raw             any
	caseInsensitive bool
}

func (p *partitionBuilder) addObject(kind ObjectPredicateKind, raw any, caseInsensitive bool) {
	p.objects = append(p.objects, objectLeaf{kind: kind, raw: raw, caseInsensitive: caseInsensitive})
}

func newFieldAccumulator() *fieldAccumulator {
	return &fieldAccumulator{partitions: make(map[partitionKey]*partitionBuilder)}
}

func (a *fieldAccumulator) get(sel *types.Selector, except string) *partitionBuilder {
	key := partitionKey{selectorKey: sel.Key(), except: except}
	if p, ok := a.partitions[key]; ok {
		return p
	}
	p := &partitionBuilder{selector: sel, except: except, builder: newFieldBuilder()}
	a.partitions[key] = p
	a.order = append(a.order, key)
	return p
}

func (a *fieldAccumulator) empty() bool {
	return len(a.order) == 0
}

// build compiles every partition in insertion order into a FieldPredicates.
// Regex or except compile failures collapse only the offending partition to
// KindNever, and are returned as warnings for the caller to log rather than
// aborting the whole field.
func (a *fieldAccumulator) build() (*FieldPredicates, []error) {
	if a.empty() {
		return nil, nil
	}
	var warnings []error
	fp := &FieldPredicates{}
	for _, key := range a.order {
		pb := a.partitions[key]
		part := &compiledPartition{selector: pb.selector}
		if pb.except != "" {
			re, err := regexp.Compile(pb.except)
			if err != nil {
				warnings = append(warnings, fmt.Errorf("predicate: except %q failed to compile, field collapsed to never-match: %w", pb.except, err))
				part.pred = &CombinedStringPredicate{Kind: KindNever}
				fp.partitions = append(fp.partitions, part)
				continue
			}
			part.except = &compiledExcept{re: re}
		}
		pred, err := pb.builder.build()
		if err != nil {
			warnings = append(warnings, err)
		}
		part.pred = pred
		for _, ol := range pb.objects {
			objPred, err := CompileObjectPredicate(ol.kind, ol.raw, ol.caseInsensitive)
			if err != nil {
				warnings = append(warnings, err)
				part.pred = &CombinedStringPredicate{Kind: KindNever}
				part.objectPreds = nil
				break
			}
			part.objectPreds = append(part.objectPreds, objPred)
		}
		fp.partitions = append(fp.partitions, part)
	}
	return fp, warnings
}

// fieldAccumulators holds one accumulator per recognized scalar field plus
// the keyed maps for query/headers/form.
type fieldAccumulators struct {
	method      *fieldAccumulator
	path        *fieldAccumulator
	body        *fieldAccumulator
	requestFrom *fieldAccumulator
	ip          *fieldAccumulator
	query       map[string]*fieldAccumulator
	headers     map[string]*fieldAccumulator
	form        map[string]*fieldAccumulator
}

func newFieldAccumulators() *fieldAccumulators {
	return &fieldAccumulators{
		method:      newFieldAccumulator(),
		path:        newFieldAccumulator(),
		body:        newFieldAccumulator(),
		requestFrom: newFieldAccumulator(),
		ip:          newFieldAccumulator(),
		query:       map[string]*fieldAccumulator{},
		headers:     map[string]*fieldAccumulator{},
		form:        map[string]*fieldAccumulator{},
	}
}

func (fa *fieldAccumulators) keyed(bucket map[string]*fieldAccumulator, name string) *fieldAccumulator {
	acc, ok := bucket[name]
	if !ok {
		acc = newFieldAccumulator()
		bucket[name] = acc
	}
	return acc
}

// Compile folds a declarative match configuration (a list of AND-ed
// predicates, as Mountebank's `predicates` array is itself an implicit AND)
// into an OptimizedPredicates tree whenever the whole tree is pure
// AND-of-leaf-operators. The moment an `or`, `not`, `deepEquals`, or
// `exists`-bearing subtree appears anywhere in the composite, the entire
// match configuration falls back to the general evaluator. This is a
// whole-tree decision rather than a per-leaf skip, so a single unsupported
// leaf can never silently vanish from the effective match.
//
// Warnings (regex/except compile failures) are returned alongside the
// optimized Matcher so the caller can warn-log and continue; they never
// abort the build. The general-evaluator fallback collapses a failing leaf
// to never-match as well, but returns no warnings.
func Compile(predicates []types.Predicate) (Matcher, []error) {
	if needsGeneralEvaluator(predicates) {
		return newGeneralMatcher(predicates), nil
	}
	fa := newFieldAccumulators()
	var warnings []error
	for _, p := range predicates {
		foldPredicate(&p, fa, true, "", nil)
	}

	build := func(acc *fieldAccumulator) *FieldPredicates {
		fp, warns := acc.build()
		warnings = append(warnings, warns...)
		return fp
	}
	buildMap := func(accs map[string]*fieldAccumulator) map[string]*FieldPredicates {
		if len(accs) == 0 {
			return nil
		}
		out := make(map[string]*FieldPredicates, len(accs))
		for name, acc := range accs {
			out[name] = build(acc)
		}
		return out
	}

	opt := &OptimizedPredicates{
		Method:      build(fa.method),
		Path:        build(fa.path),
		Body:        build(fa.body),
		RequestFrom: build(fa.requestFrom),
		IP:          build(fa.ip),
		Query:       buildMap(fa.query),
		Headers:     buildMap(fa.headers),
		Form:        buildMap(fa.form),
	}
	return opt, warnings
}

// needsGeneralEvaluator reports whether any node in the tree requires the
// fallback evaluator: or/not are never folded; deepEquals and exists are
// likewise left to the general evaluator since they operate on
// structural/presence semantics the field builder does not model.
func needsGeneralEvaluator(predicates []types.Predicate) bool {
	for _, p := range predicates {
		if nodeNeedsGeneral(&p) {
			return true
		}
	}
	return false
}

func nodeNeedsGeneral(p *types.Predicate) bool {
	if len(p.Or) > 0 || p.Not != nil {
		return true
	}
	if len(p.And) > 0 {
		for _, child := range p.And {
			if nodeNeedsGeneral(&child) {
				return true
			}
		}
		return false
	}
	switch p.Operator() {
	case types.OpDeepEquals, types.OpExists:
		return true
	default:
		return false
	}
}

// foldPredicate descends and-nodes, inheriting caseSensitive/except/selector
// unless a child overrides them, installing each leaf into the matching
// field accumulator's partition.
func foldPredicate(p *types.Predicate, fa *fieldAccumulators, caseSensitive bool, except string, sel *types.Selector) {
	if p.CaseSensitive != nil {
		caseSensitive = *p.CaseSensitive
	}
	if p.Except != "" {
		except = p.Except
	}
	if p.JSONPath != "" {
		sel = &types.Selector{JSONPath: p.JSONPath}
	} else if p.XPath != "" {
		sel = &types.Selector{XPath: p.XPath, Namespaces: p.XPathNamespaces}
	}

	if len(p.And) > 0 {
		for _, child := range p.And {
			foldPredicate(&child, fa, caseSensitive, except, sel)
		}
		return
	}

	op := p.Operator()
	if op == "" {
		return
	}
	caseInsensitive := !caseSensitive
	for fieldName, rawValue := range p.Fields() {
		installLeaf(fa, fieldName, rawValue, op, caseInsensitive, except, sel)
	}
}

func installLeaf(fa *fieldAccumulators, fieldName string, rawValue any, op string, caseInsensitive bool, except string, sel *types.Selector) {
	switch fieldName {
	case types.FieldMethod:
		applyOp(fa.method.get(sel, except).builder, op, rawValue, caseInsensitive)
	case types.FieldPath:
		applyOp(fa.path.get(sel, except).builder, op, rawValue, caseInsensitive)
	case types.FieldBody:
		installBodyLeaf(fa.body.get(sel, except), op, rawValue, caseInsensitive)
	case types.FieldRequestFrom:
		applyOp(fa.requestFrom.get(sel, except).builder, op, rawValue, caseInsensitive)
	case types.FieldIP:
		applyOp(fa.ip.get(sel, except).builder, op, rawValue, caseInsensitive)
	case types.FieldQuery:
		installObjectField(fa.query, fa, sel, except, op, rawValue, caseInsensitive)
	case types.FieldHeaders:
		installObjectField(fa.headers, fa, sel, except, op, rawValue, caseInsensitive, true)
	case types.FieldForm:
		installObjectField(fa.form, fa, sel, except, op, rawValue, caseInsensitive)
	}
	// Unknown field names are silently ignored.
}

// installBodyLeaf routes a body predicate into the string matcher, or, when
// the declared value is a JSON object/array rather than a string, into an
// object predicate matched against the parsed request body. String ops
// installed on the same partition still combine with the object predicate
// as AND.
func installBodyLeaf(pb *partitionBuilder, op string, rawValue any, caseInsensitive bool) {
	if kind, ok := objectKindForOp(op); ok && isStructuredValue(rawValue) {
		pb.addObject(kind, rawValue, caseInsensitive)
		return
	}
	applyOp(pb.builder, op, rawValue, caseInsensitive)
}

func installObjectField(bucket map[string]*fieldAccumulator, fa *fieldAccumulators, sel *types.Selector, except, op string, rawValue any, caseInsensitive bool, lowercaseKeys ...bool) {
	obj, ok := rawValue.(map[string]any)
	if !ok {
		return
	}
	lower := len(lowercaseKeys) > 0 && lowercaseKeys[0]
	for name, v := range obj {
		key := name
		if lower {
			key = asciiLowerKey(name)
		}
		acc := fa.keyed(bucket, key)
		applyOp(acc.get(sel, except).builder, op, v, caseInsensitive)
	}
}

func applyOp(b *fieldBuilder, op string, rawValue any, caseInsensitive bool) {
	switch op {
	case types.OpEquals:
		b.addEquals(valueToString(rawValue), caseInsensitive)
	case types.OpStartsWith:
		b.addStartsWith(valueToString(rawValue), caseInsensitive)
	case types.OpEndsWith:
		b.addEndsWith(valueToString(rawValue), caseInsensitive)
	case types.OpContains:
		b.addContains(valueToString(rawValue), caseInsensitive)
	case types.OpMatches:
		if alts, ok := rawValue.([]any); ok {
			// Leaf-level `or` convenience form: a list of alternatives for
			// one field folds into the same RegexSet with requireAll=false
			// instead of the default AND composition.
			b.requireAll = false
			for _, alt := range alts {
				b.addRegex(valueToString(alt))
			}
			return
		}
		b.addRegex(valueToString(rawValue))
	}
}

func valueToString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func asciiLowerKey(s string) string {
	buf := []byte(s)
	for i, c := range buf {
		if c >= 'A' && c <= 'Z' {
			buf[i] = c + ('a' - 'A')
		}
	}
	return string(buf)
}
