package predicate

import (
	"regexp"
	"strings"

	"github.com/edgecomet/imposter/pkg/types"
)

// Matcher is satisfied by both the optimized field-tree (OptimizedPredicates)
// and the general fallback evaluator built for predicate trees containing
// or/not/deepEquals/exists.
type Matcher interface {
	Matches(req *types.RequestContext) bool
}

// generalMatcher walks a compiled boolean tree once per request. Unlike the
// optimized tree it does not group same-field operators into a shared
// RegexSet, but every regex/except pattern is still compiled exactly once,
// at build time, never per request.
type generalMatcher struct {
	roots []*compiledNode
}

func newGeneralMatcher(predicates []types.Predicate) *generalMatcher {
	g := &generalMatcher{}
	for i := range predicates {
		g.roots = append(g.roots, compileNode(&predicates[i], true, "", nil))
	}
	return g
}

func (g *generalMatcher) Matches(req *types.RequestContext) bool {
	for _, root := range g.roots {
		if !root.eval(req) {
			return false
		}
	}
	return true
}

type nodeKind int

const (
	nodeAnd nodeKind = iota
	nodeOr
	nodeNot
	nodeLeaf
)

type compiledNode struct {
	kind     nodeKind
	children []*compiledNode // nodeAnd / nodeOr
	inner    *compiledNode   // nodeNot
	leaves   []*compiledLeaf // nodeLeaf
}

func (n *compiledNode) eval(req *types.RequestContext) bool {
	switch n.kind {
	case nodeAnd:
		for _, c := range n.children {
			if !c.eval(req) {
				return false
			}
		}
		return true
	case nodeOr:
		for _, c := range n.children {
			if c.eval(req) {
				return true
			}
		}
		return false
	case nodeNot:
		return !n.inner.eval(req)
	case nodeLeaf:
		for _, l := range n.leaves {
			if !l.eval(req) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// compileNode mirrors foldPredicate's and-descent/selector-inheritance
// rules but produces a reusable compiled tree instead of installing into a
// field accumulator.
func compileNode(p *types.Predicate, caseSensitive bool, except string, sel *types.Selector) *compiledNode {
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

	if p.Not != nil {
		return &compiledNode{kind: nodeNot, inner: compileNode(p.Not, caseSensitive, except, sel)}
	}
	if len(p.Or) > 0 {
		n := &compiledNode{kind: nodeOr}
		for i := range p.Or {
			n.children = append(n.children, compileNode(&p.Or[i], caseSensitive, except, sel))
		}
		return n
	}
	if len(p.And) > 0 {
		n := &compiledNode{kind: nodeAnd}
		for i := range p.And {
			n.children = append(n.children, compileNode(&p.And[i], caseSensitive, except, sel))
		}
		return n
	}

	op := p.Operator()
	if op == "" {
		return &compiledNode{kind: nodeAnd} // empty composite: vacuously true
	}
	n := &compiledNode{kind: nodeLeaf}
	caseInsensitive := !caseSensitive
	for fieldName, rawValue := range p.Fields() {
		n.leaves = append(n.leaves, compileLeaves(op, fieldName, rawValue, caseInsensitive, except, sel)...)
	}
	return n
}

// compiledLeaf evaluates one (operator, field[, sub-key]) pair against a
// request. kind selects which of the three evaluation strategies applies.
type compiledLeaf struct {
	kind      leafKind
	field     string
	subkey    string
	hasSubkey bool

	pred     *CombinedStringPredicate // kind == leafContent
	selector *types.Selector
	except   *compiledExcept

	existsWant bool // kind == leafExists

	deepScalar *string           // kind == leafDeepEquals, scalar fields
	deepObject map[string]string // kind == leafDeepEquals, query/headers/form
	partial    bool              // true for headers (extra keys allowed)

	objectPred *ObjectPredicate // kind == leafObject (body only)
}

type leafKind int

const (
	leafContent leafKind = iota
	leafExists
	leafDeepEquals
	leafObject
)

// compileBodyObjectLeaf builds a leafObject for a body predicate whose
// declared value is a JSON object/array, matched against the parsed request
// body. A regex compile failure inside an ObjMatches pattern collapses the
// leaf to never-match rather than the whole rule.
func compileBodyObjectLeaf(kind ObjectPredicateKind, rawValue any, caseInsensitive bool, except string, sel *types.Selector) *compiledLeaf {
	objPred, err := CompileObjectPredicate(kind, rawValue, caseInsensitive)
	if err != nil {
		return &compiledLeaf{kind: leafContent, field: types.FieldBody, pred: &CombinedStringPredicate{Kind: KindNever}}
	}
	var exceptCompiled *compiledExcept
	if except != "" {
		if re, reErr := regexp.Compile(except); reErr == nil {
			exceptCompiled = &compiledExcept{re: re}
		} else {
			return &compiledLeaf{kind: leafContent, field: types.FieldBody, pred: &CombinedStringPredicate{Kind: KindNever}}
		}
	}
	return &compiledLeaf{kind: leafObject, field: types.FieldBody, objectPred: objPred, selector: sel, except: exceptCompiled}
}

func compileLeaves(op, fieldName string, rawValue any, caseInsensitive bool, except string, sel *types.Selector) []*compiledLeaf {
	switch op {
	case types.OpExists:
		return compileExistsLeaves(fieldName, rawValue)
	case types.OpDeepEquals:
		return []*compiledLeaf{compileDeepEqualsLeaf(fieldName, rawValue)}
	default:
		return compileContentLeaves(op, fieldName, rawValue, caseInsensitive, except, sel)
	}
}

func compileContentLeaves(op, fieldName string, rawValue any, caseInsensitive bool, except string, sel *types.Selector) []*compiledLeaf {
	if fieldName == types.FieldBody {
		if kind, ok := objectKindForOp(op); ok && isStructuredValue(rawValue) {
			return []*compiledLeaf{compileBodyObjectLeaf(kind, rawValue, caseInsensitive, except, sel)}
		}
	}
	buildOne := func(subkey string, hasSubkey bool, v any) *compiledLeaf {
		b := newFieldBuilder()
		applyOp(b, op, v, caseInsensitive)
		pred, _ := b.build() // compile error already collapses pred to KindNever
		var exceptCompiled *compiledExcept
		if except != "" {
			if re, err := regexp.Compile(except); err == nil {
				exceptCompiled = &compiledExcept{re: re}
			} else {
				pred = &CombinedStringPredicate{Kind: KindNever}
			}
		}
		return &compiledLeaf{kind: leafContent, field: fieldName, subkey: subkey, hasSubkey: hasSubkey, pred: pred, selector: sel, except: exceptCompiled}
	}

	if isObjectField(fieldName) {
		obj, ok := rawValue.(map[string]any)
		if !ok {
			return nil
		}
		lower := fieldName == types.FieldHeaders
		var leaves []*compiledLeaf
		for k, v := range obj {
			key := k
			if lower {
				key = asciiLowerKey(k)
			}
			leaves = append(leaves, buildOne(key, true, v))
		}
		return leaves
	}
	return []*compiledLeaf{buildOne("", false, rawValue)}
}

func compileExistsLeaves(fieldName string, rawValue any) []*compiledLeaf {
	if isObjectField(fieldName) {
		obj, ok := rawValue.(map[string]any)
		if !ok {
			return nil
		}
		lower := fieldName == types.FieldHeaders
		var leaves []*compiledLeaf
		for k, v := range obj {
			want, _ := v.(bool)
			key := k
			if lower {
				key = asciiLowerKey(k)
			}
			leaves = append(leaves, &compiledLeaf{kind: leafExists, field: fieldName, subkey: key, hasSubkey: true, existsWant: want})
		}
		return leaves
	}
	want, _ := rawValue.(bool)
	return []*compiledLeaf{{kind: leafExists, field: fieldName, existsWant: want}}
}

func compileDeepEqualsLeaf(fieldName string, rawValue any) *compiledLeaf {
	if isObjectField(fieldName) {
		obj, _ := rawValue.(map[string]any)
		deep := make(map[string]string, len(obj))
		lower := fieldName == types.FieldHeaders
		for k, v := range obj {
			key := k
			if lower {
				key = asciiLowerKey(k)
			}
			deep[key] = valueToString(v)
		}
		return &compiledLeaf{kind: leafDeepEquals, field: fieldName, deepObject: deep, partial: fieldName == types.FieldHeaders}
	}
	if fieldName == types.FieldBody && isStructuredValue(rawValue) {
		objPred, err := CompileObjectPredicate(ObjDeepEquals, rawValue, false)
		if err != nil {
			return &compiledLeaf{kind: leafContent, field: fieldName, pred: &CombinedStringPredicate{Kind: KindNever}}
		}
		return &compiledLeaf{kind: leafObject, field: fieldName, objectPred: objPred}
	}
	s := valueToString(rawValue)
	return &compiledLeaf{kind: leafDeepEquals, field: fieldName, deepScalar: &s}
}

func isObjectField(fieldName string) bool {
	return fieldName == types.FieldQuery || fieldName == types.FieldHeaders || fieldName == types.FieldForm
}

func (l *compiledLeaf) eval(req *types.RequestContext) bool {
	switch l.kind {
	case leafExists:
		_, present := fetchField(req, l.field, l.subkey)
		return present == l.existsWant
	case leafDeepEquals:
		return l.evalDeepEquals(req)
	case leafObject:
		return l.evalObject(req)
	default:
		raw, present := fetchField(req, l.field, l.subkey)
		if !present {
			return l.pred.Matches(nil)
		}
		// except(select(raw)), same composition as the optimized tree.
		v := raw
		if l.selector != nil {
			extracted, ok := extractSelector(v, l.selector)
			if !ok {
				return false
			}
			v = extracted
		}
		if l.except != nil {
			v = l.except.strip(v)
		}
		return l.pred.Matches(&v)
	}
}

func (l *compiledLeaf) evalDeepEquals(req *types.RequestContext) bool {
	if isObjectField(l.field) {
		actual := objectFieldValues(req, l.field)
		for k, v := range l.deepObject {
			av, ok := actual[k]
			if !ok || av != v {
				return false
			}
		}
		if !l.partial && len(actual) != len(l.deepObject) {
			return false
		}
		return true
	}
	raw, present := fetchField(req, l.field, "")
	if l.deepScalar == nil {
		return !present
	}
	return present && raw == *l.deepScalar
}

// evalObject runs a body object predicate, applying any except/selector
// preprocessing first.
func (l *compiledLeaf) evalObject(req *types.RequestContext) bool {
	raw, present := fetchField(req, l.field, l.subkey)
	if !present {
		return false
	}
	v := raw
	if l.selector != nil {
		extracted, ok := extractSelector(v, l.selector)
		if !ok {
			return false
		}
		v = extracted
	}
	if l.except != nil {
		v = l.except.strip(v)
	}
	return l.objectPred.Matches([]byte(v))
}

func objectFieldValues(req *types.RequestContext, fieldName string) map[string]string {
	out := map[string]string{}
	switch fieldName {
	case types.FieldQuery:
		for _, kv := range req.Query {
			out[kv.Key] = kv.Value
		}
	case types.FieldHeaders:
		for _, kv := range req.Headers {
			out[strings.ToLower(kv.Key)] = kv.Value
		}
	case types.FieldForm:
		for _, kv := range req.Form {
			out[kv.Key] = kv.Value
		}
	}
	return out
}

func fetchField(req *types.RequestContext, fieldName, subkey string) (string, bool) {
	switch fieldName {
	case types.FieldMethod:
		return req.Method, true
	case types.FieldPath:
		return req.Path, true
	case types.FieldBody:
		return string(req.Body), true
	case types.FieldRequestFrom:
		return req.RequestFrom, req.RequestFrom != ""
	case types.FieldIP:
		return req.ClientIP, req.ClientIP != ""
	case types.FieldQuery:
		return req.QueryValue(subkey)
	case types.FieldHeaders:
		return req.HeaderValue(subkey)
	case types.FieldForm:
		return req.FormValue(subkey)
	default:
		return "", false
	}
}
