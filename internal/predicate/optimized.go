package predicate

import (
	"github.com/edgecomet/imposter/pkg/types"
)

// FieldPredicates holds every selector partition accumulated for one
// selector-capable field (currently just body; the other fields funnel
// through a single unselected partition).
type FieldPredicates struct {
	partitions []*compiledPartition
}

type compiledPartition struct {
	selector *types.Selector
	except   *compiledExcept
	pred     *CombinedStringPredicate
	// objectPreds holds object-valued predicates installed on this
	// partition (currently only reachable for the body field; see
	// installBodyLeaf). They run against the same extracted/stripped value
	// as pred and combine with it as AND.
	objectPreds []*ObjectPredicate
}

// Matches extracts (once per partition) and evaluates raw against every
// partition, requiring all partitions to pass (distinct selectors AND
// together, same as distinct predicates on the field would).
func (fp *FieldPredicates) Matches(raw *string) bool {
	if fp == nil {
		return true
	}
	for _, part := range fp.partitions {
		if !partMatches(part, raw) {
			return false
		}
	}
	return true
}

func partMatches(part *compiledPartition, raw *string) bool {
	if raw == nil {
		return part.pred.Matches(nil)
	}
	// Selector runs before except: the predicate sees except(select(raw)).
	v := *raw
	if part.selector != nil {
		extracted, ok := extractSelector(v, part.selector)
		if !ok {
			return false
		}
		v = extracted
	}
	if part.except != nil {
		v = part.except.strip(v)
	}
	for _, op := range part.objectPreds {
		if !op.Matches([]byte(v)) {
			return false
		}
	}
	return part.pred.Matches(&v)
}

// OptimizedPredicates is the compiled, per-field predicate tree a rule's
// match configuration builds down to. Method/path/body/requestFrom/ip are
// scalar fields; query/headers/form are keyed by sub-field name. A nil
// entry means no predicate was installed on that field/key, which always
// passes.
type OptimizedPredicates struct {
	Method      *FieldPredicates
	Path        *FieldPredicates
	Body        *FieldPredicates
	RequestFrom *FieldPredicates
	IP          *FieldPredicates
	Query       map[string]*FieldPredicates
	Headers     map[string]*FieldPredicates
	Form        map[string]*FieldPredicates
}

// Matches evaluates the compiled predicate tree against a request. A
// missing header/query/form field whose name has an installed predicate
// fails the match; names with no installed predicate are not consulted at
// all.
func (o *OptimizedPredicates) Matches(req *types.RequestContext) bool {
	if o == nil {
		return true
	}
	if !o.Method.Matches(strPtr(req.Method)) {
		return false
	}
	if !o.Path.Matches(strPtr(req.Path)) {
		return false
	}
	if o.Body != nil {
		body := string(req.Body)
		if !o.Body.Matches(&body) {
			return false
		}
	}
	if !matchOptionalScalar(o.RequestFrom, req.RequestFrom) {
		return false
	}
	if !matchOptionalScalar(o.IP, req.ClientIP) {
		return false
	}
	for name, fp := range o.Query {
		v, ok := req.QueryValue(name)
		if !matchKeyed(fp, v, ok) {
			return false
		}
	}
	for name, fp := range o.Headers {
		v, ok := req.HeaderValue(name)
		if !matchKeyed(fp, v, ok) {
			return false
		}
	}
	for name, fp := range o.Form {
		v, ok := req.FormValue(name)
		if !matchKeyed(fp, v, ok) {
			return false
		}
	}
	return true
}

func matchKeyed(fp *FieldPredicates, value string, present bool) bool {
	if !present {
		return fp.Matches(nil)
	}
	return fp.Matches(&value)
}

// matchOptionalScalar handles requestFrom/ip, which may be genuinely unset
// on the request (e.g. no upstream hint yet, or client IP extraction
// disabled) as distinct from present-but-empty.
func matchOptionalScalar(fp *FieldPredicates, value string) bool {
	if value == "" {
		return fp.Matches(nil)
	}
	return fp.Matches(&value)
}

func strPtr(s string) *string { return &s }
