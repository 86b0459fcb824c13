package types

// Field names recognized by the predicate optimizer.
const (
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldBody        = "body"
	FieldRequestFrom = "requestFrom"
	FieldIP          = "ip"
	FieldQuery       = "query"
	FieldHeaders     = "headers"
	FieldForm        = "form"
)

// Operator names, Mountebank-compatible.
const (
	OpEquals     = "equals"
	OpDeepEquals = "deepEquals"
	OpContains   = "contains"
	OpStartsWith = "startsWith"
	OpEndsWith   = "endsWith"
	OpMatches    = "matches"
	OpExists     = "exists"
)

// Selector names a value extractor applied before matching.
type Selector struct {
	JSONPath string
	// XPath, when non-empty, selects via an XPath expression. Namespaces is
	// plumbed through to the evaluator but not exercised by any shipped
	// predicate compiler path.
	XPath      string
	Namespaces map[string]string
}

// Key returns a stable identity for grouping predicates that share a
// selector: two predicates with the same selector string coalesce.
func (s *Selector) Key() string {
	if s == nil {
		return ""
	}
	if s.JSONPath != "" {
		return "jsonpath:" + s.JSONPath
	}
	if s.XPath != "" {
		return "xpath:" + s.XPath
	}
	return ""
}

// Predicate is the raw, user-declared matcher as loaded from configuration.
// Exactly one of the operator maps should be set for a leaf predicate;
// And/Or/Not compose leaves. Fields map a recognized field name (or
// "query"/"headers"/"form" object form keyed by sub-name) to either a plain
// string value or, for object-valued predicates, a nested map/slice decoded
// from YAML/JSON.
type Predicate struct {
	Equals     map[string]any `yaml:"equals,omitempty" json:"equals,omitempty"`
	DeepEquals map[string]any `yaml:"deepEquals,omitempty" json:"deepEquals,omitempty"`
	Contains   map[string]any `yaml:"contains,omitempty" json:"contains,omitempty"`
	StartsWith map[string]any `yaml:"startsWith,omitempty" json:"startsWith,omitempty"`
	EndsWith   map[string]any `yaml:"endsWith,omitempty" json:"endsWith,omitempty"`
	Matches    map[string]any `yaml:"matches,omitempty" json:"matches,omitempty"`
	Exists     map[string]any `yaml:"exists,omitempty" json:"exists,omitempty"`

	And []Predicate `yaml:"and,omitempty" json:"and,omitempty"`
	Or  []Predicate `yaml:"or,omitempty" json:"or,omitempty"`
	Not *Predicate  `yaml:"not,omitempty" json:"not,omitempty"`

	CaseSensitive *bool  `yaml:"caseSensitive,omitempty" json:"caseSensitive,omitempty"`
	Except        string `yaml:"except,omitempty" json:"except,omitempty"`
	JSONPath      string `yaml:"jsonpath,omitempty" json:"jsonpath,omitempty"`
	XPath         string `yaml:"xpath,omitempty" json:"xpath,omitempty"`

	// XPathNamespaces is plumbed but not exercised by the shipped evaluator.
	XPathNamespaces map[string]string `yaml:"xpathNamespaces,omitempty" json:"xpathNamespaces,omitempty"`
}

// Operator returns the single leaf operator name set on this predicate, or
// "" if this is an And/Or/Not composite or an empty predicate.
func (p *Predicate) Operator() string {
	switch {
	case p.Equals != nil:
		return OpEquals
	case p.DeepEquals != nil:
		return OpDeepEquals
	case p.Contains != nil:
		return OpContains
	case p.StartsWith != nil:
		return OpStartsWith
	case p.EndsWith != nil:
		return OpEndsWith
	case p.Matches != nil:
		return OpMatches
	case p.Exists != nil:
		return OpExists
	default:
		return ""
	}
}

// Fields returns the field map for this predicate's leaf operator.
func (p *Predicate) Fields() map[string]any {
	switch p.Operator() {
	case OpEquals:
		return p.Equals
	case OpDeepEquals:
		return p.DeepEquals
	case OpContains:
		return p.Contains
	case OpStartsWith:
		return p.StartsWith
	case OpEndsWith:
		return p.EndsWith
	case OpMatches:
		return p.Matches
	case OpExists:
		return p.Exists
	default:
		return nil
	}
}

// IsLeaf reports whether this predicate is a single operator node (not
// And/Or/Not).
func (p *Predicate) IsLeaf() bool {
	return p.Operator() != "" && len(p.And) == 0 && len(p.Or) == 0 && p.Not == nil
}

// MatchConfig is the top-level match configuration attached to a rule.
type MatchConfig struct {
	Predicates []Predicate `yaml:"predicates,omitempty" json:"predicates,omitempty"`
}

// FaultConfig is the declarative fault a rule applies once matched. Exactly
// one of Latency, Error, TCP should be set.
type FaultConfig struct {
	Latency *LatencyFault `yaml:"latency,omitempty" json:"latency,omitempty"`
	Error   *ErrorFault   `yaml:"error,omitempty" json:"error,omitempty"`
	TCP     *TCPFault     `yaml:"tcpFault,omitempty" json:"tcpFault,omitempty"`
}

type LatencyFault struct {
	Probability float64 `yaml:"probability" json:"probability"`
	MinMS       int64   `yaml:"minMs" json:"minMs"`
	MaxMS       int64   `yaml:"maxMs" json:"maxMs"`
}

type ErrorFault struct {
	Probability float64             `yaml:"probability" json:"probability"`
	Status      int                 `yaml:"status" json:"status"`
	Body        string              `yaml:"body" json:"body"`
	Headers     map[string]string   `yaml:"headers,omitempty" json:"headers,omitempty"`
	Behaviors   *ResponseBehaviors  `yaml:"behaviors,omitempty" json:"behaviors,omitempty"`
}

// TCPFaultKind is the kind of TCP-level misbehavior to inject.
type TCPFaultKind string

const (
	TCPFaultConnectionReset  TCPFaultKind = "connectionResetByPeer"
	TCPFaultRandomDataClose  TCPFaultKind = "randomDataThenClose"
)

type TCPFault struct {
	Kind TCPFaultKind `yaml:"kind" json:"kind"`
}

// ResponseBehaviors are Mountebank-style post-match response modifiers.
type ResponseBehaviors struct {
	Wait   *WaitBehavior `yaml:"wait,omitempty" json:"wait,omitempty"`
	Repeat int           `yaml:"repeat,omitempty" json:"repeat,omitempty"`
	Copy   []CopyBehavior `yaml:"copy,omitempty" json:"copy,omitempty"`
	Lookup []LookupBehavior `yaml:"lookup,omitempty" json:"lookup,omitempty"`
}

// WaitBehavior is either a fixed delay or a {min,max} range. Exactly one of
// FixedMS or {MinMS,MaxMS} should be set.
type WaitBehavior struct {
	FixedMS int64 `yaml:"fixedMs,omitempty" json:"fixedMs,omitempty"`
	MinMS   int64 `yaml:"minMs,omitempty" json:"minMs,omitempty"`
	MaxMS   int64 `yaml:"maxMs,omitempty" json:"maxMs,omitempty"`
}

// CopyBehavior captures a value from the request and substitutes it into the
// response at render time.
type CopyBehavior struct {
	From     string `yaml:"from" json:"from"`
	Selector string `yaml:"selector,omitempty" json:"selector,omitempty"`
	Into     string `yaml:"into" json:"into"`
}

// LookupBehavior substitutes a captured value via an external table.
type LookupBehavior struct {
	Key   string            `yaml:"key" json:"key"`
	Table map[string]string `yaml:"table" json:"table"`
	Into  string            `yaml:"into" json:"into"`
}

// Rule is a declarative fault-injection rule.
type Rule struct {
	ID             string      `yaml:"id" json:"id"`
	Match          MatchConfig `yaml:"match" json:"match"`
	Fault          FaultConfig `yaml:"fault" json:"fault"`
	UpstreamFilter string      `yaml:"upstream,omitempty" json:"upstream,omitempty"`
}

// ScriptRule is a user-authored script bound to a match configuration.
type ScriptRule struct {
	ID             string      `yaml:"id" json:"id"`
	Source         string      `yaml:"source" json:"source"`
	Match          MatchConfig `yaml:"match" json:"match"`
	UpstreamFilter string      `yaml:"upstream,omitempty" json:"upstream,omitempty"`
}

// FaultDecisionKind tags the materialized decision produced by the decision
// pipeline.
type FaultDecisionKind int

const (
	DecisionNone FaultDecisionKind = iota
	DecisionLatency
	DecisionError
	DecisionTCPFault
	DecisionSynthesize
	DecisionReplay
)

// FaultDecision is the materialized action for a request.
type FaultDecision struct {
	Kind FaultDecisionKind
	// RuleID is the rule (or script rule) that produced this decision; empty
	// for None/Replay decisions not tied to a rule.
	RuleID string

	DurationMS int64 // Latency

	Status    int               // Error, Synthesize
	Body      []byte            // Error, Synthesize
	Headers   map[string]string // Error, Synthesize
	Behaviors *ResponseBehaviors

	TCPKind TCPFaultKind
}

// IsNone reports whether this decision is the no-op decision.
func (d FaultDecision) IsNone() bool {
	return d.Kind == DecisionNone
}
