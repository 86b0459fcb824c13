// Package rules implements the declarative rule evaluator: ordered,
// first-match-wins evaluation of compiled predicate trees against a
// request, materializing a FaultDecision for probabilistic latency/error/
// TCP faults.
package rules

import (
	"math/rand/v2"

	"github.com/edgecomet/imposter/internal/predicate"
	"github.com/edgecomet/imposter/pkg/types"
)

// compiledRule pairs a rule with its compiled matcher so the predicate tree
// is built exactly once, at load time, never per request.
type compiledRule struct {
	rule    types.Rule
	matcher predicate.Matcher
}

// Evaluator holds the compiled rules list for one upstream set. It is
// immutable after construction and safe for concurrent use by every
// request-handling goroutine.
type Evaluator struct {
	compiled []compiledRule
}

// NewEvaluator compiles every rule's match configuration. Per-field
// compile warnings (regex/except failures) are collected and returned
// alongside the evaluator rather than aborting the build, following a
// warn-log-and-continue policy; the offending field simply never matches.
func NewEvaluator(ruleList []types.Rule) (*Evaluator, []error) {
	e := &Evaluator{compiled: make([]compiledRule, 0, len(ruleList))}
	var warnings []error
	for _, r := range ruleList {
		m, warns := predicate.Compile(r.Match.Predicates)
		warnings = append(warnings, warns...)
		e.compiled = append(e.compiled, compiledRule{rule: r, matcher: m})
	}
	return e, warnings
}

// Evaluate walks the rules in declaration order and returns the first
// matching rule's materialized decision, or the zero (None) decision if no
// rule matches or every matching rule's probabilistic draw misses. The RNG
// draw uses math/rand/v2's package-level generator, which Go shards per-P
// internally, giving each goroutine effectively its own generator without
// a hand-rolled pool of *rand.Rand.
func (e *Evaluator) Evaluate(req *types.RequestContext, upstream string) types.FaultDecision {
	for i := range e.compiled {
		if decision, fired := e.EvaluateAt(i, req, upstream); fired {
			return decision
		}
		// Matched but the probabilistic draw missed (or the rule carries no
		// fault at all): first-match-wins is about the first rule whose
		// predicate AND draw both succeed, so evaluation continues to the
		// next rule.
	}
	return types.FaultDecision{}
}

// Len reports the number of compiled rules, letting callers iterate by
// index so each rule can be fingerprinted and cache-checked individually
// before its predicate runs.
func (e *Evaluator) Len() int { return len(e.compiled) }

// RuleIDAt returns the declared ID of the i'th rule, in declaration order.
func (e *Evaluator) RuleIDAt(i int) string { return e.compiled[i].rule.ID }

// EvaluateAt runs a single rule's upstream filter, predicate match, and
// probabilistic materialization, matching one iteration of Evaluate's loop
// body. Exposed so the pipeline can fingerprint+cache-check per rule ahead
// of evaluating it.
func (e *Evaluator) EvaluateAt(i int, req *types.RequestContext, upstream string) (types.FaultDecision, bool) {
	cr := e.compiled[i]
	if cr.rule.UpstreamFilter != "" && cr.rule.UpstreamFilter != upstream {
		return types.FaultDecision{}, false
	}
	if !cr.matcher.Matches(req) {
		return types.FaultDecision{}, false
	}
	return materialize(cr.rule)
}

// materialize draws the probability gate (if any) and builds the decision
// for a matched rule. ok is false when the rule's fault never fires this
// time (probability miss) or the rule declares no fault at all.
func materialize(r types.Rule) (types.FaultDecision, bool) {
	switch {
	case r.Fault.Latency != nil:
		f := r.Fault.Latency
		if rand.Float64() >= f.Probability {
			return types.FaultDecision{}, false
		}
		return types.FaultDecision{
			Kind:       types.DecisionLatency,
			RuleID:     r.ID,
			DurationMS: drawRange(f.MinMS, f.MaxMS),
		}, true
	case r.Fault.Error != nil:
		f := r.Fault.Error
		if rand.Float64() >= f.Probability {
			return types.FaultDecision{}, false
		}
		return types.FaultDecision{
			Kind:      types.DecisionError,
			RuleID:    r.ID,
			Status:    f.Status,
			Body:      []byte(f.Body),
			Headers:   f.Headers,
			Behaviors: f.Behaviors,
		}, true
	case r.Fault.TCP != nil:
		return types.FaultDecision{
			Kind:    types.DecisionTCPFault,
			RuleID:  r.ID,
			TCPKind: r.Fault.TCP.Kind,
		}, true
	default:
		return types.FaultDecision{}, false
	}
}

// drawRange returns a uniform integer in [min, max] inclusive.
func drawRange(min, max int64) int64 {
	if max <= min {
		return min
	}
	return min + rand.Int64N(max-min+1)
}
