package rules

import (
	"github.com/edgecomet/imposter/internal/predicate"
	"github.com/edgecomet/imposter/internal/script"
	"github.com/edgecomet/imposter/pkg/types"
)

// compiledScriptRule pairs a configured script rule with its compiled
// predicate matcher and its engine-compiled program, cached per rule_id.
type compiledScriptRule struct {
	rule    types.ScriptRule
	matcher predicate.Matcher
	script  script.CompiledScript
}

// ScriptEvaluator holds every compiled script rule, run in declaration
// order after the declarative rule list produces no decision.
type ScriptEvaluator struct {
	compiled []compiledScriptRule
}

// NewScriptEvaluator compiles every script rule's predicate and source.
// Predicate compile failures follow the warn-and-continue policy
// rules.NewEvaluator uses; a script syntax error is fatal at config load
// (ScriptCompileFailure).
func NewScriptEvaluator(ruleList []types.ScriptRule, engine script.ScriptEngine) (*ScriptEvaluator, []error, error) {
	e := &ScriptEvaluator{compiled: make([]compiledScriptRule, 0, len(ruleList))}
	var warnings []error
	for _, r := range ruleList {
		m, warns := predicate.Compile(r.Match.Predicates)
		warnings = append(warnings, warns...)

		compiled, err := engine.Compile(r.ID, r.Source)
		if err != nil {
			return nil, nil, types.NewProxyError(types.ErrScriptCompileFailure, r.ID, err)
		}
		e.compiled = append(e.compiled, compiledScriptRule{rule: r, matcher: m, script: compiled})
	}
	return e, warnings, nil
}

// Len reports the number of compiled script rules.
func (e *ScriptEvaluator) Len() int { return len(e.compiled) }

// RuleIDAt returns the i'th script rule's declared ID.
func (e *ScriptEvaluator) RuleIDAt(i int) string { return e.compiled[i].rule.ID }

// MatchesAt reports whether the i'th script rule's upstream filter and
// predicate both admit req, without running the script itself. The pipeline
// only pays for a pool submission once this gates true.
func (e *ScriptEvaluator) MatchesAt(i int, req *types.RequestContext, upstream string) bool {
	cr := e.compiled[i]
	if cr.rule.UpstreamFilter != "" && cr.rule.UpstreamFilter != upstream {
		return false
	}
	return cr.matcher.Matches(req)
}

// ScriptAt returns the i'th rule's compiled program, ready to submit to a
// script.Pool.
func (e *ScriptEvaluator) ScriptAt(i int) script.CompiledScript { return e.compiled[i].script }

// DecisionFromResult converts a script's returned record (inject, fault,
// status, body, headers, duration_ms) into a FaultDecision. ok is false
// when the script declined to inject, in which case the caller falls
// through to the next script rule exactly as a declarative rule's
// probability miss falls through to the next rule.
func DecisionFromResult(ruleID string, res script.ScriptResult) (types.FaultDecision, bool) {
	if !res.Inject {
		return types.FaultDecision{}, false
	}
	switch res.Fault {
	case script.ScriptFaultLatency:
		return types.FaultDecision{Kind: types.DecisionLatency, RuleID: ruleID, DurationMS: res.DurationMS}, true
	case script.ScriptFaultError:
		return types.FaultDecision{
			Kind:    types.DecisionError,
			RuleID:  ruleID,
			Status:  res.Status,
			Body:    []byte(res.Body),
			Headers: res.Headers,
		}, true
	case script.ScriptFaultTCP:
		kind := types.TCPFaultConnectionReset
		if res.TCPKind == string(types.TCPFaultRandomDataClose) {
			kind = types.TCPFaultRandomDataClose
		}
		return types.FaultDecision{Kind: types.DecisionTCPFault, RuleID: ruleID, TCPKind: kind}, true
	default:
		return types.FaultDecision{}, false
	}
}
