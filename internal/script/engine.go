// Package script implements the script execution pool: a bounded worker
// pool running user-authored scripts against a read-only request view and a
// flow-state handle, with per-invocation timeout and queue-full
// backpressure. The shipped ScriptEngine is Lua (github.com/yuin/gopher-lua);
// the interface is a pluggable seam, so a Rhai or JavaScript engine could
// implement the same contract without touching the pool.
package script

import (
	"context"

	"github.com/edgecomet/imposter/internal/flowstate"
)

// FlowState is the read/write counter handle scripts are given.
type FlowState = flowstate.Store

// RequestView is the read-only request projection handed to a script. It
// intentionally exposes only first-value maps: scripts reason about "the
// header", not the full multimap the predicate engine sees.
type RequestView struct {
	Method  string
	Path    string
	Query   map[string]string
	Headers map[string]string
	Body    string
}

// ScriptResult is the structured decision a script returns:
// `{ inject, fault, status, body, headers, duration_ms, cache }`.
type ScriptResult struct {
	Inject     bool
	Fault      string // "latency" | "error" | "tcp"
	Status     int
	Body       string
	Headers    map[string]string
	DurationMS int64
	// TCPKind carries the tcp fault variant ("connectionResetByPeer" |
	// "randomDataThenClose") when Fault == ScriptFaultTCP.
	TCPKind string
	// Cacheable is false when the script set `cache = false`, opting this
	// invocation's result out of the decision cache, required for scripts
	// that key off flow-state counters, where an identical request must
	// re-run the script rather than replay a memoized decision. Defaults to
	// true.
	Cacheable bool
}

const (
	ScriptFaultLatency = "latency"
	ScriptFaultError   = "error"
	ScriptFaultTCP     = "tcp"
)

// CompiledScript is an engine-opaque compiled program, cached per rule_id at
// config load.
type CompiledScript struct {
	RuleID string
	// proto is the engine-internal compiled representation. Concrete engines
	// store their own data here; only the engine that produced it reads it.
	proto any
}

// ScriptEngine is the pluggable script evaluator seam.
type ScriptEngine interface {
	Compile(ruleID, source string) (CompiledScript, error)
	Run(ctx context.Context, script CompiledScript, view RequestView, flow FlowState) (ScriptResult, error)
}
