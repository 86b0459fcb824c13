package script

import (
	"context"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// LuaEngine is the concrete, shipped ScriptEngine: gopher-lua compiles a
// script once at load time into a *lua.FunctionProto (engine-independent
// bytecode), and every invocation runs that proto on an *lua.LState drawn
// from a sync.Pool so concurrent requests never share interpreter state
// while still avoiding a fresh allocation on every call.
type LuaEngine struct {
	states sync.Pool
}

// NewLuaEngine constructs the Lua ScriptEngine.
func NewLuaEngine() *LuaEngine {
	return &LuaEngine{
		states: sync.Pool{
			New: func() any { return lua.NewState() },
		},
	}
}

// Compile syntax-checks source and compiles it to bytecode at config load.
// A syntax error here is a ScriptCompileFailure and fails startup for the
// offending rule.
func (e *LuaEngine) Compile(ruleID, source string) (CompiledScript, error) {
	tmp := lua.NewState()
	defer tmp.Close()

	fn, err := tmp.LoadString(source)
	if err != nil {
		return CompiledScript{}, fmt.Errorf("lua compile %s: %w", ruleID, err)
	}
	return CompiledScript{RuleID: ruleID, proto: fn.Proto}, nil
}

// Run executes script against view, with flow bound as Lua globals `request`
// and `flow`. The script's return value (a single Lua table) is decoded into
// a ScriptResult. Context cancellation (the pool's per-invocation timeout)
// interrupts the interpreter via LState.SetContext, which gopher-lua checks
// between VM instructions; on interrupt the call returns a context error and
// the caller (internal/script.Pool) classifies it as ScriptTimeout.
func (e *LuaEngine) Run(ctx context.Context, script CompiledScript, view RequestView, flow FlowState) (ScriptResult, error) {
	proto, ok := script.proto.(*lua.FunctionProto)
	if !ok {
		return ScriptResult{}, fmt.Errorf("lua: script %s was not compiled by this engine", script.RuleID)
	}

	L := e.states.Get().(*lua.LState)
	defer func() {
		L.SetContext(context.Background())
		e.states.Put(L)
	}()
	L.SetContext(ctx)

	L.SetGlobal("request", buildRequestTable(L, view))
	L.SetGlobal("flow", buildFlowTable(L, ctx, flow))

	fn := L.NewFunctionFromProto(proto)
	L.Push(fn)

	var result ScriptResult
	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				runErr = fmt.Errorf("lua: script %s panicked: %v", script.RuleID, r)
			}
		}()
		if err := L.PCall(0, 1, nil); err != nil {
			runErr = fmt.Errorf("lua: script %s runtime error: %w", script.RuleID, err)
			return
		}
		ret := L.Get(-1)
		L.Pop(1)
		tbl, ok := ret.(*lua.LTable)
		if !ok {
			runErr = fmt.Errorf("lua: script %s did not return a table", script.RuleID)
			return
		}
		result = decodeResult(tbl)
	}()
	if runErr != nil {
		return ScriptResult{}, runErr
	}
	return result, nil
}

func buildRequestTable(L *lua.LState, view RequestView) *lua.LTable {
	req := L.NewTable()
	req.RawSetString("method", lua.LString(view.Method))
	req.RawSetString("path", lua.LString(view.Path))
	req.RawSetString("body", lua.LString(view.Body))

	headers := L.NewTable()
	for k, v := range view.Headers {
		headers.RawSetString(k, lua.LString(v))
	}
	req.RawSetString("headers", headers)

	query := L.NewTable()
	for k, v := range view.Query {
		query.RawSetString(k, lua.LString(v))
	}
	req.RawSetString("query", query)
	return req
}

func buildFlowTable(L *lua.LState, ctx context.Context, flow FlowState) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("incr", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		delta := int64(L.OptInt(2, 1))
		ttl := int64(L.OptInt(3, 0))
		v, err := flow.Incr(ctx, key, delta, ttl)
		if err != nil {
			L.RaiseError("flow.incr: %v", err)
			return 0
		}
		L.Push(lua.LNumber(v))
		return 1
	}))
	t.RawSetString("get", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		v, err := flow.Get(ctx, key)
		if err != nil {
			L.RaiseError("flow.get: %v", err)
			return 0
		}
		L.Push(lua.LNumber(v))
		return 1
	}))
	t.RawSetString("set", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		value := int64(L.CheckNumber(2))
		ttl := int64(L.OptInt(3, 0))
		if err := flow.Set(ctx, key, value, ttl); err != nil {
			L.RaiseError("flow.set: %v", err)
		}
		return 0
	}))
	return t
}

func decodeResult(tbl *lua.LTable) ScriptResult {
	res := ScriptResult{Cacheable: true}
	if v, ok := tbl.RawGetString("cache").(lua.LBool); ok {
		res.Cacheable = bool(v)
	}
	res.Inject = lua.LVAsBool(tbl.RawGetString("inject"))
	res.Fault = lua.LVAsString(tbl.RawGetString("fault"))
	if status, ok := tbl.RawGetString("status").(lua.LNumber); ok {
		res.Status = int(status)
	}
	res.Body = lua.LVAsString(tbl.RawGetString("body"))
	res.TCPKind = lua.LVAsString(tbl.RawGetString("tcp_kind"))
	if d, ok := tbl.RawGetString("duration_ms").(lua.LNumber); ok {
		res.DurationMS = int64(d)
	}
	if h, ok := tbl.RawGetString("headers").(*lua.LTable); ok {
		headers := make(map[string]string)
		h.ForEach(func(k, v lua.LValue) {
			headers[lua.LVAsString(k)] = lua.LVAsString(v)
		})
		if len(headers) > 0 {
			res.Headers = headers
		}
	}
	return res
}
