package pipeline

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/imposter/internal/behaviors"
	"github.com/edgecomet/imposter/internal/cache"
	"github.com/edgecomet/imposter/internal/common/httputil"
	"github.com/edgecomet/imposter/internal/common/requestid"
	"github.com/edgecomet/imposter/internal/fingerprint"
	"github.com/edgecomet/imposter/internal/flowstate"
	"github.com/edgecomet/imposter/internal/metrics"
	"github.com/edgecomet/imposter/internal/netutil"
	"github.com/edgecomet/imposter/internal/recording"
	"github.com/edgecomet/imposter/internal/rules"
	"github.com/edgecomet/imposter/internal/script"
	"github.com/edgecomet/imposter/pkg/types"
)

// Handler implements the per-request fasthttp handler: route resolution,
// fingerprint+cache-gated rule/script evaluation, action dispatch, and
// recording. One Handler serves either sidecar or reverseProxy mode; which
// mode is entirely a property of how Router was built.
type Handler struct {
	Router    *Router
	Forwarder *Forwarder

	Evaluator       *rules.Evaluator
	ScriptEvaluator *rules.ScriptEvaluator
	ScriptPool      *script.Pool
	FlowState       flowstate.Store

	Cache    *cache.Cache
	FPConfig fingerprint.Config

	RecordingEngine     *recording.Engine
	RecordingGenerators []types.PredicateGenerator
	AddWaitBehavior     bool

	Metrics *metrics.Metrics
	Logger  *zap.Logger

	ClientIPHeaders []string
	ForwardTimeout  time.Duration

	startedAt time.Time
}

// NewHandler wires every already-constructed component into one request
// handler. Every field is required except ScriptEvaluator/ScriptPool (nil
// when no scriptRules are configured) and RecordingEngine (nil when
// recording.mode defaults leave it disabled — in practice always set since
// proxyTransparent is itself a valid, always-constructed engine).
func NewHandler(h Handler) *Handler {
	h.startedAt = time.Now()
	return &h
}

// Handle is the fasthttp.RequestHandler entry point.
func (h *Handler) Handle(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	path := string(ctx.Path())

	switch path {
	case "/health":
		h.serveHealth(ctx)
		return
	case "/ready":
		h.serveReady(ctx)
		return
	case "/stubs":
		h.serveStubs(ctx)
		return
	}

	// Derived up front (the inbound header survives forwarding, the response
	// header would not), stamped after dispatch so an upstream's own
	// correlation header never wins over ours.
	reqID := requestid.Derive(string(ctx.Request.Header.Peek(requestid.Header)))
	defer ctx.Response.Header.Set(requestid.Header, reqID)

	host := hostWithoutPort(string(ctx.Host()))
	headers := collectHeaders(ctx)

	upstream, ok := h.Router.Resolve(host, path, headers)
	if !ok {
		httputil.WriteGatewayError(ctx, fasthttp.StatusNotFound, "no route matches this request")
		return
	}

	req := h.buildRequestContext(ctx, upstream.Name, headers)

	decision, source := h.evaluate(ctx, req, upstream.Name)
	h.dispatch(ctx, req, upstream, decision, source, start)
}

func hostWithoutPort(host string) string {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}

func collectHeaders(ctx *fasthttp.RequestCtx) []types.KV {
	var headers []types.KV
	ctx.Request.Header.VisitAll(func(key, value []byte) {
		headers = append(headers, types.KV{Key: strings.ToLower(string(key)), Value: string(value)})
	})
	return headers
}

func collectQuery(ctx *fasthttp.RequestCtx) []types.KV {
	var query []types.KV
	ctx.QueryArgs().VisitAll(func(key, value []byte) {
		query = append(query, types.KV{Key: string(key), Value: string(value)})
	})
	return query
}

func collectForm(ctx *fasthttp.RequestCtx) []types.KV {
	ct := string(ctx.Request.Header.ContentType())
	if !strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		return nil
	}
	var form []types.KV
	ctx.PostArgs().VisitAll(func(key, value []byte) {
		form = append(form, types.KV{Key: string(key), Value: string(value)})
	})
	return form
}

func (h *Handler) buildRequestContext(ctx *fasthttp.RequestCtx, upstreamName string, headers []types.KV) *types.RequestContext {
	return &types.RequestContext{
		Method:      string(ctx.Method()),
		Path:        string(ctx.Path()),
		Query:       collectQuery(ctx),
		Headers:     headers,
		Form:        collectForm(ctx),
		Body:        ctx.PostBody(),
		ClientIP:    netutil.Extract(ctx, h.ClientIPHeaders),
		RequestFrom: ctx.RemoteAddr().String(),
		Upstream:    upstreamName,
	}
}

// evaluate walks declarative rules, then script rules, fingerprinting and
// cache-checking each candidate individually before evaluating it, so every
// fingerprint includes the rule_id of the rule it is checked for. The
// returned source is DecisionSourceRule/DecisionSourceScript when a fault
// fires, "" for None.
func (h *Handler) evaluate(ctx *fasthttp.RequestCtx, req *types.RequestContext, upstream string) (types.FaultDecision, string) {
	for i := 0; i < h.Evaluator.Len(); i++ {
		ruleID := h.Evaluator.RuleIDAt(i)
		fp := fingerprint.Compute(req, ruleID, h.FPConfig)
		if cached, hit := h.Cache.Get(fp); hit {
			h.Metrics.RecordCacheHit()
			if !cached.IsNone() {
				return cached, types.DecisionSourceRule
			}
			continue
		}
		h.Metrics.RecordCacheMiss()
		decision, fired := h.Evaluator.EvaluateAt(i, req, upstream)
		h.Cache.Insert(fp, decision)
		if fired {
			h.Metrics.RecordRuleFiring(ruleID, faultLabel(decision.Kind))
			return decision, types.DecisionSourceRule
		}
	}

	if h.ScriptEvaluator == nil {
		return types.FaultDecision{}, ""
	}
	for i := 0; i < h.ScriptEvaluator.Len(); i++ {
		ruleID := h.ScriptEvaluator.RuleIDAt(i)
		fp := fingerprint.Compute(req, ruleID, h.FPConfig)
		if cached, hit := h.Cache.Get(fp); hit {
			h.Metrics.RecordCacheHit()
			if !cached.IsNone() {
				return cached, types.DecisionSourceScript
			}
			continue
		}
		h.Metrics.RecordCacheMiss()
		if !h.ScriptEvaluator.MatchesAt(i, req, upstream) {
			h.Cache.Insert(fp, types.FaultDecision{})
			continue
		}
		decision, ok, cacheable := h.runScript(ctx, i, req, ruleID)
		if !ok {
			continue // QueueFull/Timeout/runtime error: fall back without caching
		}
		if cacheable {
			h.Cache.Insert(fp, decision)
		}
		if !decision.IsNone() {
			return decision, types.DecisionSourceScript
		}
	}
	return types.FaultDecision{}, ""
}

func faultLabel(kind types.FaultDecisionKind) string {
	switch kind {
	case types.DecisionLatency:
		return "latency"
	case types.DecisionError:
		return "error"
	case types.DecisionTCPFault:
		return "tcp"
	default:
		return "none"
	}
}

// runScript submits the i'th script rule to the pool. ok is false only for a
// hard failure (queue-full, timeout, runtime error) that should skip this
// rule without caching anything; cacheable is the script's own cache
// opt-out.
func (h *Handler) runScript(ctx *fasthttp.RequestCtx, i int, req *types.RequestContext, ruleID string) (decision types.FaultDecision, ok bool, cacheable bool) {
	view := script.RequestView{
		Method:  req.Method,
		Path:    req.Path,
		Body:    string(req.Body),
		Query:   kvToMap(req.Query),
		Headers: kvToMap(req.Headers),
	}
	invokedAt := time.Now()
	res, err := h.ScriptPool.Submit(ctx, h.ScriptEvaluator.ScriptAt(i), view, h.FlowState)
	dur := time.Since(invokedAt)
	if err != nil {
		outcome := "error"
		var perr *types.ProxyError
		if errors.As(err, &perr) {
			switch perr.Kind {
			case types.ErrQueueFull:
				outcome = "queueFull"
				h.Metrics.RecordScriptQueueFull()
			case types.ErrScriptTimeout:
				outcome = "timeout"
				h.Metrics.RecordScriptTimeout()
			}
		}
		h.Metrics.RecordScriptInvocation(ruleID, outcome, dur)
		h.Logger.Warn("script rule failed, falling back to next rule",
			zap.String("ruleId", ruleID), zap.Error(err))
		return types.FaultDecision{}, false, false
	}

	var fired bool
	decision, fired = rules.DecisionFromResult(ruleID, res)
	outcome := "none"
	if fired {
		outcome = "fired"
	}
	h.Metrics.RecordScriptInvocation(ruleID, outcome, dur)
	return decision, true, res.Cacheable
}

func kvToMap(kvs []types.KV) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

// dispatch acts on the materialized decision.
func (h *Handler) dispatch(ctx *fasthttp.RequestCtx, req *types.RequestContext, upstream types.Upstream, decision types.FaultDecision, source string, start time.Time) {
	switch decision.Kind {
	case types.DecisionTCPFault:
		h.Metrics.RecordTCPFault(string(decision.TCPKind))
		h.Logger.Info("injecting tcp fault",
			zap.String("ruleId", decision.RuleID), zap.String("kind", string(decision.TCPKind)))
		ApplyTCPFault(ctx, decision.TCPKind)
	case types.DecisionError:
		h.serveErrorFault(ctx, req, decision, source, start, upstream.Name)
	case types.DecisionLatency:
		if decision.DurationMS > 0 {
			time.Sleep(time.Duration(decision.DurationMS) * time.Millisecond)
		}
		h.forwardAndRecord(ctx, req, upstream, start)
	default:
		h.serveNoneDecision(ctx, req, upstream, start)
	}
}

func (h *Handler) serveErrorFault(ctx *fasthttp.RequestCtx, req *types.RequestContext, decision types.FaultDecision, source string, start time.Time, upstream string) {
	body, headers, extraWait := behaviors.Apply(req, decision.Body, decision.Headers, decision.Behaviors)
	if extraWait > 0 {
		time.Sleep(extraWait)
	}
	ctx.SetStatusCode(decision.Status)
	for k, v := range headers {
		ctx.Response.Header.Set(k, v)
	}
	ctx.Response.Header.Set(types.DecisionSourceHeader, source)
	ctx.SetBody(body)
	h.Metrics.RecordRequest(upstream, source, strconv.Itoa(decision.Status), time.Since(start))
}

// serveNoneDecision handles the "None" decision's replay/record table:
// proxyOnce replays an existing recording instead of forwarding; every
// other case forwards and then records per mode.
func (h *Handler) serveNoneDecision(ctx *fasthttp.RequestCtx, req *types.RequestContext, upstream types.Upstream, start time.Time) {
	if h.RecordingEngine != nil {
		sig := recording.BuildSignature(req, h.RecordingGenerators)
		if rec, hit, err := h.RecordingEngine.ShouldReplay(ctx, sig); err != nil {
			h.Logger.Warn("recording lookup failed", zap.Error(err))
		} else if hit {
			h.serveRecorded(ctx, rec, start, upstream.Name)
			return
		}
	}
	h.forwardAndRecord(ctx, req, upstream, start)
}

func (h *Handler) serveRecorded(ctx *fasthttp.RequestCtx, rec types.RecordedResponse, start time.Time, upstream string) {
	if h.AddWaitBehavior && rec.LatencyMS != nil && *rec.LatencyMS > 0 {
		time.Sleep(time.Duration(*rec.LatencyMS) * time.Millisecond)
	}
	ctx.SetStatusCode(rec.Status)
	for k, v := range rec.Headers {
		ctx.Response.Header.Set(k, v)
	}
	ctx.Response.Header.Set(types.DecisionSourceHeader, types.DecisionSourceRecording)
	ctx.SetBody(rec.Body)
	h.Metrics.RecordRecordingReplay(string(h.RecordingEngine.Mode()))
	h.Metrics.RecordRequest(upstream, types.DecisionSourceRecording, strconv.Itoa(rec.Status), time.Since(start))
}

func (h *Handler) forwardAndRecord(ctx *fasthttp.RequestCtx, req *types.RequestContext, upstream types.Upstream, start time.Time) {
	forwardStart := time.Now()
	if err := h.Forwarder.Forward(upstream.Name, &ctx.Request, &ctx.Response, h.ForwardTimeout); err != nil {
		h.Logger.Error("upstream forward failed", zap.String("upstream", upstream.Name), zap.Error(err))
		httputil.WriteGatewayError(ctx, fasthttp.StatusBadGateway, "upstream unreachable")
		ctx.Response.Header.Set(types.DecisionSourceHeader, types.DecisionSourceUpstream)
		h.Metrics.RecordRequest(upstream.Name, types.DecisionSourceUpstream, "502", time.Since(start))
		return
	}
	ctx.Response.Header.Set(types.DecisionSourceHeader, types.DecisionSourceUpstream)
	status := ctx.Response.StatusCode()
	h.Metrics.RecordRequest(upstream.Name, types.DecisionSourceUpstream, strconv.Itoa(status), time.Since(start))

	if h.RecordingEngine == nil {
		return
	}
	latencyMS := time.Since(forwardStart).Milliseconds()
	sig := recording.BuildSignature(req, h.RecordingGenerators)
	resp := types.RecordedResponse{
		Status:        status,
		Headers:       headerMap(&ctx.Response),
		Body:          append([]byte(nil), ctx.Response.Body()...),
		LatencyMS:     &latencyMS,
		TimestampSecs: start.Unix(),
	}
	if err := h.RecordingEngine.Record(ctx, sig, resp); err != nil {
		h.Logger.Warn("recording store write failed", zap.Error(err))
		return
	}
	if h.RecordingEngine.Mode() != types.ProxyTransparent {
		h.Metrics.RecordRecordingStored(string(h.RecordingEngine.Mode()))
	}
}

func headerMap(resp *fasthttp.Response) map[string]string {
	m := map[string]string{}
	resp.Header.VisitAll(func(key, value []byte) {
		m[string(key)] = string(value)
	})
	return m
}

// serveHealth reports process liveness plus gopsutil-sourced load/memory.
func (h *Handler) serveHealth(ctx *fasthttp.RequestCtx) {
	data := map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startedAt).String(),
	}
	if avg, err := load.Avg(); err == nil {
		data["load1"] = avg.Load1
		data["load5"] = avg.Load5
		data["load15"] = avg.Load15
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		data["memUsedPercent"] = vm.UsedPercent
	}
	httputil.WriteJSON(ctx, fasthttp.StatusOK, data)
}

// serveStubs exports every recorded signature as a Mountebank-compatible
// stub document, so an operator can lift live recordings straight into a
// declarative imposter configuration.
func (h *Handler) serveStubs(ctx *fasthttp.RequestCtx) {
	if h.RecordingEngine == nil {
		httputil.WriteJSON(ctx, fasthttp.StatusOK, []types.Stub{})
		return
	}
	stubs, err := recording.ExportStubs(ctx, h.RecordingEngine.Store(), h.AddWaitBehavior)
	if err != nil {
		h.Logger.Error("stub export failed", zap.Error(err))
		httputil.WriteGatewayError(ctx, fasthttp.StatusInternalServerError, "stub export failed")
		return
	}
	httputil.WriteJSON(ctx, fasthttp.StatusOK, stubs)
}

// serveReady always answers 200 with {"status":"ready"} once the handler is
// serving. It does not check upstream reachability, connection pools, or
// the router's upstream configuration.
func (h *Handler) serveReady(ctx *fasthttp.RequestCtx) {
	httputil.WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ready"})
}
