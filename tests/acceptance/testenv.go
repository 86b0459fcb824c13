// Package acceptance_test drives the compiled pipeline end to end over a
// real TCP listener and a real upstream. It is built directly against
// internal/pipeline rather than spawning a compiled binary, since every
// component here is already safe for in-process construction.
package acceptance_test

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/imposter/internal/cache"
	"github.com/edgecomet/imposter/internal/fingerprint"
	"github.com/edgecomet/imposter/internal/flowstate"
	"github.com/edgecomet/imposter/internal/metrics"
	"github.com/edgecomet/imposter/internal/pipeline"
	"github.com/edgecomet/imposter/internal/recording"
	"github.com/edgecomet/imposter/internal/rules"
	"github.com/edgecomet/imposter/internal/script"
	"github.com/edgecomet/imposter/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
)

// upstreamStub is a minimal origin server the proxy forwards to, counting
// how many times it was actually hit so tests can assert replay/recording
// avoided a second upstream call.
type upstreamStub struct {
	listener net.Listener
	hits     int64
	respond  func(w http.ResponseWriter, r *http.Request)
}

func newUpstreamStub(respond func(w http.ResponseWriter, r *http.Request)) *upstreamStub {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	u := &upstreamStub{listener: ln, respond: respond}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&u.hits, 1)
		u.respond(w, r)
	})}
	go srv.Serve(ln)
	return u
}

func (u *upstreamStub) addr() string { return u.listener.Addr().String() }
func (u *upstreamStub) Hits() int64  { return atomic.LoadInt64(&u.hits) }
func (u *upstreamStub) Close()       { u.listener.Close() }

// testProxy wraps one fully-wired pipeline.Handler bound to a real TCP
// listener, so acceptance tests exercise real HTTP round trips instead of
// calling Handle directly.
type testProxy struct {
	listener net.Listener
	server   *fasthttp.Server
	upstream *upstreamStub
	scripts  *script.Pool
}

type proxyOpts struct {
	rules         []types.Rule
	scriptRules   []types.ScriptRule
	recordingMode types.ProxyMode
	upstreamFn    func(w http.ResponseWriter, r *http.Request)
}

func newTestProxy(opts proxyOpts) *testProxy {
	logger := zap.NewNop()
	upstream := newUpstreamStub(opts.upstreamFn)

	router, err := pipeline.NewRouter(&types.Upstream{Name: "origin", URL: "http://" + upstream.addr()}, nil, nil)
	if err != nil {
		panic(err)
	}
	forwarder, err := pipeline.ForwarderForSidecar(types.Upstream{Name: "origin", URL: "http://" + upstream.addr()}, types.ConnectionPoolConfig{})
	if err != nil {
		panic(err)
	}

	evaluator, warnings := rules.NewEvaluator(opts.rules)
	if len(warnings) > 0 {
		panic(warnings[0])
	}

	var scriptEvaluator *rules.ScriptEvaluator
	var pool *script.Pool
	if len(opts.scriptRules) > 0 {
		engine := script.NewLuaEngine()
		var serr error
		scriptEvaluator, _, serr = rules.NewScriptEvaluator(opts.scriptRules, engine)
		if serr != nil {
			panic(serr)
		}
		pool = script.NewPool(engine, 4, 100, 2*time.Second)
	}

	decisionCache, err := cache.New(cache.Config{Enabled: true, MaxSize: 1000, Shards: 1})
	if err != nil {
		panic(err)
	}

	mode := opts.recordingMode
	if mode == "" {
		mode = types.ProxyTransparent
	}
	store := recording.NewFileStore("", "", 0, logger)
	recordingEngine := recording.NewEngine(mode, store)

	handler := pipeline.NewHandler(pipeline.Handler{
		Router:              router,
		Forwarder:           forwarder,
		Evaluator:           evaluator,
		ScriptEvaluator:     scriptEvaluator,
		ScriptPool:          pool,
		FlowState:           flowstate.NewMemoryStore(),
		Cache:               decisionCache,
		FPConfig:            fingerprint.Config{},
		RecordingEngine:     recordingEngine,
		RecordingGenerators: []types.PredicateGenerator{{Method: true, Path: true}},
		Metrics:             metrics.New("imposter_test", prometheus.NewRegistry()),
		Logger:              logger,
		ForwardTimeout:      2 * time.Second,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	srv := &fasthttp.Server{Handler: handler.Handle}
	go srv.Serve(ln)

	return &testProxy{listener: ln, server: srv, upstream: upstream, scripts: pool}
}

func (p *testProxy) baseURL() string { return "http://" + p.listener.Addr().String() }

func (p *testProxy) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.server.ShutdownWithContext(ctx)
	if p.scripts != nil {
		p.scripts.Close()
	}
	p.upstream.Close()
}
