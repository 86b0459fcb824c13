// Acceptance scenarios exercise six end-to-end walkthroughs, one Describe
// per behavior, a fresh server per scenario, table-free assertions via
// testhelpers. Each test drives a real TCP connection into a real
// fasthttp.Server instance wired with exactly the rules the scenario needs.
package acceptance_test

import (
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/edgecomet/imposter/pkg/types"
	"github.com/edgecomet/imposter/tests/testhelpers"
)

func doRequest(baseURL, method, path string, headers map[string]string) *testhelpers.TestResponse {
	req, err := http.NewRequest(method, baseURL+path, nil)
	if err != nil {
		return &testhelpers.TestResponse{Error: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return &testhelpers.TestResponse{Error: err, Duration: elapsed}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return &testhelpers.TestResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       string(body),
		Duration:   elapsed,
	}
}

var _ = Describe("latency injection", func() {
	It("delays the response by the configured fixed window", func() {
		proxy := newTestProxy(proxyOpts{
			upstreamFn: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
			rules: []types.Rule{
				{
					ID: "slow-checkout",
					Match: types.MatchConfig{Predicates: []types.Predicate{
						{Equals: map[string]any{"path": "/checkout"}},
					}},
					Fault: types.FaultConfig{Latency: &types.LatencyFault{Probability: 1, MinMS: 150, MaxMS: 150}},
				},
			},
		})
		defer proxy.Close()

		resp := doRequest(proxy.baseURL(), http.MethodGet, "/checkout", nil)
		testhelpers.ExpectStatus(resp, http.StatusOK)
		testhelpers.ExpectDurationBetween(resp, 150*time.Millisecond, 2*time.Second)
	})
})

var _ = Describe("error injection with headers", func() {
	It("serves the configured status, body, and headers without touching upstream", func() {
		proxy := newTestProxy(proxyOpts{
			upstreamFn: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
			rules: []types.Rule{
				{
					ID: "payments-down",
					Match: types.MatchConfig{Predicates: []types.Predicate{
						{Equals: map[string]any{"path": "/payments"}},
					}},
					Fault: types.FaultConfig{Error: &types.ErrorFault{
						Probability: 1,
						Status:      503,
						Body:        `{"error":"payments unavailable"}`,
						Headers:     map[string]string{"Retry-After": "5"},
					}},
				},
			},
		})
		defer proxy.Close()

		resp := doRequest(proxy.baseURL(), http.MethodGet, "/payments", nil)
		testhelpers.ExpectStatus(resp, http.StatusServiceUnavailable)
		testhelpers.ExpectBodyContains(resp, "payments unavailable")
		testhelpers.ExpectHeader(resp, "Retry-After", "5")
		testhelpers.ExpectDecisionSource(resp, string(types.DecisionSourceRule))
		Expect(proxy.upstream.Hits()).To(BeZero(), "upstream should never see a request a rule short-circuited")
	})
})

var _ = Describe("TCP connection reset", func() {
	It("breaks the connection instead of returning a well-formed HTTP response", func() {
		proxy := newTestProxy(proxyOpts{
			upstreamFn: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
			rules: []types.Rule{
				{
					ID: "flaky-link",
					Match: types.MatchConfig{Predicates: []types.Predicate{
						{Equals: map[string]any{"path": "/flaky"}},
					}},
					Fault: types.FaultConfig{TCP: &types.TCPFault{Kind: types.TCPFaultConnectionReset}},
				},
			},
		})
		defer proxy.Close()

		resp := doRequest(proxy.baseURL(), http.MethodGet, "/flaky", nil)
		Expect(resp.Error).To(HaveOccurred(), "a reset connection should surface as a client-side transport error")
	})
})

var _ = Describe("proxyOnce replay", func() {
	It("replays the first recorded upstream response without hitting upstream again", func() {
		hits := 0
		proxy := newTestProxy(proxyOpts{
			recordingMode: types.ProxyOnce,
			upstreamFn: func(w http.ResponseWriter, r *http.Request) {
				hits++
				w.Header().Set("X-Call-Count", "1")
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("first response"))
			},
		})
		defer proxy.Close()

		first := doRequest(proxy.baseURL(), http.MethodGet, "/catalog", nil)
		testhelpers.ExpectStatus(first, http.StatusOK)
		testhelpers.ExpectBodyContains(first, "first response")

		second := doRequest(proxy.baseURL(), http.MethodGet, "/catalog", nil)
		testhelpers.ExpectStatus(second, http.StatusOK)
		testhelpers.ExpectBodyContains(second, "first response")

		Expect(proxy.upstream.Hits()).To(Equal(int64(1)), "proxyOnce must only ever call upstream once per signature")

		stubs := doRequest(proxy.baseURL(), http.MethodGet, "/stubs", nil)
		testhelpers.ExpectStatus(stubs, http.StatusOK)
		testhelpers.ExpectBodyContains(stubs, `"path":"/catalog"`, `"statusCode":200`)
	})
})

var _ = Describe("per-field regex grouping", func() {
	It("matches a rule whose predicate combines a regex path with an equals header", func() {
		proxy := newTestProxy(proxyOpts{
			upstreamFn: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
			rules: []types.Rule{
				{
					ID: "beta-api-fault",
					Match: types.MatchConfig{Predicates: []types.Predicate{
						{Matches: map[string]any{"path": "^/api/v[0-9]+/orders$"}},
						{Equals: map[string]any{"headers": map[string]any{"X-Beta": "true"}}},
					}},
					Fault: types.FaultConfig{Error: &types.ErrorFault{Probability: 1, Status: 500, Body: "beta path failure"}},
				},
			},
		})
		defer proxy.Close()

		matched := doRequest(proxy.baseURL(), http.MethodGet, "/api/v2/orders", map[string]string{"X-Beta": "true"})
		testhelpers.ExpectStatus(matched, http.StatusInternalServerError)
		testhelpers.ExpectBodyContains(matched, "beta path failure")

		unmatched := doRequest(proxy.baseURL(), http.MethodGet, "/api/v2/orders", map[string]string{"X-Beta": "false"})
		testhelpers.ExpectStatus(unmatched, http.StatusOK)
	})
})

var _ = Describe("script-driven progressive failure", func() {
	It("escalates fault severity across repeated calls using flow-state counters", func() {
		script := `
local count = flow.incr("attempts", 1, 0)
if count < 3 then
  return { inject = false, cache = false }
end
if count < 5 then
  return { inject = true, fault = "latency", duration_ms = 200, cache = false }
end
return { inject = true, fault = "error", status = 500, body = "giving up", cache = false }
`
		proxy := newTestProxy(proxyOpts{
			upstreamFn: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
			scriptRules: []types.ScriptRule{
				{
					ID:     "progressive-degradation",
					Source: script,
					Match: types.MatchConfig{Predicates: []types.Predicate{
						{Equals: map[string]any{"path": "/degrade"}},
					}},
				},
			},
		})
		defer proxy.Close()

		for i := 0; i < 2; i++ {
			resp := doRequest(proxy.baseURL(), http.MethodGet, "/degrade", nil)
			testhelpers.ExpectStatus(resp, http.StatusOK)
		}

		for i := 0; i < 2; i++ {
			resp := doRequest(proxy.baseURL(), http.MethodGet, "/degrade", nil)
			testhelpers.ExpectStatus(resp, http.StatusOK)
			testhelpers.ExpectDurationBetween(resp, 200*time.Millisecond, 2*time.Second)
		}

		final := doRequest(proxy.baseURL(), http.MethodGet, "/degrade", nil)
		testhelpers.ExpectStatus(final, http.StatusInternalServerError)
		testhelpers.ExpectBodyContains(final, "giving up")
	})
})
