// Package testhelpers holds gomega-based assertion helpers shared by the
// acceptance suite.
package testhelpers

import (
	"net/http"
	"time"

	. "github.com/onsi/gomega"
)

// TestResponse captures one client round trip against the proxy.
type TestResponse struct {
	StatusCode int
	Headers    http.Header
	Body       string
	Duration   time.Duration
	Error      error
}

// ExpectNoError checks that the request completed without a transport error.
func ExpectNoError(response *TestResponse) {
	Expect(response).NotTo(BeNil(), "response should not be nil")
	Expect(response.Error).To(BeNil(), "request should not have a network error")
}

// ExpectStatus verifies the response status code.
func ExpectStatus(response *TestResponse, statusCode int) {
	ExpectNoError(response)
	Expect(response.StatusCode).To(Equal(statusCode),
		"expected status code %d, got %d", statusCode, response.StatusCode)
}

// ExpectBodyContains verifies the response body contains every substring.
func ExpectBodyContains(response *TestResponse, substrings ...string) {
	for _, s := range substrings {
		Expect(response.Body).To(ContainSubstring(s), "response body should contain: %s", s)
	}
}

// ExpectHeader verifies a response header carries the expected value.
func ExpectHeader(response *TestResponse, name, value string) {
	Expect(response.Headers.Get(name)).To(Equal(value),
		"expected header %s=%s, got %q", name, value, response.Headers.Get(name))
}

// ExpectDecisionSource verifies the X-Imposter-Source provenance header:
// every response carries a header indicating whether the body came from
// an upstream, a rule, a script, or a recorded playback.
func ExpectDecisionSource(response *TestResponse, source string) {
	ExpectHeader(response, "X-Imposter-Source", source)
}

// ExpectDurationBetween verifies elapsed request time falls within
// [min,max), used to assert injected latency actually delayed the
// response.
func ExpectDurationBetween(response *TestResponse, min, max time.Duration) {
	Expect(response.Duration).To(BeNumerically(">=", min),
		"expected duration >= %v, got %v", min, response.Duration)
	Expect(response.Duration).To(BeNumerically("<", max),
		"expected duration < %v, got %v", max, response.Duration)
}

// ExpectServerError verifies a 5xx response.
func ExpectServerError(response *TestResponse) {
	ExpectNoError(response)
	Expect(response.StatusCode).To(BeNumerically(">=", 500))
}
