// Package fingerprint computes the decision-cache key for a request: a
// 64-bit hash of method, path, the predicate-generator-selected headers
// (sorted), a body contribution, and the rule ID that produced the decision
// being cached. It uses a single streaming xxhash digest rather than a
// struct-then-hash key.
package fingerprint

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/edgecomet/imposter/pkg/types"
)

// Config selects which headers contribute to the fingerprint. Only headers
// named here (lowercase) participate; everything else is excluded so two
// requests that differ only in an untracked header collide deliberately.
type Config struct {
	HeaderNames []string
}

const contentTypeJSON = "application/json"

// Compute derives the fingerprint for req under rule ruleID. Rule ID is
// included because each rule has its own decision surface: the same
// request can produce different cached decisions depending on which rule
// is being evaluated against it.
func Compute(req *types.RequestContext, ruleID string, cfg Config) uint64 {
	h := xxhash.New()
	writeField(h, strings.ToUpper(req.Method))
	writeField(h, req.Path)

	for _, kv := range sortedHeaders(req.Headers, cfg.HeaderNames) {
		writeField(h, kv.Key)
		writeField(h, kv.Value)
	}

	writeField(h, bodyContribution(req))
	writeField(h, ruleID)

	return h.Sum64()
}

func writeField(h *xxhash.Digest, s string) {
	_, _ = h.WriteString(s)
	_, _ = h.WriteString("\x00")
}

func sortedHeaders(headers []types.KV, names []string) []types.KV {
	if len(names) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[strings.ToLower(n)] = true
	}
	var out []types.KV
	for _, kv := range headers {
		if wanted[kv.Key] {
			out = append(out, kv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// bodyContribution returns the canonical string form of the parsed JSON
// body when the request declares a JSON content type, or the raw body
// otherwise. Canonicalizing JSON means two bodies that differ only in key
// order or whitespace fingerprint identically.
func bodyContribution(req *types.RequestContext) string {
	if len(req.Body) == 0 {
		return ""
	}
	if !isJSONContentType(req) {
		return string(req.Body)
	}
	var v any
	if err := json.Unmarshal(req.Body, &v); err != nil {
		return string(req.Body)
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return string(req.Body)
	}
	return string(canonical)
}

func isJSONContentType(req *types.RequestContext) bool {
	ct, ok := req.HeaderValue("content-type")
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(ct), contentTypeJSON)
}
