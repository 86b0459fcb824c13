// Package pipeline wires the compiled predicate/rule/script machinery, the
// decision cache, the recording engine, and upstream forwarding into the
// per-request fasthttp handler, using pkg/pattern for host/path routing.
package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/edgecomet/imposter/pkg/pattern"
	"github.com/edgecomet/imposter/pkg/types"
)

// route is a compiled types.Route: host/path matchers built once at load
// time, never per request.
type route struct {
	name       string
	host       *pattern.Pattern
	pathPrefix string
	pathExact  string
	pathRegex  *regexp.Regexp
	headers    []types.KV
	upstream   string
}

// Router selects an upstream for an incoming request, either the single
// sidecar upstream or, in reverseProxy mode, the first matching route in
// declaration order.
type Router struct {
	sidecar   *types.Upstream
	routes    []route
	upstreams map[string]types.Upstream
}

// NewRouter builds a Router from the resolved config. Exactly one of
// sidecarUpstream or upstreams+routes should be populated, matching
// config.Validate's mode invariant.
func NewRouter(sidecarUpstream *types.Upstream, upstreams []types.Upstream, routes []types.Route) (*Router, error) {
	r := &Router{sidecar: sidecarUpstream, upstreams: make(map[string]types.Upstream, len(upstreams))}
	for _, u := range upstreams {
		r.upstreams[u.Name] = u
	}
	for _, rt := range routes {
		compiled := route{name: rt.Name, upstream: rt.Upstream, headers: rt.Match.Headers}
		if rt.Match.Host != "" {
			compiled.host = pattern.Compile(rt.Match.Host)
		}
		compiled.pathPrefix = rt.Match.PathPrefix
		compiled.pathExact = rt.Match.PathExact
		if rt.Match.PathRegex != "" {
			re, err := regexp.Compile(rt.Match.PathRegex)
			if err != nil {
				return nil, fmt.Errorf("pipeline: route %q has invalid pathRegex: %w", rt.Name, err)
			}
			compiled.pathRegex = re
		}
		r.routes = append(r.routes, compiled)
	}
	return r, nil
}

// Resolve returns the upstream a request should be forwarded to, and whether
// one was found. In sidecar mode the single configured upstream always wins.
func (r *Router) Resolve(host, path string, headers []types.KV) (types.Upstream, bool) {
	if r.sidecar != nil {
		return *r.sidecar, true
	}
	for _, rt := range r.routes {
		if !rt.matches(host, path, headers) {
			continue
		}
		u, ok := r.upstreams[rt.upstream]
		return u, ok
	}
	return types.Upstream{}, false
}

func (rt *route) matches(host, path string, headers []types.KV) bool {
	if rt.host != nil && !rt.host.Match(host) {
		return false
	}
	if rt.pathExact != "" && path != rt.pathExact {
		return false
	}
	if rt.pathPrefix != "" && !strings.HasPrefix(path, rt.pathPrefix) {
		return false
	}
	if rt.pathRegex != nil && !rt.pathRegex.MatchString(path) {
		return false
	}
	for _, want := range rt.headers {
		if !headerMatches(headers, want) {
			return false
		}
	}
	return true
}

func headerMatches(headers []types.KV, want types.KV) bool {
	for _, kv := range headers {
		if strings.EqualFold(kv.Key, want.Key) && kv.Value == want.Value {
			return true
		}
	}
	return false
}
