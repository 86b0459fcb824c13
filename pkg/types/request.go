// Package types holds the shared data model for the imposter proxy: request
// context, predicate configuration, rules, and fault decisions. It has no
// dependency on any other internal package so every subsystem can import it.
package types

// KV is an ordered key/value pair, used where header or query order matters
// (request signatures keep generator-declared order, not wire order).
type KV struct {
	Key   string
	Value string
}

// RequestContext is the per-request view handed to the predicate engine,
// rule evaluator, and script pool. It lives for exactly one request.
type RequestContext struct {
	Method string
	Path   string

	// Query holds query parameters in arrival order; multiple values for the
	// same key are preserved in order.
	Query []KV

	// Headers holds header names lowercased, values in arrival order.
	Headers []KV

	// Form holds application/x-www-form-urlencoded fields, parsed by the
	// pipeline for every request with that Content-Type.
	Form []KV

	Body []byte

	ClientIP    string
	RequestFrom string // "ip:port" of the immediate peer, Mountebank's requestFrom
	Upstream    string // name of the upstream this request was routed to
}

// QueryValue returns the first query value for name, and whether it was present.
func (r *RequestContext) QueryValue(name string) (string, bool) {
	return lookupFirst(r.Query, name)
}

// HeaderValue returns the first header value for a lowercase name.
func (r *RequestContext) HeaderValue(name string) (string, bool) {
	return lookupFirst(r.Headers, name)
}

// FormValue returns the first form value for name.
func (r *RequestContext) FormValue(name string) (string, bool) {
	return lookupFirst(r.Form, name)
}

func lookupFirst(kvs []KV, key string) (string, bool) {
	for _, kv := range kvs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}
