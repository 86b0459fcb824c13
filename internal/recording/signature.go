package recording

import (
	"strings"

	"github.com/edgecomet/imposter/pkg/types"
)

// signatureKey derives a stable map/file key for a RequestSignature. Two
// signatures produce the same key iff method, path, query_raw presence and
// value, and the declared-order filtered header list are byte-for-byte equal.
func signatureKey(sig types.RequestSignature) string {
	var b strings.Builder
	b.WriteString(sig.Method)
	b.WriteByte('\x00')
	b.WriteString(sig.Path)
	b.WriteByte('\x00')
	if sig.HasQuery {
		b.WriteByte('1')
		b.WriteString(sig.QueryRaw)
	} else {
		b.WriteByte('0')
	}
	for _, kv := range sig.FilteredHeaders {
		b.WriteByte('\x00')
		b.WriteString(kv.Key)
		b.WriteByte('=')
		b.WriteString(kv.Value)
	}
	return b.String()
}

// BuildSignature derives a RequestSignature from a request context using the
// fields named by generators: predicate_generators drive both signature
// capture and export. Header order in the signature follows generator
// declaration order, not request arrival order.
func BuildSignature(req *types.RequestContext, generators []types.PredicateGenerator) types.RequestSignature {
	sig := types.RequestSignature{Method: strings.ToUpper(req.Method), Path: req.Path}

	includeMethod, includePath, includeQuery := false, false, false
	var headerNames []string
	for _, g := range generators {
		includeMethod = includeMethod || g.Method
		includePath = includePath || g.Path
		includeQuery = includeQuery || g.Query
		headerNames = append(headerNames, g.Headers...)
	}
	if !includeMethod {
		sig.Method = ""
	}
	if !includePath {
		sig.Path = ""
	}
	if includeQuery {
		sig.HasQuery = true
		sig.QueryRaw = encodeQuery(req.Query)
	}
	for _, name := range headerNames {
		if v, ok := req.HeaderValue(strings.ToLower(name)); ok {
			sig.FilteredHeaders = append(sig.FilteredHeaders, types.KV{Key: strings.ToLower(name), Value: v})
		}
	}
	return sig
}

func encodeQuery(q []types.KV) string {
	var b strings.Builder
	for i, kv := range q {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(kv.Key)
		b.WriteByte('=')
		b.WriteString(kv.Value)
	}
	return b.String()
}

// persistedRecord is the on-disk/Redis JSON shape for one signature's
// recorded response list: an object with "signature" and "responses"
// fields, with binary bodies base64-encoded. The file backend stores a JSON
// array of these; the Redis backend stores one per key.
type persistedRecord struct {
	Signature persistedSignature  `json:"signature"`
	Responses []persistedResponse `json:"responses"`
}

type persistedSignature struct {
	Method          string     `json:"method"`
	Path            string     `json:"path"`
	HasQuery        bool       `json:"hasQuery"`
	QueryRaw        string     `json:"queryRaw,omitempty"`
	FilteredHeaders []types.KV `json:"filteredHeaders,omitempty"`
}

type persistedResponse struct {
	Status        int               `json:"status"`
	Headers       map[string]string `json:"headers,omitempty"`
	BodyB64       string            `json:"bodyBase64"`
	Compression   string            `json:"compression,omitempty"`
	LatencyMS     *int64            `json:"latencyMs,omitempty"`
	TimestampSecs int64             `json:"timestampSecs"`
}

func toPersistedSignature(sig types.RequestSignature) persistedSignature {
	return persistedSignature{
		Method:          sig.Method,
		Path:            sig.Path,
		HasQuery:        sig.HasQuery,
		QueryRaw:        sig.QueryRaw,
		FilteredHeaders: sig.FilteredHeaders,
	}
}

func fromPersistedSignature(p persistedSignature) types.RequestSignature {
	return types.RequestSignature{
		Method:          p.Method,
		Path:            p.Path,
		HasQuery:        p.HasQuery,
		QueryRaw:        p.QueryRaw,
		FilteredHeaders: p.FilteredHeaders,
	}
}
