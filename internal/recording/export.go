package recording

import (
	"context"
	"strings"

	"github.com/edgecomet/imposter/pkg/types"
)

// ExportStubs converts every recorded signature into a Mountebank-compatible
// stub: one stub per signature, one response entry per recorded response,
// predicates built from whichever fields the
// signature actually captured. addWait copies a recorded response's latency
// into the stub's _behaviors.wait so replaying the export reproduces
// observed timing.
func ExportStubs(ctx context.Context, store Store, addWait bool) ([]types.Stub, error) {
	records, err := store.All(ctx)
	if err != nil {
		return nil, err
	}

	stubs := make([]types.Stub, 0, len(records))
	for _, rec := range records {
		stub := types.Stub{Predicates: []types.StubPredicate{{And: signatureToAndPredicate(rec.Signature)}}}
		for _, resp := range rec.Responses {
			is := types.StubIs{
				StatusCode: resp.Status,
				Headers:    resp.Headers,
				Body:       string(resp.Body),
			}
			if addWait && resp.LatencyMS != nil {
				is.Behaviors = &types.StubBehaviors{Wait: *resp.LatencyMS}
			}
			stub.Responses = append(stub.Responses, types.StubResponse{Is: is})
		}
		stubs = append(stubs, stub)
	}
	return stubs, nil
}

func signatureToAndPredicate(sig types.RequestSignature) types.StubAndPredicate {
	and := types.StubAndPredicate{
		Method: sig.Method,
		Path:   sig.Path,
	}
	if sig.HasQuery {
		and.Query = parseQueryRaw(sig.QueryRaw)
	}
	if len(sig.FilteredHeaders) > 0 {
		and.Headers = make(map[string]string, len(sig.FilteredHeaders))
		for _, kv := range sig.FilteredHeaders {
			and.Headers[kv.Key] = kv.Value
		}
	}
	return and
}

func parseQueryRaw(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, "&") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			out[pair] = ""
			continue
		}
		out[k] = v
	}
	return out
}
