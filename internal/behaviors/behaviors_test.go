package behaviors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/edgecomet/imposter/pkg/types"
)

func requestWithQuery(key, value string) *types.RequestContext {
	return &types.RequestContext{
		Method: "GET",
		Path:   "/orders",
		Query:  []types.KV{{Key: key, Value: value}},
	}
}

func TestCopySubstitutesBodyAndHeaders(t *testing.T) {
	b := &types.ResponseBehaviors{
		Copy: []types.CopyBehavior{{From: "query.id", Into: "id"}},
	}
	body, headers, _ := Apply(requestWithQuery("id", "42"),
		[]byte(`{"error":"order ${id} failed"}`),
		map[string]string{"X-Order-Id": "${id}"}, b)

	assert.Equal(t, `{"error":"order 42 failed"}`, string(body))
	assert.Equal(t, "42", headers["X-Order-Id"])
}

func TestCopyNeverMutatesTheRuleHeaderMap(t *testing.T) {
	ruleHeaders := map[string]string{"X-Order-Id": "${id}", "Server": "openresty"}
	b := &types.ResponseBehaviors{
		Copy: []types.CopyBehavior{{From: "query.id", Into: "id"}},
	}

	_, first, _ := Apply(requestWithQuery("id", "1"), nil, ruleHeaders, b)
	assert.Equal(t, "1", first["X-Order-Id"])
	assert.Equal(t, "${id}", ruleHeaders["X-Order-Id"],
		"the compiled rule's header map must keep its token for later requests")

	_, second, _ := Apply(requestWithQuery("id", "2"), nil, ruleHeaders, b)
	assert.Equal(t, "2", second["X-Order-Id"])
	assert.Equal(t, "openresty", second["Server"])
}

func TestSubstituteHeadersReturnsOriginalWhenNothingMatches(t *testing.T) {
	headers := map[string]string{"Server": "openresty"}
	out := substituteHeaders(headers, "${id}", "42")
	assert.Equal(t, map[string]string{"Server": "openresty"}, out)
}

func TestLookupSubstitutesViaTable(t *testing.T) {
	b := &types.ResponseBehaviors{
		Lookup: []types.LookupBehavior{{
			Key:   "query.tier",
			Table: map[string]string{"gold": "priority", "basic": "standard"},
			Into:  "queue",
		}},
	}
	body, _, _ := Apply(requestWithQuery("tier", "gold"), []byte("routed to ${queue}"), nil, b)
	assert.Equal(t, "routed to priority", string(body))

	body, _, _ = Apply(requestWithQuery("tier", "unknown"), []byte("routed to ${queue}"), nil, b)
	assert.Equal(t, "routed to ${queue}", string(body), "a key absent from the table leaves the token alone")
}

func TestWaitFixedAndRange(t *testing.T) {
	_, _, d := Apply(&types.RequestContext{}, nil, nil, &types.ResponseBehaviors{
		Wait: &types.WaitBehavior{FixedMS: 250},
	})
	assert.Equal(t, 250*time.Millisecond, d)

	_, _, d = Apply(&types.RequestContext{}, nil, nil, &types.ResponseBehaviors{
		Wait: &types.WaitBehavior{MinMS: 10, MaxMS: 20},
	})
	assert.GreaterOrEqual(t, d, 10*time.Millisecond)
	assert.LessOrEqual(t, d, 20*time.Millisecond)
}

func TestNilBehaviorsPassThrough(t *testing.T) {
	body, headers, d := Apply(&types.RequestContext{}, []byte("as-is"), map[string]string{"Server": "openresty"}, nil)
	assert.Equal(t, "as-is", string(body))
	assert.Equal(t, "openresty", headers["Server"])
	assert.Zero(t, d)
}
