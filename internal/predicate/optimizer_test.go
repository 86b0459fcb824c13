package predicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgecomet/imposter/pkg/types"
)

func reqWith(method, path string, body string) *types.RequestContext {
	return &types.RequestContext{Method: method, Path: path, Body: []byte(body)}
}

func TestOptimizeSimplePredicates(t *testing.T) {
	preds := []types.Predicate{
		{StartsWith: map[string]any{"body": "abc"}},
		{Contains: map[string]any{"body": "123"}},
		{Contains: map[string]any{"body": "456"}},
	}
	m, warnings := Compile(preds)
	require.Empty(t, warnings)

	assert.True(t, m.Matches(reqWith("GET", "/", "abc123456")))
	assert.False(t, m.Matches(reqWith("GET", "/", "123456")))
	assert.False(t, m.Matches(reqWith("GET", "/", "abc456")))
}

func TestOptimizeRegexPredicates(t *testing.T) {
	preds := []types.Predicate{
		{Matches: map[string]any{"path": `^/my_path/\d+$`}},
		{Matches: map[string]any{"body": `busy-\d+`}},
	}
	m, warnings := Compile(preds)
	require.Empty(t, warnings)

	assert.True(t, m.Matches(reqWith("GET", "/my_path/123", "busy-42")))
	assert.False(t, m.Matches(reqWith("GET", "/my_path/abc", "busy-42")))
	assert.False(t, m.Matches(reqWith("GET", "/my_path/123", "busy-abc")))
}

func TestOptimizeCombinedPredicates(t *testing.T) {
	preds := []types.Predicate{
		{StartsWith: map[string]any{"body": "abc"}},
		{Contains: map[string]any{"body": "123"}},
		{Matches: map[string]any{"body": `busy-\d+`}},
	}
	m, warnings := Compile(preds)
	require.Empty(t, warnings)

	assert.True(t, m.Matches(reqWith("GET", "/", "abc123busy-42")))
	assert.False(t, m.Matches(reqWith("GET", "/", "abc123busy-abc")))
	assert.False(t, m.Matches(reqWith("GET", "/", "abc456busy-42")))
}

func TestAndNodeFoldsIntoSameField(t *testing.T) {
	preds := []types.Predicate{
		{And: []types.Predicate{
			{StartsWith: map[string]any{"body": "abc"}},
			{Contains: map[string]any{"body": "123"}},
		}},
	}
	m, warnings := Compile(preds)
	require.Empty(t, warnings)

	assert.True(t, m.Matches(reqWith("GET", "/", "abc123")))
	assert.False(t, m.Matches(reqWith("GET", "/", "123")))
}

func TestCaseInsensitiveContainsCompilesToRegex(t *testing.T) {
	caseSensitive := false
	preds := []types.Predicate{
		{Contains: map[string]any{"path": "ADMIN"}, CaseSensitive: &caseSensitive},
	}
	m, warnings := Compile(preds)
	require.Empty(t, warnings)

	assert.True(t, m.Matches(reqWith("GET", "/secret/admin/panel", "")))
	assert.True(t, m.Matches(reqWith("GET", "/secret/ADMIN/panel", "")))
	assert.False(t, m.Matches(reqWith("GET", "/secret/other", "")))
}

func TestBadRegexCollapsesFieldToNever(t *testing.T) {
	preds := []types.Predicate{
		{Matches: map[string]any{"path": "(unclosed"}},
	}
	m, warnings := Compile(preds)
	require.NotEmpty(t, warnings)
	assert.False(t, m.Matches(reqWith("GET", "/anything", "")))
}

func TestMissingHeaderFailsMatch(t *testing.T) {
	preds := []types.Predicate{
		{Equals: map[string]any{"headers": map[string]any{"X-Trace": "1"}}},
	}
	m, warnings := Compile(preds)
	require.Empty(t, warnings)

	req := reqWith("GET", "/", "")
	assert.False(t, m.Matches(req))

	req.Headers = []types.KV{{Key: "x-trace", Value: "1"}}
	assert.True(t, m.Matches(req))
}

func TestOrFallsBackToGeneralEvaluator(t *testing.T) {
	preds := []types.Predicate{
		{Or: []types.Predicate{
			{Equals: map[string]any{"method": "GET"}},
			{Equals: map[string]any{"method": "POST"}},
		}},
	}
	m, warnings := Compile(preds)
	require.Empty(t, warnings)
	_, isGeneral := m.(*generalMatcher)
	assert.True(t, isGeneral)

	assert.True(t, m.Matches(reqWith("GET", "/", "")))
	assert.True(t, m.Matches(reqWith("POST", "/", "")))
	assert.False(t, m.Matches(reqWith("DELETE", "/", "")))
}

func TestNotFallsBackToGeneralEvaluator(t *testing.T) {
	preds := []types.Predicate{
		{Not: &types.Predicate{Equals: map[string]any{"method": "GET"}}},
	}
	m, _ := Compile(preds)
	assert.False(t, m.Matches(reqWith("GET", "/", "")))
	assert.True(t, m.Matches(reqWith("POST", "/", "")))
}

func TestExistsFalseMatchesAbsentField(t *testing.T) {
	preds := []types.Predicate{
		{Exists: map[string]any{"headers": map[string]any{"x-debug": false}}},
	}
	m, _ := Compile(preds)
	req := reqWith("GET", "/", "")
	assert.True(t, m.Matches(req))

	req.Headers = []types.KV{{Key: "x-debug", Value: "1"}}
	assert.False(t, m.Matches(req))
}

func TestDeepEqualsHeadersIsPartial(t *testing.T) {
	preds := []types.Predicate{
		{DeepEquals: map[string]any{"headers": map[string]any{"x-trace": "1"}}},
	}
	m, _ := Compile(preds)
	req := reqWith("GET", "/", "")
	req.Headers = []types.KV{{Key: "x-trace", Value: "1"}, {Key: "x-extra", Value: "ignored"}}
	assert.True(t, m.Matches(req))
}

func TestDeepEqualsQueryIsStrict(t *testing.T) {
	preds := []types.Predicate{
		{DeepEquals: map[string]any{"query": map[string]any{"a": "1"}}},
	}
	m, _ := Compile(preds)
	req := reqWith("GET", "/", "")
	req.Query = []types.KV{{Key: "a", Value: "1"}, {Key: "b", Value: "extra"}}
	assert.False(t, m.Matches(req))

	req.Query = []types.KV{{Key: "a", Value: "1"}}
	assert.True(t, m.Matches(req))
}

func TestObjectEqualsBodyIsSubset(t *testing.T) {
	preds := []types.Predicate{
		{Equals: map[string]any{"body": map[string]any{"user": map[string]any{"name": "bob"}}}},
	}
	m, warnings := Compile(preds)
	require.Empty(t, warnings)
	_, isGeneral := m.(*generalMatcher)
	assert.False(t, isGeneral)

	assert.True(t, m.Matches(reqWith("POST", "/", `{"user":{"name":"bob","age":30},"extra":"ignored"}`)))
	assert.False(t, m.Matches(reqWith("POST", "/", `{"user":{"name":"alice"}}`)))
	assert.False(t, m.Matches(reqWith("POST", "/", `{"user":{}}`)))
}

func TestObjectDeepEqualsBodyIsExact(t *testing.T) {
	preds := []types.Predicate{
		{DeepEquals: map[string]any{"body": map[string]any{"a": float64(1), "b": "two"}}},
	}
	m, _ := Compile(preds)

	assert.True(t, m.Matches(reqWith("POST", "/", `{"a":1,"b":"two"}`)))
	assert.False(t, m.Matches(reqWith("POST", "/", `{"a":1,"b":"two","c":"extra"}`)))
	assert.False(t, m.Matches(reqWith("POST", "/", `{"a":1}`)))
}

func TestObjectDeepEqualsBodyArrayLengthIsStrict(t *testing.T) {
	preds := []types.Predicate{
		{DeepEquals: map[string]any{"body": []any{"x", "y"}}},
	}
	m, _ := Compile(preds)

	assert.True(t, m.Matches(reqWith("POST", "/", `["x","y"]`)))
	assert.False(t, m.Matches(reqWith("POST", "/", `["x","y","z"]`)))
	assert.False(t, m.Matches(reqWith("POST", "/", `["x"]`)))
}

func TestObjectContainsBodyIsSubstringOnLeaves(t *testing.T) {
	preds := []types.Predicate{
		{Contains: map[string]any{"body": map[string]any{"message": "error"}}},
	}
	m, _ := Compile(preds)

	assert.True(t, m.Matches(reqWith("POST", "/", `{"message":"an error occurred","code":500}`)))
	assert.False(t, m.Matches(reqWith("POST", "/", `{"message":"all good"}`)))
}

func TestObjectMatchesBodyIsPerFieldRegex(t *testing.T) {
	preds := []types.Predicate{
		{Matches: map[string]any{"body": map[string]any{"id": `^\d+$`}}},
	}
	m, _ := Compile(preds)

	assert.True(t, m.Matches(reqWith("POST", "/", `{"id":"42","label":"anything"}`)))
	assert.False(t, m.Matches(reqWith("POST", "/", `{"id":"abc"}`)))
}

func TestObjectEqualsBodyIsCaseInsensitive(t *testing.T) {
	caseSensitive := false
	preds := []types.Predicate{
		{Equals: map[string]any{"body": map[string]any{"name": "BOB"}}, CaseSensitive: &caseSensitive},
	}
	m, _ := Compile(preds)

	assert.True(t, m.Matches(reqWith("POST", "/", `{"name":"bob"}`)))
	assert.True(t, m.Matches(reqWith("POST", "/", `{"name":"Bob"}`)))
	assert.False(t, m.Matches(reqWith("POST", "/", `{"name":"alice"}`)))
}

func TestObjectPredicateBodyInvalidJSONNeverMatches(t *testing.T) {
	preds := []types.Predicate{
		{Equals: map[string]any{"body": map[string]any{"a": "1"}}},
	}
	m, _ := Compile(preds)
	assert.False(t, m.Matches(reqWith("POST", "/", `not json`)))
}

func TestObjectPredicateBadRegexCollapsesToNever(t *testing.T) {
	preds := []types.Predicate{
		{Matches: map[string]any{"body": map[string]any{"id": "(unclosed"}}},
	}
	m, warnings := Compile(preds)
	require.NotEmpty(t, warnings)
	assert.False(t, m.Matches(reqWith("POST", "/", `{"id":"42"}`)))
}

func TestObjectPredicateBodyViaGeneralEvaluator(t *testing.T) {
	preds := []types.Predicate{
		{Or: []types.Predicate{
			{Equals: map[string]any{"body": map[string]any{"user": "bob"}}},
			{Equals: map[string]any{"method": "DELETE"}},
		}},
	}
	m, warnings := Compile(preds)
	require.Empty(t, warnings)
	_, isGeneral := m.(*generalMatcher)
	assert.True(t, isGeneral)

	assert.True(t, m.Matches(reqWith("POST", "/", `{"user":"bob"}`)))
	assert.True(t, m.Matches(reqWith("DELETE", "/", `{}`)))
	assert.False(t, m.Matches(reqWith("POST", "/", `{"user":"alice"}`)))
}

func TestObjectPredicateNestedArrayOfObjects(t *testing.T) {
	preds := []types.Predicate{
		{Equals: map[string]any{"body": map[string]any{
			"items": []any{map[string]any{"id": "1"}},
		}}},
	}
	m, _ := Compile(preds)

	assert.True(t, m.Matches(reqWith("POST", "/", `{"items":[{"id":"1","name":"widget"},{"id":"2"}]}`)))
	assert.False(t, m.Matches(reqWith("POST", "/", `{"items":[{"id":"2"}]}`)))
}

func TestExceptStripsBeforeComparison(t *testing.T) {
	preds := []types.Predicate{
		{Equals: map[string]any{"path": "/users/"}, Except: `\d+`},
	}
	m, warnings := Compile(preds)
	require.Empty(t, warnings)

	assert.True(t, m.Matches(reqWith("GET", "/users/123", "")))
	assert.True(t, m.Matches(reqWith("GET", "/users/", "")))
	assert.False(t, m.Matches(reqWith("GET", "/orders/123", "")))
}

func TestExceptAppliesAfterSelector(t *testing.T) {
	preds := []types.Predicate{
		{Equals: map[string]any{"body": "abc"}, JSONPath: "$.token", Except: `\d+`},
	}
	m, warnings := Compile(preds)
	require.Empty(t, warnings)

	assert.True(t, m.Matches(reqWith("POST", "/", `{"token":"a1b2c3"}`)))
	assert.False(t, m.Matches(reqWith("POST", "/", `{"token":"xyz123"}`)))
	assert.False(t, m.Matches(reqWith("POST", "/", `{"other":"abc"}`)))
}

func TestBadExceptCollapsesFieldToNever(t *testing.T) {
	preds := []types.Predicate{
		{Equals: map[string]any{"path": "/x"}, Except: "(unclosed"},
	}
	m, warnings := Compile(preds)
	require.NotEmpty(t, warnings)
	assert.False(t, m.Matches(reqWith("GET", "/x", "")))
}

func TestExceptInGeneralEvaluator(t *testing.T) {
	preds := []types.Predicate{
		{
			Or: []types.Predicate{
				{Equals: map[string]any{"path": "/users/"}},
				{Equals: map[string]any{"path": "/admin/"}},
			},
			Except: `\d+`,
		},
	}
	m, warnings := Compile(preds)
	require.Empty(t, warnings)
	_, isGeneral := m.(*generalMatcher)
	assert.True(t, isGeneral)

	assert.True(t, m.Matches(reqWith("GET", "/users/42", "")))
	assert.True(t, m.Matches(reqWith("GET", "/admin/7", "")))
	assert.False(t, m.Matches(reqWith("GET", "/other/42", "")))
}

func TestDistinctSelectorsRunIndependently(t *testing.T) {
	preds := []types.Predicate{
		{Equals: map[string]any{"body": "bob"}, JSONPath: "$.user"},
		{Equals: map[string]any{"body": "active"}, JSONPath: "$.state"},
	}
	m, warnings := Compile(preds)
	require.Empty(t, warnings)

	assert.True(t, m.Matches(reqWith("POST", "/", `{"user":"bob","state":"active"}`)))
	assert.False(t, m.Matches(reqWith("POST", "/", `{"user":"bob","state":"idle"}`)))
	assert.False(t, m.Matches(reqWith("POST", "/", `{"user":"alice","state":"active"}`)))
}

func TestLeafLevelOrAlternativesFoldIntoRegexSet(t *testing.T) {
	preds := []types.Predicate{
		{Matches: map[string]any{"path": []any{`^/a/\d+$`, `^/b/\d+$`}}},
	}
	m, warnings := Compile(preds)
	require.Empty(t, warnings)
	_, isGeneral := m.(*generalMatcher)
	assert.False(t, isGeneral)

	assert.True(t, m.Matches(reqWith("GET", "/a/1", "")))
	assert.True(t, m.Matches(reqWith("GET", "/b/2", "")))
	assert.False(t, m.Matches(reqWith("GET", "/c/3", "")))
}
