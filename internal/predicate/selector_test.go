package predicate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgecomet/imposter/pkg/types"
)

func TestExtractJSONPathScalar(t *testing.T) {
	v, ok := extractSelector(`{"user":{"id":"abc123"}}`, &types.Selector{JSONPath: "$.user.id"})
	assert.True(t, ok)
	assert.Equal(t, "abc123", v)
}

func TestExtractJSONPathArrayIndex(t *testing.T) {
	v, ok := extractSelector(`{"items":[{"name":"first"},{"name":"second"}]}`, &types.Selector{JSONPath: "$.items[1].name"})
	assert.True(t, ok)
	assert.Equal(t, "second", v)
}

func TestExtractJSONPathMissingFieldFails(t *testing.T) {
	_, ok := extractSelector(`{"user":{}}`, &types.Selector{JSONPath: "$.user.id"})
	assert.False(t, ok)
}

func TestExtractJSONPathInvalidBodyFails(t *testing.T) {
	_, ok := extractSelector(`not json`, &types.Selector{JSONPath: "$.user.id"})
	assert.False(t, ok)
}

func TestExtractXPathElementText(t *testing.T) {
	v, ok := extractSelector(`<order><id>42</id></order>`, &types.Selector{XPath: "//order/id"})
	assert.True(t, ok)
	assert.Equal(t, "42", v)
}

func TestSelectorPartitionInMatches(t *testing.T) {
	preds := []types.Predicate{
		{Equals: map[string]any{"body": "abc123"}, JSONPath: "$.user.id"},
	}
	m, warnings := Compile(preds)
	assert.Empty(t, warnings)

	req := reqWith("GET", "/", `{"user":{"id":"abc123"}}`)
	assert.True(t, m.Matches(req))

	req2 := reqWith("GET", "/", `{"user":{"id":"other"}}`)
	assert.False(t, m.Matches(req2))
}
