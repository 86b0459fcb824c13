package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExactMatch(t *testing.T) {
	p := Compile("api.example.com")
	assert.True(t, p.Match("api.example.com"))
	assert.True(t, p.Match("API.EXAMPLE.COM"))
	assert.False(t, p.Match("www.example.com"))
}

func TestWildcardMatch(t *testing.T) {
	p := Compile("*.example.com")
	assert.True(t, p.Match("api.example.com"))
	assert.True(t, p.Match("a.b.example.com"))
	assert.False(t, p.Match("example.com"))
	assert.False(t, p.Match("notexample.com"))
}

func TestNilPatternNeverMatches(t *testing.T) {
	var p *Pattern
	assert.False(t, p.Match("anything"))
}
