package stringmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCaseAwareStringCaseSensitive(t *testing.T) {
	c := New("Test", false)

	assert.True(t, c.Equals("Test"))
	assert.False(t, c.Equals("test"))
	assert.True(t, c.StartsWith("Testing"))
	assert.False(t, c.StartsWith("testing"))
	assert.True(t, c.EndsWith("aTest"))
	assert.False(t, c.EndsWith("atest"))
}

func TestCaseAwareStringCaseInsensitiveASCII(t *testing.T) {
	c := New("Test", true)

	assert.True(t, c.Equals("Test"))
	assert.True(t, c.Equals("TEST"))
	assert.True(t, c.Equals("TeSt"))
	assert.True(t, c.StartsWith("TESTING"))
	assert.True(t, c.EndsWith("ATEST"))
}

func TestCaseAwareStringNonASCIIUnaffected(t *testing.T) {
	// Non-ASCII bytes are compared verbatim even in case-insensitive mode:
	// folding non-ASCII case requires a regex per spec, not this primitive.
	c := New("café", true)
	assert.True(t, c.Equals("CAFé"))
	assert.False(t, c.Equals("CAFÉ"))
}

func TestFinderContains(t *testing.T) {
	f := NewFinder("needle")
	assert.True(t, f.Contains("a haystack with needle in it"))
	assert.False(t, f.Contains("a haystack without it"))
}

func TestFinderSurvivesCopy(t *testing.T) {
	f := NewFinder("abc")
	moved := f
	f = Finder{}
	assert.True(t, moved.Contains("xxabcxx"))
	// The zero Finder has an empty needle, which every string contains.
	assert.True(t, f.Contains("xxabcxx"))
}
