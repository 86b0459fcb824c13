package requestid

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var uuidForm = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)

func TestDeriveWithoutInbound(t *testing.T) {
	assert.Regexp(t, uuidForm, Derive(""))
}

func TestDeriveSanitizesInbound(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		suffix  string
	}{
		{"clean id kept", "trace-42", "trace-42"},
		{"spaces become hyphens", "my trace id", "my-trace-id"},
		{"invalid runes stripped", "tr@ce#42!", "trce42"},
		{"hyphen runs collapse", "a---b--c", "a-b-c"},
		{"edge hyphens trimmed", "--abc--", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Derive(tt.inbound)
			assert.Regexp(t, `^[a-f0-9]{5}-`, got)
			assert.Equal(t, tt.suffix, got[prefixLen+1:])
		})
	}
}

func TestDeriveFallsBackOnGarbageInbound(t *testing.T) {
	assert.Regexp(t, uuidForm, Derive("@@@ ###"))
	assert.Regexp(t, uuidForm, Derive("---"))
}

func TestDeriveCapsLength(t *testing.T) {
	got := Derive(strings.Repeat("x", 200))
	assert.Len(t, got, maxLength)
}

func TestDeriveDistinctForSameInbound(t *testing.T) {
	seen := map[string]bool{}
	for range 64 {
		id := Derive("replayed-client-id")
		assert.False(t, seen[id], "derived id %q repeated", id)
		seen[id] = true
	}
}
