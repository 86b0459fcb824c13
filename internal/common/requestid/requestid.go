// Package requestid derives the correlation id the proxy stamps on every
// response it originates or forwards. Inbound ids are kept when safe:
// sanitized to [a-zA-Z0-9-] and prefixed with fresh entropy, so two clients
// reusing the same id still leave distinct log trails.
package requestid

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Header is the correlation header read from the request and set on the
// response.
const Header = "X-Request-Id"

const (
	// maxLength caps the derived id at UUID length.
	maxLength = 36
	prefixLen = 5
	// maxInboundLen is what remains for the sanitized inbound portion after
	// the entropy prefix and its joining hyphen.
	maxInboundLen = maxLength - prefixLen - 1
)

var (
	invalidChars = regexp.MustCompile(`[^a-zA-Z0-9-]+`)
	hyphenRuns   = regexp.MustCompile(`-{2,}`)
)

// Derive returns the correlation id for a request given the inbound header
// value ("" when absent). An empty or fully-invalid inbound id yields a
// fresh UUID; anything else yields "<entropy>-<sanitized-inbound>", capped
// at UUID length.
func Derive(inbound string) string {
	id := strings.ReplaceAll(inbound, " ", "-")
	id = invalidChars.ReplaceAllString(id, "")
	id = hyphenRuns.ReplaceAllString(id, "-")
	id = strings.Trim(id, "-")

	if id == "" {
		return uuid.New().String()
	}
	if len(id) > maxInboundLen {
		id = id[:maxInboundLen]
	}
	return entropyPrefix() + "-" + id
}

func entropyPrefix() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return uuid.New().String()[:prefixLen]
	}
	return hex.EncodeToString(b)[:prefixLen]
}
