// Package yamlutil decodes configuration YAML with unknown-field rejection,
// so a typoed rule or behavior key fails startup instead of silently doing
// nothing.
package yamlutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// DecodeStrict decodes a single YAML document into v, rejecting any field
// that does not map to a known struct field. An empty document leaves v
// untouched.
func DecodeStrict(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decoding yaml: %w", err)
	}
	return nil
}
