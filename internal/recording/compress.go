// Package recording implements the recording/replay store: a
// request-signature indexed persistence layer with three modes
// (ProxyOnce/ProxyAlways/ProxyTransparent), file and Redis backends behind a
// common Store interface, and Mountebank-compatible stub export.
// Compression (snappy/lz4, tagged per persisted response) is applied to response
// bodies above a configurable size threshold.
package recording

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/pierrec/lz4/v4"

	"github.com/edgecomet/imposter/pkg/types"
)

// ErrDecompression is returned when recorded-body decompression fails.
var ErrDecompression = errors.New("recording: decompression failed")

// Compress compresses body using algorithm if it is at least minBytes long,
// returning the (possibly unchanged) bytes and the algorithm actually
// applied ("none" when skipped). Small bodies and "none" both pass through
// unchanged.
func Compress(body []byte, algorithm string, minBytes int) ([]byte, string, error) {
	if minBytes <= 0 {
		minBytes = 1
	}
	if len(body) < minBytes || algorithm == types.CompressionNone || algorithm == "" {
		return body, types.CompressionNone, nil
	}

	switch algorithm {
	case types.CompressionSnappy:
		return snappy.Encode(nil, body), types.CompressionSnappy, nil

	case types.CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			w.Close()
			return nil, "", fmt.Errorf("lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, "", fmt.Errorf("lz4 compress close: %w", err)
		}
		return buf.Bytes(), types.CompressionLZ4, nil

	default:
		return body, types.CompressionNone, nil
	}
}

// Decompress reverses Compress given the algorithm tag that was stored
// alongside the body.
func Decompress(body []byte, algorithm string) ([]byte, error) {
	switch algorithm {
	case types.CompressionSnappy:
		out, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrDecompression, err)
		}
		return out, nil

	case types.CompressionLZ4:
		r := lz4.NewReader(bytes.NewReader(body))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrDecompression, err)
		}
		return out, nil

	default:
		return body, nil
	}
}
