package recording

import (
	"context"

	"github.com/edgecomet/imposter/pkg/types"
)

// SignatureRecord pairs a signature with every response recorded against it,
// oldest first. Export and ProxyAlways auditing both need the full list, not
// just the first match.
type SignatureRecord struct {
	Signature types.RequestSignature
	Responses []types.RecordedResponse
}

// Store is the signature-keyed persistence layer behind the recording
// engine. Implementations are file-backed (single JSON document) or
// Redis-backed; both satisfy the same append/get/exists contract so Engine
// is backend-agnostic.
type Store interface {
	// Load reads persisted state into memory. Called once at startup.
	Load(ctx context.Context) error

	// Persist flushes in-memory state to the backing store. File backends
	// may also persist write-through on every Append; Persist then only
	// rewrites or confirms state already written, as an explicit flush point.
	Persist(ctx context.Context) error

	// Exists reports whether any response has been recorded for sig.
	Exists(ctx context.Context, sig types.RequestSignature) (bool, error)

	// Get returns the oldest recorded response for sig (ProxyOnce replay
	// semantics always serve the first recording).
	Get(ctx context.Context, sig types.RequestSignature) (types.RecordedResponse, bool, error)

	// Append adds resp to sig's response list unconditionally.
	Append(ctx context.Context, sig types.RequestSignature, resp types.RecordedResponse) error

	// All returns every signature and its recorded responses, for stub
	// export and diagnostics. Order is unspecified.
	All(ctx context.Context) ([]SignatureRecord, error)
}
