package recording

import (
	"context"

	"github.com/edgecomet/imposter/pkg/types"
)

// Engine implements the three-mode recording state machine. Its
// should_proxy/should_record decision table:
//
//	mode              should_proxy          replay on hit     records
//	proxyTransparent  always true           never             never
//	proxyOnce         true until recorded   first recording   once per signature
//	proxyAlways       always true           never (resolved   every response
//	                                        Open Question #2)
type Engine struct {
	mode  types.ProxyMode
	store Store
}

// NewEngine builds a recording engine over store in the given mode.
func NewEngine(mode types.ProxyMode, store Store) *Engine {
	return &Engine{mode: mode, store: store}
}

// ShouldReplay reports whether sig has a recorded response the pipeline
// should serve instead of forwarding upstream. Only proxyOnce replays;
// proxyAlways forwards and records every time (Open Question #2 resolution:
// "always" means always proxy, recordings accumulate for export/audit, they
// are never served back).
func (e *Engine) ShouldReplay(ctx context.Context, sig types.RequestSignature) (types.RecordedResponse, bool, error) {
	if e.mode != types.ProxyOnce {
		return types.RecordedResponse{}, false, nil
	}
	return e.store.Get(ctx, sig)
}

// Record persists resp against sig according to the engine's mode.
// proxyTransparent never records. proxyOnce records only the first response
// observed for a signature, preserving the "replay this forever" semantics.
// proxyAlways appends unconditionally.
func (e *Engine) Record(ctx context.Context, sig types.RequestSignature, resp types.RecordedResponse) error {
	switch e.mode {
	case types.ProxyTransparent:
		return nil
	case types.ProxyOnce:
		exists, err := e.store.Exists(ctx, sig)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		return e.store.Append(ctx, sig, resp)
	case types.ProxyAlways:
		return e.store.Append(ctx, sig, resp)
	default:
		return nil
	}
}

// Mode returns the engine's configured proxy mode.
func (e *Engine) Mode() types.ProxyMode {
	return e.mode
}

// Store exposes the backing Store for export and administrative operations.
func (e *Engine) Store() Store {
	return e.store
}
