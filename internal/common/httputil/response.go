// Package httputil writes the proxy's own JSON responses: the health and
// readiness endpoints and errors synthesized by the gateway itself. Proxied
// upstream responses never pass through here.
package httputil

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// WriteJSON marshals payload and writes it with the given status. A marshal
// failure degrades to a bare 500 so callers never have to handle it.
func WriteJSON(ctx *fasthttp.RequestCtx, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString("response encoding failed")
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// WriteGatewayError writes a short explanatory body for failures that
// originate inside the proxy rather than an upstream (no matching route,
// upstream unreachable).
func WriteGatewayError(ctx *fasthttp.RequestCtx, status int, msg string) {
	WriteJSON(ctx, status, map[string]string{"error": msg})
}
