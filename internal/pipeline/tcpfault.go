package pipeline

import (
	"crypto/rand"
	"net"

	"github.com/valyala/fasthttp"

	"github.com/edgecomet/imposter/pkg/types"
)

// ApplyTCPFault hijacks the connection underlying ctx and injects the
// configured TCP-level misbehavior, bypassing the
// normal HTTP response entirely. Hijack is the only way fasthttp exposes
// the raw net.Conn once request reading is already in progress.
func ApplyTCPFault(ctx *fasthttp.RequestCtx, kind types.TCPFaultKind) {
	// Without this, fasthttp writes and flushes the default 200 response
	// before the hijack handler runs, so the client would see a well-formed
	// HTTP response ahead of the injected misbehavior.
	ctx.HijackSetNoResponse(true)
	ctx.Hijack(func(conn net.Conn) {
		defer conn.Close()
		switch kind {
		case types.TCPFaultConnectionReset:
			resetConnection(conn)
		case types.TCPFaultRandomDataClose:
			writeRandomDataThenClose(conn)
		}
	})
}

// resetConnection forces an RST segment on close instead of a clean FIN, by
// setting SO_LINGER to 0 on the underlying TCP socket.
func resetConnection(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetLinger(0)
	}
}

func writeRandomDataThenClose(conn net.Conn) {
	buf := make([]byte, 256)
	if _, err := rand.Read(buf); err != nil {
		return
	}
	_, _ = conn.Write(buf)
}
