// Package metricsserver runs the Prometheus exposition listener on its own
// port, away from proxied traffic, so a stalled upstream can never delay a
// scrape.
package metricsserver

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Exposer renders the exposition body for one scrape.
type Exposer interface {
	ServeHTTP(ctx *fasthttp.RequestCtx)
}

// Server is the scrape listener. A nil *Server is valid and means metrics
// are disabled; Shutdown on it is a no-op.
type Server struct {
	srv  *fasthttp.Server
	addr string
	log  *zap.Logger
}

// Start builds and starts the scrape listener in a background goroutine,
// serving exposer at path and 404ing everything else. Returns nil when
// disabled. Listen errors surface on the returned channel rather than as a
// return value because ListenAndServe only fails after Start has returned.
func Start(enabled bool, addr, path string, exposer Exposer, log *zap.Logger) (*Server, <-chan error) {
	errCh := make(chan error, 1)
	if !enabled {
		log.Info("metrics exposition disabled")
		return nil, errCh
	}

	s := &Server{
		srv: &fasthttp.Server{
			Handler:            route(path, exposer),
			Name:               "imposter-metrics",
			ReadTimeout:        10 * time.Second,
			WriteTimeout:       10 * time.Second,
			MaxRequestBodySize: 1024,
		},
		addr: addr,
		log:  log,
	}

	go func() {
		log.Info("metrics server listening", zap.String("addr", addr), zap.String("path", path))
		if err := s.srv.ListenAndServe(addr); err != nil {
			errCh <- err
		}
	}()
	return s, errCh
}

// Shutdown drains the scrape listener. Safe on a nil receiver.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.srv.ShutdownWithContext(ctx)
}

func route(path string, exposer Exposer) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != path {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		exposer.ServeHTTP(ctx)
	}
}
