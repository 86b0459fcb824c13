package pipeline

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/edgecomet/imposter/pkg/types"
)

// Forwarder proxies requests to upstream origins over a pooled fasthttp
// client, one *fasthttp.HostClient per upstream so connection reuse and
// idle limits are per-origin.
type Forwarder struct {
	clients map[string]*fasthttp.HostClient
}

// NewForwarder builds one HostClient per upstream, sized from cfg.
func NewForwarder(upstreams []types.Upstream, cfg types.ConnectionPoolConfig) (*Forwarder, error) {
	f := &Forwarder{clients: make(map[string]*fasthttp.HostClient, len(upstreams))}
	for _, u := range upstreams {
		client, err := buildHostClient(u, cfg)
		if err != nil {
			return nil, fmt.Errorf("pipeline: upstream %q: %w", u.Name, err)
		}
		f.clients[u.Name] = client
	}
	return f, nil
}

// ForwarderForSidecar builds a single-upstream Forwarder for sidecar mode.
func ForwarderForSidecar(u types.Upstream, cfg types.ConnectionPoolConfig) (*Forwarder, error) {
	return NewForwarder([]types.Upstream{u}, cfg)
}

func buildHostClient(u types.Upstream, cfg types.ConnectionPoolConfig) (*fasthttp.HostClient, error) {
	parsed, err := url.Parse(u.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", u.URL, err)
	}

	maxIdle := cfg.MaxIdlePerHost
	if maxIdle <= 0 {
		maxIdle = 100
	}
	connectTimeout := time.Duration(cfg.ConnectTimeoutSecs) * time.Second
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	idleTimeout := time.Duration(cfg.IdleTimeoutSecs) * time.Second
	if idleTimeout <= 0 {
		idleTimeout = 90 * time.Second
	}

	dialer := &fasthttp.TCPDialer{
		Concurrency:      maxIdle,
		DNSCacheDuration: time.Minute,
	}
	client := &fasthttp.HostClient{
		Addr:                parsed.Host,
		IsTLS:               parsed.Scheme == "https",
		MaxConns:            maxIdle,
		MaxIdleConnDuration: idleTimeout,
		Dial: func(addr string) (net.Conn, error) {
			return dialer.DialDualStackTimeout(addr, connectTimeout)
		},
	}
	if u.TLSSkipVerify {
		client.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return client, nil
}

// Forward issues req against the named upstream and fills resp in place.
// The request's Host header and URI scheme/host are rewritten to the
// upstream before dispatch; everything else (method, path, query, headers,
// body) passes through unchanged.
func (f *Forwarder) Forward(upstreamName string, req *fasthttp.Request, resp *fasthttp.Response, timeout time.Duration) error {
	client, ok := f.clients[upstreamName]
	if !ok {
		return fmt.Errorf("pipeline: unknown upstream %q", upstreamName)
	}
	req.SetHost(client.Addr)
	if timeout <= 0 {
		return client.Do(req, resp)
	}
	return client.DoTimeout(req, resp, timeout)
}
