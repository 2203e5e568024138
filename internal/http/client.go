// Package http builds the outbound HTTP stack used to reach the elevation
// provider: proxy-aware transports and the bounded retry policy.
package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/velocols/colprofile/internal/logging"
)

// lookupEnv is swapped in tests.
var lookupEnv = os.Getenv

// ClientOptions configures CreateProviderClient.
type ClientOptions struct {
	Proxy ProxyConfig
	// DisableHTTP2 forces HTTP/1.1
	DisableHTTP2 bool
}

// CreateProviderClient creates the HTTP client used for elevation requests.
//
// It starts from ConfigureHTTPClient for proxy handling, then enables HTTP/2.
// HTTP/2 stays off behind an active proxy unless FORCE_HTTP2=true.
// The client carries no overall timeout; callers bound each request by context.
func CreateProviderClient(opts ClientOptions, logger *logging.Logger) (*nethttp.Client, error) {
	client, err := ConfigureHTTPClient(opts.Proxy, logger)
	if err != nil {
		return nil, err
	}

	// NTLM wraps the transport; return as-is
	tr, ok := client.Transport.(*nethttp.Transport)
	if !ok {
		return client, nil
	}

	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	if opts.DisableHTTP2 || (opts.Proxy.Active() && lookupEnv("FORCE_HTTP2") != "true") {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	client.Transport = tr
	client.Timeout = 0
	return client, nil
}
