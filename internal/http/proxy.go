package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	nethttp "net/http"
	"net/url"
	"strings"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"golang.org/x/net/http/httpproxy"

	"github.com/velocols/colprofile/internal/constants"
	"github.com/velocols/colprofile/internal/logging"
)

// ProxyConfig describes how provider requests reach the network.
type ProxyConfig struct {
	// Mode is one of "no-proxy" (or empty), "system", "basic" or "ntlm"
	Mode     string `koanf:"mode" validate:"omitempty,oneof=no-proxy system basic ntlm"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port" validate:"gte=0,lte=65535"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	// NoProxy is a comma-separated bypass list (hosts, *.domains, CIDRs)
	NoProxy string `koanf:"no_proxy"`
	// Warmup issues a GET to WarmupURL once the client is built
	Warmup    bool   `koanf:"warmup"`
	WarmupURL string `koanf:"-"`
}

// Active reports whether requests will be routed through a proxy.
func (p ProxyConfig) Active() bool {
	switch strings.ToLower(p.Mode) {
	case "no-proxy", "":
		return false
	case "system":
		return envProxySet()
	default:
		return p.Host != ""
	}
}

// ConfigureHTTPClient builds an HTTP client honouring the proxy settings.
func ConfigureHTTPClient(cfg ProxyConfig, logger *logging.Logger) (*nethttp.Client, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	transport := &nethttp.Transport{
		DialContext: (&net.Dialer{
			Timeout:   constants.HTTPDialTimeout,
			KeepAlive: constants.HTTPDialKeepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:          constants.HTTPMaxConnsPerHost,
		MaxIdleConnsPerHost:   constants.HTTPMaxConnsPerHost,
		MaxConnsPerHost:       constants.HTTPMaxConnsPerHost,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
	}

	mode := strings.ToLower(cfg.Mode)
	switch mode {
	case "no-proxy", "":
		transport.Proxy = nil
		return &nethttp.Client{Transport: transport}, nil

	case "system":
		transport.Proxy = nethttp.ProxyFromEnvironment
		client := &nethttp.Client{Transport: transport}
		if cfg.Warmup && envProxySet() {
			if err := warmupProxy(client, cfg.WarmupURL); err != nil {
				return nil, fmt.Errorf("proxy warmup failed: %w", err)
			}
		}
		return client, nil

	case "basic", "ntlm":
		// Fall back to a direct connection when the host is missing
		if cfg.Host == "" {
			logger.Warn().Str("mode", mode).Msg("Proxy host is missing, falling back to no-proxy mode")
			return &nethttp.Client{Transport: transport}, nil
		}
		if cfg.User != "" && cfg.Password == "" {
			logger.Warn().Str("user", cfg.User).Msg("Proxy user configured but password missing, proxy auth disabled")
		}

		transport.Proxy = proxyFuncWithBypass(buildProxyURL(cfg), cfg.NoProxy, logger)

		client := &nethttp.Client{Transport: transport}
		if mode == "ntlm" {
			client.Transport = ntlmssp.Negotiator{RoundTripper: transport}
		}

		if cfg.Warmup && cfg.User != "" && cfg.Password != "" {
			if err := warmupProxy(client, cfg.WarmupURL); err != nil {
				return nil, fmt.Errorf("proxy warmup failed: %w", err)
			}
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unsupported proxy mode: %s", cfg.Mode)
	}
}

// buildProxyURL constructs a proxy URL from config
func buildProxyURL(cfg ProxyConfig) *url.URL {
	port := cfg.Port
	if port == 0 {
		port = constants.DefaultProxyPort
	}

	proxyURL := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, port),
	}

	// Only embed credentials if both user AND password are provided
	if cfg.User != "" && cfg.Password != "" {
		proxyURL.User = url.UserPassword(cfg.User, cfg.Password)
	}

	return proxyURL
}

// warmupProxy performs a warmup request to establish the proxy connection
func warmupProxy(client *nethttp.Client, target string) error {
	if target == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.ProxyWarmupTimeout)
	defer cancel()

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodHead, target, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("warmup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("warmup request returned server error: %d", resp.StatusCode)
	}

	return nil
}

// proxyFuncWithBypass returns a proxy function that respects the NoProxy bypass list.
// If noProxy is empty, behaves identically to nethttp.ProxyURL.
func proxyFuncWithBypass(proxyURL *url.URL, noProxy string, logger *logging.Logger) func(*nethttp.Request) (*url.URL, error) {
	if noProxy == "" {
		return nethttp.ProxyURL(proxyURL)
	}
	cfg := httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    noProxy,
	}
	proxyFunc := cfg.ProxyFunc()
	return func(req *nethttp.Request) (*url.URL, error) {
		result, err := proxyFunc(req.URL)
		if result == nil {
			logger.Debug().Str("host", req.URL.Host).Msg("Proxy bypass (direct connection)")
		} else {
			logger.Debug().Str("host", req.URL.Host).Str("proxy", result.Host).Msg("Proxied")
		}
		return result, err
	}
}

func envProxySet() bool {
	for _, name := range []string{"HTTP_PROXY", "HTTPS_PROXY", "http_proxy", "https_proxy"} {
		if lookupEnv(name) != "" {
			return true
		}
	}
	return false
}
