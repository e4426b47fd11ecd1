// Package httpclient provides HTTP client utilities with proxy support.
package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/veridesk/veridesk/internal/config"
)

// DefaultTimeout is the default HTTP client timeout.
const DefaultTimeout = 30 * time.Second

// Options configures the HTTP client.
type Options struct {
	// Timeout for HTTP requests (default: 30s)
	Timeout time.Duration
	// ProxyConfig contains proxy settings
	ProxyConfig *config.ProxyConfig
}

// New creates a new HTTP client with optional proxy support.
func New(opts Options) (*http.Client, error) {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if opts.ProxyConfig.HasProxy() {
		if err := configureProxy(transport, opts.ProxyConfig); err != nil {
			return nil, fmt.Errorf("configure proxy: %w", err)
		}
	}

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
	}, nil
}

// configureProxy sets up proxy configuration on the transport.
func configureProxy(transport *http.Transport, cfg *config.ProxyConfig) error {
	// SOCKS5 proxy takes precedence if configured
	if cfg.SOCKS5Proxy != "" {
		return configureSocks5Proxy(transport, cfg.SOCKS5Proxy)
	}

	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		return proxyFunc(req, cfg)
	}

	return nil
}

// configureSocks5Proxy sets up a SOCKS5 proxy dialer.
func configureSocks5Proxy(transport *http.Transport, socks5URL string) error {
	proxyURL, err := url.Parse(socks5URL)
	if err != nil {
		return fmt.Errorf("parse SOCKS5 proxy URL: %w", err)
	}

	var auth *proxy.Auth
	if proxyURL.User != nil {
		password, _ := proxyURL.User.Password()
		auth = &proxy.Auth{
			User:     proxyURL.User.Username(),
			Password: password,
		}
	}

	dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, proxy.Direct)
	if err != nil {
		return fmt.Errorf("create SOCKS5 dialer: %w", err)
	}

	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialer.Dial(network, addr)
	}

	return nil
}

// proxyFunc returns the proxy URL for the given request.
func proxyFunc(req *http.Request, cfg *config.ProxyConfig) (*url.URL, error) {
	if shouldBypassProxy(req.URL.Host, cfg.NoProxy) {
		return nil, nil
	}

	var proxyURLStr string
	if req.URL.Scheme == "https" && cfg.HTTPSProxy != "" {
		proxyURLStr = cfg.HTTPSProxy
	} else if cfg.HTTPProxy != "" {
		proxyURLStr = cfg.HTTPProxy
	}

	if proxyURLStr == "" {
		return nil, nil
	}

	return url.Parse(proxyURLStr)
}

// shouldBypassProxy checks if a host should bypass the proxy.
func shouldBypassProxy(host string, noProxy string) bool {
	if noProxy == "" {
		return false
	}

	hostOnly, _, err := net.SplitHostPort(host)
	if err != nil {
		hostOnly = host
	}

	for _, pattern := range strings.Split(noProxy, ",") {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		if pattern == "*" {
			return true
		}

		if strings.EqualFold(hostOnly, pattern) {
			return true
		}

		// Domain suffix match (e.g., .example.com)
		if strings.HasPrefix(pattern, ".") {
			if strings.HasSuffix(strings.ToLower(hostOnly), strings.ToLower(pattern)) {
				return true
			}
		}

		// Subdomain match (e.g., example.com matches foo.example.com)
		if strings.HasSuffix(strings.ToLower(hostOnly), "."+strings.ToLower(pattern)) {
			return true
		}
	}

	return false
}
