package llm

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// newHTTPClient builds the client shared by the HTTP providers
func newHTTPClient(config Config, fallback time.Duration) *http.Client {
	timeout := time.Duration(config.Timeout) * time.Second
	if timeout == 0 {
		timeout = fallback
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: newProxyFunc(config.HTTPProxy, config.HTTPSProxy, config.NoProxy),
		},
	}
}

// newProxyFunc routes requests through the configured proxies. Without
// explicit proxies it falls back to the environment.
func newProxyFunc(httpProxy, httpsProxy, noProxy string) func(*http.Request) (*url.URL, error) {
	if httpProxy == "" && httpsProxy == "" {
		return http.ProxyFromEnvironment
	}

	bypass := splitNoProxy(noProxy)

	return func(req *http.Request) (*url.URL, error) {
		if bypassed(req.URL.Hostname(), bypass) {
			return nil, nil
		}
		if req.URL.Scheme == "https" && httpsProxy != "" {
			return url.Parse(httpsProxy)
		}
		if httpProxy != "" {
			return url.Parse(httpProxy)
		}
		return http.ProxyFromEnvironment(req)
	}
}

func splitNoProxy(noProxy string) []string {
	var out []string
	for _, h := range strings.Split(noProxy, ",") {
		if h = strings.TrimSpace(strings.ToLower(h)); h != "" {
			out = append(out, h)
		}
	}
	return out
}

// bypassed matches host against NO_PROXY style entries: exact hosts, domain
// suffixes (".corp" or "corp") and "*"
func bypassed(host string, bypass []string) bool {
	host = strings.ToLower(host)
	if host == "localhost" || net.ParseIP(host).IsLoopback() {
		return true
	}
	for _, b := range bypass {
		switch {
		case b == "*":
			return true
		case host == strings.TrimPrefix(b, "."):
			return true
		case strings.HasSuffix(host, "."+strings.TrimPrefix(b, ".")):
			return true
		}
	}
	return false
}
