package transport

import (
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"
)

// newHTTPTransport builds the default round tripper. Proxy settings are read
// from HTTP_PROXY, HTTPS_PROXY and NO_PROXY when the client is created, so
// clients built after an environment change pick it up.
func newHTTPTransport() *http.Transport {
	proxyFunc := httpproxy.FromEnvironment().ProxyFunc()

	return &http.Transport{
		Proxy: func(req *http.Request) (*url.URL, error) {
			return proxyFunc(req.URL)
		},
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
