package httpclient

import (
	"net"
	"net/http"
	"time"

	"coderev/internal/logging"
)

// NewTransport returns a pooled transport shared by every client built for
// one upstream.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// New builds an HTTP client with a per-request timeout over transport.
// Redirects are returned to the caller instead of being followed.
func New(timeout time.Duration, transport http.RoundTripper, logger logging.Logger) *http.Client {
	if transport == nil {
		transport = NewTransport()
	}
	logger = logging.OrNop(logger)
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			logger.Debug("Not following redirect to %s", req.URL.Redacted())
			return http.ErrUseLastResponse
		},
	}
}
