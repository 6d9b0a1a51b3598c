package httputil

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "solaretp/1.0"
)

// NewClient returns an HTTP client with standard timeout configuration that
// sends userAgent on every request. An empty userAgent uses DefaultUserAgent.
func NewClient(userAgent string) *http.Client {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &http.Client{
		Timeout:   DefaultTimeout,
		Transport: &userAgentTransport{base: http.DefaultTransport, agent: userAgent},
	}
}

type userAgentTransport struct {
	base  http.RoundTripper
	agent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(r)
}
