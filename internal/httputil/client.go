package httputil

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "aqiforecast/1.0"
)

// NewClient returns an HTTP client with the standard timeout that identifies
// itself to upstream providers.
func NewClient() *http.Client {
	return &http.Client{
		Timeout:   DefaultTimeout,
		Transport: &userAgentTransport{base: http.DefaultTransport, agent: DefaultUserAgent},
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
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(req)
}
