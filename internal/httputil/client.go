// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package httputil

import (
	"net/http"
	"time"

	"github.com/pdiddy/research-desk/pkg/types"
)

const defaultTimeout = 30 * time.Second

// DefaultUserAgent identifies research-desk to upstream APIs.
const DefaultUserAgent = "research-desk/0.1"

// NewClient returns an HTTP client with the configured timeout that stamps
// every request with the configured User-Agent.
func NewClient(cfg types.HTTPConfig) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &userAgentTransport{ua: ua, next: http.DefaultTransport},
	}
}

type userAgentTransport struct {
	ua   string
	next http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.next.RoundTrip(req)
}
