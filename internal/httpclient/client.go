// Package httpclient builds the HTTP client used for model downloads.
package httpclient

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	// Model files run to gigabytes, so there is no overall request timeout;
	// a stalled server is caught by the header and dial timeouts instead.
	DialTimeout           = 30 * time.Second
	ResponseHeaderTimeout = 60 * time.Second
	TLSHandshakeTimeout   = 30 * time.Second
	ExpectContinueTimeout = 2 * time.Second
	IdleConnTimeout       = 120 * time.Second
	MaxIdleConnsPerHost   = 4
)

var (
	defaultClient     *http.Client
	defaultClientOnce sync.Once
	overrideClient    *http.Client
)

// NewClient returns an http.Client tuned for long downloads. A zero timeout
// means no overall deadline.
func NewClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   MaxIdleConnsPerHost,
		IdleConnTimeout:       IdleConnTimeout,
		TLSHandshakeTimeout:   TLSHandshakeTimeout,
		ResponseHeaderTimeout: ResponseHeaderTimeout,
		ExpectContinueTimeout: ExpectContinueTimeout,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Default returns the shared download client.
func Default() *http.Client {
	if overrideClient != nil {
		return overrideClient
	}
	defaultClientOnce.Do(func() {
		defaultClient = NewClient(0)
	})
	return defaultClient
}

// SetDefaultClientForTesting overrides the shared client for tests.
// It returns a restore function to reset the previous client.
func SetDefaultClientForTesting(client *http.Client) func() {
	prevOverride := overrideClient
	overrideClient = client
	return func() {
		overrideClient = prevOverride
	}
}
