// Package httpx builds the shared HTTP client used by every network-facing
// component (C2, C3, C6, C10). It follows the teacher's util.go: a
// dnscache-backed dialer plus HTTP/2, wrapped here in a retryablehttp client
// so the linear-backoff retry policy from spec.md §4.3/§7 is centralized
// instead of re-implemented at each call site.
package httpx

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/viki-org/dnscache"
	"golang.org/x/net/http2"
)

const dialTimeout = 5 * time.Second

// RequestTimeout is the default per-request timeout from spec.md §5.
const RequestTimeout = 120 * time.Second

// MaxAttempts is the retry ceiling from spec.md §4.3/§7 (3 attempts total).
const MaxAttempts = 3

var resolver = dnscache.New(15 * time.Minute)

// NewClient builds an *http.Client with DNS caching and HTTP/2. It does not
// retry; wrap it with Retryable for the linear-backoff retry policy. When
// followRedirects is false the client
// stops at the first redirect response (used for resolving a CDN's final
// download URL while still owning the first hop, mirroring getterClient vs
// redirectClient in the teacher).
func NewClient(followRedirects bool) *http.Client {
	transport := &http.Transport{
		MaxIdleConnsPerHost:   10,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 10 * time.Second,
		DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			sep := strings.LastIndex(address, ":")
			if sep < 0 {
				return net.DialTimeout(network, address, dialTimeout)
			}
			host, port := address[:sep], address[sep:]
			ip, err := resolver.FetchOne(host)
			if err != nil {
				return net.DialTimeout(network, address, dialTimeout)
			}
			ipStr := ip.String()
			if ip.To4() == nil {
				ipStr = fmt.Sprintf("[%s]", ipStr)
			}
			return net.DialTimeout(network, ipStr+port, dialTimeout)
		},
	}
	_ = http2.ConfigureTransport(transport)

	client := &http.Client{Transport: transport, Timeout: RequestTimeout}
	if !followRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

// Retryable wraps client in a retryablehttp.Client implementing the linear
// backoff (1s * attempt number) from spec.md §4.3, capped at MaxAttempts.
// Transient failures (network errors, 5xx) are retried; everything else is
// returned as-is for the caller to classify. This is what backs C3's
// single-file downloader retry loop (internal/download.File) — callers pass
// in the shared dnscache/http2 client from NewClient so the retry wrapper
// doesn't duplicate that transport setup.
func Retryable(client *http.Client) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = client
	rc.RetryMax = MaxAttempts - 1
	rc.Logger = nil
	rc.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return time.Duration(attemptNum+1) * time.Second
	}
	rc.CheckRetry = retryablehttp.DefaultRetryPolicy
	return rc
}

const userAgent = "vesta-launcher/1.0 (+https://vesta.run)"

// Get issues a GET with the shared redirect-following client and the
// launcher's User-Agent, matching the teacher's HttpGet.
func Get(client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	return client.Do(req)
}
