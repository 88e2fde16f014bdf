package osm

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/NERVsystems/stopsync/pkg/core"
	"github.com/NERVsystems/stopsync/pkg/version"
)

const (
	// DefaultOverpassURL is the public Overpass interpreter endpoint
	DefaultOverpassURL = "https://overpass-api.de/api/interpreter"

	// DefaultAPIURL is the OSM editing API root
	DefaultAPIURL = "https://api.openstreetmap.org/api/0.6"
)

var (
	userAgent     = "stopsync/" + version.BuildVersion
	userAgentLock sync.RWMutex
)

// SetUserAgent sets the User-Agent string
func SetUserAgent(ua string) {
	userAgentLock.Lock()
	defer userAgentLock.Unlock()
	userAgent = ua
}

// GetUserAgent returns the current User-Agent string
func GetUserAgent() string {
	userAgentLock.RLock()
	defer userAgentLock.RUnlock()
	return userAgent
}

// ClientOptions configures the HTTP client shared by the fetcher and uploader.
type ClientOptions struct {
	Service string
	Timeout time.Duration
	RPS     float64
	Burst   int
	Policy  core.RetryPolicy
	Base    http.RoundTripper
}

// NewHTTPClient returns an *http.Client whose transport sets the User-Agent,
// waits on a per-service rate limiter and retries transient failures with the
// configured policy. Non-2xx responses surface as *core.FetchError.
func NewHTTPClient(opts ClientOptions) *http.Client {
	base := opts.Base
	if base == nil {
		base = &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	var limiter *rate.Limiter
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}

	return &http.Client{
		Timeout: opts.Timeout,
		Transport: &core.RetryTransport{
			Base:    userAgentTransport{base},
			Service: opts.Service,
			Policy:  opts.Policy,
			Limiter: limiter,
		},
	}
}

type userAgentTransport struct {
	base http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", GetUserAgent())
	}
	return t.base.RoundTrip(req)
}

// contextTransport binds every request to ctx, for clients whose API does not
// take a context.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

// withContext returns a shallow copy of c whose requests carry ctx.
func withContext(ctx context.Context, c *http.Client) *http.Client {
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Timeout:   c.Timeout,
		Transport: contextTransport{ctx: ctx, base: base},
	}
}
