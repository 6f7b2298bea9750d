// Package transport carries requests from the service clients to the Bravo
// Zero API.
//
// A Client owns the HTTP connection pool, the default headers, the optional
// PERSONA attester and the client-side rate limiter. Service clients obtain a
// path-scoped *Service from it:
//
//	tc, _ := transport.New("https://api.bravozero.ai", apiKey, agentID,
//	    transport.WithAttester(auth),
//	    transport.WithRateLimit(10, 20))
//	memorySvc := tc.Service("memory")
package transport

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bravozero/bravozero-go/pkg/logging"
	"github.com/bravozero/bravozero-go/pkg/persona"
	"github.com/bravozero/bravozero-go/pkg/types"
)

// Version is reported in the User-Agent header.
const Version = "1.0.0"

// Request headers set on every call.
const (
	HeaderAPIKey    = "X-API-Key"
	HeaderAgentID   = "X-Agent-ID"
	HeaderRequestID = "X-Request-ID"
)

// DefaultTimeout bounds a single HTTP attempt when no client is supplied.
const DefaultTimeout = 30 * time.Second

// Attester produces PERSONA attestation tokens. *persona.Authenticator
// satisfies it.
type Attester interface {
	CreateAttestation(opts ...persona.AttestOption) (string, error)
}

// Client is the shared HTTP plumbing for every service client.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	apiKey     string
	agentID    string
	userAgent  string

	attester Attester
	limiter  *rate.Limiter
	retry    RetryPolicy
	metrics  *Metrics
	logger   *logging.Logger
	now      func() time.Time

	mu        sync.Mutex
	rateLimit *types.RateLimitInfo
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. Its Transport and Timeout
// are used as-is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-attempt timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithAttester enables request signing for operations marked as signed.
func WithAttester(a Attester) Option {
	return func(c *Client) {
		c.attester = a
	}
}

// WithRateLimit caps outgoing requests at rps per second with the given burst.
// A non-positive rps disables the limiter.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry enables retries of 429, 5xx and network failures.
func WithRetry(p RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// WithMetrics records request metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source used for Retry-After dates.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Client for the API rooted at baseURL.
func New(baseURL, apiKey, agentID string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("transport: API key is required")
	}
	if agentID == "" {
		return nil, fmt.Errorf("transport: agent ID is required")
	}

	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("transport: invalid base URL %q: %w", baseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("transport: invalid base URL %q: want http(s)://host", baseURL)
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: newHTTPTransport(),
		},
		baseURL:   u,
		apiKey:    apiKey,
		agentID:   agentID,
		userAgent: "bravozero-go/" + Version,
		logger:    logging.Discard(),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// AgentID returns the agent identity sent with every request.
func (c *Client) AgentID() string {
	return c.agentID
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Signing reports whether an attester is configured.
func (c *Client) Signing() bool {
	return c.attester != nil
}

// LastRateLimit returns the most recent X-RateLimit-* values seen, if any.
func (c *Client) LastRateLimit() (types.RateLimitInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rateLimit == nil {
		return types.RateLimitInfo{}, false
	}
	return *c.rateLimit, true
}

func (c *Client) recordRateLimit(h http.Header) {
	info, ok := types.ParseRateLimit(h)
	if !ok {
		return
	}
	c.mu.Lock()
	c.rateLimit = &info
	c.mu.Unlock()
}

// Service returns a client scoped to /v1/<name>.
func (c *Client) Service(name string) *Service {
	return &Service{
		client: c,
		name:   name,
		root:   "/v1/" + strings.Trim(name, "/"),
		logger: c.logger.With(name),
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
