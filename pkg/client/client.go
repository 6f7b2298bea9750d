// Package client is the entry point of the Bravo Zero SDK. It resolves
// configuration, loads the PERSONA signing key and builds the Constitution,
// Memory and Bridge service clients over one shared transport.
//
//	bz, err := client.New(client.WithPrivateKeyPath("~/.bravozero/agent.pem"))
//	if err != nil {
//	    return err
//	}
//	defer bz.Close()
//
//	result, err := bz.Constitution.Evaluate(ctx, "send_email", constitution.EvaluateOptions{})
package client

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bravozero/bravozero-go/pkg/bridge"
	"github.com/bravozero/bravozero-go/pkg/config"
	"github.com/bravozero/bravozero-go/pkg/constitution"
	"github.com/bravozero/bravozero-go/pkg/logging"
	"github.com/bravozero/bravozero-go/pkg/memory"
	"github.com/bravozero/bravozero-go/pkg/persona"
	"github.com/bravozero/bravozero-go/pkg/transport"
)

// Client bundles the service clients. All of them share one transport and
// one Authenticator, and are safe for concurrent use.
type Client struct {
	Constitution *constitution.Client
	Memory       *memory.Client
	Bridge       *bridge.Client

	cfg       config.Config
	transport *transport.Client
	auth      *persona.Authenticator
	logger    *logging.Logger
	ownLogger bool
}

type options struct {
	explicit   config.Config
	source     config.Source
	keyBytes   []byte
	httpClient *http.Client
	registerer prometheus.Registerer
	logger     *logging.Logger
	policy     *bridge.Policy
	transport  []transport.Option
}

// Option configures New.
type Option func(*options)

// WithAPIKey sets the API key, overriding BRAVOZERO_API_KEY and the config file.
func WithAPIKey(key string) Option {
	return func(o *options) { o.explicit.APIKey = key }
}

// WithAgentID sets the agent identity.
func WithAgentID(id string) Option {
	return func(o *options) { o.explicit.AgentID = id }
}

// WithPrivateKeyPath enables signing with the PEM key at path.
func WithPrivateKeyPath(path string) Option {
	return func(o *options) { o.explicit.PrivateKeyPath = path }
}

// WithPrivateKeyBytes enables signing with an in-memory PEM key.
func WithPrivateKeyBytes(pem []byte) Option {
	return func(o *options) { o.keyBytes = pem }
}

// WithBaseURL points the SDK at a custom API root.
func WithBaseURL(u string) Option {
	return func(o *options) { o.explicit.BaseURL = u }
}

// WithEnvironment selects a hosted deployment.
func WithEnvironment(env config.Environment) Option {
	return func(o *options) { o.explicit.Environment = env }
}

// WithConfig supplies explicit settings in bulk. Non-zero fields win over the
// environment and the config file.
func WithConfig(cfg config.Config) Option {
	return func(o *options) { o.explicit = cfg }
}

// WithConfigSource controls which config file and environment are consulted.
func WithConfigSource(src config.Source) Option {
	return func(o *options) { o.source = src }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithMetrics registers request metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithLogger sets the logger. Without it the SDK logs to
// ~/.bravozero/logs when a log level is configured and stays silent otherwise.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBridgePolicy restricts which paths the bridge client may modify.
func WithBridgePolicy(p bridge.Policy) Option {
	return func(o *options) { o.policy = &p }
}

// WithTransportOptions passes extra options to the transport.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(o *options) { o.transport = append(o.transport, opts...) }
}

// New resolves configuration and builds every service client.
func New(opts ...Option) (*Client, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg, err := config.Load(o.explicit, o.source)
	if err != nil {
		return nil, err
	}

	// Explicit key bytes outrank a key path from the environment or file.
	if len(o.keyBytes) > 0 && o.explicit.PrivateKeyPath == "" {
		cfg.PrivateKeyPath = ""
	}

	c := &Client{cfg: cfg}
	if err := c.initLogger(o); err != nil {
		return nil, err
	}

	auth, err := newAuthenticator(cfg, o.keyBytes)
	if err != nil {
		c.closeLogger()
		return nil, err
	}
	c.auth = auth

	tc, err := transport.New(cfg.ResolvedBaseURL(), cfg.APIKey, cfg.AgentID, c.transportOptions(o)...)
	if err != nil {
		c.closeLogger()
		return nil, err
	}
	c.transport = tc

	var bridgeOpts []bridge.Option
	if o.policy != nil {
		bridgeOpts = append(bridgeOpts, bridge.WithPolicy(*o.policy))
	}
	br, err := bridge.New(tc, bridgeOpts...)
	if err != nil {
		c.closeLogger()
		return nil, err
	}

	c.Constitution = constitution.New(tc)
	c.Memory = memory.New(tc)
	c.Bridge = br

	c.logger.Infof("client ready: base_url=%s agent_id=%s signing=%t", tc.BaseURL(), cfg.AgentID, auth != nil)
	return c, nil
}

func (c *Client) initLogger(o *options) error {
	if o.logger != nil {
		c.logger = o.logger
		return nil
	}

	level, err := logging.ParseLevel(c.cfg.LogLevel)
	if err != nil {
		return err
	}
	if level == logging.LevelOff {
		c.logger = logging.Discard()
		return nil
	}

	// NewLogger falls back to stderr on error, which is still usable.
	l, _ := logging.NewLogger("client")
	l.SetLevel(level)
	c.logger = l
	c.ownLogger = true
	return nil
}

func (c *Client) closeLogger() {
	if c.ownLogger {
		c.logger.Close()
	}
}

func (c *Client) transportOptions(o *options) []transport.Option {
	topts := []transport.Option{
		transport.WithLogger(c.logger.With("transport")),
	}
	if o.httpClient != nil {
		topts = append(topts, transport.WithHTTPClient(o.httpClient))
	} else {
		topts = append(topts, transport.WithTimeout(c.cfg.Timeout))
	}
	if c.auth != nil {
		topts = append(topts, transport.WithAttester(c.auth))
	}
	if rate := c.cfg.Rate(); rate > 0 {
		topts = append(topts, transport.WithRateLimit(rate, c.cfg.RateBurst))
	}
	if retries := c.cfg.Retries(); retries > 0 {
		p := transport.DefaultRetryPolicy()
		p.MaxRetries = retries
		topts = append(topts, transport.WithRetry(p))
	}
	if o.registerer != nil {
		topts = append(topts, transport.WithMetrics(transport.NewMetrics(o.registerer)))
	}
	return append(topts, o.transport...)
}

func newAuthenticator(cfg config.Config, keyBytes []byte) (*persona.Authenticator, error) {
	if cfg.PrivateKeyPath == "" && len(keyBytes) == 0 {
		return nil, nil
	}
	auth, err := persona.NewAuthenticator(cfg.AgentID, persona.KeySource{
		Path:  cfg.PrivateKeyPath,
		Bytes: keyBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	return auth, nil
}

// Config returns the resolved configuration.
func (c *Client) Config() config.Config {
	return c.cfg
}

// AgentID returns the agent identity.
func (c *Client) AgentID() string {
	return c.cfg.AgentID
}

// BaseURL returns the API root in use.
func (c *Client) BaseURL() string {
	return c.transport.BaseURL()
}

// Authenticator returns the signer, or nil when no key is configured.
func (c *Client) Authenticator() *persona.Authenticator {
	return c.auth
}

// Signing reports whether requests to signed operations carry an attestation.
func (c *Client) Signing() bool {
	return c.auth != nil
}

// Transport exposes the shared transport, e.g. for LastRateLimit.
func (c *Client) Transport() *transport.Client {
	return c.transport
}

// Close releases idle connections and the log file the client opened.
func (c *Client) Close() error {
	err := c.transport.Close()
	c.closeLogger()
	return err
}
