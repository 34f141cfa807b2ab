// Package client provides the E.ON Romania API client: session handling,
// request execution with a single re-login on 401, and one fetch function per
// resource kind.
package client

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for API client operations.
var (
	eonRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eon_requests_total",
		Help: "Total E.ON API requests by resource and status",
	}, []string{"resource", "status"})

	eonRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eon_request_duration_seconds",
		Help:    "E.ON API request duration in seconds by resource",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20},
	}, []string{"resource"})

	eonErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eon_errors_total",
		Help: "Total E.ON API errors by class",
	}, []string{"class"})

	eonLoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eon_logins_total",
		Help: "Total login attempts by result",
	}, []string{"result"})

	eonReauthTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eon_reauth_total",
		Help: "Total re-authentications triggered by a 401, by outcome",
	}, []string{"result"})
)

const (
	// DefaultBaseURL is the production API host.
	DefaultBaseURL = "https://api2.eon.ro"

	// DefaultSubscriptionKey is the API management key the public web
	// application sends with every request.
	DefaultSubscriptionKey = "674e9032df9d456fa371e17a4097a5b8"

	// DefaultUserAgent mimics a desktop browser; the gateway rejects
	// unknown agents on some routes.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36"

	// DefaultLoginTimeout bounds a single login round-trip.
	DefaultLoginTimeout = 20 * time.Second
)

// Client is the E.ON API client. A Client owns exactly one session; create one
// Client per configured account.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger

	mu     sync.Mutex
	token  string
	expiry time.Time

	// sessionMu serializes Execute and paged walks: a re-login replaces the
	// server-side session, so two callers must not heal a 401 at once.
	sessionMu sync.Mutex
}

// Config holds the client configuration.
type Config struct {
	// Credentials, immutable for the lifetime of the client.
	Username string
	Password string

	// BaseURL of the API (default: DefaultBaseURL).
	BaseURL string

	// Fixed headers sent with every request.
	SubscriptionKey string
	UserAgent       string

	// Timeouts
	LoginTimeout   time.Duration
	RequestTimeout time.Duration
}

// DefaultConfig returns a configuration pointing at the production API.
func DefaultConfig(username, password string) Config {
	return Config{
		Username:        username,
		Password:        password,
		BaseURL:         DefaultBaseURL,
		SubscriptionKey: DefaultSubscriptionKey,
		UserAgent:       DefaultUserAgent,
		LoginTimeout:    DefaultLoginTimeout,
		RequestTimeout:  30 * time.Second,
	}
}

// New creates a new API client. The session starts empty; the first fetch
// triggers a login.
func New(cfg Config) (*Client, error) {
	if cfg.Username == "" {
		return nil, fmt.Errorf("username is required")
	}

	if cfg.Password == "" {
		return nil, fmt.Errorf("password is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	if cfg.SubscriptionKey == "" {
		cfg.SubscriptionKey = DefaultSubscriptionKey
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = DefaultLoginTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	logger := log.With().Str("component", "eon-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		baseURL: base,
		config:  cfg,
		logger:  logger,
	}, nil
}

// HasToken reports whether the session currently holds a bearer token.
func (c *Client) HasToken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != ""
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) clearToken() {
	c.setToken("")
}

// clearTokenIf drops the session token only if it is still the one a
// rejected request was sent with.
func (c *Client) clearTokenIf(used string) {
	c.mu.Lock()
	if c.token == used {
		c.token = ""
	}
	c.mu.Unlock()
}

// url joins an API path (optionally carrying a query string) onto the base URL.
func (c *Client) url(pathAndQuery string) string {
	return c.baseURL.String() + pathAndQuery
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// SetLogger replaces the component logger.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}
