// Package client provides the ALM REST client: session handling, the test
// count probe and single-page retrieval of the tests collection.
package client

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/alm-export/pkg/cache"
	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Prometheus metrics for ALM client operations.
var (
	almRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "almexport_requests_total",
		Help: "Total ALM requests by endpoint and status",
	}, []string{"endpoint", "status"})

	almRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "almexport_request_duration_seconds",
		Help:    "ALM request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	almErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "almexport_errors_total",
		Help: "Total ALM errors by class",
	}, []string{"class"})
)

// ALM REST paths, relative to the web domain.
const (
	pathIsAuthenticated = "qcbin/rest/is-authenticated"
	pathAuthenticate    = "qcbin/authentication-point/alm-authenticate"
	pathSiteSession     = "qcbin/rest/site-session"
	pathLogout          = "qcbin/authentication-point/logout"
)

// Endpoint labels used in logs and metrics.
const (
	endpointIsAuthenticated = "is-authenticated"
	endpointAuthenticate    = "authenticate"
	endpointSiteSession     = "site-session"
	endpointLogout          = "logout"
	endpointTestsCount      = "tests-count"
	endpointTestsPage       = "tests-page"
)

// Paging constants of the ALM tests collection.
const (
	// MaxPageSize is the server-enforced upper bound of page-size.
	MaxPageSize = 100

	// OrderBy sorts by the stable entity id so repeated paging is deterministic.
	OrderBy = "{id[ASC]}"
)

// Client talks to one ALM project.
type Client struct {
	http    *resty.Client
	cache   *cache.Manager
	config  Config
	logger  zerolog.Logger
	baseURL string

	authenticated bool
}

// Config holds the client configuration.
type Config struct {
	// WebDomain is the scheme and host of the ALM server, e.g. "https://alm.example.com"
	WebDomain string

	// Domain and Project select the ALM project
	Domain  string
	Project string

	// Credentials used when no session exists yet
	Username string
	Password string

	// VerifyTLS toggles certificate verification
	VerifyTLS bool

	// Timeout bounds a single HTTP request (0 = no timeout)
	Timeout time.Duration

	// UserAgent header sent with every request
	UserAgent string

	// Cache is an optional page cache (nil disables caching)
	Cache *cache.Manager
}

// DefaultConfig returns a configuration for the given project with safe defaults.
func DefaultConfig(webDomain, domain, project string) Config {
	return Config{
		WebDomain: webDomain,
		Domain:    domain,
		Project:   project,
		VerifyTLS: false,
		UserAgent: "almexport/1.0",
	}
}

// New creates a new ALM client. No request is made until Authenticate.
func New(cfg Config) (*Client, error) {
	webDomain := strings.TrimRight(strings.TrimSpace(cfg.WebDomain), "/")
	if webDomain == "" {
		return nil, fmt.Errorf("web domain is required")
	}
	u, err := url.Parse(webDomain)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("web domain must be an http(s) URL (got %q)", cfg.WebDomain)
	}
	if strings.TrimSpace(cfg.Domain) == "" {
		return nil, fmt.Errorf("domain is required")
	}
	if strings.TrimSpace(cfg.Project) == "" {
		return nil, fmt.Errorf("project is required")
	}
	cfg.WebDomain = webDomain

	logger := log.With().Str("component", "alm-client").Logger()

	rc := resty.New().
		SetLogger(restyLogger{logger}).
		SetTLSClientConfig(&tls.Config{
			InsecureSkipVerify: !cfg.VerifyTLS, //nolint:gosec // opt-in via alm.https_strict
			MinVersion:         tls.VersionTLS12,
		})
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}
	if cfg.UserAgent != "" {
		rc.SetHeader("User-Agent", cfg.UserAgent)
	}

	return &Client{
		http:   rc,
		cache:  cfg.Cache,
		config: cfg,
		logger: logger,
		baseURL: fmt.Sprintf("%s/qcbin/rest/domains/%s/projects/%s/tests",
			webDomain, url.PathEscape(cfg.Domain), url.PathEscape(cfg.Project)),
	}, nil
}

// TestsURL returns the URL of the project's tests collection.
func (c *Client) TestsURL() string {
	return c.baseURL
}

func (c *Client) url(path string) string {
	return c.config.WebDomain + "/" + path
}

type almAuthentication struct {
	XMLName  xml.Name `xml:"alm-authentication"`
	User     string   `xml:"user"`
	Password string   `xml:"password"`
}

// Authenticate establishes an ALM session. An existing session (cookies
// already accepted by is-authenticated) is reused. The session cookies are
// kept by the client for all later requests.
func (c *Client) Authenticate(ctx context.Context) error {
	resp, err := c.execute(c.http.R().SetContext(ctx), http.MethodGet, endpointIsAuthenticated, c.url(pathIsAuthenticated))
	if err != nil {
		return fmt.Errorf("%w: check session: %w", ErrAuthFailed, err)
	}

	if resp.StatusCode() != http.StatusOK {
		if c.config.Username == "" || c.config.Password == "" {
			return fmt.Errorf("%w: no session and no credentials configured", ErrAuthFailed)
		}

		body, err := xml.Marshal(almAuthentication{User: c.config.Username, Password: c.config.Password})
		if err != nil {
			return fmt.Errorf("%w: encode credentials: %w", ErrAuthFailed, err)
		}

		req := c.http.R().
			SetContext(ctx).
			SetHeader("Accept", "application/xml").
			SetHeader("Content-Type", "application/xml").
			SetBody(body)
		resp, err = c.execute(req, http.MethodPost, endpointAuthenticate, c.url(pathAuthenticate))
		if err != nil {
			return fmt.Errorf("%w: login: %w", ErrAuthFailed, err)
		}
		if !isCreatedOrOK(resp.StatusCode()) {
			return fmt.Errorf("%w: login: %w", ErrAuthFailed, statusError(resp))
		}
		c.logger.Info().Str("user", c.config.Username).Msg("ALM login accepted")
	}

	resp, err = c.execute(c.http.R().SetContext(ctx), http.MethodPost, endpointSiteSession, c.url(pathSiteSession))
	if err != nil {
		return fmt.Errorf("%w: site session: %w", ErrAuthFailed, err)
	}
	if !isCreatedOrOK(resp.StatusCode()) {
		return fmt.Errorf("%w: site session: %w", ErrAuthFailed, statusError(resp))
	}

	c.authenticated = true
	c.logger.Info().Str("web_domain", c.config.WebDomain).Msg("ALM session established")
	return nil
}

// TotalResults queries the tests collection once and returns its TotalResults.
func (c *Client) TotalResults(ctx context.Context) (int, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json")

	resp, err := c.execute(req, http.MethodGet, endpointTestsCount, c.baseURL)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCountUnavailable, err)
	}
	if !resp.IsSuccess() {
		return 0, fmt.Errorf("%w: %w", ErrCountUnavailable, statusError(resp))
	}

	total := gjson.GetBytes(resp.Body(), "TotalResults")
	if total.Type != gjson.Number || total.Num != math.Trunc(total.Num) || total.Num < 0 {
		return 0, fmt.Errorf("%w: TotalResults missing or not an integer", ErrCountUnavailable)
	}

	c.logger.Info().Int("total_count", int(total.Int())).Msg("Test count retrieved")
	return int(total.Int()), nil
}

// GetPage fetches one page of the tests collection ordered by id and returns
// the raw JSON body. A non-2xx status is returned as *ALMError. No retry is
// attempted.
func (c *Client) GetPage(ctx context.Context, startIndex, pageSize int) ([]byte, error) {
	key := cache.PageKey{
		Server:     c.config.WebDomain,
		Domain:     c.config.Domain,
		Project:    c.config.Project,
		PageSize:   pageSize,
		StartIndex: startIndex,
	}

	if c.cache != nil {
		entry, err := c.cache.Get(ctx, key)
		switch {
		case err == nil:
			c.logger.Debug().Int("start_index", startIndex).Msg("Page served from cache")
			return entry.Data, nil
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Int("start_index", startIndex).Msg("Cache get error")
		}
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetQueryParam("order-by", OrderBy).
		SetQueryParam("page-size", strconv.Itoa(pageSize)).
		SetQueryParam("start-index", strconv.Itoa(startIndex))

	resp, err := c.execute(req, http.MethodGet, endpointTestsPage, c.baseURL)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, statusError(resp)
	}

	body := resp.Body()
	if c.cache != nil && gjson.GetBytes(body, "entities").IsArray() {
		if err := c.cache.Set(ctx, key, cache.NewEntry(body, resp.StatusCode(), c.cache.TTL())); err != nil {
			c.logger.Warn().Err(err).Int("start_index", startIndex).Msg("Failed to cache page")
		}
	}

	return body, nil
}

// Close ends the ALM site session and logs out. Failures are logged only;
// the server expires abandoned sessions on its own.
func (c *Client) Close() error {
	if !c.authenticated {
		return nil
	}
	c.authenticated = false

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if resp, err := c.execute(c.http.R().SetContext(ctx), http.MethodDelete, endpointSiteSession, c.url(pathSiteSession)); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to close site session")
	} else if !resp.IsSuccess() {
		c.logger.Warn().Int("status", resp.StatusCode()).Msg("Failed to close site session")
	}

	resp, err := c.execute(c.http.R().SetContext(ctx), http.MethodGet, endpointLogout, c.url(pathLogout))
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("logout: %w", statusError(resp))
	}
	return nil
}

// execute runs req and records metrics. Transport failures come back as
// *ALMError with ErrorClassNetwork; HTTP statuses are left to the caller.
func (c *Client) execute(req *resty.Request, method, endpoint, target string) (*resty.Response, error) {
	start := time.Now()
	defer func() {
		almRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	resp, err := req.Execute(method, target)
	if err != nil {
		almErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		almRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		return nil, &ALMError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}

	status := resp.StatusCode()
	almRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	if class := classifyStatus(status); class != "" {
		almErrorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Debug().
			Str("endpoint", endpoint).
			Int("status", status).
			Str("error_class", string(class)).
			Msg("ALM request returned non-success status")
	}

	return resp, nil
}

func statusError(resp *resty.Response) *ALMError {
	return &ALMError{
		StatusCode: resp.StatusCode(),
		ErrorClass: classifyStatus(resp.StatusCode()),
		Message:    resp.Status(),
	}
}

func isCreatedOrOK(status int) bool {
	return status == http.StatusOK || status == http.StatusCreated
}

// restyLogger routes resty's internal warnings into zerolog.
type restyLogger struct {
	logger zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error().Msgf(format, v...)
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn().Msgf(format, v...)
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug().Msgf(format, v...)
}
