package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the production API endpoint, used when neither the
// constructor argument nor the DCN_API_BASE environment variable is set.
const DefaultBaseURL = "https://api.decentralised.art"

// EnvBaseURL is the environment variable overriding the default base URL.
const EnvBaseURL = "DCN_API_BASE"

const defaultTimeout = 15 * time.Second

// SDKVersion is reported in the User-Agent header.
const SDKVersion = "0.1.0"

// Config is the immutable construction-time configuration of a Client. All
// environment reads happen exactly once, here; no component reads the
// environment after construction.
type Config struct {
	BaseURL            string
	Timeout            time.Duration
	AutoRefresh        bool
	InsecureSkipVerify bool
}

// resolveConfig applies the base URL resolution order (explicit argument,
// environment override, default) and strips any trailing slash.
func resolveConfig(baseURL string, timeout time.Duration, autoRefresh, insecure bool) Config {
	base := baseURL
	if base == "" {
		base = os.Getenv(EnvBaseURL)
	}
	if base == "" {
		base = DefaultBaseURL
	}
	return Config{
		BaseURL:            strings.TrimRight(base, "/"),
		Timeout:            timeout,
		AutoRefresh:        autoRefresh,
		InsecureSkipVerify: insecure,
	}
}

// credentials is the client's token pair. Mutated only by setTokens.
type credentials struct {
	access  string
	refresh string
}

// Client is the DCN SDK entry point: it owns the credential pair, the
// current backend handle, and the operation registry, and exposes one method
// per remote operation.
type Client struct {
	cfg      Config
	registry *operationRegistry
	logger   *zap.Logger
	limiter  *rate.Limiter
	metrics  *metrics
	hc       *http.Client

	// token state and current handle — guarded by mu
	mu    sync.Mutex
	creds credentials
	h     *handle
}

// Option is a functional option for configuring a Client.
type Option func(*options)

type options struct {
	access      string
	refresh     string
	timeout     time.Duration
	autoRefresh bool
	insecure    bool
	httpClient  *http.Client
	transport   http.RoundTripper
	logger      *zap.Logger
	limiter     *rate.Limiter
	registerer  prometheus.Registerer
}

// WithTokens seeds the client with an existing access/refresh token pair.
// A non-empty access token makes the initial handle authenticated.
func WithTokens(access, refresh string) Option {
	return func(o *options) {
		o.access = access
		o.refresh = refresh
	}
}

// WithTimeout sets the per-call transport timeout. Default is 15 s. There is
// no overall deadline across a refresh-retry pair beyond the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithoutAutoRefresh disables the dispatcher's single 401 refresh-and-retry.
func WithoutAutoRefresh() Option {
	return func(o *options) { o.autoRefresh = false }
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development.
func WithInsecureSkipVerify() Option {
	return func(o *options) { o.insecure = true }
}

// WithHTTPClient sets a custom http.Client, overriding timeout and TLS options.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithTransport injects a custom transport, typically for tests. The
// transport is an explicit constructor parameter, never discovered by
// introspection.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithLogger attaches a zap logger. Default is zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRateLimit gates every wire call through a client-side token bucket.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) { o.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithMetrics registers dispatcher metrics (requests by operation and
// status, token refreshes) with the given registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// New creates a Client. baseURL may be empty, in which case the DCN_API_BASE
// environment variable and then the production default apply.
func New(baseURL string, opts ...Option) (*Client, error) {
	o := &options{
		timeout:     defaultTimeout,
		autoRefresh: true,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	cfg := resolveConfig(baseURL, o.timeout, o.autoRefresh, o.insecure)

	hc := o.httpClient
	if hc == nil {
		transport := o.transport
		if transport == nil {
			t := &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 2,
			}
			if cfg.InsecureSkipVerify {
				t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
			}
			transport = t
		}
		hc = &http.Client{Timeout: cfg.Timeout, Transport: transport}
	}

	c := &Client{
		cfg:      cfg,
		registry: defaultRegistry(),
		logger:   o.logger,
		limiter:  o.limiter,
		hc:       hc,
		creds:    credentials{access: o.access, refresh: o.refresh},
	}
	if o.registerer != nil {
		c.metrics = newMetrics(o.registerer)
	}
	c.h = c.newHandle(o.access)
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// newHandle builds a fresh backend handle. An empty token yields an
// anonymous handle.
func (c *Client) newHandle(token string) *handle {
	return &handle{
		baseURL:   c.cfg.BaseURL,
		http:      c.hc,
		token:     token,
		userAgent: "dcn-go/" + SDKVersion,
		limiter:   c.limiter,
		logger:    c.logger,
	}
}

// SetTokens stores a token pair. A non-empty access token replaces the
// backend handle with an authenticated one; the refresh token is stored as
// given, including an explicit empty string.
func (c *Client) SetTokens(access, refresh string) {
	c.setTokens(access, &refresh)
}

// SetAccessToken stores a new access token and rebuilds the handle, leaving
// the refresh token unchanged.
func (c *Client) SetAccessToken(access string) {
	c.setTokens(access, nil)
}

// setTokens commits token state. If access is non-empty the old handle is
// discarded and a fresh authenticated handle installed, so the next
// dispatched call uses the new token with no stale-handle window. A nil
// refresh leaves the stored refresh token untouched.
func (c *Client) setTokens(access string, refresh *string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if access != "" {
		c.creds.access = access
		c.h = c.newHandle(access)
	}
	if refresh != nil {
		c.creds.refresh = *refresh
	}
}

// currentHandle returns the handle calls must go through right now.
func (c *Client) currentHandle() *handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.h
}

func (c *Client) tokens() (access, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds.access, c.creds.refresh
}

// Authenticated reports whether the current handle carries an access token.
func (c *Client) Authenticated() bool {
	return c.currentHandle().authenticated()
}

// AccessToken returns the current access token ("" when anonymous).
func (c *Client) AccessToken() string {
	access, _ := c.tokens()
	return access
}

// RefreshToken returns the current refresh token ("" when absent).
func (c *Client) RefreshToken() string {
	_, refresh := c.tokens()
	return refresh
}

// BaseURL returns the resolved API base URL.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }

// ─── Public operation surface ────────────────────────────────────────────────

// Version fetches the remote API version.
func (c *Client) Version(ctx context.Context) (*VersionResponse, error) {
	raw, err := c.invoke(ctx, actionVersion, Params{})
	if err != nil {
		return nil, err
	}
	var out VersionResponse
	if err := unmarshalPayload(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AccountInfo fetches the account record for address, paging its resource
// listings with limit and page.
func (c *Client) AccountInfo(ctx context.Context, address string, limit, page int) (*AccountResponse, error) {
	raw, err := c.invoke(ctx, actionAccountInfo, Params{
		Path: map[string]string{"address": address},
		Query: map[string]string{
			"limit": strconv.Itoa(limit),
			"page":  strconv.Itoa(page),
		},
	})
	if err != nil {
		return nil, err
	}
	var out AccountResponse
	if err := unmarshalPayload(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetFeature fetches the latest version of a feature by name.
func (c *Client) GetFeature(ctx context.Context, name string) (*FeatureResponse, error) {
	return c.featureGet(ctx, actionFeatureByName, map[string]string{"name": name})
}

// GetFeatureVersion fetches a specific version of a feature.
func (c *Client) GetFeatureVersion(ctx context.Context, name, version string) (*FeatureResponse, error) {
	return c.featureGet(ctx, actionFeatureByNameVersion, map[string]string{"name": name, "version": version})
}

func (c *Client) featureGet(ctx context.Context, action string, path map[string]string) (*FeatureResponse, error) {
	raw, err := c.invoke(ctx, action, Params{Path: path})
	if err != nil {
		return nil, err
	}
	var out FeatureResponse
	if err := unmarshalPayload(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateFeature registers a new feature.
func (c *Client) CreateFeature(ctx context.Context, req FeatureCreateRequest) (*FeatureResponse, error) {
	return c.featureCreate(ctx, req)
}

// CreateFeatureFromMap registers a new feature from a raw key/value
// structure, for callers assembling requests dynamically.
func (c *Client) CreateFeatureFromMap(ctx context.Context, src map[string]any) (*FeatureResponse, error) {
	return c.featureCreate(ctx, src)
}

func (c *Client) featureCreate(ctx context.Context, body any) (*FeatureResponse, error) {
	raw, err := c.invoke(ctx, actionFeatureCreate, Params{Body: body})
	if err != nil {
		return nil, err
	}
	var out FeatureResponse
	if err := unmarshalPayload(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTransformation fetches the latest version of a transformation by name.
func (c *Client) GetTransformation(ctx context.Context, name string) (*TransformationResponse, error) {
	return c.transformationGet(ctx, actionTransformByName, map[string]string{"name": name})
}

// GetTransformationVersion fetches a specific version of a transformation.
func (c *Client) GetTransformationVersion(ctx context.Context, name, version string) (*TransformationResponse, error) {
	return c.transformationGet(ctx, actionTransformByNameVersion, map[string]string{"name": name, "version": version})
}

func (c *Client) transformationGet(ctx context.Context, action string, path map[string]string) (*TransformationResponse, error) {
	raw, err := c.invoke(ctx, action, Params{Path: path})
	if err != nil {
		return nil, err
	}
	var out TransformationResponse
	if err := unmarshalPayload(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTransformation registers a new transformation.
func (c *Client) CreateTransformation(ctx context.Context, req TransformationCreateRequest) (*TransformationResponse, error) {
	return c.transformationCreate(ctx, req)
}

// CreateTransformationFromMap registers a new transformation from a raw
// key/value structure.
func (c *Client) CreateTransformationFromMap(ctx context.Context, src map[string]any) (*TransformationResponse, error) {
	return c.transformationCreate(ctx, src)
}

func (c *Client) transformationCreate(ctx context.Context, body any) (*TransformationResponse, error) {
	raw, err := c.invoke(ctx, actionTransformCreate, Params{Body: body})
	if err != nil {
		return nil, err
	}
	var out TransformationResponse
	if err := unmarshalPayload(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Execute runs a feature remotely, generating numSamples samples. When
// runningInstances is non-empty it is encoded into the running_instances
// parameter and the with-instances operation is used.
func (c *Client) Execute(ctx context.Context, featureName string, numSamples int, runningInstances []RunningInstance) (*ExecuteResponse, error) {
	p := Params{
		Path: map[string]string{
			"name":        featureName,
			"num_samples": strconv.Itoa(numSamples),
		},
	}
	action := actionExecute
	if len(runningInstances) > 0 {
		action = actionExecuteRunningInstances
		p.Query = map[string]string{
			"running_instances": EncodeRunningInstances(runningInstances),
		}
	}
	raw, err := c.invoke(ctx, action, p)
	if err != nil {
		return nil, err
	}
	var out ExecuteResponse
	if err := unmarshalPayload(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// unmarshalPayload decodes a successful payload into out. An empty payload
// is a valid result and leaves out zero-valued.
func unmarshalPayload(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
