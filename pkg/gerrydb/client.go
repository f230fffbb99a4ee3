package gerrydb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mggg/gerrydb_sdk_go/internal/gerryapi"
	"github.com/mggg/gerrydb_sdk_go/internal/httpx"
	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
	"github.com/mggg/gerrydb_sdk_go/pkg/cache"
	"github.com/mggg/gerrydb_sdk_go/pkg/geo"
)

const (
	// DefaultTimeout bounds every request unless WithTimeout or WithHTTPClient is given.
	DefaultTimeout = 180 * time.Second
	// DefaultUserAgent identifies the client to the server.
	DefaultUserAgent = "gerrydb-client-go"

	headerAPIKey = "X-API-Key"
	headerMetaID = "X-GerryDB-Meta-ID"
	apiPrefix    = "/api/v1"
)

// RetryPolicy controls automatic retries of transient failures.
type RetryPolicy = httpx.RetryPolicy

var (
	// NoRetry sends every request exactly once. It is the default.
	NoRetry = httpx.NoRetry
	// ConservativeRetry retries network failures, 429 and 5xx responses up to three times.
	ConservativeRetry = httpx.ConservativeRetry
)

type options struct {
	namespace  string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
	retry      RetryPolicy
	format     geo.Format
	cachePath  string
	cache      *cache.Cache
	offline    bool
	userAgent  string
}

// Option configures a Client.
type Option func(*options)

// WithNamespace sets the namespace used when a call does not name one.
func WithNamespace(ns string) Option {
	return func(o *options) { o.namespace = normalizePath(ns) }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithHTTPClient supplies the underlying HTTP client. Its timeout takes
// precedence over WithTimeout.
func WithHTTPClient(h *http.Client) Option {
	return func(o *options) { o.httpClient = h }
}

// WithLogger attaches a zap logger. Requests are logged at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRetryPolicy enables automatic retries.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

// WithWireFormat selects the request encoding and the preferred response
// encoding. Responses are always decoded by their Content-Type.
func WithWireFormat(f geo.Format) Option {
	return func(o *options) { o.format = f }
}

// WithCache stores the object cache at path instead of a temporary file.
func WithCache(path string) Option {
	return func(o *options) { o.cachePath = path }
}

// WithCacheHandle shares an already open cache. The client does not close it.
func WithCacheHandle(c *cache.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithOffline serves reads from the cache only and rejects writes.
func WithOffline(offline bool) Option {
	return func(o *options) { o.offline = offline }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		if ua != "" {
			o.userAgent = ua
		}
	}
}

// Client is a GerryDB session. Its configuration is immutable; a Client is
// safe for concurrent use.
type Client struct {
	http      *httpx.Client
	baseURL   string
	namespace string
	format    geo.Format
	offline   bool
	cache     *cache.Cache
	ownsCache bool
	logger    *zap.Logger

	// metaID is set on clients derived from a WriteContext.
	metaID string
}

// New creates a client for host authenticated with apiKey.
//
// host may be a bare host ("localhost:8000", "gerrydb.example.org") or a full
// URL. Bare hosts starting with "localhost" use plain HTTP; others use HTTPS.
// The API prefix /api/v1 is appended when missing.
func New(host, apiKey string, opts ...Option) (*Client, error) {
	host = strings.TrimSpace(host)
	apiKey = strings.TrimSpace(apiKey)
	if host == "" {
		return nil, apierr.Config("no host specified")
	}
	if apiKey == "" {
		return nil, apierr.Config("no API key specified for host %q", host)
	}

	o := options{
		timeout:   DefaultTimeout,
		logger:    zap.NewNop(),
		retry:     NoRetry,
		format:    geo.JSON,
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(&o)
	}

	base := BaseURL(host)
	headers := http.Header{}
	headers.Set("User-Agent", o.userAgent)
	headers.Set(headerAPIKey, apiKey)
	headers.Set("Accept", o.format.ContentType())

	httpOpts := []httpx.Option{
		httpx.WithHeaders(headers),
		httpx.WithTimeout(o.timeout),
		httpx.WithRetryPolicy(o.retry),
		httpx.WithLogger(o.logger),
	}
	if o.httpClient != nil {
		httpOpts = append(httpOpts, httpx.WithHTTPClient(o.httpClient))
	}
	hc, err := httpx.NewClient(base, httpOpts...)
	if err != nil {
		return nil, apierr.ConfigWrap(err, "invalid host %q", host)
	}

	c := &Client{
		http:      hc,
		baseURL:   base,
		namespace: o.namespace,
		format:    o.format,
		offline:   o.offline,
		logger:    o.logger,
	}
	switch {
	case o.cache != nil:
		c.cache = o.cache
	case o.cachePath != "":
		if c.cache, err = cache.Open(o.cachePath); err != nil {
			return nil, err
		}
		c.ownsCache = true
	default:
		if c.cache, err = cache.OpenTemp(); err != nil {
			return nil, err
		}
		c.ownsCache = true
	}
	return c, nil
}

// BaseURL derives the API root for host.
func BaseURL(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	switch {
	case strings.HasPrefix(host, "http://"), strings.HasPrefix(host, "https://"):
	case strings.HasPrefix(host, "localhost"), strings.HasPrefix(host, "127.0.0.1"):
		host = "http://" + host
	default:
		host = "https://" + host
	}
	if !strings.HasSuffix(host, apiPrefix) {
		host += apiPrefix
	}
	return host
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Namespace returns the default namespace, possibly empty.
func (c *Client) Namespace() string { return c.namespace }

// Offline reports whether the client serves reads from the cache only.
func (c *Client) Offline() bool { return c.offline }

// Cache exposes the client's object cache.
func (c *Client) Cache() *cache.Cache { return c.cache }

// Close releases the cache. Temporary cache files are removed.
func (c *Client) Close() error {
	if c == nil || c.metaID != "" || !c.ownsCache || c.cache == nil {
		return nil
	}
	err := c.cache.Close()
	c.cache = nil
	return err
}

// Request performs a raw API call. payload is encoded in the configured wire
// format (a []byte payload is sent verbatim); the response is decoded into
// out, when non-nil, according to its Content-Type. No schema validation is
// applied.
func (c *Client) Request(ctx context.Context, method, path string, payload, out any) error {
	if c.offline {
		return apierr.Offline(method + " " + path)
	}
	resp, err := c.do(ctx, call{method: method, path: path, payload: payload})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := gerryapi.Unmarshal(resp.contentType, resp.body, out); err != nil {
		return &apierr.Error{
			Kind:       apierr.ErrValidation,
			Method:     method,
			Path:       path,
			StatusCode: resp.status,
			Message:    "undecodable response",
			Err:        err,
		}
	}
	return nil
}

type call struct {
	method      string
	path        string
	query       url.Values
	payload     any
	contentType string
	header      http.Header
}

type response struct {
	status      int
	body        []byte
	contentType string
	header      http.Header
}

func (c *Client) do(ctx context.Context, cl call) (*response, error) {
	header := http.Header{}
	for k, v := range cl.header {
		header[k] = v
	}
	if c.metaID != "" {
		header.Set(headerMetaID, c.metaID)
	}

	var body io.Reader
	if cl.payload != nil {
		ct := cl.contentType
		if ct == "" {
			ct = c.format.ContentType()
		}
		r, err := gerryapi.WriteBody(ct, cl.payload)
		if err != nil {
			return nil, err
		}
		body = r
		header.Set("Content-Type", ct)
	}

	resp, err := c.http.Do(ctx, &httpx.Request{
		Method: cl.method,
		Path:   cl.path,
		Query:  cl.query,
		Header: header,
		Body:   body,
	})
	if err != nil {
		return nil, gerryapi.MapError(err)
	}
	data, ct, err := gerryapi.ReadBody(resp)
	if err != nil {
		return nil, &apierr.Error{Kind: apierr.ErrNetwork, Method: cl.method, Path: cl.path, Message: "read response body", Err: err}
	}
	return &response{status: resp.StatusCode, body: data, contentType: ct, header: resp.Header}, nil
}

// requireWrite rejects writes outside a write context or in offline mode.
func (c *Client) requireWrite(op string) error {
	if c.offline {
		return apierr.Offline(op)
	}
	if c.metaID == "" {
		return apierr.Request("%s requires a write context; use Client.Context", op)
	}
	return nil
}

func (c *Client) withMeta(metaID string) *Client {
	clone := *c
	clone.metaID = metaID
	clone.ownsCache = false
	return &clone
}

// Namespaces returns the namespace repository.
func (c *Client) Namespaces() *NamespaceRepo { return &NamespaceRepo{c: c} }

// Localities returns the locality repository.
func (c *Client) Localities() *LocalityRepo { return &LocalityRepo{c: c} }

// Columns returns the column repository.
func (c *Client) Columns() *ColumnRepo { return &ColumnRepo{c: c} }

// ColumnSets returns the column set repository.
func (c *Client) ColumnSets() *ColumnSetRepo { return &ColumnSetRepo{c: c} }

// GeoLayers returns the geographic layer repository.
func (c *Client) GeoLayers() *GeoLayerRepo { return &GeoLayerRepo{c: c} }

// Geographies returns the geography repository.
func (c *Client) Geographies() *GeographyRepo { return &GeographyRepo{c: c} }

// Plans returns the districting plan repository.
func (c *Client) Plans() *PlanRepo { return &PlanRepo{c: c} }

// Graphs returns the dual graph repository.
func (c *Client) Graphs() *GraphRepo { return &GraphRepo{c: c} }

// ViewTemplates returns the view template repository.
func (c *Client) ViewTemplates() *ViewTemplateRepo { return &ViewTemplateRepo{c: c} }

// Views returns the view repository.
func (c *Client) Views() *ViewRepo { return &ViewRepo{c: c} }

// responseError builds a validation error for an unusable response.
func responseError(cl call, resp *response, err error) error {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) && apiErr.Method == "" {
		apiErr.Method, apiErr.Path, apiErr.StatusCode = cl.method, cl.path, resp.status
		return apiErr
	}
	return &apierr.Error{
		Kind:       apierr.ErrValidation,
		Method:     cl.method,
		Path:       cl.path,
		StatusCode: resp.status,
		Message:    fmt.Sprintf("invalid %s response", displayType(resp.contentType)),
		Err:        err,
	}
}

func displayType(ct string) string {
	if ct == "" {
		return "untyped"
	}
	return ct
}

func isNotModified(resp *response) bool {
	return resp != nil && resp.status == http.StatusNotModified
}
