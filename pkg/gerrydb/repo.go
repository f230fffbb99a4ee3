package gerrydb

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mggg/gerrydb_sdk_go/internal/gerryapi"
	"github.com/mggg/gerrydb_sdk_go/internal/httpx"
	"github.com/mggg/gerrydb_sdk_go/internal/schema"
	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
	"github.com/mggg/gerrydb_sdk_go/pkg/cache"
)

// cacheable objects report where they live in the cache.
type cacheable interface {
	cacheKey() (namespace, path string)
}

type aliased interface {
	cacheAliases() []string
}

func (n Namespace) cacheKey() (string, string)    { return "", n.Path }
func (l Locality) cacheKey() (string, string)     { return "", l.CanonicalPath }
func (l Locality) cacheAliases() []string         { return nonNil(l.Aliases) }
func (c Column) cacheKey() (string, string)       { return c.Namespace, c.CanonicalPath }
func (c Column) cacheAliases() []string           { return nonNil(c.Aliases) }
func (s ColumnSet) cacheKey() (string, string)    { return s.Namespace, s.Path }
func (l GeoLayer) cacheKey() (string, string)     { return l.Namespace, l.Path }
func (g Geography) cacheKey() (string, string)    { return g.Namespace, g.Path }
func (t ViewTemplate) cacheKey() (string, string) { return t.Namespace, t.Path }

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// normalizePath lowercases p and trims surrounding whitespace and slashes.
func normalizePath(p string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(p), "/"))
}

func normalizeAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, normalizePath(p))
	}
	return out
}

// ParsePath splits a full path of the form /namespace/path.
func ParsePath(full string) (namespace, path string, err error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(full), "/")
	ns, rest, ok := strings.Cut(trimmed, "/")
	if !ok || ns == "" || strings.Trim(rest, "/") == "" {
		return "", "", apierr.Request("invalid full path %q: expected /namespace/path", full)
	}
	return normalizePath(ns), normalizePath(rest), nil
}

// resolve picks the namespace for a call and normalizes path. A path
// starting with "/" carries its own namespace.
func (c *Client) resolve(namespace, path string) (string, string, error) {
	if strings.HasPrefix(strings.TrimSpace(path), "/") {
		ns, p, err := ParsePath(path)
		if err != nil {
			return "", "", err
		}
		if namespace != "" && normalizePath(namespace) != ns {
			return "", "", apierr.Request("path %q is outside namespace %q", path, namespace)
		}
		return ns, p, nil
	}
	ns, err := c.resolveNamespace(namespace)
	if err != nil {
		return "", "", err
	}
	p := normalizePath(path)
	if p == "" {
		return "", "", apierr.Request("path is required")
	}
	return ns, p, nil
}

func (c *Client) resolveNamespace(namespace string) (string, error) {
	ns := normalizePath(namespace)
	if ns == "" {
		ns = c.namespace
	}
	if ns == "" {
		return "", apierr.Request("no namespace available")
	}
	return ns, nil
}

func join(parts ...string) string {
	return strings.Join(parts, "/")
}

// validateResponse checks a response body against an object schema.
func validateResponse(name schema.Name, resp *response, list bool) error {
	doc, err := gerryapi.Generic(resp.contentType, resp.body)
	if err != nil {
		return apierr.ValidationWrap(err, "undecodable response")
	}
	if list {
		return schema.ValidateEach(name, doc)
	}
	return schema.Validate(name, doc)
}

func decodeValidated[T any](name schema.Name, cl call, resp *response) (*T, error) {
	if err := validateResponse(name, resp, false); err != nil {
		return nil, responseError(cl, resp, err)
	}
	var out T
	if err := gerryapi.Unmarshal(resp.contentType, resp.body, &out); err != nil {
		return nil, responseError(cl, resp, err)
	}
	return &out, nil
}

func decodeValidatedList[T any](name schema.Name, cl call, resp *response) ([]T, error) {
	if err := validateResponse(name, resp, true); err != nil {
		return nil, responseError(cl, resp, err)
	}
	var out []T
	if err := gerryapi.Unmarshal(resp.contentType, resp.body, &out); err != nil {
		return nil, responseError(cl, resp, err)
	}
	return out, nil
}

// cacheEncode stores objects as JSON regardless of the wire format.
func cacheEncode(v any) ([]byte, error) {
	return gerryapi.Marshal(httpx.ContentTypeJSON, v)
}

func cacheDecode[T any](data []byte) (*T, error) {
	var out T
	if err := gerryapi.Unmarshal(httpx.ContentTypeJSON, data, &out); err != nil {
		return nil, apierr.Cache(err, "decode cached object")
	}
	return &out, nil
}

// cacheInsert stores an ETag-versioned object.
func (c *Client) cacheInsert(kind cache.Kind, obj cacheable, etag string) error {
	if c.cache == nil || etag == "" {
		return nil
	}
	data, err := cacheEncode(obj)
	if err != nil {
		return apierr.Cache(err, "encode %s", kind)
	}
	ns, path := obj.cacheKey()
	opts := cache.InsertOptions{ETag: etag}
	if a, ok := obj.(aliased); ok {
		opts.Aliases = a.cacheAliases()
	}
	return c.cache.Insert(kind, ns, path, data, opts)
}

// getETagged reads one ETag-versioned object through the cache.
func getETagged[T any, PT interface {
	*T
	cacheable
}](ctx context.Context, c *Client, kind cache.Kind, name schema.Name, cacheNS, cachePath, apiPath string) (*T, error) {
	var cached *cache.Entry
	if c.cache != nil {
		var err error
		if cached, err = c.cache.Get(kind, cacheNS, cachePath, cache.GetOptions{}); err != nil {
			return nil, err
		}
	}
	if c.offline {
		if cached == nil {
			return nil, apierr.Offline("uncached read of " + apiPath)
		}
		return cacheDecode[T](cached.Data)
	}

	cl := call{method: http.MethodGet, path: apiPath}
	if cached != nil && cached.ETag != "" {
		cl.header = http.Header{"If-None-Match": {gerryapi.QuoteETag(cached.ETag)}}
	}
	resp, err := c.do(ctx, cl)
	if err != nil {
		return nil, err
	}
	if isNotModified(resp) && cached != nil {
		return cacheDecode[T](cached.Data)
	}
	obj, err := decodeValidated[T](name, cl, resp)
	if err != nil {
		return nil, err
	}
	if err := c.cacheInsert(kind, PT(obj), gerryapi.ParseETag(resp.header)); err != nil {
		return nil, err
	}
	return obj, nil
}

// listETagged reads a whole ETag-versioned collection through the cache.
func listETagged[T any, PT interface {
	*T
	cacheable
}](ctx context.Context, c *Client, kind cache.Kind, name schema.Name, cacheNS, apiPath string) ([]T, error) {
	var cached *cache.Collection
	if c.cache != nil {
		var err error
		if cached, err = c.cache.All(kind, cacheNS, time.Time{}); err != nil {
			return nil, err
		}
	}
	if c.offline {
		if cached == nil {
			return nil, apierr.Offline("uncached read of " + apiPath)
		}
		return collectionMembers[T](cached)
	}

	cl := call{method: http.MethodGet, path: apiPath}
	if cached != nil && cached.ETag != "" {
		cl.header = http.Header{"If-None-Match": {gerryapi.QuoteETag(cached.ETag)}}
	}
	resp, err := c.do(ctx, cl)
	if err != nil {
		return nil, err
	}
	if isNotModified(resp) && cached != nil {
		return collectionMembers[T](cached)
	}
	objs, err := decodeValidatedList[T](name, cl, resp)
	if err != nil {
		return nil, err
	}
	if etag := gerryapi.ParseETag(resp.header); etag != "" && c.cache != nil {
		for i := range objs {
			if err := c.cacheInsert(kind, PT(&objs[i]), etag); err != nil {
				return nil, err
			}
		}
		if err := c.cache.Collect(kind, cacheNS, cache.CollectOptions{ETag: etag}); err != nil {
			return nil, err
		}
	}
	return objs, nil
}

func collectionMembers[T any](coll *cache.Collection) ([]T, error) {
	paths := make([]string, 0, len(coll.Members))
	for p := range coll.Members {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	out := make([]T, 0, len(paths))
	for _, p := range paths {
		obj, err := cacheDecode[T](coll.Members[p].Data)
		if err != nil {
			return nil, err
		}
		out = append(out, *obj)
	}
	return out, nil
}

// getPlain reads an unversioned object; these are never cached.
func getPlain[T any](ctx context.Context, c *Client, name schema.Name, apiPath string) (*T, error) {
	if c.offline {
		return nil, apierr.Offline("read of " + apiPath)
	}
	cl := call{method: http.MethodGet, path: apiPath}
	resp, err := c.do(ctx, cl)
	if err != nil {
		return nil, err
	}
	return decodeValidated[T](name, cl, resp)
}

func listPlain[T any](ctx context.Context, c *Client, name schema.Name, apiPath string) ([]T, error) {
	if c.offline {
		return nil, apierr.Offline("read of " + apiPath)
	}
	cl := call{method: http.MethodGet, path: apiPath}
	resp, err := c.do(ctx, cl)
	if err != nil {
		return nil, err
	}
	return decodeValidatedList[T](name, cl, resp)
}

// send validates payload against in, performs a write and validates the
// response against out.
func send[T any](ctx context.Context, c *Client, method, apiPath string, query url.Values, in schema.Name, payload any, out schema.Name) (*T, *response, error) {
	if err := c.requireWrite(method + " " + apiPath); err != nil {
		return nil, nil, err
	}
	if err := schema.Validate(in, payload); err != nil {
		var apiErr *apierr.Error
		if e, ok := err.(*apierr.Error); ok {
			apiErr = e
			apiErr.Method, apiErr.Path = method, apiPath
			apiErr.Message = "request payload rejected before sending: " + apiErr.Message
			return nil, nil, apiErr
		}
		return nil, nil, err
	}
	cl := call{method: method, path: apiPath, query: query, payload: payload}
	resp, err := c.do(ctx, cl)
	if err != nil {
		return nil, nil, err
	}
	obj, err := decodeValidated[T](out, cl, resp)
	if err != nil {
		return nil, nil, err
	}
	return obj, resp, nil
}
