package gerrydb

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/mggg/gerrydb_sdk_go/internal/gerryapi"
	"github.com/mggg/gerrydb_sdk_go/internal/schema"
	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
	"github.com/mggg/gerrydb_sdk_go/pkg/cache"
)

// GeoLayerRepo accesses geographic layers.
type GeoLayerRepo struct {
	c *Client
}

// All lists the layers of a namespace.
func (r *GeoLayerRepo) All(ctx context.Context, namespace string) ([]GeoLayer, error) {
	ns, err := r.c.resolveNamespace(namespace)
	if err != nil {
		return nil, err
	}
	return listETagged[GeoLayer](ctx, r.c, cache.KindGeoLayer, schema.GeoLayer, ns, join("layers", ns))
}

// Get fetches a layer.
func (r *GeoLayerRepo) Get(ctx context.Context, namespace, path string) (*GeoLayer, error) {
	ns, p, err := r.c.resolve(namespace, path)
	if err != nil {
		return nil, err
	}
	return getETagged[GeoLayer](ctx, r.c, cache.KindGeoLayer, schema.GeoLayer, ns, p, join("layers", ns, p))
}

// Create creates a layer.
func (r *GeoLayerRepo) Create(ctx context.Context, namespace string, in GeoLayerCreate) (*GeoLayer, error) {
	ns, err := r.c.resolveNamespace(namespace)
	if err != nil {
		return nil, err
	}
	in.Path = normalizePath(in.Path)
	layer, resp, err := send[GeoLayer](ctx, r.c, http.MethodPost, join("layers", ns), nil, schema.GeoLayerCreate, in, schema.GeoLayer)
	if err != nil {
		return nil, err
	}
	if err := r.c.cacheInsert(cache.KindGeoLayer, layer, gerryapi.ParseETag(resp.header)); err != nil {
		return nil, err
	}
	return layer, nil
}

// MapLocality assigns geographies to layer within locality. Geography paths
// are relative to the layer's namespace or full.
func (r *GeoLayerRepo) MapLocality(ctx context.Context, namespace, layer, locality string, geographies []string) error {
	ns, p, err := r.c.resolve(namespace, layer)
	if err != nil {
		return err
	}
	loc := normalizePath(locality)
	if loc == "" {
		return apierr.Request("locality is required to map layer %q", p)
	}
	if err := r.c.requireWrite("map locality"); err != nil {
		return err
	}
	in := GeoSetCreate{Paths: fullPaths(ns, geographies)}
	if err := schema.Validate(schema.GeoSetCreate, in); err != nil {
		return err
	}
	_, err = r.c.do(ctx, call{
		method:  http.MethodPut,
		path:    join("layers", ns, p),
		query:   url.Values{"locality": {loc}},
		payload: in,
	})
	return err
}

// fullPaths qualifies relative paths with ns.
func fullPaths(ns string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		if strings.HasPrefix(strings.TrimSpace(path), "/") {
			out = append(out, strings.ToLower(strings.TrimSpace(path)))
			continue
		}
		out = append(out, "/"+ns+"/"+normalizePath(path))
	}
	return out
}
