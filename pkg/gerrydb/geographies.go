package gerrydb

import (
	"context"
	"net/http"
	"time"

	"github.com/mggg/gerrydb_sdk_go/internal/schema"
	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
	"github.com/mggg/gerrydb_sdk_go/pkg/cache"
	"github.com/mggg/gerrydb_sdk_go/pkg/geo"
)

// GeographyRepo accesses geographies. Geographies are versioned by time:
// an update creates a new version rather than replacing the old one.
type GeographyRepo struct {
	c *Client
}

// Create creates geographies in bulk. Records are validated and sent as a
// single MessagePack list.
func (r *GeographyRepo) Create(ctx context.Context, namespace string, records []geo.Record) ([]Geography, error) {
	return r.write(ctx, http.MethodPost, namespace, records)
}

// Update creates new versions of existing geographies.
func (r *GeographyRepo) Update(ctx context.Context, namespace string, records []geo.Record) ([]Geography, error) {
	return r.write(ctx, http.MethodPatch, namespace, records)
}

func (r *GeographyRepo) write(ctx context.Context, method, namespace string, records []geo.Record) ([]Geography, error) {
	ns, err := r.c.resolveNamespace(namespace)
	if err != nil {
		return nil, err
	}
	if err := r.c.requireWrite("write geographies"); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []Geography{}, nil
	}
	batch := make([]geo.Record, len(records))
	for i, rec := range records {
		rec.Path = normalizePath(rec.Path)
		batch[i] = rec
	}
	body, err := geo.SerializeBatch(batch, geo.MsgPack)
	if err != nil {
		return nil, err
	}
	cl := call{method: method, path: join("geographies", ns), payload: body, contentType: geo.MsgPack.ContentType()}
	resp, err := r.c.do(ctx, cl)
	if err != nil {
		return nil, err
	}
	geos, err := decodeValidatedList[Geography](schema.Geography, cl, resp)
	if err != nil {
		return nil, err
	}
	for i := range geos {
		if err := r.c.cacheGeography(&geos[i]); err != nil {
			return nil, err
		}
	}
	return geos, nil
}

// Get fetches the latest version of a geography. Offline clients serve the
// newest cached version.
func (r *GeographyRepo) Get(ctx context.Context, namespace, path string) (*Geography, error) {
	return r.GetAt(ctx, namespace, path, time.Time{})
}

// GetAt fetches the version of a geography valid at t. Only cached versions
// can be selected by time; online reads of a zero t hit the server.
func (r *GeographyRepo) GetAt(ctx context.Context, namespace, path string, at time.Time) (*Geography, error) {
	ns, p, err := r.c.resolve(namespace, path)
	if err != nil {
		return nil, err
	}
	if r.c.offline || !at.IsZero() {
		if r.c.cache == nil {
			return nil, apierr.Offline("uncached read of geography " + p)
		}
		entry, err := r.c.cache.Get(cache.KindGeography, ns, p, cache.GetOptions{At: at})
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return cacheDecode[Geography](entry.Data)
		}
		if r.c.offline {
			return nil, apierr.Offline("uncached read of geography " + p)
		}
		return nil, &apierr.Error{Kind: apierr.ErrNotFound, Message: "no cached version of geography /" + ns + "/" + p + " at " + at.Format(time.RFC3339)}
	}
	g, err := getPlain[Geography](ctx, r.c, schema.Geography, join("geographies", ns, p))
	if err != nil {
		return nil, err
	}
	if err := r.c.cacheGeography(g); err != nil {
		return nil, err
	}
	return g, nil
}

// AllPaths lists the paths of the geographies in layer within locality.
func (r *GeographyRepo) AllPaths(ctx context.Context, namespace, locality, layer string) ([]string, error) {
	ns, err := r.c.resolveNamespace(namespace)
	if err != nil {
		return nil, err
	}
	loc, lay := normalizePath(locality), normalizePath(layer)
	if loc == "" || lay == "" {
		return nil, apierr.Request("locality and layer are required to list geographies")
	}
	if r.c.offline {
		return nil, apierr.Offline("list geographies")
	}
	var paths []string
	if err := r.c.Request(ctx, http.MethodGet, join("__list_geo", ns, loc, lay), nil, &paths); err != nil {
		return nil, err
	}
	return nonNil(paths), nil
}

func (c *Client) cacheGeography(g *Geography) error {
	if c.cache == nil || g.ValidFrom.IsZero() {
		return nil
	}
	data, err := cacheEncode(g)
	if err != nil {
		return apierr.Cache(err, "encode geography")
	}
	return c.cache.Insert(cache.KindGeography, g.Namespace, g.Path, data, cache.InsertOptions{ValidFrom: g.ValidFrom})
}

// Record converts g into a geographic record in the default CRS.
func (g Geography) Record() (geo.Record, error) {
	shape, err := g.Shape()
	if err != nil {
		return geo.Record{}, err
	}
	pt, err := g.Point()
	if err != nil {
		return geo.Record{}, err
	}
	rec := geo.Record{Path: g.Path, Geometry: shape, InternalPoint: pt, CRS: geo.DefaultCRS}
	if err := geo.Validate(rec); err != nil {
		return geo.Record{}, err
	}
	return rec, nil
}
