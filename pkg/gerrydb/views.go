package gerrydb

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/mggg/gerrydb_sdk_go/internal/schema"
	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
)

// ViewRepo accesses views. Views are not cached.
type ViewRepo struct {
	c *Client
}

// All lists the views of a namespace.
func (r *ViewRepo) All(ctx context.Context, namespace string) ([]ViewMeta, error) {
	ns, err := r.c.resolveNamespace(namespace)
	if err != nil {
		return nil, err
	}
	return listPlain[ViewMeta](ctx, r.c, schema.View, join("views", ns))
}

// Get fetches a view's metadata.
func (r *ViewRepo) Get(ctx context.Context, namespace, path string) (*ViewMeta, error) {
	ns, p, err := r.c.resolve(namespace, path)
	if err != nil {
		return nil, err
	}
	return getPlain[ViewMeta](ctx, r.c, schema.View, join("views", ns, p))
}

// Create instantiates a view template over a layer in a locality.
func (r *ViewRepo) Create(ctx context.Context, namespace string, in ViewCreate) (*ViewMeta, error) {
	ns, err := r.c.resolveNamespace(namespace)
	if err != nil {
		return nil, err
	}
	in.Path = normalizePath(in.Path)
	in.Template = normalizePath(in.Template)
	in.Locality = normalizePath(in.Locality)
	in.Layer = normalizePath(in.Layer)
	if in.Graph != nil {
		graph := normalizePath(*in.Graph)
		in.Graph = &graph
	}
	view, _, err := send[ViewMeta](ctx, r.c, http.MethodPost, join("views", ns), nil, schema.ViewCreate, in, schema.View)
	return view, err
}

// Render writes the view as a GeoPackage to w and returns the number of
// bytes written.
func (r *ViewRepo) Render(ctx context.Context, namespace, path string, w io.Writer) (int64, error) {
	ns, p, err := r.c.resolve(namespace, path)
	if err != nil {
		return 0, err
	}
	if r.c.offline {
		return 0, apierr.Offline("render view " + p)
	}
	cl := call{method: http.MethodGet, path: join("views", ns, p, "gpkg")}
	resp, err := r.c.do(ctx, cl)
	if err != nil {
		return 0, err
	}
	if len(resp.body) == 0 {
		return 0, responseError(cl, resp, apierr.Validation("empty GeoPackage"))
	}
	n, err := io.Copy(w, bytes.NewReader(resp.body))
	if err != nil {
		return n, &apierr.Error{Kind: apierr.ErrRequest, Method: cl.method, Path: cl.path, Message: "write GeoPackage", Err: err}
	}
	return n, nil
}
