package gerrydb

import (
	"context"
	"net/http"

	"github.com/mggg/gerrydb_sdk_go/internal/gerryapi"
	"github.com/mggg/gerrydb_sdk_go/internal/schema"
	"github.com/mggg/gerrydb_sdk_go/pkg/cache"
)

// ViewTemplateRepo accesses view templates.
type ViewTemplateRepo struct {
	c *Client
}

// All lists the view templates of a namespace.
func (r *ViewTemplateRepo) All(ctx context.Context, namespace string) ([]ViewTemplate, error) {
	ns, err := r.c.resolveNamespace(namespace)
	if err != nil {
		return nil, err
	}
	return listETagged[ViewTemplate](ctx, r.c, cache.KindViewTemplate, schema.ViewTemplate, ns, join("view-templates", ns))
}

// Get fetches a view template.
func (r *ViewTemplateRepo) Get(ctx context.Context, namespace, path string) (*ViewTemplate, error) {
	ns, p, err := r.c.resolve(namespace, path)
	if err != nil {
		return nil, err
	}
	return getETagged[ViewTemplate](ctx, r.c, cache.KindViewTemplate, schema.ViewTemplate, ns, p, join("view-templates", ns, p))
}

// Create creates a view template. Members name columns or column sets,
// relative to the namespace or full; members may come from other
// namespaces.
func (r *ViewTemplateRepo) Create(ctx context.Context, namespace, path string, members []string, description string) (*ViewTemplate, error) {
	ns, p, err := r.c.resolve(namespace, path)
	if err != nil {
		return nil, err
	}
	in := ViewTemplateCreate{Path: p, Description: description, Members: fullPaths(ns, members)}
	tmpl, resp, err := send[ViewTemplate](ctx, r.c, http.MethodPost, join("view-templates", ns), nil, schema.ViewTemplateCreate, in, schema.ViewTemplate)
	if err != nil {
		return nil, err
	}
	if err := r.c.cacheInsert(cache.KindViewTemplate, tmpl, gerryapi.ParseETag(resp.header)); err != nil {
		return nil, err
	}
	return tmpl, nil
}
