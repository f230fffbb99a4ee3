package gerrydb

import (
	"context"
	"net/http"

	"github.com/mggg/gerrydb_sdk_go/internal/gerryapi"
	"github.com/mggg/gerrydb_sdk_go/internal/schema"
	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
	"github.com/mggg/gerrydb_sdk_go/pkg/cache"
)

// NamespaceRepo accesses namespaces.
type NamespaceRepo struct {
	c *Client
}

// All lists the namespaces visible to the caller.
func (r *NamespaceRepo) All(ctx context.Context) ([]Namespace, error) {
	return listETagged[Namespace](ctx, r.c, cache.KindNamespace, schema.Namespace, "", "namespaces/")
}

// Get fetches one namespace.
func (r *NamespaceRepo) Get(ctx context.Context, path string) (*Namespace, error) {
	p := normalizePath(path)
	if p == "" {
		return nil, apierr.Request("namespace path is required")
	}
	return getETagged[Namespace](ctx, r.c, cache.KindNamespace, schema.Namespace, "", p, join("namespaces", p))
}

// Create creates a namespace.
func (r *NamespaceRepo) Create(ctx context.Context, path, description string, public bool) (*Namespace, error) {
	in := NamespaceCreate{Path: normalizePath(path), Description: description, Public: public}
	ns, resp, err := send[Namespace](ctx, r.c, http.MethodPost, "namespaces/", nil, schema.NamespaceCreate, in, schema.Namespace)
	if err != nil {
		return nil, err
	}
	if err := r.c.cacheInsert(cache.KindNamespace, ns, gerryapi.ParseETag(resp.header)); err != nil {
		return nil, err
	}
	return ns, nil
}
