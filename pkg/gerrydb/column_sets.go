package gerrydb

import (
	"context"
	"net/http"
	"strings"

	"github.com/mggg/gerrydb_sdk_go/internal/gerryapi"
	"github.com/mggg/gerrydb_sdk_go/internal/schema"
	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
	"github.com/mggg/gerrydb_sdk_go/pkg/cache"
)

// ColumnSetRepo accesses column sets.
type ColumnSetRepo struct {
	c *Client
}

// All lists the column sets of a namespace.
func (r *ColumnSetRepo) All(ctx context.Context, namespace string) ([]ColumnSet, error) {
	ns, err := r.c.resolveNamespace(namespace)
	if err != nil {
		return nil, err
	}
	return listETagged[ColumnSet](ctx, r.c, cache.KindColumnSet, schema.ColumnSet, ns, join("column-sets", ns))
}

// Get fetches a column set.
func (r *ColumnSetRepo) Get(ctx context.Context, namespace, path string) (*ColumnSet, error) {
	ns, p, err := r.c.resolve(namespace, path)
	if err != nil {
		return nil, err
	}
	return getETagged[ColumnSet](ctx, r.c, cache.KindColumnSet, schema.ColumnSet, ns, p, join("column-sets", ns, p))
}

// Create creates a column set. Columns are namespace-relative paths or full
// paths; every column must belong to the column set's namespace.
func (r *ColumnSetRepo) Create(ctx context.Context, namespace, path string, columns []string, description string) (*ColumnSet, error) {
	ns, p, err := r.c.resolve(namespace, path)
	if err != nil {
		return nil, err
	}
	rel := make([]string, 0, len(columns))
	for _, col := range columns {
		colNS, colPath := ns, normalizePath(col)
		if strings.HasPrefix(strings.TrimSpace(col), "/") {
			if colNS, colPath, err = ParsePath(col); err != nil {
				return nil, err
			}
		}
		if colNS != ns {
			return nil, apierr.Request("all columns in a column set must have the same namespace: %q is not in %q", col, ns)
		}
		rel = append(rel, colPath)
	}
	in := ColumnSetCreate{Path: p, Description: description, Columns: rel}
	set, resp, err := send[ColumnSet](ctx, r.c, http.MethodPost, join("column-sets", ns), nil, schema.ColumnSetCreate, in, schema.ColumnSet)
	if err != nil {
		return nil, err
	}
	if err := r.c.cacheInsert(cache.KindColumnSet, set, gerryapi.ParseETag(resp.header)); err != nil {
		return nil, err
	}
	return set, nil
}
