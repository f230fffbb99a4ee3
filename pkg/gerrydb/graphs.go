package gerrydb

import (
	"context"
	"net/http"

	"github.com/mggg/gerrydb_sdk_go/internal/schema"
)

// GraphRepo accesses dual graphs. Graphs are not cached.
type GraphRepo struct {
	c *Client
}

// All lists the graphs of a namespace.
func (r *GraphRepo) All(ctx context.Context, namespace string) ([]Graph, error) {
	ns, err := r.c.resolveNamespace(namespace)
	if err != nil {
		return nil, err
	}
	return listPlain[Graph](ctx, r.c, schema.Graph, join("graphs", ns))
}

// Get fetches a graph with its edges.
func (r *GraphRepo) Get(ctx context.Context, namespace, path string) (*Graph, error) {
	ns, p, err := r.c.resolve(namespace, path)
	if err != nil {
		return nil, err
	}
	return getPlain[Graph](ctx, r.c, schema.Graph, join("graphs", ns, p))
}

// Create creates a graph.
func (r *GraphRepo) Create(ctx context.Context, namespace string, in GraphCreate) (*Graph, error) {
	ns, err := r.c.resolveNamespace(namespace)
	if err != nil {
		return nil, err
	}
	in.Path = normalizePath(in.Path)
	in.Locality = normalizePath(in.Locality)
	in.Layer = normalizePath(in.Layer)
	edges := make([]GraphEdge, 0, len(in.Edges))
	for _, e := range in.Edges {
		e.Path1, e.Path2 = normalizePath(e.Path1), normalizePath(e.Path2)
		edges = append(edges, e)
	}
	in.Edges = edges
	graph, _, err := send[Graph](ctx, r.c, http.MethodPost, join("graphs", ns), nil, schema.GraphCreate, in, schema.Graph)
	return graph, err
}
