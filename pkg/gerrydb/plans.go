package gerrydb

import (
	"context"
	"net/http"

	"github.com/mggg/gerrydb_sdk_go/internal/schema"
)

// PlanRepo accesses districting plans. Plans are not cached.
type PlanRepo struct {
	c *Client
}

// All lists the plans of a namespace.
func (r *PlanRepo) All(ctx context.Context, namespace string) ([]Plan, error) {
	ns, err := r.c.resolveNamespace(namespace)
	if err != nil {
		return nil, err
	}
	return listPlain[Plan](ctx, r.c, schema.Plan, join("plans", ns))
}

// Get fetches a plan.
func (r *PlanRepo) Get(ctx context.Context, namespace, path string) (*Plan, error) {
	ns, p, err := r.c.resolve(namespace, path)
	if err != nil {
		return nil, err
	}
	return getPlain[Plan](ctx, r.c, schema.Plan, join("plans", ns, p))
}

// Create creates a plan. Assignment keys are geography paths relative to
// the namespace.
func (r *PlanRepo) Create(ctx context.Context, namespace string, in PlanCreate) (*Plan, error) {
	ns, err := r.c.resolveNamespace(namespace)
	if err != nil {
		return nil, err
	}
	in.Path = normalizePath(in.Path)
	in.Locality = normalizePath(in.Locality)
	in.Layer = normalizePath(in.Layer)
	if in.Assignments != nil {
		assignments := make(map[string]*string, len(in.Assignments))
		for geoPath, district := range in.Assignments {
			assignments[normalizePath(geoPath)] = district
		}
		in.Assignments = assignments
	}
	plan, _, err := send[Plan](ctx, r.c, http.MethodPost, join("plans", ns), nil, schema.PlanCreate, in, schema.Plan)
	return plan, err
}
