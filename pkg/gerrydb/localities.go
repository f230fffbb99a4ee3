package gerrydb

import (
	"context"
	"net/http"

	"github.com/mggg/gerrydb_sdk_go/internal/gerryapi"
	"github.com/mggg/gerrydb_sdk_go/internal/schema"
	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
	"github.com/mggg/gerrydb_sdk_go/pkg/cache"
)

// LocalityRepo accesses localities. Localities are global; they belong to
// no namespace.
type LocalityRepo struct {
	c *Client
}

// All lists every locality.
func (r *LocalityRepo) All(ctx context.Context) ([]Locality, error) {
	return listETagged[Locality](ctx, r.c, cache.KindLocality, schema.Locality, "", "localities/")
}

// Get fetches a locality by canonical path or alias.
func (r *LocalityRepo) Get(ctx context.Context, path string) (*Locality, error) {
	p := normalizePath(path)
	if p == "" {
		return nil, apierr.Request("locality path is required")
	}
	return getETagged[Locality](ctx, r.c, cache.KindLocality, schema.Locality, "", p, join("localities", p))
}

// Create creates localities in bulk.
func (r *LocalityRepo) Create(ctx context.Context, locs ...LocalityCreate) ([]Locality, error) {
	const apiPath = "localities/"
	if err := r.c.requireWrite("create localities"); err != nil {
		return nil, err
	}
	if len(locs) == 0 {
		return nil, apierr.Request("no localities to create")
	}
	payload := make([]LocalityCreate, len(locs))
	for i, loc := range locs {
		loc.CanonicalPath = normalizePath(loc.CanonicalPath)
		if loc.ParentPath != nil {
			parent := normalizePath(*loc.ParentPath)
			loc.ParentPath = &parent
		}
		if loc.Aliases != nil {
			loc.Aliases = normalizeAll(loc.Aliases)
		}
		if err := schema.Validate(schema.LocalityCreate, loc); err != nil {
			return nil, err
		}
		payload[i] = loc
	}

	cl := call{method: http.MethodPost, path: apiPath, payload: payload}
	resp, err := r.c.do(ctx, cl)
	if err != nil {
		return nil, err
	}
	created, err := decodeValidatedList[Locality](schema.Locality, cl, resp)
	if err != nil {
		return nil, err
	}
	etag := gerryapi.ParseETag(resp.header)
	for i := range created {
		if err := r.c.cacheInsert(cache.KindLocality, &created[i], etag); err != nil {
			return nil, err
		}
	}
	return created, nil
}

// Update adds aliases to a locality.
func (r *LocalityRepo) Update(ctx context.Context, path string, aliases []string) (*Locality, error) {
	p := normalizePath(path)
	if p == "" {
		return nil, apierr.Request("locality path is required")
	}
	patch := LocalityPatch{Aliases: normalizeAll(aliases)}
	if err := r.c.requireWrite("update locality"); err != nil {
		return nil, err
	}
	cl := call{method: http.MethodPatch, path: join("localities", p), payload: patch}
	resp, err := r.c.do(ctx, cl)
	if err != nil {
		return nil, err
	}
	loc, err := decodeValidated[Locality](schema.Locality, cl, resp)
	if err != nil {
		return nil, err
	}
	if err := r.c.cacheInsert(cache.KindLocality, loc, gerryapi.ParseETag(resp.header)); err != nil {
		return nil, err
	}
	return loc, nil
}
