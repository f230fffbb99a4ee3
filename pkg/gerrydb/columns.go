package gerrydb

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"

	"github.com/mggg/gerrydb_sdk_go/internal/gerryapi"
	"github.com/mggg/gerrydb_sdk_go/internal/schema"
	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
	"github.com/mggg/gerrydb_sdk_go/pkg/cache"
)

// ColumnRepo accesses columns.
type ColumnRepo struct {
	c *Client
}

// All lists the columns of a namespace.
func (r *ColumnRepo) All(ctx context.Context, namespace string) ([]Column, error) {
	ns, err := r.c.resolveNamespace(namespace)
	if err != nil {
		return nil, err
	}
	return listETagged[Column](ctx, r.c, cache.KindColumn, schema.Column, ns, join("columns", ns))
}

// Get fetches a column by canonical path or alias.
func (r *ColumnRepo) Get(ctx context.Context, namespace, path string) (*Column, error) {
	ns, p, err := r.c.resolve(namespace, path)
	if err != nil {
		return nil, err
	}
	return getETagged[Column](ctx, r.c, cache.KindColumn, schema.Column, ns, p, join("columns", ns, p))
}

// Create creates a column.
func (r *ColumnRepo) Create(ctx context.Context, namespace string, in ColumnCreate) (*Column, error) {
	ns, err := r.c.resolveNamespace(namespace)
	if err != nil {
		return nil, err
	}
	in.CanonicalPath = normalizePath(in.CanonicalPath)
	if in.Aliases != nil {
		in.Aliases = normalizeAll(in.Aliases)
	}
	col, resp, err := send[Column](ctx, r.c, http.MethodPost, join("columns", ns), nil, schema.ColumnCreate, in, schema.Column)
	if err != nil {
		return nil, err
	}
	if err := r.c.cacheInsert(cache.KindColumn, col, gerryapi.ParseETag(resp.header)); err != nil {
		return nil, err
	}
	return col, nil
}

// Update adds aliases to a column.
func (r *ColumnRepo) Update(ctx context.Context, namespace, path string, aliases []string) (*Column, error) {
	ns, p, err := r.c.resolve(namespace, path)
	if err != nil {
		return nil, err
	}
	if err := r.c.requireWrite("update column"); err != nil {
		return nil, err
	}
	cl := call{method: http.MethodPatch, path: join("columns", ns, p), payload: ColumnPatch{Aliases: normalizeAll(aliases)}}
	resp, err := r.c.do(ctx, cl)
	if err != nil {
		return nil, err
	}
	col, err := decodeValidated[Column](schema.Column, cl, resp)
	if err != nil {
		return nil, err
	}
	if err := r.c.cacheInsert(cache.KindColumn, col, gerryapi.ParseETag(resp.header)); err != nil {
		return nil, err
	}
	return col, nil
}

// SetValues assigns column values to geographies. Keys are geography paths,
// relative to the column's namespace or full (/namespace/path). Values must
// match the column type; nil clears a value.
func (r *ColumnRepo) SetValues(ctx context.Context, namespace, path string, values map[string]any) error {
	if err := r.c.requireWrite("set column values"); err != nil {
		return err
	}
	col, err := r.Get(ctx, namespace, path)
	if err != nil {
		return err
	}
	return r.setValues(ctx, col, values)
}

func (r *ColumnRepo) setValues(ctx context.Context, col *Column, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	payload, err := columnValues(col, values)
	if err != nil {
		return err
	}
	return r.putValues(ctx, col, payload)
}

func (r *ColumnRepo) putValues(ctx context.Context, col *Column, payload []ColumnValue) error {
	cl := call{method: http.MethodPut, path: join("columns", col.Namespace, col.CanonicalPath), payload: payload}
	_, err := r.c.do(ctx, cl)
	return err
}

func columnValues(col *Column, values map[string]any) ([]ColumnValue, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var issues []apierr.Issue
	payload := make([]ColumnValue, 0, len(values))
	for _, key := range keys {
		full := key
		if !strings.HasPrefix(key, "/") {
			full = "/" + col.Namespace + "/" + normalizePath(key)
		}
		v, err := coerceValue(col.Type, values[key])
		if err != nil {
			issues = append(issues, apierr.Issue{Field: full, Message: err.Error()})
			continue
		}
		payload = append(payload, ColumnValue{Path: full, Value: v})
	}
	if len(issues) > 0 {
		return nil, apierr.Validation(fmt.Sprintf("values do not match %s column %s", col.Type, col.FullPath()), issues...)
	}
	return payload, nil
}

// integral converts f to int64 when it is a whole number in int64 range.
func integral(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// coerceValue checks v against the column type, widening numbers.
func coerceValue(t ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case ColumnTypeInt:
		switch n := v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return v, nil
		case float64:
			if i, ok := integral(n); ok {
				return i, nil
			}
		case float32:
			if i, ok := integral(float64(n)); ok {
				return i, nil
			}
		}
		return nil, fmt.Errorf("expected an integer, got %T %v", v, v)
	case ColumnTypeFloat:
		switch n := v.(type) {
		case float64:
			if math.IsNaN(n) {
				return nil, nil
			}
			return n, nil
		case float32:
			if math.IsNaN(float64(n)) {
				return nil, nil
			}
			return float64(n), nil
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return v, nil
		}
		return nil, fmt.Errorf("expected a number, got %T", v)
	case ColumnTypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("expected a bool, got %T", v)
	case ColumnTypeStr:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("expected a string, got %T", v)
	default:
		return v, nil
	}
}
