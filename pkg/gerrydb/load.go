package gerrydb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
	"github.com/mggg/gerrydb_sdk_go/pkg/geo"
)

const (
	// DefaultBatchSize is the number of rows sent per import request.
	DefaultBatchSize = 5000
	// DefaultMaxConns is the number of concurrent import requests.
	DefaultMaxConns = 1
	// DefaultIndexColumn names the geography key column of a DataFrame.
	DefaultIndexColumn = "path"

	maxSuggestions = 5
)

// DataFrame is a table of geographies backed by Arrow record batches that
// share one schema. Rows are keyed by IndexColumn (string or integer).
// GeometryColumn and InternalPointColumn, when set, hold WKB binaries; a
// null geometry is an empty geography. Every other column is a candidate
// for value import.
type DataFrame struct {
	Records             []arrow.RecordBatch
	IndexColumn         string
	GeometryColumn      string
	InternalPointColumn string
	CRS                 geo.CRS
}

// LoadOptions tune LoadDataFrame.
type LoadOptions struct {
	// CreateGeo creates a geography per row before importing values.
	// Otherwise the rows must match the geographies of Layer in Locality.
	CreateGeo bool
	Namespace string
	Locality  string
	Layer     string
	BatchSize int
	MaxConns  int
}

// LoadDataFrame imports frame. Geographies are created first when
// opts.CreateGeo is set, then mapped to opts.Layer in opts.Locality when
// both are given. Values are then imported for columns, which name existing
// columns by canonical path or alias; an empty list imports every value
// column of the frame.
func (w *WriteContext) LoadDataFrame(ctx context.Context, frame DataFrame, columns []string, opts LoadOptions) error {
	ns, err := w.c.resolveNamespace(opts.Namespace)
	if err != nil {
		return err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = DefaultMaxConns
	}
	if frame.IndexColumn == "" {
		frame.IndexColumn = DefaultIndexColumn
	}
	keys, err := frame.Keys()
	if err != nil {
		return err
	}
	log := w.c.logger.With(zap.String("namespace", ns), zap.Int("rows", len(keys)))

	if opts.CreateGeo {
		if err := w.createGeos(ctx, ns, frame, keys, opts); err != nil {
			return err
		}
		log.Info("created geographies")
	} else if err := w.validateGeos(ctx, ns, keys, opts); err != nil {
		return err
	}

	if len(columns) == 0 {
		columns = frame.ValueColumns()
	}
	cols, err := w.validateColumns(ctx, ns, columns)
	if err != nil {
		return err
	}
	if err := w.loadValues(ctx, ns, frame, keys, columns, cols, opts); err != nil {
		return err
	}
	log.Info("loaded column values", zap.Int("columns", len(cols)))
	return nil
}

// Keys returns the normalized geography keys of every row.
func (f DataFrame) Keys() ([]string, error) {
	index := f.IndexColumn
	if index == "" {
		index = DefaultIndexColumn
	}
	var keys []string
	seen := map[string]struct{}{}
	for _, rec := range f.Records {
		arr, err := column(rec, index)
		if err != nil {
			return nil, err
		}
		for i := 0; i < arr.Len(); i++ {
			key, err := indexKey(arr, i)
			if err != nil {
				return nil, apierr.Request("index column %q row %d: %v", index, len(keys), err)
			}
			if _, dup := seen[key]; dup {
				return nil, apierr.Request("index column %q has duplicate key %q", index, key)
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// ValueColumns lists the columns that are neither the index nor geometry.
func (f DataFrame) ValueColumns() []string {
	if len(f.Records) == 0 {
		return nil
	}
	skip := map[string]bool{f.IndexColumn: true, f.GeometryColumn: true, f.InternalPointColumn: true}
	if f.IndexColumn == "" {
		skip[DefaultIndexColumn] = true
	}
	var out []string
	for _, field := range f.Records[0].Schema().Fields() {
		if !skip[field.Name] {
			out = append(out, field.Name)
		}
	}
	return out
}

// GeoRecords converts the rows into geographic records keyed by keys.
func (f DataFrame) GeoRecords(keys []string) ([]geo.Record, error) {
	out := make([]geo.Record, 0, len(keys))
	row := 0
	for _, rec := range f.Records {
		var geomArr, pointArr arrow.Array
		var err error
		if f.GeometryColumn != "" {
			if geomArr, err = column(rec, f.GeometryColumn); err != nil {
				return nil, err
			}
		}
		if f.InternalPointColumn != "" {
			if pointArr, err = column(rec, f.InternalPointColumn); err != nil {
				return nil, err
			}
		}
		for i := 0; i < int(rec.NumRows()); i++ {
			if row >= len(keys) {
				return nil, apierr.Request("frame has more rows than keys")
			}
			r := geo.Record{Path: keys[row], CRS: f.CRS}
			if geomArr != nil {
				if r.Geometry, err = wkbValue(geomArr, i); err != nil {
					return nil, apierr.ValidationWrap(err, "geometry of %q", keys[row])
				}
			}
			if pointArr != nil {
				g, err := wkbValue(pointArr, i)
				if err != nil {
					return nil, apierr.ValidationWrap(err, "internal point of %q", keys[row])
				}
				if g != nil {
					p, ok := g.(orb.Point)
					if !ok {
						return nil, apierr.Validation(fmt.Sprintf("internal point of %q is a %s", keys[row], g.GeoJSONType()))
					}
					r.InternalPoint = &p
				}
			}
			out = append(out, r)
			row++
		}
	}
	return out, nil
}

func (w *WriteContext) createGeos(ctx context.Context, ns string, frame DataFrame, keys []string, opts LoadOptions) error {
	records, err := frame.GeoRecords(keys)
	if err != nil {
		return err
	}
	for i := range records {
		if err := geo.Validate(records[i]); err != nil {
			return err
		}
	}
	repo := w.Geographies()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MaxConns)
	for start := 0; start < len(records); start += opts.BatchSize {
		batch := records[start:min(start+opts.BatchSize, len(records))]
		g.Go(func() error {
			_, err := repo.Create(gctx, ns, batch)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if opts.Locality != "" && opts.Layer != "" {
		return w.GeoLayers().MapLocality(ctx, ns, opts.Layer, opts.Locality, fullPaths(ns, keys))
	}
	return nil
}

func (w *WriteContext) validateGeos(ctx context.Context, ns string, keys []string, opts LoadOptions) error {
	if opts.Locality == "" || opts.Layer == "" {
		return apierr.Request("locality and layer are required to import values for existing geographies")
	}
	known, err := w.Geographies().AllPaths(ctx, ns, opts.Locality, opts.Layer)
	if err != nil {
		return err
	}
	knownSet := make(map[string]struct{}, len(known))
	for _, p := range known {
		knownSet[normalizePath(p)] = struct{}{}
	}
	frameSet := make(map[string]struct{}, len(keys))
	var unknown []string
	for _, k := range keys {
		frameSet[k] = struct{}{}
		if _, ok := knownSet[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(keys) > 0 && len(unknown) == len(keys) {
		example := "none"
		if len(known) > 0 {
			example = known[0]
		}
		return apierr.Request("no key of the frame index matches a geography of layer %q in locality %q (example geography: %s)", opts.Layer, opts.Locality, example)
	}
	if len(unknown) > 0 {
		return apierr.Request("geographies do not exist in namespace %q for layer %q and locality %q: %s", ns, opts.Layer, opts.Locality, preview(unknown))
	}
	var missing []string
	for p := range knownSet {
		if _, ok := frameSet[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return apierr.Request("frame is missing geographies of layer %q in locality %q: %s", opts.Layer, opts.Locality, preview(missing))
	}
	return nil
}

// validateColumns resolves column names to columns of ns.
func (w *WriteContext) validateColumns(ctx context.Context, ns string, names []string) ([]*Column, error) {
	for _, name := range names {
		if strings.Contains(normalizePath(name), "/") {
			return nil, apierr.Request("column paths cannot contain '/'; column %q is invalid", name)
		}
	}
	all, err := w.Columns().All(ctx, ns)
	if err != nil {
		return nil, err
	}
	byPath := map[string]*Column{}
	for i := range all {
		col := &all[i]
		byPath[col.CanonicalPath] = col
		for _, alias := range col.Aliases {
			byPath[alias] = col
		}
	}
	known := make([]string, 0, len(byPath))
	for p := range byPath {
		known = append(known, p)
	}
	sort.Strings(known)

	out := make([]*Column, 0, len(names))
	var issues []apierr.Issue
	for _, name := range names {
		p := normalizePath(name)
		if col, ok := byPath[p]; ok {
			out = append(out, col)
			continue
		}
		msg := "column does not exist"
		if s := Suggest(p, known, maxSuggestions); len(s) > 0 {
			msg += "; closest matches: " + strings.Join(s, ", ")
		}
		issues = append(issues, apierr.Issue{Field: p, Message: msg})
	}
	if len(issues) > 0 {
		return nil, &apierr.Error{
			Kind:    apierr.ErrRequest,
			Message: fmt.Sprintf("%d columns do not exist in namespace %q; create them first", len(issues), ns),
			Issues:  issues,
		}
	}
	return out, nil
}

func (w *WriteContext) loadValues(ctx context.Context, ns string, frame DataFrame, keys, names []string, cols []*Column, opts LoadOptions) error {
	type job struct {
		col        *Column
		start, end int
		payload    []ColumnValue
	}
	// Every column is read and type-checked before the first upload.
	var jobs []job
	for i, name := range names {
		values, err := frame.values(name)
		if err != nil {
			return err
		}
		if len(values) != len(keys) {
			return apierr.Request("column %q has %d values for %d rows", name, len(values), len(keys))
		}
		col := cols[i]
		for start := 0; start < len(keys); start += opts.BatchSize {
			end := min(start+opts.BatchSize, len(keys))
			batch := make(map[string]any, end-start)
			for j := start; j < end; j++ {
				batch["/"+ns+"/"+keys[j]] = values[j]
			}
			payload, err := columnValues(col, batch)
			if err != nil {
				return fmt.Errorf("column %s rows %d-%d: %w", col.FullPath(), start, end-1, err)
			}
			jobs = append(jobs, job{col: col, start: start, end: end, payload: payload})
		}
	}

	repo := w.Columns()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MaxConns)
	for _, j := range jobs {
		g.Go(func() error {
			if err := repo.putValues(gctx, j.col, j.payload); err != nil {
				return fmt.Errorf("column %s rows %d-%d: %w", j.col.FullPath(), j.start, j.end-1, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (f DataFrame) values(name string) ([]any, error) {
	var out []any
	for _, rec := range f.Records {
		arr, err := column(rec, name)
		if err != nil {
			return nil, err
		}
		for i := 0; i < arr.Len(); i++ {
			v, err := scalar(arr, i)
			if err != nil {
				return nil, apierr.Request("column %q: %v", name, err)
			}
			out = append(out, v)
		}
	}
	return out, nil
}

// Suggest returns up to limit candidates closest to name by edit distance.
func Suggest(name string, candidates []string, limit int) []string {
	type scored struct {
		path string
		dist int
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, scored{c, levenshtein.ComputeDistance(name, c)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]string, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.path)
	}
	return out
}

func column(rec arrow.RecordBatch, name string) (arrow.Array, error) {
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, apierr.Request("frame has no column %q", name)
	}
	return rec.Column(idx[0]), nil
}

func indexKey(arr arrow.Array, i int) (string, error) {
	if arr.IsNull(i) {
		return "", errors.New("null key")
	}
	var key string
	switch a := arr.(type) {
	case *array.String:
		key = a.Value(i)
	case *array.LargeString:
		key = a.Value(i)
	case *array.Int64:
		key = strconv.FormatInt(a.Value(i), 10)
	case *array.Int32:
		key = strconv.FormatInt(int64(a.Value(i)), 10)
	default:
		return "", fmt.Errorf("unsupported index type %s", arr.DataType())
	}
	key = normalizePath(key)
	if key == "" {
		return "", errors.New("empty key")
	}
	return key, nil
}

func scalar(arr arrow.Array, i int) (any, error) {
	if arr.IsNull(i) {
		return nil, nil
	}
	switch a := arr.(type) {
	case *array.Int64:
		return a.Value(i), nil
	case *array.Int32:
		return int64(a.Value(i)), nil
	case *array.Int16:
		return int64(a.Value(i)), nil
	case *array.Int8:
		return int64(a.Value(i)), nil
	case *array.Uint32:
		return int64(a.Value(i)), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.Float32:
		return float64(a.Value(i)), nil
	case *array.Boolean:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	case *array.LargeString:
		return a.Value(i), nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", arr.DataType())
	}
}

func wkbValue(arr arrow.Array, i int) (orb.Geometry, error) {
	if arr.IsNull(i) {
		return nil, nil
	}
	var raw []byte
	switch a := arr.(type) {
	case *array.Binary:
		raw = a.Value(i)
	case *array.LargeBinary:
		raw = a.Value(i)
	default:
		return nil, fmt.Errorf("unsupported geometry column type %s; expected WKB binary", arr.DataType())
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return wkb.Unmarshal(raw)
}

func preview(items []string) string {
	const limit = 10
	if len(items) <= limit {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s (and %d more)", strings.Join(items[:limit], ", "), len(items)-limit)
}
