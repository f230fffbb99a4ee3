package mock

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/mggg/gerrydb_sdk_go/internal/gerryapi"
	"github.com/mggg/gerrydb_sdk_go/internal/httpx"
	"github.com/mggg/gerrydb_sdk_go/internal/schema"
	"github.com/mggg/gerrydb_sdk_go/pkg/geo"
	"github.com/mggg/gerrydb_sdk_go/pkg/gerrydb"
)

// GeoPackageMagic prefixes rendered views.
const GeoPackageMagic = "SQLite format 3\x00"

func sortedValues[T any](m map[string]*versioned[T], prefix string) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k].obj)
	}
	return out
}

func sortedPlain[T any](m map[string]*T, prefix string) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, *m[k])
	}
	return out
}

// requireNamespace answers 404 for unknown namespaces. Callers hold s.mu.
func (s *Server) requireNamespace(w http.ResponseWriter, ns string) bool {
	if _, ok := s.namespaces[ns]; !ok {
		writeDetail(w, http.StatusNotFound, fmt.Sprintf("Namespace %q not found", ns))
		return false
	}
	return true
}

func (s *Server) listNamespaces(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	respond(w, r, http.StatusOK, sortedValues(s.namespaces, ""), s.collectionETag("namespaces"))
}

func (s *Server) getNamespace(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[param(r, "path")]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Namespace not found")
		return
	}
	respond(w, r, http.StatusOK, ns.obj, ns.etag)
}

func (s *Server) createNamespace(w http.ResponseWriter, r *http.Request, meta gerrydb.ObjectMeta) {
	var in gerrydb.NamespaceCreate
	if !decode(w, r, schema.NamespaceCreate, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.namespaces[in.Path]; ok {
		writeDetail(w, http.StatusConflict, fmt.Sprintf("Namespace %q already exists", in.Path))
		return
	}
	obj := &versioned[gerrydb.Namespace]{obj: gerrydb.Namespace{
		Path: in.Path, Description: in.Description, Public: in.Public, Meta: meta,
	}}
	obj.etag = s.bump("namespaces")
	s.namespaces[in.Path] = obj
	respond(w, r, http.StatusCreated, obj.obj, obj.etag)
}

func (s *Server) locality(path string) (*versioned[gerrydb.Locality], bool) {
	if canonical, ok := s.locAliases[path]; ok {
		path = canonical
	}
	loc, ok := s.localities[path]
	return loc, ok
}

func (s *Server) listLocalities(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	respond(w, r, http.StatusOK, sortedValues(s.localities, ""), s.collectionETag("localities"))
}

func (s *Server) getLocality(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locality(param(r, "path"))
	if !ok {
		writeDetail(w, http.StatusNotFound, "Locality not found")
		return
	}
	respond(w, r, http.StatusOK, loc.obj, loc.etag)
}

func (s *Server) createLocalities(w http.ResponseWriter, r *http.Request, meta gerrydb.ObjectMeta) {
	var in []gerrydb.LocalityCreate
	if !decodeEach(w, r, schema.LocalityCreate, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := map[string]bool{}
	for _, loc := range in {
		for _, p := range append([]string{loc.CanonicalPath}, loc.Aliases...) {
			if _, taken := s.locality(p); taken || batch[p] {
				writeDetail(w, http.StatusConflict, fmt.Sprintf("Locality path %q already exists", p))
				return
			}
			batch[p] = true
		}
		if loc.ParentPath != nil {
			if _, ok := s.locality(*loc.ParentPath); !ok && !batch[*loc.ParentPath] {
				writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Parent locality %q not found", *loc.ParentPath))
				return
			}
		}
	}
	out := make([]gerrydb.Locality, 0, len(in))
	etag := s.bump("localities")
	for _, loc := range in {
		obj := gerrydb.Locality{
			CanonicalPath: loc.CanonicalPath,
			ParentPath:    loc.ParentPath,
			DefaultProj:   loc.DefaultProj,
			Name:          loc.Name,
			Aliases:       nonNil(loc.Aliases),
			Meta:          meta,
		}
		s.localities[loc.CanonicalPath] = &versioned[gerrydb.Locality]{obj: obj, etag: etag}
		for _, alias := range obj.Aliases {
			s.locAliases[alias] = loc.CanonicalPath
		}
		out = append(out, obj)
	}
	respond(w, r, http.StatusCreated, out, etag)
}

func (s *Server) patchLocality(w http.ResponseWriter, r *http.Request, meta gerrydb.ObjectMeta) {
	var in gerrydb.LocalityPatch
	if !decode(w, r, "", &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locality(param(r, "path"))
	if !ok {
		writeDetail(w, http.StatusNotFound, "Locality not found")
		return
	}
	for _, alias := range in.Aliases {
		if other, taken := s.locality(alias); taken && other != loc {
			writeDetail(w, http.StatusConflict, fmt.Sprintf("Alias %q belongs to another locality", alias))
			return
		}
	}
	updated := loc.obj
	updated.Aliases = mergeAliases(updated.Aliases, in.Aliases, updated.CanonicalPath)
	updated.Meta = meta
	for _, alias := range updated.Aliases {
		s.locAliases[alias] = updated.CanonicalPath
	}
	loc.obj = updated
	loc.etag = s.bump("localities")
	respond(w, r, http.StatusOK, loc.obj, loc.etag)
}

func mergeAliases(existing, added []string, canonical string) []string {
	seen := map[string]bool{canonical: true}
	out := make([]string, 0, len(existing)+len(added))
	for _, a := range append(append([]string{}, existing...), added...) {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

func (s *Server) column(ns, path string) (*versioned[gerrydb.Column], bool) {
	if canonical, ok := s.colAliases[key(ns, path)]; ok {
		path = canonical
	}
	col, ok := s.columns[key(ns, path)]
	return col, ok
}

func (s *Server) listColumns(w http.ResponseWriter, r *http.Request) {
	ns := param(r, "ns")
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireNamespace(w, ns) {
		return
	}
	respond(w, r, http.StatusOK, sortedValues(s.columns, ns+"/"), s.collectionETag(key("columns", ns)))
}

func (s *Server) getColumn(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.column(param(r, "ns"), param(r, "path"))
	if !ok {
		writeDetail(w, http.StatusNotFound, "Column not found")
		return
	}
	respond(w, r, http.StatusOK, col.obj, col.etag)
}

func (s *Server) createColumn(w http.ResponseWriter, r *http.Request, meta gerrydb.ObjectMeta) {
	ns := param(r, "ns")
	var in gerrydb.ColumnCreate
	if !decode(w, r, schema.ColumnCreate, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireNamespace(w, ns) {
		return
	}
	for _, p := range append([]string{in.CanonicalPath}, in.Aliases...) {
		if _, taken := s.column(ns, p); taken {
			writeDetail(w, http.StatusConflict, fmt.Sprintf("Column path %q already exists in namespace %q", p, ns))
			return
		}
	}
	col := &versioned[gerrydb.Column]{obj: gerrydb.Column{
		CanonicalPath: in.CanonicalPath,
		Namespace:     ns,
		Description:   in.Description,
		SourceURL:     in.SourceURL,
		Kind:          in.Kind,
		Type:          in.Type,
		Aliases:       mergeAliases(nil, in.Aliases, in.CanonicalPath),
		Meta:          meta,
	}}
	col.etag = s.bump(key("columns", ns))
	s.columns[key(ns, in.CanonicalPath)] = col
	for _, alias := range col.obj.Aliases {
		s.colAliases[key(ns, alias)] = in.CanonicalPath
	}
	respond(w, r, http.StatusCreated, col.obj, col.etag)
}

func (s *Server) patchColumn(w http.ResponseWriter, r *http.Request, meta gerrydb.ObjectMeta) {
	ns := param(r, "ns")
	var in gerrydb.ColumnPatch
	if !decode(w, r, "", &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.column(ns, param(r, "path"))
	if !ok {
		writeDetail(w, http.StatusNotFound, "Column not found")
		return
	}
	for _, alias := range in.Aliases {
		if other, taken := s.column(ns, alias); taken && other != col {
			writeDetail(w, http.StatusConflict, fmt.Sprintf("Alias %q belongs to another column", alias))
			return
		}
	}
	updated := col.obj
	updated.Aliases = mergeAliases(updated.Aliases, in.Aliases, updated.CanonicalPath)
	updated.Meta = meta
	for _, alias := range updated.Aliases {
		s.colAliases[key(ns, alias)] = updated.CanonicalPath
	}
	col.obj = updated
	col.etag = s.bump(key("columns", ns))
	respond(w, r, http.StatusOK, col.obj, col.etag)
}

func (s *Server) setColumnValues(w http.ResponseWriter, r *http.Request, _ gerrydb.ObjectMeta) {
	ns := param(r, "ns")
	var in []gerrydb.ColumnValue
	if !decodeEach(w, r, schema.ColumnValue, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.column(ns, param(r, "path"))
	if !ok {
		writeDetail(w, http.StatusNotFound, "Column not found")
		return
	}
	for _, v := range in {
		geoNS, geoPath := splitFull(ns, v.Path)
		if len(s.geographies[key(geoNS, geoPath)]) == 0 {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Geography %s not found", fullPath(geoNS, geoPath)))
			return
		}
	}
	colKey := key(ns, col.obj.CanonicalPath)
	if s.values[colKey] == nil {
		s.values[colKey] = map[string]any{}
	}
	for _, v := range in {
		geoNS, geoPath := splitFull(ns, v.Path)
		s.values[colKey][fullPath(geoNS, geoPath)] = v.Value
	}
	w.WriteHeader(http.StatusNoContent)
}

// Values returns the stored values of a column keyed by full geography path.
func (s *Server) Values(ns, column string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]any{}
	col, ok := s.column(ns, column)
	if !ok {
		return out
	}
	for k, v := range s.values[key(ns, col.obj.CanonicalPath)] {
		out[k] = v
	}
	return out
}

func (s *Server) listColumnSets(w http.ResponseWriter, r *http.Request) {
	ns := param(r, "ns")
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireNamespace(w, ns) {
		return
	}
	respond(w, r, http.StatusOK, sortedValues(s.columnSets, ns+"/"), s.collectionETag(key("column-sets", ns)))
}

func (s *Server) getColumnSet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.columnSets[key(param(r, "ns"), param(r, "path"))]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Column set not found")
		return
	}
	respond(w, r, http.StatusOK, set.obj, set.etag)
}

func (s *Server) createColumnSet(w http.ResponseWriter, r *http.Request, meta gerrydb.ObjectMeta) {
	ns := param(r, "ns")
	var in gerrydb.ColumnSetCreate
	if !decode(w, r, schema.ColumnSetCreate, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireNamespace(w, ns) {
		return
	}
	if _, ok := s.columnSets[key(ns, in.Path)]; ok {
		writeDetail(w, http.StatusConflict, fmt.Sprintf("Column set %q already exists", in.Path))
		return
	}
	cols := make([]gerrydb.Column, 0, len(in.Columns))
	for _, p := range in.Columns {
		col, ok := s.column(ns, p)
		if !ok {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Column %s not found", fullPath(ns, p)))
			return
		}
		cols = append(cols, col.obj)
	}
	set := &versioned[gerrydb.ColumnSet]{obj: gerrydb.ColumnSet{
		Path:        in.Path,
		Namespace:   ns,
		Description: in.Description,
		Columns:     cols,
		Refs:        nonNil(in.Columns),
		Meta:        meta,
	}}
	set.etag = s.bump(key("column-sets", ns))
	s.columnSets[key(ns, in.Path)] = set
	respond(w, r, http.StatusCreated, set.obj, set.etag)
}

func (s *Server) listLayers(w http.ResponseWriter, r *http.Request) {
	ns := param(r, "ns")
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireNamespace(w, ns) {
		return
	}
	respond(w, r, http.StatusOK, sortedValues(s.layers, ns+"/"), s.collectionETag(key("layers", ns)))
}

func (s *Server) getLayer(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	layer, ok := s.layers[key(param(r, "ns"), param(r, "path"))]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Geographic layer not found")
		return
	}
	respond(w, r, http.StatusOK, layer.obj, layer.etag)
}

func (s *Server) createLayer(w http.ResponseWriter, r *http.Request, meta gerrydb.ObjectMeta) {
	ns := param(r, "ns")
	var in gerrydb.GeoLayerCreate
	if !decode(w, r, schema.GeoLayerCreate, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireNamespace(w, ns) {
		return
	}
	if _, ok := s.layers[key(ns, in.Path)]; ok {
		writeDetail(w, http.StatusConflict, fmt.Sprintf("Geographic layer %q already exists", in.Path))
		return
	}
	layer := &versioned[gerrydb.GeoLayer]{obj: gerrydb.GeoLayer{
		Path: in.Path, Namespace: ns, Description: in.Description, SourceURL: in.SourceURL, Meta: meta,
	}}
	layer.etag = s.bump(key("layers", ns))
	s.layers[key(ns, in.Path)] = layer
	respond(w, r, http.StatusCreated, layer.obj, layer.etag)
}

func (s *Server) mapLocality(w http.ResponseWriter, r *http.Request, _ gerrydb.ObjectMeta) {
	ns, layerPath := param(r, "ns"), param(r, "path")
	var in gerrydb.GeoSetCreate
	if !decode(w, r, schema.GeoSetCreate, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.layers[key(ns, layerPath)]; !ok {
		writeDetail(w, http.StatusNotFound, "Geographic layer not found")
		return
	}
	loc, ok := s.locality(strings.ToLower(r.URL.Query().Get("locality")))
	if !ok {
		writeDetail(w, http.StatusNotFound, "Locality not found")
		return
	}
	members := make([]string, 0, len(in.Paths))
	for _, p := range in.Paths {
		geoNS, geoPath := splitFull(ns, p)
		if len(s.geographies[key(geoNS, geoPath)]) == 0 {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Geography %s not found", fullPath(geoNS, geoPath)))
			return
		}
		if geoNS == ns {
			members = append(members, geoPath)
		} else {
			members = append(members, fullPath(geoNS, geoPath))
		}
	}
	sort.Strings(members)
	s.geoSets[key(ns, layerPath, loc.obj.CanonicalPath)] = members
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createGeographies(w http.ResponseWriter, r *http.Request, meta gerrydb.ObjectMeta) {
	s.writeGeographies(w, r, meta, false)
}

func (s *Server) updateGeographies(w http.ResponseWriter, r *http.Request, meta gerrydb.ObjectMeta) {
	s.writeGeographies(w, r, meta, true)
}

func (s *Server) writeGeographies(w http.ResponseWriter, r *http.Request, meta gerrydb.ObjectMeta, update bool) {
	ns := param(r, "ns")
	body, err := httpx.ReadAllAndClose(r.Body)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "unreadable body")
		return
	}
	format := geo.JSON
	if httpx.MediaType(r.Header.Get("Content-Type")) == httpx.ContentTypeMsgPack {
		format = geo.MsgPack
	}
	records, err := geo.DeserializeBatch(body, format)
	if err != nil {
		writeValidation(w, err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireNamespace(w, ns) {
		return
	}
	for _, rec := range records {
		exists := len(s.geographies[key(ns, rec.Path)]) > 0
		switch {
		case update && !exists:
			writeDetail(w, http.StatusNotFound, fmt.Sprintf("Geography %s not found", fullPath(ns, rec.Path)))
			return
		case !update && exists:
			writeDetail(w, http.StatusConflict, fmt.Sprintf("Geography %s already exists", fullPath(ns, rec.Path)))
			return
		}
	}
	now := s.now()
	out := make([]gerrydb.Geography, 0, len(records))
	for _, rec := range records {
		wire, err := geo.ToWire(rec)
		if err != nil {
			writeValidation(w, err)
			return
		}
		g := gerrydb.Geography{
			Path:          rec.Path,
			Namespace:     ns,
			Geography:     wire.Geography,
			InternalPoint: wire.InternalPoint,
			ValidFrom:     now,
			Meta:          meta,
		}
		s.geographies[key(ns, rec.Path)] = append(s.geographies[key(ns, rec.Path)], g)
		out = append(out, g)
	}
	s.bump(key("geographies", ns))
	respond(w, r, http.StatusCreated, out, "")
}

func (s *Server) getGeography(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.geographies[key(param(r, "ns"), param(r, "path"))]
	if len(versions) == 0 {
		writeDetail(w, http.StatusNotFound, "Geography not found")
		return
	}
	respond(w, r, http.StatusOK, versions[len(versions)-1], "")
}

func (s *Server) listGeoPaths(w http.ResponseWriter, r *http.Request) {
	ns, layerPath := param(r, "ns"), param(r, "layer")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.layers[key(ns, layerPath)]; !ok {
		writeDetail(w, http.StatusNotFound, "Geographic layer not found")
		return
	}
	loc, ok := s.locality(param(r, "loc"))
	if !ok {
		writeDetail(w, http.StatusNotFound, "Locality not found")
		return
	}
	respond(w, r, http.StatusOK, nonNil(s.geoSets[key(ns, layerPath, loc.obj.CanonicalPath)]), "")
}

// GeoSet returns the geographies mapped to layer in locality.
func (s *Server) GeoSet(ns, layer, locality string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.locality(locality)
	if !ok {
		return nil
	}
	return append([]string(nil), s.geoSets[key(ns, layer, loc.obj.CanonicalPath)]...)
}

// requireLayerLocality checks the referenced layer and locality. Callers hold s.mu.
func (s *Server) requireLayerLocality(w http.ResponseWriter, ns, layer, locality string) (string, bool) {
	if _, ok := s.layers[key(ns, layer)]; !ok {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Geographic layer %s not found", fullPath(ns, layer)))
		return "", false
	}
	loc, ok := s.locality(locality)
	if !ok {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Locality %q not found", locality))
		return "", false
	}
	return loc.obj.CanonicalPath, true
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	ns := param(r, "ns")
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireNamespace(w, ns) {
		return
	}
	respond(w, r, http.StatusOK, sortedPlain(s.plans, ns+"/"), "")
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[key(param(r, "ns"), param(r, "path"))]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Plan not found")
		return
	}
	respond(w, r, http.StatusOK, plan, "")
}

func (s *Server) createPlan(w http.ResponseWriter, r *http.Request, meta gerrydb.ObjectMeta) {
	ns := param(r, "ns")
	var in gerrydb.PlanCreate
	if !decode(w, r, schema.PlanCreate, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireNamespace(w, ns) {
		return
	}
	if _, ok := s.plans[key(ns, in.Path)]; ok {
		writeDetail(w, http.StatusConflict, fmt.Sprintf("Plan %q already exists", in.Path))
		return
	}
	loc, ok := s.requireLayerLocality(w, ns, in.Layer, in.Locality)
	if !ok {
		return
	}
	districts := map[string]bool{}
	for geoPath, district := range in.Assignments {
		if len(s.geographies[key(ns, geoPath)]) == 0 {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Geography %s not found", fullPath(ns, geoPath)))
			return
		}
		if district != nil {
			districts[*district] = true
		}
	}
	complete := true
	members := s.geoSets[key(ns, in.Layer, loc)]
	if len(members) == 0 {
		for geoPath := range in.Assignments {
			members = append(members, geoPath)
		}
	}
	for _, m := range members {
		if in.Assignments[m] == nil {
			complete = false
			break
		}
	}
	plan := &gerrydb.Plan{
		Path:         in.Path,
		Namespace:    ns,
		Description:  in.Description,
		SourceURL:    in.SourceURL,
		DistrictrID:  in.DistrictrID,
		DavesID:      in.DavesID,
		Locality:     loc,
		Layer:        in.Layer,
		Assignments:  in.Assignments,
		NumDistricts: len(districts),
		Complete:     complete,
		CreatedAt:    s.now(),
		Meta:         meta,
	}
	s.plans[key(ns, in.Path)] = plan
	respond(w, r, http.StatusCreated, plan, "")
}

func (s *Server) listGraphs(w http.ResponseWriter, r *http.Request) {
	ns := param(r, "ns")
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireNamespace(w, ns) {
		return
	}
	respond(w, r, http.StatusOK, sortedPlain(s.graphs, ns+"/"), "")
}

func (s *Server) getGraph(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	graph, ok := s.graphs[key(param(r, "ns"), param(r, "path"))]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Graph not found")
		return
	}
	respond(w, r, http.StatusOK, graph, "")
}

func (s *Server) createGraph(w http.ResponseWriter, r *http.Request, meta gerrydb.ObjectMeta) {
	ns := param(r, "ns")
	var in gerrydb.GraphCreate
	if !decode(w, r, schema.GraphCreate, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireNamespace(w, ns) {
		return
	}
	if _, ok := s.graphs[key(ns, in.Path)]; ok {
		writeDetail(w, http.StatusConflict, fmt.Sprintf("Graph %q already exists", in.Path))
		return
	}
	loc, ok := s.requireLayerLocality(w, ns, in.Layer, in.Locality)
	if !ok {
		return
	}
	for _, e := range in.Edges {
		for _, p := range []string{e.Path1, e.Path2} {
			if len(s.geographies[key(ns, p)]) == 0 {
				writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Geography %s not found", fullPath(ns, p)))
				return
			}
		}
	}
	edges := in.Edges
	if edges == nil {
		edges = []gerrydb.GraphEdge{}
	}
	graph := &gerrydb.Graph{
		Path:        in.Path,
		Namespace:   ns,
		Description: in.Description,
		Locality:    loc,
		Layer:       in.Layer,
		Proj:        in.Proj,
		Edges:       edges,
		CreatedAt:   s.now(),
		Meta:        meta,
	}
	s.graphs[key(ns, in.Path)] = graph
	respond(w, r, http.StatusCreated, graph, "")
}

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	ns := param(r, "ns")
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireNamespace(w, ns) {
		return
	}
	respond(w, r, http.StatusOK, sortedValues(s.templates, ns+"/"), s.collectionETag(key("view-templates", ns)))
}

func (s *Server) getTemplate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tmpl, ok := s.templates[key(param(r, "ns"), param(r, "path"))]
	if !ok {
		writeDetail(w, http.StatusNotFound, "View template not found")
		return
	}
	respond(w, r, http.StatusOK, tmpl.obj, tmpl.etag)
}

func (s *Server) createTemplate(w http.ResponseWriter, r *http.Request, meta gerrydb.ObjectMeta) {
	ns := param(r, "ns")
	var in gerrydb.ViewTemplateCreate
	if !decode(w, r, schema.ViewTemplateCreate, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireNamespace(w, ns) {
		return
	}
	if _, ok := s.templates[key(ns, in.Path)]; ok {
		writeDetail(w, http.StatusConflict, fmt.Sprintf("View template %q already exists", in.Path))
		return
	}
	for _, m := range in.Members {
		memberNS, memberPath := splitFull(ns, m)
		_, isColumn := s.column(memberNS, memberPath)
		_, isSet := s.columnSets[key(memberNS, memberPath)]
		if !isColumn && !isSet {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Member %s is neither a column nor a column set", m))
			return
		}
	}
	tmpl := &versioned[gerrydb.ViewTemplate]{obj: gerrydb.ViewTemplate{
		Path:        in.Path,
		Namespace:   ns,
		Description: in.Description,
		Members:     in.Members,
		ValidFrom:   s.now(),
		Meta:        meta,
	}}
	tmpl.etag = s.bump(key("view-templates", ns))
	s.templates[key(ns, in.Path)] = tmpl
	respond(w, r, http.StatusCreated, tmpl.obj, tmpl.etag)
}

func (s *Server) listViews(w http.ResponseWriter, r *http.Request) {
	ns := param(r, "ns")
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireNamespace(w, ns) {
		return
	}
	respond(w, r, http.StatusOK, sortedPlain(s.views, ns+"/"), "")
}

func (s *Server) getView(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	view, ok := s.views[key(param(r, "ns"), param(r, "path"))]
	if !ok {
		writeDetail(w, http.StatusNotFound, "View not found")
		return
	}
	respond(w, r, http.StatusOK, view, "")
}

func (s *Server) createView(w http.ResponseWriter, r *http.Request, meta gerrydb.ObjectMeta) {
	ns := param(r, "ns")
	var in gerrydb.ViewCreate
	if !decode(w, r, schema.ViewCreate, &in) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireNamespace(w, ns) {
		return
	}
	if _, ok := s.views[key(ns, in.Path)]; ok {
		writeDetail(w, http.StatusConflict, fmt.Sprintf("View %q already exists", in.Path))
		return
	}
	tmplNS, tmplPath := splitFull(ns, in.Template)
	if _, ok := s.templates[key(tmplNS, tmplPath)]; !ok {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("View template %s not found", fullPath(tmplNS, tmplPath)))
		return
	}
	loc, ok := s.requireLayerLocality(w, ns, in.Layer, in.Locality)
	if !ok {
		return
	}
	if in.Graph != nil {
		graphNS, graphPath := splitFull(ns, *in.Graph)
		if _, ok := s.graphs[key(graphNS, graphPath)]; !ok {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Graph %s not found", fullPath(graphNS, graphPath)))
			return
		}
	}
	validAt := s.now()
	if in.ValidAt != nil {
		validAt = in.ValidAt.UTC()
	}
	view := &gerrydb.ViewMeta{
		Path:      in.Path,
		Namespace: ns,
		Template:  fullPath(tmplNS, tmplPath),
		Locality:  loc,
		Layer:     in.Layer,
		Graph:     in.Graph,
		ValidAt:   validAt,
		Proj:      in.Proj,
		Meta:      meta,
	}
	s.views[key(ns, in.Path)] = view
	respond(w, r, http.StatusCreated, view, "")
}

// renderView returns a stand-in GeoPackage: the SQLite magic followed by the
// view metadata and the geographies of its geo set as JSON.
func (s *Server) renderView(w http.ResponseWriter, r *http.Request) {
	ns := param(r, "ns")
	s.mu.Lock()
	defer s.mu.Unlock()
	view, ok := s.views[key(ns, param(r, "path"))]
	if !ok {
		writeDetail(w, http.StatusNotFound, "View not found")
		return
	}
	payload, err := gerryapi.Marshal(httpx.ContentTypeJSON, map[string]any{
		"view":        view,
		"geographies": nonNil(s.geoSets[key(ns, view.Layer, view.Locality)]),
	})
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	var buf bytes.Buffer
	buf.WriteString(GeoPackageMagic)
	buf.Write(payload)
	w.Header().Set("Content-Type", "application/geopackage+sqlite3")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
