// Package mock implements an in-memory GerryDB API for tests and local
// development. Server serves the /api/v1 surface the client uses, including
// API key checks, write metadata, ETags with conditional GETs, and
// MessagePack geography imports.
package mock

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mggg/gerrydb_sdk_go/internal/gerryapi"
	"github.com/mggg/gerrydb_sdk_go/internal/httpx"
	"github.com/mggg/gerrydb_sdk_go/internal/schema"
	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
	"github.com/mggg/gerrydb_sdk_go/pkg/gerrydb"
)

// DefaultAPIKey is accepted when no key is configured.
const DefaultAPIKey = "test-key"

const (
	headerAPIKey = "X-API-Key"
	headerMetaID = "X-GerryDB-Meta-ID"
	creator      = "mock@gerrydb.local"
)

// Server is an in-memory GerryDB backend. It is safe for concurrent use.
type Server struct {
	mu     sync.Mutex
	apiKey string
	now    func() time.Time
	logger *zap.Logger
	router chi.Router

	seq   uint64
	colls map[string]uint64

	metas       map[string]gerrydb.ObjectMeta
	namespaces  map[string]*versioned[gerrydb.Namespace]
	localities  map[string]*versioned[gerrydb.Locality]
	locAliases  map[string]string
	columns     map[string]*versioned[gerrydb.Column]
	colAliases  map[string]string
	values      map[string]map[string]any
	columnSets  map[string]*versioned[gerrydb.ColumnSet]
	layers      map[string]*versioned[gerrydb.GeoLayer]
	geoSets     map[string][]string
	geographies map[string][]gerrydb.Geography
	plans       map[string]*gerrydb.Plan
	graphs      map[string]*gerrydb.Graph
	templates   map[string]*versioned[gerrydb.ViewTemplate]
	views       map[string]*gerrydb.ViewMeta
}

type versioned[T any] struct {
	obj  T
	etag string
}

// Option configures the server.
type Option func(*Server)

// WithAPIKey sets the accepted API key.
func WithAPIKey(key string) Option {
	return func(s *Server) {
		if key != "" {
			s.apiKey = key
		}
	}
}

// WithClock overrides the clock used for timestamps (useful in tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Server) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLogger logs every request at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates an empty server.
func NewServer(opts ...Option) *Server {
	s := &Server{
		apiKey:      DefaultAPIKey,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      zap.NewNop(),
		colls:       map[string]uint64{},
		metas:       map[string]gerrydb.ObjectMeta{},
		namespaces:  map[string]*versioned[gerrydb.Namespace]{},
		localities:  map[string]*versioned[gerrydb.Locality]{},
		locAliases:  map[string]string{},
		columns:     map[string]*versioned[gerrydb.Column]{},
		colAliases:  map[string]string{},
		values:      map[string]map[string]any{},
		columnSets:  map[string]*versioned[gerrydb.ColumnSet]{},
		layers:      map[string]*versioned[gerrydb.GeoLayer]{},
		geoSets:     map[string][]string{},
		geographies: map[string][]gerrydb.Geography{},
		plans:       map[string]*gerrydb.Plan{},
		graphs:      map[string]*gerrydb.Graph{},
		templates:   map[string]*versioned[gerrydb.ViewTemplate]{},
		views:       map[string]*gerrydb.ViewMeta{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// APIKey returns the accepted API key.
func (s *Server) APIKey() string { return s.apiKey }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.logRequests, s.authenticate)

		r.Post("/meta/", s.createMeta)

		r.Get("/namespaces/", s.listNamespaces)
		r.Post("/namespaces/", s.writes(s.createNamespace))
		r.Get("/namespaces/{path}", s.getNamespace)

		r.Get("/localities/", s.listLocalities)
		r.Post("/localities/", s.writes(s.createLocalities))
		r.Get("/localities/{path}", s.getLocality)
		r.Patch("/localities/{path}", s.writes(s.patchLocality))

		r.Get("/columns/{ns}", s.listColumns)
		r.Post("/columns/{ns}", s.writes(s.createColumn))
		r.Get("/columns/{ns}/{path}", s.getColumn)
		r.Patch("/columns/{ns}/{path}", s.writes(s.patchColumn))
		r.Put("/columns/{ns}/{path}", s.writes(s.setColumnValues))

		r.Get("/column-sets/{ns}", s.listColumnSets)
		r.Post("/column-sets/{ns}", s.writes(s.createColumnSet))
		r.Get("/column-sets/{ns}/{path}", s.getColumnSet)

		r.Get("/layers/{ns}", s.listLayers)
		r.Post("/layers/{ns}", s.writes(s.createLayer))
		r.Get("/layers/{ns}/{path}", s.getLayer)
		r.Put("/layers/{ns}/{path}", s.writes(s.mapLocality))

		r.Post("/geographies/{ns}", s.writes(s.createGeographies))
		r.Patch("/geographies/{ns}", s.writes(s.updateGeographies))
		r.Get("/geographies/{ns}/{path}", s.getGeography)
		r.Get("/__list_geo/{ns}/{loc}/{layer}", s.listGeoPaths)

		r.Get("/plans/{ns}", s.listPlans)
		r.Post("/plans/{ns}", s.writes(s.createPlan))
		r.Get("/plans/{ns}/{path}", s.getPlan)

		r.Get("/graphs/{ns}", s.listGraphs)
		r.Post("/graphs/{ns}", s.writes(s.createGraph))
		r.Get("/graphs/{ns}/{path}", s.getGraph)

		r.Get("/view-templates/{ns}", s.listTemplates)
		r.Post("/view-templates/{ns}", s.writes(s.createTemplate))
		r.Get("/view-templates/{ns}/{path}", s.getTemplate)

		r.Get("/views/{ns}", s.listViews)
		r.Post("/views/{ns}", s.writes(s.createView))
		r.Get("/views/{ns}/{path}", s.getView)
		r.Get("/views/{ns}/{path}/gpkg", s.renderView)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("mock request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get(headerAPIKey)
		switch {
		case apiKey == "":
			writeDetail(w, http.StatusUnauthorized, "No API key")
		case apiKey != s.apiKey:
			writeDetail(w, http.StatusUnauthorized, "Invalid API key")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// writes rejects requests without a known write context. The meta is passed
// to h.
func (s *Server) writes(h func(http.ResponseWriter, *http.Request, gerrydb.ObjectMeta)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerMetaID)
		if id == "" {
			writeDetail(w, http.StatusBadRequest, "Write operations require a meta ID (X-GerryDB-Meta-ID header)")
			return
		}
		s.mu.Lock()
		meta, ok := s.metas[id]
		s.mu.Unlock()
		if !ok {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Unknown meta ID %q", id))
			return
		}
		h(w, r, meta)
	}
}

func (s *Server) createMeta(w http.ResponseWriter, r *http.Request) {
	var in gerrydb.ObjectMetaCreate
	if !decode(w, r, schema.MetaCreate, &in) {
		return
	}
	meta := gerrydb.ObjectMeta{
		UUID:      uuid.NewString(),
		Notes:     in.Notes,
		CreatedAt: s.now(),
		CreatedBy: creator,
	}
	s.mu.Lock()
	s.metas[meta.UUID] = meta
	s.mu.Unlock()
	respond(w, r, http.StatusCreated, meta, "")
}

// bump advances the global version and marks collection as changed. It
// returns the new object ETag. Callers hold s.mu.
func (s *Server) bump(collection string) string {
	s.seq++
	s.colls[collection] = s.seq
	return strconv.FormatUint(s.seq, 10)
}

func (s *Server) collectionETag(collection string) string {
	return fmt.Sprintf("%s-%d", strings.ReplaceAll(collection, "/", "."), s.colls[collection])
}

// decode reads the request body by Content-Type, validates it against name
// and decodes it into out. Failures are answered with 400 or 422.
func decode(w http.ResponseWriter, r *http.Request, name schema.Name, out any) bool {
	body, err := httpx.ReadAllAndClose(r.Body)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "unreadable body")
		return false
	}
	ct := r.Header.Get("Content-Type")
	doc, err := gerryapi.Generic(ct, body)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return false
	}
	if name != "" {
		if err := schema.Validate(name, doc); err != nil {
			writeValidation(w, err)
			return false
		}
	}
	if err := gerryapi.Unmarshal(ct, body, out); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return false
	}
	return true
}

// respond encodes v per the Accept header. GETs with a matching
// If-None-Match get 304.
func respond(w http.ResponseWriter, r *http.Request, status int, v any, etag string) {
	if etag != "" {
		w.Header().Set("ETag", gerryapi.QuoteETag(etag))
		if r.Method == http.MethodGet && ifNoneMatch(r) == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	ct := httpx.ContentTypeJSON
	if httpx.MediaType(r.Header.Get("Accept")) == httpx.ContentTypeMsgPack {
		ct = httpx.ContentTypeMsgPack
	}
	data, err := gerryapi.Marshal(ct, v)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func ifNoneMatch(r *http.Request) string {
	return strings.Trim(strings.TrimPrefix(r.Header.Get("If-None-Match"), "W/"), `"`)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{"detail": detail})
}

func writeValidation(w http.ResponseWriter, err error) {
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || len(apiErr.Issues) == 0 {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	details := make([]map[string]any, 0, len(apiErr.Issues))
	for _, iss := range apiErr.Issues {
		loc := []any{"body"}
		if iss.Field != "" {
			for _, part := range strings.Split(iss.Field, ".") {
				loc = append(loc, part)
			}
		}
		details = append(details, map[string]any{"loc": loc, "msg": iss.Message, "type": "value_error"})
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := httpx.JSONBody(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", httpx.ContentTypeJSON)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func param(r *http.Request, name string) string {
	return strings.ToLower(strings.TrimSpace(chi.URLParam(r, name)))
}

func key(parts ...string) string { return strings.Join(parts, "/") }

func fullPath(ns, path string) string { return "/" + ns + "/" + path }

// splitFull parses /ns/path; relative paths are qualified with ns.
func splitFull(ns, p string) (string, string) {
	p = strings.ToLower(strings.TrimSpace(p))
	if !strings.HasPrefix(p, "/") {
		return ns, strings.Trim(p, "/")
	}
	first, rest, _ := strings.Cut(strings.TrimPrefix(p, "/"), "/")
	return first, strings.Trim(rest, "/")
}

// decodeEach is decode for list bodies; each item is validated against name.
func decodeEach(w http.ResponseWriter, r *http.Request, name schema.Name, out any) bool {
	body, err := httpx.ReadAllAndClose(r.Body)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "unreadable body")
		return false
	}
	ct := r.Header.Get("Content-Type")
	doc, err := gerryapi.Generic(ct, body)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return false
	}
	if err := schema.ValidateEach(name, doc); err != nil {
		writeValidation(w, err)
		return false
	}
	if err := gerryapi.Unmarshal(ct, body, out); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return false
	}
	return true
}
