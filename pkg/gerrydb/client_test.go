package gerrydb_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
	"github.com/mggg/gerrydb_sdk_go/pkg/geo"
	"github.com/mggg/gerrydb_sdk_go/pkg/gerrydb"
	"github.com/mggg/gerrydb_sdk_go/pkg/gerrydb/mock"
)

// hits records the status of every request served by the mock.
type hits struct {
	mu  sync.Mutex
	log []string
}

func (h *hits) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.mu.Lock()
		h.log = append(h.log, r.Method+" "+strings.TrimPrefix(r.URL.Path, "/api/v1/")+" "+http.StatusText(rec.status))
		h.mu.Unlock()
	})
}

func (h *hits) last() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.log) == 0 {
		return ""
	}
	return h.log[len(h.log)-1]
}

func (h *hits) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.log)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

type env struct {
	srv  *mock.Server
	ts   *httptest.Server
	hits *hits
	db   *gerrydb.Client
}

func newEnv(t *testing.T, opts ...gerrydb.Option) *env {
	t.Helper()
	srv := mock.NewServer(mock.WithAPIKey("secret"))
	h := &hits{}
	ts := httptest.NewServer(h.wrap(srv))
	t.Cleanup(ts.Close)

	db, err := gerrydb.New(ts.URL, "secret", append([]gerrydb.Option{gerrydb.WithNamespace("census")}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &env{srv: srv, ts: ts, hits: h, db: db}
}

func ptr[T any](v T) *T { return &v }

// seed creates a namespace, a locality, a layer and two block geographies.
func seed(t *testing.T, ctx context.Context, wc *gerrydb.WriteContext) {
	t.Helper()
	_, err := wc.Namespaces().Create(ctx, "census", "Census data", true)
	require.NoError(t, err)
	_, err = wc.Localities().Create(ctx, gerrydb.LocalityCreate{CanonicalPath: "maine", Name: "Maine", Aliases: []string{"23", "ME"}})
	require.NoError(t, err)
	_, err = wc.GeoLayers().Create(ctx, "", gerrydb.GeoLayerCreate{Path: "blocks", Description: ptr("2020 blocks")})
	require.NoError(t, err)

	pt := orb.Point{-69.5, 45.5}
	_, err = wc.Geographies().Create(ctx, "", []geo.Record{
		{Path: "A", Geometry: orb.Polygon{{{-70, 45}, {-69, 45}, {-69, 46}, {-70, 45}}}, InternalPoint: &pt},
		{Path: "b"},
	})
	require.NoError(t, err)
	require.NoError(t, wc.GeoLayers().MapLocality(ctx, "", "blocks", "maine", []string{"a", "/census/b"}))
}

func TestNewRequiresHostAndKey(t *testing.T) {
	_, err := gerrydb.New("", "key")
	require.ErrorIs(t, err, apierr.ErrConfig)
	_, err = gerrydb.New("localhost:8000", " ")
	require.ErrorIs(t, err, apierr.ErrConfig)
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"localhost:8000", "http://localhost:8000/api/v1"},
		{"gerrydb.example.org", "https://gerrydb.example.org/api/v1"},
		{"https://gerrydb.example.org/", "https://gerrydb.example.org/api/v1"},
		{"http://127.0.0.1:9000/api/v1", "http://127.0.0.1:9000/api/v1"},
	}
	for _, tc := range tests {
		t.Run(tc.host, func(t *testing.T) {
			assert.Equal(t, tc.want, gerrydb.BaseURL(tc.host))
		})
	}
}

func TestWrongAPIKeyIsAuthError(t *testing.T) {
	e := newEnv(t)
	db, err := gerrydb.New(e.ts.URL, "wrong")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Namespaces().All(context.Background())
	require.ErrorIs(t, err, apierr.ErrAuth)
	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Invalid API key", apiErr.Detail)
}

func TestWorkflowInBothWireFormats(t *testing.T) {
	for _, format := range []geo.Format{geo.JSON, geo.MsgPack} {
		t.Run(format.String(), func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t, gerrydb.WithWireFormat(format))
			wc, err := e.db.Context(ctx, "workflow test")
			require.NoError(t, err)
			require.NotEmpty(t, wc.Meta.UUID)
			seed(t, ctx, wc)

			namespaces, err := e.db.Namespaces().All(ctx)
			require.NoError(t, err)
			require.Len(t, namespaces, 1)
			assert.Equal(t, wc.Meta.UUID, namespaces[0].Meta.UUID)

			loc, err := e.db.Localities().Get(ctx, "me")
			require.NoError(t, err)
			assert.Equal(t, "maine", loc.CanonicalPath)

			paths, err := e.db.Geographies().AllPaths(ctx, "", "23", "blocks")
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, paths)

			g, err := e.db.Geographies().Get(ctx, "", "/census/a")
			require.NoError(t, err)
			rec, err := g.Record()
			require.NoError(t, err)
			assert.Equal(t, orb.Polygon{{{-70, 45}, {-69, 45}, {-69, 46}, {-70, 45}}}, rec.Geometry)
			require.NotNil(t, rec.InternalPoint)
			assert.Equal(t, orb.Point{-69.5, 45.5}, *rec.InternalPoint)

			col, err := wc.Columns().Create(ctx, "", gerrydb.ColumnCreate{
				CanonicalPath: "Total_Pop",
				Description:   "Total population",
				Kind:          gerrydb.ColumnKindCount,
				Type:          gerrydb.ColumnTypeInt,
				Aliases:       []string{"totpop"},
			})
			require.NoError(t, err)
			assert.Equal(t, "/census/total_pop", col.FullPath())
			require.NoError(t, wc.Columns().SetValues(ctx, "", "totpop", map[string]any{"a": 12, "/census/b": nil}))
			values := e.srv.Values("census", "total_pop")
			assert.Len(t, values, 2)
			assert.EqualValues(t, 12, values["/census/a"])
			assert.Nil(t, values["/census/b"])

			col, err = wc.Columns().Update(ctx, "", "total_pop", []string{"P0010001"})
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"totpop", "p0010001"}, col.Aliases)

			set, err := wc.ColumnSets().Create(ctx, "", "pops", []string{"totpop", "/census/total_pop"}, "Population")
			require.NoError(t, err)
			assert.Len(t, set.Columns, 2)

			tmpl, err := wc.ViewTemplates().Create(ctx, "", "basic", []string{"pops", "/census/total_pop"}, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"/census/pops", "/census/total_pop"}, tmpl.Members)

			graph, err := wc.Graphs().Create(ctx, "", gerrydb.GraphCreate{
				Path: "dual", Locality: "maine", Layer: "blocks",
				Edges: []gerrydb.GraphEdge{{Path1: "a", Path2: "b", Weights: map[string]any{"length": 1.5}}},
			})
			require.NoError(t, err)
			require.Len(t, graph.Edges, 1)

			plan, err := wc.Plans().Create(ctx, "", gerrydb.PlanCreate{
				Path: "districts", Locality: "maine", Layer: "blocks",
				Assignments: map[string]*string{"a": ptr("1"), "b": ptr("2")},
			})
			require.NoError(t, err)
			assert.Equal(t, 2, plan.NumDistricts)
			assert.True(t, plan.Complete)

			view, err := wc.Views().Create(ctx, "", gerrydb.ViewCreate{
				Path: "maine_blocks", Template: "basic", Locality: "maine", Layer: "blocks", Graph: ptr("dual"),
			})
			require.NoError(t, err)
			assert.Equal(t, "/census/basic", view.Template)

			var buf bytes.Buffer
			n, err := e.db.Views().Render(ctx, "", "maine_blocks", &buf)
			require.NoError(t, err)
			assert.Equal(t, int64(buf.Len()), n)
			assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte(mock.GeoPackageMagic)))

			plans, err := e.db.Plans().All(ctx, "")
			require.NoError(t, err)
			require.Len(t, plans, 1)
			graphs, err := e.db.Graphs().All(ctx, "")
			require.NoError(t, err)
			require.Len(t, graphs, 1)
			views, err := e.db.Views().All(ctx, "")
			require.NoError(t, err)
			require.Len(t, views, 1)
		})
	}
}

func TestWritesNeedWriteContext(t *testing.T) {
	e := newEnv(t)
	_, err := e.db.Namespaces().Create(context.Background(), "census", "", true)
	require.ErrorIs(t, err, apierr.ErrRequest)
	assert.Zero(t, e.hits.count())
}

func TestInvalidPayloadRejectedBeforeSending(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	wc, err := e.db.Context(ctx, "")
	require.NoError(t, err)
	before := e.hits.count()

	_, err = wc.Columns().Create(ctx, "", gerrydb.ColumnCreate{CanonicalPath: "x", Kind: "nonsense", Type: gerrydb.ColumnTypeInt})
	require.ErrorIs(t, err, apierr.ErrValidation)
	assert.Contains(t, err.Error(), "rejected before sending")
	assert.Equal(t, before, e.hits.count())
}

func TestServerErrorsMapToKinds(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	wc, err := e.db.Context(ctx, "")
	require.NoError(t, err)

	_, err = e.db.Namespaces().Get(ctx, "missing")
	require.ErrorIs(t, err, apierr.ErrNotFound)

	_, err = wc.Namespaces().Create(ctx, "census", "", true)
	require.NoError(t, err)
	_, err = wc.Namespaces().Create(ctx, "census", "", true)
	require.ErrorIs(t, err, apierr.ErrRequest)
	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Contains(t, apiErr.Detail, "already exists")

	err = e.db.Request(ctx, http.MethodPost, "namespaces/", map[string]any{"path": "x"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrRequest, "write without meta is a 400")
}

func TestConditionalGetServesCache(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	wc, err := e.db.Context(ctx, "")
	require.NoError(t, err)
	seed(t, ctx, wc)

	_, err = e.db.GeoLayers().Get(ctx, "", "blocks")
	require.NoError(t, err)
	assert.Equal(t, "GET layers/census/blocks Not Modified", e.hits.last())

	all, err := e.db.GeoLayers().All(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "GET layers/census OK", e.hits.last())
	all, err = e.db.GeoLayers().All(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "blocks", all[0].Path)
	assert.Equal(t, "GET layers/census Not Modified", e.hits.last())
}

func TestOfflineServesCachedReadsOnly(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	wc, err := e.db.Context(ctx, "")
	require.NoError(t, err)
	seed(t, ctx, wc)
	_, err = e.db.Namespaces().All(ctx)
	require.NoError(t, err)

	offline, err := gerrydb.New(e.ts.URL, "secret",
		gerrydb.WithNamespace("census"), gerrydb.WithOffline(true), gerrydb.WithCacheHandle(e.db.Cache()))
	require.NoError(t, err)
	defer offline.Close()
	before := e.hits.count()

	ns, err := offline.Namespaces().Get(ctx, "census")
	require.NoError(t, err)
	assert.Equal(t, "Census data", ns.Description)
	all, err := offline.Namespaces().All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	g, err := offline.Geographies().Get(ctx, "", "b")
	require.NoError(t, err)
	assert.Empty(t, g.Geography)

	_, err = offline.Plans().All(ctx, "")
	require.ErrorIs(t, err, apierr.ErrOffline)
	_, err = offline.Columns().Get(ctx, "", "unknown")
	require.ErrorIs(t, err, apierr.ErrOffline)
	_, err = offline.Context(ctx, "")
	require.ErrorIs(t, err, apierr.ErrOffline)
	assert.Equal(t, before, e.hits.count())
}

func TestSchemaMismatchedResponseIsValidationError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"path": 5, "public": "yes"}`))
	}))
	defer ts.Close()
	db, err := gerrydb.New(ts.URL, "key")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Namespaces().Get(context.Background(), "census")
	require.ErrorIs(t, err, apierr.ErrValidation)
	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusOK, apiErr.StatusCode)
	assert.NotEmpty(t, apiErr.Issues)
}

func TestUndecodableResponseIsValidationError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer ts.Close()
	db, err := gerrydb.New(ts.URL, "key")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Namespaces().All(context.Background())
	require.ErrorIs(t, err, apierr.ErrValidation)
	var out any
	err = db.Request(context.Background(), http.MethodGet, "namespaces/", nil, &out)
	require.ErrorIs(t, err, apierr.ErrValidation)
}

func TestColumnValuesAreTypeChecked(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	wc, err := e.db.Context(ctx, "")
	require.NoError(t, err)
	seed(t, ctx, wc)
	_, err = wc.Columns().Create(ctx, "", gerrydb.ColumnCreate{CanonicalPath: "vap", Kind: gerrydb.ColumnKindCount, Type: gerrydb.ColumnTypeInt})
	require.NoError(t, err)

	err = wc.Columns().SetValues(ctx, "", "vap", map[string]any{"a": "twelve", "b": 1.5})
	require.ErrorIs(t, err, apierr.ErrValidation)
	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Len(t, apiErr.Issues, 2)
	assert.Empty(t, e.srv.Values("census", "vap"))
}

func TestColumnSetColumnsShareNamespace(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	wc, err := e.db.Context(ctx, "")
	require.NoError(t, err)
	_, err = wc.ColumnSets().Create(ctx, "", "mixed", []string{"/other/total_pop"}, "")
	require.ErrorIs(t, err, apierr.ErrRequest)
	assert.Contains(t, err.Error(), "same namespace")
}

func TestNamespaceResolution(t *testing.T) {
	srv := mock.NewServer()
	ts := httptest.NewServer(srv)
	defer ts.Close()
	db, err := gerrydb.New(ts.URL, mock.DefaultAPIKey)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Columns().All(context.Background(), "")
	require.ErrorIs(t, err, apierr.ErrRequest)
	assert.Contains(t, err.Error(), "no namespace available")

	_, err = db.Columns().Get(context.Background(), "census", "/other/x")
	require.ErrorIs(t, err, apierr.ErrRequest)
}

func TestGeographyVersions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	srv := mock.NewServer(mock.WithAPIKey("secret"), mock.WithClock(clock))
	ts := httptest.NewServer(srv)
	defer ts.Close()
	db, err := gerrydb.New(ts.URL, "secret", gerrydb.WithNamespace("census"))
	require.NoError(t, err)
	defer db.Close()

	wc, err := db.Context(ctx, "")
	require.NoError(t, err)
	_, err = wc.Namespaces().Create(ctx, "census", "", true)
	require.NoError(t, err)
	_, err = wc.Geographies().Create(ctx, "", []geo.Record{{Path: "a", Geometry: orb.Point{-70, 45}}})
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(24 * time.Hour)
	mu.Unlock()
	updated, err := wc.Geographies().Update(ctx, "", []geo.Record{{Path: "a", Geometry: orb.Point{-71, 44}}})
	require.NoError(t, err)
	require.Len(t, updated, 1)

	_, err = wc.Geographies().Update(ctx, "", []geo.Record{{Path: "missing"}})
	require.ErrorIs(t, err, apierr.ErrNotFound)

	first, err := db.Geographies().GetAt(ctx, "", "a", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	shape, err := first.Shape()
	require.NoError(t, err)
	assert.Equal(t, orb.Point{-70, 45}, shape)

	latest, err := db.Geographies().Get(ctx, "", "a")
	require.NoError(t, err)
	shape, err = latest.Shape()
	require.NoError(t, err)
	assert.Equal(t, orb.Point{-71, 44}, shape)

	_, err = db.Geographies().GetAt(ctx, "", "a", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, apierr.ErrNotFound)
}

func TestLocalityAliases(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	wc, err := e.db.Context(ctx, "")
	require.NoError(t, err)
	_, err = wc.Localities().Create(ctx, gerrydb.LocalityCreate{CanonicalPath: "maine", Name: "Maine"})
	require.NoError(t, err)

	loc, err := wc.Localities().Update(ctx, "maine", []string{"ME", "23"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"me", "23"}, loc.Aliases)

	byAlias, err := e.db.Localities().Get(ctx, "23")
	require.NoError(t, err)
	assert.Equal(t, "maine", byAlias.CanonicalPath)

	_, err = e.db.Localities().Update(ctx, "maine", []string{"x"})
	require.ErrorIs(t, err, apierr.ErrRequest)
}

func TestRetryPolicy(t *testing.T) {
	srv := mock.NewServer(mock.WithAPIKey("secret"))
	var failures atomic.Int32
	failures.Store(2)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failures.Add(-1) >= 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"detail":"warming up"}`))
			return
		}
		srv.ServeHTTP(w, r)
	}))
	defer ts.Close()

	once, err := gerrydb.New(ts.URL, "secret")
	require.NoError(t, err)
	defer once.Close()
	_, err = once.Namespaces().All(context.Background())
	require.ErrorIs(t, err, apierr.ErrServer)
	var apiErr *apierr.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "warming up", apiErr.Detail)

	failures.Store(2)
	retrying, err := gerrydb.New(ts.URL, "secret", gerrydb.WithRetryPolicy(gerrydb.RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   2 * time.Millisecond,
	}))
	require.NoError(t, err)
	defer retrying.Close()
	namespaces, err := retrying.Namespaces().All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, namespaces)
}

func TestRequestHeaders(t *testing.T) {
	var got http.Header
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	db, err := gerrydb.New(ts.URL, "key", gerrydb.WithUserAgent("loader/1.0"), gerrydb.WithWireFormat(geo.MsgPack))
	require.NoError(t, err)
	defer db.Close()
	var out []any
	require.NoError(t, db.Request(context.Background(), http.MethodGet, "namespaces/", nil, &out))
	assert.Equal(t, "loader/1.0", got.Get("User-Agent"))
	assert.Equal(t, "key", got.Get("X-API-Key"))
	assert.Equal(t, "application/msgpack", got.Get("Accept"))
	assert.Empty(t, got.Get("X-GerryDB-Meta-ID"))
}

func TestNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	db, err := gerrydb.New(url, "key", gerrydb.WithTimeout(time.Second))
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Namespaces().All(context.Background())
	require.ErrorIs(t, err, apierr.ErrNetwork)
}

func TestWriteContextAfterCloseReportsCacheError(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	wc, err := e.db.Context(ctx, "closing")
	require.NoError(t, err)
	require.NoError(t, e.db.Close())

	_, err = wc.Namespaces().Get(ctx, "census")
	require.ErrorIs(t, err, apierr.ErrCache)
	assert.Contains(t, err.Error(), "cache closed")
}
