package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFailConfig(t *testing.T) {
	cfg, err := parseFailConfig("")
	require.NoError(t, err)
	assert.Zero(t, cfg)

	cfg, err = parseFailConfig("rate=0.5, code=503")
	require.NoError(t, err)
	assert.Equal(t, failConfig{rate: 0.5, code: 503}, cfg)

	cfg, err = parseFailConfig("rate=1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, cfg.code)

	for _, bad := range []string{"rate", "rate=x", "code=abc", "speed=1", "rate=2"} {
		_, err := parseFailConfig(bad)
		assert.Error(t, err, bad)
	}
}

func TestMiddlewareInjectsFailures(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	withMiddleware(0, failConfig{rate: 1, code: http.StatusServiceUnavailable}, ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"detail":"failure injected"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	withMiddleware(0, failConfig{}, ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRootCommandFlags(t *testing.T) {
	t.Setenv("GERRYDB_SANDBOX_ADDR", "")
	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--addr", ":9999", "--latency", "5ms", "--fail", "rate=0.1"}))
	addr, err := cmd.Flags().GetString("addr")
	require.NoError(t, err)
	assert.Equal(t, ":9999", addr)
	key, err := cmd.Flags().GetString("api-key")
	require.NoError(t, err)
	assert.NotEmpty(t, key)
}
