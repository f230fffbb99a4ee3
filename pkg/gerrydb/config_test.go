package gerrydb_test

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
	"github.com/mggg/gerrydb_sdk_go/pkg/gerrydb"
	"github.com/mggg/gerrydb_sdk_go/pkg/gerrydb/mock"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"GERRYDB_TEST_SERVER", "GERRYDB_TEST_API_KEY", "GERRYDB_HOST", "GERRYDB_KEY",
		"GERRYDB_NAMESPACE", "GERRYDB_PROFILE", "GERRYDB_ROOT", "GERRYDB_LOG_LEVEL",
	} {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "config"), []byte(body), 0o600))
	return root
}

func TestCredentials(t *testing.T) {
	tests := []struct {
		name    string
		env     gerrydb.EnvConfig
		host    string
		ok      bool
		wantErr bool
	}{
		{name: "none", env: gerrydb.EnvConfig{}},
		{name: "host pair", env: gerrydb.EnvConfig{Host: "h", Key: "k"}, host: "h", ok: true},
		{name: "test pair wins", env: gerrydb.EnvConfig{TestServer: "t", TestAPIKey: "tk", Host: "h", Key: "k"}, host: "t", ok: true},
		{name: "host without key", env: gerrydb.EnvConfig{Host: "h"}, wantErr: true},
		{name: "test key without server", env: gerrydb.EnvConfig{TestAPIKey: "tk", Host: "h", Key: "k"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			host, _, ok, err := tc.env.Credentials()
			if tc.wantErr {
				require.ErrorIs(t, err, apierr.ErrConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.host, host)
		})
	}
}

func TestNewFromEnv(t *testing.T) {
	ts := httptest.NewServer(mock.NewServer())
	defer ts.Close()

	t.Run("host and key", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GERRYDB_HOST", ts.URL)
		t.Setenv("GERRYDB_KEY", mock.DefaultAPIKey)
		t.Setenv("GERRYDB_NAMESPACE", "census")
		t.Setenv("GERRYDB_LOG_LEVEL", "debug")
		db, err := gerrydb.NewFromEnv()
		require.NoError(t, err)
		defer db.Close()
		assert.Equal(t, "census", db.Namespace())
		assert.Equal(t, ts.URL+"/api/v1", db.BaseURL())
		_, err = db.Namespaces().All(context.Background())
		require.NoError(t, err)
	})

	t.Run("explicit options win", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GERRYDB_HOST", ts.URL)
		t.Setenv("GERRYDB_KEY", mock.DefaultAPIKey)
		t.Setenv("GERRYDB_NAMESPACE", "census")
		db, err := gerrydb.NewFromEnv(gerrydb.WithNamespace("other"))
		require.NoError(t, err)
		defer db.Close()
		assert.Equal(t, "other", db.Namespace())
	})

	t.Run("host without key", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GERRYDB_HOST", ts.URL)
		_, err := gerrydb.NewFromEnv()
		require.ErrorIs(t, err, apierr.ErrConfig)
		assert.Contains(t, err.Error(), "GERRYDB_KEY")
	})

	t.Run("falls back to profile", func(t *testing.T) {
		clearEnv(t)
		root := writeConfig(t, "[default]\nhost = \""+ts.URL+"\"\nkey = \""+mock.DefaultAPIKey+"\"\nnamespace = \"census\"\n")
		t.Setenv("GERRYDB_ROOT", root)
		db, err := gerrydb.NewFromEnv()
		require.NoError(t, err)
		defer db.Close()
		assert.Equal(t, "census", db.Namespace())
		assert.Equal(t, filepath.Join(root, "caches", "default.db"), db.Cache().Path())
	})
}

func TestLoadProfile(t *testing.T) {
	root := writeConfig(t, `
[default]
host = "localhost:8000"
key = "abc"

[prod]
host = "gerrydb.example.org"
key = "xyz"
namespace = "census"

[broken]
host = "localhost:8000"
`)

	p, err := gerrydb.LoadProfile(root, "prod")
	require.NoError(t, err)
	assert.Equal(t, gerrydb.Profile{Name: "prod", Host: "gerrydb.example.org", Key: "xyz", Namespace: "census"}, p)

	_, err = gerrydb.LoadProfile(root, "staging")
	require.ErrorIs(t, err, apierr.ErrConfig)
	assert.Contains(t, err.Error(), `profile "staging" not found`)

	_, err = gerrydb.LoadProfile(root, "broken")
	require.ErrorIs(t, err, apierr.ErrConfig)
	assert.Contains(t, err.Error(), `field "key"`)

	_, err = gerrydb.LoadProfile(t.TempDir(), "default")
	require.ErrorIs(t, err, apierr.ErrConfig)
	assert.Contains(t, err.Error(), "does a GerryDB configuration directory exist?")

	bad := writeConfig(t, "[default\nhost = ")
	_, err = gerrydb.LoadProfile(bad, "default")
	require.ErrorIs(t, err, apierr.ErrConfig)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestNewFromProfile(t *testing.T) {
	ts := httptest.NewServer(mock.NewServer())
	defer ts.Close()
	clearEnv(t)
	root := writeConfig(t, "[local]\nhost = \""+ts.URL+"\"\nkey = \""+mock.DefaultAPIKey+"\"\n")
	t.Setenv("GERRYDB_ROOT", root)

	_, err := gerrydb.NewFromProfile("")
	require.ErrorIs(t, err, apierr.ErrConfig)

	t.Setenv("GERRYDB_PROFILE", "local")
	db, err := gerrydb.NewFromProfile("")
	require.NoError(t, err)
	defer db.Close()
	assert.Empty(t, db.Namespace())
	assert.FileExists(t, filepath.Join(root, "caches", "local.db"))
}

func TestRootDir(t *testing.T) {
	t.Setenv("GERRYDB_ROOT", "/tmp/gerrydb-root")
	root, err := gerrydb.RootDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/gerrydb-root", root)
}
