package gerrydb

import (
	"strings"

	"github.com/kelseyhightower/envconfig"

	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
)

// EnvConfig is the GERRYDB_* environment.
type EnvConfig struct {
	// DatabaseURI is consumed by the backend under test, not by the client.
	DatabaseURI string `envconfig:"DATABASE_URI"`
	TestServer  string `envconfig:"TEST_SERVER"`
	TestAPIKey  string `envconfig:"TEST_API_KEY"`
	Host        string `envconfig:"HOST"`
	Key         string `envconfig:"KEY"`
	Namespace   string `envconfig:"NAMESPACE"`
	Profile     string `envconfig:"PROFILE" default:"default"`
	Root        string `envconfig:"ROOT"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
}

// LoadEnv reads the GERRYDB_* environment.
func LoadEnv() (EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Process("gerrydb", &cfg); err != nil {
		return EnvConfig{}, apierr.ConfigWrap(err, "read environment")
	}
	return cfg, nil
}

// Credentials returns the host and key from the environment, preferring the
// GERRYDB_TEST_* pair. ok is false when neither pair is set.
func (e EnvConfig) Credentials() (host, key string, ok bool, err error) {
	for _, pair := range [][4]string{
		{e.TestServer, e.TestAPIKey, "GERRYDB_TEST_SERVER", "GERRYDB_TEST_API_KEY"},
		{e.Host, e.Key, "GERRYDB_HOST", "GERRYDB_KEY"},
	} {
		h, k := strings.TrimSpace(pair[0]), strings.TrimSpace(pair[1])
		switch {
		case h != "" && k != "":
			return h, k, true, nil
		case h != "":
			return "", "", false, apierr.Config("%s is set but %s is not", pair[2], pair[3])
		case k != "":
			return "", "", false, apierr.Config("%s is set but %s is not", pair[3], pair[2])
		}
	}
	return "", "", false, nil
}

// NewFromEnv creates a client from GERRYDB_TEST_SERVER and
// GERRYDB_TEST_API_KEY, or GERRYDB_HOST and GERRYDB_KEY, falling back to the
// profile named by GERRYDB_PROFILE. GERRYDB_NAMESPACE and GERRYDB_LOG_LEVEL
// apply in both cases; explicit options take precedence.
func NewFromEnv(opts ...Option) (*Client, error) {
	env, err := LoadEnv()
	if err != nil {
		return nil, err
	}
	var base []Option
	if env.Namespace != "" {
		base = append(base, WithNamespace(env.Namespace))
	}
	if env.LogLevel != "" {
		base = append(base, WithLogger(NewLogger(env.LogLevel)))
	}
	opts = append(base, opts...)

	host, key, ok, err := env.Credentials()
	if err != nil {
		return nil, err
	}
	if ok {
		return New(host, key, opts...)
	}
	return newFromProfile(env.Root, env.Profile, opts...)
}
