package gerrydb

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/mggg/gerrydb_sdk_go/pkg/apierr"
)

// DefaultRootDir is the configuration directory under the home directory.
const DefaultRootDir = ".gerrydb"

// Profile is one table of the configuration file.
type Profile struct {
	Name      string `mapstructure:"-"`
	Host      string `mapstructure:"host"`
	Key       string `mapstructure:"key"`
	Namespace string `mapstructure:"namespace"`
}

// RootDir returns GERRYDB_ROOT or ~/.gerrydb.
func RootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv("GERRYDB_ROOT")); root != "" {
		return root, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", apierr.ConfigWrap(err, "locate home directory")
	}
	return filepath.Join(home, DefaultRootDir), nil
}

// LoadProfile reads profile from the TOML file root/config.
func LoadProfile(root, profile string) (Profile, error) {
	path := filepath.Join(root, "config")
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		var parseErr viper.ConfigParseError
		if errors.As(err, &parseErr) {
			return Profile{}, apierr.ConfigWrap(err, "failed to parse configuration at %s", path)
		}
		return Profile{}, apierr.ConfigWrap(err, "failed to read configuration at %s; does a GerryDB configuration directory exist?", path)
	}
	sub := v.Sub(profile)
	if sub == nil {
		return Profile{}, apierr.Config("profile %q not found in configuration at %s", profile, path)
	}
	var p Profile
	if err := sub.Unmarshal(&p); err != nil {
		return Profile{}, apierr.ConfigWrap(err, "invalid profile %q in configuration at %s", profile, path)
	}
	for field, value := range map[string]string{"host": p.Host, "key": p.Key} {
		if strings.TrimSpace(value) == "" {
			return Profile{}, apierr.Config("field %q not in profile %q in configuration at %s", field, profile, path)
		}
	}
	p.Name = profile
	return p, nil
}

// NewFromProfile creates a client from a configuration profile. An empty
// profile means GERRYDB_PROFILE, or "default". The cache lives at
// caches/{profile}.db under the configuration directory unless an option
// overrides it.
func NewFromProfile(profile string, opts ...Option) (*Client, error) {
	if profile == "" {
		profile = strings.TrimSpace(os.Getenv("GERRYDB_PROFILE"))
	}
	return newFromProfile("", profile, opts...)
}

func newFromProfile(root, profile string, opts ...Option) (*Client, error) {
	if profile == "" {
		profile = "default"
	}
	if root == "" {
		var err error
		if root, err = RootDir(); err != nil {
			return nil, err
		}
	}
	p, err := LoadProfile(root, profile)
	if err != nil {
		return nil, err
	}
	base := []Option{WithCache(filepath.Join(root, "caches", profile+".db"))}
	if p.Namespace != "" {
		base = append(base, WithNamespace(p.Namespace))
	}
	return New(p.Host, p.Key, append(base, opts...)...)
}
